package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/user_service/internal/logging"
)

const testSecret = "test-secret-key"

func generateTestToken(t *testing.T, secret, userID string, expired bool) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	tokenString, err := SignToken(secret, userID, "admin", claims)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not an envelope: %v (%s)", err, rec.Body.String())
	}
	if body.Success {
		t.Error("error envelope has success=true")
	}
	return body.Message
}

func TestNewAuthMiddleware(t *testing.T) {
	logger := logging.NewDiscard()
	middleware := NewAuthMiddleware(testSecret, logger, []string{"/health", "/health/metrics"})

	if middleware == nil {
		t.Fatal("NewAuthMiddleware() returned nil")
	}
	if string(middleware.secret) != testSecret {
		t.Error("secret not set correctly")
	}
	if len(middleware.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(middleware.skipPaths))
	}
	if !middleware.skipPaths["/health"] {
		t.Error("skipPaths does not contain /health")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, logging.NewDiscard(), []string{"/health"})
	handler := middleware.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_Rejections(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)
	handler := middleware.Handler(okHandler())

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name        string
		header      string
		wantMessage string
	}{
		{"missing header", "", "Missing Authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Invalid Authorization header format"},
		{"empty token", "Bearer ", "Invalid Authorization header format"},
		{"garbage token", "Bearer not.a.jwt", "Invalid token"},
		{"expired token", "Bearer " + generateTestToken(t, testSecret, "user-1", true), "Token expired"},
		{"wrong key", "Bearer " + generateTestToken(t, "other-secret", "user-1", false), "Invalid token"},
		{"wrong algorithm", "Bearer " + hs512, "Invalid token"},
		{"missing subject", "Bearer " + generateTestToken(t, testSecret, "", false), "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if got := decodeMessage(t, rec); got != tt.wantMessage {
				t.Errorf("message = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)

	var gotUserID, gotRole, gotTraceID string
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
		gotRole = logging.GetRole(r.Context())
		gotTraceID = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", false))
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-abc"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotUserID != "user-123" {
		t.Errorf("user id = %q, want user-123", gotUserID)
	}
	if gotRole != "admin" {
		t.Errorf("role = %q, want admin", gotRole)
	}
	if gotTraceID != "trace-abc" {
		t.Errorf("trace id = %q, want trace-abc", gotTraceID)
	}
}

func TestAuthMiddleware_Handler_PreflightPassesThrough(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, logging.NewDiscard(), nil)
	handler := middleware.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/users", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}
