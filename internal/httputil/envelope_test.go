package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/user_service/internal/config"
	"github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/logging"
)

func fixClock(t *testing.T) {
	t.Helper()
	orig := now
	now = func() time.Time {
		return time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("CET", 3600))
	}
	t.Cleanup(func() { now = orig })
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func newBufferedResponder(env config.Environment) (*Responder, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := logging.New("test", "debug", "json")
	logger.SetOutput(buf)
	return NewResponder(logger, env), buf
}

func TestNewEnvelope(t *testing.T) {
	fixClock(t)

	env := NewEnvelope(http.StatusOK, "ok", nil)
	assert.True(t, env.Success)
	assert.Equal(t, "2024-03-01T11:30:45.123Z", env.Timestamp)

	assert.True(t, NewEnvelope(http.StatusMultiStatus, "", nil).Success)
	assert.False(t, NewEnvelope(http.StatusBadRequest, "", nil).Success)
	assert.False(t, NewEnvelope(http.StatusServiceUnavailable, "", nil).Success)
}

func TestWriteJSON_NullData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, "ok", nil)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeEnvelope(t, rec)
	assert.Contains(t, body, "data")
	assert.Nil(t, body["data"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(200), body["statusCode"])
	assert.Equal(t, "ok", body["message"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestResponder_SuccessAndCreated(t *testing.T) {
	rs, _ := newBufferedResponder(config.EnvDevelopment)

	rec := httptest.NewRecorder()
	rs.Success(rec, "", map[string]string{"k": "v"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Success", decodeEnvelope(t, rec)["message"])

	rec = httptest.NewRecorder()
	rs.Created(rec, "User created", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "User created", decodeEnvelope(t, rec)["message"])
}

type signupRequest struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
}

func TestResponder_ValidationRoundTrip(t *testing.T) {
	rs, buf := newBufferedResponder(config.EnvDevelopment)
	verr := validator.New().Struct(signupRequest{Email: "not-an-email"})
	require.Error(t, verr)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	rs.Error(rec, req, verr)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(422), body["statusCode"])

	msg := body["message"].(string)
	parts := strings.Split(msg, errors.ValidationSeparator)
	assert.ElementsMatch(t, []string{"Name is required", "Email must be a valid email address"}, parts)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_FAILED", data["error"])
	assert.NotContains(t, data, "stack", "no stack for client errors")

	assert.Contains(t, buf.String(), `"level":"warning"`)
}

func TestResponder_ServerErrorDevelopment(t *testing.T) {
	rs, buf := newBufferedResponder(config.EnvDevelopment)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users?token=abc&page=2", nil)
	rs.Error(rec, req, fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "Internal server error", body["message"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "INTERNAL_ERROR", data["error"])
	assert.NotEmpty(t, data["stack"])

	logs := buf.String()
	assert.Contains(t, logs, `"level":"error"`)
	assert.Contains(t, logs, "[REDACTED]")
	assert.NotContains(t, logs, "abc")
}

func TestResponder_Production(t *testing.T) {
	rs, _ := newBufferedResponder(config.EnvProduction)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rs.Error(rec, req, errors.ServiceUnavailable("Mongo cluster rs0 down", nil).WithDetails("host", "db-1"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "Internal server error", body["message"])
	data := body["data"].(map[string]interface{})
	assert.NotContains(t, data, "stack")
	assert.NotContains(t, data, "details")

	rec = httptest.NewRecorder()
	rs.Error(rec, req, errors.NotFound("User not found"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decodeEnvelope(t, rec)["message"])
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"ada"}`, ""},
		{"empty", ``, "Request body is required"},
		{"malformed", `{"name":`, "Malformed JSON body"},
		{"wrong type", `{"name":1}`, "Malformed JSON body"},
		{"unknown field", `{"name":"ada","admin":true}`, "Unknown field admin"},
		{"trailing data", `{"name":"ada"}{}`, "Request body must contain a single JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "ada", dst.Name)
				return
			}
			se := errors.GetServiceError(err)
			require.NotNil(t, se)
			assert.Equal(t, http.StatusBadRequest, se.HTTPStatus)
			assert.Equal(t, tt.wantErr, se.Message)
		})
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	big := `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	var dst struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(httptest.NewRecorder(), req, &dst)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, "Request body too large", se.Message)
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	Unauthorized(rec, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "Unauthorized", body["message"])
	assert.Equal(t, "UNAUTHORIZED", body["data"].(map[string]interface{})["error"])
}
