package users_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/user_service/internal/config"
	"github.com/R3E-Network/user_service/internal/httputil"
	"github.com/R3E-Network/user_service/internal/logging"
	"github.com/R3E-Network/user_service/internal/users"
)

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func newRouter(t *testing.T) *mux.Router {
	t.Helper()
	svc, _ := newService()
	h := users.NewHandler(svc, httputil.NewResponder(logging.NewDiscard(), config.EnvTest))
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestHandlers_CRUD(t *testing.T) {
	r := newRouter(t)

	code, env := do(t, r, http.MethodPost, "/api/v1/users",
		`{"name":"Grace Hopper","email":"grace@example.com","password":"cobol-rules"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, env.Success)
	assert.NotContains(t, string(env.Data), "password")

	var created struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Len(t, created.ID, 24)

	code, _ = do(t, r, http.MethodGet, "/api/v1/users/"+created.ID, "")
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodPatch, "/api/v1/users/"+created.ID, `{"name":"Rear Admiral Hopper"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "Rear Admiral Hopper")

	code, env = do(t, r, http.MethodGet, "/api/v1/users?limit=10", "")
	assert.Equal(t, http.StatusOK, code)
	var page users.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)

	code, _ = do(t, r, http.MethodDelete, "/api/v1/users/"+created.ID, "")
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/users/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Equal(t, "User not found", env.Message)
}

func TestHandlers_Errors(t *testing.T) {
	r := newRouter(t)

	tests := []struct {
		name, method, path, body string
		want                     int
		message                  string
	}{
		{"validation", http.MethodPost, "/api/v1/users", `{"name":"A","email":"x","password":"p"}`, http.StatusUnprocessableEntity, ""},
		{"malformed body", http.MethodPost, "/api/v1/users", `{"name":`, http.StatusBadRequest, "Malformed JSON body"},
		{"unknown field", http.MethodPost, "/api/v1/users", `{"isAdmin":true}`, http.StatusBadRequest, "Unknown field isAdmin"},
		{"invalid id", http.MethodGet, "/api/v1/users/123", "", http.StatusBadRequest, "Invalid id format"},
		{"bad limit", http.MethodGet, "/api/v1/users?limit=ten", "", http.StatusBadRequest, "limit must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.want, env.StatusCode)
			assert.False(t, env.Success)
			if tt.message != "" {
				assert.Equal(t, tt.message, env.Message)
			}
		})
	}
}

func TestHandlers_DuplicateEmail(t *testing.T) {
	r := newRouter(t)
	body := `{"name":"Grace Hopper","email":"grace@example.com","password":"cobol-rules"}`

	code, _ := do(t, r, http.MethodPost, "/api/v1/users", body)
	require.Equal(t, http.StatusCreated, code)

	code, env := do(t, r, http.MethodPost, "/api/v1/users", body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Duplicate value for field email", env.Message)
}
