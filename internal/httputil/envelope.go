// Package httputil provides the JSON response envelope shared by every
// endpoint, plus request decoding helpers.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/user_service/internal/errors"
)

// TimestampFormat is RFC 3339 with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// MaxBodyBytes limits the size of decoded request bodies.
const MaxBodyBytes = 1 << 20

// now is the envelope clock; tests replace it.
var now = time.Now

// Envelope is the body of every JSON response.
type Envelope struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data"`
	Timestamp  string      `json:"timestamp"`
}

// NewEnvelope builds an envelope; success is derived from the status code.
func NewEnvelope(status int, message string, data interface{}) Envelope {
	return Envelope{
		Success:    status < http.StatusBadRequest,
		StatusCode: status,
		Message:    message,
		Data:       data,
		Timestamp:  now().UTC().Format(TimestampFormat),
	}
}

// WriteJSON writes data wrapped in an envelope.
func WriteJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewEnvelope(status, message, data))
}

// WriteErrorResponse writes an error envelope without going through a
// Responder. Used by middleware that runs before handlers are reached.
func WriteErrorResponse(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	data := map[string]interface{}{"error": code}
	if len(details) > 0 {
		data["details"] = details
	}
	WriteJSON(w, status, message, data)
}

// WriteServiceError writes se as an error envelope carrying its code and
// details.
func WriteServiceError(w http.ResponseWriter, se *errors.ServiceError) {
	WriteErrorResponse(w, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// BadRequest writes a 400 envelope.
func BadRequest(w http.ResponseWriter, message string) {
	WriteServiceError(w, errors.BadRequest(message))
}

// Unauthorized writes a 401 envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteServiceError(w, errors.Unauthorized(message))
}

// NotFound writes a 404 envelope.
func NotFound(w http.ResponseWriter, message string) {
	WriteServiceError(w, errors.NotFound(message))
}

// DecodeJSON decodes a single JSON object from the request body into dst.
// Unknown fields and trailing data are rejected; the body is capped at
// MaxBodyBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.BadRequest("Request body is required")
	}
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New(errors.CodeBadRequest, "Request body must contain a single JSON object", err)
	}
	return nil
}

func decodeError(err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case stderrors.As(err, &maxErr):
		return errors.New(errors.CodeBadRequest, "Request body too large", err)
	case stderrors.Is(err, io.EOF):
		return errors.BadRequest("Request body is required")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return errors.New(errors.CodeBadRequest, "Unknown field "+field, err).WithDetails("field", field)
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return errors.New(errors.CodeBadRequest, "Malformed JSON body", err)
	}
	if se := errors.Normalize(err); !se.IsServerError() {
		return se
	}
	return errors.New(errors.CodeBadRequest, "Malformed JSON body", err)
}
