package httputil

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/user_service/internal/config"
	"github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/logging"
)

const productionServerMessage = "Internal server error"

// Responder writes envelopes and turns errors into error envelopes. How much
// of an error is exposed depends on the environment.
type Responder struct {
	logger *logging.Logger
	env    config.Environment
}

// NewResponder creates a Responder.
func NewResponder(logger *logging.Logger, env config.Environment) *Responder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Responder{logger: logger, env: env}
}

// Success writes a 200 envelope.
func (rs *Responder) Success(w http.ResponseWriter, message string, data interface{}) {
	if message == "" {
		message = "Success"
	}
	WriteJSON(w, http.StatusOK, message, data)
}

// Created writes a 201 envelope.
func (rs *Responder) Created(w http.ResponseWriter, message string, data interface{}) {
	if message == "" {
		message = "Resource created"
	}
	WriteJSON(w, http.StatusCreated, message, data)
}

// Error normalises err, logs it with the request context and writes the
// matching error envelope.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.Normalize(err)
	if se == nil {
		se = errors.Internal("", nil)
	}
	rs.log(r, se)

	message := se.Message
	data := map[string]interface{}{"error": string(se.Code)}

	if rs.env.IsProduction() {
		if se.IsServerError() {
			message = productionServerMessage
		}
		WriteJSON(w, se.HTTPStatus, message, data)
		return
	}

	if len(se.Details) > 0 {
		data["details"] = se.Details
	}
	if se.IsServerError() && se.Stack() != "" {
		data["stack"] = se.Stack()
	}
	WriteJSON(w, se.HTTPStatus, message, data)
}

func (rs *Responder) log(r *http.Request, se *errors.ServiceError) {
	entry := rs.logger.WithContext(r.Context()).WithFields(RequestFields(r)).
		WithFields(logrus.Fields{
			"status":      se.HTTPStatus,
			"code":        se.Code,
			"operational": se.Operational,
		})
	if se.Err != nil {
		entry = entry.WithError(se.Err)
	}
	if len(se.Details) > 0 {
		entry = entry.WithField("details", logging.Redact(se.Details))
	}

	if se.IsServerError() {
		entry.WithField("stack", se.Stack()).Error(se.Message)
		return
	}
	entry.Warn(se.Message)
}

// RequestFields returns the log fields describing r. Query values whose key
// looks like a credential are redacted.
func RequestFields(r *http.Request) logrus.Fields {
	fields := logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
	}
	if ua := r.UserAgent(); ua != "" {
		fields["user_agent"] = ua
	}
	if q := r.URL.Query(); len(q) > 0 {
		query := make(map[string]interface{}, len(q))
		for k, v := range q {
			if len(v) == 1 {
				query[k] = v[0]
			} else {
				query[k] = v
			}
		}
		fields["query"] = logging.Redact(query)
	}
	return fields
}
