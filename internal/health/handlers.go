package health

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/httputil"
	"github.com/R3E-Network/user_service/internal/metrics"
)

// Handler serves the /health endpoints.
type Handler struct {
	classifier *Classifier
	rs         *httputil.Responder
}

// NewHandler creates a Handler.
func NewHandler(c *Classifier, rs *httputil.Responder) *Handler {
	return &Handler{classifier: c, rs: rs}
}

// Register mounts the health routes on r.
func (h *Handler) Register(r *mux.Router) {
	sub := r.PathPrefix("/health").Subrouter()
	sub.HandleFunc("", h.basic).Methods(http.MethodGet)
	sub.HandleFunc("/detailed", h.detailed).Methods(http.MethodGet)
	sub.HandleFunc("/liveness", h.liveness).Methods(http.MethodGet)
	sub.HandleFunc("/readiness", h.readiness).Methods(http.MethodGet)
	sub.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

func (h *Handler) basic(w http.ResponseWriter, _ *http.Request) {
	h.rs.Success(w, "Service is running", h.classifier.Basic())
}

func (h *Handler) detailed(w http.ResponseWriter, r *http.Request) {
	report, err := h.classifier.Detailed(r.Context())
	if err != nil {
		h.rs.Error(w, r, errors.Internal("Health check failed", err))
		return
	}

	status := http.StatusOK
	if report.Status != StatusHealthy {
		status = http.StatusMultiStatus
	}
	httputil.WriteJSON(w, status, "Service is "+string(report.Status), report)
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	h.rs.Success(w, "Service is alive", h.classifier.Liveness())
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	ready := h.classifier.Readiness(r.Context())
	if !ready.Ready {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, "Service is not ready", ready)
		return
	}
	h.rs.Success(w, "Service is ready", ready)
}
