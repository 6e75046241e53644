package users

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/httputil"
)

// Handler exposes the user operations over HTTP.
type Handler struct {
	svc *Service
	rs  *httputil.Responder
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, rs *httputil.Responder) *Handler {
	return &Handler{svc: svc, rs: rs}
}

// Register mounts the user routes under /api/v1/users and returns the
// subrouter so callers can attach middleware.
func (h *Handler) Register(r *mux.Router) *mux.Router {
	sub := r.PathPrefix("/api/v1/users").Subrouter()
	sub.HandleFunc("", h.create).Methods(http.MethodPost)
	sub.HandleFunc("", h.list).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.get).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", h.update).Methods(http.MethodPatch)
	sub.HandleFunc("/{id}", h.delete).Methods(http.MethodDelete)
	return sub
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	u, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Created(w, "User created", u)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}

	page, err := h.svc.List(r.Context(), ListOptions{Limit: limit, Skip: skip})
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Success(w, "Users retrieved", page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Success(w, "User retrieved", u)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	u, err := h.svc.Update(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Success(w, "User updated", u)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.rs.Error(w, r, err)
		return
	}
	h.rs.Success(w, "User deleted", nil)
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(errors.CodeBadRequest, key+" must be an integer", err).WithDetails("field", key)
	}
	return v, nil
}
