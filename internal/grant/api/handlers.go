package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paycore/internal/common/api"
	"paycore/internal/common/clock"
	"paycore/internal/common/middleware"
	"paycore/internal/common/money"
	"paycore/internal/grant"
)

// Handler handles grant HTTP requests
type Handler struct {
	service *grant.Service
	clock   clock.Clock
}

// NewHandler creates a new grant handler
func NewHandler(service *grant.Service, clk clock.Clock) *Handler {
	return &Handler{service: service, clock: clk}
}

// Routes returns the grant routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateGrant)
	r.Get("/", h.ListGrants)
	r.Get("/{id}", h.GetGrant)
	r.Post("/{id}/revoke", h.RevokeGrant)

	return r
}

// CreateGrantRequest is the API request for creating a grant.
// Limits are in minor units of Currency.
type CreateGrantRequest struct {
	ScopeMerchantID     string    `json:"scope_merchant_id" validate:"max=128"`
	Currency            string    `json:"currency" validate:"required,min=3,max=10"`
	PerTransactionLimit int64     `json:"per_transaction_limit" validate:"gt=0"`
	WindowLimit         int64     `json:"rolling_window_limit" validate:"gt=0"`
	WindowSeconds       int64     `json:"rolling_window_seconds" validate:"gt=0"`
	ExpiresAt           time.Time `json:"expires_at" validate:"required"`
}

// CreateGrant handles POST /grants
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req CreateGrantRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	currency := money.Currency(strings.ToUpper(req.Currency))
	g, err := h.service.Create(r.Context(), grant.CreateRequest{
		OwnerID:             ownerID,
		ScopeMerchantID:     req.ScopeMerchantID,
		PerTransactionLimit: money.New(req.PerTransactionLimit, currency),
		WindowLimit:         money.New(req.WindowLimit, currency),
		WindowDuration:      time.Duration(req.WindowSeconds) * time.Second,
		ExpiresAt:           req.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, grant.ErrAlreadyExists) {
			api.InternalError(w, "failed to create grant")
			return
		}
		api.ValidationError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, g.ViewAt(h.clock.Now()))
}

// ListGrants handles GET /grants
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	grants, err := h.service.ListByOwner(r.Context(), ownerID)
	if err != nil {
		api.InternalError(w, "failed to list grants")
		return
	}

	now := h.clock.Now()
	views := make([]grant.View, 0, len(grants))
	for _, g := range grants {
		views = append(views, g.ViewAt(now))
	}
	api.WriteData(w, http.StatusOK, views)
}

// GetGrant handles GET /grants/{id}
func (h *Handler) GetGrant(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, g.ViewAt(h.clock.Now()))
}

// RevokeGrant handles POST /grants/{id}/revoke
func (h *Handler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	g, err := h.service.Revoke(r.Context(), chi.URLParam(r, "id"), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, g.ViewAt(h.clock.Now()))
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grant.ErrNotFound):
		api.NotFound(w, "grant not found")
	default:
		api.InternalError(w, "grant operation failed")
	}
}
