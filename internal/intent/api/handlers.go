package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paycore/internal/common/api"
	"paycore/internal/common/middleware"
	"paycore/internal/common/money"
	"paycore/internal/grant"
	"paycore/internal/intent"
)

// Handler handles payment intent HTTP requests
type Handler struct {
	service *intent.Service
}

// NewHandler creates a new intent handler
func NewHandler(service *intent.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the intent routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateIntent)
	r.Get("/", h.ListIntents)
	r.Get("/{id}", h.GetIntent)

	// Lifecycle
	r.Post("/{id}/authorize", h.AuthorizeIntent)
	r.Post("/{id}/execute", h.ExecuteIntent)
	r.Post("/{id}/cancel", h.CancelIntent)
	r.Post("/{id}/reconcile", h.ReconcileIntent)

	return r
}

// CreateIntentRequest is the API request for creating an intent
type CreateIntentRequest struct {
	Type          string `json:"type" validate:"required,oneof=order_payment service_payment asset_payment task_payment subscription"`
	AmountMinor   int64  `json:"amount_minor" validate:"gt=0"`
	Currency      string `json:"currency" validate:"required,min=3,max=10"`
	Description   string `json:"description" validate:"max=500"`
	OrderID       string `json:"order_id"`
	MerchantID    string `json:"merchant_id"`
	AgentID       string `json:"agent_id"`
	PaymentMethod string `json:"payment_method"`
	SourceChain   string `json:"source_chain"`
	TargetChain   string `json:"target_chain"`
	TTLSeconds    int64  `json:"ttl_seconds" validate:"gte=0"`
}

// CreateIntent handles POST /intents
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	in, err := h.service.Create(r.Context(), intent.CreateRequest{
		Draft: intent.Draft{
			OwnerID:           middleware.GetOwnerID(r.Context()),
			Type:              intent.Type(req.Type),
			Amount:            money.New(req.AmountMinor, money.Currency(req.Currency)),
			Description:       req.Description,
			OrderID:           req.OrderID,
			MerchantID:        req.MerchantID,
			AgentID:           req.AgentID,
			PaymentMethodHint: req.PaymentMethod,
			SourceChainHint:   req.SourceChain,
			TargetChainHint:   req.TargetChain,
		},
		TTL: time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, in)
}

// ListIntents handles GET /intents
func (h *Handler) ListIntents(w http.ResponseWriter, r *http.Request) {
	status := intent.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		api.BadRequest(w, "unknown status")
		return
	}
	page := api.GetPaginationParams(r, 50, 200)

	intents, err := h.service.List(r.Context(), intent.ListRequest{
		OwnerID: middleware.GetOwnerID(r.Context()),
		Status:  status,
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if intents == nil {
		intents = []*intent.Intent{}
	}

	api.WriteData(w, http.StatusOK, intents)
}

// GetIntent handles GET /intents/{id}
func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	in, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, in)
}

// AuthorizeIntentRequest is the API request for authorizing an intent
type AuthorizeIntentRequest struct {
	AuthorizedBy string `json:"authorized_by" validate:"required,oneof=user agent grant"`
	GrantID      string `json:"grant_id" validate:"required_if=AuthorizedBy grant"`
}

// AuthorizeIntent handles POST /intents/{id}/authorize
func (h *Handler) AuthorizeIntent(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeIntentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	in, err := h.service.Authorize(r.Context(), intent.AuthorizeRequest{
		IntentID: chi.URLParam(r, "id"),
		OwnerID:  middleware.GetOwnerID(r.Context()),
		By:       intent.AuthorizedBy(req.AuthorizedBy),
		GrantID:  req.GrantID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, in)
}

// ExecuteIntent handles POST /intents/{id}/execute
func (h *Handler) ExecuteIntent(w http.ResponseWriter, r *http.Request) {
	in, err := h.service.Execute(r.Context(), chi.URLParam(r, "id"), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, in)
}

// CancelIntent handles POST /intents/{id}/cancel
func (h *Handler) CancelIntent(w http.ResponseWriter, r *http.Request) {
	in, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), middleware.GetOwnerID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, in)
}

// ReconcileIntentRequest reports the confirmed outcome of a timed-out execution
type ReconcileIntentRequest struct {
	Succeeded *bool  `json:"succeeded" validate:"required"`
	PaymentID string `json:"payment_id"`
	TxHash    string `json:"tx_hash"`
	Error     string `json:"error"`
}

// ReconcileIntent handles POST /intents/{id}/reconcile
func (h *Handler) ReconcileIntent(w http.ResponseWriter, r *http.Request) {
	var req ReconcileIntentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	if *req.Succeeded && req.PaymentID == "" {
		api.BadRequest(w, "payment_id is required for a successful outcome")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.service.Get(r.Context(), id, middleware.GetOwnerID(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}

	in, err := h.service.Reconcile(r.Context(), id, intent.Outcome{
		Succeeded: *req.Succeeded,
		Result:    intent.ExecutionResult{PaymentID: req.PaymentID, TxHash: req.TxHash},
		Error:     req.Error,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, in)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var invalid *grant.InvalidError
	switch {
	case errors.As(err, &invalid):
		api.GrantInvalid(w, string(invalid.Reason))
	case errors.Is(err, grant.ErrNotFound):
		api.NotFound(w, "grant not found")
	case errors.Is(err, intent.ErrNotFound):
		api.NotFound(w, "intent not found")
	case errors.Is(err, intent.ErrExpired):
		api.Gone(w, "intent expired")
	case errors.Is(err, intent.ErrInvalidState), errors.Is(err, intent.ErrConflict):
		api.InvalidState(w, err.Error())
	case errors.Is(err, intent.ErrValidation):
		api.ValidationError(w, err)
	case errors.Is(err, intent.ErrTimeout):
		api.Timeout(w, "execution outcome unknown; intent awaits reconciliation")
	case errors.Is(err, intent.ErrExecutionFailed):
		api.ExecutionFailed(w, err.Error())
	default:
		api.InternalError(w, "intent operation failed")
	}
}
