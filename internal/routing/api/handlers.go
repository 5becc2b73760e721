package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"paycore/internal/common/api"
	"paycore/internal/common/middleware"
	"paycore/internal/common/money"
	"paycore/internal/risk"
	"paycore/internal/routing/selector"
)

// RouteSelector chooses the best route for a payment.
type RouteSelector interface {
	SelectBestRoute(ctx context.Context, req selector.Request) (selector.Decision, error)
}

// Handler serves route quotes
type Handler struct {
	selector RouteSelector
	profiles risk.ProfileProvider
}

// NewHandler creates a new route handler
func NewHandler(sel RouteSelector, profiles risk.ProfileProvider) *Handler {
	if profiles == nil {
		profiles = risk.NeutralProfiles{}
	}
	return &Handler{selector: sel, profiles: profiles}
}

// Routes returns the routing routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/quote", h.Quote)
	return r
}

// QuoteRequest is the API request for a route quote
type QuoteRequest struct {
	AmountMinor   int64  `json:"amount_minor" validate:"gt=0"`
	Currency      string `json:"currency" validate:"required,min=3,max=10"`
	PaymentMethod string `json:"payment_method"`
	SourceChain   string `json:"source_chain"`
	TargetChain   string `json:"target_chain"`
	AgentID       string `json:"agent_id"`
}

// Quote handles POST /routes/quote. Nothing is persisted.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	ownerID := middleware.GetOwnerID(r.Context())
	profile, err := h.profiles.Profile(r.Context(), ownerID)
	if err != nil {
		api.InternalError(w, "failed to load risk profile")
		return
	}

	decision, err := h.selector.SelectBestRoute(r.Context(), selector.Request{
		Amount:        money.New(req.AmountMinor, money.Currency(strings.ToUpper(req.Currency))),
		SourceChain:   req.SourceChain,
		TargetChain:   req.TargetChain,
		PaymentMethod: req.PaymentMethod,
		OwnerID:       ownerID,
		AgentID:       req.AgentID,
		Profile:       profile,
	})
	if err != nil {
		api.InternalError(w, "route selection failed")
		return
	}

	api.WriteData(w, http.StatusOK, decision)
}
