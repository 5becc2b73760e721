// Package intent implements the payment intent lifecycle and the
// orchestrator that drives it through authorization and execution.
package intent

import (
	"fmt"
	"strings"
	"time"

	"paycore/internal/common/money"
	"paycore/internal/routing/selector"
)

// Type classifies what an intent pays for.
type Type string

const (
	TypeOrderPayment   Type = "order_payment"
	TypeServicePayment Type = "service_payment"
	TypeAssetPayment   Type = "asset_payment"
	TypeTaskPayment    Type = "task_payment"
	TypeSubscription   Type = "subscription"
)

// Valid reports whether t is a known intent type.
func (t Type) Valid() bool {
	switch t {
	case TypeOrderPayment, TypeServicePayment, TypeAssetPayment, TypeTaskPayment, TypeSubscription:
		return true
	}
	return false
}

// Status is a lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusAuthorized Status = "authorized"
	StatusExecuting  Status = "executing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Statuses lists every state.
var Statuses = []Status{
	StatusCreated, StatusAuthorized, StatusExecuting,
	StatusCompleted, StatusFailed, StatusCancelled, StatusExpired,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// transitions is the complete lifecycle graph.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusAuthorized, StatusCancelled, StatusExpired},
	StatusAuthorized: {StatusExecuting, StatusCancelled},
	StatusExecuting:  {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AuthorizedBy names who approved an intent.
type AuthorizedBy string

const (
	AuthorizedByUser  AuthorizedBy = "user"
	AuthorizedByAgent AuthorizedBy = "agent"
	AuthorizedByGrant AuthorizedBy = "grant"
)

// Valid reports whether a is a known actor.
func (a AuthorizedBy) Valid() bool {
	switch a {
	case AuthorizedByUser, AuthorizedByAgent, AuthorizedByGrant:
		return true
	}
	return false
}

// Authorization records who approved the intent and when.
type Authorization struct {
	AuthorizedAt time.Time    `json:"authorized_at"`
	AuthorizedBy AuthorizedBy `json:"authorized_by"`
	GrantID      string       `json:"grant_id,omitempty"`
}

// Intent is a declared payment that has not necessarily executed yet.
// Amount is fixed at creation.
type Intent struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"owner_id"`
	Type              Type           `json:"type"`
	Status            Status         `json:"status"`
	Amount            money.Money    `json:"amount"`
	Description       string         `json:"description,omitempty"`
	OrderID           string         `json:"order_id,omitempty"`
	MerchantID        string         `json:"merchant_id,omitempty"`
	AgentID           string         `json:"agent_id,omitempty"`
	PaymentMethodHint string         `json:"payment_method_hint,omitempty"`
	SourceChainHint   string         `json:"source_chain_hint,omitempty"`
	TargetChainHint   string         `json:"target_chain_hint,omitempty"`
	Authorization     *Authorization `json:"authorization,omitempty"`

	// Route decision with fee and risk assessments, kept for audit.
	RouteDecision *selector.Decision `json:"route_decision,omitempty"`

	ResultPaymentID string `json:"result_payment_id,omitempty"`
	ResultTxHash    string `json:"result_tx_hash,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`

	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Draft holds everything the caller supplies at creation.
type Draft struct {
	OwnerID           string
	Type              Type
	Amount            money.Money
	Description       string
	OrderID           string
	MerchantID        string
	AgentID           string
	PaymentMethodHint string
	SourceChainHint   string
	TargetChainHint   string
}

// NewIntent creates an intent in the created state, expiring ttl after now.
func NewIntent(id string, d Draft, ttl time.Duration, now time.Time) (*Intent, error) {
	if id == "" {
		return nil, validationf("id is required")
	}
	if d.OwnerID == "" {
		return nil, validationf("owner_id is required")
	}
	if !d.Type.Valid() {
		return nil, validationf("unknown intent type %q", d.Type)
	}
	if !d.Amount.IsPositive() {
		return nil, validationf("amount must be positive")
	}
	if n := len(d.Amount.Currency); n < 3 || n > 10 {
		return nil, validationf("currency must be 3 to 10 characters")
	}
	if ttl <= 0 {
		return nil, validationf("ttl must be positive")
	}

	now = now.UTC()
	d.Amount.Currency = money.Currency(strings.ToUpper(string(d.Amount.Currency)))

	return &Intent{
		ID:                id,
		OwnerID:           d.OwnerID,
		Type:              d.Type,
		Status:            StatusCreated,
		Amount:            d.Amount,
		Description:       d.Description,
		OrderID:           d.OrderID,
		MerchantID:        d.MerchantID,
		AgentID:           d.AgentID,
		PaymentMethodHint: d.PaymentMethodHint,
		SourceChainHint:   d.SourceChainHint,
		TargetChainHint:   d.TargetChainHint,
		ExpiresAt:         now.Add(ttl),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsTerminal returns true if the intent can no longer change.
func (i *Intent) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// IsExpiredAt reports whether a created intent has outlived its deadline.
// Only created intents expire.
func (i *Intent) IsExpiredAt(now time.Time) bool {
	return i.Status == StatusCreated && !now.Before(i.ExpiresAt)
}

func (i *Intent) transition(to Status, now time.Time) error {
	if !CanTransition(i.Status, to) {
		return &StateError{ID: i.ID, From: i.Status, To: to}
	}
	i.Status = to
	i.UpdatedAt = now.UTC()
	return nil
}

// MarkAuthorized moves a created intent to authorized.
func (i *Intent) MarkAuthorized(by AuthorizedBy, grantID string, now time.Time) error {
	if err := i.transition(StatusAuthorized, now); err != nil {
		return err
	}
	i.Authorization = &Authorization{
		AuthorizedAt: now.UTC(),
		AuthorizedBy: by,
		GrantID:      grantID,
	}
	return nil
}

// MarkExecuting moves an authorized intent to executing and records the
// route decision.
func (i *Intent) MarkExecuting(decision selector.Decision, now time.Time) error {
	if err := i.transition(StatusExecuting, now); err != nil {
		return err
	}
	i.RouteDecision = &decision
	return nil
}

// MarkCompleted records a successful execution.
func (i *Intent) MarkCompleted(res ExecutionResult, now time.Time) error {
	if err := i.transition(StatusCompleted, now); err != nil {
		return err
	}
	completed := now.UTC()
	i.ResultPaymentID = res.PaymentID
	i.ResultTxHash = res.TxHash
	i.CompletedAt = &completed
	return nil
}

// MarkFailed records a failed execution.
func (i *Intent) MarkFailed(message string, now time.Time) error {
	if err := i.transition(StatusFailed, now); err != nil {
		return err
	}
	i.ErrorMessage = message
	return nil
}

// MarkCancelled cancels a created or authorized intent.
func (i *Intent) MarkCancelled(now time.Time) error {
	return i.transition(StatusCancelled, now)
}

// MarkExpired expires a created intent.
func (i *Intent) MarkExpired(now time.Time) error {
	return i.transition(StatusExpired, now)
}

// GrantID is the grant that authorized the intent, if any.
func (i *Intent) GrantID() string {
	if i.Authorization == nil {
		return ""
	}
	return i.Authorization.GrantID
}

// Clone returns a copy that shares no mutable state with i.
func (i *Intent) Clone() *Intent {
	c := *i
	if i.Authorization != nil {
		a := *i.Authorization
		c.Authorization = &a
	}
	if i.RouteDecision != nil {
		d := *i.RouteDecision
		d.Candidates = append([]selector.ScoredRoute(nil), i.RouteDecision.Candidates...)
		c.RouteDecision = &d
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// String is used in logs.
func (i *Intent) String() string {
	return fmt.Sprintf("%s[%s %s]", i.ID, i.Status, i.Amount)
}
