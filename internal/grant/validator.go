package grant

import (
	"errors"
	"time"

	"paycore/internal/common/money"
)

// Reason names the first check a grant failed.
type Reason string

const (
	ReasonRevoked          Reason = "grant revoked"
	ReasonExpired          Reason = "grant expired"
	ReasonScopeMismatch    Reason = "merchant outside grant scope"
	ReasonCurrencyMismatch Reason = "currency does not match grant"
	ReasonPerTransaction   Reason = "amount exceeds per-transaction limit"
	ReasonWindowLimit      Reason = "rolling window limit exceeded"
)

var (
	ErrNotFound = errors.New("grant not found")
	ErrInvalid  = errors.New("grant invalid")
)

// InvalidError is returned when a grant does not permit a payment.
// errors.Is(err, ErrInvalid) matches it.
type InvalidError struct {
	Reason Reason
}

func (e *InvalidError) Error() string { return "grant invalid: " + string(e.Reason) }

// Is matches ErrInvalid.
func (e *InvalidError) Is(target error) bool { return target == ErrInvalid }

// Result is the outcome of Validate.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

// Err converts a failed result to an *InvalidError, nil otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &InvalidError{Reason: r.Reason}
}

// Validate runs the checks in order and reports the first failure. It
// reads g and never mutates it.
func Validate(g *Grant, amount money.Money, merchantID string, now time.Time) Result {
	switch {
	case g.Revoked:
		return Result{Reason: ReasonRevoked}
	case !now.Before(g.ExpiresAt):
		return Result{Reason: ReasonExpired}
	case g.ScopeMerchantID != "" && g.ScopeMerchantID != merchantID:
		return Result{Reason: ReasonScopeMismatch}
	case amount.Currency != g.Currency:
		return Result{Reason: ReasonCurrencyMismatch}
	case amount.GreaterThan(g.PerTransactionLimit):
		return Result{Reason: ReasonPerTransaction}
	case g.WindowUsage(now).AmountMinor+amount.AmountMinor > g.WindowLimit.AmountMinor:
		return Result{Reason: ReasonWindowLimit}
	}
	return Result{Valid: true}
}
