package intent

import (
	"context"

	"paycore/internal/routing"
)

// ExecutionResult identifies a payment made by an Executor.
type ExecutionResult struct {
	PaymentID string `json:"payment_id"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// Executor performs the payment over the chosen route. Implementations
// must honour ctx; a deadline means the outcome is unknown, not failed.
type Executor interface {
	Execute(ctx context.Context, route routing.CandidateRoute, in *Intent) (ExecutionResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, route routing.CandidateRoute, in *Intent) (ExecutionResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, route routing.CandidateRoute, in *Intent) (ExecutionResult, error) {
	return f(ctx, route, in)
}
