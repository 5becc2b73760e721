package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"paycore/internal/intent"
	"paycore/internal/routing"
)

// SubjectExecute is the request/reply subject payment workers listen on.
const SubjectExecute = "payments.execute"

// NATS executes payments through a request/reply round trip.
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATS creates a NATS executor. An empty subject uses SubjectExecute.
func NewNATS(nc *nats.Conn, subject string, logger *slog.Logger) *NATS {
	if subject == "" {
		subject = SubjectExecute
	}
	return &NATS{nc: nc, subject: subject, logger: logger}
}

// Execute implements intent.Executor.
func (n *NATS) Execute(ctx context.Context, route routing.CandidateRoute, in *intent.Intent) (intent.ExecutionResult, error) {
	reqData, err := json.Marshal(newExecuteRequest(route, in))
	if err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := n.nc.RequestWithContext(ctx, n.subject, reqData)
	if err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("nats request: %w", err)
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("unmarshal response: %w", err)
	}

	n.logger.Info("payment executed over nats",
		"intent_id", in.ID,
		"route_id", route.RouteID,
		"success", resp.Success,
	)
	return resp.result()
}
