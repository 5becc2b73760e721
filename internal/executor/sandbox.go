// Package executor holds the payment executors the orchestrator can call:
// a deterministic sandbox, an HTTP payments API client and a NATS
// request/reply client.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"paycore/internal/intent"
	"paycore/internal/routing"
)

// SandboxConfig configures the simulated executor.
type SandboxConfig struct {
	// FailAmountMinor makes every payment of exactly this amount fail.
	FailAmountMinor int64         `envconfig:"SANDBOX_FAIL_AMOUNT_MINOR" default:"6666"`
	Latency         time.Duration `envconfig:"SANDBOX_LATENCY" default:"0s"`
}

// Sandbox simulates payments. Ids are derived from the intent and route,
// so re-running a scenario yields the same results.
type Sandbox struct {
	cfg    SandboxConfig
	chains map[string]bool
	logger *slog.Logger
}

// NewSandbox creates a sandbox executor. Routes on onChain chains get a
// simulated transaction hash.
func NewSandbox(cfg SandboxConfig, onChain []string, logger *slog.Logger) *Sandbox {
	chains := make(map[string]bool, len(onChain))
	for _, c := range onChain {
		chains[c] = true
	}
	return &Sandbox{cfg: cfg, chains: chains, logger: logger}
}

// Execute implements intent.Executor.
func (s *Sandbox) Execute(ctx context.Context, route routing.CandidateRoute, in *intent.Intent) (intent.ExecutionResult, error) {
	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-ctx.Done():
			return intent.ExecutionResult{}, ctx.Err()
		}
	}

	if s.cfg.FailAmountMinor > 0 && in.Amount.AmountMinor == s.cfg.FailAmountMinor {
		s.logger.Info("sandbox payment declined", "intent_id", in.ID, "route_id", route.RouteID)
		return intent.ExecutionResult{}, fmt.Errorf("sandbox: payment of %s declined", in.Amount)
	}

	sum := sha256.Sum256([]byte(in.ID + "|" + route.RouteID))
	res := intent.ExecutionResult{PaymentID: "sim_" + hex.EncodeToString(sum[:8])}
	if s.chains[route.TargetChain] {
		res.TxHash = "0x" + hex.EncodeToString(sum[:])
	}

	s.logger.Info("sandbox payment executed",
		"intent_id", in.ID,
		"route_id", route.RouteID,
		"payment_id", res.PaymentID,
	)
	return res, nil
}
