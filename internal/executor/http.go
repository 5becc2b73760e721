package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"paycore/internal/intent"
	"paycore/internal/routing"
)

// HTTPConfig configures the payments API client.
type HTTPConfig struct {
	BaseURL string `envconfig:"EXECUTOR_URL"`
	APIKey  string `envconfig:"EXECUTOR_API_KEY"`
}

// ExecuteRequest is the wire request shared by the HTTP and NATS executors.
type ExecuteRequest struct {
	IntentID      string `json:"intent_id"`
	OwnerID       string `json:"owner_id"`
	MerchantID    string `json:"merchant_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	RouteID       string `json:"route_id"`
	PaymentMethod string `json:"payment_method"`
	SourceChain   string `json:"source_chain"`
	TargetChain   string `json:"target_chain"`
}

// ExecuteResponse is the wire response shared by the HTTP and NATS executors.
type ExecuteResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id"`
	TxHash    string `json:"tx_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newExecuteRequest(route routing.CandidateRoute, in *intent.Intent) ExecuteRequest {
	return ExecuteRequest{
		IntentID:      in.ID,
		OwnerID:       in.OwnerID,
		MerchantID:    in.MerchantID,
		OrderID:       in.OrderID,
		AmountMinor:   in.Amount.AmountMinor,
		Currency:      string(in.Amount.Currency),
		RouteID:       route.RouteID,
		PaymentMethod: route.PaymentMethod,
		SourceChain:   route.SourceChain,
		TargetChain:   route.TargetChain,
	}
}

func (r ExecuteResponse) result() (intent.ExecutionResult, error) {
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "payment rejected"
		}
		return intent.ExecutionResult{}, fmt.Errorf("payment rejected: %s", msg)
	}
	if r.PaymentID == "" {
		return intent.ExecutionResult{}, fmt.Errorf("payment accepted without payment_id")
	}
	return intent.ExecutionResult{PaymentID: r.PaymentID, TxHash: r.TxHash}, nil
}

// HTTP posts payments to an external payments API. The intent id is sent
// as the idempotency key.
type HTTP struct {
	config     HTTPConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTP creates an HTTP executor. Deadlines come from the caller's
// context, so the client itself has no timeout.
func NewHTTP(cfg HTTPConfig, client *http.Client, logger *slog.Logger) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{config: cfg, httpClient: client, logger: logger}
}

// Execute implements intent.Executor.
func (h *HTTP) Execute(ctx context.Context, route routing.CandidateRoute, in *intent.Intent) (intent.ExecutionResult, error) {
	body, err := json.Marshal(newExecuteRequest(route, in))
	if err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.BaseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", in.ID)
	if h.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	}

	httpResp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return intent.ExecutionResult{}, fmt.Errorf("payments api error: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return intent.ExecutionResult{}, fmt.Errorf("unmarshal response: %w", err)
	}

	h.logger.Info("payment submitted",
		"intent_id", in.ID,
		"route_id", route.RouteID,
		"success", resp.Success,
		"payment_id", resp.PaymentID,
	)
	return resp.result()
}
