package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/fees"
	"paycore/internal/risk"
	"paycore/internal/routing"
	"paycore/internal/routing/selector"
)

func newQuoteHandler(t *testing.T) http.Handler {
	t.Helper()
	cat, err := routing.NewMemoryCatalog([]routing.CandidateRoute{
		{
			RouteID: "usdc-polygon", PaymentMethod: "wallet", SourceChain: "polygon", TargetChain: "polygon",
			Fees:        routing.FeeStructure{PercentageBps: 10},
			SuccessRate: 99, AvgExecutionMs: 3000, RiskLevel: risk.LevelLow, Active: true,
		},
	})
	require.NoError(t, err)
	sel := selector.New(cat, fees.NewEstimator(fees.DefaultConfig()), risk.NewScorer(risk.DefaultConfig()), selector.DefaultConfig(), nil)
	return NewHandler(sel, risk.StaticProfiles{"owner-1": {Identity: risk.IdentityVerified}}).Routes()
}

func TestQuote(t *testing.T) {
	h := newQuoteHandler(t)

	tests := []struct {
		name         string
		body         string
		wantRoute    string
		wantFallback bool
	}{
		{"catalog match", `{"amount_minor":1000000,"currency":"usdc","source_chain":"polygon"}`, "usdc-polygon", false},
		{"no match falls back", `{"amount_minor":1000,"currency":"USD","payment_method":"card"}`, "default", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/quote", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp struct {
				Data selector.Decision `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantRoute, resp.Data.Selected.Route.RouteID)
			assert.Equal(t, tt.wantFallback, resp.Data.Fallback)
			assert.NotEmpty(t, resp.Data.Candidates)
		})
	}
}

func TestQuoteValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/quote", strings.NewReader(`{"amount_minor":0}`))
	rec := httptest.NewRecorder()
	newQuoteHandler(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
