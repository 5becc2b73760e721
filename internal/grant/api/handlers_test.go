package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/common/clock"
	"paycore/internal/common/events"
	"paycore/internal/common/lock"
	"paycore/internal/common/middleware"
	"paycore/internal/common/telemetry"
	"paycore/internal/grant"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRouter() http.Handler {
	clk := clock.NewFake(now)
	svc := grant.NewService(grant.NewMemoryStore(), lock.NewKeyed(), clk, events.NopPublisher{},
		telemetry.NewMetrics(nil), slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	r.Use(middleware.OwnerExtractor)
	r.Use(middleware.RequireOwner)
	r.Mount("/grants", NewHandler(svc, clk).Routes())
	return r
}

func do(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(middleware.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type grantEnvelope struct {
	Data struct {
		ID              string `json:"id"`
		Revoked         bool   `json:"revoked"`
		WindowRemaining struct {
			AmountMinor int64 `json:"amount_minor"`
		} `json:"window_remaining"`
	} `json:"data"`
}

const createBody = `{
	"currency": "usd",
	"per_transaction_limit": 10000,
	"rolling_window_limit": 30000,
	"rolling_window_seconds": 3600,
	"expires_at": "2026-03-02T12:00:00Z"
}`

func TestGrantLifecycleOverHTTP(t *testing.T) {
	h := newRouter()

	rec := do(t, h, http.MethodPost, "/grants/", "owner-1", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created grantEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)
	assert.Equal(t, int64(30000), created.Data.WindowRemaining.AmountMinor)

	rec = do(t, h, http.MethodGet, "/grants/"+created.Data.ID, "owner-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/grants/"+created.Data.ID+"/revoke", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var revoked grantEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	assert.True(t, revoked.Data.Revoked)

	rec = do(t, h, http.MethodGet, "/grants/", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.Data.ID)
}

func TestCreateGrantValidation(t *testing.T) {
	h := newRouter()

	tests := []struct {
		name string
		body string
	}{
		{"missing limits", `{"currency":"USD","expires_at":"2026-03-02T12:00:00Z"}`},
		{"expiry in the past", `{"currency":"USD","per_transaction_limit":1,"rolling_window_limit":1,"rolling_window_seconds":1,"expires_at":"2026-02-01T00:00:00Z"}`},
		{"malformed", `{"currency":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/grants/", "owner-1", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}
}

func TestMissingOwnerIsRejected(t *testing.T) {
	rec := do(t, newRouter(), http.MethodGet, "/grants/", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
