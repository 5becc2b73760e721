package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const replayedHeader = "X-Idempotency-Replayed"

// IdempotencyStore caches encoded responses by key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (response []byte, found bool, err error)
	Set(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// storedResponse is what a replay needs to answer exactly as the first call did.
type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency replays the first 2xx response to a POST carrying an
// Idempotency-Key. Keys are scoped to owner, method and path, so two owners
// may reuse the same key. A failing store degrades to executing the
// request.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = GetOwnerID(r.Context()) + "|" + r.URL.Path + "|" + key

			raw, found, err := store.Get(r.Context(), key)
			if err != nil {
				logger.Warn("idempotency lookup failed", "error", err, "path", r.URL.Path)
			}
			if found {
				var prev storedResponse
				if err := json.Unmarshal(raw, &prev); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(replayedHeader, "true")
					w.WriteHeader(prev.Status)
					_, _ = w.Write(prev.Body)
					return
				}
				logger.Warn("discarding unreadable idempotency entry", "path", r.URL.Path)
			}

			rec := &capture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status >= 300 {
				return
			}

			raw, err = json.Marshal(storedResponse{Status: rec.status, Body: rec.body.Bytes()})
			if err == nil {
				err = store.Set(context.WithoutCancel(r.Context()), key, raw, ttl)
			}
			if err != nil {
				logger.Warn("idempotency save failed", "error", err, "path", r.URL.Path)
			}
		})
	}
}

// capture tees the response so it can be stored after the handler returns.
type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
