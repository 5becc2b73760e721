// Package middleware holds the chi middleware stack in front of the
// paycore API.
package middleware

import (
	"context"
	"net/http"

	"github.com/oklog/ulid/v2"

	"paycore/internal/common/events"
)

// Headers the API reads or echoes.
const (
	// OwnerHeader carries the authenticated principal. The gateway in front
	// of the service sets it; paycore does not authenticate on its own.
	OwnerHeader         = "X-Owner-ID"
	CorrelationIDHeader = "X-Correlation-ID"
	IdempotencyHeader   = "Idempotency-Key"
)

type ownerKey struct{}

// GetOwnerID returns the owner set by OwnerExtractor, or "".
func GetOwnerID(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}

func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// GetCorrelationID returns the id set by CorrelationID, or "".
func GetCorrelationID(ctx context.Context) string { return events.CorrelationID(ctx) }

// CorrelationID propagates the caller's correlation id, minting one when
// absent, and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(events.WithCorrelationID(r.Context(), id)))
	})
}

// OwnerExtractor copies OwnerHeader into the request context.
func OwnerExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(OwnerHeader); id != "" {
			r = r.WithContext(WithOwnerID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOwner rejects requests that reached the API without an owner.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetOwnerID(r.Context()) == "" {
			writeError(w, http.StatusBadRequest, "MISSING_OWNER", OwnerHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
