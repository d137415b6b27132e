package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const ownerIDKey contextKey = "owner_id"

// SetOwnerID stores the verified caller identity in the context. Exported so
// handler tests can simulate an authenticated request.
func SetOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// GetOwnerID extracts the verified caller identity from the request context.
func GetOwnerID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(ownerIDKey).(string)
	return id, ok && id != ""
}
