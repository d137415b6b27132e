package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/lidorpahima/llmshield/internal/api/response"
	"github.com/lidorpahima/llmshield/internal/cache"
	"github.com/lidorpahima/llmshield/internal/store"
)

// Resolver turns a gateway key into the upstream mapping. A pure read; it
// must never reach out to the gateway itself.
type Resolver interface {
	Resolve(ctx context.Context, gatewayKey string) (cache.ResolvedMapping, error)
}

// NewResolveKeyHandler returns the handler for
// GET /api/internal/resolve-key?key=..., the read path the remote gateway
// hits on every inbound request.
func NewResolveKeyHandler(svc Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if key == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing key query param", nil)
			return
		}

		resolved, err := svc.Resolve(r.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown gateway key", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to resolve key", nil)
			return
		}

		response.JSON(w, resolved)
	}
}
