// Package handler contains the HTTP handlers for the dashboard and the
// gateway-facing internal routes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/lidorpahima/llmshield/internal/api/middleware"
	"github.com/lidorpahima/llmshield/internal/api/response"
	"github.com/lidorpahima/llmshield/internal/gateway"
	"github.com/lidorpahima/llmshield/internal/keys"
	"github.com/lidorpahima/llmshield/internal/provider"
	"github.com/lidorpahima/llmshield/internal/store"
	"github.com/lidorpahima/llmshield/pkg/models"
)

// Lifecycle defines the key-lifecycle operations the handlers depend on.
type Lifecycle interface {
	Create(ctx context.Context, p keys.CreateParams) (*keys.CreateResult, error)
	Update(ctx context.Context, p keys.UpdateParams) (*keys.UpdateResult, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) (keys.SyncOutcome, error)
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*models.CredentialMapping, error)
	List(ctx context.Context, ownerID string) ([]*models.CredentialMapping, error)
}

// keyResponse is the masked view of a mapping. The full gateway key only ever
// appears in the create response.
type keyResponse struct {
	ID               uuid.UUID `json:"id"`
	GatewayKeyMasked string    `json:"gateway_key_masked"`
	Provider         string    `json:"provider"`
	ProviderName     string    `json:"provider_name"`
	Model            string    `json:"model"`
	Label            *string   `json:"label,omitempty"`
	Drifted          bool      `json:"drifted"`
	CreatedAt        string    `json:"created_at"`
}

func maskedView(m *models.CredentialMapping) keyResponse {
	return keyResponse{
		ID:               m.ID,
		GatewayKeyMasked: keys.Mask(m.GatewayKey),
		Provider:         m.Provider,
		ProviderName:     provider.FromStored(m.Provider).DisplayName(),
		Model:            m.Model,
		Label:            m.Label,
		Drifted:          m.Drifted,
		CreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewCreateKeyHandler returns the handler for POST /api/v1/keys.
func NewCreateKeyHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing caller identity", nil)
			return
		}

		var req struct {
			Provider           string  `json:"provider"`
			ProviderCustomName string  `json:"provider_custom_name"`
			Model              string  `json:"model"`
			Secret             string  `json:"secret"`
			Label              *string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		result, err := svc.Create(r.Context(), keys.CreateParams{
			OwnerID:            ownerID,
			Provider:           req.Provider,
			ProviderCustomName: req.ProviderCustomName,
			Model:              req.Model,
			Secret:             req.Secret,
			Label:              req.Label,
		})
		if err != nil {
			writeLifecycleError(w, err, nil)
			return
		}

		m := result.Mapping
		response.Created(w, struct {
			ID           uuid.UUID `json:"id"`
			GatewayKey   string    `json:"gateway_key"`
			Provider     string    `json:"provider"`
			ProviderName string    `json:"provider_name"`
			Model        string    `json:"model"`
			Label        *string   `json:"label,omitempty"`
			CreatedAt    string    `json:"created_at"`
		}{
			ID:           m.ID,
			GatewayKey:   m.GatewayKey, // shown once, never retrievable again
			Provider:     m.Provider,
			ProviderName: result.ProviderDisplayName,
			Model:        m.Model,
			Label:        m.Label,
			CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

// NewListKeysHandler returns the handler for GET /api/v1/keys.
func NewListKeysHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing caller identity", nil)
			return
		}

		mappings, err := svc.List(r.Context(), ownerID)
		if err != nil {
			writeLifecycleError(w, err, nil)
			return
		}

		views := make([]keyResponse, 0, len(mappings))
		for _, m := range mappings {
			views = append(views, maskedView(m))
		}
		response.JSON(w, views)
	}
}

// NewGetKeyHandler returns the handler for GET /api/v1/keys/{keyID}.
func NewGetKeyHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing caller identity", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		m, err := svc.Get(r.Context(), ownerID, id)
		if err != nil {
			writeLifecycleError(w, err, nil)
			return
		}
		response.JSON(w, maskedView(m))
	}
}

// NewUpdateKeyHandler returns the handler for PATCH /api/v1/keys/{keyID}.
func NewUpdateKeyHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing caller identity", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		var req struct {
			Provider           *string `json:"provider"`
			ProviderCustomName string  `json:"provider_custom_name"`
			Model              *string `json:"model"`
			Secret             *string `json:"secret"`
			Label              *string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		result, err := svc.Update(r.Context(), keys.UpdateParams{
			OwnerID:            ownerID,
			ID:                 id,
			Provider:           req.Provider,
			ProviderCustomName: req.ProviderCustomName,
			Model:              req.Model,
			Secret:             req.Secret,
			Label:              req.Label,
		})
		if err != nil {
			// A rejected update leaves the local record holding the new
			// values; tell the client so it is not mistaken for a no-op.
			if errors.Is(err, gateway.ErrRejected) && result != nil {
				writeLifecycleError(w, err, map[string]any{"local_state": "updated"})
				return
			}
			writeLifecycleError(w, err, nil)
			return
		}

		response.JSON(w, maskedView(result.Mapping))
	}
}

// NewDeleteKeyHandler returns the handler for DELETE /api/v1/keys/{keyID}.
func NewDeleteKeyHandler(svc Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing caller identity", nil)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
			return
		}

		outcome, err := svc.Delete(r.Context(), ownerID, id)
		if err != nil {
			writeLifecycleError(w, err, nil)
			return
		}

		response.JSON(w, struct {
			OK      bool `json:"ok"`
			Drifted bool `json:"drifted"`
		}{
			OK:      true,
			Drifted: outcome == keys.OutcomeCommittedWithDrift,
		})
	}
}

// writeLifecycleError maps service errors onto HTTP responses. Every mutating
// response distinguishes "succeeded cleanly", "succeeded with drift", and
// "failed, nothing changed"; this covers the failure half of that contract.
func writeLifecycleError(w http.ResponseWriter, err error, details any) {
	switch {
	case errors.Is(err, keys.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), details)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Key not found", details)
	case errors.Is(err, gateway.ErrUnreachable):
		response.Error(w, http.StatusBadGateway, "GATEWAY_UNREACHABLE",
			"The security gateway is unreachable; please retry", details)
	case errors.Is(err, gateway.ErrRejected):
		response.Error(w, http.StatusBadGateway, "GATEWAY_REJECTED",
			"The security gateway rejected the operation", details)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
