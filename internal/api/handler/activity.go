package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/lidorpahima/llmshield/internal/api/middleware"
	"github.com/lidorpahima/llmshield/internal/api/response"
	"github.com/lidorpahima/llmshield/internal/keys"
	"github.com/lidorpahima/llmshield/internal/store"
	"github.com/lidorpahima/llmshield/pkg/models"
)

// ActivityStore is the subset of the store the activity handlers use.
type ActivityStore interface {
	AppendActivity(ctx context.Context, e *models.ActivityEvent) error
	ListActivity(ctx context.Context, filter store.ActivityFilter) ([]*models.ActivityEvent, int, error)
}

// NewRecordActivityHandler returns the handler for POST /api/internal/log.
// The remote gateway reports each request it processed. The write is
// append-only and deliberately accepts unknown gateway keys: logging is not
// coupled to lifecycle state.
func NewRecordActivityHandler(st ActivityStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			GatewayKey string `json:"gateway_key"`
			Outcome    string `json:"outcome"`
			Reason     string `json:"reason"`
			Provider   string `json:"provider"`
			Model      string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		gatewayKey := strings.TrimSpace(req.GatewayKey)
		if gatewayKey == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "gateway_key is required", nil)
			return
		}
		if req.Outcome != models.ActivityPassed && req.Outcome != models.ActivityBlocked {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"outcome must be 'passed' or 'blocked'", nil)
			return
		}

		event := &models.ActivityEvent{
			ID:         uuid.New(),
			GatewayKey: gatewayKey,
			Outcome:    req.Outcome,
			Reason:     optional(req.Reason),
			Provider:   optional(req.Provider),
			Model:      optional(req.Model),
			CreatedAt:  time.Now().UTC(),
		}
		if err := st.AppendActivity(r.Context(), event); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to record activity", nil)
			return
		}

		response.JSON(w, map[string]bool{"ok": true})
	}
}

type activityResponse struct {
	ID               uuid.UUID `json:"id"`
	GatewayKeyMasked string    `json:"gateway_key_masked"`
	Outcome          string    `json:"outcome"`
	Reason           *string   `json:"reason,omitempty"`
	Provider         *string   `json:"provider,omitempty"`
	Model            *string   `json:"model,omitempty"`
	CreatedAt        string    `json:"created_at"`
}

// NewListActivityHandler returns the handler for GET /api/v1/activity,
// the dashboard's view of gateway traffic for the caller's keys.
func NewListActivityHandler(st ActivityStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing caller identity", nil)
			return
		}

		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		limit, _ := strconv.Atoi(q.Get("limit"))
		outcome := q.Get("outcome")
		if outcome != "" && outcome != models.ActivityPassed && outcome != models.ActivityBlocked {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"outcome must be 'passed' or 'blocked'", nil)
			return
		}

		events, total, err := st.ListActivity(r.Context(), store.ActivityFilter{
			OwnerID: ownerID,
			Outcome: outcome,
			Page:    page,
			Limit:   limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list activity", nil)
			return
		}

		if page <= 0 {
			page = 1
		}
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		views := make([]activityResponse, 0, len(events))
		for _, e := range events {
			views = append(views, activityResponse{
				ID:               e.ID,
				GatewayKeyMasked: keys.Mask(e.GatewayKey),
				Outcome:          e.Outcome,
				Reason:           e.Reason,
				Provider:         e.Provider,
				Model:            e.Model,
				CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339),
			})
		}

		response.Collection(w, views, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

func optional(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
