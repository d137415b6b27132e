package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lidorpahima/llmshield/internal/cache"
	"github.com/lidorpahima/llmshield/internal/gateway"
	"github.com/lidorpahima/llmshield/internal/provider"
	"github.com/lidorpahima/llmshield/internal/store"
	"github.com/lidorpahima/llmshield/pkg/models"
)

// ErrInvalidInput marks validation failures surfaced before any side effect.
var ErrInvalidInput = errors.New("invalid input")

// SyncOutcome describes how a lifecycle operation ended relative to the
// remote gateway. Every mutating operation resolves to exactly one of these,
// so a caller can always tell whether anything changed and whether the remote
// still matches.
type SyncOutcome string

const (
	// OutcomeCommitted: store and gateway both hold the new state.
	OutcomeCommitted SyncOutcome = "committed"
	// OutcomeCommittedWithDrift: the store holds the new state, the gateway
	// could not be reached and may still serve the old one.
	OutcomeCommittedWithDrift SyncOutcome = "committed-with-drift"
	// OutcomeRolledBack: the operation failed and the store shows no trace
	// of it.
	OutcomeRolledBack SyncOutcome = "rolled-back"
)

const resolveCacheTTL = 30 * time.Second

// Service coordinates the record store and the remote gateway through the
// create/update/delete saga. There is no cross-system transaction; consistency
// comes from compensation on create, drift flagging on update/delete, and
// per-id serialization of lifecycle operations.
type Service struct {
	store   store.Store
	gateway gateway.Client
	cache   cache.Cache
	locks   *keyMutex
}

// NewService creates a new lifecycle Service.
func NewService(st store.Store, gw gateway.Client, ca cache.Cache) *Service {
	return &Service{
		store:   st,
		gateway: gw,
		cache:   ca,
		locks:   newKeyMutex(),
	}
}

// CreateParams holds raw inputs for a create operation.
type CreateParams struct {
	OwnerID            string
	Provider           string
	ProviderCustomName string
	Model              string
	Secret             string
	Label              *string
}

// CreateResult carries the one-time full gateway key alongside the stored
// mapping. The full key is never retrievable again.
type CreateResult struct {
	Mapping             *models.CredentialMapping
	ProviderDisplayName string
	Outcome             SyncOutcome
}

// Create validates the input, writes the mapping locally, then registers it
// with the remote gateway. Any registration failure, transient or definite,
// rolls the local write back: no client has seen the key yet, so nothing is
// lost, and a local-only orphan would silently stop working.
func (s *Service) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	prov, err := provider.Parse(p.Provider, strings.TrimSpace(p.ProviderCustomName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidInput)
	}
	secret := strings.TrimSpace(p.Secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidInput)
	}

	gatewayKey, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating gateway key: %w", err)
	}

	now := time.Now().UTC()
	m := &models.CredentialMapping{
		ID:         uuid.New(),
		GatewayKey: gatewayKey,
		OwnerID:    p.OwnerID,
		Provider:   prov.Stored(),
		Model:      model,
		Secret:     secret,
		Label:      normalizeLabel(p.Label),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	unlock := s.locks.Lock(m.ID)
	defer unlock()

	if err := s.store.CreateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("creating mapping: %w", err)
	}

	if err := s.gateway.Register(ctx, registrationFor(m)); err != nil {
		// Compensate: the store must end with no trace of this record.
		if delErr := s.store.DeleteMapping(ctx, m.ID, m.OwnerID); delErr != nil {
			slog.Error("create rollback failed, local orphan left behind",
				"mapping_id", m.ID, "error", delErr)
		}
		return nil, err
	}

	return &CreateResult{
		Mapping:             m,
		ProviderDisplayName: prov.DisplayName(),
		Outcome:             OutcomeCommitted,
	}, nil
}

// UpdateParams holds partial inputs for an update. Nil pointers mean "keep
// the current value". An empty label clears it; an empty secret keeps the
// stored one, matching the dashboard's edit form.
type UpdateParams struct {
	OwnerID            string
	ID                 uuid.UUID
	Provider           *string
	ProviderCustomName string
	Model              *string
	Secret             *string
	Label              *string
}

// UpdateResult reports the committed local state and whether the remote
// gateway now matches it.
type UpdateResult struct {
	Mapping             *models.CredentialMapping
	ProviderDisplayName string
	Outcome             SyncOutcome
}

// Update applies changes to the store first, then pushes the new mapping to
// the gateway under the existing key. The local write is the source of truth:
// if the gateway is unreachable the call still succeeds with the mapping
// flagged drifted. If the gateway rejects the push, the error is surfaced but
// the local update stands, also flagged drifted so the divergence is not
// silent.
func (s *Service) Update(ctx context.Context, p UpdateParams) (*UpdateResult, error) {
	unlock := s.locks.Lock(p.ID)
	defer unlock()

	m, err := s.store.GetMapping(ctx, p.ID, p.OwnerID)
	if err != nil {
		return nil, err
	}

	if p.Provider != nil {
		prov, err := provider.Parse(*p.Provider, strings.TrimSpace(p.ProviderCustomName))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		m.Provider = prov.Stored()
	}
	if p.Model != nil {
		model := strings.TrimSpace(*p.Model)
		if model == "" {
			return nil, fmt.Errorf("%w: model cannot be empty", ErrInvalidInput)
		}
		m.Model = model
	}
	if p.Secret != nil {
		if secret := strings.TrimSpace(*p.Secret); secret != "" {
			m.Secret = secret
		}
	}
	if p.Label != nil {
		m.Label = normalizeLabel(p.Label)
	}

	m.Drifted = false
	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("updating mapping: %w", err)
	}
	s.invalidateResolved(ctx, m.GatewayKey)

	prov := provider.FromStored(m.Provider)
	result := &UpdateResult{
		Mapping:             m,
		ProviderDisplayName: prov.DisplayName(),
		Outcome:             OutcomeCommitted,
	}

	if err := s.gateway.Update(ctx, registrationFor(m)); err != nil {
		m.Drifted = true
		if dErr := s.store.SetMappingDrifted(ctx, m.ID, true); dErr != nil {
			slog.Error("failed to flag mapping as drifted", "mapping_id", m.ID, "error", dErr)
		}

		if errors.Is(err, gateway.ErrUnreachable) {
			slog.Warn("gateway unreachable after local update, mapping drifted",
				"mapping_id", m.ID)
			result.Outcome = OutcomeCommittedWithDrift
			return result, nil
		}
		// Rejected: hard error, but the local record keeps the new values.
		return result, err
	}

	return result, nil
}

// Delete unregisters the key from the gateway, then removes the local record.
// A rejection aborts with nothing changed. An unreachable gateway does not
// block deletion: removing the local record is the fail-safe direction, since
// the resolve path reads the store and will refuse the key immediately even
// if the gateway still holds a stale registration.
func (s *Service) Delete(ctx context.Context, ownerID string, id uuid.UUID) (SyncOutcome, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.store.GetMapping(ctx, id, ownerID)
	if err != nil {
		return "", err
	}

	outcome := OutcomeCommitted
	if err := s.gateway.Unregister(ctx, m.GatewayKey); err != nil {
		if !errors.Is(err, gateway.ErrUnreachable) {
			return "", err
		}
		slog.Warn("gateway unreachable during delete, removing local record anyway",
			"mapping_id", id)
		outcome = OutcomeCommittedWithDrift
	}

	if err := s.store.DeleteMapping(ctx, id, ownerID); err != nil {
		return "", fmt.Errorf("deleting mapping: %w", err)
	}
	s.invalidateResolved(ctx, m.GatewayKey)

	return outcome, nil
}

// Get returns a single owned mapping.
func (s *Service) Get(ctx context.Context, ownerID string, id uuid.UUID) (*models.CredentialMapping, error) {
	return s.store.GetMapping(ctx, id, ownerID)
}

// List returns all mappings for an owner, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.CredentialMapping, error) {
	return s.store.ListMappings(ctx, ownerID)
}

// Resolve turns a gateway key back into the upstream provider, model, and
// customer secret. It is a pure read: it never touches the gateway client,
// and cache hits return without any locking. On a miss the store read and
// the cache fill happen under the mapping's lifecycle lock, so a delete or
// update that commits concurrently cannot be shadowed by a stale entry.
func (s *Service) Resolve(ctx context.Context, gatewayKey string) (cache.ResolvedMapping, error) {
	if cached, ok, err := s.cache.GetResolved(ctx, gatewayKey); err == nil && ok {
		return cached, nil
	}

	m, err := s.store.GetMappingByGatewayKey(ctx, gatewayKey)
	if err != nil {
		return cache.ResolvedMapping{}, err
	}

	// The first read only located the mapping's id. Re-read under its
	// lifecycle lock before filling the cache: a delete or update that
	// committed and invalidated in between must not be overwritten with
	// the row as it stood before.
	unlock := s.locks.Lock(m.ID)
	defer unlock()

	m, err = s.store.GetMappingByGatewayKey(ctx, gatewayKey)
	if err != nil {
		return cache.ResolvedMapping{}, err
	}

	resolved := cache.ResolvedMapping{
		Provider: m.Provider,
		Secret:   m.Secret,
		Model:    m.Model,
	}
	if err := s.cache.SetResolved(ctx, gatewayKey, resolved, resolveCacheTTL); err != nil {
		slog.Warn("failed to cache resolved mapping", "error", err)
	}
	return resolved, nil
}

func (s *Service) invalidateResolved(ctx context.Context, gatewayKey string) {
	if err := s.cache.InvalidateResolved(ctx, gatewayKey); err != nil {
		slog.Warn("failed to invalidate resolve cache", "error", err)
	}
}

func registrationFor(m *models.CredentialMapping) gateway.Registration {
	return gateway.Registration{
		GatewayKey: m.GatewayKey,
		Provider:   m.Provider,
		Model:      m.Model,
		Secret:     m.Secret,
	}
}

func normalizeLabel(label *string) *string {
	if label == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*label)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
