package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lidorpahima/llmshield/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through
// here. Owner-scoped methods never return or touch another owner's rows.
type Store interface {
	Ping(ctx context.Context) error

	CreateMapping(ctx context.Context, m *models.CredentialMapping) error
	GetMapping(ctx context.Context, id uuid.UUID, ownerID string) (*models.CredentialMapping, error)
	GetMappingByGatewayKey(ctx context.Context, gatewayKey string) (*models.CredentialMapping, error)
	ListMappings(ctx context.Context, ownerID string) ([]*models.CredentialMapping, error)
	UpdateMapping(ctx context.Context, m *models.CredentialMapping) error
	SetMappingDrifted(ctx context.Context, id uuid.UUID, drifted bool) error
	DeleteMapping(ctx context.Context, id uuid.UUID, ownerID string) error

	AppendActivity(ctx context.Context, e *models.ActivityEvent) error
	ListActivity(ctx context.Context, filter ActivityFilter) ([]*models.ActivityEvent, int, error)
}

// ActivityFilter scopes activity reads to one owner's gateway keys.
type ActivityFilter struct {
	OwnerID string
	Outcome string
	Page    int
	Limit   int
}
