package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lidorpahima/llmshield/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const mappingColumns = `id, gateway_key, owner_id, provider, model, secret, label, drifted, created_at, updated_at`

func scanMapping(row pgx.Row) (*models.CredentialMapping, error) {
	var m models.CredentialMapping
	err := row.Scan(&m.ID, &m.GatewayKey, &m.OwnerID, &m.Provider, &m.Model,
		&m.Secret, &m.Label, &m.Drifted, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- Credential mappings ---

func (s *PostgresStore) CreateMapping(ctx context.Context, m *models.CredentialMapping) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credential_mappings (id, gateway_key, owner_id, provider, model, secret, label, drifted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.GatewayKey, m.OwnerID, m.Provider, m.Model, m.Secret, m.Label, m.Drifted, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMapping(ctx context.Context, id uuid.UUID, ownerID string) (*models.CredentialMapping, error) {
	m, err := scanMapping(s.pool.QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM credential_mappings WHERE id = $1 AND owner_id = $2`,
		id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMappingByGatewayKey(ctx context.Context, gatewayKey string) (*models.CredentialMapping, error) {
	m, err := scanMapping(s.pool.QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM credential_mappings WHERE gateway_key = $1`,
		gatewayKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping by gateway key: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMappings(ctx context.Context, ownerID string) ([]*models.CredentialMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mappingColumns+` FROM credential_mappings WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.CredentialMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// UpdateMapping rewrites the mutable fields of a mapping as one committed
// state. The gateway key, owner, and creation time never change.
func (s *PostgresStore) UpdateMapping(ctx context.Context, m *models.CredentialMapping) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credential_mappings
		 SET provider = $3, model = $4, secret = $5, label = $6, drifted = $7, updated_at = $8
		 WHERE id = $1 AND owner_id = $2`,
		m.ID, m.OwnerID, m.Provider, m.Model, m.Secret, m.Label, m.Drifted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetMappingDrifted(ctx context.Context, id uuid.UUID, drifted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credential_mappings SET drifted = $2, updated_at = NOW() WHERE id = $1`,
		id, drifted)
	if err != nil {
		return fmt.Errorf("set mapping drifted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMapping hard-deletes a mapping. Gateway keys are never reused, so no
// tombstone is kept.
func (s *PostgresStore) DeleteMapping(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credential_mappings WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Activity ---

// AppendActivity records one gateway-reported event. It deliberately does not
// check that a mapping exists for the key: logging is decoupled from the
// credential lifecycle.
func (s *PostgresStore) AppendActivity(ctx context.Context, e *models.ActivityEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO request_activity (id, gateway_key, outcome, reason, provider, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.GatewayKey, e.Outcome, e.Reason, e.Provider, e.Model, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]*models.ActivityEvent, int, error) {
	conditions := []string{"m.owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Outcome != "" {
		conditions = append(conditions, fmt.Sprintf("a.outcome = $%d", argIdx))
		args = append(args, filter.Outcome)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")
	join := `request_activity a JOIN credential_mappings m ON m.gateway_key = a.gateway_key`

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", join, where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT a.id, a.gateway_key, a.outcome, a.reason, a.provider, a.model, a.created_at
		 FROM %s WHERE %s ORDER BY a.created_at DESC LIMIT $%d OFFSET $%d`,
		join, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var events []*models.ActivityEvent
	for rows.Next() {
		var e models.ActivityEvent
		if err := rows.Scan(&e.ID, &e.GatewayKey, &e.Outcome, &e.Reason,
			&e.Provider, &e.Model, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
