package models

import (
	"time"

	"github.com/google/uuid"
)

// CredentialMapping ties a gateway key issued to a dashboard user to the
// customer's real provider credential. The gateway key is immutable once
// created; the raw key is shown once at creation and masked afterwards.
// The secret is stored as-is because the resolve path must return it to the
// remote gateway in full.
type CredentialMapping struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	GatewayKey string    `db:"gateway_key" json:"-"`
	OwnerID    string    `db:"owner_id"    json:"-"`
	Provider   string    `db:"provider"    json:"provider"`
	Model      string    `db:"model"       json:"model"`
	Secret     string    `db:"secret"      json:"-"`
	Label      *string   `db:"label"       json:"label,omitempty"`
	// Drifted marks that the remote gateway may still be serving an older
	// version of this mapping after a failed sync. It is a consistency flag,
	// not a lifecycle state.
	Drifted   bool      `db:"drifted"    json:"drifted"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
