package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity outcomes reported by the remote gateway.
const (
	ActivityPassed  = "passed"
	ActivityBlocked = "blocked"
)

// ActivityEvent is one request processed by the remote gateway, keyed by the
// gateway key it was presented with. Events are append-only and are recorded
// even when no mapping exists for the key anymore.
type ActivityEvent struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	GatewayKey string    `db:"gateway_key" json:"-"`
	Outcome    string    `db:"outcome"     json:"outcome"`
	Reason     *string   `db:"reason"      json:"reason,omitempty"`
	Provider   *string   `db:"provider"    json:"provider,omitempty"`
	Model      *string   `db:"model"       json:"model,omitempty"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}
