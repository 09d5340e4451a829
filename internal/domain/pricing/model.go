// Package pricing maintains the Service price list. Prices arrive from two
// independent sources, a per-service CSV or discovered remote price list and
// a flat per-panel price file, each with its own conflict policy.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is one price-list line. Code may equal a Test code or a Panel
// code; when it matches a panel the FK is backfilled.
type Service struct {
	ID        uuid.UUID           `db:"id" json:"id"`
	Code      string              `db:"code" json:"code"`
	Name      string              `db:"name" json:"name"`
	Cost      decimal.NullDecimal `db:"cost" json:"cost"`
	Currency  string              `db:"currency" json:"currency"`
	Duration  string              `db:"duration" json:"duration"`
	Comment   string              `db:"comment" json:"comment"`
	PanelID   *uuid.UUID          `db:"panel_id" json:"panel_id,omitempty"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt time.Time           `db:"updated_at" json:"updated_at"`
}

// PanelRef is the slice of a catalog panel the price merge needs.
type PanelRef struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Code string    `db:"code" json:"code"`
	Name string    `db:"name" json:"name"`
}
