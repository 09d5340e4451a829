// Package orders pulls placed orders and their released results from the
// external lab system. Result rows are append-only: when an analyte value
// changes upstream a new row is stored, earlier rows are never rewritten.
package orders

import (
	"time"

	"github.com/google/uuid"
)

// Order is keyed by the external order number.
type Order struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Number    string    `db:"number" json:"number"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderPanel is one panel within an order. PanelCode is the raw upstream
// code; PanelID is nil when the catalog has no such panel yet.
type OrderPanel struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrderID        uuid.UUID  `db:"order_id" json:"order_id"`
	PanelID        *uuid.UUID `db:"panel_id" json:"panel_id,omitempty"`
	PanelCode      string     `db:"panel_code" json:"panel_code"`
	Status         string     `db:"status" json:"status"`
	ReleasedDoctor string     `db:"released_doctor" json:"released_doctor"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ResultEntry is a single released measurement. All value fields are free
// text exactly as received.
type ResultEntry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrderPanelID   uuid.UUID  `db:"order_panel_id" json:"order_panel_id"`
	TestID         *uuid.UUID `db:"test_id" json:"test_id,omitempty"`
	AnalyteID      *uuid.UUID `db:"analyte_id" json:"analyte_id,omitempty"`
	Value          string     `db:"value" json:"value"`
	Unit           string     `db:"unit" json:"unit"`
	NormLow        string     `db:"norm_low" json:"norm_low"`
	NormHigh       string     `db:"norm_high" json:"norm_high"`
	Comment        string     `db:"comment" json:"comment"`
	RawResult      string     `db:"raw_result" json:"raw_result"`
	ReleasedDoctor string     `db:"released_doctor" json:"released_doctor"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}
