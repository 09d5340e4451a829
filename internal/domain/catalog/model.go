// Package catalog holds the reference entities synchronized from the
// external lab system and the reconciler that keeps them current. Rows are
// created on first sync and updated in place on every subsequent sync;
// rows removed upstream are never pruned locally.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// ContainerType is a leaf dictionary keyed by external code.
type ContainerType struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Color     string    `db:"color" json:"color"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Biomaterial is a leaf dictionary keyed by external code.
type Biomaterial struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	BarcodeInfo string    `db:"barcode_info" json:"barcode_info"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Test is a single analysis. Reference interval bounds are free text; the
// upstream does not guarantee numeric values.
type Test struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Unit        string    `db:"unit" json:"unit"`
	Method      string    `db:"method" json:"method"`
	Description string    `db:"description" json:"description"`
	Low         string    `db:"low" json:"low"`
	High        string    `db:"high" json:"high"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Analyte belongs to exactly one Test; the natural key is (test, code).
// When the upstream supplies no code, a synthetic one is derived from the
// test code plus the analyte name or ordinal, which keeps re-syncs stable.
type Analyte struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TestID    uuid.UUID `db:"test_id" json:"test_id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Unit      string    `db:"unit" json:"unit"`
	NormLow   string    `db:"norm_low" json:"norm_low"`
	NormHigh  string    `db:"norm_high" json:"norm_high"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PanelCategory is a tree node; ParentID is nil at the roots.
type PanelCategory struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Code      string     `db:"code" json:"code"`
	Name      string     `db:"name" json:"name"`
	Sorter    *int       `db:"sorter" json:"sorter,omitempty"`
	ParentID  *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Panel is an orderable study. CategoryCode is the raw upstream string kept
// for reference; CategoryID is the resolved FK, set post-hoc.
type Panel struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Code         string     `db:"code" json:"code"`
	Name         string     `db:"name" json:"name"`
	Duration     string     `db:"duration" json:"duration"`
	CategoryCode string     `db:"category_code" json:"category_code"`
	CategoryID   *uuid.UUID `db:"category_id" json:"category_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// PanelMaterial joins Panel × Biomaterial × optional ContainerType. The full
// tuple is the natural key; a row is created if absent and never updated.
type PanelMaterial struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PanelID         uuid.UUID  `db:"panel_id" json:"panel_id"`
	BiomaterialID   uuid.UUID  `db:"biomaterial_id" json:"biomaterial_id"`
	ContainerTypeID *uuid.UUID `db:"container_type_id" json:"container_type_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// PanelTest joins Panel × Test.
type PanelTest struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PanelID   uuid.UUID `db:"panel_id" json:"panel_id"`
	TestID    uuid.UUID `db:"test_id" json:"test_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PanelPreanalytic holds pre-collection instructions, one-to-one with Panel.
type PanelPreanalytic struct {
	ID                     uuid.UUID `db:"id" json:"id"`
	PanelID                uuid.UUID `db:"panel_id" json:"panel_id"`
	Training               string    `db:"training" json:"training"`
	Centrifugation         string    `db:"centrifugation" json:"centrifugation"`
	StorageTransportation  string    `db:"storage_transportation" json:"storage_transportation"`
	Note                   string    `db:"note" json:"note"`
	MinCount               string    `db:"min_count" json:"min_count"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// TestRequirement is an order-form field with the tests that depend on it.
// The dependent-test set is replaced wholesale on each sync.
type TestRequirement struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FieldCode   string    `db:"field_code" json:"field_code"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PanelLinked is a directed main→extra panel relation.
type PanelLinked struct {
	ID           uuid.UUID `db:"id" json:"id"`
	MainPanelID  uuid.UUID `db:"main_panel_id" json:"main_panel_id"`
	ExtraPanelID uuid.UUID `db:"extra_panel_id" json:"extra_panel_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
