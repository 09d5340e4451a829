package orders

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the store surface of the order sync.
type Repository interface {
	// GetOrCreateOrder is keyed by number; it fills in the order's ID.
	GetOrCreateOrder(ctx context.Context, number string) (*Order, bool, error)

	// UpsertOrderPanel is keyed by (order, panel_code) and refreshes
	// status and released_doctor in place.
	UpsertOrderPanel(ctx context.Context, op *OrderPanel) error

	// EnsureResultEntry inserts the row unless an identical one already
	// exists; identity covers every value field.
	EnsureResultEntry(ctx context.Context, e *ResultEntry) (bool, error)

	ResultsByOrderPanel(ctx context.Context, orderPanelID uuid.UUID) ([]*ResultEntry, error)
}
