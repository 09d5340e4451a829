package pricing

import (
	"context"
)

// Repository is the store surface of the price merge and the read API.
// ServicesByCodes and PanelsByCodes key the result by code; codes with no
// matching row are simply absent from the map.
type Repository interface {
	ServicesByCodes(ctx context.Context, codes []string) (map[string]*Service, error)
	PanelsByCodes(ctx context.Context, codes []string) (map[string]*PanelRef, error)

	// BulkCreate and BulkUpdate apply a whole pass's writes in one batch;
	// the merge never writes row-by-row.
	BulkCreate(ctx context.Context, services []*Service) error
	BulkUpdate(ctx context.Context, services []*Service) error

	// UpsertService is keyed by code and reports whether a row was created.
	UpsertService(ctx context.Context, s *Service) (bool, error)

	List(ctx context.Context, limit, offset int) ([]*Service, int, error)
}
