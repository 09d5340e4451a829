package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the store surface the reconciler and the read API depend on.
// Upsert* methods are keyed by natural key, fill in the row's ID, and report
// whether the row was created. Get*ByCode methods return (nil, nil) when no
// row matches; absence is an expected outcome during reconciliation, not an
// error.
type Repository interface {
	UpsertContainerType(ctx context.Context, ct *ContainerType) (created bool, err error)
	UpsertBiomaterial(ctx context.Context, b *Biomaterial) (bool, error)
	UpsertTest(ctx context.Context, t *Test) (bool, error)
	UpsertAnalyte(ctx context.Context, a *Analyte) (bool, error)
	UpsertPanelCategory(ctx context.Context, c *PanelCategory) (bool, error)
	UpsertPanel(ctx context.Context, p *Panel) (bool, error)
	UpsertPanelPreanalytic(ctx context.Context, p *PanelPreanalytic) (bool, error)
	UpsertTestRequirement(ctx context.Context, r *TestRequirement) (bool, error)

	// SetPanelCategory re-points the panel FK; callers only invoke it when
	// the value actually changes.
	SetPanelCategory(ctx context.Context, panelID uuid.UUID, categoryID *uuid.UUID) error

	// ReplaceRequirementTests clears and re-adds the dependent-test set.
	ReplaceRequirementTests(ctx context.Context, requirementID uuid.UUID, testIDs []uuid.UUID) error

	// Ensure* are get-or-create by full tuple; existing rows are left as-is.
	EnsurePanelMaterial(ctx context.Context, panelID, biomaterialID uuid.UUID, containerTypeID *uuid.UUID) (bool, error)
	EnsurePanelTest(ctx context.Context, panelID, testID uuid.UUID) (bool, error)
	EnsurePanelLinked(ctx context.Context, mainPanelID, extraPanelID uuid.UUID) (bool, error)

	GetContainerTypeByCode(ctx context.Context, code string) (*ContainerType, error)
	GetTestByCode(ctx context.Context, code string) (*Test, error)
	GetPanelByCode(ctx context.Context, code string) (*Panel, error)
	GetPanelCategoryByCode(ctx context.Context, code string) (*PanelCategory, error)

	// Read surface for the JSON API.
	ListPanels(ctx context.Context, categoryCode string, limit, offset int) ([]*Panel, int, error)
	PanelMaterials(ctx context.Context, panelID uuid.UUID) ([]*PanelMaterial, error)
	PanelTests(ctx context.Context, panelID uuid.UUID) ([]*Test, error)
	PanelPreanalyticByPanel(ctx context.Context, panelID uuid.UUID) (*PanelPreanalytic, error)
	LinkedPanelCodes(ctx context.Context, mainPanelID uuid.UUID) ([]string, error)
	AnalytesByTest(ctx context.Context, testID uuid.UUID) ([]*Analyte, error)
}
