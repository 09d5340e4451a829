package pricing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsync/labsync/internal/nacpp"
)

type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memPriceRepo records every write so tests can assert exactly what a merge
// pass would persist.
type memPriceRepo struct {
	services map[string]*Service
	panels   map[string]*PanelRef

	created []*Service
	updated []*Service
}

func newMemPriceRepo() *memPriceRepo {
	return &memPriceRepo{
		services: map[string]*Service{},
		panels:   map[string]*PanelRef{},
	}
}

func (m *memPriceRepo) addService(svc *Service) *Service {
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	m.services[svc.Code] = svc
	return svc
}

func (m *memPriceRepo) addPanel(code, name string) *PanelRef {
	p := &PanelRef{ID: uuid.New(), Code: code, Name: name}
	m.panels[code] = p
	return p
}

func (m *memPriceRepo) ServicesByCodes(_ context.Context, codes []string) (map[string]*Service, error) {
	out := map[string]*Service{}
	for _, code := range codes {
		if svc, ok := m.services[code]; ok {
			out[code] = svc
		}
	}
	return out, nil
}

func (m *memPriceRepo) PanelsByCodes(_ context.Context, codes []string) (map[string]*PanelRef, error) {
	out := map[string]*PanelRef{}
	for _, code := range codes {
		if p, ok := m.panels[code]; ok {
			out[code] = p
		}
	}
	return out, nil
}

func (m *memPriceRepo) BulkCreate(_ context.Context, services []*Service) error {
	for _, svc := range services {
		m.addService(svc)
		m.created = append(m.created, svc)
	}
	return nil
}

func (m *memPriceRepo) BulkUpdate(_ context.Context, services []*Service) error {
	m.updated = append(m.updated, services...)
	return nil
}

func (m *memPriceRepo) UpsertService(_ context.Context, svc *Service) (bool, error) {
	if prev, ok := m.services[svc.Code]; ok {
		svc.ID = prev.ID
		m.services[svc.Code] = svc
		m.updated = append(m.updated, svc)
		return false, nil
	}
	m.addService(svc)
	m.created = append(m.created, svc)
	return true, nil
}

func (m *memPriceRepo) List(_ context.Context, _, _ int) ([]*Service, int, error) {
	return nil, 0, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func cost(t *testing.T, s string) decimal.NullDecimal {
	t.Helper()
	return decimal.NullDecimal{Decimal: dec(t, s), Valid: true}
}

func newTestReconciler(repo Repository) *Reconciler {
	return NewReconciler(repo, passTx{}, zerolog.Nop())
}

func TestApplyServicePrices_SkipsUnknownCodes(t *testing.T) {
	repo := newMemPriceRepo()
	rec := newTestReconciler(repo)

	stats, err := rec.ApplyServicePrices(context.Background(), map[string]ServiceRow{
		"NEW-1": {Code: "NEW-1", Cost: dec(t, "100")},
	}, ApplyOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Created)
	assert.Empty(t, repo.created)
}

func TestApplyServicePrices_CreateMissingBindsPanel(t *testing.T) {
	repo := newMemPriceRepo()
	panel := repo.addPanel("P1", "Lipid panel")
	rec := newTestReconciler(repo)

	stats, err := rec.ApplyServicePrices(context.Background(), map[string]ServiceRow{
		"P1": {Code: "P1", Cost: dec(t, "750.00"), Currency: "KZT"},
	}, ApplyOptions{CreateMissing: true})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	require.Len(t, repo.created, 1)
	svc := repo.created[0]
	assert.Equal(t, "P1", svc.Name, "name falls back to the code on create")
	assert.Equal(t, "KZT", svc.Currency)
	require.NotNil(t, svc.PanelID)
	assert.Equal(t, panel.ID, *svc.PanelID)
}

func TestApplyServicePrices_UnchangedRowsNotWritten(t *testing.T) {
	repo := newMemPriceRepo()
	repo.addService(&Service{Code: "S1", Name: "CRP", Cost: cost(t, "350.00"), Currency: "RUB"})
	rec := newTestReconciler(repo)

	stats, err := rec.ApplyServicePrices(context.Background(), map[string]ServiceRow{
		"S1": {Code: "S1", Cost: dec(t, "350.00"), Currency: "RUB"},
	}, ApplyOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unchanged)
	assert.Zero(t, stats.Updated)
	assert.Empty(t, repo.updated)
}

func TestApplyServicePrices_DryRunCountsMatchRealRun(t *testing.T) {
	rows := map[string]ServiceRow{
		"S1":  {Code: "S1", Cost: dec(t, "120.50")},
		"S2":  {Code: "S2", Cost: dec(t, "99.00")},
		"NEW": {Code: "NEW", Cost: dec(t, "10.00")},
	}
	seed := func() *memPriceRepo {
		repo := newMemPriceRepo()
		repo.addService(&Service{Code: "S1", Cost: cost(t, "100.00"), Currency: "RUB"})
		repo.addService(&Service{Code: "S2", Cost: cost(t, "99.00"), Currency: "RUB"})
		return repo
	}

	dryRepo := seed()
	dry, err := newTestReconciler(dryRepo).ApplyServicePrices(context.Background(), rows,
		ApplyOptions{CreateMissing: true, DryRun: true})
	require.NoError(t, err)

	realRepo := seed()
	wet, err := newTestReconciler(realRepo).ApplyServicePrices(context.Background(), rows,
		ApplyOptions{CreateMissing: true})
	require.NoError(t, err)

	assert.Equal(t, wet, dry, "dry run reports the same counts as a real pass")
	assert.Empty(t, dryRepo.created)
	assert.Empty(t, dryRepo.updated)
	assert.Len(t, realRepo.created, 1)
	assert.Len(t, realRepo.updated, 1)
}

func TestApplyPanelPrices_ZeroCostTreatedAsUnset(t *testing.T) {
	repo := newMemPriceRepo()
	repo.addPanel("P1", "Glucose")
	repo.addService(&Service{Code: "P1", Name: "Glucose", Cost: cost(t, "0"), Currency: "RUB"})
	rec := newTestReconciler(repo)

	stats, err := rec.ApplyPanelPrices(context.Background(), map[string]decimal.Decimal{
		"P1": dec(t, "250.00"),
	}, ApplyOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated, "a zero cost is fillable without overwrite")
	require.Len(t, repo.updated, 1)
	assert.True(t, repo.updated[0].Cost.Decimal.Equal(dec(t, "250.00")))
}

func TestApplyPanelPrices_OverwritePolicy(t *testing.T) {
	seed := func() *memPriceRepo {
		repo := newMemPriceRepo()
		repo.addPanel("P1", "Glucose")
		repo.addService(&Service{Code: "P1", Name: "Glucose", Cost: cost(t, "180.00"), Currency: "RUB"})
		return repo
	}
	prices := map[string]decimal.Decimal{"P1": dec(t, "250.00")}

	repo := seed()
	stats, err := newTestReconciler(repo).ApplyPanelPrices(context.Background(), prices, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped, "existing non-zero cost is preserved")
	assert.Empty(t, repo.updated)

	repo = seed()
	stats, err = newTestReconciler(repo).ApplyPanelPrices(context.Background(), prices, ApplyOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	require.Len(t, repo.updated, 1)
	assert.True(t, repo.updated[0].Cost.Decimal.Equal(dec(t, "250.00")))
}

func TestApplyPanelPrices_EqualPriceIsNoop(t *testing.T) {
	repo := newMemPriceRepo()
	repo.addPanel("P1", "Glucose")
	repo.addService(&Service{Code: "P1", Cost: cost(t, "250.00"), Currency: "RUB"})

	stats, err := newTestReconciler(repo).ApplyPanelPrices(context.Background(), map[string]decimal.Decimal{
		"P1": dec(t, "250.0"),
	}, ApplyOptions{Overwrite: true})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, repo.updated)
}

func TestApplyPanelPrices_UnmatchedAndCreate(t *testing.T) {
	repo := newMemPriceRepo()
	panel := repo.addPanel("P1", "Glucose")

	stats, err := newTestReconciler(repo).ApplyPanelPrices(context.Background(), map[string]decimal.Decimal{
		"P1":     dec(t, "250.00"),
		"GHOST":  dec(t, "10.00"),
		"GHOST2": dec(t, "20.00"),
	}, ApplyOptions{})

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Unmatched)
	assert.Equal(t, 1, stats.Created)
	require.Len(t, repo.created, 1)
	svc := repo.created[0]
	assert.Equal(t, "Glucose", svc.Name, "new service named after the panel")
	assert.Equal(t, "RUB", svc.Currency)
	require.NotNil(t, svc.PanelID)
	assert.Equal(t, panel.ID, *svc.PanelID)
}

func TestSyncRemote(t *testing.T) {
	repo := newMemPriceRepo()
	panel := repo.addPanel("P1", "Glucose")
	repo.addService(&Service{Code: "S2", Name: "Old name", Cost: cost(t, "90"), Currency: "RUB"})

	rows := []nacpp.PriceRow{
		{Code: "P1", Name: "Glucose serum", Cost: cost(t, "250.00")},
		{Code: "S2", Name: "CRP", Cost: cost(t, "350.00"), Currency: "EUR"},
		{Code: "  ", Name: "junk"},
	}
	stats, err := newTestReconciler(repo).SyncRemote(context.Background(), rows, "")

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Invalid)

	created := repo.services["P1"]
	require.NotNil(t, created)
	assert.Equal(t, "Glucose serum", created.Name)
	assert.Equal(t, "RUB", created.Currency, "default currency applied")
	require.NotNil(t, created.PanelID)
	assert.Equal(t, panel.ID, *created.PanelID)

	assert.Equal(t, "CRP", repo.services["S2"].Name, "descriptive fields replaced")
	assert.Equal(t, "EUR", repo.services["S2"].Currency)
}
