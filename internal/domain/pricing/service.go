package pricing

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labsync/labsync/internal/nacpp"
	"github.com/labsync/labsync/internal/platform/db"
)

// ServiceStats reports one per-service merge pass. A dry run produces the
// same counts as a real pass over identical input.
type ServiceStats struct {
	Rows      int
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Invalid   int
}

// PanelStats reports one per-panel merge pass.
type PanelStats struct {
	Rows      int
	Created   int
	Updated   int
	Skipped   int
	Unmatched int
	Invalid   int
}

// RemoteStats reports a remote price-list sync.
type RemoteStats struct {
	Total   int
	Created int
	Updated int
	Invalid int
}

// ApplyOptions carries the merge policy flags.
type ApplyOptions struct {
	DefaultCurrency string
	CreateMissing   bool
	Overwrite       bool
	DryRun          bool
}

// Reconciler merges price inputs into Service rows.
type Reconciler struct {
	repo Repository
	tx   db.TxRunner
	log  zerolog.Logger
}

func NewReconciler(repo Repository, tx db.TxRunner, log zerolog.Logger) *Reconciler {
	return &Reconciler{repo: repo, tx: tx, log: log}
}

// ApplyServicePrices merges the per-service source. Existing rows are
// updated only when cost or currency actually differ; a panel FK is
// backfilled when the code also names a panel. Unknown codes are created
// only with CreateMissing, otherwise counted skipped.
func (r *Reconciler) ApplyServicePrices(ctx context.Context, rows map[string]ServiceRow, opts ApplyOptions) (*ServiceStats, error) {
	stats := &ServiceStats{Rows: len(rows)}
	if len(rows) == 0 {
		return stats, nil
	}
	defaultCurrency := clampCurrency(defaultString(opts.DefaultCurrency, "RUB"))

	codes := make([]string, 0, len(rows))
	for code := range rows {
		codes = append(codes, code)
	}
	services, err := r.repo.ServicesByCodes(ctx, codes)
	if err != nil {
		return stats, err
	}
	panels, err := r.repo.PanelsByCodes(ctx, codes)
	if err != nil {
		return stats, err
	}

	var toCreate, toUpdate []*Service
	for code, row := range rows {
		svc, ok := services[code]
		if !ok {
			if !opts.CreateMissing {
				stats.Skipped++
				continue
			}
			created := &Service{
				Code:     code,
				Name:     code,
				Cost:     decimal.NullDecimal{Decimal: row.Cost, Valid: true},
				Currency: clampCurrency(defaultString(row.Currency, defaultCurrency)),
			}
			if p, ok := panels[code]; ok {
				created.PanelID = &p.ID
			}
			toCreate = append(toCreate, created)
			continue
		}

		changed := false
		if !svc.Cost.Valid || !svc.Cost.Decimal.Equal(row.Cost) {
			svc.Cost = decimal.NullDecimal{Decimal: row.Cost, Valid: true}
			changed = true
		}
		if row.Currency != "" && svc.Currency != row.Currency {
			svc.Currency = row.Currency
			changed = true
		}
		if svc.PanelID == nil {
			if p, ok := panels[code]; ok {
				svc.PanelID = &p.ID
				changed = true
			}
		}
		if changed {
			toUpdate = append(toUpdate, svc)
		} else {
			stats.Unchanged++
		}
	}

	stats.Created = len(toCreate)
	stats.Updated = len(toUpdate)
	if opts.DryRun {
		r.log.Info().Int("would_create", stats.Created).Int("would_update", stats.Updated).
			Msg("dry run, service prices not written")
		return stats, nil
	}

	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.repo.BulkCreate(ctx, toCreate); err != nil {
			return err
		}
		return r.repo.BulkUpdate(ctx, toUpdate)
	})
	return stats, err
}

// ApplyPanelPrices merges the flat per-panel source. Codes with no matching
// panel are counted unmatched. An existing non-zero cost is preserved unless
// Overwrite is set; a zero or absent cost counts as unset and is always
// fillable. A price equal to the current cost is a counted no-op.
func (r *Reconciler) ApplyPanelPrices(ctx context.Context, prices map[string]decimal.Decimal, opts ApplyOptions) (*PanelStats, error) {
	stats := &PanelStats{Rows: len(prices)}
	if len(prices) == 0 {
		return stats, nil
	}
	defaultCurrency := clampCurrency(defaultString(opts.DefaultCurrency, "RUB"))

	codes := make([]string, 0, len(prices))
	for code := range prices {
		codes = append(codes, code)
	}
	panels, err := r.repo.PanelsByCodes(ctx, codes)
	if err != nil {
		return stats, err
	}
	services, err := r.repo.ServicesByCodes(ctx, codes)
	if err != nil {
		return stats, err
	}

	var toCreate, toUpdate []*Service
	for code, price := range prices {
		panel, ok := panels[code]
		if !ok {
			stats.Unmatched++
			continue
		}

		svc, ok := services[code]
		if !ok {
			toCreate = append(toCreate, &Service{
				Code:     code,
				Name:     defaultString(panel.Name, code),
				Cost:     decimal.NullDecimal{Decimal: price, Valid: true},
				Currency: defaultCurrency,
				PanelID:  &panel.ID,
			})
			continue
		}

		current := decimal.Zero
		if svc.Cost.Valid {
			current = svc.Cost.Decimal
		}
		if !opts.Overwrite && !current.IsZero() {
			stats.Skipped++
			continue
		}
		if current.Equal(price) {
			stats.Skipped++
			continue
		}

		svc.Cost = decimal.NullDecimal{Decimal: price, Valid: true}
		if svc.PanelID == nil {
			svc.PanelID = &panel.ID
		}
		if svc.Currency == "" {
			svc.Currency = defaultCurrency
		}
		toUpdate = append(toUpdate, svc)
	}

	stats.Created = len(toCreate)
	stats.Updated = len(toUpdate)
	if opts.DryRun {
		r.log.Info().Int("would_create", stats.Created).Int("would_update", stats.Updated).
			Msg("dry run, panel prices not written")
		return stats, nil
	}

	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.repo.BulkCreate(ctx, toCreate); err != nil {
			return err
		}
		return r.repo.BulkUpdate(ctx, toUpdate)
	})
	return stats, err
}

// SyncRemote upserts one Service per discovered price row, replacing all
// descriptive fields with the remote values.
func (r *Reconciler) SyncRemote(ctx context.Context, rows []nacpp.PriceRow, defaultCurrency string) (*RemoteStats, error) {
	stats := &RemoteStats{}
	defaultCurrency = clampCurrency(defaultString(defaultCurrency, "RUB"))

	codes := make([]string, 0, len(rows))
	for _, row := range rows {
		if code := strings.TrimSpace(row.Code); code != "" {
			codes = append(codes, code)
		}
	}
	panels, err := r.repo.PanelsByCodes(ctx, codes)
	if err != nil {
		return stats, err
	}

	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			code := strings.TrimSpace(row.Code)
			if code == "" {
				stats.Invalid++
				continue
			}
			svc := &Service{
				Code:     code,
				Name:     defaultString(strings.TrimSpace(row.Name), code),
				Cost:     row.Cost,
				Currency: clampCurrency(defaultString(row.Currency, defaultCurrency)),
				Duration: strings.TrimSpace(row.Duration),
				Comment:  strings.TrimSpace(row.Comment),
			}
			if p, ok := panels[code]; ok {
				svc.PanelID = &p.ID
			}
			created, err := r.repo.UpsertService(ctx, svc)
			if err != nil {
				return err
			}
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}
			stats.Total++
		}
		return nil
	})
	return stats, err
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
