package orders

import (
	"context"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labsync/labsync/internal/domain/catalog"
	"github.com/labsync/labsync/internal/platform/db"
	"github.com/labsync/labsync/internal/platform/xmlx"
)

// Fetcher is the slice of the upstream client the order sync needs.
type Fetcher interface {
	Pending(ctx context.Context) (*etree.Element, error)
	OrdersByPeriod(ctx context.Context, dateStart, dateEnd string, extended bool) (*etree.Element, error)
	ResultsForOrder(ctx context.Context, orderNo string) (*etree.Element, error)
}

// CatalogLookup resolves result rows against the synced catalog.
// catalog.Repository satisfies it.
type CatalogLookup interface {
	GetPanelByCode(ctx context.Context, code string) (*catalog.Panel, error)
	GetTestByCode(ctx context.Context, code string) (*catalog.Test, error)
	AnalytesByTest(ctx context.Context, testID uuid.UUID) ([]*catalog.Analyte, error)
}

// Options selects which order numbers to pull. Dates use the upstream's
// YYYY/MM/DD format.
type Options struct {
	OnlyPending bool
	DateStart   string
	DateEnd     string
}

// Stats reports one sync run.
type Stats struct {
	Orders  int
	Panels  int
	Results int
	Failed  int
}

// Syncer pulls orders and results. Each order commits in its own
// transaction; a failing order is logged and skipped, never fatal.
type Syncer struct {
	fetch   Fetcher
	repo    Repository
	catalog CatalogLookup
	tx      db.TxRunner
	log     zerolog.Logger
}

func NewSyncer(fetch Fetcher, repo Repository, cat CatalogLookup, tx db.TxRunner, log zerolog.Logger) *Syncer {
	return &Syncer{fetch: fetch, repo: repo, catalog: cat, tx: tx, log: log}
}

// Run collects order numbers from the selected sources and pulls released
// results for each.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Stats, error) {
	stats := &Stats{}
	numbers := map[string]struct{}{}

	if opts.OnlyPending || (opts.DateStart == "" && opts.DateEnd == "") {
		root, err := s.fetch.Pending(ctx)
		if err != nil {
			return stats, err
		}
		for _, node := range root.FindElements(".//orderno") {
			if n := strings.TrimSpace(node.Text()); n != "" {
				numbers[n] = struct{}{}
			}
		}
	}

	if opts.DateStart != "" && opts.DateEnd != "" {
		root, err := s.fetch.OrdersByPeriod(ctx, opts.DateStart, opts.DateEnd, true)
		if err != nil {
			return stats, err
		}
		for _, node := range root.FindElements(".//order") {
			if n := strings.TrimSpace(xmlx.Text(node, "orderno", "")); n != "" {
				numbers[n] = struct{}{}
			}
		}
	}

	sorted := make([]string, 0, len(numbers))
	for n := range numbers {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, number := range sorted {
		if err := s.syncOrder(ctx, number, stats); err != nil {
			s.log.Warn().Err(err).Str("order", number).Msg("order skipped")
			stats.Failed++
			continue
		}
		stats.Orders++
	}
	return stats, nil
}

func (s *Syncer) syncOrder(ctx context.Context, number string, stats *Stats) error {
	order, _, err := s.repo.GetOrCreateOrder(ctx, number)
	if err != nil {
		return err
	}
	root, err := s.fetch.ResultsForOrder(ctx, number)
	if err != nil {
		return err
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, pnode := range root.FindElements(".//panel") {
			pcode := xmlx.FirstMatch(pnode, []string{"code"}, "")

			op := &OrderPanel{
				OrderID:        order.ID,
				PanelCode:      pcode,
				Status:         xmlx.Text(pnode, "status", ""),
				ReleasedDoctor: xmlx.Text(pnode, "released_doctor", ""),
			}
			if pcode != "" {
				panel, err := s.catalog.GetPanelByCode(ctx, pcode)
				if err != nil {
					return err
				}
				if panel != nil {
					op.PanelID = &panel.ID
				}
			}
			if err := s.repo.UpsertOrderPanel(ctx, op); err != nil {
				return err
			}
			stats.Panels++

			if err := s.syncPanelResults(ctx, op, pnode, stats); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Syncer) syncPanelResults(ctx context.Context, op *OrderPanel, pnode *etree.Element, stats *Stats) error {
	for _, tnode := range pnode.FindElements(".//test") {
		tcode := xmlx.FirstMatch(tnode, []string{"code"}, "")
		released := xmlx.Text(tnode, "released_doctor", "")

		var test *catalog.Test
		var analytes []*catalog.Analyte
		if tcode != "" {
			var err error
			test, err = s.catalog.GetTestByCode(ctx, tcode)
			if err != nil {
				return err
			}
			if test != nil {
				analytes, err = s.catalog.AnalytesByTest(ctx, test.ID)
				if err != nil {
					return err
				}
			}
		}

		for _, anode := range tnode.FindElements(".//analyte") {
			entry := &ResultEntry{
				OrderPanelID:   op.ID,
				Value:          xmlx.Text(anode, "value", ""),
				Unit:           xmlx.Text(anode, "unit", ""),
				NormLow:        xmlx.Text(anode, "low", ""),
				NormHigh:       xmlx.Text(anode, "high", ""),
				Comment:        xmlx.Text(anode, "comment", ""),
				RawResult:      xmlx.Text(anode, "rawresult", ""),
				ReleasedDoctor: released,
			}
			if test != nil {
				entry.TestID = &test.ID
			}

			// Resolve by code first; fall back to a case-insensitive name
			// match, some responses carry names only.
			if a := matchAnalyte(analytes,
				xmlx.FirstMatch(anode, []string{"code"}, ""),
				xmlx.FirstMatch(anode, []string{"name"}, "")); a != nil {
				entry.AnalyteID = &a.ID
			}

			created, err := s.repo.EnsureResultEntry(ctx, entry)
			if err != nil {
				return err
			}
			if created {
				stats.Results++
			}
		}
	}
	return nil
}

func matchAnalyte(analytes []*catalog.Analyte, code, name string) *catalog.Analyte {
	if code != "" {
		for _, a := range analytes {
			if a.Code == code {
				return a
			}
		}
	}
	if name != "" {
		for _, a := range analytes {
			if strings.EqualFold(a.Name, name) {
				return a
			}
		}
	}
	return nil
}
