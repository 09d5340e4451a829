package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labsync/labsync/internal/nacpp"
	"github.com/labsync/labsync/internal/platform/db"
	"github.com/labsync/labsync/internal/platform/xmlx"
)

// Fetcher is the slice of the upstream client the reconciler needs.
type Fetcher interface {
	ContainerTypes(ctx context.Context) (*etree.Element, error)
	Tests(ctx context.Context) (*etree.Element, error)
	PanelCategories(ctx context.Context) (*etree.Element, error)
	Panels(ctx context.Context, includeCategories bool) (*etree.Element, error)
	Preanalytics(ctx context.Context) (*etree.Element, error)
	TestsRequirements(ctx context.Context) (*etree.Element, error)
	LinkedPanels(ctx context.Context) (*etree.Element, error)
}

// StageStats counts per-record outcomes within one sync stage.
type StageStats struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Invalid   int
}

// Summary aggregates the whole catalog run for the CLI report.
type Summary struct {
	Containers    StageStats
	Tests         StageStats
	Analytes      StageStats
	Categories    StageStats
	Panels        StageStats
	Materials     StageStats
	PanelTests    StageStats
	Preanalytics  StageStats
	Requirements  StageStats
	Linked        StageStats

	// PanelsFKMissing counts panels whose category_code resolved to no
	// category in any sync; the FK is left unset for those.
	PanelsFKMissing int
}

// Reconciler runs the ordered catalog sync. Each stage is one local
// transaction; stages commit independently so a failure partway leaves the
// earlier stages standing (progressive sync).
type Reconciler struct {
	fetch Fetcher
	repo  Repository
	tx    db.TxRunner
	log   zerolog.Logger
}

func NewReconciler(fetch Fetcher, repo Repository, tx db.TxRunner, log zerolog.Logger) *Reconciler {
	return &Reconciler{fetch: fetch, repo: repo, tx: tx, log: log}
}

// Run executes the seven stages in hard dependency order:
// containers → tests/analytes → categories → panels/materials/tests →
// preanalytics → requirements → linked panels.
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	stages := []struct {
		name     string
		optional bool // absent catalog skips the stage instead of aborting
		run      func(context.Context, *Summary) error
	}{
		{"containers", false, r.syncContainers},
		{"tests", false, r.syncTests},
		{"panel categories", false, r.syncCategories},
		{"panels", false, r.syncPanels},
		{"preanalytics", true, r.syncPreanalytics},
		{"requirements", true, r.syncRequirements},
		{"linked panels", true, r.syncLinked},
	}

	for _, stage := range stages {
		r.log.Info().Str("stage", stage.name).Msg("sync stage start")
		err := stage.run(ctx, sum)
		if err == nil {
			continue
		}
		if stage.optional && errors.Is(err, nacpp.ErrCatalogNotFound) {
			r.log.Warn().Str("stage", stage.name).Msg("catalog absent on this installation, stage skipped")
			continue
		}
		return sum, fmt.Errorf("sync %s: %w", stage.name, err)
	}

	return sum, nil
}

func tally(stats *StageStats, created bool) {
	if created {
		stats.Created++
	} else {
		stats.Updated++
	}
}

func (r *Reconciler) syncContainers(ctx context.Context, sum *Summary) error {
	root, err := r.fetch.ContainerTypes(ctx)
	if err != nil {
		return err
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, node := range root.FindElements(".//containertype") {
			code := xmlx.Attr(node, "code", "")
			if code == "" {
				sum.Containers.Invalid++
				continue
			}
			created, err := r.repo.UpsertContainerType(ctx, &ContainerType{
				Code:  code,
				Name:  strings.TrimSpace(node.Text()),
				Color: xmlx.Attr(node, "color", ""),
			})
			if err != nil {
				return err
			}
			tally(&sum.Containers, created)
		}
		return nil
	})
}

func (r *Reconciler) syncTests(ctx context.Context, sum *Summary) error {
	root, err := r.fetch.Tests(ctx)
	if err != nil {
		return err
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, node := range root.FindElements(".//test") {
			code := xmlx.FirstMatch(node, []string{"code"}, "")
			if code == "" {
				sum.Tests.Invalid++
				continue
			}

			test := &Test{
				Code:        code,
				Name:        xmlx.Text(node, "name", code),
				Unit:        xmlx.Text(node, "unit", ""),
				Method:      xmlx.Text(node, "method", ""),
				Description: xmlx.Text(node, "description", ""),
				Low:         xmlx.Text(node, "low", ""),
				High:        xmlx.Text(node, "high", ""),
			}
			created, err := r.repo.UpsertTest(ctx, test)
			if err != nil {
				return err
			}
			tally(&sum.Tests, created)

			idx := 0
			for _, a := range node.FindElements("./analytes/analyte") {
				idx++
				aCode := xmlx.FirstMatch(a, []string{"code"}, "")
				aName := xmlx.FirstMatch(a, []string{"name"}, "")

				// The upstream sometimes omits analyte codes; synthesize a
				// deterministic one so re-syncs hit the same row.
				if aCode == "" {
					key := aName
					if key == "" {
						key = fmt.Sprintf("#%d", idx)
					}
					aCode = code + "::" + key
				}
				if aName == "" {
					aName = aCode
				}

				aCreated, err := r.repo.UpsertAnalyte(ctx, &Analyte{
					TestID:   test.ID,
					Code:     aCode,
					Name:     aName,
					Unit:     xmlx.FirstMatch(a, []string{"unit"}, test.Unit),
					NormLow:  xmlx.FirstMatch(a, []string{"low"}, ""),
					NormHigh: xmlx.FirstMatch(a, []string{"high"}, ""),
				})
				if err != nil {
					return err
				}
				tally(&sum.Analytes, aCreated)
			}
		}
		return nil
	})
}

// syncCategories walks the category tree recursively; the walk order
// guarantees every parent is upserted before its children, which is what
// makes the parent FK resolvable in a single pass.
func (r *Reconciler) syncCategories(ctx context.Context, sum *Summary) error {
	root, err := r.fetch.PanelCategories(ctx)
	if err != nil {
		return err
	}

	var walk func(ctx context.Context, node *etree.Element, parentID *uuid.UUID) error
	walk = func(ctx context.Context, node *etree.Element, parentID *uuid.UUID) error {
		if node.Tag != "category" {
			return nil
		}
		code := xmlx.Attr(node, "code", "")
		if code == "" {
			sum.Categories.Invalid++
			return nil
		}

		cat := &PanelCategory{
			Code:     code,
			Name:     xmlx.Text(node, "name", code),
			Sorter:   parseSorter(xmlx.Attr(node, "sorter", "")),
			ParentID: parentID,
		}
		created, err := r.repo.UpsertPanelCategory(ctx, cat)
		if err != nil {
			return err
		}
		tally(&sum.Categories, created)

		if children := node.FindElement("./categories"); children != nil {
			for _, child := range children.FindElements("./category") {
				if err := walk(ctx, child, &cat.ID); err != nil {
					return err
				}
			}
		}
		return nil
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, top := range root.FindElements("./category") {
			if err := walk(ctx, top, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Reconciler) syncPanels(ctx context.Context, sum *Summary) error {
	root, err := r.fetch.Panels(ctx, true)
	if err != nil {
		return err
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, node := range root.FindElements(".//panel") {
			code := xmlx.FirstMatch(node, []string{"code"}, "")
			if code == "" {
				sum.Panels.Invalid++
				continue
			}

			panel := &Panel{
				Code:         code,
				Name:         xmlx.Text(node, "name", code),
				Duration:     xmlx.Text(node, "duration", ""),
				CategoryCode: xmlx.Attr(node, "category", ""),
			}
			created, err := r.repo.UpsertPanel(ctx, panel)
			if err != nil {
				return err
			}
			tally(&sum.Panels, created)

			// Resolve the category FK post-hoc; write only on change. A
			// category_code never seen in any sync leaves the FK unset.
			if panel.CategoryCode != "" {
				cat, err := r.repo.GetPanelCategoryByCode(ctx, panel.CategoryCode)
				if err != nil {
					return err
				}
				switch {
				case cat == nil:
					sum.PanelsFKMissing++
				case panel.CategoryID == nil || *panel.CategoryID != cat.ID:
					if err := r.repo.SetPanelCategory(ctx, panel.ID, &cat.ID); err != nil {
						return err
					}
				}
			}

			if err := r.syncPanelContainers(ctx, sum, panel, node); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Reconciler) syncPanelContainers(ctx context.Context, sum *Summary, panel *Panel, node *etree.Element) error {
	for _, ctn := range node.FindElements(".//containers/container") {
		bioCode := xmlx.Attr(ctn, "biomaterial", "")
		if bioCode == "" {
			bioCode = xmlx.DeepSearch(ctn, []string{"biomaterial"})
		}
		contCode := xmlx.Attr(ctn, "containertype", "")
		if contCode == "" {
			contCode = xmlx.DeepSearch(ctn, []string{"containertype"})
		}
		matName := xmlx.Attr(ctn, "matdakks", "")

		var bio *Biomaterial
		if bioCode != "" {
			name := matName
			if name == "" {
				name = bioCode
			}
			bio = &Biomaterial{Code: bioCode, Name: name}
			if _, err := r.repo.UpsertBiomaterial(ctx, bio); err != nil {
				return err
			}
		}

		// Container types are assumed fully synced at stage 1; resolve only.
		var containerTypeID *uuid.UUID
		if contCode != "" {
			cont, err := r.repo.GetContainerTypeByCode(ctx, contCode)
			if err != nil {
				return err
			}
			if cont != nil {
				containerTypeID = &cont.ID
			}
		}

		if bio != nil {
			created, err := r.repo.EnsurePanelMaterial(ctx, panel.ID, bio.ID, containerTypeID)
			if err != nil {
				return err
			}
			if created {
				sum.Materials.Created++
			} else {
				sum.Materials.Unchanged++
			}
		}

		for _, tnode := range ctn.FindElements("./test") {
			tCode := xmlx.FirstMatch(tnode, []string{"code"}, "")
			if tCode == "" {
				sum.PanelTests.Invalid++
				continue
			}
			test, err := r.repo.GetTestByCode(ctx, tCode)
			if err != nil {
				return err
			}
			if test == nil {
				// Unknown test codes are skipped, never fabricated here.
				sum.PanelTests.Skipped++
				continue
			}
			created, err := r.repo.EnsurePanelTest(ctx, panel.ID, test.ID)
			if err != nil {
				return err
			}
			if created {
				sum.PanelTests.Created++
			} else {
				sum.PanelTests.Unchanged++
			}
		}
	}
	return nil
}

func (r *Reconciler) syncPreanalytics(ctx context.Context, sum *Summary) error {
	root, err := r.fetch.Preanalytics(ctx)
	if err != nil {
		return err
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, node := range root.FindElements(".//preanalytic") {
			code := xmlx.Text(node, "panel_code", "")
			if code == "" {
				sum.Preanalytics.Invalid++
				continue
			}
			panel, err := r.repo.GetPanelByCode(ctx, code)
			if err != nil {
				return err
			}
			if panel == nil {
				sum.Preanalytics.Skipped++
				continue
			}

			created, err := r.repo.UpsertPanelPreanalytic(ctx, &PanelPreanalytic{
				PanelID:               panel.ID,
				Training:              xmlx.Text(node, "training", ""),
				Centrifugation:        xmlx.Text(node, "centrifugation", ""),
				StorageTransportation: xmlx.Text(node, "storage_transportation", ""),
				Note:                  xmlx.Text(node, "note", ""),
				MinCount:              xmlx.Text(node, "min_count", ""),
			})
			if err != nil {
				return err
			}
			tally(&sum.Preanalytics, created)
		}
		return nil
	})
}

func (r *Reconciler) syncRequirements(ctx context.Context, sum *Summary) error {
	root, err := r.fetch.TestsRequirements(ctx)
	if err != nil {
		return err
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, node := range root.FindElements(".//field") {
			code := xmlx.FirstMatch(node, []string{"code"}, "")
			if code == "" {
				sum.Requirements.Invalid++
				continue
			}

			req := &TestRequirement{
				FieldCode:   code,
				Name:        xmlx.Text(node, "name", code),
				Description: xmlx.Text(node, "description", ""),
			}
			created, err := r.repo.UpsertTestRequirement(ctx, req)
			if err != nil {
				return err
			}
			tally(&sum.Requirements, created)

			var testIDs []uuid.UUID
			for _, tnode := range node.FindElements(".//dependent_tests/test") {
				tCode := strings.TrimSpace(tnode.Text())
				if tCode == "" {
					continue
				}
				test, err := r.repo.GetTestByCode(ctx, tCode)
				if err != nil {
					return err
				}
				if test == nil {
					continue
				}
				testIDs = append(testIDs, test.ID)
			}
			if err := r.repo.ReplaceRequirementTests(ctx, req.ID, testIDs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Reconciler) syncLinked(ctx context.Context, sum *Summary) error {
	root, err := r.fetch.LinkedPanels(ctx)
	if err != nil {
		return err
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, rel := range root.FindElements(".//relation") {
			mainCode := xmlx.Text(rel, "main", "")
			if mainCode == "" {
				sum.Linked.Invalid++
				continue
			}
			mainPanel, err := r.repo.GetPanelByCode(ctx, mainCode)
			if err != nil {
				return err
			}
			if mainPanel == nil {
				sum.Linked.Skipped++
				continue
			}

			for _, ex := range rel.FindElements(".//extra") {
				extraCode := strings.TrimSpace(ex.Text())
				if extraCode == "" {
					continue
				}
				extraPanel, err := r.repo.GetPanelByCode(ctx, extraCode)
				if err != nil {
					return err
				}
				if extraPanel == nil {
					sum.Linked.Skipped++
					continue
				}
				created, err := r.repo.EnsurePanelLinked(ctx, mainPanel.ID, extraPanel.ID)
				if err != nil {
					return err
				}
				if created {
					sum.Linked.Created++
				} else {
					sum.Linked.Unchanged++
				}
			}
		}
		return nil
	})
}

func parseSorter(raw string) *int {
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}
