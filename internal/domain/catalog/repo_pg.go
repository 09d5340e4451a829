package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labsync/labsync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Upserts use single-statement ON CONFLICT updates; (xmax = 0) distinguishes
// a fresh insert from an update of an existing row.

func (r *repoPG) UpsertContainerType(ctx context.Context, ct *ContainerType) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO container_type (id, code, name, color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = $3, color = $4, updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), ct.Code, ct.Name, ct.Color).Scan(&ct.ID, &created)
	return created, err
}

func (r *repoPG) UpsertBiomaterial(ctx context.Context, b *Biomaterial) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO biomaterial (id, code, name, barcode_info)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = $3, barcode_info = $4, updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), b.Code, b.Name, b.BarcodeInfo).Scan(&b.ID, &created)
	return created, err
}

func (r *repoPG) UpsertTest(ctx context.Context, t *Test) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test (id, code, name, unit, method, description, low, high)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			name = $3, unit = $4, method = $5, description = $6, low = $7, high = $8,
			updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), t.Code, t.Name, t.Unit, t.Method, t.Description, t.Low, t.High).
		Scan(&t.ID, &created)
	return created, err
}

func (r *repoPG) UpsertAnalyte(ctx context.Context, a *Analyte) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO analyte (id, test_id, code, name, unit, norm_low, norm_high)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (test_id, code) DO UPDATE SET
			name = $4, unit = $5, norm_low = $6, norm_high = $7, updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), a.TestID, a.Code, a.Name, a.Unit, a.NormLow, a.NormHigh).
		Scan(&a.ID, &created)
	return created, err
}

func (r *repoPG) UpsertPanelCategory(ctx context.Context, c *PanelCategory) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO panel_category (id, code, name, sorter, parent_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = $3, sorter = $4, parent_id = $5, updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), c.Code, c.Name, c.Sorter, c.ParentID).Scan(&c.ID, &created)
	return created, err
}

// UpsertPanel deliberately leaves category_id alone: the FK is resolved
// post-hoc from category_code and written via SetPanelCategory.
func (r *repoPG) UpsertPanel(ctx context.Context, p *Panel) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO panel (id, code, name, duration, category_code)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = $3, duration = $4, category_code = $5, updated_at = NOW()
		RETURNING id, category_id, (xmax = 0)`,
		uuid.New(), p.Code, p.Name, p.Duration, p.CategoryCode).
		Scan(&p.ID, &p.CategoryID, &created)
	return created, err
}

func (r *repoPG) UpsertPanelPreanalytic(ctx context.Context, p *PanelPreanalytic) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO panel_preanalytic
			(id, panel_id, training, centrifugation, storage_transportation, note, min_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (panel_id) DO UPDATE SET
			training = $3, centrifugation = $4, storage_transportation = $5,
			note = $6, min_count = $7, updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), p.PanelID, p.Training, p.Centrifugation, p.StorageTransportation,
		p.Note, p.MinCount).Scan(&p.ID, &created)
	return created, err
}

func (r *repoPG) UpsertTestRequirement(ctx context.Context, req *TestRequirement) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_requirement (id, field_code, name, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (field_code) DO UPDATE SET
			name = $3, description = $4, updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), req.FieldCode, req.Name, req.Description).Scan(&req.ID, &created)
	return created, err
}

func (r *repoPG) SetPanelCategory(ctx context.Context, panelID uuid.UUID, categoryID *uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE panel SET category_id = $2, updated_at = NOW() WHERE id = $1`,
		panelID, categoryID)
	return err
}

func (r *repoPG) ReplaceRequirementTests(ctx context.Context, requirementID uuid.UUID, testIDs []uuid.UUID) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx,
		`DELETE FROM test_requirement_test WHERE requirement_id = $1`, requirementID); err != nil {
		return fmt.Errorf("clear requirement tests: %w", err)
	}
	for _, testID := range testIDs {
		if _, err := conn.Exec(ctx, `
			INSERT INTO test_requirement_test (requirement_id, test_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			requirementID, testID); err != nil {
			return fmt.Errorf("add requirement test: %w", err)
		}
	}
	return nil
}

// Ensure* rely on ON CONFLICT DO NOTHING: a returned row means created.
// The panel_material unique index is declared NULLS NOT DISTINCT so that an
// absent container type still participates in the natural key.

func (r *repoPG) EnsurePanelMaterial(ctx context.Context, panelID, biomaterialID uuid.UUID, containerTypeID *uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO panel_material (id, panel_id, biomaterial_id, container_type_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (panel_id, biomaterial_id, container_type_id) DO NOTHING`,
		uuid.New(), panelID, biomaterialID, containerTypeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) EnsurePanelTest(ctx context.Context, panelID, testID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO panel_test (id, panel_id, test_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (panel_id, test_id) DO NOTHING`,
		uuid.New(), panelID, testID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) EnsurePanelLinked(ctx context.Context, mainPanelID, extraPanelID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO panel_linked (id, main_panel_id, extra_panel_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (main_panel_id, extra_panel_id) DO NOTHING`,
		uuid.New(), mainPanelID, extraPanelID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *repoPG) GetContainerTypeByCode(ctx context.Context, code string) (*ContainerType, error) {
	var ct ContainerType
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, name, color, created_at, updated_at
		FROM container_type WHERE code = $1`, code).
		Scan(&ct.ID, &ct.Code, &ct.Name, &ct.Color, &ct.CreatedAt, &ct.UpdatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func (r *repoPG) GetTestByCode(ctx context.Context, code string) (*Test, error) {
	var t Test
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, name, unit, method, description, low, high, created_at, updated_at
		FROM test WHERE code = $1`, code).
		Scan(&t.ID, &t.Code, &t.Name, &t.Unit, &t.Method, &t.Description, &t.Low, &t.High,
			&t.CreatedAt, &t.UpdatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) GetPanelByCode(ctx context.Context, code string) (*Panel, error) {
	var p Panel
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, name, duration, category_code, category_id, created_at, updated_at
		FROM panel WHERE code = $1`, code).
		Scan(&p.ID, &p.Code, &p.Name, &p.Duration, &p.CategoryCode, &p.CategoryID,
			&p.CreatedAt, &p.UpdatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) GetPanelCategoryByCode(ctx context.Context, code string) (*PanelCategory, error) {
	var c PanelCategory
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, name, sorter, parent_id, created_at, updated_at
		FROM panel_category WHERE code = $1`, code).
		Scan(&c.ID, &c.Code, &c.Name, &c.Sorter, &c.ParentID, &c.CreatedAt, &c.UpdatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) ListPanels(ctx context.Context, categoryCode string, limit, offset int) ([]*Panel, int, error) {
	query := `SELECT id, code, name, duration, category_code, category_id, created_at, updated_at FROM panel`
	countQuery := `SELECT COUNT(*) FROM panel`
	var args []interface{}
	if categoryCode != "" {
		query += ` WHERE category_code = $1`
		countQuery += ` WHERE category_code = $1`
		args = append(args, categoryCode)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY code LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var panels []*Panel
	for rows.Next() {
		var p Panel
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Duration, &p.CategoryCode,
			&p.CategoryID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		panels = append(panels, &p)
	}
	return panels, total, rows.Err()
}

func (r *repoPG) PanelMaterials(ctx context.Context, panelID uuid.UUID) ([]*PanelMaterial, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, panel_id, biomaterial_id, container_type_id, created_at
		FROM panel_material WHERE panel_id = $1`, panelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var materials []*PanelMaterial
	for rows.Next() {
		var m PanelMaterial
		if err := rows.Scan(&m.ID, &m.PanelID, &m.BiomaterialID, &m.ContainerTypeID, &m.CreatedAt); err != nil {
			return nil, err
		}
		materials = append(materials, &m)
	}
	return materials, rows.Err()
}

func (r *repoPG) PanelTests(ctx context.Context, panelID uuid.UUID) ([]*Test, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT t.id, t.code, t.name, t.unit, t.method, t.description, t.low, t.high,
			t.created_at, t.updated_at
		FROM panel_test pt JOIN test t ON t.id = pt.test_id
		WHERE pt.panel_id = $1 ORDER BY t.code`, panelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.Unit, &t.Method, &t.Description,
			&t.Low, &t.High, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tests = append(tests, &t)
	}
	return tests, rows.Err()
}

func (r *repoPG) PanelPreanalyticByPanel(ctx context.Context, panelID uuid.UUID) (*PanelPreanalytic, error) {
	var p PanelPreanalytic
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, panel_id, training, centrifugation, storage_transportation, note, min_count, updated_at
		FROM panel_preanalytic WHERE panel_id = $1`, panelID).
		Scan(&p.ID, &p.PanelID, &p.Training, &p.Centrifugation, &p.StorageTransportation,
			&p.Note, &p.MinCount, &p.UpdatedAt)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) LinkedPanelCodes(ctx context.Context, mainPanelID uuid.UUID) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.code FROM panel_linked pl JOIN panel p ON p.id = pl.extra_panel_id
		WHERE pl.main_panel_id = $1 ORDER BY p.code`, mainPanelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *repoPG) AnalytesByTest(ctx context.Context, testID uuid.UUID) ([]*Analyte, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, test_id, code, name, unit, norm_low, norm_high, created_at, updated_at
		FROM analyte WHERE test_id = $1 ORDER BY code`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analytes []*Analyte
	for rows.Next() {
		var a Analyte
		if err := rows.Scan(&a.ID, &a.TestID, &a.Code, &a.Name, &a.Unit, &a.NormLow,
			&a.NormHigh, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		analytes = append(analytes, &a)
	}
	return analytes, rows.Err()
}
