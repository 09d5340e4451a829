package orders

import (
	"context"
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

func (r *repoPG) GetOrCreateOrder(ctx context.Context, number string) (*Order, bool, error) {
	o := &Order{Number: number}
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_order (id, number)
		VALUES ($1, $2)
		ON CONFLICT (number) DO UPDATE SET updated_at = NOW()
		RETURNING id, status, (xmax = 0)`,
		uuid.New(), number).Scan(&o.ID, &o.Status, &created)
	if err != nil {
		return nil, false, fmt.Errorf("get or create order %s: %w", number, err)
	}
	return o, created, nil
}

func (r *repoPG) UpsertOrderPanel(ctx context.Context, op *OrderPanel) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO order_panel (id, order_id, panel_id, panel_code, status, released_doctor)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, panel_code) DO UPDATE SET
			panel_id = COALESCE(order_panel.panel_id, $3),
			status = $5, released_doctor = $6, updated_at = NOW()
		RETURNING id`,
		uuid.New(), op.OrderID, op.PanelID, op.PanelCode, op.Status, op.ReleasedDoctor).
		Scan(&op.ID)
}

func (r *repoPG) EnsureResultEntry(ctx context.Context, e *ResultEntry) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM result_entry
			WHERE order_panel_id = $1
			  AND test_id IS NOT DISTINCT FROM $2
			  AND analyte_id IS NOT DISTINCT FROM $3
			  AND value = $4 AND unit = $5 AND norm_low = $6 AND norm_high = $7
			  AND comment = $8 AND raw_result = $9
		)`,
		e.OrderPanelID, e.TestID, e.AnalyteID, e.Value, e.Unit,
		e.NormLow, e.NormHigh, e.Comment, e.RawResult).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO result_entry (id, order_panel_id, test_id, analyte_id, value, unit,
			norm_low, norm_high, comment, raw_result, released_doctor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		uuid.New(), e.OrderPanelID, e.TestID, e.AnalyteID, e.Value, e.Unit,
		e.NormLow, e.NormHigh, e.Comment, e.RawResult, e.ReleasedDoctor).Scan(&e.ID)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repoPG) ResultsByOrderPanel(ctx context.Context, orderPanelID uuid.UUID) ([]*ResultEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_panel_id, test_id, analyte_id, value, unit,
			norm_low, norm_high, comment, raw_result, released_doctor, created_at
		FROM result_entry WHERE order_panel_id = $1 ORDER BY created_at`, orderPanelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ResultEntry
	for rows.Next() {
		e := &ResultEntry{}
		if err := rows.Scan(&e.ID, &e.OrderPanelID, &e.TestID, &e.AnalyteID, &e.Value,
			&e.Unit, &e.NormLow, &e.NormHigh, &e.Comment, &e.RawResult,
			&e.ReleasedDoctor, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
