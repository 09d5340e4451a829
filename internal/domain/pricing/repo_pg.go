package pricing

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

func (r *repoPG) ServicesByCodes(ctx context.Context, codes []string) (map[string]*Service, error) {
	out := make(map[string]*Service, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, code, name, cost, currency, duration, comment, panel_id, created_at, updated_at
		FROM service WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("services by codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		s := &Service{}
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Cost, &s.Currency,
			&s.Duration, &s.Comment, &s.PanelID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out[s.Code] = s
	}
	return out, rows.Err()
}

func (r *repoPG) PanelsByCodes(ctx context.Context, codes []string) (map[string]*PanelRef, error) {
	out := make(map[string]*PanelRef, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, code, name FROM panel WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("panels by codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p := &PanelRef{}
		if err := rows.Scan(&p.ID, &p.Code, &p.Name); err != nil {
			return nil, err
		}
		out[p.Code] = p
	}
	return out, rows.Err()
}

func (r *repoPG) BulkCreate(ctx context.Context, services []*Service) error {
	if len(services) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range services {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO service (id, code, name, cost, currency, duration, comment, panel_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			s.ID, s.Code, s.Name, s.Cost, s.Currency, s.Duration, s.Comment, s.PanelID)
	}
	return r.sendBatch(ctx, batch)
}

func (r *repoPG) BulkUpdate(ctx context.Context, services []*Service) error {
	if len(services) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range services {
		batch.Queue(`
			UPDATE service
			SET cost = $2, currency = $3, panel_id = $4, updated_at = NOW()
			WHERE id = $1`,
			s.ID, s.Cost, s.Currency, s.PanelID)
	}
	return r.sendBatch(ctx, batch)
}

func (r *repoPG) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	var res pgx.BatchResults
	if tx := db.TxFromContext(ctx); tx != nil {
		res = tx.SendBatch(ctx, batch)
	} else {
		res = r.pool.SendBatch(ctx, batch)
	}
	defer res.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("batch write: %w", err)
		}
	}
	return nil
}

func (r *repoPG) UpsertService(ctx context.Context, s *Service) (bool, error) {
	var created bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO service (id, code, name, cost, currency, duration, comment, panel_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			name = $3, cost = $4, currency = $5, duration = $6, comment = $7,
			panel_id = $8, updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), s.Code, s.Name, s.Cost, s.Currency, s.Duration, s.Comment, s.PanelID).
		Scan(&s.ID, &created)
	return created, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Service, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM service`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, code, name, cost, currency, duration, comment, panel_id, created_at, updated_at
		FROM service ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Service
	for rows.Next() {
		s := &Service{}
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Cost, &s.Currency,
			&s.Duration, &s.Comment, &s.PanelID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
