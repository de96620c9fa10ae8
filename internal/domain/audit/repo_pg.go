package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vxs/registro/internal/platform/store"
)

type pgRepo struct {
	pool *pgxpool.Pool
}

func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool}
}

func (r *pgRepo) UpsertLastEdit(ctx context.Context, userName string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO last_edit (id, user_name, timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET user_name = EXCLUDED.user_name, timestamp = EXCLUDED.timestamp`,
		singletonID, userName, at,
	)
	return store.Wrap(Table+".upsert", err)
}

func (r *pgRepo) GetLastEdit(ctx context.Context) (*LastEdit, error) {
	var (
		le LastEdit
		ts time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_name, timestamp FROM last_edit WHERE id = $1`, singletonID,
	).Scan(&le.ID, &le.UserName, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	le.Timestamp = ts.Format(time.RFC3339)
	return &le, nil
}
