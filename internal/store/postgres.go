package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPersister keeps annotations in PostgreSQL so they survive
// restarts. Presence records themselves are deliberately not persisted.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// NewPersister returns a nil Persister when databaseURL is empty; the
// store then runs memory-only.
func NewPersister(ctx context.Context, databaseURL string) (Persister, error) {
	if databaseURL == "" {
		return nil, nil
	}
	p, err := NewPostgresPersister(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func NewPostgresPersister(ctx context.Context, databaseURL string) (*PostgresPersister, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresPersister{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS presence_kv (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, key)
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init schema failed on %q: %w", stmt, err)
	}
	return nil
}

func (p *PostgresPersister) SetKV(ctx context.Context, userID, key, value string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO presence_kv (user_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, key) DO UPDATE SET value = $3, updated_at = now()`,
		userID, key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert kv: %w", err)
	}
	return nil
}

func (p *PostgresPersister) DeleteKV(ctx context.Context, userID, key string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM presence_kv WHERE user_id = $1 AND key = $2`,
		userID, key,
	)
	if err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}

func (p *PostgresPersister) LoadKV(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id, key, value FROM presence_kv`)
	if err != nil {
		return nil, fmt.Errorf("query kv: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]string)
	for rows.Next() {
		var userID, key, value string
		if err := rows.Scan(&userID, &key, &value); err != nil {
			return nil, fmt.Errorf("scan kv row: %w", err)
		}
		if out[userID] == nil {
			out[userID] = make(map[string]string)
		}
		out[userID][key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv rows: %w", err)
	}
	return out, nil
}

func (p *PostgresPersister) Close() error {
	p.pool.Close()
	return nil
}
