package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists values in a Postgres table. It is meant for a participant
// that keeps its checkpoints in a local database instead of a file.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dbURL and makes sure the kv table exists.
func OpenPostgres(ctx context.Context, dbURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS retroboard_kv (
		key text NOT NULL PRIMARY KEY,
		value text NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create retroboard_kv: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM retroboard_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PGStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO retroboard_kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	return err
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
