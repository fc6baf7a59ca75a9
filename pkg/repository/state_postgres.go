package repository

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore keeps keys in the sync_state table of the state database
type PostgresStore struct {
	backend *PostgresBackend
}

func NewPostgresStore(backend *PostgresBackend) *PostgresStore {
	return &PostgresStore{backend: backend}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.backend.DB().QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.backend.DB().ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.backend.DB().ExecContext(ctx, `DELETE FROM sync_state WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.backend.DB().QueryContext(ctx, `SELECT key FROM sync_state ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.backend.Close()
}
