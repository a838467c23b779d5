package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/agromarket/internal/errs"
)

// Store is a storage.Storage over one namespace of client_storage.
type Store struct {
	db        *DB
	namespace string
}

// NewStore constructs a Store for namespace, e.g. "default:long".
func NewStore(db *DB, namespace string) *Store {
	return &Store{db: db, namespace: namespace}
}

// Get implements storage.Storage.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM client_storage WHERE namespace=$1 AND key=$2`
	var v string
	err := s.db.Pool.QueryRow(ctx, q, s.namespace, key).Scan(&v)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
}

// Set implements storage.Storage.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO client_storage (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
	if _, err := s.db.Pool.Exec(ctx, q, s.namespace, key, value); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return nil
}

// Remove implements storage.Storage.
func (s *Store) Remove(ctx context.Context, key string) error {
	const q = `DELETE FROM client_storage WHERE namespace=$1 AND key=$2`
	if _, err := s.db.Pool.Exec(ctx, q, s.namespace, key); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return nil
}

// Clear implements storage.Storage.
func (s *Store) Clear(ctx context.Context) error {
	const q = `DELETE FROM client_storage WHERE namespace=$1`
	if _, err := s.db.Pool.Exec(ctx, q, s.namespace); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return nil
}
