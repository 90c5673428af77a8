package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/resilink/internal/infra/storage"
)

// Store implements storage.Store on a single table, partitioned by namespace.
type Store struct {
	db        *DB
	namespace string
}

// NewStore creates a store scoped to namespace.
func NewStore(db *DB, namespace string) *Store {
	return &Store{db: db, namespace: namespace}
}

type entryRow struct {
	Key   string `db:"entry_key"`
	Value string `db:"entry_value"`
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	query := s.db.Rebind(`SELECT entry_value FROM queue_entries WHERE namespace = ? AND entry_key = ?`)
	err := s.db.GetContext(ctx, &value, query, s.namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return []byte(value), nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	query := s.db.Rebind(`
		INSERT INTO queue_entries (namespace, entry_key, entry_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, entry_key)
		DO UPDATE SET entry_value = excluded.entry_value, updated_at = excluded.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query, s.namespace, key, string(value), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to put entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	query := s.db.Rebind(`DELETE FROM queue_entries WHERE namespace = ? AND entry_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, s.namespace, key); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) (map[string][]byte, error) {
	var rows []entryRow
	query := s.db.Rebind(`SELECT entry_key, entry_value FROM queue_entries WHERE namespace = ?`)
	if err := s.db.SelectContext(ctx, &rows, query, s.namespace); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Key] = []byte(r.Value)
	}
	return out, nil
}

// Clear removes the whole namespace in one statement.
func (s *Store) Clear(ctx context.Context) error {
	query := s.db.Rebind(`DELETE FROM queue_entries WHERE namespace = ?`)
	if _, err := s.db.ExecContext(ctx, query, s.namespace); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Clearer = (*Store)(nil)
)
