package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key doesn't exist
	ErrNotFound = errors.New("key not found")
)

// Store is the durable key-value storage behind the request queue.
// Every method is a single-key atomic operation.
type Store interface {
	// Get returns the value for key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put inserts or replaces the value for key
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored entry
	List(ctx context.Context) (map[string][]byte, error)
}

// Clearer is implemented by stores that can drop every entry in one atomic step.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Clear empties s, atomically when s implements Clearer.
func Clear(ctx context.Context, s Store) error {
	if c, ok := s.(Clearer); ok {
		return c.Clear(ctx)
	}
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	for key := range entries {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
