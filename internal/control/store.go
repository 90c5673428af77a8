package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vietddude/resilink/internal/core/config"
	redisclient "github.com/vietddude/resilink/internal/infra/redis"
	"github.com/vietddude/resilink/internal/infra/storage"
	"github.com/vietddude/resilink/internal/infra/storage/memory"
	"github.com/vietddude/resilink/internal/infra/storage/sqlstore"
)

// openedStore is the queue's durable store plus what has to be closed with it.
type openedStore struct {
	store  storage.Store
	db     *sqlstore.DB
	closer io.Closer
}

// OpenStore opens the durable store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, io.Closer, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return s.store, s.closer, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (*openedStore, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}

	switch cfg.Driver {
	case "", config.DriverMemory:
		slog.Info("Using memory storage")
		return &openedStore{store: memory.NewMemoryStorage()}, nil

	case config.DriverRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("Using Redis storage", "namespace", namespace)
		return &openedStore{store: redisclient.NewQueueStore(client, namespace), closer: client}, nil

	case config.DriverPostgres:
		dbCfg := cfg.Database
		if dbCfg.Driver == "" {
			dbCfg.Driver = "pgx"
		}
		db, err := sqlstore.NewDB(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		slog.Info("Using PostgreSQL storage", "driver", db.Driver(), "namespace", namespace)
		return &openedStore{store: sqlstore.NewStore(db, namespace), db: db, closer: db}, nil

	case config.DriverSQLite:
		db, err := sqlstore.NewDB(ctx, sqlstore.Config{Driver: "sqlite3", Path: cfg.SQLite.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to init sqlite: %w", err)
		}
		slog.Info("Using SQLite storage", "path", cfg.SQLite.Path, "namespace", namespace)
		return &openedStore{store: sqlstore.NewStore(db, namespace), db: db, closer: db}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
