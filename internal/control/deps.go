// Package control wires the orchestrator and worker processes from config.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/erawatcher/internal/core/config"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/infra/bus"
	redisclient "github.com/vietddude/erawatcher/internal/infra/redis"
	"github.com/vietddude/erawatcher/internal/infra/storage"
	"github.com/vietddude/erawatcher/internal/infra/storage/memory"
	"github.com/vietddude/erawatcher/internal/infra/storage/postgres"
)

// Deps are the backends shared by every role: storage, the progress ledger
// and the message bus.
type Deps struct {
	Config  *config.AppConfig
	Store   *storage.Store
	Tracker *progress.Tracker
	Bus     bus.Bus

	db    *postgres.DB
	redis *redisclient.Client
}

// Open connects the backends named in cfg. An empty database URL selects
// in-memory storage and an empty redis URL selects the in-memory ledger and
// bus, which only reach workers in the same process.
func Open(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	d := &Deps{Config: cfg}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		d.db = db
		d.Store = db.Store()
		slog.Info("Using PostgreSQL storage")
	} else {
		d.Store, _ = memory.NewStore()
		slog.Info("Using Memory storage")
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		d.redis = client
		d.Tracker = progress.NewTracker(client)
		d.Bus = redisclient.NewBus(client)
		slog.Info("Using Redis progress ledger and bus")
	} else {
		d.Tracker = progress.NewTracker(progress.NewMemoryStore())
		d.Bus = bus.NewMemoryBus()
		slog.Info("Using in-process progress ledger and bus")
	}

	return d, nil
}

// Distributed reports whether workers in other processes can reach this bus.
func (d *Deps) Distributed() bool {
	return d.redis != nil
}

// DB returns the postgres handle, nil in memory mode.
func (d *Deps) DB() *postgres.DB {
	return d.db
}

// Close releases the connections opened by Open.
func (d *Deps) Close() error {
	var errs []error
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
