package config

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/ripple/internal/persist"
	"github.com/roach88/ripple/internal/statestore"
)

// OpenBackend opens the backend a definition names. The returned closer
// releases the underlying database or space.
func OpenBackend(def BackendDef, logger *slog.Logger) (persist.Backend, io.Closer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch def.Kind {
	case KindMemory, "":
		space := persist.NewMemorySpace()
		return space.Handle(), space, nil
	case KindBolt:
		space, err := persist.OpenBolt(def.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt backend: %w", err)
		}
		return space.Handle(), space, nil
	case KindSQLite:
		opts := []persist.SQLiteOption{persist.WithSQLiteLogger(logger)}
		if def.PollInterval > 0 {
			opts = append(opts, persist.WithPollInterval(def.PollInterval))
		}
		db, err := persist.OpenSQLite(def.Path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return db, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend kind %q", def.Kind)
	}
}

// StoreOptions returns the statestore options for def. Persistence is only
// enabled when the definition has a storage id.
func (d *Definition) StoreOptions(backend persist.Backend) []statestore.Option {
	if d.StorageID == "" {
		return nil
	}
	return []statestore.Option{
		statestore.WithPersistence(statestore.PersistenceConfig{
			StorageID:   d.StorageID,
			IncludeKeys: d.IncludeKeys,
			ExcludeKeys: d.ExcludeKeys,
			Backend:     backend,
		}),
	}
}
