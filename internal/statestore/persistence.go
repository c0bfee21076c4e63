package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ripple/internal/deep"
	"github.com/roach88/ripple/internal/persist"
)

// bridge mirrors the filtered state into a persistent backend.
type bridge struct {
	backend persist.Backend
	key     string
	filter  persist.Filter
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex // serialises writes against close
	closed bool
	cancel func()
}

func newBridge(cfg PersistenceConfig, timeout time.Duration, logger *slog.Logger, m *Metrics) (*bridge, error) {
	f := persist.Filter{Include: cfg.IncludeKeys, Exclude: cfg.ExcludeKeys}
	if f.Conflicting() {
		return nil, ErrConflictingFilters
	}
	if cfg.StorageID == "" {
		return nil, newConfigError("persistence requires a storage id")
	}
	if cfg.Backend == nil {
		return nil, newConfigError("persistence requires a backend")
	}

	key := persist.Key(cfg.StorageID)
	return &bridge{
		backend: cfg.Backend,
		key:     key,
		filter:  f,
		timeout: timeout,
		logger:  logger.With("storage_key", key),
		metrics: m,
	}, nil
}

func (b *bridge) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// load reads the persisted entry. A missing entry is an empty state.
// Malformed content is logged and treated as an empty state too, so a
// corrupted entry can never prevent a store from starting.
func (b *bridge) load() (State, error) {
	ctx, cancel := b.context()
	defer cancel()

	data, ok, err := b.backend.Get(ctx, b.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return State{}, nil
	}

	state, err := persist.Decode(data)
	if err != nil {
		b.logger.Warn("ignoring malformed persisted state", "error", err)
		return State{}, nil
	}
	return state, nil
}

// write persists the filtered state. No-op after close.
func (b *bridge) write(state State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	data, err := persist.Encode(b.filter.Apply(state))
	if err == nil {
		ctx, cancel := b.context()
		err = b.backend.Set(ctx, b.key, data)
		cancel()
	}
	b.metrics.persisted(err)
	return err
}

// watch follows changes made by other contexts.
func (b *bridge) watch(fn func(persist.Change)) error {
	cancel, err := b.backend.Watch(b.key, fn)
	if err != nil {
		return err
	}
	b.cancel = cancel
	return nil
}

// close stops watching and, if remove is set, removes the persisted entry.
func (b *bridge) close(remove bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	if !remove {
		return nil
	}

	ctx, cancel := b.context()
	defer cancel()
	if err := b.backend.Remove(ctx, b.key); err != nil {
		return fmt.Errorf("remove %q: %w", b.key, err)
	}
	return nil
}

// onExternalChange runs on a backend goroutine; the work happens on the loop.
func (s *Store) onExternalChange(c persist.Change) {
	s.loop.Post(s.reconcile)
}

// reconcile re-reads the persisted entry and applies it if it differs from
// the current state. Writes this store caused itself compare equal and are
// ignored, which keeps two contexts from echoing each other forever.
func (s *Store) reconcile() {
	s.mu.Lock()
	b := s.bridge
	s.mu.Unlock()
	if b == nil {
		return
	}

	persisted, err := b.load()
	if err != nil {
		s.logger.Error("reload persisted state failed", "error", err)
		return
	}
	incoming := b.filter.Apply(persisted)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}

	merged := make(State, len(s.state)+len(incoming))
	for k, v := range s.state {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	if deep.Equal(s.state, merged) {
		s.metrics.external("ignored")
		return
	}

	s.metrics.external("applied")
	s.logger.Debug("applying external state change", "keys", len(incoming))
	s.mergeLocked(incoming)
}
