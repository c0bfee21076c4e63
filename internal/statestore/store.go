package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/ripple/internal/deep"
	"github.com/roach88/ripple/internal/loop"
)

// State is a flat record of top-level keys.
type State = map[string]any

// Store is a reactive state container.
//
// INVARIANTS:
//   - state, emitted and prev are never mutated in place; every change
//     builds a new map, so snapshots captured by a cycle stay valid
//   - keysChanged only holds keys that differed from emitted when set
//   - at most one cycle is pending at a time (cyclePending)
type Store struct {
	loop     *loop.Loop
	stopLoop context.CancelFunc // nil when the loop is caller-owned
	logger   *slog.Logger
	metrics  *Metrics
	ids      IDGenerator
	seq      Seq

	mu           sync.Mutex
	destroyed    bool
	state        State
	emitted      State
	prev         State
	keysChanged  map[string]struct{}
	cyclePending bool

	stateSubs  registry[StateFunc]
	actionSubs registry[ActionFunc]
	throttle   throttleQueues

	bridge *bridge // nil without persistence
}

// New creates a store holding initial.
//
// With WithPersistence the entry already in the backend is merged over
// initial (persisted values win), the filtered result is written back, and
// the store starts following changes other contexts make to the entry.
// Persisted values must be JSON-encodable: NaN and infinities make the
// write fail, so New returns an error and later cycles log one.
func New(initial State, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		logger:      logger,
		metrics:     cfg.metrics,
		ids:         cfg.ids,
		keysChanged: make(map[string]struct{}),
		throttle:    newThrottleQueues(),
	}

	state := deep.CloneMap(initial)
	if state == nil {
		state = State{}
	}

	if cfg.persistence != nil {
		b, err := newBridge(*cfg.persistence, cfg.backendTimeout, logger, cfg.metrics)
		if err != nil {
			return nil, err
		}
		persisted, err := b.load()
		if err != nil {
			return nil, fmt.Errorf("load persisted state: %w", err)
		}
		for k, v := range persisted {
			state[k] = v
		}
		if err := b.write(state); err != nil {
			return nil, fmt.Errorf("write persisted state: %w", err)
		}
		s.bridge = b
		s.logger = logger.With("storage_key", b.key)
	}

	s.state = state
	s.emitted = state

	if cfg.loop != nil {
		s.loop = cfg.loop
	} else {
		s.loop = loop.New(loop.WithClock(cfg.clock), loop.WithLogger(s.logger))
		ctx, cancel := context.WithCancel(context.Background())
		s.stopLoop = cancel
		go func() {
			_ = s.loop.Run(ctx)
		}()
	}

	if s.bridge != nil {
		if err := s.bridge.watch(s.onExternalChange); err != nil {
			if s.stopLoop != nil {
				s.stopLoop()
			}
			return nil, fmt.Errorf("watch persisted state: %w", err)
		}
	}

	return s, nil
}

// Loop returns the loop the store runs on.
func (s *Store) Loop() *loop.Loop {
	return s.loop
}

// GetState returns a copy of the current state, including updates whose
// cycle has not run yet.
func (s *Store) GetState() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	return deep.CloneMap(s.state), nil
}

// SetState shallow-merges partial into the state and schedules a cycle.
// Returns the merged state; subscribers are notified later, once per window.
//
// A window is one loop task. Calls made on the loop (from callbacks or
// throttle flushes) share the current window; calls from outside the loop
// coalesce only when they run inside Batch.
func (s *Store) SetState(partial State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	s.mergeLocked(partial)
	return deep.CloneMap(s.state), nil
}

// Toggle flips a boolean value.
func (s *Store) Toggle(key string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	cur, ok := s.state[key].(bool)
	if !ok {
		return nil, newNotBooleanError(key, s.state[key])
	}
	s.mergeLocked(State{key: !cur})
	return deep.CloneMap(s.state), nil
}

// CloneKey returns a deep copy of one value. Missing keys yield nil.
func (s *Store) CloneKey(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	return deep.Clone(s.state[key]), nil
}

// CycleSeq returns the sequence number of the last committed cycle
// (0 before the first one).
func (s *Store) CycleSeq() int64 {
	return s.seq.Current()
}

// Batch runs fn on the loop as one synchronous window and returns after the
// cycle it opened has been delivered. Updates made inside fn are coalesced.
//
// Must not be called from a subscriber callback (it would deadlock the loop).
func (s *Store) Batch(ctx context.Context, fn func()) error {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	return s.loop.Do(ctx, fn)
}

// Destroy removes the persisted entry, drops every subscription and pending
// throttle buffer, and stops the store-owned loop. Every later call fails
// with ErrDestroyed.
func (s *Store) Destroy() error {
	return s.shutdown(true)
}

// Close is Destroy without removing the persisted entry, for processes that
// are done with a store whose state should outlive them.
func (s *Store) Close() error {
	return s.shutdown(false)
}

func (s *Store) shutdown(remove bool) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.destroyed = true
	s.stateSubs.clear()
	s.actionSubs.clear()
	s.throttle.reset()
	s.keysChanged = nil
	b := s.bridge
	s.bridge = nil
	s.mu.Unlock()

	var err error
	if b != nil {
		if cerr := b.close(remove); cerr != nil {
			err = fmt.Errorf("remove persisted state: %w", cerr)
		}
	}
	if s.stopLoop != nil {
		s.stopLoop()
	}

	s.logger.Debug("store shut down", "removed", remove)
	return err
}

// mergeLocked applies partial and schedules a cycle. Caller holds s.mu.
func (s *Store) mergeLocked(partial State) {
	next := make(State, len(s.state)+len(partial))
	for k, v := range s.state {
		next[k] = v
	}
	for k, v := range partial {
		v = deep.Clone(v)
		next[k] = v

		ev, ok := s.emitted[k]
		if !ok || !deep.Equal(v, ev) {
			s.keysChanged[k] = struct{}{}
		}
	}
	s.state = next
	s.scheduleCycleLocked()
}
