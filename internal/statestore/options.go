package statestore

import (
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/roach88/ripple/internal/loop"
	"github.com/roach88/ripple/internal/persist"
)

// DefaultBackendTimeout bounds every persistent store call.
const DefaultBackendTimeout = 5 * time.Second

// PersistenceConfig mirrors a filtered subset of the state into a backend.
type PersistenceConfig struct {
	// StorageID identifies the entry; it is namespaced with persist.Key.
	StorageID string

	// IncludeKeys, when non-nil, persists only these keys.
	IncludeKeys []string

	// ExcludeKeys persists everything except these keys.
	// Mutually exclusive with IncludeKeys.
	ExcludeKeys []string

	// Backend is the shared key-value space.
	Backend persist.Backend
}

// Option configures a Store.
type Option func(*config)

type config struct {
	loop           *loop.Loop
	clock          clock.Clock
	logger         *slog.Logger
	metrics        *Metrics
	ids            IDGenerator
	persistence    *PersistenceConfig
	backendTimeout time.Duration
}

func defaultConfig() *config {
	return &config{
		clock:          clock.NewClock(),
		logger:         slog.Default(),
		ids:            UUIDv7Generator{},
		backendTimeout: DefaultBackendTimeout,
	}
}

// WithPersistence enables synchronisation with a persistent backend.
func WithPersistence(p PersistenceConfig) Option {
	return func(c *config) {
		c.persistence = &p
	}
}

// WithLoop runs the store on a caller-owned loop. The caller is responsible
// for running and stopping it. Without this option the store starts its own
// loop and stops it on Destroy.
func WithLoop(l *loop.Loop) Option {
	return func(c *config) {
		c.loop = l
	}
}

// WithClock sets the clock of the store-owned loop. Ignored with WithLoop.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		c.clock = clk
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics records store activity on m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithIDGenerator sets the subscription id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *config) {
		c.ids = g
	}
}

// WithBackendTimeout bounds each persistent store call.
// Default: 5s (DefaultBackendTimeout).
func WithBackendTimeout(d time.Duration) Option {
	return func(c *config) {
		c.backendTimeout = d
	}
}
