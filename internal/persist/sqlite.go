package persist

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on changes.key
const currentSchemaVersion = 1

// DefaultPollInterval is how often a SQLite handle checks the change log.
const DefaultPollInterval = 250 * time.Millisecond

// changeRetention is how many change rows are kept behind the newest one.
const changeRetention = 1024

// SQLite is a Backend handle on a SQLite file.
// Several handles, in one process or many, may open the same file.
type SQLite struct {
	db       *sql.DB
	origin   string
	hub      *Hub
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	pollMu  sync.Mutex // serialises PollOnce
	mu      sync.Mutex
	lastSeq int64
	polling bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

var _ Backend = (*SQLite)(nil)

// SQLiteOption configures a SQLite handle.
type SQLiteOption func(*SQLite)

// WithPollInterval sets how often the change log is polled.
// Default: 250ms (DefaultPollInterval).
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLite) {
		s.interval = d
	}
}

// WithPollClock sets the clock driving the poller (fakeclock in tests).
func WithPollClock(c clock.Clock) SQLiteOption {
	return func(s *SQLite) {
		s.clock = c
	}
}

// WithSQLiteLogger sets the logger used for poll failures.
func WithSQLiteLogger(logger *slog.Logger) SQLiteOption {
	return func(s *SQLite) {
		s.logger = logger
	}
}

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention between processes
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &SQLite{
		db:       db,
		origin:   newOrigin(),
		hub:      NewHub(),
		clock:    clock.NewClock(),
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Watchers only see changes made after the handle was opened
	if err := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM changes").Scan(&s.lastSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read change log position: %w", err)
	}

	return s, nil
}

// Get returns the value stored under key.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key and appends a change row.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return s.writeChange(ctx, key, false, func(tx *sql.Tx, seq int64) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entries (key, value, origin, updated_seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				origin = excluded.origin,
				updated_seq = excluded.updated_seq
		`, key, value, s.origin, seq)
		return err
	})
}

// Remove deletes key and appends a change row if it existed.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	_, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	return s.writeChange(ctx, key, true, func(tx *sql.Tx, _ int64) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
		return err
	})
}

// writeChange records a change row and applies the entry mutation in one
// transaction.
func (s *SQLite) writeChange(ctx context.Context, key string, removed bool, apply func(*sql.Tx, int64) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write %q: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO changes (key, origin, removed) VALUES (?, ?, ?)
	`, key, s.origin, removed)
	if err != nil {
		return fmt.Errorf("write %q: log change: %w", key, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("write %q: change seq: %w", key, err)
	}

	if err := apply(tx, seq); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM changes WHERE seq <= ?`, seq-changeRetention); err != nil {
		return fmt.Errorf("write %q: prune change log: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write %q: commit: %w", key, err)
	}
	return nil
}

// Watch registers fn for changes to key made by other handles and starts
// the poller on first use.
func (s *SQLite) Watch(key string, fn func(Change)) (func(), error) {
	cancel, err := s.hub.Subscribe(key, s.origin, fn)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.polling {
		s.polling = true
		s.wg.Add(1)
		go s.poll()
	}
	return cancel, nil
}

// poll checks the change log every interval until Close.
func (s *SQLite) poll() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C():
			if err := s.PollOnce(context.Background()); err != nil {
				s.logger.Warn("sqlite change poll failed", "error", err)
			}
		}
	}
}

// PollOnce reads new change rows and publishes them to watchers.
// It is called by the poller; tests may call it directly.
func (s *SQLite) PollOnce(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.mu.Lock()
	from := s.lastSeq
	s.mu.Unlock()

	// ORDER BY seq keeps notifications in write order
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.seq, c.key, c.origin, c.removed, e.value
		FROM changes c
		LEFT JOIN entries e ON e.key = c.key
		WHERE c.seq > ?
		ORDER BY c.seq ASC
	`, from)
	if err != nil {
		return fmt.Errorf("poll changes: %w", err)
	}

	var changes []Change
	last := from
	for rows.Next() {
		var (
			c     Change
			seq   int64
			value []byte
		)
		if err := rows.Scan(&seq, &c.Key, &c.Origin, &c.Removed, &value); err != nil {
			rows.Close()
			return fmt.Errorf("poll changes: scan: %w", err)
		}
		if !c.Removed {
			c.NewValue = value
		}
		last = seq
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("poll changes: %w", err)
	}
	rows.Close()

	s.mu.Lock()
	if last > s.lastSeq {
		s.lastSeq = last
	}
	s.mu.Unlock()

	for _, c := range changes {
		if err := s.hub.Publish(c); err != nil {
			return fmt.Errorf("poll changes: publish: %w", err)
		}
	}
	return nil
}

// Close stops the poller and closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	select {
	case <-s.stop:
		s.mu.Unlock()
		return nil
	default:
		close(s.stop)
	}
	s.mu.Unlock()

	s.wg.Wait()
	_ = s.hub.Close()
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes the change log by key.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_changes_key ON changes(key)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
