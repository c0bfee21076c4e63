package statestore

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ripple/internal/persist"
	"github.com/roach88/ripple/internal/testutil"
)

func newSpace(t *testing.T) *persist.MemorySpace {
	t.Helper()
	space := persist.NewMemorySpace()
	t.Cleanup(func() { _ = space.Close() })
	return space
}

// readPersisted decodes the entry stored for id, or nil if there is none.
func readPersisted(t *testing.T, b persist.Backend, id string) map[string]any {
	t.Helper()
	data, ok, err := b.Get(context.Background(), persist.Key(id))
	require.NoError(t, err)
	if !ok {
		return nil
	}
	state, err := persist.Decode(data)
	require.NoError(t, err)
	return state
}

func TestPersistence_IncludeKeysRoundTrip(t *testing.T) {
	space := newSpace(t)
	s, _ := newTestStore(t, State{"a": 1, "b": 2}, WithPersistence(PersistenceConfig{
		StorageID:   "s1",
		IncludeKeys: []string{"a"},
		Backend:     space.Handle(),
	}))

	window(t, s, func() { mustSet(t, s, State{"a": 5, "b": 9}) })

	assert.Equal(t, map[string]any{"a": 5.0}, readPersisted(t, space.Handle(), "s1"))
}

func TestPersistence_ExcludeKeys(t *testing.T) {
	space := newSpace(t)
	s, _ := newTestStore(t, State{"a": 1, "secret": "x"}, WithPersistence(PersistenceConfig{
		StorageID:   "s1",
		ExcludeKeys: []string{"secret"},
		Backend:     space.Handle(),
	}))

	window(t, s, func() { mustSet(t, s, State{"a": 2, "secret": "y"}) })

	assert.Equal(t, map[string]any{"a": 2.0}, readPersisted(t, space.Handle(), "s1"))
}

func TestPersistence_WrittenBeforeDelivery(t *testing.T) {
	space := newSpace(t)
	s, _ := newTestStore(t, State{"a": 1, "secret": "x"}, WithPersistence(PersistenceConfig{
		StorageID:   "s1",
		ExcludeKeys: []string{"secret"},
		Backend:     space.Handle(),
	}))

	reader := space.Handle()
	var (
		seen    []byte
		found   bool
		readErr error
	)
	_, err := s.SubscribeState(Keys("a"), func(state, prev State) {
		seen, found, readErr = reader.Get(context.Background(), persist.Key("s1"))
	}, WithoutInitialFire())
	require.NoError(t, err)

	window(t, s, func() { mustSet(t, s, State{"a": 2, "secret": "y"}) })

	require.NoError(t, readErr)
	require.True(t, found, "entry should exist when subscribers run")
	persisted, err := persist.Decode(seen)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 2.0}, persisted)
}

func TestPersistence_UnencodableInitialState(t *testing.T) {
	space := newSpace(t)
	_, err := New(State{"x": math.NaN()}, WithPersistence(PersistenceConfig{
		StorageID: "s1",
		Backend:   space.Handle(),
	}))
	require.Error(t, err)
	assert.Nil(t, readPersisted(t, space.Handle(), "s1"))
}

func TestPersistence_EmptyIncludePersistsNothing(t *testing.T) {
	space := newSpace(t)
	_, _ = newTestStore(t, State{"a": 1}, WithPersistence(PersistenceConfig{
		StorageID:   "s1",
		IncludeKeys: []string{},
		Backend:     space.Handle(),
	}))

	assert.Equal(t, map[string]any{}, readPersisted(t, space.Handle(), "s1"))
}

func TestPersistence_PersistedValuesWin(t *testing.T) {
	space := newSpace(t)
	seed := space.Handle()
	require.NoError(t, seed.Set(context.Background(), persist.Key("s1"), []byte(`{"a":7,"c":true}`)))

	s, _ := newTestStore(t, State{"a": 1, "b": 2}, WithPersistence(PersistenceConfig{
		StorageID: "s1",
		Backend:   space.Handle(),
	}))

	got, err := s.GetState()
	require.NoError(t, err)
	assert.Equal(t, State{"a": 7.0, "b": 2, "c": true}, got)
	assert.Equal(t, map[string]any{"a": 7.0, "b": 2.0, "c": true}, readPersisted(t, seed, "s1"))
}

func TestPersistence_MalformedEntryIgnored(t *testing.T) {
	space := newSpace(t)
	seed := space.Handle()
	require.NoError(t, seed.Set(context.Background(), persist.Key("s1"), []byte(`{not json`)))

	s, _ := newTestStore(t, State{"a": 1}, WithPersistence(PersistenceConfig{
		StorageID: "s1",
		Backend:   space.Handle(),
	}))

	got, err := s.GetState()
	require.NoError(t, err)
	assert.Equal(t, State{"a": 1}, got)
	assert.Equal(t, map[string]any{"a": 1.0}, readPersisted(t, seed, "s1"), "entry is rewritten")
}

func TestPersistence_ConfigValidation(t *testing.T) {
	space := newSpace(t)

	tests := []struct {
		name string
		cfg  PersistenceConfig
		want error
	}{
		{
			name: "conflicting filters",
			cfg: PersistenceConfig{
				StorageID:   "s1",
				IncludeKeys: []string{"a"},
				ExcludeKeys: []string{"b"},
				Backend:     space.Handle(),
			},
			want: ErrConflictingFilters,
		},
		{
			name: "missing storage id",
			cfg:  PersistenceConfig{Backend: space.Handle()},
		},
		{
			name: "missing backend",
			cfg:  PersistenceConfig{StorageID: "s1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(State{}, WithPersistence(tt.cfg))
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestPersistence_NoOpSkipsWrite(t *testing.T) {
	space := newSpace(t)
	m, reg := newTestMetrics(t)
	s, _ := newTestStore(t, State{"a": 1}, WithMetrics(m), WithPersistence(PersistenceConfig{
		StorageID: "s1",
		Backend:   space.Handle(),
	}))
	writes := func() float64 {
		return counterValue(t, reg, "ripple_statestore_persist_writes_total", "result", "ok")
	}
	require.Equal(t, 1.0, writes(), "construction writes once")

	window(t, s, func() { mustSet(t, s, State{"a": 1}) })
	assert.Equal(t, 1.0, writes())

	window(t, s, func() { mustSet(t, s, State{"a": 2}) })
	assert.Equal(t, 2.0, writes())
}

func TestPersistence_DestroyRemovesEntry(t *testing.T) {
	space := newSpace(t)
	s, _ := newTestStore(t, State{"a": 1}, WithPersistence(PersistenceConfig{
		StorageID: "s1",
		Backend:   space.Handle(),
	}))
	require.NotNil(t, readPersisted(t, space.Handle(), "s1"))

	require.NoError(t, s.Destroy())
	assert.Nil(t, readPersisted(t, space.Handle(), "s1"))
}

func TestPersistence_CloseKeepsEntry(t *testing.T) {
	space := newSpace(t)
	s, _ := newTestStore(t, State{"a": 1}, WithPersistence(PersistenceConfig{
		StorageID: "s1",
		Backend:   space.Handle(),
	}))
	window(t, s, func() { mustSet(t, s, State{"a": 2}) })

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrDestroyed)
	_, err := s.GetState()
	assert.True(t, IsDestroyed(err))

	assert.Equal(t, map[string]any{"a": 2.0}, readPersisted(t, space.Handle(), "s1"))

	reopened, _ := newTestStore(t, State{"a": 0}, WithPersistence(PersistenceConfig{
		StorageID: "s1",
		Backend:   space.Handle(),
	}))
	got, err := reopened.GetState()
	require.NoError(t, err)
	assert.Equal(t, State{"a": 2.0}, got)
}

func TestPersistence_ExternalChangeApplied(t *testing.T) {
	space := newSpace(t)
	ma, rega := newTestMetrics(t)
	cfg := func() PersistenceConfig {
		return PersistenceConfig{StorageID: "shared", Backend: space.Handle()}
	}

	a, _ := newTestStore(t, State{"n": 0}, WithMetrics(ma), WithPersistence(cfg()))
	b, _ := newTestStore(t, State{"n": 0}, WithPersistence(cfg()))

	recA, recB := &testutil.Recorder{}, &testutil.Recorder{}
	_, err := a.SubscribeState(All(), recA.Record, WithoutInitialFire())
	require.NoError(t, err)
	_, err = b.SubscribeState(All(), recB.Record, WithoutInitialFire())
	require.NoError(t, err)

	window(t, a, func() { mustSet(t, a, State{"n": 5}) })

	assert.Eventually(t, func() bool {
		got, err := b.GetState()
		return err == nil && got["n"] == 5.0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return recB.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// b's echo write compares equal in a and is dropped
	assert.Eventually(t, func() bool {
		return counterValue(t, rega, "ripple_statestore_external_changes_total", "result", "ignored") >= 1
	}, 2*time.Second, 5*time.Millisecond)
	settle(t, a)
	assert.Equal(t, 1, recA.Count())
	assert.Equal(t, 0.0, counterValue(t, rega, "ripple_statestore_external_changes_total", "result", "applied"))
}

func TestPersistence_ExternalChangeFiltered(t *testing.T) {
	space := newSpace(t)
	s, _ := newTestStore(t, State{"a": 1, "local": "x"}, WithPersistence(PersistenceConfig{
		StorageID:   "s1",
		IncludeKeys: []string{"a"},
		Backend:     space.Handle(),
	}))

	other := space.Handle()
	require.NoError(t, other.Set(context.Background(), persist.Key("s1"), []byte(`{"a":3,"local":"y","extra":1}`)))

	assert.Eventually(t, func() bool {
		got, err := s.GetState()
		return err == nil && got["a"] == 3.0
	}, 2*time.Second, 5*time.Millisecond)

	got, err := s.GetState()
	require.NoError(t, err)
	assert.Equal(t, State{"a": 3.0, "local": "x"}, got, "keys outside the filter are not imported")
}

func TestPersistence_SQLiteAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	open := func() *persist.SQLite {
		db, err := persist.OpenSQLite(path, persist.WithPollInterval(10*time.Millisecond))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return db
	}

	a, _ := newTestStore(t, State{"theme": "light"}, WithPersistence(PersistenceConfig{
		StorageID: "prefs",
		Backend:   open(),
	}))
	b, _ := newTestStore(t, State{"theme": "light"}, WithPersistence(PersistenceConfig{
		StorageID: "prefs",
		Backend:   open(),
	}))

	window(t, a, func() { mustSet(t, a, State{"theme": "dark"}) })

	assert.Eventually(t, func() bool {
		got, err := b.GetState()
		return err == nil && got["theme"] == "dark"
	}, 5*time.Second, 10*time.Millisecond)
}
