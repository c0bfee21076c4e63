package statestore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ripple/internal/testutil"
)

func TestSetState_CoalescesOneWindow(t *testing.T) {
	s, _ := newTestStore(t, State{"count": 0, "name": "a"})

	rec := &testutil.Recorder{}
	_, err := s.SubscribeState(All(), rec.Record, WithoutInitialFire())
	require.NoError(t, err)

	window(t, s, func() {
		mustSet(t, s, State{"count": 1})
		mustSet(t, s, State{"count": 2})
	})

	calls := rec.All()
	require.Len(t, calls, 1, "exactly one cycle per window")
	assert.Equal(t, State{"count": 2, "name": "a"}, calls[0].State)
	assert.Equal(t, State{"count": 0, "name": "a"}, calls[0].Prev)
	assert.Equal(t, int64(1), s.CycleSeq())
}

func TestSetState_ReturnsMergedStateImmediately(t *testing.T) {
	s, _ := newTestStore(t, State{"a": 1})

	got, err := s.SetState(State{"b": 2})
	require.NoError(t, err)
	assert.Equal(t, State{"a": 1, "b": 2}, got)

	cur, err := s.GetState()
	require.NoError(t, err)
	assert.Equal(t, State{"a": 1, "b": 2}, cur)
}

func TestSetState_NoOpWhenValuesEqual(t *testing.T) {
	m, _ := newTestMetrics(t)
	s, _ := newTestStore(t, State{"count": 0, "tags": []any{"x"}}, WithMetrics(m))

	rec := &testutil.Recorder{}
	_, err := s.SubscribeState(All(), rec.Record, WithoutInitialFire())
	require.NoError(t, err)

	window(t, s, func() {
		mustSet(t, s, State{"count": 0, "tags": []any{"x"}})
	})

	assert.Equal(t, 0, rec.Count())
	assert.Equal(t, int64(0), s.CycleSeq())
}

func TestSetState_NaNIsNotAChange(t *testing.T) {
	s, _ := newTestStore(t, State{"x": math.NaN()})

	rec := &testutil.Recorder{}
	_, err := s.SubscribeState(All(), rec.Record, WithoutInitialFire())
	require.NoError(t, err)

	window(t, s, func() { mustSet(t, s, State{"x": math.NaN()}) })

	assert.Zero(t, rec.Count())
	assert.Equal(t, int64(0), s.CycleSeq())
}

func TestSetState_RevertedWithinWindowIsNoOp(t *testing.T) {
	s, _ := newTestStore(t, State{"count": 0})

	rec := &testutil.Recorder{}
	_, err := s.SubscribeState(All(), rec.Record, WithoutInitialFire())
	require.NoError(t, err)

	window(t, s, func() {
		mustSet(t, s, State{"count": 1})
		mustSet(t, s, State{"count": 0})
	})

	assert.Equal(t, 0, rec.Count(), "a key set back to its emitted value is not a change")
}

func TestSetState_ConsecutiveWindowsChainPrev(t *testing.T) {
	s, _ := newTestStore(t, State{"n": 0})

	rec := &testutil.Recorder{}
	_, err := s.SubscribeState(All(), rec.Record, WithoutInitialFire())
	require.NoError(t, err)

	window(t, s, func() { mustSet(t, s, State{"n": 1}) })
	window(t, s, func() { mustSet(t, s, State{"n": 2}) })

	calls := rec.All()
	require.Len(t, calls, 2)
	assert.Equal(t, State{"n": 0}, calls[0].Prev)
	assert.Equal(t, State{"n": 1}, calls[1].Prev)
	assert.Equal(t, State{"n": 2}, calls[1].State)
}

func TestSetState_CallerCannotMutateStore(t *testing.T) {
	s, _ := newTestStore(t, State{})

	tags := []any{"a"}
	mustSet(t, s, State{"tags": tags})
	tags[0] = "changed"

	got, err := s.GetState()
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, got["tags"])

	got["tags"].([]any)[0] = "changed again"
	again, err := s.GetState()
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, again["tags"])
}

func TestToggle(t *testing.T) {
	s, _ := newTestStore(t, State{"open": false, "name": "x"})

	got, err := s.Toggle("open")
	require.NoError(t, err)
	assert.Equal(t, true, got["open"])

	_, err = s.Toggle("name")
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
	assert.ErrorIs(t, err, ErrNotBoolean)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "name", se.Key)

	_, err = s.Toggle("missing")
	assert.True(t, IsTypeError(err))
}

func TestCloneKey(t *testing.T) {
	s, _ := newTestStore(t, State{"user": map[string]any{"name": "ada"}})

	v, err := s.CloneKey("user")
	require.NoError(t, err)
	v.(map[string]any)["name"] = "grace"

	again, err := s.CloneKey("user")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada"}, again)

	missing, err := s.CloneKey("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDestroy_InvalidatesStore(t *testing.T) {
	s, _ := newTestStore(t, State{"a": 1})
	sub, err := s.SubscribeState(All(), func(State, State) {}, WithoutInitialFire())
	require.NoError(t, err)

	require.NoError(t, s.Destroy())

	_, err = s.GetState()
	assert.True(t, IsDestroyed(err))
	_, err = s.SetState(State{"a": 2})
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = s.Toggle("a")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, s.ThrottledSetState(0, State{"a": 2}), ErrDestroyed)
	_, err = s.SubscribeState(All(), func(State, State) {})
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = s.SubscribeAction(All(), func(Action, State) {})
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = s.DispatchType("x")
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = s.CloneKey("a")
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, s.Batch(context.Background(), func() {}), ErrDestroyed)
	assert.ErrorIs(t, s.Destroy(), ErrDestroyed)

	assert.NotPanics(t, sub.Unsubscribe)
}

func TestDestroy_StopsOwnLoop(t *testing.T) {
	s, err := New(State{"a": 1})
	require.NoError(t, err)

	window(t, s, func() { mustSet(t, s, State{"a": 2}) })
	require.NoError(t, s.Destroy())

	assert.Eventually(t, func() bool {
		return !s.Loop().Post(func() {})
	}, time.Second, 5*time.Millisecond, "store-owned loop is stopped")
}

func TestError_Format(t *testing.T) {
	err := newNotBooleanError("flag", 3)
	assert.Equal(t, "NOT_BOOLEAN: value is int, not bool (key=flag)", err.Error())
	assert.Equal(t, "DESTROYED: store has been destroyed", ErrDestroyed.Error())
	assert.True(t, IsConfigError(ErrConflictingFilters))
	assert.True(t, IsConfigError(newConfigError("bad")))
	assert.False(t, IsConfigError(ErrDestroyed))
}
