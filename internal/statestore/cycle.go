package statestore

import (
	"sort"

	"github.com/roach88/ripple/internal/deep"
)

// scheduleCycleLocked defers one cycle to the end of the current window.
// Idempotent while a cycle is pending. Caller holds s.mu.
func (s *Store) scheduleCycleLocked() {
	if s.cyclePending {
		return
	}
	s.cyclePending = true
	if !s.loop.Defer(s.runCycle) {
		s.cyclePending = false
		s.logger.Warn("cycle not scheduled: loop stopped")
	}
}

// runCycle is the coalesced notification pass: persist, deliver, advance.
// CRITICAL: runs on the loop goroutine only.
func (s *Store) runCycle() {
	s.mu.Lock()
	s.cyclePending = false
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	// Keys set back to their emitted value within the window drop out
	changed := make(map[string]struct{}, len(s.keysChanged))
	for k := range s.keysChanged {
		ev, ok := s.emitted[k]
		if !ok || !deep.Equal(s.state[k], ev) {
			changed[k] = struct{}{}
		}
	}
	s.keysChanged = make(map[string]struct{})

	if len(changed) == 0 {
		s.mu.Unlock()
		s.metrics.cycle("skipped")
		return
	}

	// Advance before delivering so re-entrant SetState calls from a
	// subscriber diff against the new snapshot and open a new cycle.
	state := s.state
	prev := s.emitted
	s.prev = prev
	s.emitted = state
	seq := s.seq.Next()
	subs := s.stateSubs.snapshot()
	b := s.bridge
	s.mu.Unlock()

	if b != nil {
		if err := b.write(state); err != nil {
			s.logger.Error("persist state failed", "seq", seq, "error", err)
		}
	}

	delivered := 0
	for _, sub := range subs {
		if !sub.scope.intersects(changed) {
			continue
		}
		s.invokeState(sub.id, sub.fn, deep.CloneMap(state), deep.CloneMap(prev))
		delivered++
	}

	s.metrics.cycle("committed")
	s.logger.Debug("state cycle committed",
		"seq", seq,
		"keys", sortedKeys(changed),
		"delivered", delivered,
	)
}

// invokeState calls a state subscriber, recovering and logging panics so
// the remaining subscribers still run.
func (s *Store) invokeState(id string, fn StateFunc, state, prev State) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panicked("state")
			s.logger.Error("state subscriber panicked", "subscription", id, "panic", r)
		}
	}()
	s.metrics.delivered()
	fn(state, prev)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
