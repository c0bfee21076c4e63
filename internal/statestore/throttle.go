package statestore

import (
	"time"

	"github.com/roach88/ripple/internal/deep"
	"github.com/roach88/ripple/internal/loop"
)

// throttleQueues holds one pending buffer and one flush loop per window
// duration. Guarded by the store lock.
type throttleQueues struct {
	pending map[time.Duration]State
	running map[time.Duration]*loop.Timer
}

func newThrottleQueues() throttleQueues {
	return throttleQueues{
		pending: make(map[time.Duration]State),
		running: make(map[time.Duration]*loop.Timer),
	}
}

// reset drops every buffer and cancels every flush loop.
func (q *throttleQueues) reset() {
	for _, t := range q.running {
		t.Stop()
	}
	q.pending = make(map[time.Duration]State)
	q.running = make(map[time.Duration]*loop.Timer)
}

// ThrottledSetState buffers partial and applies it with SetState at most
// once per cycle window.
//
// The first call for a duration starts a flush loop that waits one window,
// merges the buffer into the state, and repeats while new updates keep
// arriving. Each call also writes its keys into every other pending
// buffer, so overlapping windows never flush a stale value for a key.
func (s *Store) ThrottledSetState(cycle time.Duration, partial State) error {
	if cycle < 0 {
		return newConfigError("throttle window must not be negative, got %s", cycle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrDestroyed
	}

	if _, ok := s.throttle.pending[cycle]; !ok {
		s.throttle.pending[cycle] = State{}
	}
	for k, v := range partial {
		v = deep.Clone(v)
		for _, buf := range s.throttle.pending {
			buf[k] = v
		}
	}

	if _, running := s.throttle.running[cycle]; !running {
		s.armThrottleLocked(cycle)
	}
	return nil
}

// armThrottleLocked waits one window before the next flush. Caller holds s.mu.
func (s *Store) armThrottleLocked(cycle time.Duration) {
	t := s.loop.After(cycle, func() { s.flushThrottle(cycle) })
	if t == nil {
		delete(s.throttle.running, cycle)
		return
	}
	s.throttle.running[cycle] = t
}

// flushThrottle applies the buffer for cycle, if any, and re-arms.
// The loop stops once a window passes without new updates.
func (s *Store) flushThrottle(cycle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}

	buf, ok := s.throttle.pending[cycle]
	if !ok {
		delete(s.throttle.running, cycle)
		return
	}
	delete(s.throttle.pending, cycle)

	s.mergeLocked(buf)
	s.metrics.flushed()
	s.armThrottleLocked(cycle)
}
