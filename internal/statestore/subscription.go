package statestore

import (
	"sync"
)

// StateFunc receives the new state and the previously emitted state.
// prev is nil before the first cycle.
type StateFunc func(state, prev State)

// ActionFunc receives a dispatched action and the current state.
type ActionFunc func(action Action, state State)

// Scope selects which state keys (or action types) a subscription follows.
// The zero value follows everything.
type Scope struct {
	keys []string // nil means all
}

// All returns a scope matching every key or action type.
func All() Scope {
	return Scope{}
}

// Keys returns a scope matching any of the given keys or action types.
func Keys(keys ...string) Scope {
	return Scope{keys: append(make([]string, 0, len(keys)), keys...)}
}

// IsAll reports whether the scope matches everything.
func (s Scope) IsAll() bool {
	return s.keys == nil
}

// Values returns the scoped keys (nil for All).
func (s Scope) Values() []string {
	if s.keys == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

func (s Scope) validate() error {
	if s.keys != nil && len(s.keys) == 0 {
		return newConfigError("scope must name at least one key")
	}
	return nil
}

// matches reports whether a single key or type is in scope.
func (s Scope) matches(k string) bool {
	if s.keys == nil {
		return true
	}
	for _, key := range s.keys {
		if key == k {
			return true
		}
	}
	return false
}

// intersects reports whether any changed key is in scope.
func (s Scope) intersects(changed map[string]struct{}) bool {
	if s.keys == nil {
		return true
	}
	for _, key := range s.keys {
		if _, ok := changed[key]; ok {
			return true
		}
	}
	return false
}

// SubscribeOption configures SubscribeState.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	fireImmediately bool
}

// WithoutInitialFire skips the initial (state, prev) delivery that
// SubscribeState schedules by default.
func WithoutInitialFire() SubscribeOption {
	return func(c *subscribeConfig) {
		c.fireImmediately = false
	}
}

// Subscription is a handle on a registered callback.
type Subscription struct {
	id     string
	remove func()
	once   sync.Once
}

func newSubscription(id string, remove func()) *Subscription {
	return &Subscription{id: id, remove: remove}
}

// ID returns the subscription id.
func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe removes the callback. Calling it again is a no-op.
// A cycle that already captured its subscriber list still delivers.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.remove)
}

// registry keeps subscriptions in registration order.
// Not synchronised; the store lock guards it.
type registry[F any] struct {
	entries []entry[F]
}

type entry[F any] struct {
	id    string
	scope Scope
	fn    F
}

func (r *registry[F]) add(e entry[F]) {
	r.entries = append(r.entries, e)
}

func (r *registry[F]) remove(id string) bool {
	for i, e := range r.entries {
		if e.id == id {
			// Copy so snapshots handed out earlier stay intact
			next := make([]entry[F], 0, len(r.entries)-1)
			next = append(next, r.entries[:i]...)
			r.entries = append(next, r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry[F]) contains(id string) bool {
	for _, e := range r.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

// snapshot returns the current entries; the slice must not be modified.
func (r *registry[F]) snapshot() []entry[F] {
	return r.entries
}

func (r *registry[F]) clear() {
	r.entries = nil
}

func (r *registry[F]) len() int {
	return len(r.entries)
}
