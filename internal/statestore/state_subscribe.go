package statestore

import (
	"github.com/roach88/ripple/internal/deep"
)

// SubscribeState registers fn for committed cycles that change a key in
// scope. Subscribers run in registration order.
//
// Unless WithoutInitialFire is given, fn also receives one call with the
// current (state, prev) shortly after subscribing; that call is posted to
// the loop and skipped if the subscription is removed first.
func (s *Store) SubscribeState(scope Scope, fn StateFunc, opts ...SubscribeOption) (*Subscription, error) {
	if fn == nil {
		return nil, newConfigError("state subscriber must not be nil")
	}
	if err := scope.validate(); err != nil {
		return nil, err
	}
	cfg := subscribeConfig{fireImmediately: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, ErrDestroyed
	}
	id := s.ids.Generate()
	s.stateSubs.add(entry[StateFunc]{id: id, scope: scope, fn: fn})
	s.mu.Unlock()

	if cfg.fireImmediately {
		s.loop.Post(func() { s.fireInitial(id, fn) })
	}

	return newSubscription(id, func() {
		s.mu.Lock()
		s.stateSubs.remove(id)
		s.mu.Unlock()
	}), nil
}

// fireInitial delivers the subscribe-time call. Not counted as a change.
func (s *Store) fireInitial(id string, fn StateFunc) {
	s.mu.Lock()
	if s.destroyed || !s.stateSubs.contains(id) {
		s.mu.Unlock()
		return
	}
	state := deep.CloneMap(s.state)
	prev := deep.CloneMap(s.prev)
	s.mu.Unlock()

	s.invokeState(id, fn, state, prev)
}
