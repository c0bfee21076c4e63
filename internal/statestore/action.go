package statestore

import (
	"github.com/roach88/ripple/internal/deep"
)

// Action is a message on the action channel.
type Action struct {
	Type string `json:"type" yaml:"type"`
	Data any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// SubscribeAction registers fn for dispatched actions whose type is in
// scope. Action subscriptions are independent of state subscriptions.
func (s *Store) SubscribeAction(scope Scope, fn ActionFunc) (*Subscription, error) {
	if fn == nil {
		return nil, newConfigError("action subscriber must not be nil")
	}
	if err := scope.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrDestroyed
	}
	id := s.ids.Generate()
	s.actionSubs.add(entry[ActionFunc]{id: id, scope: scope, fn: fn})

	return newSubscription(id, func() {
		s.mu.Lock()
		s.actionSubs.remove(id)
		s.mu.Unlock()
	}), nil
}

// Dispatch synchronously calls every action subscriber whose scope matches
// action.Type, in registration order, with the current state. It never
// changes the state or schedules a cycle.
func (s *Store) Dispatch(action Action) (Action, error) {
	if action.Type == "" {
		return action, newConfigError("action type must not be empty")
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return action, ErrDestroyed
	}
	subs := s.actionSubs.snapshot()
	state := s.state
	s.mu.Unlock()

	s.metrics.dispatched()
	for _, sub := range subs {
		if sub.scope.matches(action.Type) {
			s.invokeAction(sub.id, sub.fn, action, deep.CloneMap(state))
		}
	}
	return action, nil
}

// DispatchType dispatches a bare type tag, normalised to Action{Type: t}.
func (s *Store) DispatchType(t string) (Action, error) {
	return s.Dispatch(Action{Type: t})
}

// invokeAction calls an action subscriber, recovering and logging panics.
func (s *Store) invokeAction(id string, fn ActionFunc, action Action, state State) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panicked("action")
			s.logger.Error("action subscriber panicked",
				"subscription", id,
				"action", action.Type,
				"panic", r,
			)
		}
	}()
	fn(action, state)
}
