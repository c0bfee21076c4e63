package testutil

import (
	"sync"
)

// Delivery is one state subscriber call.
type Delivery struct {
	State map[string]any
	Prev  map[string]any
}

// Recorder captures state subscriber calls.
//
// Thread-safety: all methods are safe for concurrent use; callbacks arrive
// on the store's loop goroutine while tests read from their own.
type Recorder struct {
	mu    sync.Mutex
	calls []Delivery
}

// Record is a state subscriber.
func (r *Recorder) Record(state, prev map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Delivery{State: state, Prev: prev})
}

// All returns a copy of the recorded calls.
func (r *Recorder) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.calls...)
}

// Count returns the number of recorded calls.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Last returns the most recent call and false if there is none.
func (r *Recorder) Last() (Delivery, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Delivery{}, false
	}
	return r.calls[len(r.calls)-1], true
}

// Reset drops every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
