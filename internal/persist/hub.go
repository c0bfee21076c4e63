package persist

import (
	"sync"

	events "github.com/docker/go-events"
)

// Hub fans Changes out to watchers.
//
// Each watcher gets its own queue, so a slow watcher never blocks the
// writer or other watchers. Watchers only see changes for their key that
// came from a different origin.
type Hub struct {
	bc *events.Broadcaster
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{bc: events.NewBroadcaster()}
}

// Publish announces c to every matching watcher.
func (h *Hub) Publish(c Change) error {
	return h.bc.Write(c)
}

// Subscribe registers fn for changes to key not made by origin.
func (h *Hub) Subscribe(key, origin string, fn func(Change)) (func(), error) {
	q := events.NewQueue(changeSink(fn))
	sink := events.NewFilter(q, events.MatcherFunc(func(e events.Event) bool {
		c, ok := e.(Change)
		return ok && c.Key == key && c.Origin != origin
	}))
	if err := h.bc.Add(sink); err != nil {
		q.Close()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = h.bc.Remove(sink)
			_ = q.Close()
		})
	}, nil
}

// Close stops the hub. Further publishes fail.
func (h *Hub) Close() error {
	return h.bc.Close()
}

// changeSink adapts a callback to events.Sink.
type changeSink func(Change)

func (fn changeSink) Write(e events.Event) error {
	if c, ok := e.(Change); ok {
		fn(c)
	}
	return nil
}

func (fn changeSink) Close() error { return nil }
