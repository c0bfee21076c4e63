package loop

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// ErrClosed is returned when work is submitted to a stopped loop.
var ErrClosed = errors.New("loop: closed")

// Task is a unit of work executed on the loop goroutine.
type Task func()

// Loop is a cooperative task loop with a microtask queue and timers.
//
// Thread-safety model:
//   - Post(), Defer(), After(), Do(), Stop(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Do(): must NOT be called from the loop goroutine (it would block forever)
type Loop struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []Task
	micro   []Task
	timers  timerHeap
	timerID uint64
	closed  bool
	signal  chan struct{} // Signals work availability (buffered, size 1)
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for timers.
// Default: clock.NewClock() (wall clock).
func WithClock(c clock.Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// WithLogger sets the logger used for task panics.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// New creates a stopped loop. Call Run to start processing.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:  clock.NewClock(),
		logger: slog.Default(),
		tasks:  make([]Task, 0, 16),
		signal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clock returns the clock driving this loop's timers.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Post appends a task to the back of the queue.
// Returns false if the loop has been stopped.
func (l *Loop) Post(t Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, t)
	l.notify()
	return true
}

// Defer schedules a microtask: it runs after the current task finishes and
// before the next task starts. Called from outside the loop, the microtask
// runs as soon as the loop is between tasks.
// Returns false if the loop has been stopped.
func (l *Loop) Defer(t Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.micro = append(l.micro, t)
	l.notify()
	return true
}

// After schedules t to run as a task once d has elapsed on the loop clock.
// Returns nil if the loop has been stopped.
func (l *Loop) After(d time.Duration, t Task) *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.timerID++
	tm := &Timer{
		loop:     l,
		id:       l.timerID,
		deadline: l.clock.Now().Add(d),
		task:     t,
	}
	heap.Push(&l.timers, tm)
	l.notify()
	return tm
}

// Do runs fn on the loop as one synchronous window and waits until fn and
// every microtask it deferred have completed, including microtasks those
// microtasks deferred.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	ok := l.Post(func() {
		// The microtask queue is empty again by the time the next task runs.
		defer func() {
			if !l.Post(func() { close(done) }) {
				close(done)
			}
		}()
		fn()
	})
	if !ok {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks, microtasks and timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks) + len(l.micro) + len(l.timers)
}

// Stop signals that no more work will be accepted.
// Run drains the already queued tasks and then returns.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal) // Wakes the Run loop
}

// Run processes tasks until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if t, ok := l.next(); ok {
			l.runTask(t, "task")
			l.drainMicro()
			continue
		}

		// Microtasks deferred from outside the loop
		if l.drainMicro() > 0 {
			continue
		}

		wait, closed := l.waitTimer()
		if closed {
			return nil
		}

		var timerC <-chan time.Time
		if wait != nil {
			timerC = wait.C()
		}

		select {
		case <-ctx.Done():
			if wait != nil {
				wait.Stop()
			}
			// Close first so nothing lands after the final drain.
			l.Stop()
			l.drain()
			return ctx.Err()
		case <-l.signal:
		case <-timerC:
		}
		if wait != nil {
			wait.Stop()
		}
	}
}

// drain runs the tasks and microtasks still queued on a stopped loop.
// Pending timers are dropped.
func (l *Loop) drain() {
	for {
		if t, ok := l.next(); ok {
			l.runTask(t, "task")
			l.drainMicro()
			continue
		}
		if l.drainMicro() == 0 {
			return
		}
	}
}

// next pops the next task. Due timers go to the front of the queue, ahead
// of every task already queued.
func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.timers) > 0 && !l.closed {
		now := l.clock.Now()
		var due []Task
		for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
			tm := heap.Pop(&l.timers).(*Timer)
			due = append(due, tm.task)
		}
		if len(due) > 0 {
			l.tasks = append(due, l.tasks...)
		}
	}

	if len(l.tasks) == 0 {
		return nil, false
	}

	t := l.tasks[0]
	l.tasks[0] = nil // allow GC of the closure
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return t, true
}

// waitTimer returns a clock timer for the earliest pending deadline, or nil
// when there is none. The second result reports a closed, empty loop.
func (l *Loop) waitTimer() (clock.Timer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, len(l.tasks) == 0 && len(l.micro) == 0
	}
	if len(l.timers) == 0 {
		return nil, false
	}
	d := l.timers[0].deadline.Sub(l.clock.Now())
	if d <= 0 {
		// Already due; make the select fall through immediately.
		l.notify()
		return nil, false
	}
	return l.clock.NewTimer(d), false
}

// drainMicro runs microtasks until the queue is empty, including microtasks
// deferred by microtasks. Returns how many ran.
func (l *Loop) drainMicro() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.micro) == 0 {
			l.mu.Unlock()
			return n
		}
		t := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		l.mu.Unlock()

		l.runTask(t, "microtask")
		n++
	}
}

// runTask executes t, logging and swallowing panics so one bad task cannot
// stop the loop.
func (l *Loop) runTask(t Task, kind string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", "kind", kind, "panic", r)
		}
	}()
	t()
}

// notify performs a non-blocking signal; caller holds l.mu.
func (l *Loop) notify() {
	if l.closed {
		return
	}
	select {
	case l.signal <- struct{}{}:
	default:
	}
}
