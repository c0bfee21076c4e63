package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/ripple/internal/loop"
	"github.com/roach88/ripple/internal/persist"
	"github.com/roach88/ripple/internal/statestore"
	"github.com/roach88/ripple/internal/testutil"
)

// ExternalTimeout bounds how long an external step waits for the store to
// observe the write.
const ExternalTimeout = 2 * time.Second

// runner holds the state of one scenario execution.
type runner struct {
	clock  *fakeclock.FakeClock
	loop   *loop.Loop
	space  *persist.MemorySpace
	other  persist.Backend // writes on behalf of "another context"
	store  *statestore.Store
	reg    *prometheus.Registry
	logger *slog.Logger

	subs map[string]*statestore.Subscription

	mu     sync.Mutex // guards result; callbacks run on the loop goroutine
	seq    statestore.Seq
	result *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory space with a fake clock, so
// results are reproducible. Run returns an error only when the scenario
// cannot be executed; failed assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with store logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()

	r := &runner{
		clock:  testutil.NewFakeClock(),
		space:  persist.NewMemorySpace(),
		reg:    prometheus.NewRegistry(),
		logger: logger,
		subs:   make(map[string]*statestore.Subscription),
		result: NewResult(),
	}
	defer r.space.Close()
	r.other = r.space.Handle()

	r.loop = loop.New(loop.WithClock(r.clock), loop.WithLogger(logger))
	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = r.loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	if err := r.open(scenario); err != nil {
		return nil, err
	}
	destroyed := false
	defer func() {
		if !destroyed {
			_ = r.store.Destroy()
		}
	}()

	if err := r.subscribe(ctx, scenario.Subscriptions); err != nil {
		return nil, err
	}
	if err := r.execute(ctx, scenario); err != nil {
		return nil, err
	}

	state, err := r.store.GetState()
	if err != nil {
		return nil, fmt.Errorf("read final state: %w", err)
	}
	r.result.State = state

	if scenario.Persistence != nil {
		persisted, err := r.readPersisted(ctx, scenario.Persistence.StorageID)
		if err != nil {
			return nil, err
		}
		r.result.Persisted = persisted
	}

	destroyed = true
	if err := r.store.Destroy(); err != nil {
		return nil, fmt.Errorf("destroy store: %w", err)
	}

	evaluateAssertions(scenario.Assertions, r.result)
	return r.result, nil
}

// open creates the store under test.
func (r *runner) open(scenario *Scenario) error {
	metrics, err := statestore.NewMetrics(r.reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []statestore.Option{
		statestore.WithLoop(r.loop),
		statestore.WithLogger(r.logger),
		statestore.WithMetrics(metrics),
		statestore.WithIDGenerator(statestore.NewSequenceGenerator("sub")),
	}
	if p := scenario.Persistence; p != nil {
		opts = append(opts, statestore.WithPersistence(statestore.PersistenceConfig{
			StorageID:   p.StorageID,
			IncludeKeys: p.IncludeKeys,
			ExcludeKeys: p.ExcludeKeys,
			Backend:     r.space.Handle(),
		}))
	}

	s, err := statestore.New(scenario.Initial, opts...)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	r.store = s
	return nil
}

// subscribe registers the scenario's subscribers and waits for any
// subscribe-time calls.
func (r *runner) subscribe(ctx context.Context, subs []Subscription) error {
	for _, sub := range subs {
		scope := statestore.All()
		if sub.Keys != nil {
			scope = statestore.Keys(sub.Keys...)
		}

		var (
			handle *statestore.Subscription
			err    error
		)
		id := sub.ID
		switch sub.Kind {
		case KindAction:
			handle, err = r.store.SubscribeAction(scope, func(a statestore.Action, _ statestore.State) {
				r.record(TraceEvent{Type: EventAction, Subscription: id, Action: &a})
			})
		default:
			var opts []statestore.SubscribeOption
			if !sub.FireImmediately {
				opts = append(opts, statestore.WithoutInitialFire())
			}
			handle, err = r.store.SubscribeState(scope, func(state, prev statestore.State) {
				r.record(TraceEvent{Type: EventState, Subscription: id, State: state, Prev: prev})
			}, opts...)
		}
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", id, err)
		}
		r.subs[id] = handle
	}
	return r.store.Batch(ctx, func() {})
}

type indexedStep struct {
	n    int // 1-based
	op   string
	step Step
}

// execute runs the steps, grouping consecutive store operations into
// synchronous windows.
func (r *runner) execute(ctx context.Context, scenario *Scenario) error {
	var window []indexedStep
	flush := func() error {
		if len(window) == 0 {
			return nil
		}
		steps := window
		window = nil
		return r.store.Batch(ctx, func() {
			for _, st := range steps {
				r.apply(st)
			}
		})
	}

	for i, step := range scenario.Steps {
		op, err := step.Op()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}

		switch op {
		case OpFlush:
			if err := flush(); err != nil {
				return err
			}
		case OpAdvance:
			if err := flush(); err != nil {
				return err
			}
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			r.clock.Increment(d)
			if err := r.store.Batch(ctx, func() {}); err != nil {
				return err
			}
		case OpExternal:
			if err := flush(); err != nil {
				return err
			}
			if err := r.external(ctx, scenario.Persistence.StorageID, step.External); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		default:
			window = append(window, indexedStep{n: i + 1, op: op, step: step})
		}
	}
	return flush()
}

// apply performs one store operation. Runs on the loop goroutine.
func (r *runner) apply(st indexedStep) {
	var err error
	switch st.op {
	case OpSet:
		_, err = r.store.SetState(st.step.Set)
	case OpToggle:
		_, err = r.store.Toggle(st.step.Toggle)
	case OpDispatch:
		_, err = r.store.Dispatch(statestore.Action{Type: st.step.Dispatch.Type, Data: st.step.Dispatch.Data})
	case OpThrottle:
		var d time.Duration
		d, err = time.ParseDuration(st.step.Throttle.Window)
		if err == nil {
			err = r.store.ThrottledSetState(d, st.step.Throttle.Set)
		}
	case OpUnsubscribe:
		if sub, ok := r.subs[st.step.Unsubscribe]; ok {
			sub.Unsubscribe()
		} else {
			err = fmt.Errorf("unknown subscription %q", st.step.Unsubscribe)
		}
	default:
		err = fmt.Errorf("unsupported operation %q", st.op)
	}
	if err != nil {
		r.record(TraceEvent{Type: EventError, Step: st.n, Error: errorText(err)})
	}
}

// external writes the persisted entry from a second context and waits until
// the store has reconciled and delivered the resulting cycle.
func (r *runner) external(ctx context.Context, storageID string, state map[string]any) error {
	before, err := r.externalChanges()
	if err != nil {
		return err
	}

	data, err := persist.Encode(state)
	if err != nil {
		return err
	}
	if err := r.other.Set(ctx, persist.Key(storageID), data); err != nil {
		return fmt.Errorf("external write: %w", err)
	}

	deadline := time.Now().Add(ExternalTimeout)
	for {
		n, err := r.externalChanges()
		if err != nil {
			return err
		}
		if n > before {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("store did not observe external write within %s", ExternalTimeout)
		}
		time.Sleep(time.Millisecond)
	}
	return r.store.Batch(ctx, func() {})
}

// externalChanges sums the store's external change counter.
func (r *runner) externalChanges() (float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return 0, fmt.Errorf("gather metrics: %w", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != "ripple_statestore_external_changes_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total, nil
}

func (r *runner) readPersisted(ctx context.Context, storageID string) (map[string]any, error) {
	data, ok, err := r.other.Get(ctx, persist.Key(storageID))
	if err != nil {
		return nil, fmt.Errorf("read persisted state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return persist.Decode(data)
}

// record appends an event to the trace.
func (r *runner) record(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.Seq = r.seq.Next()
	r.result.Trace = append(r.result.Trace, ev)
	if ev.Subscription != "" {
		r.result.Deliveries[ev.Subscription]++
	}
}

// errorText reports store errors by code so traces stay stable when
// messages change.
func errorText(err error) string {
	var se *statestore.Error
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return err.Error()
}
