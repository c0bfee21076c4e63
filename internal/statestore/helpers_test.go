package statestore

import (
	"context"
	"testing"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ripple/internal/loop"
	"github.com/roach88/ripple/internal/testutil"
)

// newTestStore creates a store on a running, fake-clocked loop.
func newTestStore(t *testing.T, initial State, opts ...Option) (*Store, *fakeclock.FakeClock) {
	t.Helper()
	fc := testutil.NewFakeClock()
	l := startTestLoop(t, fc)

	opts = append([]Option{
		WithLoop(l),
		WithIDGenerator(NewSequenceGenerator("sub")),
	}, opts...)
	s, err := New(initial, opts...)
	require.NoError(t, err)
	return s, fc
}

// startTestLoop runs a loop until the test ends.
func startTestLoop(t *testing.T, fc *fakeclock.FakeClock) *loop.Loop {
	t.Helper()
	l := loop.New(loop.WithClock(fc))
	runLoop(t, l)
	return l
}

// runLoop runs an existing loop until the test ends.
func runLoop(t *testing.T, l *loop.Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// window runs fn as one synchronous window and waits for its cycle.
func window(t *testing.T, s *Store, fn func()) {
	t.Helper()
	require.NoError(t, s.Batch(context.Background(), fn))
}

// settle waits until everything already queued on the loop has run.
func settle(t *testing.T, s *Store) {
	t.Helper()
	window(t, s, func() {})
}

// mustSet calls SetState and fails the test on error.
func mustSet(t *testing.T, s *Store, partial State) {
	t.Helper()
	_, err := s.SetState(partial)
	require.NoError(t, err)
}

// counterValue reads one labelled counter from reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	want := map[string]string{}
	for i := 0; i+1 < len(labels); i += 2 {
		want[labels[i]] = labels[i+1]
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	return m, reg
}
