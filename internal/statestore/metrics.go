package statestore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts store activity. A nil *Metrics records nothing.
type Metrics struct {
	cycles          *prometheus.CounterVec
	deliveries      prometheus.Counter
	panics          *prometheus.CounterVec
	actions         prometheus.Counter
	persistWrites   *prometheus.CounterVec
	externalChanges *prometheus.CounterVec
	throttleFlushes prometheus.Counter
}

// NewMetrics creates the store counters and registers them on reg.
// One Metrics may be shared by several stores.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const ns, sub = "ripple", "statestore"

	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "cycles_total",
			Help: "Notification cycles by result (committed or skipped).",
		}, []string{"result"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "deliveries_total",
			Help: "State subscriber invocations.",
		}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "subscriber_panics_total",
			Help: "Recovered subscriber panics by subscription kind.",
		}, []string{"kind"}),
		actions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "actions_total",
			Help: "Dispatched actions.",
		}),
		persistWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "persist_writes_total",
			Help: "Persistent store writes by result (ok or error).",
		}, []string{"result"}),
		externalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "external_changes_total",
			Help: "Changes from other contexts by result (applied or ignored).",
		}, []string{"result"}),
		throttleFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "throttle_flushes_total",
			Help: "Throttled buffers merged into the state.",
		}),
	}

	collectors := []prometheus.Collector{
		m.cycles, m.deliveries, m.panics, m.actions,
		m.persistWrites, m.externalChanges, m.throttleFlushes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) cycle(result string) {
	if m != nil {
		m.cycles.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.deliveries.Inc()
	}
}

func (m *Metrics) panicked(kind string) {
	if m != nil {
		m.panics.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) dispatched() {
	if m != nil {
		m.actions.Inc()
	}
}

func (m *Metrics) persisted(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.persistWrites.WithLabelValues("error").Inc()
		return
	}
	m.persistWrites.WithLabelValues("ok").Inc()
}

func (m *Metrics) external(result string) {
	if m != nil {
		m.externalChanges.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) flushed() {
	if m != nil {
		m.throttleFlushes.Inc()
	}
}
