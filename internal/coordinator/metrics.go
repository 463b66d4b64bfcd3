package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes lease activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	leasesGranted   prometheus.Counter
	leasesReclaimed prometheus.Counter
	unitsCompleted  *prometheus.CounterVec
	replies         *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	sessions        prometheus.Gauge
}

// NewMetrics creates and registers the coordinator collectors.
//
// Parameters:
//   - reg: Registerer to use (prometheus.DefaultRegisterer if nil)
//   - namespace: Metric namespace (defaults to "powlease" if empty)
//
// Returns:
//   - *Metrics: Registered collectors
//   - error: If a collector could not be registered
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "powlease"
	}

	m := &Metrics{
		leasesGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "granted_total",
			Help:      "Total leases handed out by GET_WORK.",
		}),
		leasesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "reclaimed_total",
			Help:      "Total expired leases returned to the pool.",
		}),
		unitsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "completed_total",
			Help:      "Units retired, by outcome (found/empty).",
		}, []string{"outcome"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "replies_total",
			Help:      "GET_WORK replies sent, by kind (lease/wait/no_work).",
		}, []string{"kind"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "errors_total",
			Help:      "Rejected requests, by kind (malformed/unknown_lease/invalid_proof).",
		}, []string{"kind"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "sessions_active",
			Help:      "Worker connections currently open.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.leasesGranted, m.leasesReclaimed, m.unitsCompleted, m.replies, m.protocolErrors, m.sessions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRegistry registers gauges sampling the registry's unit counts on
// every scrape.
func ObserveRegistry(reg prometheus.Registerer, namespace string, r *Registry) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "powlease"
	}

	gauge := func(state string, pick func(Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "units",
			Name:        "current",
			Help:        "Units per lease state.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(pick(r.Stats())) })
	}

	for _, c := range []prometheus.Collector{
		gauge(Available.String(), func(s Stats) int { return s.Available }),
		gauge(Assigned.String(), func(s Stats) int { return s.Assigned }),
		gauge(Completed.String(), func(s Stats) int { return s.Completed }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) LeaseGranted() {
	if m == nil {
		return
	}
	m.leasesGranted.Inc()
}

func (m *Metrics) LeasesReclaimed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.leasesReclaimed.Add(float64(n))
}

func (m *Metrics) UnitCompleted(found bool) {
	if m == nil {
		return
	}
	outcome := "empty"
	if found {
		outcome = "found"
	}
	m.unitsCompleted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reply(kind string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
