package obs

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics groups the settlement collectors. A nil receiver is a no-op.
type SettlementMetrics struct {
	CommitTotal    *prometheus.CounterVec
	CommitDuration *prometheus.HistogramVec
	SettledTotal   prometheus.Counter
	OpenBills      prometheus.Gauge
	SessionsActive prometheus.Gauge
	EventsTotal    *prometheus.CounterVec
}

// NewSettlementMetrics builds and registers the settlement collectors. Collectors
// already present on reg are reused.
func NewSettlementMetrics(namespace string, reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &SettlementMetrics{
		CommitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_total",
			Help:      "Payment commits by strategy and outcome.",
		}, []string{"strategy", "result"}),
		CommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent inside the ledger commit.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"strategy"}),
		SettledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_settled_total",
			Help:      "Bills that reached the settled state.",
		}),
		OpenBills: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_bills",
			Help:      "Bills currently open and not settled.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Split sessions opened and not yet committed or cancelled.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events emitted by topic and outcome.",
		}, []string{"topic", "result"}),
	}

	mustRegisterCollector(reg, m.CommitTotal, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.CounterVec); ok {
			m.CommitTotal = v
		}
	})
	mustRegisterCollector(reg, m.CommitDuration, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.HistogramVec); ok {
			m.CommitDuration = v
		}
	})
	mustRegisterCollector(reg, m.SettledTotal, func(c prometheus.Collector) {
		if v, ok := c.(prometheus.Counter); ok {
			m.SettledTotal = v
		}
	})
	mustRegisterCollector(reg, m.OpenBills, func(c prometheus.Collector) {
		if v, ok := c.(prometheus.Gauge); ok {
			m.OpenBills = v
		}
	})
	mustRegisterCollector(reg, m.SessionsActive, func(c prometheus.Collector) {
		if v, ok := c.(prometheus.Gauge); ok {
			m.SessionsActive = v
		}
	})
	mustRegisterCollector(reg, m.EventsTotal, func(c prometheus.Collector) {
		if v, ok := c.(*prometheus.CounterVec); ok {
			m.EventsTotal = v
		}
	})
	return m
}

// ObserveCommit records one commit attempt.
func (m *SettlementMetrics) ObserveCommit(strategy, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CommitTotal.WithLabelValues(strategy, result).Inc()
	m.CommitDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// BillOpened increments the open bill gauge.
func (m *SettlementMetrics) BillOpened() {
	if m == nil {
		return
	}
	m.OpenBills.Inc()
}

// BillSettled moves a bill from open to settled.
func (m *SettlementMetrics) BillSettled() {
	if m == nil {
		return
	}
	m.OpenBills.Dec()
	m.SettledTotal.Inc()
}

// SessionDelta adjusts the active session gauge.
func (m *SettlementMetrics) SessionDelta(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(float64(n))
}

// ObserveEvent records one emitted event.
func (m *SettlementMetrics) ObserveEvent(topic, result string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(topic, result).Inc()
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
