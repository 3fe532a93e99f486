package dualdrain

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects coupling telemetry on a private registry
type Metrics struct {
	registry *prometheus.Registry

	steps    prometheus.Counter
	failures prometheus.Counter
	simTime  prometheus.Gauge
	loss     prometheus.Gauge
	flow     *prometheus.GaugeVec
	clamps   *prometheus.CounterVec
	regime   *prometheus.GaugeVec
	advance  *prometheus.HistogramVec
}

// NewMetrics builds a collector; namespace defaults to "dualdrain"
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dualdrain"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.steps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coupler",
		Name:      "steps_total",
		Help:      "Completed coupling steps",
	})
	m.failures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "coupler",
		Name:      "advance_failures_total",
		Help:      "Coupling steps abandoned because a solver could not advance",
	})
	m.simTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coupler",
		Name:      "simulation_time_seconds",
		Help:      "Coupled simulation time",
	})
	m.loss = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "loss_cubic_metres",
		Help:      "Volume unaccounted for by the conservation ledger",
	})
	m.flow = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "flow_cubic_metres_per_second",
		Help:      "Exchange flow at each point, in the point's sign convention",
	}, []string{"point", "kind"})
	m.clamps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "clamps_total",
		Help:      "Removals limited to the available surface volume",
	}, []string{"point"})
	m.regime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "regime",
		Help:      "Hydraulic regime at each point (0=none, 1=free weir, 2=submerged weir, 3=orifice)",
	}, []string{"point"})
	m.advance = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "solver",
		Name:      "advance_seconds",
		Help:      "Wall time spent in solver advance calls",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
	}, []string{"solver"})

	m.registry.MustRegister(m.steps, m.failures, m.simTime, m.loss, m.flow, m.clamps, m.regime, m.advance)
	return m
}

// Registry exposes the collector's registry, for promhttp or tests
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) register(pts []*ExchangePoint) {
	for _, p := range pts {
		m.clamps.WithLabelValues(p.Name)
		m.regime.WithLabelValues(p.Name)
	}
}

func (m *Metrics) observe(rec StepRecord) {
	m.steps.Inc()
	m.simTime.Set(rec.Time)
	m.loss.Set(rec.Loss)
	for _, p := range rec.Points {
		m.flow.WithLabelValues(p.Name, "raw").Set(p.Raw)
		m.flow.WithLabelValues(p.Name, "smoothed").Set(p.Smoothed)
		m.flow.WithLabelValues(p.Name, "commanded").Set(p.Commanded)
		m.flow.WithLabelValues(p.Name, "realized").Set(p.Realized)
		m.regime.WithLabelValues(p.Name).Set(float64(p.Regime))
		if p.Clamped {
			m.clamps.WithLabelValues(p.Name).Inc()
		}
	}
}
