package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "collab"

// Error kinds used as the "kind" label of Errors.
const (
	ErrorValidation = "validation"
	ErrorInternal   = "internal"
	ErrorTransport  = "transport"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	Connections *prometheus.GaugeVec
	Rooms       prometheus.Gauge
	Operations  *prometheus.CounterVec
	Presence    prometheus.Counter
	Deliveries  *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Reaped      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live connections by gateway mode.",
		}, []string{"mode"}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms held in memory, including empty ones.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations applied to document state.",
		}, []string{"mode"}),
		Presence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_updates_total",
			Help:      "Cursor and awareness updates fanned out.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Messages queued to room members, by result.",
		}, []string{"result"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Event processing and delivery errors by kind.",
		}, []string{"kind"}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_reaped_total",
			Help:      "Idle empty rooms removed by the reaper.",
		}),
	}
	reg.MustRegister(m.Connections, m.Rooms, m.Operations, m.Presence, m.Deliveries, m.Errors, m.Reaped)
	return m
}

func (m *Metrics) Delivered(n int) {
	m.Deliveries.WithLabelValues("ok").Add(float64(n))
}

func (m *Metrics) Dropped(n int) {
	m.Deliveries.WithLabelValues("dropped").Add(float64(n))
}
