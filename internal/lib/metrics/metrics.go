package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "starbuck"

// Metrics коллекторы сервиса. Регистрируются в собственном реестре, а не в глобальном,
// поэтому New можно вызывать в каждом тесте.
type Metrics struct {
	Registry *prometheus.Registry

	OrderTransitions         *prometheus.CounterVec
	StockReservationFailures prometheus.Counter
	EventsPublished          *prometheus.CounterVec
	EventsDropped            *prometheus.CounterVec
	NotificationsCreated     *prometheus.CounterVec
	PushFailures             prometheus.Counter
	Connections              prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Applied order status transitions by target status.",
		}, []string{"status"}),
		StockReservationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "stock_reservation_failures_total",
			Help:      "Order confirmations rejected because of insufficient stock.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events handed to the event bus.",
		}, []string{"topic"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber queue was full.",
		}, []string{"subscriber"}),
		NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Persisted notifications by category.",
		}, []string{"category"}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "push_failures_total",
			Help:      "Pushes to live connections that failed and pruned the connection.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently registered admin connections.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrderTransitions,
		m.StockReservationFailures,
		m.EventsPublished,
		m.EventsDropped,
		m.NotificationsCreated,
		m.PushFailures,
		m.Connections,
	)
	return m
}

// Handler отдаёт метрики в формате prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
