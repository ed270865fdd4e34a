package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for reservation and lifecycle flows.
type BookingMetrics struct {
	reservationsTotal  *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	reserveLatency     prometheus.Histogram
	retriesTotal       *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	callbacksTotal     *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwise",
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwise",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment lifecycle transitions by event and outcome",
		}, []string{"event", "outcome"}),
		reserveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bookwise",
			Subsystem: "booking",
			Name:      "reserve_latency_seconds",
			Help:      "Latency of the reservation unit including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwise",
			Subsystem: "booking",
			Name:      "storage_retries_total",
			Help:      "Retries after transient storage failures",
		}, []string{"operation"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwise",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Appointment notifications by delivery status",
		}, []string{"status"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwise",
			Subsystem: "events",
			Name:      "callbacks_total",
			Help:      "Collaborator callbacks by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservationsTotal, m.transitionsTotal, m.reserveLatency, m.retriesTotal, m.notificationsTotal, m.callbacksTotal)
	return m
}

func (m *BookingMetrics) ObserveReservation(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(outcome).Inc()
	m.reserveLatency.Observe(seconds)
}

func (m *BookingMetrics) ObserveTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *BookingMetrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
}

func (m *BookingMetrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveCallback(outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(outcome).Inc()
}
