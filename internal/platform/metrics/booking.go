package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow. A nil
// *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	bookings   *prometheus.CounterVec
	retries    prometheus.Counter
	generation prometheus.Histogram
	cacheHits  *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservations",
			Name:      "attempts_total",
			Help:      "Reservation attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "ledger",
			Name:      "retries_total",
			Help:      "Ledger operations re-attempted after a transient store error",
		}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "availability",
			Name:      "generation_seconds",
			Help:      "Latency of slot generation for one availability query",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "availability",
			Name:      "cache_lookups_total",
			Help:      "Slot cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.retries, m.generation, m.cacheHits)
	return m
}

func (m *BookingMetrics) ObserveBooking(kind, outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(kind, outcome).Inc()
}

func (m *BookingMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *BookingMetrics) ObserveGeneration(seconds float64) {
	if m == nil {
		return
	}
	m.generation.Observe(seconds)
}

func (m *BookingMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(result).Inc()
}
