package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the booking flows.
type BookingMetrics struct {
	bookingsTotal  *prometheus.CounterVec
	slotListsTotal prometheus.Counter
	httpDuration   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		slotListsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "booking",
			Name:      "slot_lists_total",
			Help:      "Slot availability listings served",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medibook",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.slotListsTotal, m.httpDuration)
	return m
}

// Booking outcomes.
const (
	OutcomeBooked            = "booked"
	OutcomeSlotConflict      = "slot_conflict"
	OutcomeDoctorUnavailable = "doctor_unavailable"
	OutcomeFailed            = "failed"
)

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveSlotList() {
	if m == nil {
		return
	}
	m.slotListsTotal.Inc()
}

// Middleware records request latency labeled with the chi route pattern,
// so /appointments/{id}/cancel stays one series regardless of the id.
func (m *BookingMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
