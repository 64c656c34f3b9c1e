package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	availabilityRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agendizo",
			Name:      "availability_requests_total",
			Help:      "Slot availability computations by outcome.",
		},
		[]string{"outcome"},
	)

	availabilityDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agendizo",
			Name:      "availability_duration_seconds",
			Help:      "Time spent loading data and computing available slots.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agendizo",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agendizo",
			Name:      "appointment_transitions_total",
			Help:      "Appointment status changes.",
		},
		[]string{"from", "to"},
	)

	scheduleCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agendizo",
			Name:      "schedule_cache_total",
			Help:      "Schedule cache lookups and invalidations.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(availabilityRequests, availabilityDuration, bookings, transitions, scheduleCache)
	})
}

func ObserveAvailability(outcome string, started time.Time) {
	availabilityRequests.WithLabelValues(outcome).Inc()
	availabilityDuration.Observe(time.Since(started).Seconds())
}

func IncBooking(outcome string) {
	bookings.WithLabelValues(outcome).Inc()
}

func IncTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

func IncScheduleCache(result string) {
	scheduleCache.WithLabelValues(result).Inc()
}
