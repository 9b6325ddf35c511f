package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recomputeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plutotime_recompute_total",
			Help: "Event list recomputations by result.",
		},
		[]string{"result"},
	)

	recomputeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plutotime_recompute_duration_seconds",
			Help:    "Time spent computing the event list.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	nextEventTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plutotime_next_event_timestamp_seconds",
		Help: "Unix time of the next event instant.",
	})

	eventActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plutotime_event_active",
		Help: "1 while an event window is in progress.",
	})

	scheduledNotifications = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plutotime_scheduled_notifications",
		Help: "Notifications currently armed.",
	})

	deliveredNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plutotime_notifications_delivered_total",
			Help: "Notification deliveries by result.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plutotime_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plutotime_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		recomputeTotal,
		recomputeDurationSeconds,
		nextEventTimestamp,
		eventActive,
		scheduledNotifications,
		deliveredNotifications,
		httpRequestsTotal,
		httpDurationSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecompute records one recomputation and, on success, the new next
// event instant.
func ObserveRecompute(d time.Duration, next time.Time, err error) {
	recomputeDurationSeconds.Observe(d.Seconds())
	if err != nil {
		recomputeTotal.WithLabelValues("error").Inc()
		return
	}
	recomputeTotal.WithLabelValues("ok").Inc()
	if !next.IsZero() {
		nextEventTimestamp.Set(float64(next.Unix()))
	}
}

func SetActive(active bool) {
	if active {
		eventActive.Set(1)
		return
	}
	eventActive.Set(0)
}

func SetScheduled(n int) {
	scheduledNotifications.Set(float64(n))
}

func ObserveDelivery(err error) {
	if err != nil {
		deliveredNotifications.WithLabelValues("error").Inc()
		return
	}
	deliveredNotifications.WithLabelValues("ok").Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		code := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
	})
}
