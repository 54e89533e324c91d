package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
)

var _ ratelimit.Observer = (*Metrics)(nil)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec
	Buckets         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolegate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_decisions_total",
				Help: "Admission decisions by role and result",
			},
			[]string{"role", "result"},
		),
		Buckets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolegate_buckets",
				Help: "Live per-identity token buckets",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Decisions, m.Buckets)
	return m
}

func (m *Metrics) ObserveDecision(role string, r ratelimit.Result) {
	m.Decisions.WithLabelValues(role, r.String()).Inc()
}

func (m *Metrics) ObserveBuckets(delta int) {
	m.Buckets.Add(float64(delta))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records per-request metrics.
func (m *Metrics) Middleware(skip map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
