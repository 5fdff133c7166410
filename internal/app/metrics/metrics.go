package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitration_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitration_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arbitration_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitration_layer",
			Subsystem: "engine",
			Name:      "submissions_total",
			Help:      "Total number of application submissions.",
		},
		[]string{"kind"},
	)

	votes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitration_layer",
			Subsystem: "engine",
			Name:      "votes_total",
			Help:      "Total number of votes cast, self-votes included.",
		},
		[]string{"action"},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitration_layer",
			Subsystem: "engine",
			Name:      "resolutions_total",
			Help:      "Total number of applications resolved by threshold.",
		},
		[]string{"kind", "outcome"},
	)

	slashFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbitration_layer",
			Subsystem: "engine",
			Name:      "slash_failures_total",
			Help:      "Total number of slash instructions that failed to apply.",
		},
	)

	rewardClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitration_layer",
			Subsystem: "rewards",
			Name:      "claims_total",
			Help:      "Total number of successful reward claims.",
		},
		[]string{"currency"},
	)

	protocolOutstanding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arbitration_layer",
			Subsystem: "rewards",
			Name:      "protocol_fee_outstanding",
			Help:      "Currently claimable protocol fee balance per currency.",
		},
		[]string{"currency"},
	)

	pendingClaims = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitration_layer",
			Subsystem: "rewards",
			Name:      "pending_claims",
			Help:      "Reward accounts accrued but not yet paid out.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		submissions,
		votes,
		resolutions,
		slashFailures,
		rewardClaims,
		protocolOutstanding,
		pendingClaims,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordSubmission counts an admitted application.
func RecordSubmission(kind string) {
	submissions.WithLabelValues(kind).Inc()
}

// RecordVote counts a cast vote for an approve or reject proposal.
func RecordVote(action string) {
	votes.WithLabelValues(action).Inc()
}

// RecordResolution counts an application resolved by threshold.
func RecordResolution(kind, outcome string) {
	resolutions.WithLabelValues(kind, outcome).Inc()
}

// RecordSlashFailure counts one slash instruction that could not be applied.
func RecordSlashFailure() {
	slashFailures.Inc()
}

// RecordRewardClaim counts a successful reward payout.
func RecordRewardClaim(currency string) {
	rewardClaims.WithLabelValues(currency).Inc()
}

// SetProtocolOutstanding updates the claimable protocol fee gauge.
func SetProtocolOutstanding(currency string, amount uint64) {
	protocolOutstanding.WithLabelValues(currency).Set(float64(amount))
}

// SetPendingClaims updates the unpaid reward account gauge.
func SetPendingClaims(count int) {
	pendingClaims.Set(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "applications" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/applications"
	}
	if len(parts) == 2 {
		return "/applications/:id"
	}
	resource := parts[2]
	return "/applications/:id/" + resource
}
