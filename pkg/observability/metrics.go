package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Guard chain metrics
	GuardDecisionsTotal *prometheus.CounterVec
	GuardCheckDuration  *prometheus.HistogramVec

	// Quota metrics
	QuotaReservationsTotal *prometheus.CounterVec
	QuotaReleasesTotal     *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitDecisionsTotal   *prometheus.CounterVec
	RateLimitStoreErrorsTotal *prometheus.CounterVec
	RateLimitPrunedTotal      prometheus.Counter

	// Team directory cache metrics
	TeamCacheHitsTotal   prometheus.Counter
	TeamCacheMissesTotal prometheus.Counter

	// Plan table metrics
	PlanReloadsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_guard_decisions_total",
				Help: "Guard chain outcomes by check and result",
			},
			[]string{"check", "outcome"},
		),
		GuardCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_guard_check_duration_seconds",
				Help:    "Time spent in each guard check",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"check"},
		),

		QuotaReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_quota_reservations_total",
				Help: "Quota reservations by kind and result",
			},
			[]string{"kind", "result"},
		),
		QuotaReleasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_quota_releases_total",
				Help: "Quota reservations rolled back after a failed operation",
			},
			[]string{"kind"},
		),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_ratelimit_decisions_total",
				Help: "Submission rate limit decisions",
			},
			[]string{"requester", "result"},
		),
		RateLimitStoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_ratelimit_store_errors_total",
				Help: "Window store failures; the limiter fails open on these",
			},
			[]string{"operation"},
		),
		RateLimitPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_ratelimit_pruned_total",
				Help: "Expired submission records removed by the pruning job",
			},
		),

		TeamCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_team_cache_hits_total",
				Help: "Team membership lookups served from cache",
			},
		),
		TeamCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_team_cache_misses_total",
				Help: "Team membership lookups that reached the directory",
			},
		),

		PlanReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_plan_reloads_total",
				Help: "Plan table reloads by result",
			},
			[]string{"result"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.GuardDecisionsTotal,
			m.GuardCheckDuration,
			m.QuotaReservationsTotal,
			m.QuotaReleasesTotal,
			m.RateLimitDecisionsTotal,
			m.RateLimitStoreErrorsTotal,
			m.RateLimitPrunedTotal,
			m.TeamCacheHitsTotal,
			m.TeamCacheMissesTotal,
			m.PlanReloadsTotal,
		)
	}

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGuardCheck records the outcome and latency of one guard check
func (m *Metrics) RecordGuardCheck(check, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(check, outcome).Inc()
	m.GuardCheckDuration.WithLabelValues(check).Observe(duration.Seconds())
}

// RecordQuotaReservation records a reservation attempt
func (m *Metrics) RecordQuotaReservation(kind, result string) {
	if m == nil {
		return
	}
	m.QuotaReservationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordQuotaRelease records a rolled back reservation
func (m *Metrics) RecordQuotaRelease(kind string) {
	if m == nil {
		return
	}
	m.QuotaReleasesTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimit records a submission rate limit decision
func (m *Metrics) RecordRateLimit(requester, result string) {
	if m == nil {
		return
	}
	m.RateLimitDecisionsTotal.WithLabelValues(requester, result).Inc()
}

// RecordRateLimitStoreError records a window store failure
func (m *Metrics) RecordRateLimitStoreError(operation string) {
	if m == nil {
		return
	}
	m.RateLimitStoreErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordPruned records expired window entries removed by pruning
func (m *Metrics) RecordPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RateLimitPrunedTotal.Add(float64(n))
}

// RecordTeamCache records a team directory cache hit or miss
func (m *Metrics) RecordTeamCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.TeamCacheHitsTotal.Inc()
	} else {
		m.TeamCacheMissesTotal.Inc()
	}
}

// RecordPlanReload records a plan table reload attempt
func (m *Metrics) RecordPlanReload(result string) {
	if m == nil {
		return
	}
	m.PlanReloadsTotal.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler for the Prometheus metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
