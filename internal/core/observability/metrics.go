package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	storeOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Metadata and tile store operations by result.",
		},
		[]string{"op", "result"},
	)

	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	cascadeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_total",
			Help: "Removal operations by outcome (ok, partial, error).",
		},
		[]string{"op", "outcome"},
	)

	cascadeItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_items_total",
			Help: "Items processed inside removal cascades.",
		},
		[]string{"op", "result"},
	)

	cascadeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_duration_seconds",
			Help:    "End-to-end duration of removal operations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"op"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Init additionally exposes the collectors through a dedicated registry.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		storeOpTotal, storeOpDuration,
		cascadeTotal, cascadeItems, cascadeDuration,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpTotal.WithLabelValues(op, result).Inc()
	storeOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

// outcome is one of ok, partial, error
func ObserveCascade(op, outcome string, removed, failed int, durationSeconds float64) {
	cascadeTotal.WithLabelValues(op, outcome).Inc()
	if removed > 0 {
		cascadeItems.WithLabelValues(op, "removed").Add(float64(removed))
	}
	if failed > 0 {
		cascadeItems.WithLabelValues(op, "failed").Add(float64(failed))
	}
	cascadeDuration.WithLabelValues(op).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
