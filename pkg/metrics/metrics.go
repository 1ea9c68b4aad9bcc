package metrics

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "bushu"

var (
	registerOnce sync.Once

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionRejected *prometheus.CounterVec
	armedTimers       prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
)

// MustRegister registers all collectors on the default registry. Safe to call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		executionsTotal = register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "execution",
				Name:      "total",
				Help:      "Completed executions by trigger and status.",
			},
			[]string{"trigger", "status"},
		))
		executionDuration = register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "execution",
				Name:      "duration_seconds",
				Help:      "Remote submission latency by trigger.",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"trigger"},
		))
		executionRejected = register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "execution",
				Name:      "rejected_total",
				Help:      "Executions refused before submission, by reason.",
			},
			[]string{"reason"},
		))
		armedTimers = register(prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "armed_timers",
				Help:      "Number of accounts with an armed daily timer.",
			},
		))
		httpRequests = register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		))
		httpDuration = register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by method and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		))

		registerRuntimeCollectors()
	})
}

// ObserveExecution records one finished execution
func ObserveExecution(trigger, status string, duration time.Duration) {
	if executionsTotal == nil || executionDuration == nil {
		return
	}
	t := normalizeLabel(trigger, "manual")
	executionsTotal.WithLabelValues(t, normalizeLabel(status, "unknown")).Inc()
	executionDuration.WithLabelValues(t).Observe(duration.Seconds())
}

// RecordRejected counts an execution refused before submission (not_found, disabled, conflict)
func RecordRejected(reason string) {
	if executionRejected == nil {
		return
	}
	executionRejected.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

// SetArmedTimers updates the armed timer gauge
func SetArmedTimers(n int) {
	if armedTimers == nil {
		return
	}
	armedTimers.Set(float64(n))
}

// ObserveHTTP records one served request
func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpRequests == nil || httpDuration == nil {
		return
	}
	p := normalizeLabel(path, "unmatched")
	httpRequests.WithLabelValues(method, p, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, p).Observe(duration.Seconds())
}

func normalizeLabel(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// register returns the already registered collector of the same description when present
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func registerRuntimeCollectors() {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
