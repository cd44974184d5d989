// Package metrics collects and exposes Parrot OS runtime observability
// data through a dedicated Prometheus registry.
//
// # Design rationale
//
// A single package-level registry is built once by InitPrometheus and
// scraped via PrometheusHandler. Recording functions are safe to call
// before InitPrometheus runs (they become no-ops while the package-level
// collector set is still nil), so callers never need to check whether
// metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// collectors wraps every Prometheus metric the OS loop and dispatcher record.
type collectors struct {
	registry *prometheus.Registry

	dispatchedTotal    *prometheus.CounterVec // result=dispatched|no_engine|dropped
	dispatchLatency    prometheus.Histogram   // queued -> dispatched, ms
	threadsTotal       *prometheus.CounterVec // result=succeeded|failed|retried
	svResolveLatency   prometheus.Histogram   // insert -> ready, ms
	readyTaskQueueSize prometheus.Gauge
	liveProcesses      prometheus.Gauge
	liveEngines        prometheus.Gauge
	processExpired     prometheus.Counter
	engineExpired      prometheus.Counter
	enginePingFailures *prometheus.CounterVec
	loopIterations     prometheus.Counter
}

var defaultBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var m *collectors

// InitPrometheus builds and registers the Parrot metric collectors under
// the given namespace. Safe to call once at daemon startup.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &collectors{
		registry: registry,
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total dispatch() outcomes by result.",
		}, []string{"result"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_milliseconds",
			Help:      "Time from thread queued to dispatched, in milliseconds.",
			Buckets:   buckets,
		}),
		threadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_total",
			Help:      "Total threads completed by result.",
		}, []string{"result"}),
		svResolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sv_resolve_latency_milliseconds",
			Help:      "Time from SV insertion to ready, in milliseconds.",
			Buckets:   buckets,
		}),
		readyTaskQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_task_queue_size",
			Help:      "Number of gen tasks currently ready but undispatched.",
		}),
		liveProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_processes",
			Help:      "Number of registered, non-dead VM processes.",
		}),
		liveEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_engines",
			Help:      "Number of registered, non-dead engines.",
		}),
		processExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_expired_total",
			Help:      "Total processes marked dead due to heartbeat expiry.",
		}),
		engineExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_expired_total",
			Help:      "Total engines marked dead due to heartbeat expiry or failed ping.",
		}),
		enginePingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_ping_failures_total",
			Help:      "Total failed engine pings by engine id.",
		}, []string{"engine_id"}),
		loopIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Total main-loop ticks executed by PCore.",
		}),
	}

	registry.MustRegister(
		c.dispatchedTotal, c.dispatchLatency, c.threadsTotal, c.svResolveLatency,
		c.readyTaskQueueSize, c.liveProcesses, c.liveEngines,
		c.processExpired, c.engineExpired, c.enginePingFailures, c.loopIterations,
	)

	m = c
}

// PrometheusHandler returns the HTTP handler serving the registry in text
// exposition format. Returns a 503 handler if InitPrometheus was never called.
func PrometheusHandler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func RecordDispatch(result string, latencyMs float64) {
	if m == nil {
		return
	}
	m.dispatchedTotal.WithLabelValues(result).Inc()
	if result == "dispatched" {
		m.dispatchLatency.Observe(latencyMs)
	}
}

func RecordThread(result string) {
	if m == nil {
		return
	}
	m.threadsTotal.WithLabelValues(result).Inc()
}

func RecordSVResolveLatency(ms float64) {
	if m == nil {
		return
	}
	m.svResolveLatency.Observe(ms)
}

func SetReadyTaskQueueSize(n int) {
	if m == nil {
		return
	}
	m.readyTaskQueueSize.Set(float64(n))
}

func SetLiveProcesses(n int) {
	if m == nil {
		return
	}
	m.liveProcesses.Set(float64(n))
}

func SetLiveEngines(n int) {
	if m == nil {
		return
	}
	m.liveEngines.Set(float64(n))
}

func RecordProcessExpired() {
	if m == nil {
		return
	}
	m.processExpired.Inc()
}

func RecordEngineExpired() {
	if m == nil {
		return
	}
	m.engineExpired.Inc()
}

func RecordEnginePingFailure(engineID string) {
	if m == nil {
		return
	}
	m.enginePingFailures.WithLabelValues(engineID).Inc()
}

func RecordLoopIteration() {
	if m == nil {
		return
	}
	m.loopIterations.Inc()
}
