// Package obsmetrics defines the Prometheus metrics marmot exposes at
// /metrics and the periodic collector that keeps the gauges current.
package obsmetrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adred-codev/marmot/internal/admission"
	"github.com/adred-codev/marmot/internal/backend"
)

var (
	whistlesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marmot_whistles_total",
		Help: "Total publish attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	listenersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_listeners_active",
		Help: "Current number of open /api/listen connections",
	})

	listenersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marmot_listeners_total",
		Help: "Total /api/listen connections accepted",
	})

	entriesPulled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marmot_entries_pulled_total",
		Help: "Total envelopes delivered to listeners by channel",
	}, []string{"channel"})

	authRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marmot_auth_rejections_total",
		Help: "Total can_whistle/can_listen rejections by operation",
	}, []string{"operation"})

	admissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marmot_admission_rejections_total",
		Help: "Total requests rejected by the admission guard, by reason",
	}, []string{"reason"})

	trimOperations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marmot_trim_operations_total",
		Help: "Total trim_all passes completed",
	})

	trimDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "marmot_trim_duration_seconds",
		Help:    "Wall time of each trim_all pass",
		Buckets: prometheus.DefBuckets,
	})

	clientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_clients_total",
		Help: "Current number of registered clients",
	})

	channelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_channels_total",
		Help: "Current number of configured channels",
	})

	streamLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marmot_channel_stream_length",
		Help: "Current entry count of each channel's stream",
	}, []string{"channel"})

	connectionsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_admission_connections_in_use",
		Help: "Current number of admitted listener connections",
	})

	connectionsCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_admission_connections_capacity",
		Help: "Configured maximum concurrent listener connections",
	})

	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_cpu_usage_percent",
		Help: "CPU usage percentage relative to the process's allocation",
	})

	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_memory_bytes",
		Help: "Current process memory usage in bytes",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marmot_goroutines_active",
		Help: "Current number of active goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		whistlesTotal,
		listenersActive,
		listenersTotal,
		entriesPulled,
		authRejections,
		admissionRejections,
		trimOperations,
		trimDuration,
		clientsActive,
		channelsActive,
		streamLength,
		connectionsInUse,
		connectionsCapacity,
		cpuUsagePercent,
		memoryUsageBytes,
		goroutinesActive,
	)
}

// RecordWhistle counts a publish attempt; outcome is "published", "rejected",
// "rate_limited", or "store_error".
func RecordWhistle(channel, outcome string) {
	whistlesTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordListenerOpened counts a newly admitted /api/listen connection.
func RecordListenerOpened() {
	listenersTotal.Inc()
	listenersActive.Inc()
}

// RecordListenerClosed decrements the active listener gauge.
func RecordListenerClosed() {
	listenersActive.Dec()
}

// RecordEntriesPulled counts entries delivered to a listener on channel.
func RecordEntriesPulled(channel string, n int) {
	if n > 0 {
		entriesPulled.WithLabelValues(channel).Add(float64(n))
	}
}

// RecordAuthRejection counts a failed can_whistle or can_listen check.
func RecordAuthRejection(operation string) {
	authRejections.WithLabelValues(operation).Inc()
}

// RecordAdmissionRejection counts a request turned away by the admission guard.
func RecordAdmissionRejection(reason string) {
	admissionRejections.WithLabelValues(reason).Inc()
}

// RecordTrim records the duration of one trim_all pass.
func RecordTrim(d time.Duration) {
	trimOperations.Inc()
	trimDuration.Observe(d.Seconds())
}

// Handler returns the http.Handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collector periodically refreshes the gauges that reflect backend and
// admission-guard state rather than being updated inline by request handlers.
type Collector struct {
	backend  *backend.Backend
	guard    *admission.Guard
	stopChan chan struct{}
}

// NewCollector creates a Collector sampling b and g on each tick of Start.
func NewCollector(b *backend.Backend, g *admission.Guard) *Collector {
	return &Collector{backend: b, guard: g, stopChan: make(chan struct{})}
}

// Start begins periodic collection at the given interval. It returns
// immediately; collection runs in its own goroutine until Stop is called.
func (c *Collector) Start(interval time.Duration) {
	connectionsCapacity.Set(float64(c.guard.Capacity()))

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collect() {
	stats, err := c.backend.Stats(nil)
	if err == nil {
		clientsActive.Set(float64(stats.ClientCount))
		channelsActive.Set(float64(stats.ChannelCount))
		for channel, length := range stats.StreamLengths {
			streamLength.WithLabelValues(channel).Set(float64(length))
		}
	}

	connectionsInUse.Set(float64(c.guard.InUse()))
	cpuUsagePercent.Set(c.guard.CPUPercent())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryUsageBytes.Set(float64(mem.Alloc))

	goroutinesActive.Set(float64(runtime.NumGoroutine()))
}
