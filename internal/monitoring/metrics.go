package monitoring

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the bridge
// These metrics can be scraped by Prometheus and visualized in Grafana
var (
	messagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_messages_received_total",
		Help: "Total number of NATS messages received, by subject",
	}, []string{"subject"})

	messagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_messages_dropped_total",
		Help: "Total number of messages dropped (parse errors, low-value filter)",
	}, []string{"subject"})

	buildErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_build_errors_total",
		Help: "Total number of messages the row builder could not translate",
	}, []string{"subject"})

	writeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_write_errors_total",
		Help: "Total number of aborted graph write batches",
	})

	batchItems = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_batch_items",
		Help:    "Distribution of rows drained per batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 150, 200},
	})

	batchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_batch_latency_seconds",
		Help:    "Batch write latency (drain through graph commit)",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	bufferDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_buffer_depth",
		Help: "Current total number of buffered messages across all subjects",
	})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_sweep_duration_seconds",
		Help:    "TTL sweep duration",
		Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
	})

	sweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sweep_errors_total",
		Help: "Total number of failed or aborted TTL sweeps",
	})
)

func init() {
	prometheus.MustRegister(
		messagesReceived,
		messagesDropped,
		buildErrors,
		writeErrors,
		batchItems,
		batchLatency,
		bufferDepth,
		sweepDuration,
		sweepErrors,
	)
}

// SetBufferDepth updates the buffer depth gauge
func SetBufferDepth(n int) {
	bufferDepth.Set(float64(n))
}

// ObserveSweep records a completed sweep duration
func ObserveSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

// RecordSweepError increments the sweep error counter
func RecordSweepError() {
	sweepErrors.Inc()
}

// ServeMetrics exposes /metrics on the given address
//
// Runs until the listener fails; callers start it in a goroutine.
func ServeMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics endpoint failed")
	}
}

// Summary is a point-in-time snapshot for the periodic metrics log line
type Summary struct {
	TotalReceived    uint64
	AvgBatchMs       float64
	P95BatchMs       float64
	ValidationErrors uint64
	DroppedMessages  uint64
}

// Collector keeps the in-process counters behind the periodic summary log.
// Prometheus counters are updated on the same calls so the two views agree.
//
// A single mutex guards everything; the dropped-message path has a
// synchronous variant safe to call from the NATS delivery callback.
type Collector struct {
	mu             sync.Mutex
	received       map[string]uint64
	dropped        map[string]uint64
	buildErrs      map[string]uint64
	batchSizes     []int
	batchLatencies []time.Duration
}

// NewCollector creates an empty metrics collector
func NewCollector() *Collector {
	return &Collector{
		received:  make(map[string]uint64),
		dropped:   make(map[string]uint64),
		buildErrs: make(map[string]uint64),
	}
}

// RecordMessageReceived counts one delivered message on a subject
func (c *Collector) RecordMessageReceived(subject string) {
	c.mu.Lock()
	c.received[subject]++
	c.mu.Unlock()
	messagesReceived.WithLabelValues(subject).Inc()
}

// RecordDroppedMessage counts a message dropped before buffering
func (c *Collector) RecordDroppedMessage(subject string) {
	c.mu.Lock()
	c.dropped[subject]++
	c.mu.Unlock()
	messagesDropped.WithLabelValues(subject).Inc()
}

// RecordBuildError counts a message the row builder rejected
func (c *Collector) RecordBuildError(subject string) {
	c.mu.Lock()
	c.buildErrs[subject]++
	c.mu.Unlock()
	buildErrors.WithLabelValues(subject).Inc()
}

// RecordWriteError counts an aborted write batch
func (c *Collector) RecordWriteError() {
	writeErrors.Inc()
}

// RecordBatch records the size and latency of one processed batch
func (c *Collector) RecordBatch(items int, latency time.Duration) {
	c.mu.Lock()
	c.batchSizes = append(c.batchSizes, items)
	c.batchLatencies = append(c.batchLatencies, latency)
	// Bound memory: the summary only needs recent history
	if len(c.batchLatencies) > 10000 {
		c.batchSizes = c.batchSizes[len(c.batchSizes)-5000:]
		c.batchLatencies = c.batchLatencies[len(c.batchLatencies)-5000:]
	}
	c.mu.Unlock()
	batchItems.Observe(float64(items))
	batchLatency.Observe(latency.Seconds())
}

// Summary returns the current aggregate view
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Summary
	for _, n := range c.received {
		s.TotalReceived += n
	}
	for _, n := range c.buildErrs {
		s.ValidationErrors += n
	}
	for _, n := range c.dropped {
		s.DroppedMessages += n
	}

	if len(c.batchLatencies) > 0 {
		var total time.Duration
		sorted := make([]time.Duration, len(c.batchLatencies))
		copy(sorted, c.batchLatencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, d := range sorted {
			total += d
		}
		s.AvgBatchMs = float64(total.Microseconds()) / float64(len(sorted)) / 1000
		s.P95BatchMs = float64(sorted[int(0.95*float64(len(sorted)))].Microseconds()) / 1000
	}

	return s
}
