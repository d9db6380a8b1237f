// Package bridge wires the NATS firehose to the graph store: subscription
// handlers feed the batch buffer, a ticker loop drains it through the row
// builder and batch writer, and a folded-in timer drives the TTL sweeper.
package bridge

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ozsports/gamestate-bridge/internal/buffer"
	"github.com/ozsports/gamestate-bridge/internal/cache"
	"github.com/ozsports/gamestate-bridge/internal/monitoring"
	"github.com/ozsports/gamestate-bridge/internal/rows"
	"github.com/ozsports/gamestate-bridge/internal/sweeper"
	"github.com/ozsports/gamestate-bridge/internal/writer"
)

// allTracksTolerance is the tighter change-suppression tolerance for the
// high-rate all_tracks.* subjects
const allTracksTolerance = 0.001

// metricsLogInterval is how often the summary log line is emitted
const metricsLogInterval = 2 * time.Second

// heartbeatEvery is the batch-loop iteration count between heartbeat lines
const heartbeatEvery = 1000

// Low-value subjects are dropped when their payload is trivially small;
// larger payloads on the same prefixes still pass through.
var lowValuePrefixes = []string{"fps.", "colour-control.", "camera_mode_entry."}

const lowValueMaxFields = 3

// Config holds the orchestrator's loop parameters
type Config struct {
	BatchInterval   time.Duration
	MaxBatchSize    int
	CleanupInterval time.Duration
}

// Bridge is the stream-to-graph orchestrator
type Bridge struct {
	cfg       Config
	nats      *NATSClient
	buf       *buffer.Buffer
	cache     *cache.ChangeCache
	builder   *rows.Builder
	writer    *writer.Writer
	sweeper   *sweeper.Sweeper
	collector *monitoring.Collector
	sampler   *monitoring.SystemSampler
	logger    zerolog.Logger

	currentTick  atomic.Int64
	shuttingDown atomic.Bool
	done         chan struct{} // closed when Run exits
}

// New assembles the orchestrator around already-connected clients
func New(cfg Config, nc *NATSClient, w *writer.Writer, sw *sweeper.Sweeper, logger zerolog.Logger) *Bridge {
	c := cache.New()
	sampler, err := monitoring.NewSystemSampler()
	if err != nil {
		logger.Warn().Err(err).Msg("Process resource sampling unavailable")
	}
	return &Bridge{
		cfg:       cfg,
		nats:      nc,
		buf:       buffer.New(),
		cache:     c,
		builder:   rows.NewBuilder(c, logger),
		writer:    w,
		sweeper:   sw,
		collector: monitoring.NewCollector(),
		sampler:   sampler,
		logger:    logger.With().Str("component", "bridge").Logger(),
		done:      make(chan struct{}),
	}
}

// Subscribe registers the fixed subject set with the broker
func (b *Bridge) Subscribe() error {
	for _, subject := range subscribeSubjects {
		if err := b.nats.Subscribe(subject, b.handleMessage); err != nil {
			return err
		}
	}
	return nil
}

// isLowValue reports whether a subject/payload pair is telemetry noise:
// a known low-value prefix carrying three or fewer fields
func isLowValue(subject string, payload any) bool {
	for _, prefix := range lowValuePrefixes {
		if strings.HasPrefix(subject, prefix) {
			fields, ok := payload.(map[string]any)
			return !ok || len(fields) <= lowValueMaxFields
		}
	}
	return false
}

// handleMessage runs on the NATS delivery goroutine: parse, filter, buffer.
// It never blocks on the graph and never panics into the delivery pipeline.
func (b *Bridge) handleMessage(subject string, data []byte) {
	defer monitoring.RecoverPanic(b.logger, "handleMessage", map[string]any{"subject": subject})

	if b.shuttingDown.Load() {
		return
	}
	b.collector.RecordMessageReceived(subject)

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		b.collector.RecordDroppedMessage(subject)
		b.logger.Debug().Err(err).Str("subject", subject).Msg("Dropping non-JSON payload")
		return
	}

	if isLowValue(subject, payload) {
		b.collector.RecordDroppedMessage(subject)
		return
	}

	// tickperframe doubles as the clock: the tick it carries correlates
	// every per-camera subject until the next one arrives
	if strings.HasPrefix(subject, "tickperframe") {
		if m, ok := payload.(map[string]any); ok {
			if count, ok := m["count"].(float64); ok {
				b.currentTick.Store(int64(count))
			}
		}
	}

	// The firehose subjects are deduplicated here so unchanged frames never
	// reach the buffer at all
	if strings.HasPrefix(subject, "all_tracks.") {
		if !b.cache.HasChanged(subject, payload, allTracksTolerance) {
			return
		}
	}

	b.buf.Add(subject, payload)
}

// Run executes the batch loop until ctx is cancelled or Shutdown is called.
// The builder and writer are only ever touched from this goroutine; Shutdown
// waits for it to exit before the final flush.
func (b *Bridge) Run(ctx context.Context) {
	defer close(b.done)
	defer monitoring.RecoverPanic(b.logger, "batchLoop", nil)

	b.logger.Info().
		Dur("batch_interval", b.cfg.BatchInterval).
		Int("max_batch_size", b.cfg.MaxBatchSize).
		Dur("cleanup_interval", b.cfg.CleanupInterval).
		Msg("Batch loop started")

	ticker := time.NewTicker(b.cfg.BatchInterval)
	defer ticker.Stop()

	lastCleanup := time.Now()
	lastMetricsLog := time.Now()
	iterations := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if b.shuttingDown.Load() {
			return
		}

		iterations++
		if iterations%heartbeatEvery == 0 {
			b.logger.Info().
				Int64("current_tick", b.currentTick.Load()).
				Int("buffered", b.buf.Len()).
				Bool("nats_connected", b.nats.IsConnected()).
				Msg("Batch loop heartbeat")
		}

		// Until the first tick arrives there is nothing to correlate
		// detections against
		if b.currentTick.Load() == 0 {
			continue
		}

		monitoring.SetBufferDepth(b.buf.Len())
		b.processBatch(ctx)

		now := time.Now()
		if now.Sub(lastCleanup) >= b.cfg.CleanupInterval {
			b.sweeper.Sweep(ctx, now)
			lastCleanup = now
		}

		if now.Sub(lastMetricsLog) >= metricsLogInterval {
			b.logMetrics()
			lastMetricsLog = now
		}
	}
}

// processBatch drains one bounded batch through builder and writer.
// A failed write aborts the whole batch; the messages are lost by design
// (latest-state semantics make replay pointless).
func (b *Bridge) processBatch(ctx context.Context) {
	items := b.buf.Drain(b.cfg.MaxBatchSize)
	if len(items) == 0 {
		return
	}

	start := time.Now()
	b.builder.SetSystemTimestamp(rows.FormatTimestamp(start))
	tick := b.currentTick.Load()

	var batch []rows.Row
	for _, item := range items {
		built, err := b.builder.Build(item.Subject, item.Payload, tick)
		if err != nil {
			b.collector.RecordBuildError(item.Subject)
			b.logger.Debug().Err(err).Str("subject", item.Subject).Msg("Row build failed")
			continue
		}
		batch = append(batch, built...)
	}
	if len(batch) == 0 {
		return
	}

	if err := b.writer.Write(ctx, writer.Group(batch)); err != nil {
		b.collector.RecordWriteError()
		b.logger.Error().Err(err).Int("rows", len(batch)).Msg("Batch aborted")
		return
	}
	b.collector.RecordBatch(len(batch), time.Since(start))
}

// logMetrics emits the periodic summary line: throughput, latency
// percentiles, process resource usage, hottest subjects, buffer rates
func (b *Bridge) logMetrics() {
	summary := b.collector.Summary()

	event := b.logger.Info().
		Uint64("messages_received", summary.TotalReceived).
		Uint64("messages_dropped", summary.DroppedMessages).
		Uint64("build_errors", summary.ValidationErrors).
		Float64("batch_avg_ms", summary.AvgBatchMs).
		Float64("batch_p95_ms", summary.P95BatchMs).
		Int64("current_tick", b.currentTick.Load()).
		Int("buffered", b.buf.Len())

	if b.sampler != nil {
		if sample, err := b.sampler.Sample(); err == nil {
			event = event.
				Float64("cpu_percent", sample.CPUPercent).
				Uint64("rss_mb", sample.RSSBytes/1024/1024)
		}
	}

	if top := topSubjects(b.buf.SubjectSizes(), 3); len(top) > 0 {
		event = event.Strs("top_subjects", top)
	}
	if rates := b.buf.Rates(); rates != nil {
		for subject, r := range rates {
			event = event.
				Float64("fill_rate_"+subject, r.FillPerSec).
				Float64("process_rate_"+subject, r.ProcessPerSec)
		}
	}

	event.Msg("Bridge metrics")
}

// topSubjects returns the n deepest subject queues as "subject=depth"
func topSubjects(sizes map[string]int, n int) []string {
	type entry struct {
		subject string
		size    int
	}
	entries := make([]entry, 0, len(sizes))
	for subject, size := range sizes {
		if size > 0 {
			entries = append(entries, entry{subject, size})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].size > entries[j].size })
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.subject + "=" + strconv.Itoa(e.size)
	}
	return out
}

// Shutdown performs the best-effort drain sequence: stop intake, close the
// broker, wait for the batch loop to finish its in-flight iteration, flush
// what is already buffered, then emit a final snapshot.
//
// Callers must have started Run before calling Shutdown.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.logger.Info().Msg("Shutting down")
	b.shuttingDown.Store(true)

	b.nats.Close()

	// The loop observes the shutdown flag between ticks; an in-flight batch
	// or sweep completes first. Flushing before it exits would race on the
	// builder's per-batch state.
	<-b.done

	if b.buf.Len() > 0 {
		b.logger.Info().Int("remaining", b.buf.Len()).Msg("Flushing remaining buffer")
		b.processBatch(ctx)
	}

	b.cache.Clear()
	b.logMetrics()
	b.logger.Info().Msg("Shutdown complete")
}
