package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozsports/gamestate-bridge/internal/sweeper"
	"github.com/ozsports/gamestate-bridge/internal/writer"
)

func newTestBridge() *Bridge {
	cfg := Config{
		BatchInterval:   5 * time.Millisecond,
		MaxBatchSize:    200,
		CleanupInterval: time.Second,
	}
	// The intake path under test never reaches the broker or the graph
	return New(cfg, nil, nil, nil, zerolog.Nop())
}

func TestIsLowValue(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		payload  any
		lowValue bool
	}{
		{"fps with small payload", "fps.cam1", map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, true},
		{"fps with large payload", "fps.cam1", map[string]any{"a": 1.0, "b": 2.0, "c": 3.0, "d": 4.0}, false},
		{"colour control", "colour-control.cam2", map[string]any{"gain": 1.0}, true},
		{"camera mode entry", "camera_mode_entry.cam3", map[string]any{}, true},
		{"non-object payload on low-value prefix", "fps.cam1", []any{1.0, 2.0}, true},
		{"regular subject small payload", "all_tracks.cam1", map[string]any{"a": 1.0}, false},
		{"tickperframe", "tickperframe", map[string]any{"count": 1.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.lowValue, isLowValue(tt.subject, tt.payload))
		})
	}
}

func TestHandleMessageBuffersValidPayload(t *testing.T) {
	b := newTestBridge()
	b.handleMessage("ptzinfo.camera1", []byte(`{"panposition": 1.0}`))

	assert.Equal(t, 1, b.buf.Len())
	items := b.buf.Drain(10)
	require.Len(t, items, 1)
	assert.Equal(t, "ptzinfo.camera1", items[0].Subject)
}

func TestHandleMessageDropsNonJSON(t *testing.T) {
	b := newTestBridge()
	b.handleMessage("all_tracks.cam1", []byte(`not json`))
	assert.Equal(t, 0, b.buf.Len())
}

func TestHandleMessageDropsLowValue(t *testing.T) {
	b := newTestBridge()
	b.handleMessage("fps.cam1", []byte(`{"a":1,"b":2,"c":3}`))
	assert.Equal(t, 0, b.buf.Len())
}

func TestHandleMessageSetsCurrentTick(t *testing.T) {
	b := newTestBridge()
	assert.Equal(t, int64(0), b.currentTick.Load())

	b.handleMessage("tickperframe", []byte(`{"count": 42, "framerate": 60.0}`))
	assert.Equal(t, int64(42), b.currentTick.Load())
	// The tick message itself is also buffered for the Frame row
	assert.Equal(t, 1, b.buf.Len())

	b.handleMessage("tickperframe", []byte(`{"count": 43}`))
	assert.Equal(t, int64(43), b.currentTick.Load())
}

func TestHandleMessageGatesAllTracksThroughCache(t *testing.T) {
	b := newTestBridge()
	payload := []byte(`{"players": [{"track_id": 7, "world_x": 1.0, "world_y": 2.0}]}`)

	b.handleMessage("all_tracks.cam1", payload)
	assert.Equal(t, 1, b.buf.Len())

	// Identical payload suppressed
	b.handleMessage("all_tracks.cam1", payload)
	assert.Equal(t, 1, b.buf.Len())

	// Beyond the 0.001 tolerance it passes
	b.handleMessage("all_tracks.cam1", []byte(`{"players": [{"track_id": 7, "world_x": 1.5, "world_y": 2.0}]}`))
	assert.Equal(t, 2, b.buf.Len())

	// A different camera is cached independently
	b.handleMessage("all_tracks.cam2", payload)
	assert.Equal(t, 3, b.buf.Len())
}

func TestHandleMessageIgnoredDuringShutdown(t *testing.T) {
	b := newTestBridge()
	b.shuttingDown.Store(true)
	b.handleMessage("ptzinfo.camera1", []byte(`{"panposition": 1.0}`))
	assert.Equal(t, 0, b.buf.Len())
}

// countingExecutor satisfies both the writer and sweeper executor interfaces
type countingExecutor struct {
	mu    sync.Mutex
	calls int
}

func (e *countingExecutor) Execute(_ context.Context, _ string, _ map[string]any) ([]*neo4j.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return nil, nil
}

func (e *countingExecutor) ExecutePooled(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	return e.Execute(ctx, query, params)
}

func (e *countingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Shutdown must not flush until the batch loop has exited; both touch the
// row builder, which is single-goroutine by contract.
func TestShutdownWaitsForBatchLoop(t *testing.T) {
	exec := &countingExecutor{}
	cfg := Config{
		BatchInterval:   time.Millisecond,
		MaxBatchSize:    200,
		CleanupInterval: time.Hour,
	}
	nc := &NATSClient{subs: make(map[string]*nats.Subscription), logger: zerolog.Nop()}
	b := New(cfg, nc,
		writer.New(exec, zerolog.Nop()),
		sweeper.New(exec, 30*time.Second, time.Millisecond, zerolog.Nop()),
		zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.handleMessage("tickperframe", []byte(`{"count": 42}`))
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			payload := fmt.Sprintf(`{"panposition": %d, "tiltposition": 0.5}`, i)
			b.handleMessage("ptzinfo.camera1", []byte(payload))
			time.Sleep(100 * time.Microsecond)
		}
	}()

	// Let the loop and the producer overlap, then shut down while the
	// producer is still running
	time.Sleep(20 * time.Millisecond)
	b.Shutdown(context.Background())
	close(stop)
	wg.Wait()

	select {
	case <-b.done:
	default:
		t.Fatal("batch loop still running after Shutdown returned")
	}
	assert.Greater(t, exec.callCount(), 0)
}

func TestTopSubjects(t *testing.T) {
	top := topSubjects(map[string]int{
		"all_tracks.cam1": 50,
		"all_tracks.cam2": 10,
		"ptzinfo.cam1":    30,
		"tickperframe":    0,
	}, 2)

	require.Len(t, top, 2)
	assert.Equal(t, "all_tracks.cam1=50", top[0])
	assert.Equal(t, "ptzinfo.cam1=30", top[1])
}

func TestTopSubjectsEmpty(t *testing.T) {
	assert.Empty(t, topSubjects(map[string]int{"a": 0}, 3))
	assert.Empty(t, topSubjects(nil, 3))
}
