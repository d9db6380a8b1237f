package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndDrainPreservesFIFO(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Add("all_tracks.camera1", i)
	}

	items := b.Drain(100)
	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, "all_tracks.camera1", item.Subject)
		assert.Equal(t, i, item.Payload)
	}
	assert.Equal(t, 0, b.Len())
}

func TestDrainRespectsLimit(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Add("s", i)
	}

	items := b.Drain(4)
	require.Len(t, items, 4)
	assert.Equal(t, 6, b.Len())

	// Remaining items come out in order on the next drain
	items = b.Drain(100)
	require.Len(t, items, 6)
	assert.Equal(t, 4, items[0].Payload)
	assert.Equal(t, 9, items[5].Payload)
}

func TestDrainAcrossSubjects(t *testing.T) {
	b := New()
	b.Add("a", 1)
	b.Add("a", 2)
	b.Add("b", 3)

	items := b.Drain(100)
	require.Len(t, items, 3)

	// Cross-subject order is unspecified; per-subject order is not
	var aPayloads []any
	for _, item := range items {
		if item.Subject == "a" {
			aPayloads = append(aPayloads, item.Payload)
		}
	}
	assert.Equal(t, []any{1, 2}, aPayloads)
}

func TestEmptiedSubjectIsRemoved(t *testing.T) {
	b := New()
	b.Add("s", 1)

	b.Drain(100)
	assert.Empty(t, b.SubjectSizes())

	// A subsequent add on the same subject still works
	b.Add("s", 2)
	items := b.Drain(100)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Payload)
}

func TestSubjectSizes(t *testing.T) {
	b := New()
	b.Add("a", 1)
	b.Add("a", 2)
	b.Add("b", 3)

	sizes := b.SubjectSizes()
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, sizes)
	assert.Equal(t, 3, b.Len())
}

func TestDrainEmptyBuffer(t *testing.T) {
	b := New()
	assert.Empty(t, b.Drain(100))
}

func TestConcurrentAddsAndDrains(t *testing.T) {
	b := New()
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			subject := fmt.Sprintf("all_tracks.camera%d", p%4)
			for i := 0; i < perProducer; i++ {
				b.Add(subject, i)
			}
		}(p)
	}

	// Drain concurrently with the producers
	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		drained += len(b.Drain(200))
		select {
		case <-done:
			drained += len(b.Drain(producers * perProducer))
			assert.Equal(t, producers*perProducer, drained)
			assert.Equal(t, 0, b.Len())
			return
		default:
		}
	}
}

func TestRatesNilBeforeWindow(t *testing.T) {
	b := New()
	b.Add("s", 1)
	assert.Nil(t, b.Rates())
}

func TestRatesAfterWindow(t *testing.T) {
	b := New()
	for i := 0; i < 20; i++ {
		b.Add("s", i)
	}
	b.Drain(10)

	// Force the window back so Rates computes without sleeping
	b.mu.Lock()
	b.windowStart = b.windowStart.Add(-rateWindow)
	b.mu.Unlock()

	rates := b.Rates()
	require.NotNil(t, rates)
	require.Contains(t, rates, "s")
	assert.Greater(t, rates["s"].FillPerSec, 0.0)
	assert.Greater(t, rates["s"].FillPerSec, rates["s"].ProcessPerSec)

	// Counters reset with the window
	assert.Nil(t, b.Rates())
}
