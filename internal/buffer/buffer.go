// Package buffer holds per-subject FIFO queues between the NATS delivery
// callbacks and the batch loop.
//
// Appends run under a per-subject lock only; the coarse lock guards the
// subject set for iteration and key deletion. Within one subject, drain
// order equals receipt order.
package buffer

import (
	"sync"
	"time"
)

// rateWindow is the sliding window for fill/drain rate observability
const rateWindow = 10 * time.Second

// Item is one buffered message
type Item struct {
	Subject string
	Payload any
}

// Rate is the per-subject throughput over the last window
type Rate struct {
	FillPerSec    float64
	ProcessPerSec float64
}

// queue is one subject's FIFO plus its rate counters.
// removed marks a queue deleted from the subject map so a racing Add
// re-creates a fresh entry instead of appending to an orphan.
type queue struct {
	mu        sync.Mutex
	items     []any
	removed   bool
	filled    int
	processed int
}

// Buffer is the per-subject batch buffer
type Buffer struct {
	mu     sync.Mutex // guards the subject map and window bookkeeping
	queues map[string]*queue

	// counts folded in from queues deleted mid-window
	residualFilled    map[string]int
	residualProcessed map[string]int
	windowStart       time.Time
}

// New creates an empty buffer
func New() *Buffer {
	return &Buffer{
		queues:            make(map[string]*queue),
		residualFilled:    make(map[string]int),
		residualProcessed: make(map[string]int),
		windowStart:       time.Now(),
	}
}

func (b *Buffer) getOrCreate(subject string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[subject]
	if !ok {
		q = &queue{}
		b.queues[subject] = q
	}
	return q
}

// Add appends a payload to the subject's queue. O(1) under the per-subject
// lock; never blocks on other subjects and never blocks broker delivery.
func (b *Buffer) Add(subject string, payload any) {
	for {
		q := b.getOrCreate(subject)
		q.mu.Lock()
		if q.removed {
			// Lost the race against a drain that deleted this entry
			q.mu.Unlock()
			continue
		}
		q.items = append(q.items, payload)
		q.filled++
		q.mu.Unlock()
		return
	}
}

// Len returns the total number of buffered payloads
func (b *Buffer) Len() int {
	total := 0
	for _, n := range b.SubjectSizes() {
		total += n
	}
	return total
}

// SubjectSizes snapshots per-subject queue depths for monitoring
func (b *Buffer) SubjectSizes() map[string]int {
	b.mu.Lock()
	snapshot := make(map[string]*queue, len(b.queues))
	for subject, q := range b.queues {
		snapshot[subject] = q
	}
	b.mu.Unlock()

	sizes := make(map[string]int, len(snapshot))
	for subject, q := range snapshot {
		q.mu.Lock()
		sizes[subject] = len(q.items)
		q.mu.Unlock()
	}
	return sizes
}

// Drain extracts at most limit payloads across all subjects in one pass.
// Per subject it takes from the head up to remaining capacity and deletes
// the map entry once the queue empties. FIFO order within a subject is
// preserved.
func (b *Buffer) Drain(limit int) []Item {
	b.mu.Lock()
	subjects := make([]string, 0, len(b.queues))
	snapshot := make(map[string]*queue, len(b.queues))
	for subject, q := range b.queues {
		subjects = append(subjects, subject)
		snapshot[subject] = q
	}
	b.mu.Unlock()

	var out []Item
	for _, subject := range subjects {
		if len(out) >= limit {
			break
		}
		q := snapshot[subject]

		q.mu.Lock()
		take := limit - len(out)
		if take > len(q.items) {
			take = len(q.items)
		}
		for _, payload := range q.items[:take] {
			out = append(out, Item{Subject: subject, Payload: payload})
		}
		q.items = q.items[take:]
		q.processed += take

		if len(q.items) == 0 {
			b.mu.Lock()
			if b.queues[subject] == q {
				delete(b.queues, subject)
			}
			b.residualFilled[subject] += q.filled
			b.residualProcessed[subject] += q.processed
			b.mu.Unlock()
			q.removed = true
		}
		q.mu.Unlock()
	}
	return out
}

// Rates returns fill/process rates per subject once a full window has
// elapsed, then resets the window. Returns nil before the window is over.
func (b *Buffer) Rates() map[string]Rate {
	b.mu.Lock()
	elapsed := time.Since(b.windowStart)
	if elapsed < rateWindow {
		b.mu.Unlock()
		return nil
	}

	filled := make(map[string]int, len(b.residualFilled))
	processed := make(map[string]int, len(b.residualProcessed))
	for subject, n := range b.residualFilled {
		filled[subject] += n
	}
	for subject, n := range b.residualProcessed {
		processed[subject] += n
	}
	b.residualFilled = make(map[string]int)
	b.residualProcessed = make(map[string]int)
	b.windowStart = time.Now()

	snapshot := make(map[string]*queue, len(b.queues))
	for subject, q := range b.queues {
		snapshot[subject] = q
	}
	b.mu.Unlock()

	// Live queues keep their counters; fold and reset them too
	for subject, q := range snapshot {
		q.mu.Lock()
		filled[subject] += q.filled
		processed[subject] += q.processed
		q.filled = 0
		q.processed = 0
		q.mu.Unlock()
	}

	rates := make(map[string]Rate, len(filled))
	secs := elapsed.Seconds()
	for subject, n := range filled {
		rates[subject] = Rate{
			FillPerSec:    float64(n) / secs,
			ProcessPerSec: float64(processed[subject]) / secs,
		}
	}
	return rates
}
