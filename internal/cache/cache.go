// Package cache suppresses graph writes whose payload did not meaningfully
// change since the last message on the same subject.
package cache

import (
	"math"
	"sync"
)

// DefaultTolerance is the float comparison tolerance applied when a subject
// has no tighter requirement. The high-rate all_tracks.* subjects use 0.001.
const DefaultTolerance = 0.01

// ChangeCache remembers the last payload seen per subject and answers
// whether a new payload differs beyond a numeric tolerance.
//
// A single mutex guards the map; the compare itself runs under the lock,
// which is fine because payloads are small decoded JSON trees.
type ChangeCache struct {
	mu   sync.Mutex
	last map[string]any
}

// New creates an empty change cache
func New() *ChangeCache {
	return &ChangeCache{last: make(map[string]any)}
}

// HasChanged compares payload against the stored value for subject.
// When equal within tol it returns false and leaves the cache untouched;
// otherwise it stores payload and returns true. The first payload on a
// subject always counts as changed.
func (c *ChangeCache) HasChanged(subject string, payload any, tol float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[subject]
	if ok && !meaningfullyDifferent(last, payload, tol) {
		return false
	}
	c.last[subject] = payload
	return true
}

// Clear drops all remembered payloads
func (c *ChangeCache) Clear() {
	c.mu.Lock()
	c.last = make(map[string]any)
	c.mu.Unlock()
}

// meaningfullyDifferent recursively compares two decoded-JSON values.
// Maps compare key-set then per key, slices element-wise by position,
// floats within tol, everything else by equality. A type mismatch is
// always a difference.
func meaningfullyDifferent(a, b any, tol float64) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return true
		}
		for k, v1 := range av {
			v2, ok := bv[k]
			if !ok || meaningfullyDifferent(v1, v2, tol) {
				return true
			}
		}
		return false

	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return true
		}
		for i := range av {
			if meaningfullyDifferent(av[i], bv[i], tol) {
				return true
			}
		}
		return false

	case float64:
		bv, ok := b.(float64)
		if !ok {
			return true
		}
		return math.Abs(av-bv) > tol

	default:
		return a != b
	}
}
