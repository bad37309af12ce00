package window

import (
	"cmp"
	"errors"
	"slices"
	"sync"
)

// ErrEmptyWindow is returned when no observations fall inside the window
var ErrEmptyWindow = errors.New("window: no data in window")

// Tracker records timestamped values and reports the mode over a trailing window.
// The log is append-only; old entries are only dropped by an explicit Prune.
type Tracker[T cmp.Ordered] struct {
	mu         sync.Mutex
	timestamps []float64
	values     []T
	duration   float64
}

// New creates an empty tracker with the given window width
func New[T cmp.Ordered](duration float64) *Tracker[T] {
	return &Tracker[T]{duration: duration}
}

// Duration returns the window width
func (t *Tracker[T]) Duration() float64 {
	return t.duration
}

// Add records value as observed at timestamp.
// Timestamps do not have to arrive in order.
func (t *Tracker[T]) Add(timestamp float64, value T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timestamps = append(t.timestamps, timestamp)
	t.values = append(t.values, value)
}

// Len returns the number of stored observations
func (t *Tracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}

// Timestamps returns a copy of the stored timestamps in arrival order
func (t *Tracker[T]) Timestamps() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.timestamps)
}

// Values returns a copy of the stored values in arrival order
func (t *Tracker[T]) Values() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.values)
}

// Mode returns the most frequent value among observations with a timestamp
// strictly after now-duration. Ties go to the smaller value.
func (t *Tracker[T]) Mode(now float64) (T, error) {
	lower := now - t.duration

	t.mu.Lock()
	inWindow := make([]T, 0, len(t.values))
	for i, ts := range t.timestamps {
		if ts > lower {
			inWindow = append(inWindow, t.values[i])
		}
	}
	t.mu.Unlock()

	return modeSorted(inWindow)
}

// Prune removes every observation with timestamp <= cutoff and returns how
// many were removed. Surviving entries keep their relative order.
func (t *Tracker[T]) Prune(cutoff float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := 0
	for i, ts := range t.timestamps {
		if ts > cutoff {
			t.timestamps[kept] = ts
			t.values[kept] = t.values[i]
			kept++
		}
	}
	removed := len(t.timestamps) - kept

	// Zero the tail so pruned string values can be collected
	clear(t.values[kept:])
	t.timestamps = t.timestamps[:kept]
	t.values = t.values[:kept]
	return removed
}

// ModeOf returns the most frequent value in values, preferring the smaller
// value on a tie. values is not modified.
func ModeOf[T cmp.Ordered](values []T) (T, error) {
	return modeSorted(slices.Clone(values))
}

// modeSorted sorts values in place and scans it for the longest run of equal values
func modeSorted[T cmp.Ordered](values []T) (T, error) {
	if len(values) == 0 {
		var zero T
		return zero, ErrEmptyWindow
	}

	slices.SortStableFunc(values, cmp.Compare[T])

	mode := values[0]
	best, run := 1, 1
	for i := 1; i < len(values); i++ {
		if cmp.Compare(values[i-1], values[i]) != 0 {
			run = 1
			continue
		}
		run++
		// Strictly greater only, so the first run to reach a count keeps it
		if run > best {
			best = run
			mode = values[i]
		}
	}
	return mode, nil
}
