package api

import (
	"sync"
	"time"
)

// submitLimiter bounds render submissions per minute across all callers.
// A zero max disables the limit.
type submitLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	events []int64
}

func newSubmitLimiter(perMin int) *submitLimiter {
	if perMin < 0 {
		perMin = 0
	}
	return &submitLimiter{
		max:    perMin,
		window: time.Minute,
		events: make([]int64, 0, 64),
	}
}

func (l *submitLimiter) allow(now time.Time) bool {
	if l == nil || l.max == 0 {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = trimCutoff(l.events, cutoff)
	if len(l.events) >= l.max {
		return false
	}
	l.events = append(l.events, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}
