package risk

import (
	"sync"
	"time"
)

const (
	// MaxTrendHistory bounds the per-call risk history
	MaxTrendHistory = 10
	trendDelta      = 10
	trendMinPoints  = 3
)

// TrendPoint is one entry of a call's risk history
type TrendPoint struct {
	CrisisRisk int       `json:"crisis_risk"`
	Timestamp  time.Time `json:"timestamp"`
}

// TrendTracker keeps a bounded crisis-risk history per call
type TrendTracker struct {
	mu      sync.Mutex
	max     int
	history map[string][]TrendPoint
}

// NewTrendTracker creates a tracker keeping at most MaxTrendHistory points per call
func NewTrendTracker() *TrendTracker {
	return &TrendTracker{
		max:     MaxTrendHistory,
		history: make(map[string][]TrendPoint),
	}
}

// Record appends a point, evicting the oldest beyond the bound, and
// returns the resulting trend.
func (t *TrendTracker) Record(callID string, crisisRisk int, ts time.Time) Trend {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[callID], TrendPoint{CrisisRisk: crisisRisk, Timestamp: ts})
	if len(h) > t.max {
		h = append([]TrendPoint(nil), h[len(h)-t.max:]...)
	}
	t.history[callID] = h
	return classifyTrend(h)
}

// Trend classifies the current history without modifying it
func (t *TrendTracker) Trend(callID string) Trend {
	t.mu.Lock()
	defer t.mu.Unlock()
	return classifyTrend(t.history[callID])
}

// History returns a copy of the call's history, oldest first
func (t *TrendTracker) History(callID string) []TrendPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TrendPoint(nil), t.history[callID]...)
}

// Forget discards the call's history
func (t *TrendTracker) Forget(callID string) {
	t.mu.Lock()
	delete(t.history, callID)
	t.mu.Unlock()
}

// Calls returns the number of calls with history
func (t *TrendTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

func classifyTrend(h []TrendPoint) Trend {
	n := len(h)
	if n < trendMinPoints {
		return TrendInsufficientData
	}

	ref := 0
	if n > trendMinPoints {
		ref = n - 1 - trendMinPoints
	}
	delta := h[n-1].CrisisRisk - h[ref].CrisisRisk
	switch {
	case delta > trendDelta:
		return TrendIncreasing
	case delta < -trendDelta:
		return TrendDecreasing
	}
	return TrendStable
}
