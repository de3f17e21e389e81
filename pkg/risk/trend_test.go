package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrendTracker_Classification(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		want   Trend
	}{
		{"empty", nil, TrendInsufficientData},
		{"two points", []int{10, 90}, TrendInsufficientData},
		{"three rising", []int{10, 25, 40}, TrendIncreasing},
		{"three falling", []int{60, 50, 30}, TrendDecreasing},
		{"within delta", []int{20, 50, 30}, TrendStable},
		{"exactly delta", []int{20, 0, 30}, TrendStable},
		{"compares three back", []int{0, 80, 50, 55, 45}, TrendDecreasing},
		{"ignores older spikes", []int{90, 10, 10, 10, 15}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTrendTracker()
			trend := TrendInsufficientData
			for i, v := range tt.values {
				trend = tracker.Record("c", v, testEpoch.Add(time.Duration(i)*time.Second))
			}
			assert.Equal(t, tt.want, trend)
			assert.Equal(t, tt.want, tracker.Trend("c"))
		})
	}
}

func TestTrendTracker_EvictsOldest(t *testing.T) {
	tracker := NewTrendTracker()
	for i := 0; i < 25; i++ {
		tracker.Record("c", i, testEpoch.Add(time.Duration(i)*time.Second))
	}

	history := tracker.History("c")
	assert.Len(t, history, MaxTrendHistory)
	assert.Equal(t, 15, history[0].CrisisRisk)
	assert.Equal(t, 24, history[len(history)-1].CrisisRisk)
}

func TestTrendTracker_CallsAreIsolated(t *testing.T) {
	tracker := NewTrendTracker()
	for _, v := range []int{0, 20, 40} {
		tracker.Record("a", v, testEpoch)
	}
	tracker.Record("b", 90, testEpoch)

	assert.Equal(t, TrendIncreasing, tracker.Trend("a"))
	assert.Equal(t, TrendInsufficientData, tracker.Trend("b"))
	assert.Equal(t, 2, tracker.Calls())

	tracker.Forget("a")
	assert.Equal(t, TrendInsufficientData, tracker.Trend("a"))
	assert.Equal(t, 1, tracker.Calls())
}
