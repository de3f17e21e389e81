package session

import (
	"math"
	"time"

	"crisis-monitor/pkg/risk"
)

// EndReason records why a session was torn down
type EndReason string

const (
	EndReasonCompleted         EndReason = "completed"
	EndReasonInactivityTimeout EndReason = "inactivity_timeout"
	EndReasonShutdown          EndReason = "shutdown"
)

// Trend is the whole-session risk direction reported in summaries
type Trend string

const (
	TrendSignificantlyIncreasing Trend = "significantly_increasing"
	TrendIncreasing              Trend = "increasing"
	TrendStable                  Trend = "stable"
	TrendDecreasing              Trend = "decreasing"
	TrendSignificantlyDecreasing Trend = "significantly_decreasing"
	TrendInsufficientData        Trend = "insufficient_data"
)

// HistoryEntry is one risk check recorded on the session
type HistoryEntry struct {
	Timestamp  time.Time    `json:"timestamp"`
	CrisisRisk int          `json:"crisis_risk"`
	Urgency    risk.Urgency `json:"urgency"`
}

// Session is the live state of one monitored call. It is only accessed
// through a Store, which serializes access per call id.
type Session struct {
	CallID       string
	CallerInfo   map[string]string
	StartTime    time.Time
	LastActivity time.Time

	Segments       []risk.Segment
	LastAssessment *risk.Assessment

	// History keeps the most recent risk checks; the aggregates below
	// cover every check of the session.
	History    []HistoryEntry
	RiskChecks int
	RiskSum    int
	MaxRisk    int

	// EscalationTriggered never resets for the life of the session
	EscalationTriggered bool
	EscalatedAt         time.Time
}

// Info is the per-segment view of a session returned with each assessment
type Info struct {
	DurationSeconds     float64 `json:"duration_seconds"`
	SegmentsCount       int     `json:"segments_count"`
	EscalationTriggered bool    `json:"escalation_triggered"`
}

// Summary is the record produced when a session ends
type Summary struct {
	CallID              string            `json:"call_id"`
	StartTime           time.Time         `json:"start_time"`
	EndedAt             time.Time         `json:"ended_at"`
	DurationSeconds     float64           `json:"duration_seconds"`
	TotalSegments       int               `json:"total_segments"`
	TotalRiskChecks     int               `json:"total_risk_checks"`
	MaxCrisisRisk       int               `json:"max_crisis_risk"`
	AverageCrisisRisk   float64           `json:"average_crisis_risk"`
	EscalationTriggered bool              `json:"escalation_triggered"`
	FinalAnalysis       *risk.Assessment  `json:"final_analysis,omitempty"`
	RiskTrend           Trend             `json:"risk_trend"`
	EndReason           EndReason         `json:"end_reason"`
	CallerInfo          map[string]string `json:"caller_info,omitempty"`
}

// LiveSummary describes a session that is still active
type LiveSummary struct {
	CallID              string            `json:"call_id"`
	StartTime           time.Time         `json:"start_time"`
	DurationSeconds     float64           `json:"duration_seconds"`
	TotalSegments       int               `json:"total_segments"`
	TotalRiskChecks     int               `json:"total_risk_checks"`
	MaxCrisisRisk       int               `json:"max_crisis_risk"`
	AverageCrisisRisk   float64           `json:"average_crisis_risk"`
	CurrentCrisisRisk   int               `json:"current_crisis_risk"`
	RiskTrend           Trend             `json:"risk_trend"`
	EscalationTriggered bool              `json:"escalation_triggered"`
	CallerInfo          map[string]string `json:"caller_info,omitempty"`
	LastAnalysis        *risk.Assessment  `json:"last_analysis,omitempty"`
}

// EmergencyStatus is the quick status used by supervisors
type EmergencyStatus struct {
	CallID                  string       `json:"call_id"`
	Status                  string       `json:"status"`
	CurrentCrisisRisk       int          `json:"current_crisis_risk"`
	UrgencyLevel            risk.Urgency `json:"urgency_level,omitempty"`
	EscalationTriggered     bool         `json:"escalation_triggered"`
	ImmediateActionRequired bool         `json:"immediate_action_required"`
	Recommendation          string       `json:"recommendation,omitempty"`
	LastAnalysisTime        *time.Time   `json:"last_analysis_time,omitempty"`
}

// Emergency status values
const (
	StatusOK                  = "ok"
	StatusNoAnalysisAvailable = "no_analysis_available"
)

func (s *Session) info(now time.Time) Info {
	return Info{
		DurationSeconds:     roundTenth(now.Sub(s.StartTime).Seconds()),
		SegmentsCount:       len(s.Segments),
		EscalationTriggered: s.EscalationTriggered,
	}
}

func (s *Session) record(a *risk.Assessment, window int) {
	s.LastAssessment = a
	s.History = append(s.History, HistoryEntry{
		Timestamp:  a.AnalysisTimestamp,
		CrisisRisk: a.CrisisRisk,
		Urgency:    a.Urgency,
	})
	if window > 0 && len(s.History) > window {
		s.History = append([]HistoryEntry(nil), s.History[len(s.History)-window:]...)
	}

	s.RiskChecks++
	s.RiskSum += a.CrisisRisk
	if a.CrisisRisk > s.MaxRisk {
		s.MaxRisk = a.CrisisRisk
	}
}

func (s *Session) averageRisk() float64 {
	if s.RiskChecks == 0 {
		return 0
	}
	return roundTenth(float64(s.RiskSum) / float64(s.RiskChecks))
}

func (s *Session) summary(now time.Time, reason EndReason) *Summary {
	return &Summary{
		CallID:              s.CallID,
		StartTime:           s.StartTime,
		EndedAt:             now,
		DurationSeconds:     roundTenth(now.Sub(s.StartTime).Seconds()),
		TotalSegments:       len(s.Segments),
		TotalRiskChecks:     s.RiskChecks,
		MaxCrisisRisk:       s.MaxRisk,
		AverageCrisisRisk:   s.averageRisk(),
		EscalationTriggered: s.EscalationTriggered,
		FinalAnalysis:       s.LastAssessment,
		RiskTrend:           SessionTrend(s.History),
		EndReason:           reason,
		CallerInfo:          s.CallerInfo,
	}
}

func (s *Session) liveSummary(now time.Time) *LiveSummary {
	ls := &LiveSummary{
		CallID:              s.CallID,
		StartTime:           s.StartTime,
		DurationSeconds:     roundTenth(now.Sub(s.StartTime).Seconds()),
		TotalSegments:       len(s.Segments),
		TotalRiskChecks:     s.RiskChecks,
		MaxCrisisRisk:       s.MaxRisk,
		AverageCrisisRisk:   s.averageRisk(),
		RiskTrend:           SessionTrend(s.History),
		EscalationTriggered: s.EscalationTriggered,
		CallerInfo:          s.CallerInfo,
		LastAnalysis:        s.LastAssessment,
	}
	if s.LastAssessment != nil {
		ls.CurrentCrisisRisk = s.LastAssessment.CrisisRisk
	}
	return ls
}

// SessionTrend compares the average crisis risk of the first third of the
// history with the last third.
func SessionTrend(history []HistoryEntry) Trend {
	n := len(history)
	if n < 3 {
		return TrendInsufficientData
	}
	third := n / 3

	avg := func(entries []HistoryEntry) float64 {
		sum := 0
		for _, e := range entries {
			sum += e.CrisisRisk
		}
		return float64(sum) / float64(len(entries))
	}

	diff := avg(history[n-third:]) - avg(history[:third])
	switch {
	case diff > 15:
		return TrendSignificantlyIncreasing
	case diff > 5:
		return TrendIncreasing
	case diff < -15:
		return TrendSignificantlyDecreasing
	case diff < -5:
		return TrendDecreasing
	}
	return TrendStable
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
