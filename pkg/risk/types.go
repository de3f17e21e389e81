package risk

import (
	"math"
	"strings"
	"time"

	"crisis-monitor/pkg/errors"
)

// Urgency is the ordered risk tier driving the recommended action
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyCritical  Urgency = "critical"
	UrgencyEmergency Urgency = "emergency"
)

// Rank orders tiers from low (0) to emergency (4). Unknown values rank -1.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyMedium:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyCritical:
		return 3
	case UrgencyEmergency:
		return 4
	}
	return -1
}

// Urgencies lists every tier in ascending order
func Urgencies() []Urgency {
	return []Urgency{UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical, UrgencyEmergency}
}

// Trend is the direction of crisis risk across a call's recent history
type Trend string

const (
	TrendIncreasing       Trend = "increasing"
	TrendDecreasing       Trend = "decreasing"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

// Segment is one chunk of transcribed speech
type Segment struct {
	Text       string    `json:"text" yaml:"text"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	IsFinal    bool      `json:"is_final" yaml:"is_final"`
	SpeakerID  string    `json:"speaker_id,omitempty" yaml:"speaker_id,omitempty"`
}

// Tonality holds acoustic features describing vocal delivery
type Tonality struct {
	PitchMean      float64 `json:"pitch_mean" yaml:"pitch_mean"`
	PitchVariance  float64 `json:"pitch_variance" yaml:"pitch_variance"`
	SpeechRate     float64 `json:"speech_rate" yaml:"speech_rate"`
	VolumeLevel    float64 `json:"volume_level" yaml:"volume_level"`
	VoiceTremor    float64 `json:"voice_tremor" yaml:"voice_tremor"`
	PauseFrequency float64 `json:"pause_frequency" yaml:"pause_frequency"`
	EmotionalTone  string  `json:"emotional_tone" yaml:"emotional_tone"`
	ToneConfidence float64 `json:"tone_confidence" yaml:"tone_confidence"`
}

// Request is one evaluation of a call: the segments seen so far plus
// optional tonality for this tick.
type Request struct {
	CallID          string
	Segments        []Segment
	Tonality        *Tonality
	SessionDuration time.Duration
}

// Assessment is the immutable result of one evaluation
type Assessment struct {
	CallID             string    `json:"call_id"`
	CrisisRisk         int       `json:"crisis_risk"`
	DistressLevel      int       `json:"distress_level"`
	EmotionalIntensity int       `json:"emotional_intensity"`
	TonalityRisk       int       `json:"tonality_risk"`
	Urgency            Urgency   `json:"urgency"`
	Recommendation     string    `json:"recommendation"`
	EscalationTrigger  bool      `json:"escalation_trigger"`
	KeyIndicators      []string  `json:"key_indicators"`
	ToneIndicators     []string  `json:"tone_indicators"`
	RiskTrend          Trend     `json:"risk_trend"`
	Confidence         float64   `json:"confidence"`
	AnalysisTimestamp  time.Time `json:"analysis_timestamp"`
	NextCheckSeconds   int       `json:"next_check_seconds"`
}

// Validate rejects requests that cannot be evaluated. A rejected request
// never produces an assessment.
func (r Request) Validate() error {
	if strings.TrimSpace(r.CallID) == "" {
		return errors.NewInvalidInput("call_id is required")
	}
	if len(r.Segments) == 0 {
		return errors.NewInvalidInput("transcript has no segments", map[string]interface{}{"call_id": r.CallID})
	}

	hasText := false
	for i, seg := range r.Segments {
		if !inUnitRange(seg.Confidence) {
			return errors.NewInvalidInput("segment confidence must be within [0,1]", map[string]interface{}{
				"call_id": r.CallID,
				"segment": i,
			})
		}
		if strings.TrimSpace(seg.Text) != "" {
			hasText = true
		}
	}
	if !hasText {
		return errors.NewInvalidInput("transcript text is empty", map[string]interface{}{"call_id": r.CallID})
	}

	if r.Tonality != nil {
		if err := r.Tonality.Validate(); err != nil {
			return errors.Wrap(err, "invalid tonality", map[string]interface{}{"call_id": r.CallID})
		}
	}
	return nil
}

// Validate checks that every tonality field is finite and within range
func (t Tonality) Validate() error {
	for name, v := range map[string]float64{
		"pitch_mean":     t.PitchMean,
		"pitch_variance": t.PitchVariance,
		"speech_rate":    t.SpeechRate,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return errors.NewInvalidInput(name + " must be a non-negative number")
		}
	}
	for name, v := range map[string]float64{
		"volume_level":    t.VolumeLevel,
		"voice_tremor":    t.VoiceTremor,
		"pause_frequency": t.PauseFrequency,
		"tone_confidence": t.ToneConfidence,
	} {
		if !inUnitRange(v) {
			return errors.NewInvalidInput(name + " must be within [0,1]")
		}
	}
	return nil
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
