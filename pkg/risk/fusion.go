package risk

import "math"

// Scores holds the fused, clamped risk values
type Scores struct {
	Crisis    int
	Distress  int
	Intensity int
	Tonality  int
}

var recommendations = map[Urgency]string{
	UrgencyEmergency: "IMMEDIATE ACTION REQUIRED: connect the caller with emergency services and stay on the line",
	UrgencyCritical:  "Escalate to a crisis supervisor now and begin safety planning with the caller",
	UrgencyHigh:      "Increase monitoring and prepare crisis resources; assess for immediate danger",
	UrgencyMedium:    "Continue active listening and check in about safety and support",
	UrgencyLow:       "Continue supportive conversation with routine monitoring",
}

// Recommendation returns the fixed guidance text for a tier
func Recommendation(u Urgency) string {
	return recommendations[u]
}

// Fuse combines raw sub-scores into the final clamped values. This is the
// only place rounding and clamping happen.
func Fuse(text TextScore, pattern PatternScore, tonal TonalityScore, protective float64) Scores {
	var s Scores
	s.Crisis = clampScore(text.Crisis + 0.3*pattern.Pattern + 0.5*pattern.Urgency + protective)
	s.Distress = clampScore(text.Distress + 0.2*pattern.Repetition + protective)
	s.Tonality = clampScore(tonal.Risk)

	weighted := math.Round(0.4*float64(s.Crisis) + 0.3*float64(s.Distress) + 0.3*float64(s.Tonality))
	s.Intensity = clampScore(weighted + pattern.Punctuation)
	return s
}

// Classify walks the tier table top-down; the first matching tier wins.
// Escalation is mandated for critical and emergency only.
func Classify(s Scores, keywords, toneIndicators []string, lexicon *Lexicon) (Urgency, bool) {
	instability := false
	for _, ind := range toneIndicators {
		if ind == ToneVoiceInstability {
			instability = true
			break
		}
	}

	switch {
	case s.Crisis >= 60 || anyMatched(keywords, lexicon.Emergency) || (instability && s.Crisis >= 40):
		return UrgencyEmergency, true
	case s.Crisis >= 45 || (s.Crisis >= 30 && s.Tonality >= 40) || anyMatched(keywords, lexicon.Critical):
		return UrgencyCritical, true
	case s.Crisis >= 30 || s.Distress >= 60 || s.Tonality >= 50 || (s.Crisis >= 20 && len(keywords) >= 3):
		return UrgencyHigh, false
	case s.Crisis >= 15 || s.Distress >= 40 || s.Tonality >= 30:
		return UrgencyMedium, false
	}
	return UrgencyLow, false
}

func anyMatched(keywords, set []string) bool {
	for _, k := range keywords {
		for _, s := range set {
			if k == s {
				return true
			}
		}
	}
	return false
}

func clampScore(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 100 {
		return 100
	}
	return int(math.Round(v))
}
