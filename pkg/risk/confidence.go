package risk

import "math"

var baseCheckSeconds = map[Urgency]int{
	UrgencyEmergency: 5,
	UrgencyCritical:  10,
	UrgencyHigh:      15,
	UrgencyMedium:    30,
	UrgencyLow:       60,
}

// EstimateConfidence derives a [0,1] confidence from signal quantity and quality
func EstimateConfidence(t Transcript, tonality *Tonality, indicatorCount int) float64 {
	c := 0.4
	if t.FinalCount() > 5 {
		c += 0.2
	}
	c += t.AverageConfidence() * 0.2
	if tonality != nil && tonality.ToneConfidence > 0.5 {
		c += 0.15
	}
	if indicatorCount >= 3 {
		c += 0.15
	}
	if c > 1 {
		c = 1
	}
	return math.Round(c*100) / 100
}

// NextCheckSeconds maps urgency and crisis risk to a re-evaluation delay
func NextCheckSeconds(u Urgency, crisisRisk int) int {
	seconds, ok := baseCheckSeconds[u]
	if !ok {
		seconds = baseCheckSeconds[UrgencyLow]
	}
	switch {
	case crisisRisk > 50:
		seconds = min(seconds, 10)
	case crisisRisk > 30:
		seconds = min(seconds, 20)
	}
	return seconds
}
