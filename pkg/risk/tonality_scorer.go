package risk

import (
	"math"
	"strings"
)

// Tone indicator labels
const (
	ToneVoiceInstability = "voice_instability"
	ToneHighStressPitch  = "high_stress_pitch"
	ToneRapidSpeech      = "rapid_speech"
	ToneSlowSpeech       = "slow_speech"
	ToneTremblingVoice   = "trembling_voice"
	ToneFrequentPauses   = "frequent_pauses"
	ToneWithdrawnVoice   = "withdrawn_voice"
	ToneAgitatedVoice    = "agitated_voice"
)

// TonalityScore is the raw result of the tonality scorer
type TonalityScore struct {
	Risk       float64
	Indicators []string
}

// TonalityScorer maps acoustic measurements to a tonal risk score
type TonalityScorer struct {
	lexicon *Lexicon
}

// NewTonalityScorer creates a tonality scorer using the lexicon's tone table
func NewTonalityScorer(lexicon *Lexicon) *TonalityScorer {
	return &TonalityScorer{lexicon: lexicon}
}

// Score applies the threshold table. A nil measurement scores zero.
func (s *TonalityScorer) Score(t *Tonality) TonalityScore {
	var result TonalityScore
	if t == nil {
		return result
	}

	add := func(points float64, label string) {
		result.Risk += points
		result.Indicators = append(result.Indicators, label)
	}

	if t.PitchVariance > 50 {
		add(25, ToneVoiceInstability)
	}
	if t.PitchMean > 300 {
		add(20, ToneHighStressPitch)
	}
	if t.SpeechRate > 200 {
		add(20, ToneRapidSpeech)
	}
	if t.SpeechRate < 80 {
		add(15, ToneSlowSpeech)
	}
	if t.VoiceTremor > 0.3 {
		add(math.Round(t.VoiceTremor*50), ToneTremblingVoice)
	}
	if t.PauseFrequency > 0.4 {
		add(20, ToneFrequentPauses)
	}
	if t.VolumeLevel < 0.2 {
		add(15, ToneWithdrawnVoice)
	}
	if t.VolumeLevel > 0.8 {
		add(10, ToneAgitatedVoice)
	}

	tone := strings.ToLower(strings.TrimSpace(t.EmotionalTone))
	if base, ok := s.lexicon.ToneRisk[tone]; ok {
		add(math.Floor(float64(base)*t.ToneConfidence), "tone_"+tone)
	}

	return result
}
