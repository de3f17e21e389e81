package risk

import (
	"regexp"
	"strings"
)

const (
	structuralIncrement     = 15
	urgencyCueIncrement     = 20
	urgencyCueCap           = 60
	crisisEscalationBonus   = 30
	distressRepeatBonus     = 20
	coherenceDeclineBonus   = 15
	minWordsForRepetition   = 20
	minSegmentsEscalation   = 3
	minSegmentsCoherence    = 5
	coherenceWordRatio      = 0.7
	coherenceConfidenceRate = 0.8
)

// PatternScore is the raw structural result of the pattern analyzer
type PatternScore struct {
	// Pattern is the crisis-adjacent score: sentence patterns plus
	// real-time escalation and coherence decline.
	Pattern float64
	// Repetition is the distress-adjacent negative-word score
	Repetition float64
	// Punctuation feeds emotional intensity
	Punctuation float64
	// Urgency is the capped urgency-cue score
	Urgency float64

	// Matched names the heuristics that fired, for logging
	Matched []string
}

// PatternAnalyzer applies structural heuristics to a transcript
type PatternAnalyzer struct {
	lexicon  *Lexicon
	patterns []namedPattern
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// NewPatternAnalyzer creates a pattern analyzer with the built-in
// sentence patterns.
func NewPatternAnalyzer(lexicon *Lexicon) *PatternAnalyzer {
	return &PatternAnalyzer{
		lexicon: lexicon,
		patterns: []namedPattern{
			{"cannot_cope", regexp.MustCompile(`i\s+(can't|cannot)\s+(take|handle|do)\s+(this|it)`)},
			{"nobody_cares", regexp.MustCompile(`nobody\s+(cares|would\s+miss\s+me)`)},
			{"nothing_matters", regexp.MustCompile(`nothing\s+(matters|helps)`)},
			{"nothing_left", regexp.MustCompile(`i\s+have\s+(no|nothing)\b`)},
			{"others_better_off", regexp.MustCompile(`everyone\s+would\s+be\s+better`)},
			{"no_point", regexp.MustCompile(`(there's|there\s+is)\s+no\s+(point|reason)`)},
			{"want_it_to_end", regexp.MustCompile(`i\s+(just\s+)?want\s+(it|this|the\s+pain)\s+to\s+(end|stop)`)},
		},
	}
}

// Analyze returns the unclamped pattern scores for the transcript
func (a *PatternAnalyzer) Analyze(t Transcript) PatternScore {
	var result PatternScore

	for _, p := range a.patterns {
		if p.re.MatchString(t.Full) {
			result.Pattern += structuralIncrement
			result.Matched = append(result.Matched, p.name)
		}
	}

	result.Repetition = a.repetition(t.Full)
	if result.Repetition > 0 {
		result.Matched = append(result.Matched, "negative_repetition")
	}

	result.Punctuation = punctuationIntensity(t.Raw)

	for _, cue := range a.lexicon.Urgency {
		if strings.Contains(t.Recent, cue) {
			result.Urgency += urgencyCueIncrement
		}
	}
	if result.Urgency > urgencyCueCap {
		result.Urgency = urgencyCueCap
	}

	if n := len(t.Segments); n >= minSegmentsEscalation {
		if a.distinctCrisis(t.Recent) >= 2 {
			result.Pattern += crisisEscalationBonus
			result.Matched = append(result.Matched, "crisis_escalation")
		}
		if a.distressOccurrences(t.Recent) >= 3 {
			result.Pattern += distressRepeatBonus
			result.Matched = append(result.Matched, "distress_repetition")
		}
	}

	if coherenceDeclined(t.Segments) {
		result.Pattern += coherenceDeclineBonus
		result.Matched = append(result.Matched, "coherence_decline")
	}

	return result
}

func (a *PatternAnalyzer) repetition(text string) float64 {
	words := strings.Fields(text)
	if len(words) < minWordsForRepetition {
		return 0
	}

	negative := 0
	for _, w := range words {
		if a.lexicon.Negative[strings.Trim(w, `.,!?;:"()`)] {
			negative++
		}
	}

	ratio := float64(negative) / float64(len(words))
	switch {
	case ratio > 0.15:
		return 25
	case ratio > 0.10:
		return 15
	}
	return 0
}

func (a *PatternAnalyzer) distinctCrisis(text string) int {
	n := 0
	for _, p := range a.lexicon.Crisis {
		if strings.Contains(text, p.Text) {
			n++
		}
	}
	return n
}

func (a *PatternAnalyzer) distressOccurrences(text string) int {
	n := 0
	for _, p := range a.lexicon.Distress {
		n += strings.Count(text, p.Text)
	}
	return n
}

func punctuationIntensity(text string) float64 {
	score := 0.0
	if strings.Count(text, "!") > 3 {
		score += 15
	}
	if strings.Count(text, "?") > 5 {
		score += 10
	}
	if strings.Count(text, "...") > 2 {
		score += 10
	}
	return score
}

// coherenceDeclined compares the latest window of segments with the
// preceding window of equal size.
func coherenceDeclined(segments []Segment) bool {
	n := len(segments)
	if n < minSegmentsCoherence {
		return false
	}
	k := n / 2
	if k > RecentWindow {
		k = RecentWindow
	}

	recentWords, recentConf := windowStats(segments[n-k:])
	priorWords, priorConf := windowStats(segments[n-2*k : n-k])
	if priorWords == 0 || priorConf == 0 {
		return false
	}
	return recentWords < coherenceWordRatio*priorWords &&
		recentConf < coherenceConfidenceRate*priorConf
}

func windowStats(segments []Segment) (avgWords, avgConfidence float64) {
	if len(segments) == 0 {
		return 0, 0
	}
	for _, seg := range segments {
		avgWords += float64(len(strings.Fields(seg.Text)))
		avgConfidence += seg.Confidence
	}
	n := float64(len(segments))
	return avgWords / n, avgConfidence / n
}
