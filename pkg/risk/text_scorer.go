package risk

import (
	"strings"
	"unicode/utf8"
)

const (
	crisisRecencyBoost   = 0.5
	distressRecencyBoost = 0.3
	immediacyBoost       = 0.3
	immediacyWindow      = 50
)

// TextScore is the raw lexical result of the text scorer
type TextScore struct {
	Crisis   float64
	Distress float64
	// Indicators holds matched phrases, crisis before distress, in
	// lexicon order without duplicates.
	Indicators []string
}

// TextScorer scores transcript text against the crisis and distress tables
type TextScorer struct {
	lexicon *Lexicon
}

// NewTextScorer creates a text scorer over the given lexicon
func NewTextScorer(lexicon *Lexicon) *TextScorer {
	return &TextScorer{lexicon: lexicon}
}

// Score returns unclamped crisis and distress scores for the transcript
func (s *TextScorer) Score(t Transcript) TextScore {
	var result TextScore
	seen := make(map[string]bool)

	for _, p := range s.lexicon.Crisis {
		pos := strings.Index(t.Full, p.Text)
		if pos < 0 {
			continue
		}
		w := float64(p.Weight)
		result.Crisis += w
		if strings.Contains(t.Recent, p.Text) {
			result.Crisis += w * crisisRecencyBoost
		}
		if s.nearImmediacy(t.Full, pos) {
			result.Crisis += w * immediacyBoost
		}
		if !seen[p.Text] {
			seen[p.Text] = true
			result.Indicators = append(result.Indicators, p.Text)
		}
	}

	for _, p := range s.lexicon.Distress {
		if !strings.Contains(t.Full, p.Text) {
			continue
		}
		w := float64(p.Weight)
		result.Distress += w
		if strings.Contains(t.Recent, p.Text) {
			result.Distress += w * distressRecencyBoost
		}
		if !seen[p.Text] {
			seen[p.Text] = true
			result.Indicators = append(result.Indicators, p.Text)
		}
	}

	return result
}

// nearImmediacy checks the immediacyWindow characters either side of the
// start of the first occurrence of a phrase.
func (s *TextScorer) nearImmediacy(text string, pos int) bool {
	start := pos
	for i := 0; i < immediacyWindow && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := pos
	for i := 0; i < immediacyWindow && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return ContainsAny(text[start:end], s.lexicon.Immediacy)
}
