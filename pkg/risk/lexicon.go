package risk

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Phrase is a lexicon entry with its severity weight
type Phrase struct {
	Text   string
	Weight int
}

// Lexicon holds the weighted phrase tables used by every scorer.
// Tables are ordered so that indicator lists are deterministic.
type Lexicon struct {
	Crisis     []Phrase
	Distress   []Phrase
	Protective []Phrase

	// ToneRisk maps an emotional tone label to its base risk
	ToneRisk map[string]int

	// Immediacy cues boost nearby crisis phrases
	Immediacy []string
	// Urgency cues are scored by the pattern analyzer on recent text
	Urgency []string
	// Negative words feed the repetition ratio
	Negative map[string]bool

	// Matched phrases forcing the emergency and critical tiers
	Emergency []string
	Critical  []string
}

// DefaultLexicon returns the built-in English lexicon
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Crisis: []Phrase{
			{"suicide", 50},
			{"kill myself", 50},
			{"end it all", 45},
			{"not worth living", 40},
			{"better off dead", 45},
			{"want to die", 50},
			{"going to die", 45},
			{"ending my life", 50},
			{"hang myself", 50},
			{"have a plan", 40},
			{"plan to", 30},
			{"ready to", 25},
			{"about to", 20},
			{"going to hurt", 35},
			{"can't go on", 35},
			{"no way out", 35},
			{"hurt myself", 30},
			{"self harm", 30},
			{"cutting", 25},
			{"overdose", 40},
			{"pills", 20},
			{"jump off", 35},
			{"hurt someone", 35},
			{"violence", 20},
			{"revenge", 20},
		},
		Distress: []Phrase{
			{"hopeless", 20},
			{"worthless", 25},
			{"empty", 15},
			{"numb", 15},
			{"alone", 10},
			{"trapped", 20},
			{"burden", 25},
			{"useless", 20},
			{"depressed", 15},
			{"anxious", 10},
			{"overwhelmed", 15},
			{"broken", 20},
			{"lost", 15},
			{"desperate", 25},
			{"miserable", 20},
			{"devastated", 25},
			{"terrified", 20},
			{"panic", 25},
			{"crying", 15},
			{"can't think", 15},
			{"confused", 10},
			{"foggy", 10},
			{"scattered", 10},
			{"racing thoughts", 15},
			{"can't focus", 10},
			{"memory problems", 10},
			{"can't sleep", 10},
			{"exhausted", 10},
			{"tired", 5},
			{"headaches", 5},
			{"stomach problems", 5},
			{"chest pain", 10},
			{"breathing", 10},
		},
		Protective: []Phrase{
			{"family", -5},
			{"support", -10},
			{"therapy", -15},
			{"therapist", -15},
			{"medication", -10},
			{"counselor", -15},
			{"doctor", -10},
			{"help", -5},
			{"better", -10},
			{"improving", -15},
			{"hope", -20},
			{"future", -10},
			{"goals", -10},
			{"safety plan", -25},
		},
		ToneRisk: map[string]int{
			"distressed": 30,
			"panicked":   40,
			"depressed":  25,
			"angry":      20,
			"fearful":    25,
			"hopeless":   35,
		},
		Immediacy: []string{"right now", "tonight", "today", "immediately", "about to"},
		Urgency: []string{
			"right now", "immediately", "tonight", "emergency",
			"today", "urgent", "asap", "can't wait",
		},
		Negative: map[string]bool{
			"can't": true, "won't": true, "never": true, "nothing": true,
			"nobody": true, "no": true, "not": true,
		},
		Emergency: []string{"kill myself", "suicide", "end it all", "going to die", "about to"},
		Critical:  []string{"hurt myself", "have a plan", "ready to"},
	}
}

// Normalize lower-cases text and folds typographic apostrophes so that
// lexicon lookups are case-insensitive.
func Normalize(text string) string {
	text = strings.NewReplacer("’", "'", "‘", "'").Replace(text)
	return cases.Lower(language.Und).String(text)
}

// ContainsAny reports whether any of the phrases occurs in text
func ContainsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
