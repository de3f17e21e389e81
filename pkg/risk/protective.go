package risk

import "strings"

// ProtectiveAdjuster sums the negative weights of mitigating phrases.
// Phrases match by substring like every other lexicon table, so "hopeless"
// also earns the credit for "hope".
type ProtectiveAdjuster struct {
	lexicon *Lexicon
}

// NewProtectiveAdjuster creates an adjuster over the lexicon's protective table
func NewProtectiveAdjuster(lexicon *Lexicon) *ProtectiveAdjuster {
	return &ProtectiveAdjuster{lexicon: lexicon}
}

// Adjustment returns the (non-positive) adjustment and the matched phrases.
// Each distinct phrase counts once however often it occurs.
func (a *ProtectiveAdjuster) Adjustment(t Transcript) (float64, []string) {
	adjustment := 0.0
	var matched []string
	seen := make(map[string]bool)
	for _, p := range a.lexicon.Protective {
		if seen[p.Text] || !strings.Contains(t.Full, p.Text) {
			continue
		}
		seen[p.Text] = true
		adjustment += float64(p.Weight)
		matched = append(matched, p.Text)
	}
	return adjustment, matched
}
