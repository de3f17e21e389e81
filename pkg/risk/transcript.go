package risk

import "strings"

// RecentWindow is the number of trailing segments treated as recent text
const RecentWindow = 3

// Transcript is the normalized view of a request's segments shared by
// all scorers. It is built once per evaluation and never mutated.
type Transcript struct {
	// Full is the lower-cased text of all final segments
	Full string
	// Recent is the lower-cased text of the last few segments, final or not
	Recent string
	// Raw is Full before normalization, used for punctuation counts
	Raw string

	Segments []Segment
}

// NewTranscript builds the scoring view of the given segments
func NewTranscript(segments []Segment) Transcript {
	final := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.IsFinal {
			final = append(final, strings.TrimSpace(seg.Text))
		}
	}

	start := len(segments) - RecentWindow
	if start < 0 {
		start = 0
	}
	recent := make([]string, 0, RecentWindow)
	for _, seg := range segments[start:] {
		recent = append(recent, strings.TrimSpace(seg.Text))
	}

	raw := strings.Join(final, " ")
	return Transcript{
		Full:     Normalize(raw),
		Recent:   Normalize(strings.Join(recent, " ")),
		Raw:      raw,
		Segments: segments,
	}
}

// FinalCount returns the number of final segments
func (t Transcript) FinalCount() int {
	n := 0
	for _, seg := range t.Segments {
		if seg.IsFinal {
			n++
		}
	}
	return n
}

// AverageConfidence returns the mean transcription confidence, or 0
// when there are no segments.
func (t Transcript) AverageConfidence() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	sum := 0.0
	for _, seg := range t.Segments {
		sum += seg.Confidence
	}
	return sum / float64(len(t.Segments))
}
