package risk

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewEngine(logger, WithClock(func() time.Time { return testEpoch }))
}

func seg(text string) Segment {
	return Segment{Text: text, Timestamp: testEpoch, Confidence: 0.9, IsFinal: true}
}

func segs(texts ...string) []Segment {
	out := make([]Segment, len(texts))
	for i, text := range texts {
		out[i] = seg(text)
		out[i].Timestamp = testEpoch.Add(time.Duration(i) * time.Second)
	}
	return out
}

func calmTonality() *Tonality {
	return &Tonality{
		PitchMean:      150,
		PitchVariance:  10,
		SpeechRate:     140,
		VolumeLevel:    0.5,
		VoiceTremor:    0.1,
		PauseFrequency: 0.1,
		EmotionalTone:  "neutral",
		ToneConfidence: 0.8,
	}
}
