package risk

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	apperrors "crisis-monitor/pkg/errors"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_ImmediateSelfHarmIsEmergency(t *testing.T) {
	engine := newTestEngine()

	a, err := engine.Evaluate(Request{CallID: "call-a", Segments: segs("I want to kill myself tonight")})
	require.NoError(t, err)

	assert.Equal(t, UrgencyEmergency, a.Urgency)
	assert.True(t, a.EscalationTrigger)
	assert.GreaterOrEqual(t, a.CrisisRisk, 60)
	assert.Contains(t, a.KeyIndicators, "kill myself")
	assert.Equal(t, Recommendation(UrgencyEmergency), a.Recommendation)
	assert.Equal(t, 5, a.NextCheckSeconds)
	assert.Equal(t, TrendInsufficientData, a.RiskTrend)
}

func TestEngine_NeutralTextIsLow(t *testing.T) {
	engine := newTestEngine()

	a, err := engine.Evaluate(Request{CallID: "call-b", Segments: segs("I'm feeling okay, just testing the system")})
	require.NoError(t, err)

	assert.Equal(t, UrgencyLow, a.Urgency)
	assert.False(t, a.EscalationTrigger)
	assert.Equal(t, 0, a.CrisisRisk)
	assert.Equal(t, 0, a.DistressLevel)
	assert.Empty(t, a.KeyIndicators)
	assert.Empty(t, a.ToneIndicators)
	assert.InDelta(t, 0.58, a.Confidence, 1e-9)
	assert.Equal(t, 60, a.NextCheckSeconds)
}

func TestEngine_ProtectiveClauseLowersDistress(t *testing.T) {
	engine := newTestEngine()

	with, err := engine.Score(Request{CallID: "c", Segments: segs("I feel hopeless and trapped but I have therapy tomorrow")})
	require.NoError(t, err)
	without, err := engine.Score(Request{CallID: "c", Segments: segs("I feel hopeless and trapped")})
	require.NoError(t, err)

	assert.Less(t, with.DistressLevel, without.DistressLevel)
	// "hopeless" carries the "hope" credit in both texts
	assert.Equal(t, 32, without.DistressLevel)
	assert.Equal(t, 17, with.DistressLevel)
}

func TestEngine_HopefulClauseEarnsProtectiveCredit(t *testing.T) {
	engine := newTestEngine()

	a, err := engine.Score(Request{CallID: "c", Segments: segs("I feel alone and trapped but I am hopeful")})
	require.NoError(t, err)
	base, err := engine.Score(Request{CallID: "c", Segments: segs("I feel alone and trapped")})
	require.NoError(t, err)

	assert.Equal(t, base.DistressLevel-20, a.DistressLevel)
}

func TestEngine_TonalityWithNeutralText(t *testing.T) {
	engine := newTestEngine()

	tonality := calmTonality()
	tonality.PitchVariance = 80
	tonality.SpeechRate = 220

	a, err := engine.Evaluate(Request{
		CallID:   "call-d",
		Segments: segs("The weather has been fine this week"),
		Tonality: tonality,
	})
	require.NoError(t, err)

	assert.Equal(t, 45, a.TonalityRisk)
	assert.Contains(t, a.ToneIndicators, ToneVoiceInstability)
	assert.Contains(t, a.ToneIndicators, ToneRapidSpeech)
	assert.LessOrEqual(t, a.CrisisRisk, 10)
	assert.Equal(t, UrgencyMedium, a.Urgency)
}

func TestEngine_RisingRiskIsIncreasing(t *testing.T) {
	engine := newTestEngine()
	history := segs("I feel alone", "I have some pills", "I want to die")

	var trends []Trend
	var risks []int
	for i := 1; i <= len(history); i++ {
		a, err := engine.Evaluate(Request{CallID: "call-e", Segments: history[:i]})
		require.NoError(t, err)
		trends = append(trends, a.RiskTrend)
		risks = append(risks, a.CrisisRisk)
	}

	assert.Equal(t, []Trend{TrendInsufficientData, TrendInsufficientData, TrendIncreasing}, trends)
	assert.Equal(t, 0, risks[0])
	assert.Equal(t, 30, risks[1])
	assert.Equal(t, 100, risks[2])
}

func TestEngine_RejectsInvalidInput(t *testing.T) {
	engine := newTestEngine()

	badTonality := calmTonality()
	badTonality.VoiceTremor = 2

	tests := map[string]Request{
		"missing call id":   {Segments: segs("hello")},
		"no segments":       {CallID: "c"},
		"blank text":        {CallID: "c", Segments: segs("   ", "")},
		"confidence > 1":    {CallID: "c", Segments: []Segment{{Text: "hi", Confidence: 1.5, IsFinal: true}}},
		"confidence is NaN": {CallID: "c", Segments: []Segment{{Text: "hi", Confidence: math.NaN(), IsFinal: true}}},
		"tonality range":    {CallID: "c", Segments: segs("hello"), Tonality: badTonality},
	}

	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			a, err := engine.Evaluate(req)
			assert.Nil(t, a)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}

	assert.Equal(t, int64(len(tests)), engine.Stats().Rejected)
	assert.Zero(t, engine.TrackedCalls())
}

func TestEngine_MissingTonalityIsNotAnError(t *testing.T) {
	engine := newTestEngine()

	a, err := engine.Evaluate(Request{CallID: "c", Segments: segs("I feel anxious")})
	require.NoError(t, err)
	assert.Equal(t, 0, a.TonalityRisk)
	assert.Empty(t, a.ToneIndicators)
}

func TestEngine_ScoreIsRepeatable(t *testing.T) {
	engine := newTestEngine()
	req := Request{
		CallID:   "c",
		Segments: segs("I can't take this anymore", "nobody cares about me", "I have pills right now"),
		Tonality: calmTonality(),
	}

	first, err := engine.Score(req)
	require.NoError(t, err)
	second, err := engine.Score(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	e1, err := engine.Evaluate(req)
	require.NoError(t, err)
	e2, err := engine.Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, e1.CrisisRisk, e2.CrisisRisk)
	assert.Equal(t, e1.DistressLevel, e2.DistressLevel)
	assert.Equal(t, e1.EmotionalIntensity, e2.EmotionalIntensity)
	assert.Equal(t, e1.TonalityRisk, e2.TonalityRisk)
	assert.Equal(t, e1.Urgency, e2.Urgency)
}

func TestEngine_ScoreDoesNotRecordTrend(t *testing.T) {
	engine := newTestEngine()
	for i := 0; i < 4; i++ {
		a, err := engine.Score(Request{CallID: "c", Segments: segs("I want to die")})
		require.NoError(t, err)
		assert.Equal(t, TrendInsufficientData, a.RiskTrend)
	}
	assert.Empty(t, engine.TrendHistory("c"))
}

func TestEngine_ForgetClearsHistory(t *testing.T) {
	engine := newTestEngine()
	req := Request{CallID: "c", Segments: segs("I feel lost")}

	for i := 0; i < 15; i++ {
		_, err := engine.Evaluate(req)
		require.NoError(t, err)
	}
	assert.Len(t, engine.TrendHistory("c"), MaxTrendHistory)

	engine.Forget("c")
	assert.Empty(t, engine.TrendHistory("c"))

	a, err := engine.Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, TrendInsufficientData, a.RiskTrend)
}

func TestEngine_IndicatorListsAreCapped(t *testing.T) {
	engine := newTestEngine()

	var phrases []string
	for _, p := range engine.Lexicon().Crisis[:12] {
		phrases = append(phrases, p.Text)
	}
	tonality := &Tonality{
		PitchMean: 350, PitchVariance: 90, SpeechRate: 250, VolumeLevel: 0.9,
		VoiceTremor: 0.9, PauseFrequency: 0.9, EmotionalTone: "panicked", ToneConfidence: 1,
	}

	a, err := engine.Evaluate(Request{CallID: "c", Segments: segs(strings.Join(phrases, ". ")), Tonality: tonality})
	require.NoError(t, err)
	assert.Len(t, a.KeyIndicators, 10)
	assert.Len(t, a.ToneIndicators, 5)
	assert.Equal(t, phrases[:10], a.KeyIndicators)
}

func TestEngine_ProtectivePhrasesNeverRaiseRisk(t *testing.T) {
	engine := newTestEngine()
	texts := []string{
		"I want to die",
		"I feel hopeless and trapped",
		"I took pills tonight and I can't go on",
		"Everything is fine at work",
		"I am so tired and alone, everyone would be better off",
	}
	const clause = " but I have my family and my therapist and hope for the future"

	for _, text := range texts {
		base, err := engine.Score(Request{CallID: "c", Segments: segs("hello there", text)})
		require.NoError(t, err)
		protected, err := engine.Score(Request{CallID: "c", Segments: segs("hello there", text+clause)})
		require.NoError(t, err)

		assert.LessOrEqual(t, protected.CrisisRisk, base.CrisisRisk, text)
		assert.LessOrEqual(t, protected.DistressLevel, base.DistressLevel, text)
	}
}

func TestEngine_RandomInputsStayInRange(t *testing.T) {
	engine := newTestEngine()
	lex := engine.Lexicon()

	var vocabulary []string
	for _, table := range [][]Phrase{lex.Crisis, lex.Distress, lex.Protective} {
		for _, p := range table {
			vocabulary = append(vocabulary, p.Text)
		}
	}
	vocabulary = append(vocabulary, lex.Urgency...)
	vocabulary = append(vocabulary, "nobody cares", "i can't take this", "!!!!", "??????", "...", "the", "and")
	tones := []string{"neutral", "distressed", "panicked", "depressed", "angry", "fearful", "hopeless", "calm"}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		n := 1 + rng.Intn(8)
		segments := make([]Segment, n)
		for j := range segments {
			words := make([]string, 1+rng.Intn(12))
			for k := range words {
				words[k] = vocabulary[rng.Intn(len(vocabulary))]
			}
			segments[j] = Segment{
				Text:       strings.Join(words, " "),
				Confidence: rng.Float64(),
				IsFinal:    rng.Intn(4) != 0,
			}
		}

		var tonality *Tonality
		if rng.Intn(2) == 0 {
			tonality = &Tonality{
				PitchMean:      rng.Float64() * 500,
				PitchVariance:  rng.Float64() * 120,
				SpeechRate:     rng.Float64() * 300,
				VolumeLevel:    rng.Float64(),
				VoiceTremor:    rng.Float64(),
				PauseFrequency: rng.Float64(),
				EmotionalTone:  tones[rng.Intn(len(tones))],
				ToneConfidence: rng.Float64(),
			}
		}

		a, err := engine.Evaluate(Request{CallID: "fuzz", Segments: segments, Tonality: tonality})
		require.NoError(t, err)

		for _, v := range []int{a.CrisisRisk, a.DistressLevel, a.EmotionalIntensity, a.TonalityRisk} {
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 100)
		}
		assert.GreaterOrEqual(t, a.Confidence, 0.0)
		assert.LessOrEqual(t, a.Confidence, 1.0)
		assert.LessOrEqual(t, len(a.KeyIndicators), 10)
		assert.LessOrEqual(t, len(a.ToneIndicators), 5)
		assert.Equal(t, a.Urgency == UrgencyCritical || a.Urgency == UrgencyEmergency, a.EscalationTrigger)
		assert.LessOrEqual(t, len(engine.TrendHistory("fuzz")), MaxTrendHistory)
	}
}

func TestEngine_ConcurrentCalls(t *testing.T) {
	engine := newTestEngine()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			callID := "call-" + string(rune('a'+id))
			for j := 0; j < 5; j++ {
				_, err := engine.Evaluate(Request{CallID: callID, Segments: segs("I feel overwhelmed")})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, engine.TrackedCalls())
	assert.Equal(t, int64(100), engine.Stats().TotalEvaluations)
}

func TestEngine_LogsProtectiveFactors(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	engine := NewEngine(logger)

	_, err := engine.Score(Request{CallID: "c", Segments: segs("I feel alone but my therapist helps")})
	require.NoError(t, err)

	var scored *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Scored signals" {
			scored = entry
		}
	}
	require.NotNil(t, scored)
	assert.Equal(t, []string{"therapist", "help"}, scored.Data["protective_factors"])
	assert.Equal(t, -20.0, scored.Data["protective_weight"])
}
