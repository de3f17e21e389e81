package risk

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	maxKeyIndicators  = 10
	maxToneIndicators = 5
)

// Engine turns transcript and tonality snapshots into assessments. It
// owns only the per-call trend history; segment storage belongs to the
// caller.
type Engine struct {
	logger  *logrus.Entry
	lexicon *Lexicon

	text       *TextScorer
	patterns   *PatternAnalyzer
	tonality   *TonalityScorer
	protective *ProtectiveAdjuster
	trends     *TrendTracker

	now func() time.Time

	statsMu sync.RWMutex
	stats   EngineStats
}

// EngineStats tracks evaluation counts
type EngineStats struct {
	TotalEvaluations int64             `json:"total_evaluations"`
	Rejected         int64             `json:"rejected"`
	ByUrgency        map[Urgency]int64 `json:"by_urgency"`
	LastEvaluation   time.Time         `json:"last_evaluation"`
}

// Option configures an Engine
type Option func(*Engine)

// WithLexicon replaces the built-in lexicon
func WithLexicon(l *Lexicon) Option {
	return func(e *Engine) { e.lexicon = l }
}

// WithClock overrides the time source used for analysis timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a scoring engine
func NewEngine(logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:  logger.WithField("component", "risk_engine"),
		lexicon: DefaultLexicon(),
		trends:  NewTrendTracker(),
		now:     time.Now,
		stats:   EngineStats{ByUrgency: make(map[Urgency]int64)},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.text = NewTextScorer(e.lexicon)
	e.patterns = NewPatternAnalyzer(e.lexicon)
	e.tonality = NewTonalityScorer(e.lexicon)
	e.protective = NewProtectiveAdjuster(e.lexicon)
	return e
}

// Lexicon returns the lexicon in use
func (e *Engine) Lexicon() *Lexicon {
	return e.lexicon
}

// Score evaluates a request without touching trend history. The returned
// assessment reports insufficient_data for its trend.
func (e *Engine) Score(req Request) (*Assessment, error) {
	if err := req.Validate(); err != nil {
		e.recordRejected()
		return nil, err
	}
	a := e.assess(req)
	a.RiskTrend = TrendInsufficientData
	e.recordStats(a)
	return a, nil
}

// Evaluate scores a request and appends the result to the call's trend
// history. Callers must serialize evaluations of the same call.
func (e *Engine) Evaluate(req Request) (*Assessment, error) {
	if err := req.Validate(); err != nil {
		e.recordRejected()
		return nil, err
	}
	a := e.assess(req)
	a.RiskTrend = e.trends.Record(req.CallID, a.CrisisRisk, a.AnalysisTimestamp)
	e.recordStats(a)

	e.logger.WithFields(logrus.Fields{
		"call_id":     a.CallID,
		"crisis_risk": a.CrisisRisk,
		"urgency":     a.Urgency,
		"trend":       a.RiskTrend,
	}).Debug("Evaluated transcript")
	return a, nil
}

// Forget clears the trend history of an ended call
func (e *Engine) Forget(callID string) {
	e.trends.Forget(callID)
}

// TrendHistory returns the call's recorded trend points
func (e *Engine) TrendHistory(callID string) []TrendPoint {
	return e.trends.History(callID)
}

// TrackedCalls returns the number of calls holding trend history
func (e *Engine) TrackedCalls() int {
	return e.trends.Calls()
}

func (e *Engine) assess(req Request) *Assessment {
	t := NewTranscript(req.Segments)

	var (
		text       TextScore
		pattern    PatternScore
		tonal      TonalityScore
		protective float64
		factors    []string
	)

	// The sub-scorers share only the immutable transcript snapshot.
	var g errgroup.Group
	g.Go(func() error { text = e.text.Score(t); return nil })
	g.Go(func() error { pattern = e.patterns.Analyze(t); return nil })
	g.Go(func() error { tonal = e.tonality.Score(req.Tonality); return nil })
	g.Go(func() error { protective, factors = e.protective.Adjustment(t); return nil })
	// scorers are pure and never return an error
	_ = g.Wait()

	e.logger.WithFields(logrus.Fields{
		"call_id":            req.CallID,
		"text_indicators":    text.Indicators,
		"patterns":           pattern.Matched,
		"tone_indicators":    tonal.Indicators,
		"protective_factors": factors,
		"protective_weight":  protective,
	}).Debug("Scored signals")

	scores := Fuse(text, pattern, tonal, protective)
	urgency, escalate := Classify(scores, text.Indicators, tonal.Indicators, e.lexicon)

	return &Assessment{
		CallID:             req.CallID,
		CrisisRisk:         scores.Crisis,
		DistressLevel:      scores.Distress,
		EmotionalIntensity: scores.Intensity,
		TonalityRisk:       scores.Tonality,
		Urgency:            urgency,
		Recommendation:     Recommendation(urgency),
		EscalationTrigger:  escalate,
		KeyIndicators:      capped(text.Indicators, maxKeyIndicators),
		ToneIndicators:     capped(tonal.Indicators, maxToneIndicators),
		Confidence:         EstimateConfidence(t, req.Tonality, len(text.Indicators)),
		AnalysisTimestamp:  e.now().UTC(),
		NextCheckSeconds:   NextCheckSeconds(urgency, scores.Crisis),
	}
}

func capped(in []string, n int) []string {
	out := make([]string, 0, min(len(in), n))
	for i := 0; i < len(in) && i < n; i++ {
		out = append(out, in[i])
	}
	return out
}

// Stats returns a snapshot of the engine statistics
func (e *Engine) Stats() EngineStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()

	snapshot := e.stats
	snapshot.ByUrgency = make(map[Urgency]int64, len(e.stats.ByUrgency))
	for k, v := range e.stats.ByUrgency {
		snapshot.ByUrgency[k] = v
	}
	return snapshot
}

func (e *Engine) recordStats(a *Assessment) {
	e.statsMu.Lock()
	e.stats.TotalEvaluations++
	e.stats.ByUrgency[a.Urgency]++
	e.stats.LastEvaluation = a.AnalysisTimestamp
	e.statsMu.Unlock()
}

func (e *Engine) recordRejected() {
	e.statsMu.Lock()
	e.stats.Rejected++
	e.statsMu.Unlock()
}
