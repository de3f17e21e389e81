package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/metrics"
	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/util"

	"github.com/sirupsen/logrus"
)

// Archive persists summaries of ended sessions
type Archive interface {
	Save(ctx context.Context, summary *Summary) error
	// Get returns an ErrNotFound error when no summary exists
	Get(ctx context.Context, callID string) (*Summary, error)
}

// Listener receives session events. Callbacks run outside any session
// lock and must not block for long.
type Listener interface {
	OnAssessment(a *risk.Assessment, info Info)
	// OnEscalation fires at most once per session
	OnEscalation(a *risk.Assessment)
	OnSessionEnded(summary *Summary)
}

// Config holds session manager configuration
type Config struct {
	// MaxSessions caps concurrently active sessions
	MaxSessions int
	// HistoryWindow bounds the per-session risk history
	HistoryWindow int
	// AllowImplicitStart lets transcript feeds start unseen calls
	AllowImplicitStart bool
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		MaxSessions:        50,
		HistoryWindow:      100,
		AllowImplicitStart: true,
	}
}

// SegmentInput is one incoming segment with its optional tonality
type SegmentInput struct {
	Segment  risk.Segment
	Tonality *risk.Tonality

	// ImplicitStart creates the session when the call is unseen
	ImplicitStart bool
	CallerInfo    map[string]string
}

// SegmentResult is returned for every processed segment
type SegmentResult struct {
	Assessment *risk.Assessment `json:"analysis"`
	Info       Info             `json:"session_info"`
	// EscalationRaised is true only on the evaluation that set the
	// session's escalation flag.
	EscalationRaised bool `json:"escalation_raised"`
}

// Started describes a newly created session
type Started struct {
	CallID         string    `json:"call_id"`
	StartTime      time.Time `json:"start_time"`
	ActiveSessions int       `json:"active_sessions"`
}

// SummaryView is either a live summary or an archived one
type SummaryView struct {
	Live     *LiveSummary `json:"live,omitempty"`
	Archived *Summary     `json:"archived,omitempty"`
}

// Statistics tracks running totals across all sessions
type Statistics struct {
	TotalAnalyses     int64   `json:"total_analyses"`
	EmergencyAlerts   int64   `json:"emergency_alerts"`
	CriticalAlerts    int64   `json:"critical_alerts"`
	HighPriority      int64   `json:"high_priority"`
	Escalations       int64   `json:"escalations"`
	SessionsStarted   int64   `json:"sessions_started"`
	SessionsEnded     int64   `json:"sessions_ended"`
	AverageCrisisRisk float64 `json:"average_crisis_risk"`
	AverageDistress   float64 `json:"average_distress"`
}

// Status is the manager-wide live status
type Status struct {
	ActiveSessions int        `json:"active_sessions"`
	MaxSessions    int        `json:"max_sessions"`
	ActiveCalls    []string   `json:"active_calls"`
	StartedAt      time.Time  `json:"started_at"`
	UptimeSeconds  float64    `json:"uptime_seconds"`
	Statistics     Statistics `json:"statistics"`
}

// Manager owns session lifecycle and feeds segments through the engine
type Manager struct {
	logger  *logrus.Entry
	engine  *risk.Engine
	store   Store
	archive Archive
	config  Config

	listenersMu sync.RWMutex
	listeners   []Listener

	// startMu makes the capacity check and create atomic
	startMu sync.Mutex

	statsMu     sync.Mutex
	stats       Statistics
	crisisSum   int64
	distressSum int64

	panics *util.PanicHandler

	startedAt time.Time
	now       func() time.Time
}

// NewManager creates a session manager. archive may be nil.
func NewManager(engine *risk.Engine, store Store, archive Archive, config Config, logger *logrus.Logger) *Manager {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultConfig().MaxSessions
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = DefaultConfig().HistoryWindow
	}

	m := &Manager{
		logger:    logger.WithField("component", "session_manager"),
		engine:    engine,
		store:     store,
		archive:   archive,
		config:    config,
		panics:    util.NewPanicHandler(logger),
		now:       time.Now,
		startedAt: time.Now(),
	}

	m.logger.WithFields(logrus.Fields{
		"max_sessions":   config.MaxSessions,
		"implicit_start": config.AllowImplicitStart,
	}).Info("Session manager initialized")
	return m
}

// AddListener registers a listener for session events
func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, l)
	m.listenersMu.Unlock()
}

// Engine returns the scoring engine
func (m *Manager) Engine() *risk.Engine {
	return m.engine
}

// MaxSessions returns the configured session cap
func (m *Manager) MaxSessions() int {
	return m.config.MaxSessions
}

// IsActive reports whether the call has a live session
func (m *Manager) IsActive(callID string) bool {
	return m.store.View(callID, func(*Session) {}) == nil
}

// StartSession creates a session for the call
func (m *Manager) StartSession(callID string, callerInfo map[string]string) (*Started, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, apperrors.NewInvalidInput("call_id is required")
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.IsActive(callID) {
		return nil, apperrors.NewSessionAlreadyExists(callID)
	}
	if active := m.store.Count(); active >= m.config.MaxSessions {
		metrics.RecordRejected("capacity")
		return nil, apperrors.NewResourceExhausted("maximum concurrent sessions reached", map[string]interface{}{
			"call_id":      callID,
			"max_sessions": m.config.MaxSessions,
		})
	}

	now := m.now()
	s := &Session{
		CallID:       callID,
		CallerInfo:   callerInfo,
		StartTime:    now,
		LastActivity: now,
	}
	if err := m.store.Create(s); err != nil {
		return nil, err
	}

	active := m.store.Count()
	metrics.RecordSessionStarted()
	metrics.SetActiveSessions(active)
	m.updateStats(func(st *Statistics) { st.SessionsStarted++ })

	m.logger.WithFields(logrus.Fields{
		"call_id":         callID,
		"active_sessions": active,
	}).Info("Live session started")

	return &Started{CallID: callID, StartTime: now, ActiveSessions: active}, nil
}

// ProcessSegment appends a segment to the call, evaluates it and applies
// the one-shot escalation rule. Segment append, trend update and the
// escalation check-and-set happen under the call's lock.
func (m *Manager) ProcessSegment(callID string, in SegmentInput) (*SegmentResult, error) {
	seg := in.Segment
	if seg.Timestamp.IsZero() {
		seg.Timestamp = m.now()
	}

	single := risk.Request{CallID: callID, Segments: []risk.Segment{seg}, Tonality: in.Tonality}
	if err := single.Validate(); err != nil {
		metrics.RecordRejected("invalid_input")
		return nil, err
	}

	if in.ImplicitStart && m.config.AllowImplicitStart && !m.IsActive(callID) {
		if _, err := m.StartSession(callID, in.CallerInfo); err != nil && !errors.Is(err, apperrors.ErrSessionAlreadyExist) {
			return nil, err
		}
	}

	var result SegmentResult
	began := time.Now()
	err := m.store.Update(callID, func(s *Session) error {
		now := m.now()
		segments := append(s.Segments[:len(s.Segments):len(s.Segments)], seg)

		a, err := m.engine.Evaluate(risk.Request{
			CallID:          callID,
			Segments:        segments,
			Tonality:        in.Tonality,
			SessionDuration: now.Sub(s.StartTime),
		})
		if err != nil {
			return err
		}

		s.Segments = segments
		s.LastActivity = now
		s.record(a, m.config.HistoryWindow)

		if a.EscalationTrigger && !s.EscalationTriggered {
			s.EscalationTriggered = true
			s.EscalatedAt = now
			result.EscalationRaised = true
		}

		result.Assessment = a
		result.Info = s.info(now)
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			metrics.RecordRejected("session_not_found")
		}
		return nil, err
	}

	a := result.Assessment
	metrics.RecordAssessment(string(a.Urgency), a.CrisisRisk, time.Since(began))
	m.recordAnalysis(a, result.EscalationRaised)

	fields := logrus.Fields{
		"call_id":     callID,
		"crisis_risk": a.CrisisRisk,
		"urgency":     a.Urgency,
	}
	if result.EscalationRaised {
		metrics.RecordEscalation()
		m.logger.WithFields(fields).Error("Escalation triggered, human intervention required")
	} else {
		m.logger.WithFields(fields).Debug("Segment processed")
	}

	m.notify(func(l Listener) {
		l.OnAssessment(a, result.Info)
		if result.EscalationRaised {
			l.OnEscalation(a)
		}
	})
	return &result, nil
}

// Analyze scores a standalone transcript without a session or trend
func (m *Manager) Analyze(callID, transcript string) (*risk.Assessment, error) {
	if callID == "" {
		callID = "adhoc"
	}
	a, err := m.engine.Score(risk.Request{
		CallID: callID,
		Segments: []risk.Segment{{
			Text:       transcript,
			Timestamp:  m.now(),
			Confidence: 1,
			IsFinal:    true,
		}},
	})
	if err != nil {
		metrics.RecordRejected("invalid_input")
		return nil, err
	}
	m.recordAnalysis(a, false)
	return a, nil
}

// EndSession tears the session down, archives its summary and clears
// the call's trend history.
func (m *Manager) EndSession(ctx context.Context, callID string, reason EndReason) (*Summary, error) {
	s, err := m.store.Remove(callID, func(*Session) bool {
		m.engine.Forget(callID)
		return true
	})
	if err != nil {
		return nil, err
	}
	return m.finish(ctx, s, reason), nil
}

// expire ends the session only if it has been idle since before cutoff
func (m *Manager) expire(ctx context.Context, callID string, cutoff time.Time) (*Summary, error) {
	s, err := m.store.Remove(callID, func(s *Session) bool {
		if !s.LastActivity.Before(cutoff) {
			return false
		}
		m.engine.Forget(callID)
		return true
	})
	if err != nil || s == nil {
		return nil, err
	}
	return m.finish(ctx, s, EndReasonInactivityTimeout), nil
}

// finish runs after the session left the store. Its trend history was
// cleared while the entry was still locked, so a new session for the same
// call starts from an empty history.
func (m *Manager) finish(ctx context.Context, s *Session, reason EndReason) *Summary {
	now := m.now()
	summary := s.summary(now, reason)

	if m.archive != nil {
		err := m.archive.Save(ctx, summary)
		metrics.RecordArchiveOperation("save", err)
		if err != nil {
			m.logger.WithError(err).WithField("call_id", s.CallID).Warn("Failed to archive session summary")
		}
	}

	metrics.RecordSessionEnded(string(reason), now.Sub(s.StartTime))
	metrics.SetActiveSessions(m.store.Count())
	m.updateStats(func(st *Statistics) { st.SessionsEnded++ })

	m.logger.WithFields(logrus.Fields{
		"call_id":              s.CallID,
		"reason":               reason,
		"segments":             summary.TotalSegments,
		"escalation_triggered": summary.EscalationTriggered,
	}).Info("Live session ended")

	m.notify(func(l Listener) { l.OnSessionEnded(summary) })
	return summary
}

// EmergencyStatus reports the latest assessment of a live call
func (m *Manager) EmergencyStatus(callID string) (*EmergencyStatus, error) {
	var status *EmergencyStatus
	err := m.store.View(callID, func(s *Session) {
		status = &EmergencyStatus{
			CallID:              callID,
			Status:              StatusNoAnalysisAvailable,
			EscalationTriggered: s.EscalationTriggered,
		}
		a := s.LastAssessment
		if a == nil {
			return
		}
		ts := a.AnalysisTimestamp
		status.Status = StatusOK
		status.CurrentCrisisRisk = a.CrisisRisk
		status.UrgencyLevel = a.Urgency
		status.ImmediateActionRequired = a.Urgency == risk.UrgencyEmergency || a.Urgency == risk.UrgencyCritical
		status.Recommendation = a.Recommendation
		status.LastAnalysisTime = &ts
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Summary returns the live summary of an active call, falling back to the
// archived summary of an ended one.
func (m *Manager) Summary(ctx context.Context, callID string) (*SummaryView, error) {
	var live *LiveSummary
	err := m.store.View(callID, func(s *Session) {
		live = s.liveSummary(m.now())
	})
	if err == nil {
		return &SummaryView{Live: live}, nil
	}
	if !errors.Is(err, apperrors.ErrSessionNotFound) || m.archive == nil {
		return nil, err
	}

	archived, aerr := m.archive.Get(ctx, callID)
	metrics.RecordArchiveOperation("get", ignoreNotFound(aerr))
	if aerr != nil {
		if errors.Is(aerr, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, aerr
	}
	return &SummaryView{Archived: archived}, nil
}

// Status returns the manager-wide live status
func (m *Manager) Status() Status {
	ids := m.store.IDs()
	if ids == nil {
		ids = []string{}
	}
	return Status{
		ActiveSessions: len(ids),
		MaxSessions:    m.config.MaxSessions,
		ActiveCalls:    ids,
		StartedAt:      m.startedAt,
		UptimeSeconds:  roundTenth(m.now().Sub(m.startedAt).Seconds()),
		Statistics:     m.Statistics(),
	}
}

// Statistics returns a snapshot of the running totals
func (m *Manager) Statistics() Statistics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Shutdown ends every live session
func (m *Manager) Shutdown(ctx context.Context) {
	for _, id := range m.store.IDs() {
		if _, err := m.EndSession(ctx, id, EndReasonShutdown); err != nil && !errors.Is(err, apperrors.ErrSessionNotFound) {
			m.logger.WithError(err).WithField("call_id", id).Warn("Failed to end session during shutdown")
		}
	}
}

func (m *Manager) recordAnalysis(a *risk.Assessment, escalated bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	m.stats.TotalAnalyses++
	switch a.Urgency {
	case risk.UrgencyEmergency:
		m.stats.EmergencyAlerts++
	case risk.UrgencyCritical:
		m.stats.CriticalAlerts++
	case risk.UrgencyHigh:
		m.stats.HighPriority++
	}
	if escalated {
		m.stats.Escalations++
	}

	m.crisisSum += int64(a.CrisisRisk)
	m.distressSum += int64(a.DistressLevel)
	m.stats.AverageCrisisRisk = roundTenth(float64(m.crisisSum) / float64(m.stats.TotalAnalyses))
	m.stats.AverageDistress = roundTenth(float64(m.distressSum) / float64(m.stats.TotalAnalyses))
}

func (m *Manager) updateStats(fn func(*Statistics)) {
	m.statsMu.Lock()
	fn(&m.stats)
	m.statsMu.Unlock()
}

func (m *Manager) notify(fn func(Listener)) {
	m.listenersMu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.RUnlock()

	// a failing listener must not stop the others or the caller
	for _, l := range listeners {
		m.panics.Call("session_listener", func() { fn(l) })
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}
