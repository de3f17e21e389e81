package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/metrics"
	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/session"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const healthCheckText = "test message for health check"

// message outcome labels
const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeRejected = "rejected"
	outcomeSkipped  = "skipped"
)

// Handler validates incoming envelopes and dispatches them to the session
// manager. It is safe for concurrent use.
type Handler struct {
	manager   *session.Manager
	logger    *logrus.Entry
	newCallID func() string
	now       func() time.Time
}

// NewHandler creates a message handler
func NewHandler(manager *session.Manager, logger *logrus.Logger) *Handler {
	return &Handler{
		manager:   manager,
		logger:    logger.WithField("component", "protocol"),
		newCallID: func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// Handle decodes one JSON envelope and returns the reply. A nil reply
// means the message needs no answer.
func (h *Handler) Handle(ctx context.Context, data []byte) Reply {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		metrics.RecordMessage("invalid", outcomeRejected)
		return &ErrorReply{
			Header:  Header{Type: ReplyError},
			Message: "message is not valid JSON",
			Code:    "INVALID_INPUT",
		}
	}
	return h.HandleDocument(ctx, doc)
}

// HandleDocument dispatches an already decoded JSON document
func (h *Handler) HandleDocument(ctx context.Context, doc any) Reply {
	if violations := validate(schemas.envelope, doc); violations != nil {
		metrics.RecordMessage("invalid", outcomeRejected)
		return &ErrorReply{
			Header:         Header{Type: ReplyError},
			Message:        "message must be an object with a string type",
			Code:           "INVALID_INPUT",
			Violations:     violations,
			SupportedTypes: SupportedTypes(),
		}
	}

	obj := doc.(map[string]any)
	msgType := obj["type"].(string)

	sch, ok := schemas.messages[msgType]
	if !ok {
		metrics.RecordMessage("unknown", outcomeRejected)
		h.logger.WithField("type", msgType).Warn("Unknown message type")
		return &ErrorReply{
			Header:         Header{Type: ReplyError},
			Message:        fmt.Sprintf("Unknown message type: %s", msgType),
			SupportedTypes: SupportedTypes(),
		}
	}

	if violations := validate(sch, obj); violations != nil {
		metrics.RecordMessage(msgType, outcomeRejected)
		h.logger.WithFields(logrus.Fields{
			"type":       msgType,
			"violations": len(violations),
		}).Debug("Message failed schema validation")
		return &ErrorReply{
			Header:     Header{Type: ReplyError},
			Message:    fmt.Sprintf("invalid %s message", msgType),
			Code:       "INVALID_INPUT",
			Violations: violations,
		}
	}

	reply, err := h.dispatch(ctx, msgType, obj)
	if err != nil {
		metrics.RecordMessage(msgType, outcomeRejected)
		return &ErrorReply{
			Header:  Header{Type: ReplyError},
			Message: err.Error(),
			Code:    "INVALID_INPUT",
		}
	}

	outcome := outcomeOK
	switch r := reply.(type) {
	case nil:
		outcome = outcomeSkipped
	case *ErrorReply:
		outcome = outcomeError
		h.logger.WithFields(logrus.Fields{
			"type":    msgType,
			"call_id": r.CallID,
			"code":    r.Code,
		}).Debug(r.Message)
	}
	metrics.RecordMessage(msgType, outcome)
	return reply
}

func (h *Handler) dispatch(ctx context.Context, msgType string, obj map[string]any) (Reply, error) {
	switch msgType {
	case TypeGetLiveStatus:
		return h.LiveStatus(), nil
	case TypeHealthCheck:
		return h.Health(), nil
	case TypeStartLiveSession:
		var msg StartLiveSession
		if err := decode(obj, &msg); err != nil {
			return nil, err
		}
		return h.startSession(msg), nil
	case TypeLiveTranscriptSegment:
		var msg LiveTranscriptSegment
		if err := decode(obj, &msg); err != nil {
			return nil, err
		}
		return h.processSegment(msg), nil
	case TypeEndLiveSession:
		var msg CallRef
		if err := decode(obj, &msg); err != nil {
			return nil, err
		}
		return h.endSession(ctx, msg), nil
	case TypeEmergencyStatusCheck:
		var msg CallRef
		if err := decode(obj, &msg); err != nil {
			return nil, err
		}
		return h.emergencyStatus(msg), nil
	case TypeGetSessionSummary:
		var msg CallRef
		if err := decode(obj, &msg); err != nil {
			return nil, err
		}
		return h.sessionSummary(ctx, msg), nil
	case TypeAnalyzeTranscript:
		var msg AnalyzeTranscript
		if err := decode(obj, &msg); err != nil {
			return nil, err
		}
		return h.analyze(msg), nil
	case TypeDeepgramLive:
		var msg DeepgramLive
		if err := decode(obj, &msg); err != nil {
			return nil, err
		}
		return h.deepgram(msg), nil
	}
	return nil, fmt.Errorf("no dispatcher for %s", msgType)
}

// LiveStatus answers get_live_status
func (h *Handler) LiveStatus() *LiveStatusReply {
	return &LiveStatusReply{
		Header:      Header{Type: ReplyLiveStatus},
		AgentStatus: "active",
		Status:      h.manager.Status(),
	}
}

// Health runs a canned evaluation through the engine
func (h *Handler) Health() *HealthReply {
	reply := &HealthReply{
		Header:            Header{Type: ReplyHealth},
		Status:            HealthStatusHealthy,
		ActiveSessions:    h.manager.Status().ActiveSessions,
		MaxSessions:       h.manager.MaxSessions(),
		CoreFunctionality: "operational",
		Timestamp:         h.now().UTC(),
	}

	_, err := h.manager.Engine().Score(risk.Request{
		CallID: "health_check",
		Segments: []risk.Segment{{
			Text:       healthCheckText,
			Timestamp:  h.now(),
			Confidence: 1,
			IsFinal:    true,
		}},
	})
	if err != nil {
		h.logger.WithError(err).Error("Health check evaluation failed")
		reply.Status = HealthStatusUnhealthy
		reply.CoreFunctionality = "degraded"
	}
	return reply
}

func (h *Handler) startSession(msg StartLiveSession) Reply {
	started, err := h.manager.StartSession(msg.CallID, msg.CallerInfo)
	if err != nil {
		reply := newError(ReplySessionStart, msg.CallID, err)
		reply.Status = "error"
		return reply
	}
	return &SessionStartReply{
		Header:           Header{Type: ReplySessionStart},
		Status:           "success",
		Message:          "Live analysis session started",
		MonitoringActive: true,
		Started:          started,
	}
}

func (h *Handler) processSegment(msg LiveTranscriptSegment) Reply {
	result, err := h.manager.ProcessSegment(msg.CallID, msg.segmentInput())
	if err != nil {
		return newError(ReplySegmentError, msg.CallID, err)
	}
	return &LiveAnalysisReply{
		Header:        Header{Type: ReplyLiveAnalysis},
		CallID:        msg.CallID,
		SegmentResult: result,
	}
}

func (msg LiveTranscriptSegment) segmentInput() session.SegmentInput {
	seg := risk.Segment{
		Text:       msg.Text,
		Confidence: DefaultSegmentConfidence,
		IsFinal:    true,
		SpeakerID:  msg.SpeakerID,
	}
	if msg.Timestamp != nil {
		seg.Timestamp = unixSeconds(*msg.Timestamp)
	}
	if msg.Confidence != nil {
		seg.Confidence = *msg.Confidence
	}
	if msg.IsFinal != nil {
		seg.IsFinal = *msg.IsFinal
	}
	return session.SegmentInput{Segment: seg, Tonality: msg.Tonality}
}

func (h *Handler) endSession(ctx context.Context, msg CallRef) Reply {
	summary, err := h.manager.EndSession(ctx, msg.CallID, session.EndReasonCompleted)
	if err != nil {
		return newError(ReplySessionEndError, msg.CallID, err)
	}
	return &SessionSummaryReply{Header: Header{Type: ReplySessionSummary}, Summary: summary}
}

func (h *Handler) emergencyStatus(msg CallRef) Reply {
	status, err := h.manager.EmergencyStatus(msg.CallID)
	if errors.Is(err, apperrors.ErrSessionNotFound) {
		status = &session.EmergencyStatus{CallID: msg.CallID, Status: StatusSessionNotFound}
	} else if err != nil {
		return newError(ReplyError, msg.CallID, err)
	}
	return &EmergencyStatusReply{Header: Header{Type: ReplyEmergencyStatus}, EmergencyStatus: status}
}

func (h *Handler) sessionSummary(ctx context.Context, msg CallRef) Reply {
	view, err := h.manager.Summary(ctx, msg.CallID)
	if err != nil {
		return newError(ReplySessionSummaryError, msg.CallID, err)
	}
	if view.Live != nil {
		return &DetailedSummaryReply{
			Header:        Header{Type: ReplyDetailedSessionSummary},
			SessionActive: true,
			LiveSummary:   view.Live,
		}
	}
	return &SessionSummaryReply{Header: Header{Type: ReplySessionSummary}, Summary: view.Archived}
}

func (h *Handler) analyze(msg AnalyzeTranscript) Reply {
	a, err := h.manager.Analyze(msg.CallID, msg.Transcript)
	if err != nil {
		return newError(ReplyError, msg.CallID, err)
	}
	return &AnalysisReply{Header: Header{Type: ReplyAnalysisResult}, Data: a}
}

func (h *Handler) deepgram(msg DeepgramLive) Reply {
	callID := msg.CallID
	if callID == "" {
		callID = h.newCallID()
	}

	var text string
	confidence := DefaultDeepgramConfidence
	if len(msg.Channel.Alternatives) > 0 {
		alt := msg.Channel.Alternatives[0]
		text = alt.Transcript
		if alt.Confidence != nil {
			confidence = *alt.Confidence
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	isFinal := false
	if msg.IsFinal != nil {
		isFinal = *msg.IsFinal
	}

	result, err := h.manager.ProcessSegment(callID, session.SegmentInput{
		Segment: risk.Segment{
			Text:       text,
			Timestamp:  h.now(),
			Confidence: confidence,
			IsFinal:    isFinal,
		},
		Tonality:      msg.Tonality,
		ImplicitStart: true,
		CallerInfo:    map[string]string{"source": "deepgram"},
	})
	if err != nil {
		return newError(ReplyDeepgramError, callID, err)
	}

	return &DeepgramAnalysisReply{
		Header:               Header{Type: ReplyDeepgramAnalysis},
		CallID:               callID,
		OriginalMessageID:    msg.MessageID,
		Analysis:             result.Assessment,
		UrgentActionRequired: result.Assessment.EscalationTrigger,
	}
}

func decode(obj map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(obj)
}

func unixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

func errorMessage(err error) string {
	var serr *apperrors.Error
	if errors.As(err, &serr) {
		return serr.Message()
	}
	return err.Error()
}

func errorCode(err error) string {
	if code := apperrors.GetErrorCode(err); code != "" {
		return code
	}
	return "INTERNAL_ERROR"
}
