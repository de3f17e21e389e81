package protocol

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"crisis-monitor/pkg/archive"
	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/session"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *session.Manager) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	manager := session.NewManager(
		risk.NewEngine(logger),
		session.NewMemoryStore(8),
		archive.NewMemoryStore(10),
		session.DefaultConfig(),
		logger,
	)
	return NewHandler(manager, logger), manager
}

func send(t *testing.T, h *Handler, msg string) map[string]any {
	t.Helper()
	reply := h.Handle(context.Background(), []byte(msg))
	require.NotNil(t, reply)

	data, err := json.Marshal(reply)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, reply.MessageType(), out["type"])
	return out
}

func TestSupportedTypes(t *testing.T) {
	assert.Equal(t, []string{
		TypeAnalyzeTranscript,
		TypeDeepgramLive,
		TypeEmergencyStatusCheck,
		TypeEndLiveSession,
		TypeGetLiveStatus,
		TypeGetSessionSummary,
		TypeHealthCheck,
		TypeLiveTranscriptSegment,
		TypeStartLiveSession,
	}, SupportedTypes())
}

func TestHandle_RejectsMalformedEnvelopes(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name string
		msg  string
	}{
		{"not json", `{"type":`},
		{"not an object", `["start_live_session"]`},
		{"missing type", `{"call_id":"c1"}`},
		{"non-string type", `{"type":7}`},
		{"empty type", `{"type":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := send(t, h, tt.msg)
			assert.Equal(t, ReplyError, out["type"])
			assert.Equal(t, "INVALID_INPUT", out["code"])
		})
	}
}

func TestHandle_UnknownType(t *testing.T) {
	h, _ := newTestHandler(t)

	out := send(t, h, `{"type":"get_status"}`)
	assert.Equal(t, ReplyError, out["type"])
	assert.Equal(t, "Unknown message type: get_status", out["message"])
	assert.Len(t, out["supported_types"], len(SupportedTypes()))
}

func TestHandle_SchemaViolationNeverReachesManager(t *testing.T) {
	h, manager := newTestHandler(t)

	out := send(t, h, `{"type":"start_live_session","call_id":"c1","caller_info":{"age":42}}`)
	assert.Equal(t, ReplyError, out["type"])
	require.NotEmpty(t, out["violations"])
	assert.False(t, manager.IsActive("c1"))

	send(t, h, `{"type":"start_live_session","call_id":"c1"}`)
	out = send(t, h, `{"type":"live_transcript_segment","call_id":"c1","text":"hello","confidence":1.5}`)
	assert.Equal(t, ReplyError, out["type"])
	violations := out["violations"].([]any)
	require.NotEmpty(t, violations)
	for _, v := range violations {
		assert.True(t, strings.HasPrefix(v.(string), "/confidence"), v)
	}

	out = send(t, h, `{"type":"live_transcript_segment","call_id":"c1","text":"hi","tonality":{"voice_tremor":2}}`)
	assert.Equal(t, ReplyError, out["type"])
	assert.Contains(t, out["violations"].([]any)[0], "/tonality/voice_tremor")

	summary, err := manager.Summary(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Live.TotalSegments)
}

func TestHandle_StartSession(t *testing.T) {
	h, _ := newTestHandler(t)

	out := send(t, h, `{"type":"start_live_session","call_id":"c1","caller_info":{"line":"main"}}`)
	assert.Equal(t, ReplySessionStart, out["type"])
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "c1", out["call_id"])
	assert.Equal(t, true, out["monitoring_active"])
	assert.Equal(t, float64(1), out["active_sessions"])

	out = send(t, h, `{"type":"start_live_session","call_id":"c1"}`)
	assert.Equal(t, ReplySessionStart, out["type"])
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "SESSION_ALREADY_EXISTS", out["code"])
}

func TestHandle_SegmentForUnknownCall(t *testing.T) {
	h, manager := newTestHandler(t)

	out := send(t, h, `{"type":"live_transcript_segment","call_id":"ghost","text":"I feel hopeless"}`)
	assert.Equal(t, ReplySegmentError, out["type"])
	assert.Equal(t, "SESSION_NOT_FOUND", out["code"])
	assert.Equal(t, "ghost", out["call_id"])
	assert.False(t, manager.IsActive("ghost"))
}

func TestHandle_BlankSegmentIsRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	send(t, h, `{"type":"start_live_session","call_id":"c1"}`)

	out := send(t, h, `{"type":"live_transcript_segment","call_id":"c1","text":"   "}`)
	assert.Equal(t, ReplySegmentError, out["type"])
	assert.Equal(t, "INVALID_INPUT", out["code"])
}

func TestHandle_SessionLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)

	send(t, h, `{"type":"start_live_session","call_id":"c1"}`)

	out := send(t, h, `{"type":"emergency_status_check","call_id":"c1"}`)
	assert.Equal(t, ReplyEmergencyStatus, out["type"])
	assert.Equal(t, session.StatusNoAnalysisAvailable, out["status"])

	out = send(t, h, `{"type":"live_transcript_segment","call_id":"c1","text":"I want to kill myself tonight","timestamp":1709294400.5}`)
	assert.Equal(t, ReplyLiveAnalysis, out["type"])
	assert.Equal(t, "c1", out["call_id"])
	assert.Equal(t, true, out["escalation_raised"])
	analysis := out["analysis"].(map[string]any)
	assert.Equal(t, string(risk.UrgencyEmergency), analysis["urgency"])
	info := out["session_info"].(map[string]any)
	assert.Equal(t, float64(1), info["segments_count"])
	assert.Equal(t, true, info["escalation_triggered"])

	out = send(t, h, `{"type":"emergency_status_check","call_id":"c1"}`)
	assert.Equal(t, session.StatusOK, out["status"])
	assert.Equal(t, true, out["immediate_action_required"])
	assert.Equal(t, string(risk.UrgencyEmergency), out["urgency_level"])

	out = send(t, h, `{"type":"get_session_summary","call_id":"c1"}`)
	assert.Equal(t, ReplyDetailedSessionSummary, out["type"])
	assert.Equal(t, true, out["session_active"])
	assert.Equal(t, float64(1), out["total_risk_checks"])

	out = send(t, h, `{"type":"end_live_session","call_id":"c1"}`)
	assert.Equal(t, ReplySessionSummary, out["type"])
	assert.Equal(t, "c1", out["call_id"])
	assert.Equal(t, string(session.EndReasonCompleted), out["end_reason"])
	assert.Equal(t, true, out["escalation_triggered"])

	out = send(t, h, `{"type":"get_session_summary","call_id":"c1"}`)
	assert.Equal(t, ReplySessionSummary, out["type"])
	assert.Nil(t, out["session_active"])

	out = send(t, h, `{"type":"emergency_status_check","call_id":"c1"}`)
	assert.Equal(t, StatusSessionNotFound, out["status"])

	out = send(t, h, `{"type":"end_live_session","call_id":"c1"}`)
	assert.Equal(t, ReplySessionEndError, out["type"])

	out = send(t, h, `{"type":"get_session_summary","call_id":"never"}`)
	assert.Equal(t, ReplySessionSummaryError, out["type"])
}

func TestSegmentInputDefaults(t *testing.T) {
	in := LiveTranscriptSegment{CallID: "c1", Text: "hello"}.segmentInput()
	assert.Equal(t, DefaultSegmentConfidence, in.Segment.Confidence)
	assert.True(t, in.Segment.IsFinal)
	assert.True(t, in.Segment.Timestamp.IsZero())
	assert.False(t, in.ImplicitStart)

	ts, conf, final := 1709294400.25, 0.4, false
	in = LiveTranscriptSegment{
		CallID:     "c1",
		Text:       "hello",
		Timestamp:  &ts,
		Confidence: &conf,
		IsFinal:    &final,
		SpeakerID:  "caller",
	}.segmentInput()
	assert.Equal(t, 0.4, in.Segment.Confidence)
	assert.False(t, in.Segment.IsFinal)
	assert.Equal(t, "caller", in.Segment.SpeakerID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 250_000_000, time.UTC), in.Segment.Timestamp)
}

func TestHandle_AnalyzeTranscript(t *testing.T) {
	h, manager := newTestHandler(t)

	out := send(t, h, `{"type":"analyze_transcript","transcript":"I have no way out and I want to die","call_id":"adhoc-1"}`)
	assert.Equal(t, ReplyAnalysisResult, out["type"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "adhoc-1", data["call_id"])
	assert.Equal(t, string(risk.TrendInsufficientData), data["risk_trend"])
	assert.False(t, manager.IsActive("adhoc-1"))

	out = send(t, h, `{"type":"analyze_transcript","transcript":""}`)
	assert.Equal(t, ReplyError, out["type"])
	assert.Equal(t, "INVALID_INPUT", out["code"])
}

func TestHandle_Deepgram(t *testing.T) {
	h, manager := newTestHandler(t)
	h.newCallID = func() string { return "generated-1" }

	reply := h.Handle(context.Background(), []byte(`{"type":"deepgram_live","channel":{"alternatives":[{"transcript":"  "}]}}`))
	assert.Nil(t, reply)
	assert.False(t, manager.IsActive("generated-1"))

	reply = h.Handle(context.Background(), []byte(`{"type":"deepgram_live"}`))
	assert.Nil(t, reply)

	out := send(t, h, `{"type":"deepgram_live","message_id":"m-7","is_final":true,
		"channel":{"alternatives":[{"transcript":"I want to kill myself","confidence":0.95}]}}`)
	assert.Equal(t, ReplyDeepgramAnalysis, out["type"])
	assert.Equal(t, "generated-1", out["call_id"])
	assert.Equal(t, "m-7", out["original_message_id"])
	assert.Equal(t, true, out["urgent_action_required"])
	assert.True(t, manager.IsActive("generated-1"))

	summary, err := manager.Summary(context.Background(), "generated-1")
	require.NoError(t, err)
	assert.Equal(t, "deepgram", summary.Live.CallerInfo["source"])

	out = send(t, h, `{"type":"deepgram_live","call_id":"dg-2",
		"channel":{"alternatives":[{"transcript":"things are fine"}]}}`)
	assert.Equal(t, "dg-2", out["call_id"])
	assert.Equal(t, false, out["urgent_action_required"])
}

func TestHandle_HealthAndStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	send(t, h, `{"type":"start_live_session","call_id":"c1"}`)

	out := send(t, h, `{"type":"health_check"}`)
	assert.Equal(t, ReplyHealth, out["type"])
	assert.Equal(t, HealthStatusHealthy, out["status"])
	assert.Equal(t, float64(1), out["active_sessions"])
	assert.Equal(t, float64(50), out["max_concurrent_sessions"])
	assert.Equal(t, "operational", out["core_functionality"])

	out = send(t, h, `{"type":"get_live_status"}`)
	assert.Equal(t, ReplyLiveStatus, out["type"])
	assert.Equal(t, "active", out["status"])
	assert.Equal(t, float64(1), out["active_sessions"])
	assert.Equal(t, []any{"c1"}, out["active_calls"])
	assert.Contains(t, out, "statistics")
}
