package protocol

import (
	"time"

	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/session"
)

// Incoming message types
const (
	TypeGetLiveStatus         = "get_live_status"
	TypeHealthCheck           = "health_check"
	TypeStartLiveSession      = "start_live_session"
	TypeLiveTranscriptSegment = "live_transcript_segment"
	TypeEndLiveSession        = "end_live_session"
	TypeEmergencyStatusCheck  = "emergency_status_check"
	TypeGetSessionSummary     = "get_session_summary"
	TypeAnalyzeTranscript     = "analyze_transcript"
	TypeDeepgramLive          = "deepgram_live"
)

// Reply types
const (
	ReplyLiveStatus             = "live_status"
	ReplyHealth                 = "health_response"
	ReplySessionStart           = "session_start_response"
	ReplyLiveAnalysis           = "live_analysis_result"
	ReplySegmentError           = "segment_analysis_error"
	ReplySessionSummary         = "session_summary"
	ReplySessionEndError        = "session_end_error"
	ReplyEmergencyStatus        = "emergency_status"
	ReplyDetailedSessionSummary = "detailed_session_summary"
	ReplySessionSummaryError    = "session_summary_error"
	ReplyAnalysisResult         = "analysis_result"
	ReplyDeepgramAnalysis       = "deepgram_analysis_response"
	ReplyDeepgramError          = "deepgram_error"
	ReplyError                  = "error"
)

// StatusSessionNotFound is reported by emergency status checks for calls
// with no live session.
const StatusSessionNotFound = "session_not_found"

// Defaults applied to optional segment fields
const (
	DefaultSegmentConfidence  = 0.8
	DefaultDeepgramConfidence = 0.8
)

// StartLiveSession requests a new monitored session
type StartLiveSession struct {
	CallID     string            `json:"call_id"`
	CallerInfo map[string]string `json:"caller_info"`
}

// LiveTranscriptSegment carries one transcript segment of a live call
type LiveTranscriptSegment struct {
	CallID     string         `json:"call_id"`
	Text       string         `json:"text"`
	Timestamp  *float64       `json:"timestamp"`
	Confidence *float64       `json:"confidence"`
	IsFinal    *bool          `json:"is_final"`
	SpeakerID  string         `json:"speaker_id"`
	Tonality   *risk.Tonality `json:"tonality"`
}

// CallRef is the payload of messages that only name a call
type CallRef struct {
	CallID string `json:"call_id"`
}

// AnalyzeTranscript requests a one-shot evaluation without a session
type AnalyzeTranscript struct {
	CallID     string `json:"call_id"`
	Transcript string `json:"transcript"`
}

// DeepgramLive is a streaming transcription provider result
type DeepgramLive struct {
	CallID    string `json:"call_id"`
	MessageID string `json:"message_id"`
	IsFinal   *bool  `json:"is_final"`
	Channel   struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence *float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Tonality *risk.Tonality `json:"tonality"`
}

// Reply is any message sent back to a client
type Reply interface {
	MessageType() string
}

// Header carries the reply type
type Header struct {
	Type string `json:"type"`
}

// MessageType implements Reply
func (h Header) MessageType() string {
	return h.Type
}

// ErrorReply is used for every failure variant
type ErrorReply struct {
	Header
	CallID         string   `json:"call_id,omitempty"`
	Status         string   `json:"status,omitempty"`
	Message        string   `json:"message"`
	Code           string   `json:"code,omitempty"`
	Violations     []string `json:"violations,omitempty"`
	SupportedTypes []string `json:"supported_types,omitempty"`
}

// LiveStatusReply reports manager-wide status
type LiveStatusReply struct {
	Header
	AgentStatus string `json:"status"`
	session.Status
}

// HealthReply answers health_check
type HealthReply struct {
	Header
	Status            string    `json:"status"`
	ActiveSessions    int       `json:"active_sessions"`
	MaxSessions       int       `json:"max_concurrent_sessions"`
	CoreFunctionality string    `json:"core_functionality"`
	Timestamp         time.Time `json:"timestamp"`
}

// Healthy reports whether the canned evaluation succeeded
func (r *HealthReply) Healthy() bool {
	return r.Status == HealthStatusHealthy
}

// Health status values
const (
	HealthStatusHealthy   = "HEALTHY"
	HealthStatusUnhealthy = "UNHEALTHY"
)

// SessionStartReply confirms a started session
type SessionStartReply struct {
	Header
	Status           string `json:"status"`
	Message          string `json:"message"`
	MonitoringActive bool   `json:"monitoring_active"`
	*session.Started
}

// LiveAnalysisReply carries the assessment of a processed segment
type LiveAnalysisReply struct {
	Header
	CallID string `json:"call_id"`
	*session.SegmentResult
}

// SessionSummaryReply carries the summary of an ended session
type SessionSummaryReply struct {
	Header
	*session.Summary
}

// DetailedSummaryReply carries the summary of a live session
type DetailedSummaryReply struct {
	Header
	SessionActive bool `json:"session_active"`
	*session.LiveSummary
}

// EmergencyStatusReply answers emergency_status_check
type EmergencyStatusReply struct {
	Header
	*session.EmergencyStatus
}

// AnalysisReply answers analyze_transcript
type AnalysisReply struct {
	Header
	Data *risk.Assessment `json:"data"`
}

// DeepgramAnalysisReply answers deepgram_live
type DeepgramAnalysisReply struct {
	Header
	CallID               string           `json:"call_id"`
	OriginalMessageID    string           `json:"original_message_id,omitempty"`
	Analysis             *risk.Assessment `json:"analysis"`
	UrgentActionRequired bool             `json:"urgent_action_required"`
}

func newError(replyType, callID string, err error) *ErrorReply {
	return &ErrorReply{
		Header:  Header{Type: replyType},
		CallID:  callID,
		Message: errorMessage(err),
		Code:    errorCode(err),
	}
}
