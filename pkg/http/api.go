package http

import (
	"bytes"
	"encoding/json"
	"context"
	"io"
	"net/http"
	"strconv"

	"crisis-monitor/pkg/circuitbreaker"
	"crisis-monitor/pkg/correlation"
	"crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/protocol"
	"crisis-monitor/pkg/report"
	"crisis-monitor/pkg/risk"
	"crisis-monitor/pkg/session"

	"github.com/sirupsen/logrus"
)

const (
	maxBodyBytes = 1 << 20

	defaultArchiveLimit = 20
	maxArchiveLimit     = 200
)

// ArchiveLister lists ended sessions, most recently ended first
type ArchiveLister interface {
	List(ctx context.Context, limit int) ([]*session.Summary, error)
}

// ArchiveListing is the body of GET /api/v1/archive
type ArchiveListing struct {
	Count     int                `json:"count"`
	Limit     int                `json:"limit"`
	Summaries []*session.Summary `json:"summaries"`
}

// codeStatus maps error reply codes to HTTP status codes
var codeStatus = map[string]int{
	"INVALID_INPUT":          http.StatusBadRequest,
	"NOT_FOUND":              http.StatusNotFound,
	"SESSION_NOT_FOUND":      http.StatusNotFound,
	"SESSION_ALREADY_EXISTS": http.StatusConflict,
	"RESOURCE_EXHAUSTED":     http.StatusTooManyRequests,
	"INTERNAL_ERROR":         http.StatusInternalServerError,
}

// messagesHandler accepts a raw protocol envelope, the same messages the
// WebSocket ingest endpoint carries.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.ErrorResponse(w, r, errors.NewInvalidInput("request body too large or unreadable"))
		return
	}
	s.respond(w, r, s.handler.Handle(r.Context(), data))
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.LiveStatus())
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.TypeAnalyzeTranscript, "")
}

func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.TypeStartLiveSession, "")
}

func (s *Server) segmentHandler(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.TypeLiveTranscriptSegment, r.PathValue("call_id"))
}

func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.TypeEndLiveSession, r.PathValue("call_id"))
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.TypeGetSessionSummary, r.PathValue("call_id"))
}

func (s *Server) emergencyHandler(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, protocol.TypeEmergencyStatusCheck, r.PathValue("call_id"))
}

// reportHandler renders the latest assessment of a live or archived call
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")

	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.ErrorResponse(w, r, errors.NewInvalidInput(err.Error()))
		return
	}

	view, err := s.manager.Summary(r.Context(), callID)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}

	var assessment *risk.Assessment
	if view.Live != nil {
		assessment = view.Live.LastAnalysis
	} else if view.Archived != nil {
		assessment = view.Archived.FinalAnalysis
	}
	if assessment == nil {
		s.ErrorResponse(w, r, errors.NewNotFound("no analysis available for call", map[string]interface{}{"call_id": callID}))
		return
	}

	var buf bytes.Buffer
	if err := s.renderer.Write(&buf, assessment, format); err != nil {
		s.ErrorResponse(w, r, errors.Wrap(err, "failed to render report"))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// archiveHandler lists recently ended sessions. limit defaults to 20 and
// may not exceed 200.
func (s *Server) archiveHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxArchiveLimit {
			s.ErrorResponse(w, r, errors.NewInvalidInput("limit must be an integer between 1 and 200", map[string]interface{}{"limit": raw}))
			return
		}
		limit = n
	}

	summaries, err := s.archive.List(r.Context(), limit)
	if err != nil {
		if circuitbreaker.IsCircuitBreakerError(err) {
			err = errors.Wrap(errors.ErrUnavailable, err.Error())
		}
		correlation.Entry(r.Context(), s.logger.WithField("component", "http")).WithError(err).Error("Failed to list archived sessions")
		s.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ArchiveListing{Count: len(summaries), Limit: limit, Summaries: summaries})
}

// dispatch turns a REST request into a protocol message. A call_id taken
// from the path overrides any call_id in the body.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, msgType, callID string) {
	doc, err := requestDocument(r, w)
	if err != nil {
		s.ErrorResponse(w, r, err)
		return
	}
	doc["type"] = msgType
	if callID != "" {
		doc["call_id"] = callID
	}
	s.respond(w, r, s.handler.HandleDocument(r.Context(), doc))
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, reply protocol.Reply) {
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status := replyStatus(reply)
	if status >= http.StatusInternalServerError {
		correlation.Entry(r.Context(), s.logger.WithField("component", "http")).WithFields(logrus.Fields{
			"reply_type": reply.MessageType(),
			"status":     status,
		}).Error("Request failed")
	}
	writeJSON(w, status, reply)
}

func replyStatus(reply protocol.Reply) int {
	switch rep := reply.(type) {
	case *protocol.ErrorReply:
		if rep.Code == "" {
			return http.StatusBadRequest
		}
		if status, ok := codeStatus[rep.Code]; ok {
			return status
		}
		return http.StatusInternalServerError
	case *protocol.SessionStartReply:
		return http.StatusCreated
	case *protocol.EmergencyStatusReply:
		if rep.EmergencyStatus != nil && rep.EmergencyStatus.Status == protocol.StatusSessionNotFound {
			return http.StatusNotFound
		}
	}
	return http.StatusOK
}

// requestDocument reads an optional JSON object body
func requestDocument(r *http.Request, w http.ResponseWriter) (map[string]any, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewInvalidInput("request body too large or unreadable")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInvalidInput("request body is not valid JSON")
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.NewInvalidInput("request body must be a JSON object")
	}
	return obj, nil
}
