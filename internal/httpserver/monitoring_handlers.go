package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"InterviewMonitor/internal/monitor"
)

type startMonitoringRequest struct {
	InterviewID     string   `json:"interviewId" validate:"required"`
	MeetingLink     string   `json:"meetingLink" validate:"required"`
	MeetingPlatform string   `json:"meetingPlatform" validate:"omitempty,max=64"`
	JobRequirements []string `json:"jobRequirements" validate:"omitempty,dive,max=200"`
	CandidateName   string   `json:"candidateName" validate:"omitempty,max=200"`
}

type startMonitoringResponse struct {
	SessionID       string         `json:"sessionId"`
	Status          monitor.Status `json:"status"`
	MeetingLink     string         `json:"meetingLink"`
	MeetingPlatform string         `json:"meetingPlatform"`
}

type processAudioRequest struct {
	SessionID  string   `json:"sessionId" validate:"required"`
	AudioData  string   `json:"audioData"`
	Transcript string   `json:"transcript"`
	Timestamp  *float64 `json:"timestamp" validate:"omitempty,gte=0"`
}

type endMonitoringRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// decodeAndValidate 解析请求体并校验，失败时已写入400响应
func (s *APIServer) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "validation_error", describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if field != "" {
			field = strings.ToLower(field[:1]) + field[1:]
		}
		parts = append(parts, fmt.Sprintf("%s failed on %s", field, fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

// authorizeSession 会话存在且调用方有权访问，失败时已写入响应
func (s *APIServer) authorizeSession(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	interviewID, err := s.opts.Service.InterviewOf(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return false
	}
	id, _ := IdentityFrom(r.Context())
	if err := s.opts.Authorizer.AuthorizeSession(r.Context(), id, interviewID); err != nil {
		s.writeServiceError(w, r, err)
		return false
	}
	return true
}

// POST /api/realtime-interview/start-monitoring
func (s *APIServer) startMonitoringHandler(w http.ResponseWriter, r *http.Request) {
	var req startMonitoringRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	id, _ := IdentityFrom(r.Context())
	if err := s.opts.Authorizer.AuthorizeStart(r.Context(), id, req.InterviewID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	session, err := s.opts.Service.Start(r.Context(), monitor.StartRequest{
		InterviewID:     req.InterviewID,
		MeetingLink:     req.MeetingLink,
		MeetingPlatform: req.MeetingPlatform,
		JobRequirements: req.JobRequirements,
		CandidateName:   req.CandidateName,
		StartedBy:       id.UserID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeSuccessResponse(w, startMonitoringResponse{
		SessionID:       session.SessionID,
		Status:          session.Status,
		MeetingLink:     session.MeetingLink,
		MeetingPlatform: session.MeetingPlatform,
	})
}

// POST /api/realtime-interview/process-audio
func (s *APIServer) processAudioHandler(w http.ResponseWriter, r *http.Request) {
	var req processAudioRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if !s.authorizeSession(w, r, req.SessionID) {
		return
	}

	chunk := monitor.ChunkRequest{
		SessionID:  req.SessionID,
		Transcript: req.Transcript,
		AudioData:  req.AudioData,
	}
	if req.Timestamp != nil {
		chunk.Timestamp = *req.Timestamp
	}

	result, err := s.opts.Service.Ingest(r.Context(), chunk)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, result)
}

// GET /api/realtime-interview/session/{sessionId}
func (s *APIServer) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if !s.authorizeSession(w, r, sessionID) {
		return
	}

	view, err := s.opts.Service.Get(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, view)
}

// POST /api/realtime-interview/end-monitoring
func (s *APIServer) endMonitoringHandler(w http.ResponseWriter, r *http.Request) {
	var req endMonitoringRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if !s.authorizeSession(w, r, req.SessionID) {
		return
	}

	result, err := s.opts.Service.End(r.Context(), req.SessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, result)
}

// GET /api/realtime-interview/session/{sessionId}/live
func (s *APIServer) liveStatusHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if !s.authorizeSession(w, r, sessionID) {
		return
	}

	status, err := s.opts.Service.Live(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, status)
}

// GET /api/realtime-interview/session/{sessionId}/ws
func (s *APIServer) liveStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "live_feed_disabled", "Live feed is not enabled")
		return
	}
	sessionID := mux.Vars(r)["sessionId"]
	if !s.authorizeSession(w, r, sessionID) {
		return
	}

	initial, err := s.opts.Service.Live(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.opts.Hub.Serve(w, r, sessionID, initial)
}
