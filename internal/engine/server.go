package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"InterviewMonitor/internal/analysis"
	"InterviewMonitor/internal/logger"
)

const logModule = "AnalysisEngine"

// Server 分析引擎HTTP服务
type Server struct {
	mu       sync.RWMutex
	sessions map[string]analysis.StartSessionBody

	// 故障注入，用于演示降级路径
	delay       atomic.Int64
	failAnalyze atomic.Bool
	failReport  atomic.Bool

	analyzeCalls atomic.Int64
	reportCalls  atomic.Int64
}

// NewServer 创建引擎
func NewServer() *Server {
	return &Server{sessions: make(map[string]analysis.StartSessionBody)}
}

// SetDelay 每个请求的人为延迟
func (s *Server) SetDelay(d time.Duration) { s.delay.Store(int64(d)) }

// SetFailAnalyze analyze返回500
func (s *Server) SetFailAnalyze(fail bool) { s.failAnalyze.Store(fail) }

// SetFailReport generate-report返回500
func (s *Server) SetFailReport(fail bool) { s.failReport.Store(fail) }

// Calls analyze和generate-report的调用次数
func (s *Server) Calls() (analyze, report int64) {
	return s.analyzeCalls.Load(), s.reportCalls.Load()
}

// Router 注册引擎路由
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(analysis.PathStartSession, s.handleStartSession).Methods("POST")
	r.HandleFunc(analysis.PathAnalyze, s.handleAnalyze).Methods("POST")
	r.HandleFunc(analysis.PathGenerateReport, s.handleGenerateReport).Methods("POST")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods("GET")
	r.Use(s.delayMiddleware)
	return r
}

func (s *Server) delayMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := time.Duration(s.delay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body analysis.StartSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "session_id is required"})
		return
	}

	s.mu.Lock()
	s.sessions[body.SessionID] = body
	s.mu.Unlock()

	logger.LogInfo(logModule, body.SessionID, fmt.Sprintf("引擎会话已初始化，职位要求 %d 项", len(body.JobRequirements)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session_id": body.SessionID})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.analyzeCalls.Add(1)
	if s.failAnalyze.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": "analysis unavailable"})
		return
	}

	var body analysis.AnalyzeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid body"})
		return
	}

	s.mu.RLock()
	sess := s.sessions[body.SessionID]
	s.mu.RUnlock()

	result := Analyze(body.Transcript, sess.JobRequirements)
	writeJSON(w, http.StatusOK, analysis.AnalyzeEnvelope{Success: boolPtr(true), Result: result})
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	s.reportCalls.Add(1)
	if s.failReport.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": "report unavailable"})
		return
	}

	var body analysis.ReportBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid body"})
		return
	}

	s.mu.Lock()
	delete(s.sessions, body.SessionID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, Report(&body, time.Now()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func boolPtr(b bool) *bool { return &b }
