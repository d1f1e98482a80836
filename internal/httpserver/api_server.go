// Package httpserver 实时面试监控的HTTP API
package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"InterviewMonitor/internal/livefeed"
	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/metrics"
	"InterviewMonitor/internal/monitor"
)

const logModule = "APIServer"

// MonitorService 会话操作，由 monitor.Manager 实现
type MonitorService interface {
	Start(ctx context.Context, req monitor.StartRequest) (*monitor.Session, error)
	Ingest(ctx context.Context, req monitor.ChunkRequest) (*monitor.IngestResult, error)
	End(ctx context.Context, sessionID string) (*monitor.EndResult, error)
	Live(ctx context.Context, sessionID string) (*monitor.LiveStatus, error)
	Get(ctx context.Context, sessionID string) (*monitor.SessionView, error)
	InterviewOf(ctx context.Context, sessionID string) (string, error)
}

// HealthChecker 存储健康检查
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatsProvider 组件统计
type StatsProvider interface {
	Stats() map[string]int64
}

// Options 服务器依赖和参数
type Options struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	Service    MonitorService
	Authorizer Authorizer
	Hub        *livefeed.Hub
	Metrics    *metrics.Metrics
	Store      HealthChecker
	StoreKind  string
	Notifier   StatsProvider
	LogStream  *logger.StreamLogger
	Version    string
}

// APIServer HTTP API服务器
type APIServer struct {
	router    *mux.Router
	server    *http.Server
	opts      Options
	validate  *validator.Validate
	startTime time.Time
}

// APIResponse 统一响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewAPIServer 创建新的HTTP API服务器
func NewAPIServer(opts Options) *APIServer {
	if opts.Authorizer == nil {
		opts.Authorizer = NewRoleAuthorizer([]string{"MANAGER", "HR", "ADMIN"})
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	// 生成报告最长30秒，写超时要留余量
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 45 * time.Second
	}

	server := &APIServer{
		router:    mux.NewRouter(),
		opts:      opts,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		startTime: time.Now(),
	}

	server.setupRoutes()

	// 设置CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-ID", "X-User-Role"},
		AllowCredentials: true,
	})

	server.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      c.Handler(server.router),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// setupRoutes 设置路由
func (s *APIServer) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	// 实时面试监控
	rt := s.router.PathPrefix("/api/realtime-interview").Subrouter()
	rt.Use(s.authMiddleware)
	rt.HandleFunc("/start-monitoring", s.startMonitoringHandler).Methods("POST")
	rt.HandleFunc("/process-audio", s.processAudioHandler).Methods("POST")
	rt.HandleFunc("/end-monitoring", s.endMonitoringHandler).Methods("POST")
	rt.HandleFunc("/session/{sessionId}", s.getSessionHandler).Methods("GET")
	rt.HandleFunc("/session/{sessionId}/live", s.liveStatusHandler).Methods("GET")
	rt.HandleFunc("/session/{sessionId}/ws", s.liveStreamHandler).Methods("GET")

	// 健康检查和监控
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	api.HandleFunc("/status", s.systemStatusHandler).Methods("GET")

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.opts.LogStream != nil {
		s.router.HandleFunc("/ws/logs", s.opts.LogStream.HandleWebSocket)
	}
}

// 中间件
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.LogInfo(logModule, "", fmt.Sprintf("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start)))
	})
}

func (s *APIServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.opts.Metrics.ObserveHTTP(route, strconv.Itoa(rec.status), time.Since(start))
	})
}

func (s *APIServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := identityFromRequest(r)
		if err != nil {
			s.writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// statusRecorder 记录状态码，保留Hijacker以支持WebSocket升级
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// 辅助方法
func (s *APIServer) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, http.StatusOK, response)
}

func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	response := APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, statusCode, response)
}

func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeServiceError 按错误类型映射状态码。内部错误不暴露细节。
func (s *APIServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *monitor.ValidationError
	switch {
	case errors.As(err, &validationErr):
		s.writeErrorResponse(w, http.StatusBadRequest, "validation_error", validationErr.Error())
	case errors.Is(err, monitor.ErrNotFound):
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrUnauthenticated):
		s.writeErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
	case errors.Is(err, ErrForbidden):
		s.writeErrorResponse(w, http.StatusForbidden, "forbidden", "Not allowed to perform this operation")
	default:
		logger.LogError(logModule, mux.Vars(r)["sessionId"], fmt.Sprintf("%s %s 失败: %v", r.Method, r.URL.Path, err))
		s.writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// Handler 带CORS的完整处理器
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器
func (s *APIServer) Start() error {
	logger.LogInfo(logModule, "", fmt.Sprintf("Starting HTTP API server on %s", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop 停止服务器
func (s *APIServer) Stop(ctx context.Context) error {
	logger.LogInfo(logModule, "", "Stopping HTTP API server")
	return s.server.Shutdown(ctx)
}
