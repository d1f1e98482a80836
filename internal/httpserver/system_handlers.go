package httpserver

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"InterviewMonitor/internal/database"
)

// SystemStatus 系统状态响应
type SystemStatus struct {
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	StartTime    time.Time              `json:"start_time"`
	Store        StoreStatus            `json:"store"`
	LiveFeed     map[string]interface{} `json:"live_feed,omitempty"`
	Notifier     map[string]int64       `json:"notifier,omitempty"`
	SystemHealth string                 `json:"system_health"`
	Memory       MemoryStats            `json:"memory"`
	Endpoints    map[string]string      `json:"endpoints"`
}

// StoreStatus 存储状态
type StoreStatus struct {
	Kind      string                 `json:"kind"`
	Connected bool                   `json:"connected"`
	Message   string                 `json:"message"`
	PoolStats map[string]interface{} `json:"pool_stats,omitempty"`
}

// MemoryStats 内存统计
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// HealthCheck 健康检查响应
type HealthCheck struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]string      `json:"checks"`
	Details   map[string]interface{} `json:"details"`
}

func (s *APIServer) storeStatus(ctx context.Context) StoreStatus {
	status := StoreStatus{Kind: s.opts.StoreKind, Message: "Store not configured"}
	if s.opts.Store == nil {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.opts.Store.Ping(ctx); err != nil {
		status.Message = err.Error()
		return status
	}
	status.Connected = true
	status.Message = "Store is healthy"

	if stats := database.GetPoolStats(); stats != nil {
		status.PoolStats = map[string]interface{}{
			"total_conns":    stats.TotalConns,
			"idle_conns":     stats.IdleConns,
			"acquired_conns": stats.AcquiredConns,
			"max_conns":      stats.MaxConns,
		}
	}
	return status
}

// GET /api/v1/status
func (s *APIServer) systemStatusHandler(w http.ResponseWriter, r *http.Request) {
	store := s.storeStatus(r.Context())

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	systemHealth := "healthy"
	if !store.Connected {
		systemHealth = "degraded"
	}

	status := SystemStatus{
		Service:      "Interview Monitor",
		Version:      s.opts.Version,
		Uptime:       time.Since(s.startTime).String(),
		StartTime:    s.startTime,
		Store:        store,
		SystemHealth: systemHealth,
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Endpoints: map[string]string{
			"start_monitoring": "/api/realtime-interview/start-monitoring",
			"process_audio":    "/api/realtime-interview/process-audio",
			"end_monitoring":   "/api/realtime-interview/end-monitoring",
			"health":           "/api/v1/health",
			"metrics":          "/metrics",
		},
	}
	if s.opts.Hub != nil {
		status.LiveFeed = s.opts.Hub.GetStats()
	}
	if s.opts.Notifier != nil {
		status.Notifier = s.opts.Notifier.Stats()
	}

	s.writeSuccessResponse(w, status)
}

// GET /api/v1/health
func (s *APIServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	details := make(map[string]interface{})
	overallStatus := "healthy"

	store := s.storeStatus(r.Context())
	if store.Connected {
		checks["store"] = "healthy"
	} else {
		checks["store"] = "unhealthy"
		overallStatus = "unhealthy"
	}
	details["store"] = store

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// 超过1GB认为不健康
	if m.Alloc > 1024*1024*1024 {
		checks["memory"] = "warning"
		if overallStatus == "healthy" {
			overallStatus = "degraded"
		}
	} else {
		checks["memory"] = "healthy"
	}
	details["memory"] = map[string]interface{}{
		"alloc_mb":   float64(m.Alloc) / 1024 / 1024,
		"sys_mb":     float64(m.Sys) / 1024 / 1024,
		"num_gc":     m.NumGC,
		"goroutines": runtime.NumGoroutine(),
	}
	details["uptime"] = time.Since(s.startTime).String()

	health := HealthCheck{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    checks,
		Details:   details,
	}

	code := http.StatusOK
	if overallStatus == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSONResponse(w, code, APIResponse{
		Success:   overallStatus != "unhealthy",
		Data:      health,
		Timestamp: time.Now().UnixMilli(),
	})
}
