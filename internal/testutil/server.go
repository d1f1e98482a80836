// Package testutil 端到端测试用的进程内服务组合
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/analysis"
	"InterviewMonitor/internal/apiclient"
	"InterviewMonitor/internal/engine"
	"InterviewMonitor/internal/httpserver"
	"InterviewMonitor/internal/livefeed"
	"InterviewMonitor/internal/metrics"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/notify"
	"InterviewMonitor/internal/store"
)

// HarnessConfig 可调参数
type HarnessConfig struct {
	StartTimeout   time.Duration
	AnalyzeTimeout time.Duration
	ReportTimeout  time.Duration
	StartRoles     []string
	Interviews     []*monitor.Interview
}

// DefaultHarnessConfig 短超时，适合测试
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		StartTimeout:   time.Second,
		AnalyzeTimeout: 500 * time.Millisecond,
		ReportTimeout:  time.Second,
		StartRoles:     []string{"MANAGER", "HR", "ADMIN"},
		Interviews:     SampleInterviews(),
	}
}

// Harness 引擎、存储、管理器和API服务器组合在一个进程内
type Harness struct {
	Engine       *engine.Server
	EngineServer *httptest.Server
	Backend      *store.MemoryBackend
	Metrics      *metrics.Metrics
	Hub          *livefeed.Hub
	Notifier     *notify.Dispatcher
	Manager      *monitor.Manager
	API          *httpserver.APIServer
	Server       *httptest.Server

	mu   sync.Mutex
	sent []monitor.Notification
	t    *testing.T
}

// SampleInterviews 测试用面试记录
func SampleInterviews() []*monitor.Interview {
	scheduled := time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)
	return []*monitor.Interview{
		{
			ID:              "iv-1",
			JobPostingID:    "job-1",
			CandidateID:     "cand-1",
			JobTitle:        "Backend Engineer",
			JobRequirements: []string{"Go", "PostgreSQL", "Kubernetes"},
			CandidateName:   "Alex Kim",
			ScheduledAt:     &scheduled,
			InterviewType:   "VIDEO",
			Duration:        60,
			Status:          "SCHEDULED",
		},
		{ID: "iv-2", Status: "SCHEDULED"},
	}
}

// NewHarness 创建并启动测试服务组合，测试结束时自动清理
func NewHarness(t *testing.T, cfg HarnessConfig) *Harness {
	t.Helper()
	h := &Harness{t: t}

	h.Engine = engine.NewServer()
	h.EngineServer = httptest.NewServer(h.Engine.Router())

	clientCfg := analysis.DefaultConfig(h.EngineServer.URL)
	clientCfg.MaxRetries = 0
	analysisClient := analysis.NewClient(clientCfg)

	h.Backend = store.NewMemoryBackend(cfg.Interviews...)
	h.Metrics = metrics.New()
	h.Hub = livefeed.NewHub(livefeed.DefaultConfig(), h.Metrics)

	h.Notifier = notify.NewDispatcher(notify.Config{QueueSize: 32, Workers: 1}, notify.SenderFunc(
		func(_ context.Context, n monitor.Notification) error {
			h.mu.Lock()
			h.sent = append(h.sent, n)
			h.mu.Unlock()
			return nil
		}))
	h.Notifier.Start(context.Background())

	h.Manager = monitor.NewManager(h.Backend, analysisClient, h.Backend,
		monitor.WithTranscriptSink(h.Backend),
		monitor.WithNotifier(h.Notifier),
		monitor.WithPublisher(h.Hub),
		monitor.WithMetrics(h.Metrics),
		monitor.WithTimeouts(cfg.StartTimeout, cfg.AnalyzeTimeout, cfg.ReportTimeout),
	)

	h.API = httpserver.NewAPIServer(httpserver.Options{
		Service:    h.Manager,
		Authorizer: httpserver.NewRoleAuthorizer(cfg.StartRoles),
		Hub:        h.Hub,
		Metrics:    h.Metrics,
		Store:      h.Backend,
		StoreKind:  string(store.KindMemory),
		Notifier:   h.Notifier,
		Version:    "test",
	})
	h.Server = httptest.NewServer(h.API.Handler())

	t.Cleanup(h.Close)
	return h
}

// Client 以指定角色访问API的客户端
func (h *Harness) Client(role string) *apiclient.Client {
	return apiclient.New(apiclient.Config{
		BaseURL: h.Server.URL,
		Token:   "test-token",
		UserID:  fmt.Sprintf("user-%s", role),
		Role:    role,
		Timeout: 10 * time.Second,
	})
}

// Notifications 已投递的通知
func (h *Harness) Notifications() []monitor.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]monitor.Notification(nil), h.sent...)
}

// WaitForNotifications 等待至少n条通知
func (h *Harness) WaitForNotifications(n int) []monitor.Notification {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.Notifications()) >= n },
		2*time.Second, 10*time.Millisecond, "expected %d notifications", n)
	return h.Notifications()
}

// Close 按依赖逆序关闭
func (h *Harness) Close() {
	h.Hub.CloseAll()
	h.Server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Notifier.Stop(ctx)
	h.EngineServer.Close()
}
