package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/apiclient"
	"InterviewMonitor/internal/config"
	"InterviewMonitor/internal/engine"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/notify"
	"InterviewMonitor/internal/store"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []monitor.Notification
}

func (s *recordingSender) Send(_ context.Context, n monitor.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestApp(t *testing.T) (*App, *httptest.Server, *recordingSender) {
	t.Helper()
	eng := httptest.NewServer(engine.NewServer().Router())
	t.Cleanup(eng.Close)

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Analysis.BaseURL = eng.URL
	cfg.Analysis.MaxRetries = 0

	sender := &recordingSender{}
	backend := store.NewMemoryBackend(DemoInterviews()...)
	a, err := New(context.Background(), cfg, WithBackend(backend, store.KindMemory), WithSender(sender))
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a, srv, sender
}

func clientFor(srv *httptest.Server, role string) *apiclient.Client {
	return apiclient.New(apiclient.Config{
		BaseURL: srv.URL,
		Token:   "t",
		UserID:  "u-" + role,
		Role:    role,
		Timeout: 5 * time.Second,
	})
}

func TestAppServesFullSession(t *testing.T) {
	a, srv, sender := newTestApp(t)
	client := clientFor(srv, "HR")
	ctx := context.Background()

	started, err := client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{
		InterviewID: DemoInterviewID,
		MeetingLink: "https://zoom.us/j/123",
	})
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusMonitoring, started.Status)

	_, err = client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{
		SessionID:  started.SessionID,
		Transcript: "I built a great Go service",
	})
	require.NoError(t, err)

	ended, err := client.EndMonitoring(ctx, started.SessionID)
	require.NoError(t, err)
	require.NotNil(t, ended.Report)
	assert.NotEmpty(t, ended.TranscriptID)

	assert.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, store.KindMemory, a.StoreKind())
}

func TestApplyConfigUpdatesRolesAndTimeouts(t *testing.T) {
	a, srv, _ := newTestApp(t)
	ctx := context.Background()

	updated, err := config.Default()
	require.NoError(t, err)
	updated.Auth.StartRoles = []string{"ADMIN"}
	updated.Analysis.AnalyzeTimeout = 3 * time.Second
	a.ApplyConfig(updated)

	_, analyze, _ := a.Manager().Timeouts()
	assert.Equal(t, 3*time.Second, analyze)

	_, err = clientFor(srv, "HR").StartMonitoring(ctx, apiclient.StartMonitoringRequest{
		InterviewID: DemoInterviewID,
		MeetingLink: "https://zoom.us/j/123",
	})
	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	_, err = clientFor(srv, "ADMIN").StartMonitoring(ctx, apiclient.StartMonitoringRequest{
		InterviewID: DemoInterviewID,
		MeetingLink: "https://zoom.us/j/123",
	})
	assert.NoError(t, err)
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Default()
	require.NoError(t, err)

	b, kind, err := OpenBackend(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, store.KindMemory, kind)
	assert.NoError(t, b.Ping(ctx))

	cfg.Store.Type = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "monitor.sqlite")
	b, kind, err = OpenBackend(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, store.KindSQLite, kind)
	assert.NoError(t, b.Ping(ctx))
	assert.NoError(t, b.Close())

	cfg.Store.Type = "redis"
	_, _, err = OpenBackend(ctx, cfg)
	assert.Error(t, err)
}

func TestNewSender(t *testing.T) {
	assert.IsType(t, notify.LogSender{}, newSender(config.NotifyConfig{}))
	assert.IsType(t, &notify.WebhookSender{}, newSender(config.NotifyConfig{WebhookURL: "http://hooks.local"}))
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	b := store.NewMemoryBackend()
	require.NoError(t, SeedDemo(ctx, b))

	iv, err := b.Lookup(ctx, DemoInterviewID)
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", iv.JobTitle)

	s, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "seed.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, SeedDemo(ctx, s))
	iv, err = s.Lookup(ctx, DemoInterviewID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "PostgreSQL", "Kubernetes"}, iv.JobRequirements)
}
