package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/apiclient"
	"InterviewMonitor/internal/httpserver"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/testutil"
)

func rawRequest(t *testing.T, method, url string, body interface{}, headers map[string]string) (*http.Response, httpserver.APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env httpserver.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func managerHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer t",
		"X-User-ID":     "u-1",
		"X-User-Role":   "MANAGER",
		"Content-Type":  "application/json",
	}
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	return apiErr.StatusCode
}

func TestMonitoringLifecycleOverHTTP(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	client := h.Client("MANAGER")
	ctx := context.Background()
	sa := testutil.NewSessionAssertions(t)

	started, err := client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{
		InterviewID: "iv-1",
		MeetingLink: "https://meet.example.com/abc",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, monitor.StatusMonitoring, started.Status)
	assert.Equal(t, monitor.DefaultMeetingPlatform, started.MeetingPlatform)

	progress, ok := h.Backend.Progress("iv-1")
	require.True(t, ok)
	assert.Equal(t, "IN_PROGRESS", progress.Status)

	texts := []string{
		"I am confident and experienced with Go",
		"This was a great and excellent project, yes",
		"Honestly the migration was difficult",
	}
	var last *monitor.IngestResult
	for _, text := range texts {
		last, err = client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{SessionID: started.SessionID, Transcript: text})
		require.NoError(t, err)
		assert.Equal(t, monitor.SourceRemote, last.Analysis.Source)
	}
	assert.Equal(t, 45.0, last.CurrentScore)
	assert.InDelta(t, 56.67, last.AverageScore, 0.001)

	live, err := client.Live(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, live.TranscriptLength)
	assert.Equal(t, monitor.StatusMonitoring, live.Status)

	view, err := client.Session(ctx, started.SessionID)
	require.NoError(t, err)
	sa.AssertMonitoring(view.Session)
	sa.AssertSequencesAligned(view.Session, 3)
	sa.AssertScoresConsistent(view.Session)
	assert.Equal(t, "VIDEO", view.Interview.InterviewType)
	assert.Equal(t, 60, view.Interview.Duration)
	assert.Equal(t, []string{"Go", "PostgreSQL", "Kubernetes"}, view.Metadata.JobRequirements)

	ended, err := client.EndMonitoring(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, started.SessionID, ended.SessionID)
	assert.NotEmpty(t, ended.TranscriptID)
	sa.AssertReportShape(ended.Report)
	assert.Equal(t, monitor.SourceRemote, ended.Report.Source)

	view, err = client.Session(ctx, started.SessionID)
	require.NoError(t, err)
	sa.AssertCompleted(view.Session)

	record, ok := h.Backend.MemoryTranscripts.Get(ended.TranscriptID)
	require.True(t, ok)
	assert.Equal(t, "iv-1", record.InterviewID)
	assert.Equal(t, monitor.TranscriptStatusAnalyzed, record.Status)

	notes := h.WaitForNotifications(1)
	assert.Equal(t, monitor.NotificationMonitoringCompleted, notes[0].Kind)
	assert.Equal(t, "user-MANAGER", notes[0].Recipient)

	// 再次结束返回同一结果
	again, err := client.EndMonitoring(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ended.TranscriptID, again.TranscriptID)
}

func TestFallbackWhenEngineFails(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	h.Engine.SetFailAnalyze(true)
	h.Engine.SetFailReport(true)
	client := h.Client("HR")
	ctx := context.Background()

	started, err := client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{InterviewID: "iv-2", MeetingLink: "https://zoom.example/1", MeetingPlatform: "ZOOM"})
	require.NoError(t, err)
	assert.Equal(t, "ZOOM", started.MeetingPlatform)

	res, err := client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{SessionID: started.SessionID, Transcript: "hello"})
	require.NoError(t, err, "remote failure must not surface")
	assert.Equal(t, monitor.SourceFallback, res.Analysis.Source)
	assert.Equal(t, "neutral", res.Analysis.Sentiment.Label)
	assert.Equal(t, 0.5, res.Analysis.Confidence)

	ended, err := client.EndMonitoring(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, monitor.SourceFallback, ended.Report.Source)
	assert.Equal(t, "hello", ended.Report.Transcript)
	assert.Empty(t, ended.Report.Strengths)
}

func TestAuthentication(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	url := h.Server.URL + "/api/realtime-interview/start-monitoring"
	body := map[string]string{"interviewId": "iv-1", "meetingLink": "x"}

	resp, env := rawRequest(t, http.MethodPost, url, body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "unauthorized", env.Code)

	headers := managerHeaders()
	headers["X-User-Role"] = "INTERVIEWER"
	resp, env = rawRequest(t, http.MethodPost, url, body, headers)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", env.Code)

	resp, env = rawRequest(t, http.MethodPost, url, body, managerHeaders())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestValidationAndNotFound(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	base := h.Server.URL + "/api/realtime-interview"

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing interview id", http.MethodPost, "/start-monitoring", map[string]string{"meetingLink": "x"}, http.StatusBadRequest, "validation_error"},
		{"missing meeting link", http.MethodPost, "/start-monitoring", map[string]string{"interviewId": "iv-1"}, http.StatusBadRequest, "validation_error"},
		{"unknown interview", http.MethodPost, "/start-monitoring", map[string]string{"interviewId": "nope", "meetingLink": "x"}, http.StatusNotFound, "not_found"},
		{"missing session id", http.MethodPost, "/process-audio", map[string]string{"transcript": "hi"}, http.StatusBadRequest, "validation_error"},
		{"unknown session ingest", http.MethodPost, "/process-audio", map[string]string{"sessionId": "nope"}, http.StatusNotFound, "not_found"},
		{"unknown session end", http.MethodPost, "/end-monitoring", map[string]string{"sessionId": "nope"}, http.StatusNotFound, "not_found"},
		{"unknown session get", http.MethodGet, "/session/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown session live", http.MethodGet, "/session/nope/live", nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := rawRequest(t, tt.method, base+tt.path, tt.body, managerHeaders())
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	req, err := http.NewRequest(http.MethodPost, h.Server.URL+"/api/realtime-interview/process-audio", strings.NewReader("{not json"))
	require.NoError(t, err)
	for k, v := range managerHeaders() {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConcurrentIngestOverHTTP(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	client := h.Client("ADMIN")
	ctx := context.Background()

	started, err := client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{InterviewID: "iv-1", MeetingLink: "l"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{SessionID: started.SessionID, Transcript: "good answer"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	live, err := client.Live(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 20, live.TranscriptLength)
	assert.Equal(t, 55.0, live.AverageScore)
}

func TestLiveStreamPushesUpdates(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	client := h.Client("MANAGER")
	ctx := context.Background()

	started, err := client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{InterviewID: "iv-1", MeetingLink: "l"})
	require.NoError(t, err)

	sub := testutil.NewLiveSubscriber(t, client.LiveStreamURL(started.SessionID))
	sub.WaitFor(func(s monitor.LiveStatus) bool { return s.Status == monitor.StatusMonitoring })

	_, err = client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{SessionID: started.SessionID, Transcript: "great"})
	require.NoError(t, err)
	got := sub.WaitFor(func(s monitor.LiveStatus) bool { return s.TranscriptLength == 1 })
	assert.Equal(t, 55.0, got.CurrentScore)

	_, err = client.EndMonitoring(ctx, started.SessionID)
	require.NoError(t, err)
	sub.WaitFor(func(s monitor.LiveStatus) bool { return s.Status == monitor.StatusCompleted })
}

func TestLiveStreamRequiresIdentity(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())
	resp, env := rawRequest(t, http.MethodGet, h.Server.URL+"/api/realtime-interview/session/any/ws", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", env.Code)
}

func TestHealthStatusAndMetrics(t *testing.T) {
	h := testutil.NewHarness(t, testutil.DefaultHarnessConfig())

	health, err := h.Client("MANAGER").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])

	resp, env := rawRequest(t, http.MethodGet, h.Server.URL+"/api/v1/status", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "healthy", data["system_health"])

	_, err = h.Client("MANAGER").StartMonitoring(context.Background(), apiclient.StartMonitoringRequest{InterviewID: "iv-1", MeetingLink: "l"})
	require.NoError(t, err)

	mresp, err := http.Get(h.Server.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	text, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "interview_monitor_session_started_total 1")
	assert.Contains(t, string(text), "interview_monitor_http_requests_total")
}

func TestStartRolesAreConfigurable(t *testing.T) {
	cfg := testutil.DefaultHarnessConfig()
	cfg.StartRoles = []string{"RECRUITER"}
	h := testutil.NewHarness(t, cfg)

	_, err := h.Client("MANAGER").StartMonitoring(context.Background(), apiclient.StartMonitoringRequest{InterviewID: "iv-1", MeetingLink: "l"})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apiStatus(t, err))

	_, err = h.Client("recruiter").StartMonitoring(context.Background(), apiclient.StartMonitoringRequest{InterviewID: "iv-1", MeetingLink: "l"})
	assert.NoError(t, err)
}
