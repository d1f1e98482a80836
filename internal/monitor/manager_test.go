package monitor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/metrics"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/store"
)

// scriptedEngine 按顺序返回预设分数，fail为true时模拟远程不可用
type scriptedEngine struct {
	mu          sync.Mutex
	scores      []float64
	calls       int
	fail        bool
	report      *monitor.Report
	reportCalls atomic.Int32
	reportDelay time.Duration
	starts      atomic.Int32
}

func (e *scriptedEngine) StartSession(context.Context, monitor.StartSessionRequest, time.Duration) error {
	e.starts.Add(1)
	if e.fail {
		return &monitor.RemoteServiceError{Op: "start_session", Err: errors.New("connection refused")}
	}
	return nil
}

func (e *scriptedEngine) Analyze(_ context.Context, req monitor.AnalyzeRequest, _ time.Duration) (*monitor.AnalysisResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, &monitor.RemoteServiceError{Op: "analyze", StatusCode: 503, Err: errors.New("unavailable")}
	}
	score := 50.0
	if e.calls < len(e.scores) {
		score = e.scores[e.calls]
	}
	e.calls++
	return &monitor.AnalysisResult{
		Sentiment:    monitor.Sentiment{Score: 0.3},
		Confidence:   0.7,
		Engagement:   0.8,
		OverallScore: score,
	}, nil
}

func (e *scriptedEngine) GenerateReport(context.Context, monitor.ReportRequest, time.Duration) (*monitor.Report, error) {
	e.reportCalls.Add(1)
	if e.reportDelay > 0 {
		time.Sleep(e.reportDelay)
	}
	if e.fail || e.report == nil {
		return nil, &monitor.RemoteServiceError{Op: "generate_report", Err: context.DeadlineExceeded}
	}
	r := *e.report
	return &r, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []*monitor.LiveStatus
}

func (p *recordingPublisher) Publish(s *monitor.LiveStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, s)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.statuses)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []monitor.Notification
	full bool
}

func (n *recordingNotifier) Enqueue(msg monitor.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.full {
		return false
	}
	n.sent = append(n.sent, msg)
	return true
}

type fixture struct {
	manager   *monitor.Manager
	backend   *store.MemoryBackend
	engine    *scriptedEngine
	publisher *recordingPublisher
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, engine *scriptedEngine) *fixture {
	t.Helper()
	scheduled := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	backend := store.NewMemoryBackend(&monitor.Interview{
		ID:              "iv-1",
		CandidateID:     "c-1",
		JobTitle:        "Backend Engineer",
		JobRequirements: []string{"go", "sql"},
		CandidateName:   "Alex Kim",
		ScheduledAt:     &scheduled,
		InterviewType:   "VIDEO",
		Duration:        45,
	}, &monitor.Interview{ID: "iv-bare"})

	pub := &recordingPublisher{}
	notif := &recordingNotifier{}
	var seq atomic.Int64
	m := monitor.NewManager(backend, engine, backend,
		monitor.WithTranscriptSink(backend),
		monitor.WithPublisher(pub),
		monitor.WithNotifier(notif),
		monitor.WithMetrics(metrics.New()),
		monitor.WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	)
	return &fixture{manager: m, backend: backend, engine: engine, publisher: pub, notifier: notif}
}

func startSession(t *testing.T, f *fixture) *monitor.Session {
	t.Helper()
	s, err := f.manager.Start(context.Background(), monitor.StartRequest{
		InterviewID: "iv-1",
		MeetingLink: "https://meet.example.com/xyz",
		StartedBy:   "manager-1",
	})
	require.NoError(t, err)
	return s
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, &scriptedEngine{})
	ctx := context.Background()

	_, err := f.manager.Start(ctx, monitor.StartRequest{MeetingLink: "m"})
	assert.True(t, errors.Is(err, monitor.ErrValidation))

	_, err = f.manager.Start(ctx, monitor.StartRequest{InterviewID: "iv-1"})
	assert.True(t, errors.Is(err, monitor.ErrValidation))

	_, err = f.manager.Start(ctx, monitor.StartRequest{InterviewID: "iv-unknown", MeetingLink: "m"})
	assert.True(t, errors.Is(err, monitor.ErrNotFound))
	assert.Equal(t, 0, f.backend.Count())
}

func TestStartCreatesSession(t *testing.T) {
	f := newFixture(t, &scriptedEngine{})
	s := startSession(t, f)

	assert.Equal(t, "id-1", s.SessionID)
	assert.Equal(t, monitor.StatusMonitoring, s.Status)
	assert.Equal(t, monitor.DefaultMeetingPlatform, s.MeetingPlatform)
	assert.Equal(t, "Backend Engineer", s.Metadata.JobTitle)
	assert.Equal(t, []string{"go", "sql"}, s.Metadata.JobRequirements)
	assert.Equal(t, "Alex Kim", s.Metadata.CandidateName)
	assert.Equal(t, int32(1), f.engine.starts.Load())
	assert.Equal(t, 1, f.publisher.count())

	p, ok := f.backend.Progress("iv-1")
	require.True(t, ok)
	assert.Equal(t, store.InterviewStatusInProgress, p.Status)
	assert.Equal(t, s.SessionID, p.SessionID)
}

func TestStartUsesRequestMetadataWhenDirectoryHasNone(t *testing.T) {
	f := newFixture(t, &scriptedEngine{})
	s, err := f.manager.Start(context.Background(), monitor.StartRequest{
		InterviewID:     "iv-bare",
		MeetingLink:     "m",
		JobRequirements: []string{"python"},
		CandidateName:   "Jordan",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"python"}, s.Metadata.JobRequirements)
	assert.Equal(t, "Jordan", s.Metadata.CandidateName)
}

func TestStartSurvivesEngineFailure(t *testing.T) {
	f := newFixture(t, &scriptedEngine{fail: true})
	s := startSession(t, f)
	assert.Equal(t, monitor.StatusMonitoring, s.Status)
}

func TestIngestValidationAndNotFound(t *testing.T) {
	f := newFixture(t, &scriptedEngine{})
	ctx := context.Background()

	_, err := f.manager.Ingest(ctx, monitor.ChunkRequest{Transcript: "hi"})
	assert.True(t, errors.Is(err, monitor.ErrValidation))

	_, err = f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: "nope", Transcript: "hi"})
	assert.True(t, errors.Is(err, monitor.ErrNotFound))
}

func TestEndToEndRemote(t *testing.T) {
	overall := 81.0
	engine := &scriptedEngine{
		scores: []float64{60, 70, 90},
		report: &monitor.Report{OverallScore: &overall, Strengths: []string{"Clear communication"}},
	}
	f := newFixture(t, engine)
	ctx := context.Background()
	s := startSession(t, f)

	var last *monitor.IngestResult
	for i, text := range []string{"I have five years of Go.", "I built a queue.", "I led a migration."} {
		res, err := f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: s.SessionID, Transcript: text, Timestamp: float64(i + 1)})
		require.NoError(t, err)
		assert.Equal(t, monitor.SourceRemote, res.Analysis.Source)
		assert.Equal(t, "positive", res.Analysis.Sentiment.Label)
		last = res
	}
	assert.Equal(t, 90.0, last.CurrentScore)
	assert.Equal(t, 73.33, last.AverageScore)
	assert.Equal(t, monitor.TrendImproving, last.Trend)

	end, err := f.manager.End(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotNil(t, end.Report)
	assert.Equal(t, monitor.SourceRemote, end.Report.Source)
	assert.Equal(t, "I have five years of Go. I built a queue. I led a migration.", end.Report.Transcript)
	assert.NotNil(t, end.Report.Weaknesses)

	got, err := f.backend.MemoryStore.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusCompleted, got.Status)
	require.NotNil(t, got.Scores.Final)
	assert.Equal(t, 81.0, *got.Scores.Final)

	p, _ := f.backend.Progress("iv-1")
	assert.Equal(t, store.InterviewStatusCompleted, p.Status)
	require.NotNil(t, p.AIScore)
	assert.Equal(t, 81.0, *p.AIScore)
}

func TestEndToEndFallback(t *testing.T) {
	engine := &scriptedEngine{scores: []float64{60, 70, 90}}
	f := newFixture(t, engine)
	ctx := context.Background()
	s := startSession(t, f)

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: s.SessionID, Transcript: text})
		require.NoError(t, err)
	}

	live, err := f.manager.Live(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 90.0, live.CurrentScore)
	assert.Equal(t, 73.33, live.AverageScore)
	assert.Equal(t, 3, live.TranscriptLength)
	require.NotNil(t, live.LatestAnalysis)
	assert.Equal(t, 90.0, live.LatestAnalysis.Score)

	// 报告引擎超时
	end, err := f.manager.End(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, monitor.SourceFallback, end.Report.Source)
	require.NotNil(t, end.Report.OverallScore)
	assert.Equal(t, 73.0, *end.Report.OverallScore)
	assert.Equal(t, "one two three", end.Report.Transcript)
	assert.Empty(t, end.Report.Strengths)

	require.NotNil(t, end.Transcript)
	assert.Equal(t, monitor.TranscriptStatusAnalyzed, end.Transcript.Status)
	assert.Equal(t, 73.0, end.Transcript.Scores.AIScore)
	saved, ok := f.backend.MemoryTranscripts.Get(end.TranscriptID)
	require.True(t, ok)
	assert.Equal(t, "one two three", saved.Transcript)

	live, err = f.manager.Live(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusCompleted, live.Status)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, monitor.NotificationMonitoringCompleted, f.notifier.sent[0].Kind)
	assert.Equal(t, "manager-1", f.notifier.sent[0].Recipient)
}

func TestIngestFallsBackWhenEngineDown(t *testing.T) {
	f := newFixture(t, &scriptedEngine{fail: true})
	ctx := context.Background()
	s := startSession(t, f)

	res, err := f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: s.SessionID, Transcript: "hello"})
	require.NoError(t, err)
	assert.Equal(t, monitor.SourceFallback, res.Analysis.Source)
	assert.Equal(t, 0.5, res.Analysis.Confidence)
	assert.Equal(t, 0.0, res.CurrentScore)

	got, err := f.backend.MemoryStore.Get(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, got.Transcript, 1)
	assert.Greater(t, got.Transcript[0].Timestamp, 0.0, "timestamp defaults to now")
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t, &scriptedEngine{scores: []float64{80}})
	ctx := context.Background()
	s := startSession(t, f)
	_, err := f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: s.SessionID, Transcript: "x"})
	require.NoError(t, err)

	first, err := f.manager.End(ctx, s.SessionID)
	require.NoError(t, err)
	second, err := f.manager.End(ctx, s.SessionID)
	require.NoError(t, err)

	assert.True(t, second.AlreadyEnded)
	assert.Equal(t, first.TranscriptID, second.TranscriptID)
	assert.Equal(t, *first.Report.OverallScore, *second.Report.OverallScore)
	assert.Equal(t, int32(1), f.engine.reportCalls.Load(), "second End must not call the engine")
	assert.Len(t, f.notifier.sent, 1)

	_, err = f.manager.End(ctx, "missing")
	assert.True(t, errors.Is(err, monitor.ErrNotFound))
}

func TestConcurrentEndCollapses(t *testing.T) {
	overall := 66.0
	f := newFixture(t, &scriptedEngine{report: &monitor.Report{OverallScore: &overall}, reportDelay: 50 * time.Millisecond})
	ctx := context.Background()
	s := startSession(t, f)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.manager.End(ctx, s.SessionID)
			if err == nil {
				ids[i] = res.TranscriptID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.NotEmpty(t, ids[0])
	assert.Len(t, f.backend.MemoryTranscripts.ByInterview("iv-1"), 1)
}

func TestIngestAfterEndKeepsFinal(t *testing.T) {
	f := newFixture(t, &scriptedEngine{scores: []float64{70, 20}})
	ctx := context.Background()
	s := startSession(t, f)

	_, err := f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: s.SessionID, Transcript: "a"})
	require.NoError(t, err)
	_, err = f.manager.End(ctx, s.SessionID)
	require.NoError(t, err)

	res, err := f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: s.SessionID, Transcript: "late"})
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.CurrentScore)

	got, err := f.backend.MemoryStore.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusCompleted, got.Status)
	assert.Equal(t, 70.0, *got.Scores.Final)
	assert.Len(t, got.Transcript, 2)
}

func TestConcurrentIngest(t *testing.T) {
	engine := &scriptedEngine{scores: make([]float64, 100)}
	for i := range engine.scores {
		engine.scores[i] = 10
	}
	f := newFixture(t, engine)
	ctx := context.Background()
	s := startSession(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.Ingest(ctx, monitor.ChunkRequest{SessionID: s.SessionID, Transcript: fmt.Sprintf("chunk %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	live, err := f.manager.Live(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 100, live.TranscriptLength)
	assert.Equal(t, 10.0, live.AverageScore)
	t.Logf("✅ 100 concurrent ingests, average %.2f", live.AverageScore)
}

func TestGetMergesInterview(t *testing.T) {
	f := newFixture(t, &scriptedEngine{})
	ctx := context.Background()
	s := startSession(t, f)

	view, err := f.manager.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, view.SessionID)
	assert.Equal(t, "VIDEO", view.Interview.InterviewType)
	assert.Equal(t, 45, view.Interview.Duration)
	require.NotNil(t, view.Interview.ScheduledAt)

	_, err = f.manager.Get(ctx, "missing")
	assert.True(t, errors.Is(err, monitor.ErrNotFound))
}

func TestSetTimeouts(t *testing.T) {
	f := newFixture(t, &scriptedEngine{})
	f.manager.SetTimeouts(0, 2*time.Second, 0)
	start, analyze, report := f.manager.Timeouts()
	assert.Equal(t, monitor.DefaultStartTimeout, start)
	assert.Equal(t, 2*time.Second, analyze)
	assert.Equal(t, monitor.DefaultReportTimeout, report)
}
