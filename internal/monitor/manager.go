package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/metrics"
)

const logModule = "SessionManager"

// 默认远程调用超时
const (
	DefaultStartTimeout   = 5 * time.Second
	DefaultAnalyzeTimeout = 10 * time.Second
	DefaultReportTimeout  = 30 * time.Second
)

// TranscriptStatusAnalyzed 转录记录状态
const TranscriptStatusAnalyzed = "ANALYZED"

// NotificationMonitoringCompleted 监控完成通知类型
const NotificationMonitoringCompleted = "MONITORING_COMPLETED"

// Manager 会话生命周期编排：创建、分片处理、结束、实时状态
type Manager struct {
	store     SessionStore
	analysis  AnalysisClient
	directory InterviewDirectory
	sink      TranscriptSink
	notifier  Notifier
	publisher LivePublisher
	metrics   *metrics.Metrics

	startTimeout   atomic.Int64
	analyzeTimeout atomic.Int64
	reportTimeout  atomic.Int64

	now   func() time.Time
	newID func() string

	ending singleflight.Group
}

// Option Manager配置选项
type Option func(*Manager)

// WithTranscriptSink 设置转录记录接收方
func WithTranscriptSink(sink TranscriptSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithNotifier 设置通知队列
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithPublisher 设置实时状态推送
func WithPublisher(p LivePublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithMetrics 设置指标
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTimeouts 设置远程调用超时，零值保持默认
func WithTimeouts(start, analyze, report time.Duration) Option {
	return func(m *Manager) { m.SetTimeouts(start, analyze, report) }
}

// WithClock 测试用时钟
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator 测试用ID生成
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// NewManager 创建会话管理器
func NewManager(store SessionStore, analysis AnalysisClient, directory InterviewDirectory, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		analysis:  analysis,
		directory: directory,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	m.startTimeout.Store(int64(DefaultStartTimeout))
	m.analyzeTimeout.Store(int64(DefaultAnalyzeTimeout))
	m.reportTimeout.Store(int64(DefaultReportTimeout))

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTimeouts 运行时更新超时（配置热重载）
func (m *Manager) SetTimeouts(start, analyze, report time.Duration) {
	if start > 0 {
		m.startTimeout.Store(int64(start))
	}
	if analyze > 0 {
		m.analyzeTimeout.Store(int64(analyze))
	}
	if report > 0 {
		m.reportTimeout.Store(int64(report))
	}
}

// Timeouts 当前超时设置
func (m *Manager) Timeouts() (start, analyze, report time.Duration) {
	return time.Duration(m.startTimeout.Load()),
		time.Duration(m.analyzeTimeout.Load()),
		time.Duration(m.reportTimeout.Load())
}

// Start 为面试创建监控会话
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.InterviewID == "" {
		return nil, &ValidationError{Field: "interviewId", Reason: "required"}
	}
	if req.MeetingLink == "" {
		return nil, &ValidationError{Field: "meetingLink", Reason: "required"}
	}

	interview, err := m.directory.Lookup(ctx, req.InterviewID)
	if err != nil {
		return nil, err
	}
	if interview == nil {
		return nil, InterviewNotFound(req.InterviewID)
	}

	meta := Metadata{
		JobTitle:        interview.JobTitle,
		JobRequirements: interview.JobRequirements,
		CandidateName:   interview.CandidateName,
		CandidateID:     interview.CandidateID,
	}
	if len(meta.JobRequirements) == 0 && len(req.JobRequirements) > 0 {
		meta.JobRequirements = cloneStrings(req.JobRequirements)
	}
	if meta.CandidateName == "" {
		meta.CandidateName = req.CandidateName
	}

	now := m.now()
	session := NewSession(m.newID(), req, meta, now)
	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create monitoring session: %w", err)
	}

	start, _, _ := m.Timeouts()
	callStart := time.Now()
	err = m.analysis.StartSession(ctx, StartSessionRequest{
		SessionID:       session.SessionID,
		InterviewID:     session.InterviewID,
		JobRequirements: session.Metadata.JobRequirements,
		CandidateName:   session.Metadata.CandidateName,
	}, start)
	m.metrics.ObserveRemoteCall("start_session", callStart, err)
	if err != nil {
		logger.LogWarning(logModule, session.SessionID, fmt.Sprintf("分析引擎会话初始化失败: %v", err))
	}

	if err := m.directory.MarkInProgress(ctx, req.InterviewID, session.SessionID, now); err != nil {
		logger.LogWarning(logModule, session.SessionID, fmt.Sprintf("更新面试状态失败: %v", err))
	}

	m.metrics.SessionStarted()
	m.publish(session)
	logger.LogSuccess(logModule, session.SessionID, fmt.Sprintf("✅ 监控会话已创建 (interview=%s)", req.InterviewID))
	return session, nil
}

// Ingest 分析一个分片并追加到会话。远程失败时使用中性降级结果，不返回错误。
func (m *Manager) Ingest(ctx context.Context, req ChunkRequest) (*IngestResult, error) {
	if req.SessionID == "" {
		return nil, &ValidationError{Field: "sessionId", Reason: "required"}
	}

	if _, err := m.store.Get(ctx, req.SessionID); err != nil {
		return nil, err
	}

	now := m.now()
	timestamp := req.Timestamp
	if timestamp == 0 {
		timestamp = float64(now.UnixNano()) / float64(time.Second)
	}

	result := m.analyze(ctx, req, timestamp)

	entry := TranscriptEntry{
		Text:            req.Transcript,
		Timestamp:       timestamp,
		Sentiment:       result.Sentiment,
		Confidence:      result.Confidence,
		Engagement:      result.Engagement,
		Keywords:        cloneStrings(result.Keywords),
		TechnicalSkills: cloneStrings(result.TechnicalSkills),
	}
	snapshot := AnalysisSnapshot{
		Timestamp:  timestamp,
		Score:      result.OverallScore,
		Sentiment:  result.Sentiment,
		Confidence: result.Confidence,
		Engagement: result.Engagement,
		Source:     result.Source,
	}

	session, err := m.store.Append(ctx, req.SessionID, entry, snapshot, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to append chunk: %w", err)
	}

	m.metrics.ChunkProcessed(string(result.Source))
	m.publish(session)

	return &IngestResult{
		Analysis:     result,
		CurrentScore: session.Scores.Current,
		AverageScore: session.Scores.Average,
		Trend:        session.Scores.Trend,
	}, nil
}

func (m *Manager) analyze(ctx context.Context, req ChunkRequest, timestamp float64) *AnalysisResult {
	_, timeout, _ := m.Timeouts()
	start := time.Now()
	result, err := m.analysis.Analyze(ctx, AnalyzeRequest{
		SessionID:  req.SessionID,
		Transcript: req.Transcript,
		AudioData:  req.AudioData,
		Timestamp:  timestamp,
	}, timeout)
	m.metrics.ObserveRemoteCall("analyze", start, err)

	if err != nil || result == nil {
		if err != nil {
			logger.LogWarning(logModule, req.SessionID, fmt.Sprintf("实时分析失败，使用降级结果: %v", err))
		}
		return FallbackAnalysis(req.Transcript)
	}

	normalizeResult(result, req.Transcript)
	return result
}

// normalizeResult 补齐引擎未返回的字段
func normalizeResult(r *AnalysisResult, text string) {
	if r.Sentiment.Label == "" {
		r.Sentiment.Label = SentimentLabel(r.Sentiment.Score)
	}
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	if r.TechnicalSkills == nil {
		r.TechnicalSkills = []string{}
	}
	if r.Text == "" {
		r.Text = text
	}
	if r.Source == "" {
		r.Source = SourceRemote
	}
}

// End 结束会话并生成最终报告。同一会话的并发调用合并为一次执行。
func (m *Manager) End(ctx context.Context, sessionID string) (*EndResult, error) {
	if sessionID == "" {
		return nil, &ValidationError{Field: "sessionId", Reason: "required"}
	}

	v, err, _ := m.ending.Do(sessionID, func() (interface{}, error) {
		return m.end(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EndResult), nil
}

func (m *Manager) end(ctx context.Context, sessionID string) (*EndResult, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusCompleted {
		return endedResult(session), nil
	}

	report := m.generateReport(ctx, session)

	endedAt := m.now()
	transcriptID := m.newID()
	completed, applied, err := m.store.Complete(ctx, sessionID, Completion{
		Report:       report,
		EndedAt:      endedAt,
		TranscriptID: transcriptID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete monitoring session: %w", err)
	}
	if !applied {
		return endedResult(completed), nil
	}

	record := BuildTranscriptRecord(completed)
	if m.sink != nil {
		if err := m.sink.SaveTranscript(ctx, record); err != nil {
			logger.LogError(logModule, sessionID, fmt.Sprintf("保存面试转录记录失败: %v", err))
		}
	}

	if err := m.directory.MarkCompleted(ctx, completed.InterviewID, transcriptID, *completed.Scores.Final, endedAt); err != nil {
		logger.LogWarning(logModule, sessionID, fmt.Sprintf("更新面试完成状态失败: %v", err))
	}

	m.notifyCompleted(completed)
	m.metrics.SessionCompleted(string(report.Source))
	m.publish(completed)
	logger.LogSuccess(logModule, sessionID, fmt.Sprintf("✅ 监控会话已结束，最终得分 %.2f (%s)", *completed.Scores.Final, report.Source))

	return &EndResult{
		SessionID:    sessionID,
		TranscriptID: transcriptID,
		Report:       completed.FinalReport,
		Transcript:   record,
	}, nil
}

func (m *Manager) generateReport(ctx context.Context, session *Session) *Report {
	_, _, timeout := m.Timeouts()
	start := time.Now()
	report, err := m.analysis.GenerateReport(ctx, ReportRequest{
		SessionID:       session.SessionID,
		Transcript:      session.Transcript,
		Analysis:        session.Analysis,
		JobRequirements: session.Metadata.JobRequirements,
		CandidateName:   session.Metadata.CandidateName,
	}, timeout)
	m.metrics.ObserveRemoteCall("generate_report", start, err)

	if err != nil || report == nil {
		if err != nil {
			logger.LogWarning(logModule, session.SessionID, fmt.Sprintf("报告生成失败，使用降级报告: %v", err))
		}
		return FallbackReport(session.Transcript, session.Analysis, m.now())
	}

	normalizeReport(report, session, m.now())
	return report
}

func normalizeReport(r *Report, s *Session, now time.Time) {
	if r.Source == "" {
		r.Source = SourceRemote
	}
	if r.Transcript == "" {
		r.Transcript = s.TranscriptText()
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = now
	}
	for _, list := range []*[]string{&r.KeyPhrases, &r.TechnicalSkillsMentioned, &r.Strengths, &r.Weaknesses, &r.Recommendations} {
		if *list == nil {
			*list = []string{}
		}
	}
}

func endedResult(s *Session) *EndResult {
	return &EndResult{
		SessionID:    s.SessionID,
		TranscriptID: s.TranscriptID,
		Report:       s.FinalReport,
		AlreadyEnded: true,
	}
}

// BuildTranscriptRecord 由已完成会话派生转录记录
func BuildTranscriptRecord(s *Session) *TranscriptRecord {
	report := s.FinalReport
	if report == nil {
		report = &Report{}
	}
	var aiScore float64
	if s.Scores.Final != nil {
		aiScore = *s.Scores.Final
	}
	endedAt := s.LastUpdated
	if s.EndedAt != nil {
		endedAt = *s.EndedAt
	}

	return &TranscriptRecord{
		ID:          s.TranscriptID,
		InterviewID: s.InterviewID,
		SessionID:   s.SessionID,
		Transcript:  s.TranscriptText(),
		Analysis:    report,
		Scores: TranscriptScores{
			AIScore:         aiScore,
			SentimentScore:  report.SentimentSummary.Average,
			ConfidenceScore: report.ConfidenceAverage,
			EngagementScore: report.EngagementAverage,
		},
		Status:          TranscriptStatusAnalyzed,
		DurationSeconds: endedAt.Sub(s.StartedAt).Seconds(),
		CreatedAt:       endedAt,
	}
}

func (m *Manager) notifyCompleted(s *Session) {
	if m.notifier == nil {
		return
	}
	n := Notification{
		Kind:        NotificationMonitoringCompleted,
		SessionID:   s.SessionID,
		InterviewID: s.InterviewID,
		Recipient:   s.StartedBy,
		Subject:     "Interview monitoring completed",
		Body:        fmt.Sprintf("Interview %s finished with a final score of %.2f", s.InterviewID, *s.Scores.Final),
	}
	if !m.notifier.Enqueue(n) {
		m.metrics.NotificationDropped()
		logger.LogWarning(logModule, s.SessionID, "通知队列已满，丢弃完成通知")
	}
}

// Live 实时状态，只读
func (m *Manager) Live(ctx context.Context, sessionID string) (*LiveStatus, error) {
	if sessionID == "" {
		return nil, &ValidationError{Field: "sessionId", Reason: "required"}
	}
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Live(), nil
}

// Get 完整会话，合并面试的排期信息。面试查询失败时省略这些字段。
func (m *Manager) Get(ctx context.Context, sessionID string) (*SessionView, error) {
	if sessionID == "" {
		return nil, &ValidationError{Field: "sessionId", Reason: "required"}
	}
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	view := &SessionView{Session: session}
	interview, err := m.directory.Lookup(ctx, session.InterviewID)
	if err != nil {
		logger.LogWarning(logModule, sessionID, fmt.Sprintf("查询面试信息失败: %v", err))
		return view, nil
	}
	if interview != nil {
		view.Interview = InterviewSummary{
			ScheduledAt:   interview.ScheduledAt,
			InterviewType: interview.InterviewType,
			Duration:      interview.Duration,
		}
	}
	return view, nil
}

// InterviewOf 会话所属的面试，用于鉴权
func (m *Manager) InterviewOf(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", &ValidationError{Field: "sessionId", Reason: "required"}
	}
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.InterviewID, nil
}

func (m *Manager) publish(s *Session) {
	if m.publisher != nil {
		m.publisher.Publish(s.Live())
	}
}
