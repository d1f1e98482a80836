package monitor

import (
	"context"
	"time"
)

// SessionStore 按sessionId存取会话文档。
// Append和Complete必须按会话互斥，失败时不得留下部分更新。
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Append(ctx context.Context, sessionID string, entry TranscriptEntry, snapshot AnalysisSnapshot, now time.Time) (*Session, error)
	// Complete 仅在会话仍为MONITORING时生效，applied表示本次是否写入
	Complete(ctx context.Context, sessionID string, c Completion) (session *Session, applied bool, err error)
}

// AnalyzeRequest 单分片分析请求
type AnalyzeRequest struct {
	SessionID  string
	Transcript string
	AudioData  string
	Timestamp  float64
}

// ReportRequest 最终报告请求
type ReportRequest struct {
	SessionID       string
	Transcript      []TranscriptEntry
	Analysis        []AnalysisSnapshot
	JobRequirements []string
	CandidateName   string
}

// StartSessionRequest 通知分析引擎新会话
type StartSessionRequest struct {
	SessionID       string
	InterviewID     string
	JobRequirements []string
	CandidateName   string
}

// AnalysisClient 远程分析/报告引擎。所有失败统一返回错误，由调用方降级。
type AnalysisClient interface {
	StartSession(ctx context.Context, req StartSessionRequest, timeout time.Duration) error
	Analyze(ctx context.Context, req AnalyzeRequest, timeout time.Duration) (*AnalysisResult, error)
	GenerateReport(ctx context.Context, req ReportRequest, timeout time.Duration) (*Report, error)
}

// InterviewDirectory 外部面试记录
type InterviewDirectory interface {
	Lookup(ctx context.Context, interviewID string) (*Interview, error)
	MarkInProgress(ctx context.Context, interviewID, sessionID string, at time.Time) error
	MarkCompleted(ctx context.Context, interviewID, transcriptID string, aiScore float64, at time.Time) error
}

// TranscriptSink 接收会话结束后派生的转录记录
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, record *TranscriptRecord) error
}

// Notification 通知消息
type Notification struct {
	Kind        string
	SessionID   string
	InterviewID string
	Recipient   string
	Subject     string
	Body        string
}

// Notifier 尽力而为的通知投递，不得阻塞会话操作
type Notifier interface {
	Enqueue(n Notification) bool
}

// LivePublisher 推送实时状态
type LivePublisher interface {
	Publish(status *LiveStatus)
}
