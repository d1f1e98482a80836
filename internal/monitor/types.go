package monitor

import (
	"time"
)

// Status 监控会话状态
type Status string

const (
	StatusMonitoring Status = "MONITORING"
	StatusCompleted  Status = "COMPLETED"
)

// Trend 分数趋势
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// ResultSource 分析结果来源
type ResultSource string

const (
	SourceRemote   ResultSource = "remote"
	SourceFallback ResultSource = "fallback"
)

// DefaultMeetingPlatform 未指定会议平台时使用
const DefaultMeetingPlatform = "GENERIC"

// Sentiment 情感分析结果
type Sentiment struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// TranscriptEntry 转录条目
type TranscriptEntry struct {
	Text            string    `json:"text"`
	Timestamp       float64   `json:"timestamp"`
	Sentiment       Sentiment `json:"sentiment"`
	Confidence      float64   `json:"confidence"`
	Engagement      float64   `json:"engagement"`
	Keywords        []string  `json:"keywords"`
	TechnicalSkills []string  `json:"technicalSkills"`
}

// AnalysisSnapshot 单个分片的分析快照
type AnalysisSnapshot struct {
	Timestamp  float64      `json:"timestamp"`
	Score      float64      `json:"score"`
	Sentiment  Sentiment    `json:"sentiment"`
	Confidence float64      `json:"confidence"`
	Engagement float64      `json:"engagement"`
	Source     ResultSource `json:"source,omitempty"`
}

// Scores 聚合分数
type Scores struct {
	Current float64  `json:"current"`
	Average float64  `json:"average"`
	Trend   Trend    `json:"trend"`
	Final   *float64 `json:"final,omitempty"`
}

// Metadata 会话创建时冻结的元数据
type Metadata struct {
	JobTitle        string   `json:"jobTitle,omitempty"`
	JobRequirements []string `json:"jobRequirements"`
	CandidateName   string   `json:"candidateName,omitempty"`
	CandidateID     string   `json:"candidateId,omitempty"`
}

// Session 实时面试监控会话
type Session struct {
	SessionID       string             `json:"sessionId"`
	InterviewID     string             `json:"interviewId"`
	MeetingLink     string             `json:"meetingLink"`
	MeetingPlatform string             `json:"meetingPlatform"`
	StartedBy       string             `json:"startedBy,omitempty"`
	Status          Status             `json:"status"`
	Transcript      []TranscriptEntry  `json:"transcript"`
	Analysis        []AnalysisSnapshot `json:"realTimeAnalysis"`
	Scores          Scores             `json:"scores"`
	Metadata        Metadata           `json:"metadata"`
	FinalReport     *Report            `json:"finalReport,omitempty"`
	TranscriptID    string             `json:"transcriptId,omitempty"`
	StartedAt       time.Time          `json:"startedAt"`
	EndedAt         *time.Time         `json:"endedAt,omitempty"`
	LastUpdated     time.Time          `json:"lastUpdated"`
}

// AnalysisResult 分析引擎返回的单分片结果
type AnalysisResult struct {
	Sentiment       Sentiment    `json:"sentiment"`
	Confidence      float64      `json:"confidence"`
	Engagement      float64      `json:"engagement"`
	Keywords        []string     `json:"keywords"`
	TechnicalSkills []string     `json:"technicalSkills"`
	OverallScore    float64      `json:"overallScore"`
	Text            string       `json:"text,omitempty"`
	Source          ResultSource `json:"source"`
}

// SentimentSummary 情感统计
type SentimentSummary struct {
	Average  float64 `json:"average"`
	Positive int     `json:"positive"`
	Neutral  int     `json:"neutral"`
	Negative int     `json:"negative"`
}

// Report 最终面试报告
type Report struct {
	OverallScore             *float64         `json:"overallScore,omitempty"`
	SentimentSummary         SentimentSummary `json:"sentimentSummary"`
	ConfidenceAverage        float64          `json:"confidenceAverage"`
	EngagementAverage        float64          `json:"engagementAverage"`
	Transcript               string           `json:"transcript"`
	KeyPhrases               []string         `json:"keyPhrases"`
	TechnicalSkillsMentioned []string         `json:"technicalSkillsMentioned"`
	Strengths                []string         `json:"strengths"`
	Weaknesses               []string         `json:"weaknesses"`
	Recommendations          []string         `json:"recommendations"`
	TotalResponses           int              `json:"totalResponses"`
	AnalysisPoints           int              `json:"analysisPoints"`
	GeneratedAt              time.Time        `json:"generatedAt"`
	Source                   ResultSource     `json:"source"`
}

// TranscriptScores 转录记录中的分数
type TranscriptScores struct {
	AIScore         float64 `json:"aiScore"`
	SentimentScore  float64 `json:"sentimentScore"`
	ConfidenceScore float64 `json:"confidenceScore"`
	EngagementScore float64 `json:"engagementScore"`
}

// TranscriptRecord 会话结束后派生的面试转录记录，供下游使用
type TranscriptRecord struct {
	ID              string           `json:"id"`
	InterviewID     string           `json:"interviewId"`
	SessionID       string           `json:"sessionId"`
	Transcript      string           `json:"transcript"`
	Analysis        *Report          `json:"analysis"`
	Scores          TranscriptScores `json:"scores"`
	Status          string           `json:"status"`
	DurationSeconds float64          `json:"duration"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Interview 外部面试记录的最小视图
type Interview struct {
	ID              string     `json:"id"`
	JobPostingID    string     `json:"jobPostingId,omitempty"`
	CandidateID     string     `json:"candidateId,omitempty"`
	JobTitle        string     `json:"jobTitle,omitempty"`
	JobRequirements []string   `json:"jobRequirements,omitempty"`
	CandidateName   string     `json:"candidateName,omitempty"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty"`
	InterviewType   string     `json:"interviewType,omitempty"`
	Duration        int        `json:"duration,omitempty"`
	Status          string     `json:"status,omitempty"`
}

// InterviewSummary 会话详情中合并的面试字段
type InterviewSummary struct {
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	InterviewType string     `json:"interviewType,omitempty"`
	Duration      int        `json:"duration,omitempty"`
}

// SessionView 会话完整视图
type SessionView struct {
	*Session
	Interview InterviewSummary `json:"interview"`
}

// LiveStatus 实时状态投影
type LiveStatus struct {
	SessionID        string            `json:"sessionId"`
	CurrentScore     float64           `json:"currentScore"`
	AverageScore     float64           `json:"averageScore"`
	Trend            Trend             `json:"trend"`
	LatestAnalysis   *AnalysisSnapshot `json:"latestAnalysis"`
	TranscriptLength int               `json:"transcriptLength"`
	Status           Status            `json:"status"`
}

// StartRequest 开始监控请求
type StartRequest struct {
	InterviewID     string
	MeetingLink     string
	MeetingPlatform string
	JobRequirements []string
	CandidateName   string
	StartedBy       string
}

// ChunkRequest 音频/转录分片
type ChunkRequest struct {
	SessionID  string
	Transcript string
	AudioData  string
	Timestamp  float64
}

// IngestResult 分片处理结果
type IngestResult struct {
	Analysis     *AnalysisResult `json:"analysis"`
	CurrentScore float64         `json:"currentScore"`
	AverageScore float64         `json:"averageScore"`
	Trend        Trend           `json:"trend"`
}

// EndResult 结束监控结果
type EndResult struct {
	SessionID    string            `json:"sessionId"`
	TranscriptID string            `json:"transcriptId"`
	Report       *Report           `json:"report"`
	Transcript   *TranscriptRecord `json:"-"`
	AlreadyEnded bool              `json:"-"`
}

// Completion 会话完成时写入的字段
type Completion struct {
	Report       *Report
	EndedAt      time.Time
	TranscriptID string
}
