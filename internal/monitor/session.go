package monitor

import (
	"time"
)

// NewSession 创建处于MONITORING状态的新会话
func NewSession(id string, req StartRequest, meta Metadata, now time.Time) *Session {
	platform := req.MeetingPlatform
	if platform == "" {
		platform = DefaultMeetingPlatform
	}
	if meta.JobRequirements == nil {
		meta.JobRequirements = []string{}
	}

	return &Session{
		SessionID:       id,
		InterviewID:     req.InterviewID,
		MeetingLink:     req.MeetingLink,
		MeetingPlatform: platform,
		StartedBy:       req.StartedBy,
		Status:          StatusMonitoring,
		Transcript:      []TranscriptEntry{},
		Analysis:        []AnalysisSnapshot{},
		Scores:          Scores{Trend: TrendStable},
		Metadata:        meta,
		StartedAt:       now,
		LastUpdated:     now,
	}
}

// ApplyChunk 追加一个转录条目和分析快照并重算派生分数。
// 调用方负责按会话互斥。不修改Status和Scores.Final。
func (s *Session) ApplyChunk(entry TranscriptEntry, snapshot AnalysisSnapshot, now time.Time) {
	s.Transcript = append(s.Transcript, entry)
	s.Analysis = append(s.Analysis, snapshot)

	scores := snapshotScores(s.Analysis)
	s.Scores.Current = RoundScore(snapshot.Score)
	s.Scores.Average = RoundScore(Average(scores))
	s.Scores.Trend = CalculateTrend(scores)
	s.LastUpdated = now
}

// Complete 将会话置为COMPLETED。已完成的会话返回false且不做任何修改。
func (s *Session) Complete(c Completion) bool {
	if s.Status == StatusCompleted {
		return false
	}

	final := s.Scores.Average
	if c.Report != nil && c.Report.OverallScore != nil {
		final = *c.Report.OverallScore
	}
	final = RoundScore(final)

	endedAt := c.EndedAt
	s.Status = StatusCompleted
	s.EndedAt = &endedAt
	s.Scores.Final = &final
	s.FinalReport = c.Report
	s.TranscriptID = c.TranscriptID
	s.LastUpdated = c.EndedAt
	return true
}

// Live 生成实时状态投影
func (s *Session) Live() *LiveStatus {
	status := &LiveStatus{
		SessionID:        s.SessionID,
		CurrentScore:     s.Scores.Current,
		AverageScore:     s.Scores.Average,
		Trend:            s.Scores.Trend,
		TranscriptLength: len(s.Transcript),
		Status:           s.Status,
	}
	if n := len(s.Analysis); n > 0 {
		latest := s.Analysis[n-1]
		status.LatestAnalysis = &latest
	}
	return status
}

// Clone 深拷贝，存储层返回副本避免调用方修改共享状态
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = make([]TranscriptEntry, len(s.Transcript))
	for i, e := range s.Transcript {
		e.Keywords = cloneStrings(e.Keywords)
		e.TechnicalSkills = cloneStrings(e.TechnicalSkills)
		c.Transcript[i] = e
	}
	c.Analysis = append([]AnalysisSnapshot(nil), s.Analysis...)
	if c.Analysis == nil {
		c.Analysis = []AnalysisSnapshot{}
	}
	c.Metadata.JobRequirements = cloneStrings(s.Metadata.JobRequirements)
	if s.Scores.Final != nil {
		f := *s.Scores.Final
		c.Scores.Final = &f
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.FinalReport != nil {
		r := *s.FinalReport
		c.FinalReport = &r
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// TranscriptText 按顺序以单个空格拼接所有转录文本
func (s *Session) TranscriptText() string {
	return joinTranscript(s.Transcript)
}
