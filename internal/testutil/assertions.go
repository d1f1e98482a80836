package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/monitor"
)

// SessionAssertions 会话断言助手
type SessionAssertions struct {
	t *testing.T
}

// NewSessionAssertions 创建断言助手
func NewSessionAssertions(t *testing.T) *SessionAssertions {
	return &SessionAssertions{t: t}
}

// AssertMonitoring 断言会话仍在监控中且没有最终分数
func (sa *SessionAssertions) AssertMonitoring(s *monitor.Session) {
	sa.t.Helper()
	require.NotNil(sa.t, s)
	assert.Equal(sa.t, monitor.StatusMonitoring, s.Status)
	assert.Nil(sa.t, s.Scores.Final, "monitoring session must not have a final score")
	assert.Nil(sa.t, s.EndedAt)
}

// AssertCompleted 断言会话已完成，最终分数、报告和转录记录齐全
func (sa *SessionAssertions) AssertCompleted(s *monitor.Session) {
	sa.t.Helper()
	require.NotNil(sa.t, s)
	assert.Equal(sa.t, monitor.StatusCompleted, s.Status)
	require.NotNil(sa.t, s.Scores.Final, "completed session must have a final score")
	assert.NotNil(sa.t, s.EndedAt)
	assert.NotNil(sa.t, s.FinalReport)
	assert.NotEmpty(sa.t, s.TranscriptID)
}

// AssertSequencesAligned 断言转录和分析序列长度一致
func (sa *SessionAssertions) AssertSequencesAligned(s *monitor.Session, expected int) {
	sa.t.Helper()
	assert.Len(sa.t, s.Transcript, expected)
	assert.Len(sa.t, s.Analysis, expected)
}

// AssertScores 断言聚合分数
func (sa *SessionAssertions) AssertScores(s *monitor.Session, current, average float64, trend monitor.Trend) {
	sa.t.Helper()
	assert.InDelta(sa.t, current, s.Scores.Current, 0.001, "current score")
	assert.InDelta(sa.t, average, s.Scores.Average, 0.001, "average score")
	assert.Equal(sa.t, trend, s.Scores.Trend)
}

// AssertScoresConsistent 断言分数与快照序列一致
func (sa *SessionAssertions) AssertScoresConsistent(s *monitor.Session) {
	sa.t.Helper()
	scores := make([]float64, 0, len(s.Analysis))
	for _, a := range s.Analysis {
		scores = append(scores, a.Score)
	}
	if len(scores) == 0 {
		assert.Zero(sa.t, s.Scores.Current)
		assert.Zero(sa.t, s.Scores.Average)
		return
	}
	assert.InDelta(sa.t, monitor.RoundScore(scores[len(scores)-1]), s.Scores.Current, 0.001)
	assert.InDelta(sa.t, monitor.RoundScore(monitor.Average(scores)), s.Scores.Average, 0.001)
	assert.Equal(sa.t, monitor.CalculateTrend(scores), s.Scores.Trend)
}

// AssertReportShape 断言报告列表字段非nil，分数在0-100之间
func (sa *SessionAssertions) AssertReportShape(r *monitor.Report) {
	sa.t.Helper()
	require.NotNil(sa.t, r)
	if r.OverallScore != nil {
		assert.GreaterOrEqual(sa.t, *r.OverallScore, 0.0)
		assert.LessOrEqual(sa.t, *r.OverallScore, 100.0)
	}
	assert.NotNil(sa.t, r.Strengths)
	assert.NotNil(sa.t, r.Weaknesses)
	assert.NotNil(sa.t, r.Recommendations)
	assert.False(sa.t, r.GeneratedAt.IsZero())
}
