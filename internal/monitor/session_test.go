package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionDefaults(t *testing.T) {
	now := time.Now()
	s := NewSession("s-1", StartRequest{InterviewID: "iv-1", MeetingLink: "https://meet"}, Metadata{}, now)

	assert.Equal(t, StatusMonitoring, s.Status)
	assert.Equal(t, DefaultMeetingPlatform, s.MeetingPlatform)
	assert.NotNil(t, s.Transcript)
	assert.NotNil(t, s.Analysis)
	assert.NotNil(t, s.Metadata.JobRequirements)
	assert.Equal(t, TrendStable, s.Scores.Trend)
	assert.Nil(t, s.Scores.Final)
	assert.Nil(t, s.EndedAt)
	assert.Equal(t, now, s.StartedAt)
}

func TestApplyChunkAndComplete(t *testing.T) {
	now := time.Now()
	s := NewSession("s-1", StartRequest{InterviewID: "iv-1", MeetingLink: "m", MeetingPlatform: "ZOOM"}, Metadata{}, now)
	assert.Equal(t, "ZOOM", s.MeetingPlatform)

	for _, score := range []float64{60, 70, 90} {
		s.ApplyChunk(TranscriptEntry{Text: "x"}, AnalysisSnapshot{Score: score}, now)
	}
	assert.Equal(t, 90.0, s.Scores.Current)
	assert.Equal(t, 73.33, s.Scores.Average)
	assert.Equal(t, TrendImproving, s.Scores.Trend)

	// 未给出报告分数时使用平均分
	end := now.Add(time.Minute)
	require.True(t, s.Complete(Completion{EndedAt: end, TranscriptID: "t-1"}))
	require.NotNil(t, s.Scores.Final)
	assert.Equal(t, 73.33, *s.Scores.Final)
	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, end, *s.EndedAt)

	overall := 10.0
	assert.False(t, s.Complete(Completion{Report: &Report{OverallScore: &overall}, EndedAt: end}))
	assert.Equal(t, 73.33, *s.Scores.Final)
	assert.Equal(t, "t-1", s.TranscriptID)

	s.ApplyChunk(TranscriptEntry{Text: "late"}, AnalysisSnapshot{Score: 10}, end)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 73.33, *s.Scores.Final)
	assert.Equal(t, 10.0, s.Scores.Current)
}

func TestLiveProjection(t *testing.T) {
	s := NewSession("s-1", StartRequest{InterviewID: "iv-1", MeetingLink: "m"}, Metadata{}, time.Now())
	live := s.Live()
	assert.Nil(t, live.LatestAnalysis)
	assert.Equal(t, 0, live.TranscriptLength)

	s.ApplyChunk(TranscriptEntry{Text: "a"}, AnalysisSnapshot{Score: 40, Timestamp: 1}, time.Now())
	s.ApplyChunk(TranscriptEntry{Text: "b"}, AnalysisSnapshot{Score: 50, Timestamp: 2}, time.Now())
	live = s.Live()
	require.NotNil(t, live.LatestAnalysis)
	assert.Equal(t, 2.0, live.LatestAnalysis.Timestamp)
	assert.Equal(t, 2, live.TranscriptLength)
	assert.Equal(t, 45.0, live.AverageScore)
	assert.Equal(t, StatusMonitoring, live.Status)
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSession("s-1", StartRequest{InterviewID: "iv-1", MeetingLink: "m"}, Metadata{JobRequirements: []string{"go"}}, time.Now())
	s.ApplyChunk(TranscriptEntry{Text: "a", Keywords: []string{"k"}}, AnalysisSnapshot{Score: 1}, time.Now())

	c := s.Clone()
	c.Transcript[0].Keywords[0] = "changed"
	c.Metadata.JobRequirements[0] = "rust"
	c.Analysis[0].Score = 99

	assert.Equal(t, "k", s.Transcript[0].Keywords[0])
	assert.Equal(t, "go", s.Metadata.JobRequirements[0])
	assert.Equal(t, 1.0, s.Analysis[0].Score)
	assert.Equal(t, "a", s.TranscriptText())
}
