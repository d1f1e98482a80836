package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackReportEmptySession(t *testing.T) {
	now := time.Now()
	r := FallbackReport(nil, nil, now)

	require.NotNil(t, r.OverallScore)
	assert.Equal(t, 0.0, *r.OverallScore)
	assert.Equal(t, SentimentSummary{}, r.SentimentSummary)
	assert.Equal(t, 0.0, r.ConfidenceAverage)
	assert.Equal(t, 0.0, r.EngagementAverage)
	assert.Equal(t, "", r.Transcript)
	assert.NotNil(t, r.Strengths)
	assert.NotNil(t, r.Weaknesses)
	assert.NotNil(t, r.Recommendations)
	assert.Empty(t, r.Strengths)
	assert.Equal(t, 0, r.TotalResponses)
	assert.Equal(t, 0, r.AnalysisPoints)
	assert.Equal(t, SourceFallback, r.Source)
	assert.Equal(t, now, r.GeneratedAt)
}

func TestFallbackReportAggregates(t *testing.T) {
	transcript := []TranscriptEntry{{Text: "I have"}, {Text: "five years"}, {Text: "of Go."}}
	analysis := []AnalysisSnapshot{
		{Score: 60, Sentiment: Sentiment{Score: 0.3}, Confidence: 0.4, Engagement: 0.6},
		{Score: 70, Sentiment: Sentiment{Score: 0.1}, Confidence: 0.6, Engagement: 0.6},
		{Score: 90, Sentiment: Sentiment{Score: -0.2}, Confidence: 0.8, Engagement: 0.9},
	}

	r := FallbackReport(transcript, analysis, time.Now())

	require.NotNil(t, r.OverallScore)
	assert.Equal(t, 73.0, *r.OverallScore)
	assert.Equal(t, 1, r.SentimentSummary.Positive)
	assert.Equal(t, 1, r.SentimentSummary.Neutral, "0.1 is on the neutral boundary")
	assert.Equal(t, 1, r.SentimentSummary.Negative)
	assert.InDelta(t, 0.0667, r.SentimentSummary.Average, 0.001)
	assert.InDelta(t, 0.6, r.ConfidenceAverage, 1e-9)
	assert.InDelta(t, 0.7, r.EngagementAverage, 1e-9)
	assert.Equal(t, "I have five years of Go.", r.Transcript)
	assert.Equal(t, 3, r.TotalResponses)
	assert.Equal(t, 3, r.AnalysisPoints)
}

func TestFallbackReportUnevenSequences(t *testing.T) {
	// 转录与分析序列长度不一致时仍然成功
	r := FallbackReport([]TranscriptEntry{{Text: "only text"}}, nil, time.Now())
	assert.Equal(t, "only text", r.Transcript)
	assert.Equal(t, 1, r.TotalResponses)
	assert.Equal(t, 0, r.AnalysisPoints)
	assert.Equal(t, 0.0, *r.OverallScore)
}

func TestFallbackAnalysisIsNeutral(t *testing.T) {
	a := FallbackAnalysis("hello")
	assert.Equal(t, 0.0, a.Sentiment.Score)
	assert.Equal(t, "neutral", a.Sentiment.Label)
	assert.Equal(t, 0.5, a.Confidence)
	assert.Equal(t, 0.5, a.Engagement)
	assert.Equal(t, 0.0, a.OverallScore)
	assert.NotNil(t, a.Keywords)
	assert.NotNil(t, a.TechnicalSkills)
	assert.Equal(t, "hello", a.Text)
	assert.Equal(t, SourceFallback, a.Source)
}

func TestSentimentLabel(t *testing.T) {
	assert.Equal(t, "positive", SentimentLabel(0.11))
	assert.Equal(t, "neutral", SentimentLabel(0.1))
	assert.Equal(t, "neutral", SentimentLabel(-0.1))
	assert.Equal(t, "negative", SentimentLabel(-0.11))
}
