package monitor

import (
	"math"
	"strings"
	"time"
)

// 情感分类阈值
const (
	positiveSentimentThreshold = 0.1
	negativeSentimentThreshold = -0.1
)

// FallbackAnalysis 远程分析不可用时的中性结果
func FallbackAnalysis(text string) *AnalysisResult {
	return &AnalysisResult{
		Sentiment:       Sentiment{Score: 0, Label: "neutral"},
		Confidence:      0.5,
		Engagement:      0.5,
		Keywords:        []string{},
		TechnicalSkills: []string{},
		OverallScore:    0,
		Text:            text,
		Source:          SourceFallback,
	}
}

// FallbackReport 远程报告不可用时基于已累积数据生成的降级报告。
// 只做数值聚合，不做定性推断，所以strengths/weaknesses/recommendations为空。
// 任何输入都不会失败。
func FallbackReport(transcript []TranscriptEntry, analysis []AnalysisSnapshot, now time.Time) *Report {
	n := len(analysis)
	scores := make([]float64, 0, n)
	sentiments := make([]float64, 0, n)
	confidences := make([]float64, 0, n)
	engagements := make([]float64, 0, n)

	summary := SentimentSummary{}
	for _, a := range analysis {
		scores = append(scores, a.Score)
		sentiments = append(sentiments, a.Sentiment.Score)
		confidences = append(confidences, a.Confidence)
		engagements = append(engagements, a.Engagement)

		switch {
		case a.Sentiment.Score > positiveSentimentThreshold:
			summary.Positive++
		case a.Sentiment.Score < negativeSentimentThreshold:
			summary.Negative++
		default:
			summary.Neutral++
		}
	}
	summary.Average = Average(sentiments)

	overall := math.Round(Average(scores))

	return &Report{
		OverallScore:             &overall,
		SentimentSummary:         summary,
		ConfidenceAverage:        Average(confidences),
		EngagementAverage:        Average(engagements),
		Transcript:               joinTranscript(transcript),
		KeyPhrases:               []string{},
		TechnicalSkillsMentioned: []string{},
		Strengths:                []string{},
		Weaknesses:               []string{},
		Recommendations:          []string{},
		TotalResponses:           len(transcript),
		AnalysisPoints:           n,
		GeneratedAt:              now,
		Source:                   SourceFallback,
	}
}

func joinTranscript(entries []TranscriptEntry) string {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	return strings.Join(texts, " ")
}

// SentimentLabel 按阈值给情感分数打标签
func SentimentLabel(score float64) string {
	switch {
	case score > positiveSentimentThreshold:
		return "positive"
	case score < negativeSentimentThreshold:
		return "negative"
	default:
		return "neutral"
	}
}
