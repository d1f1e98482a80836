// Package engine 基于关键词的本地分析引擎，接口与远程分析引擎一致，用于开发、演示和测试。
package engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"InterviewMonitor/internal/analysis"
)

var (
	positiveWords = []string{"good", "great", "excellent", "yes", "sure", "confident", "experienced"}
	negativeWords = []string{"no", "not", "difficult", "problem", "issue", "unsure"}

	// defaultSkills 未提供职位要求时识别的技能
	defaultSkills = []string{
		"go", "golang", "python", "java", "javascript", "typescript", "react", "node",
		"sql", "postgres", "redis", "kafka", "docker", "kubernetes", "aws", "grpc",
	}

	stopWords = map[string]bool{
		"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
		"have": true, "was": true, "were": true, "are": true, "you": true, "our": true,
		"from": true, "they": true, "but": true, "about": true, "what": true, "when": true,
	}
)

const maxKeyPhrases = 20

// Analyze 关键词情感打分：score = 50 + (正向词数 - 负向词数) * 5
func Analyze(text string, requirements []string) *analysis.WireResult {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	pos, neg := 0, 0
	for _, w := range positiveWords {
		if containsWord(words, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if containsWord(words, w) {
			neg++
		}
	}

	sentiment := analysis.WireSentiment{Score: 0, Label: "neutral"}
	switch {
	case pos > neg:
		sentiment = analysis.WireSentiment{Score: 0.3, Label: "positive"}
	case neg > pos:
		sentiment = analysis.WireSentiment{Score: -0.3, Label: "negative"}
	}

	skills := detectSkills(words, requirements)
	score := 50 + float64(pos-neg)*5
	confidence := clamp(0.5+0.05*float64(pos-neg), 0, 1)
	engagement := clamp(0.4+0.02*float64(len(words)), 0, 1)

	return &analysis.WireResult{
		Sentiment:       &sentiment,
		Confidence:      &confidence,
		Engagement:      &engagement,
		Keywords:        keywords(words),
		TechnicalSkills: skills,
		OverallScore:    &score,
		Text:            text,
	}
}

// Report 按阈值规则生成报告
func Report(body *analysis.ReportBody, now time.Time) *analysis.WireReport {
	var (
		sentiments  []float64
		confidences []float64
		engagements []float64
		scores      []float64
		phrases     = map[string]bool{}
		skills      = map[string]bool{}
	)
	for _, a := range body.Analysis {
		sentiments = append(sentiments, a.SentimentScore)
		confidences = append(confidences, a.ConfidenceScore)
		engagements = append(engagements, a.Engagement)
		scores = append(scores, a.Score)
		for _, k := range a.Keywords {
			phrases[k] = true
		}
		for _, s := range a.TechnicalSkills {
			skills[s] = true
		}
	}

	sentimentAvg := mean(sentiments, 0)
	confidenceAvg := mean(confidences, 0.5)
	engagementAvg := mean(engagements, 0.5)

	summary := analysis.WireSentimentSummary{Average: sentimentAvg}
	for _, s := range sentiments {
		switch {
		case s > 0.1:
			summary.Positive++
		case s < -0.1:
			summary.Negative++
		default:
			summary.Neutral++
		}
	}

	skillCount := len(skills)
	var strengths, weaknesses, recommendations []string
	if confidenceAvg > 0.7 {
		strengths = append(strengths, "High confidence level demonstrated")
	}
	if engagementAvg > 0.7 {
		strengths = append(strengths, "Strong engagement throughout interview")
	}
	if skillCount >= 3 {
		strengths = append(strengths, "Good technical knowledge demonstrated")
	}
	if sentimentAvg > 0.2 {
		strengths = append(strengths, "Positive attitude and communication")
	}

	if confidenceAvg < 0.5 {
		weaknesses = append(weaknesses, "Confidence could be improved")
	}
	if engagementAvg < 0.5 {
		weaknesses = append(weaknesses, "Engagement level needs improvement")
	}
	if skillCount < 2 {
		weaknesses = append(weaknesses, "Limited technical skills mentioned")
	}
	if sentimentAvg < -0.1 {
		weaknesses = append(weaknesses, "Negative sentiment detected in responses")
	}

	if confidenceAvg < 0.6 {
		recommendations = append(recommendations, "Candidate should work on building confidence through preparation")
	}
	if engagementAvg < 0.6 {
		recommendations = append(recommendations, "Candidate should demonstrate more enthusiasm and engagement")
	}
	if skillCount < 3 {
		recommendations = append(recommendations, "Candidate should highlight more technical skills relevant to the role")
	}
	if sentimentAvg < 0 {
		recommendations = append(recommendations, "Candidate should maintain a more positive communication style")
	}

	overall := math.Round(mean(scores, 0))
	if overall <= 0 {
		overall = math.Round(50 + sentimentAvg*20 + confidenceAvg*20 + engagementAvg*10)
	}

	texts := make([]string, len(body.Transcript))
	for i, t := range body.Transcript {
		texts[i] = t.Text
	}

	keyPhrases := sortedKeys(phrases)
	if len(keyPhrases) > maxKeyPhrases {
		keyPhrases = keyPhrases[:maxKeyPhrases]
	}

	return &analysis.WireReport{
		OverallScore:             &overall,
		SentimentSummary:         summary,
		ConfidenceAverage:        confidenceAvg,
		EngagementAverage:        engagementAvg,
		Transcript:               strings.Join(texts, " "),
		KeyPhrases:               keyPhrases,
		TechnicalSkillsMentioned: sortedKeys(skills),
		Strengths:                nonNil(strengths),
		Weaknesses:               nonNil(weaknesses),
		Recommendations:          nonNil(recommendations),
		TotalResponses:           len(body.Transcript),
		AnalysisPoints:           len(body.Analysis),
		GeneratedAt:              now.UTC().Format(time.RFC3339Nano),
	}
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '#')
	})
}

func containsWord(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func detectSkills(words []string, requirements []string) []string {
	candidates := defaultSkills
	if len(requirements) > 0 {
		candidates = make([]string, 0, len(requirements))
		for _, r := range requirements {
			candidates = append(candidates, strings.ToLower(strings.TrimSpace(r)))
		}
	}
	found := map[string]bool{}
	for _, c := range candidates {
		if c != "" && containsWord(words, c) {
			found[c] = true
		}
	}
	return sortedKeys(found)
}

func keywords(words []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		if len(w) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return nonNil(out)
}

func mean(values []float64, empty float64) float64 {
	if len(values) == 0 {
		return empty
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
