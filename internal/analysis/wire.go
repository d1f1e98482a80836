package analysis

import (
	"encoding/json"
	"time"

	"InterviewMonitor/internal/monitor"
)

// 分析引擎接口路径
const (
	PathStartSession   = "/api/realtime-interview/start-session"
	PathAnalyze        = "/api/realtime-interview/analyze"
	PathGenerateReport = "/api/realtime-interview/generate-report"
)

// StartSessionBody start-session请求体
type StartSessionBody struct {
	SessionID       string   `json:"session_id"`
	InterviewID     string   `json:"interview_id"`
	JobRequirements []string `json:"job_requirements"`
	CandidateName   string   `json:"candidate_name,omitempty"`
}

// AnalyzeBody analyze请求体
type AnalyzeBody struct {
	SessionID  string  `json:"session_id"`
	AudioData  string  `json:"audio_data,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Timestamp  float64 `json:"timestamp"`
}

// WireSentiment 情感
type WireSentiment struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// WireResult 单分片分析结果。指针字段区分缺失与零值。
type WireResult struct {
	Sentiment       *WireSentiment `json:"sentiment,omitempty"`
	Confidence      *float64       `json:"confidence,omitempty"`
	Engagement      *float64       `json:"engagement,omitempty"`
	Keywords        []string       `json:"keywords,omitempty"`
	TechnicalSkills []string       `json:"technical_skills,omitempty"`
	OverallScore    *float64       `json:"overall_score,omitempty"`
	Text            string         `json:"text,omitempty"`
}

// AnalyzeEnvelope analyze响应 {success, result, error}
type AnalyzeEnvelope struct {
	Success *bool       `json:"success,omitempty"`
	Result  *WireResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WireTranscriptItem 报告请求中的转录条目
type WireTranscriptItem struct {
	Text            string        `json:"text"`
	Timestamp       float64       `json:"timestamp"`
	Sentiment       WireSentiment `json:"sentiment"`
	Confidence      float64       `json:"confidence"`
	Engagement      float64       `json:"engagement"`
	Keywords        []string      `json:"keywords"`
	TechnicalSkills []string      `json:"technical_skills"`
}

// WireAnalysisItem 报告请求中的分析快照
type WireAnalysisItem struct {
	Timestamp       float64  `json:"timestamp"`
	Score           float64  `json:"score"`
	SentimentScore  float64  `json:"sentiment_score"`
	ConfidenceScore float64  `json:"confidence_score"`
	Engagement      float64  `json:"engagement"`
	Keywords        []string `json:"keywords"`
	TechnicalSkills []string `json:"technical_skills"`
}

// ReportBody generate-report请求体
type ReportBody struct {
	SessionID       string               `json:"session_id"`
	Transcript      []WireTranscriptItem `json:"transcript"`
	Analysis        []WireAnalysisItem   `json:"analysis"`
	JobRequirements []string             `json:"job_requirements"`
	CandidateName   string               `json:"candidate_name,omitempty"`
}

// WireSentimentSummary 情感统计
type WireSentimentSummary struct {
	Average  float64 `json:"average"`
	Positive int     `json:"positive"`
	Neutral  int     `json:"neutral"`
	Negative int     `json:"negative"`
}

// WireReport generate-report响应
type WireReport struct {
	Success                  *bool                `json:"success,omitempty"`
	Error                    string               `json:"error,omitempty"`
	OverallScore             *float64             `json:"overall_score,omitempty"`
	SentimentSummary         WireSentimentSummary `json:"sentiment_summary"`
	ConfidenceAverage        float64              `json:"confidence_average"`
	EngagementAverage        float64              `json:"engagement_average"`
	Transcript               string               `json:"transcript"`
	KeyPhrases               []string             `json:"key_phrases"`
	TechnicalSkillsMentioned []string             `json:"technical_skills_mentioned"`
	Strengths                []string             `json:"strengths"`
	Weaknesses               []string             `json:"weaknesses"`
	Recommendations          []string             `json:"recommendations"`
	TotalResponses           int                  `json:"total_responses"`
	AnalysisPoints           int                  `json:"analysis_points"`
	GeneratedAt              string               `json:"generated_at,omitempty"`
}

// ToResult 转换为领域结果，缺失字段使用中性默认值
func (w *WireResult) ToResult(fallbackText string) *monitor.AnalysisResult {
	r := monitor.FallbackAnalysis(fallbackText)
	r.Source = monitor.SourceRemote

	if w.Sentiment != nil {
		r.Sentiment = monitor.Sentiment{Score: w.Sentiment.Score, Label: w.Sentiment.Label}
		if r.Sentiment.Label == "" {
			r.Sentiment.Label = monitor.SentimentLabel(r.Sentiment.Score)
		}
	}
	if w.Confidence != nil {
		r.Confidence = *w.Confidence
	}
	if w.Engagement != nil {
		r.Engagement = *w.Engagement
	}
	if w.Keywords != nil {
		r.Keywords = w.Keywords
	}
	if w.TechnicalSkills != nil {
		r.TechnicalSkills = w.TechnicalSkills
	}
	if w.OverallScore != nil {
		r.OverallScore = *w.OverallScore
	}
	if w.Text != "" {
		r.Text = w.Text
	}
	return r
}

// ToReport 转换为领域报告
func (w *WireReport) ToReport() *monitor.Report {
	r := &monitor.Report{
		OverallScore: w.OverallScore,
		SentimentSummary: monitor.SentimentSummary{
			Average:  w.SentimentSummary.Average,
			Positive: w.SentimentSummary.Positive,
			Neutral:  w.SentimentSummary.Neutral,
			Negative: w.SentimentSummary.Negative,
		},
		ConfidenceAverage:        w.ConfidenceAverage,
		EngagementAverage:        w.EngagementAverage,
		Transcript:               w.Transcript,
		KeyPhrases:               orEmpty(w.KeyPhrases),
		TechnicalSkillsMentioned: orEmpty(w.TechnicalSkillsMentioned),
		Strengths:                orEmpty(w.Strengths),
		Weaknesses:               orEmpty(w.Weaknesses),
		Recommendations:          orEmpty(w.Recommendations),
		TotalResponses:           w.TotalResponses,
		AnalysisPoints:           w.AnalysisPoints,
		Source:                   monitor.SourceRemote,
	}
	if w.GeneratedAt != "" {
		r.GeneratedAt = parseGeneratedAt(w.GeneratedAt)
	}
	return r
}

// parseGeneratedAt 兼容带时区和不带时区的ISO时间
func parseGeneratedAt(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// NewReportBody 由会话数据构造报告请求
func NewReportBody(req monitor.ReportRequest) *ReportBody {
	body := &ReportBody{
		SessionID:       req.SessionID,
		Transcript:      make([]WireTranscriptItem, len(req.Transcript)),
		Analysis:        make([]WireAnalysisItem, len(req.Analysis)),
		JobRequirements: orEmpty(req.JobRequirements),
		CandidateName:   req.CandidateName,
	}
	for i, e := range req.Transcript {
		body.Transcript[i] = WireTranscriptItem{
			Text:            e.Text,
			Timestamp:       e.Timestamp,
			Sentiment:       WireSentiment{Score: e.Sentiment.Score, Label: e.Sentiment.Label},
			Confidence:      e.Confidence,
			Engagement:      e.Engagement,
			Keywords:        orEmpty(e.Keywords),
			TechnicalSkills: orEmpty(e.TechnicalSkills),
		}
	}
	for i, a := range req.Analysis {
		item := WireAnalysisItem{
			Timestamp:       a.Timestamp,
			Score:           a.Score,
			SentimentScore:  a.Sentiment.Score,
			ConfidenceScore: a.Confidence,
			Engagement:      a.Engagement,
			Keywords:        []string{},
			TechnicalSkills: []string{},
		}
		// 转录和分析按相同顺序追加，同下标对应同一分片
		if i < len(req.Transcript) {
			item.Keywords = orEmpty(req.Transcript[i].Keywords)
			item.TechnicalSkills = orEmpty(req.Transcript[i].TechnicalSkills)
		}
		body.Analysis[i] = item
	}
	return body
}

// decodeAnalyze 接受 {success,result} 信封或裸结果
func decodeAnalyze(data []byte) (*WireResult, bool, string, error) {
	var env AnalyzeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, "", err
	}
	if env.Success != nil || env.Result != nil {
		ok := env.Success == nil || *env.Success
		if env.Result == nil {
			env.Result = &WireResult{}
		}
		return env.Result, ok, env.Error, nil
	}

	var bare WireResult
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, false, "", err
	}
	return &bare, true, "", nil
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
