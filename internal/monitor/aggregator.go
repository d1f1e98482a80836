package monitor

import "math"

const (
	// TrendWindow 趋势计算使用的最近分数个数
	TrendWindow = 5
	// TrendThreshold 前后两半均值差超过该值才视为变化
	TrendThreshold = 5.0
)

// Average 计算算术平均值，空序列返回0
func Average(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// CalculateTrend 基于最近窗口的简单斜率判断分数走向。
//
// 取最近 TrendWindow 个分数，按 floor(n/2) 切成前后两半，比较两半均值之差。
// 这是廉价的滑动窗口启发式，不是统计检验。
func CalculateTrend(scores []float64) Trend {
	if len(scores) < 2 {
		return TrendStable
	}

	recent := scores
	if len(recent) > TrendWindow {
		recent = recent[len(recent)-TrendWindow:]
	}

	mid := len(recent) / 2
	diff := Average(recent[mid:]) - Average(recent[:mid])

	switch {
	case diff > TrendThreshold:
		return TrendImproving
	case diff < -TrendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// RoundScore 分数统一保留两位小数
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// snapshotScores 提取快照分数序列
func snapshotScores(snapshots []AnalysisSnapshot) []float64 {
	scores := make([]float64, len(snapshots))
	for i, s := range snapshots {
		scores[i] = s.Score
	}
	return scores
}
