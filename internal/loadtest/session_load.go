// Package loadtest 通过HTTP API并发驱动多个完整监控会话，统计各操作延迟
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"InterviewMonitor/internal/apiclient"
	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/monitor"
)

const logModule = "LoadTest"

// 统计的操作
const (
	OpStart  = "start"
	OpIngest = "ingest"
	OpEnd    = "end"
)

// Config 负载配置
type Config struct {
	InterviewIDs     []string
	Sessions         int
	Concurrency      int
	ChunksPerSession int
	ChunkInterval    time.Duration
	// ChunkRate 所有会话合计每秒分片数上限，0表示不限
	ChunkRate   float64
	Transcripts []string
	MeetingLink string
}

// DefaultConfig 默认配置
func DefaultConfig(interviewIDs ...string) Config {
	return Config{
		InterviewIDs:     interviewIDs,
		Sessions:         10,
		Concurrency:      5,
		ChunksPerSession: 5,
		Transcripts: []string{
			"I am confident with Go and PostgreSQL",
			"We had a difficult problem with the cache",
			"The team shipped a great result",
		},
		MeetingLink: "https://meet.example.com/load",
	}
}

// LatencyStats 延迟统计（毫秒）
type LatencyStats struct {
	Count int     `json:"count" yaml:"count"`
	Min   float64 `json:"min_ms" yaml:"min_ms"`
	Max   float64 `json:"max_ms" yaml:"max_ms"`
	Avg   float64 `json:"avg_ms" yaml:"avg_ms"`
	P50   float64 `json:"p50_ms" yaml:"p50_ms"`
	P95   float64 `json:"p95_ms" yaml:"p95_ms"`
	P99   float64 `json:"p99_ms" yaml:"p99_ms"`
}

// Result 负载测试结果
type Result struct {
	Sessions          int64                    `json:"sessions" yaml:"sessions"`
	CompletedSessions int64                    `json:"completed_sessions" yaml:"completed_sessions"`
	FailedSessions    int64                    `json:"failed_sessions" yaml:"failed_sessions"`
	RemoteChunks      int64                    `json:"remote_chunks" yaml:"remote_chunks"`
	FallbackChunks    int64                    `json:"fallback_chunks" yaml:"fallback_chunks"`
	AvgFinalScore     float64                  `json:"avg_final_score" yaml:"avg_final_score"`
	Duration          time.Duration            `json:"duration" yaml:"duration"`
	ChunksPerSecond   float64                  `json:"chunks_per_second" yaml:"chunks_per_second"`
	Latency           map[string]*LatencyStats `json:"latency" yaml:"latency"`
	ErrorsByCode      map[string]int64         `json:"errors_by_code" yaml:"errors_by_code"`
}

// Runner 负载执行器
type Runner struct {
	client  *apiclient.Client
	config  Config
	limiter *rate.Limiter

	latencyMu sync.Mutex
	latencies map[string][]time.Duration

	errorMu sync.Mutex
	errors  map[string]int64

	scoreMu     sync.Mutex
	finalScores []float64

	completed atomic.Int64
	failed    atomic.Int64
	remote    atomic.Int64
	fallback  atomic.Int64
}

// NewRunner 创建执行器
func NewRunner(client *apiclient.Client, config Config) *Runner {
	if config.Sessions <= 0 {
		config.Sessions = 1
	}
	if config.Concurrency <= 0 {
		config.Concurrency = config.Sessions
	}
	if len(config.Transcripts) == 0 {
		config.Transcripts = DefaultConfig().Transcripts
	}
	if config.MeetingLink == "" {
		config.MeetingLink = DefaultConfig().MeetingLink
	}

	r := &Runner{
		client:    client,
		config:    config,
		latencies: make(map[string][]time.Duration),
		errors:    make(map[string]int64),
	}
	if config.ChunkRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(config.ChunkRate), 1)
	}
	return r
}

// Run 执行负载，ctx取消时停止派发新会话
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if len(r.config.InterviewIDs) == 0 {
		return nil, errors.New("at least one interview id is required")
	}

	logger.LogInfo(logModule, "", fmt.Sprintf("🚀 开始负载测试: sessions=%d concurrency=%d chunks=%d",
		r.config.Sessions, r.config.Concurrency, r.config.ChunksPerSession))

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	for i := 0; i < r.config.Sessions; i++ {
		if ctx.Err() != nil {
			break
		}
		interviewID := r.config.InterviewIDs[i%len(r.config.InterviewIDs)]
		g.Go(func() error {
			if err := r.runSession(ctx, interviewID); err != nil {
				r.failed.Add(1)
				logger.LogWarning(logModule, "", fmt.Sprintf("会话失败 (interview=%s): %v", interviewID, err))
			}
			return nil
		})
	}
	g.Wait()

	result := r.buildResult(time.Since(start))
	logger.LogSuccess(logModule, "", fmt.Sprintf("✅ 负载测试完成: completed=%d failed=%d duration=%v",
		result.CompletedSessions, result.FailedSessions, result.Duration))
	return result, nil
}

func (r *Runner) runSession(ctx context.Context, interviewID string) error {
	t0 := time.Now()
	started, err := r.client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{
		InterviewID: interviewID,
		MeetingLink: r.config.MeetingLink,
	})
	r.observe(OpStart, t0, err)
	if err != nil {
		return err
	}

	for i := 0; i < r.config.ChunksPerSession; i++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		t0 = time.Now()
		res, err := r.client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{
			SessionID:  started.SessionID,
			Transcript: r.config.Transcripts[i%len(r.config.Transcripts)],
		})
		r.observe(OpIngest, t0, err)
		if err != nil {
			return err
		}
		if res.Analysis != nil && res.Analysis.Source == monitor.SourceFallback {
			r.fallback.Add(1)
		} else {
			r.remote.Add(1)
		}

		if r.config.ChunkInterval > 0 {
			select {
			case <-time.After(r.config.ChunkInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	t0 = time.Now()
	ended, err := r.client.EndMonitoring(ctx, started.SessionID)
	r.observe(OpEnd, t0, err)
	if err != nil {
		return err
	}

	if ended.Report != nil && ended.Report.OverallScore != nil {
		r.scoreMu.Lock()
		r.finalScores = append(r.finalScores, *ended.Report.OverallScore)
		r.scoreMu.Unlock()
	}
	r.completed.Add(1)
	return nil
}

func (r *Runner) observe(op string, start time.Time, err error) {
	if err != nil {
		code := "network"
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			code = fmt.Sprintf("%d", apiErr.StatusCode)
		}
		r.errorMu.Lock()
		r.errors[op+":"+code]++
		r.errorMu.Unlock()
		return
	}
	r.latencyMu.Lock()
	r.latencies[op] = append(r.latencies[op], time.Since(start))
	r.latencyMu.Unlock()
}

func (r *Runner) buildResult(duration time.Duration) *Result {
	result := &Result{
		Sessions:          int64(r.config.Sessions),
		CompletedSessions: r.completed.Load(),
		FailedSessions:    r.failed.Load(),
		RemoteChunks:      r.remote.Load(),
		FallbackChunks:    r.fallback.Load(),
		Duration:          duration,
		Latency:           make(map[string]*LatencyStats),
		ErrorsByCode:      make(map[string]int64),
	}
	if secs := duration.Seconds(); secs > 0 {
		result.ChunksPerSecond = float64(result.RemoteChunks+result.FallbackChunks) / secs
	}

	r.latencyMu.Lock()
	for op, lats := range r.latencies {
		result.Latency[op] = computeStats(lats)
	}
	r.latencyMu.Unlock()

	r.errorMu.Lock()
	for k, v := range r.errors {
		result.ErrorsByCode[k] = v
	}
	r.errorMu.Unlock()

	r.scoreMu.Lock()
	result.AvgFinalScore = monitor.RoundScore(monitor.Average(r.finalScores))
	r.scoreMu.Unlock()
	return result
}

// computeStats 排序后取百分位
func computeStats(in []time.Duration) *LatencyStats {
	if len(in) == 0 {
		return &LatencyStats{}
	}
	latencies := make([]time.Duration, len(in))
	copy(latencies, in)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	ms := func(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1e6 }
	idx := func(p float64) int {
		i := int(float64(len(latencies)) * p)
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}

	var total time.Duration
	for _, lat := range latencies {
		total += lat
	}
	return &LatencyStats{
		Count: len(latencies),
		Min:   ms(latencies[0]),
		Max:   ms(latencies[len(latencies)-1]),
		Avg:   float64(total.Nanoseconds()) / float64(len(latencies)) / 1e6,
		P50:   ms(latencies[idx(0.5)]),
		P95:   ms(latencies[idx(0.95)]),
		P99:   ms(latencies[idx(0.99)]),
	}
}
