// Package analysis 远程分析/报告引擎的HTTP客户端
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"InterviewMonitor/internal/monitor"
)

const maxResponseBytes = 4 << 20

// Config 客户端配置
type Config struct {
	BaseURL string
	// MaxRetries 瞬时失败（网络错误、5xx）的最大重试次数
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RateLimit 每秒请求数上限，0表示不限
	RateLimit float64
	RateBurst int
	UserAgent string
}

// DefaultConfig 默认配置
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:        baseURL,
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		RateBurst:      10,
		UserAgent:      "InterviewMonitor/1.0",
	}
}

// Client 实现 monitor.AnalysisClient
type Client struct {
	config  *Config
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient 创建客户端。超时由每次调用传入，http.Client不设全局超时。
func NewClient(config *Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		config: config,
		http:   &http.Client{Transport: transport},
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return c
}

// StartSession 通知引擎新会话
func (c *Client) StartSession(ctx context.Context, req monitor.StartSessionRequest, timeout time.Duration) error {
	body := StartSessionBody{
		SessionID:       req.SessionID,
		InterviewID:     req.InterviewID,
		JobRequirements: orEmpty(req.JobRequirements),
		CandidateName:   req.CandidateName,
	}
	_, err := c.call(ctx, "start_session", PathStartSession, body, timeout)
	return err
}

// Analyze 分析单个分片
func (c *Client) Analyze(ctx context.Context, req monitor.AnalyzeRequest, timeout time.Duration) (*monitor.AnalysisResult, error) {
	body := AnalyzeBody{
		SessionID:  req.SessionID,
		AudioData:  req.AudioData,
		Transcript: req.Transcript,
		Timestamp:  req.Timestamp,
	}
	data, err := c.call(ctx, "analyze", PathAnalyze, body, timeout)
	if err != nil {
		return nil, err
	}

	result, ok, msg, err := decodeAnalyze(data)
	if err != nil {
		return nil, &monitor.RemoteServiceError{Op: "analyze", Err: fmt.Errorf("decode response: %w", err)}
	}
	if !ok {
		if msg == "" {
			msg = "engine reported success=false"
		}
		return nil, &monitor.RemoteServiceError{Op: "analyze", Err: errors.New(msg)}
	}
	return result.ToResult(req.Transcript), nil
}

// GenerateReport 生成最终报告
func (c *Client) GenerateReport(ctx context.Context, req monitor.ReportRequest, timeout time.Duration) (*monitor.Report, error) {
	data, err := c.call(ctx, "generate_report", PathGenerateReport, NewReportBody(req), timeout)
	if err != nil {
		return nil, err
	}

	var wire WireReport
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &monitor.RemoteServiceError{Op: "generate_report", Err: fmt.Errorf("decode response: %w", err)}
	}
	if wire.Success != nil && !*wire.Success {
		msg := wire.Error
		if msg == "" {
			msg = "engine reported success=false"
		}
		return nil, &monitor.RemoteServiceError{Op: "generate_report", Err: errors.New(msg)}
	}
	return wire.ToReport(), nil
}

// call POST JSON。timeout约束整个调用，包括限流等待和重试。
func (c *Client) call(ctx context.Context, op, path string, payload interface{}, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &monitor.RemoteServiceError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &monitor.RemoteServiceError{Op: op, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + path

	var (
		data       []byte
		lastStatus int
	)
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		lastStatus = resp.StatusCode
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error: %s", truncate(raw))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("unexpected response: %s", truncate(raw)))
		}
		data = raw
		return nil
	}

	err = backoff.Retry(attempt, c.retryPolicy(ctx))
	if err != nil {
		status := 0
		if lastStatus < 200 || lastStatus >= 300 {
			status = lastStatus
		}
		return nil, &monitor.RemoteServiceError{Op: op, StatusCode: status, Err: err}
	}
	return data, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if c.config.InitialBackoff > 0 {
		exp.InitialInterval = c.config.InitialBackoff
	}
	if c.config.MaxBackoff > 0 {
		exp.MaxInterval = c.config.MaxBackoff
	}
	// 总时长由ctx截止时间控制
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = exp
	if c.config.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(c.config.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

func truncate(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
