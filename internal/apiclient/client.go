// Package apiclient 实时面试监控HTTP API的Go客户端
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"InterviewMonitor/internal/monitor"
)

// Config 客户端配置
type Config struct {
	BaseURL string
	Token   string
	UserID  string
	Role    string
	Timeout time.Duration

	MaxIdleConns    int
	MaxConnsPerHost int
}

// Client API客户端，可并发使用
type Client struct {
	config Config
	http   *http.Client
}

// APIError 服务端返回的失败响应
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	Code      string          `json:"code"`
	Timestamp int64           `json:"timestamp"`
}

// New 创建客户端
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxConnsPerHost <= 0 {
		config.MaxConnsPerHost = 100
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// StartMonitoringRequest 开始监控
type StartMonitoringRequest struct {
	InterviewID     string   `json:"interviewId"`
	MeetingLink     string   `json:"meetingLink"`
	MeetingPlatform string   `json:"meetingPlatform,omitempty"`
	JobRequirements []string `json:"jobRequirements,omitempty"`
	CandidateName   string   `json:"candidateName,omitempty"`
}

// StartMonitoringResponse 开始监控响应
type StartMonitoringResponse struct {
	SessionID       string         `json:"sessionId"`
	Status          monitor.Status `json:"status"`
	MeetingLink     string         `json:"meetingLink"`
	MeetingPlatform string         `json:"meetingPlatform"`
}

// ProcessAudioRequest 上传分片
type ProcessAudioRequest struct {
	SessionID  string   `json:"sessionId"`
	AudioData  string   `json:"audioData,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	Timestamp  *float64 `json:"timestamp,omitempty"`
}

// StartMonitoring POST /start-monitoring
func (c *Client) StartMonitoring(ctx context.Context, req StartMonitoringRequest) (*StartMonitoringResponse, error) {
	var out StartMonitoringResponse
	if err := c.do(ctx, http.MethodPost, "/api/realtime-interview/start-monitoring", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessAudio POST /process-audio
func (c *Client) ProcessAudio(ctx context.Context, req ProcessAudioRequest) (*monitor.IngestResult, error) {
	var out monitor.IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/realtime-interview/process-audio", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndMonitoring POST /end-monitoring
func (c *Client) EndMonitoring(ctx context.Context, sessionID string) (*monitor.EndResult, error) {
	var out monitor.EndResult
	body := map[string]string{"sessionId": sessionID}
	if err := c.do(ctx, http.MethodPost, "/api/realtime-interview/end-monitoring", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session GET /session/{id}
func (c *Client) Session(ctx context.Context, sessionID string) (*monitor.SessionView, error) {
	out := &monitor.SessionView{Session: &monitor.Session{}}
	if err := c.do(ctx, http.MethodGet, "/api/realtime-interview/session/"+url.PathEscape(sessionID), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Live GET /session/{id}/live
func (c *Client) Live(ctx context.Context, sessionID string) (*monitor.LiveStatus, error) {
	var out monitor.LiveStatus
	if err := c.do(ctx, http.MethodGet, "/api/realtime-interview/session/"+url.PathEscape(sessionID)+"/live", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health GET /api/v1/health，返回原始data
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LiveStreamURL 会话实时推送的WebSocket地址，身份放在查询参数中
func (c *Client) LiveStreamURL(sessionID string) string {
	base := c.config.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	q.Set("access_token", c.config.Token)
	q.Set("user_id", c.config.UserID)
	q.Set("role", c.config.Role)
	return fmt.Sprintf("%s/api/realtime-interview/session/%s/ws?%s", base, url.PathEscape(sessionID), q.Encode())
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if c.config.UserID != "" {
		req.Header.Set("X-User-ID", c.config.UserID)
	}
	if c.config.Role != "" {
		req.Header.Set("X-User-Role", c.config.Role)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "invalid_response", Message: err.Error()}
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
