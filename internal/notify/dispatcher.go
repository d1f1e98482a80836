// Package notify 尽力而为的通知投递队列
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/monitor"
)

const logModule = "Notifier"

// Sender 实际投递通知
type Sender interface {
	Send(ctx context.Context, n monitor.Notification) error
}

// SenderFunc 函数适配器
type SenderFunc func(ctx context.Context, n monitor.Notification) error

// Send 调用函数本身
func (f SenderFunc) Send(ctx context.Context, n monitor.Notification) error { return f(ctx, n) }

// Config 队列配置
type Config struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{QueueSize: 256, Workers: 2, SendTimeout: 10 * time.Second}
}

// Dispatcher 固定数量worker消费的有界队列。Enqueue从不阻塞，队列满时丢弃。
type Dispatcher struct {
	config Config
	sender Sender
	queue  chan monitor.Notification

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started atomic.Bool
	closed  atomic.Bool
	mu      sync.RWMutex

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewDispatcher 创建通知队列
func NewDispatcher(config Config, sender Sender) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultConfig().SendTimeout
	}
	return &Dispatcher{
		config: config,
		sender: sender,
		queue:  make(chan monitor.Notification, config.QueueSize),
	}
}

// Start 启动worker
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	logger.LogInfo(logModule, "", fmt.Sprintf("通知队列已启动，workers=%d", d.config.Workers))
}

// Enqueue 非阻塞入队，返回false表示被丢弃
func (d *Dispatcher) Enqueue(n monitor.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Stop 关闭队列并等待已入队的通知投递完成或ctx到期
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed.CompareAndSwap(false, true) {
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if d.cancel != nil {
			d.cancel()
		}
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for n := range d.queue {
		sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
		err := d.sender.Send(sendCtx, n)
		cancel()
		if err != nil {
			d.failed.Add(1)
			logger.LogWarning(logModule, n.SessionID, fmt.Sprintf("通知投递失败 (%s): %v", n.Kind, err))
			continue
		}
		d.sent.Add(1)
	}
}

// Stats 投递统计
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    d.sent.Load(),
		"failed":  d.failed.Load(),
		"dropped": d.dropped.Load(),
		"queued":  int64(len(d.queue)),
	}
}

// LogSender 仅写日志，未配置webhook时使用
type LogSender struct{}

// Send 记录通知
func (LogSender) Send(_ context.Context, n monitor.Notification) error {
	logger.LogInfo(logModule, n.SessionID, fmt.Sprintf("📨 [%s] to=%s %s: %s", n.Kind, n.Recipient, n.Subject, n.Body))
	return nil
}

// WebhookSender POST JSON到webhook，瞬时失败按指数退避重试
type WebhookSender struct {
	URL        string
	Client     *http.Client
	MaxRetries uint64
}

// webhookPayload webhook请求体
type webhookPayload struct {
	Kind        string    `json:"kind"`
	SessionID   string    `json:"sessionId"`
	InterviewID string    `json:"interviewId"`
	Recipient   string    `json:"recipient,omitempty"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sentAt"`
}

// NewWebhookSender 创建webhook发送器
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{}, MaxRetries: 3}
}

// Send 投递
func (s *WebhookSender) Send(ctx context.Context, n monitor.Notification) error {
	body, err := json.Marshal(webhookPayload{
		Kind:        n.Kind,
		SessionID:   n.SessionID,
		InterviewID: n.InterviewID,
		Recipient:   n.Recipient,
		Subject:     n.Subject,
		Body:        n.Body,
		SentAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.MaxRetries), ctx)
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.Client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		return nil
	}, policy)
}
