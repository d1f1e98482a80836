// Package wsclient 订阅会话实时状态的WebSocket客户端，断线后指数退避重连
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/monitor"
)

const logModule = "LiveClient"

// ClientState 客户端连接状态
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StatusHandler 实时状态处理器
type StatusHandler func(status *monitor.LiveStatus)

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// ClientConfig 客户端配置
type ClientConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
	// CloseOnCompleted 收到COMPLETED状态后自动关闭
	CloseOnCompleted bool
	UserAgent        string
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(url string) *ClientConfig {
	return &ClientConfig{
		URL:               url,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       90 * time.Second,
		ReconnectInterval: 500 * time.Millisecond,
		MaxReconnectTries: 10,
		CloseOnCompleted:  true,
		UserAgent:         "InterviewMonitor-LiveClient/1.0",
	}
}

// Client 实时状态订阅客户端
type Client struct {
	config *ClientConfig
	dialer *websocket.Dialer
	state  atomic.Int32

	onStatus      StatusHandler
	onStateChange StateChangeHandler

	mu     sync.RWMutex
	conn   *websocket.Conn
	latest *monitor.LiveStatus

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// 已见到的最大转录长度，用于丢弃乱序消息
	lastLength atomic.Int64
	received   atomic.Int64
	reconnects atomic.Int32
}

// New 创建新的客户端
func New(config *ClientConfig) *Client {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		config: config,
		dialer: &dialer,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	client.lastLength.Store(-1)
	client.setState(StateDisconnected)
	return client
}

// SetStatusHandler 设置状态处理器，需在Connect前调用
func (c *Client) SetStatusHandler(handler StatusHandler) {
	c.onStatus = handler
}

// SetStateChangeHandler 设置连接状态变化处理器，需在Connect前调用
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.onStateChange = handler
}

// Connect 连接到服务器并启动读取循环
func (c *Client) Connect(ctx context.Context) error {
	if !c.compareAndSwapState(StateDisconnected, StateConnecting) {
		return errors.New("client is not in disconnected state")
	}

	if err := c.doConnect(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateConnected)
	go c.run()
	return nil
}

// doConnect 执行实际的连接逻辑
func (c *Client) doConnect(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{c.config.UserAgent},
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// run 读取直到连接断开，然后重连；重连失败或关闭时退出
func (c *Client) run() {
	defer close(c.done)

	for {
		err := c.readLoop()
		if c.getState() == StateClosed || c.ctx.Err() != nil {
			return
		}
		logger.LogWarning(logModule, "", fmt.Sprintf("实时连接断开: %v", err))

		c.setState(StateReconnecting)
		if err := c.reconnect(); err != nil {
			logger.LogError(logModule, "", fmt.Sprintf("重连失败: %v", err))
			if c.getState() != StateClosed {
				c.setState(StateDisconnected)
			}
			return
		}
		if !c.compareAndSwapState(StateReconnecting, StateConnected) {
			return
		}
		c.reconnects.Add(1)
		logger.LogSuccess(logModule, "", "✅ 实时连接已恢复")
	}
}

func (c *Client) readLoop() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("connection is nil")
	}

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		var status monitor.LiveStatus
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		c.handleStatus(&status)

		if c.config.CloseOnCompleted && status.Status == monitor.StatusCompleted {
			c.Close()
			return nil
		}
	}
}

// handleStatus 丢弃转录长度回退的乱序消息
func (c *Client) handleStatus(status *monitor.LiveStatus) {
	length := int64(status.TranscriptLength)
	for {
		last := c.lastLength.Load()
		if length < last {
			return
		}
		if c.lastLength.CompareAndSwap(last, length) {
			break
		}
	}

	c.received.Add(1)
	c.mu.Lock()
	c.latest = status
	c.mu.Unlock()

	if c.onStatus != nil {
		c.onStatus(status)
	}
}

// reconnect 指数退避重连
func (c *Client) reconnect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.config.ReconnectInterval
	backOff.MaxInterval = 10 * c.config.ReconnectInterval
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backOff, uint64(c.config.MaxReconnectTries)), c.ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		logger.LogInfo(logModule, "", fmt.Sprintf("Reconnecting... (attempt %d/%d)", attempt, c.config.MaxReconnectTries+1))
		return c.doConnect(c.ctx)
	}, policy)
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	old := ClientState(c.state.Swap(int32(StateClosed)))
	if old == StateClosed {
		return nil
	}
	if c.onStateChange != nil {
		c.onStateChange(old, StateClosed)
	}
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// Done 读取循环退出时关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Latest 最近一次收到的状态
func (c *Client) Latest() *monitor.LiveStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// State 当前连接状态
func (c *Client) State() ClientState {
	return c.getState()
}

// Reconnects 成功重连次数
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(newState ClientState) {
	oldState := ClientState(c.state.Swap(int32(newState)))
	if oldState != newState && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
}

func (c *Client) compareAndSwapState(oldState, newState ClientState) bool {
	swapped := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
	return swapped
}

// GetStats 获取客户端统计信息
func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"state":      c.getState().String(),
		"received":   c.received.Load(),
		"reconnects": c.reconnects.Load(),
	}
}
