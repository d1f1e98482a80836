// Package livefeed 按会话推送实时状态的WebSocket集线器
package livefeed

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/metrics"
	"InterviewMonitor/internal/monitor"
)

const logModule = "LiveFeed"

// Config 集线器配置
type Config struct {
	MaxSubscribers int
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxSubscribers: 1000,
		SendBuffer:     16,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// subscriber 单个订阅连接
type subscriber struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan *monitor.LiveStatus
	stopChan  chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) safeClose() {
	s.closeOnce.Do(func() { close(s.stopChan) })
}

// Hub 实现 monitor.LivePublisher。Publish非阻塞，慢订阅者被丢弃更新。
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]map[string]*subscriber

	count     atomic.Int32
	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	wg        sync.WaitGroup
}

// NewHub 创建集线器
func NewHub(config Config, m *metrics.Metrics) *Hub {
	d := DefaultConfig()
	if config.MaxSubscribers <= 0 {
		config.MaxSubscribers = d.MaxSubscribers
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = d.SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = d.PingInterval
	}
	return &Hub{
		config:  config,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源，鉴权在路由层完成
			},
		},
		sessions: make(map[string]map[string]*subscriber),
	}
}

// Publish 推送给该会话的所有订阅者
func (h *Hub) Publish(status *monitor.LiveStatus) {
	if status == nil {
		return
	}
	h.mu.RLock()
	subs := h.sessions[status.SessionID]
	for _, sub := range subs {
		select {
		case sub.send <- status:
			h.published.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.RUnlock()
}

// Serve 升级连接并订阅会话，initial作为第一条消息发送。阻塞直到连接关闭。
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial *monitor.LiveStatus) {
	if h.count.Load() >= int32(h.config.MaxSubscribers) {
		http.Error(w, "Too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.LogWarning(logModule, sessionID, fmt.Sprintf("WebSocket升级失败: %v", err))
		return
	}

	sub := &subscriber{
		id:        fmt.Sprintf("sub_%d_%d", time.Now().UnixNano(), h.seq.Add(1)),
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan *monitor.LiveStatus, h.config.SendBuffer),
		stopChan:  make(chan struct{}),
	}
	if initial != nil {
		sub.send <- initial
	}
	h.add(sub)

	h.wg.Add(1)
	go h.writeLoop(sub)
	h.readLoop(sub)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	subs, ok := h.sessions[sub.sessionID]
	if !ok {
		subs = make(map[string]*subscriber)
		h.sessions[sub.sessionID] = subs
	}
	subs[sub.id] = sub
	h.mu.Unlock()

	h.count.Add(1)
	h.metrics.SubscriberDelta(1)
	logger.LogInfo(logModule, sub.sessionID, fmt.Sprintf("实时订阅已建立: %s", sub.id))
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	subs := h.sessions[sub.sessionID]
	_, ok := subs[sub.id]
	if ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.sessions, sub.sessionID)
		}
	}
	h.mu.Unlock()

	if ok {
		h.count.Add(-1)
		h.metrics.SubscriberDelta(-1)
	}
	sub.safeClose()
}

// readLoop 只用于检测断开和处理控制帧
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)

	sub.conn.SetReadLimit(4 * 1024)
	sub.conn.SetReadDeadline(time.Now().Add(2 * h.config.PingInterval))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(2 * h.config.PingInterval))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.LogWarning(logModule, sub.sessionID, fmt.Sprintf("订阅连接读取错误: %v", err))
			}
			return
		}
	}
}

// writeLoop 串行写入，写失败即关闭连接
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case <-sub.stopChan:
			sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			return
		case status := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := sub.conn.WriteJSON(status); err != nil {
				logger.LogWarning(logModule, sub.sessionID, fmt.Sprintf("推送失败，关闭订阅 %s: %v", sub.id, err))
				sub.safeClose()
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				sub.safeClose()
				return
			}
		}
	}
}

// CloseAll 关闭所有订阅并等待写协程退出
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*subscriber
	for _, subs := range h.sessions {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		sub.safeClose()
	}
	h.wg.Wait()
}

// Subscribers 某会话的订阅数
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// GetStats 统计信息
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	sessions := len(h.sessions)
	h.mu.RUnlock()
	return map[string]interface{}{
		"subscribers": h.count.Load(),
		"sessions":    sessions,
		"published":   h.published.Load(),
		"dropped":     h.dropped.Load(),
	}
}
