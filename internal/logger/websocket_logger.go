package logger

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 日志级别
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
	LevelSuccess = "SUCCESS"
)

const (
	broadcastBuffer = 256
	writeTimeout    = time.Second
)

// LogMessage 日志消息结构
type LogMessage struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Module    string    `json:"module"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamLogger 控制台日志 + WebSocket日志流广播
type StreamLogger struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan LogMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	closeOnce  sync.Once
}

// NewStreamLogger 创建日志器，需要调用Run开始广播
func NewStreamLogger() *StreamLogger {
	return &StreamLogger{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan LogMessage, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run 广播循环，Stop后退出
func (sl *StreamLogger) Run() {
	for {
		select {
		case <-sl.done:
			sl.mu.Lock()
			for client := range sl.clients {
				client.Close()
				delete(sl.clients, client)
			}
			sl.mu.Unlock()
			return

		case client := <-sl.register:
			sl.mu.Lock()
			sl.clients[client] = true
			count := len(sl.clients)
			sl.mu.Unlock()
			log.Printf("日志流客户端已连接，当前连接数: %d", count)

		case client := <-sl.unregister:
			sl.mu.Lock()
			if _, ok := sl.clients[client]; ok {
				delete(sl.clients, client)
				client.Close()
			}
			count := len(sl.clients)
			sl.mu.Unlock()
			log.Printf("日志流客户端已断开，当前连接数: %d", count)

		case message := <-sl.broadcast:
			sl.fanOut(message)
		}
	}
}

// fanOut 写入所有客户端，写失败的连接直接移除
func (sl *StreamLogger) fanOut(message LogMessage) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for client := range sl.clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteJSON(message); err != nil {
			delete(sl.clients, client)
			client.Close()
		}
	}
}

// Stop 停止广播循环并关闭所有连接
func (sl *StreamLogger) Stop() {
	sl.closeOnce.Do(func() { close(sl.done) })
}

// ClientCount 当前日志流连接数
func (sl *StreamLogger) ClientCount() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return len(sl.clients)
}

// Emit 输出到控制台并尝试广播。通道满时丢弃广播，不阻塞调用方。
func (sl *StreamLogger) Emit(level, module, sessionID, message string) {
	msg := LogMessage{
		Level:     level,
		Message:   message,
		Module:    module,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}

	if sessionID != "" {
		log.Output(3, fmt.Sprintf("[%s] [Session-%s] %s: %s", level, sessionID, module, message))
	} else {
		log.Output(3, fmt.Sprintf("[%s] %s: %s", level, module, message))
	}

	select {
	case sl.broadcast <- msg:
	default:
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// HandleWebSocket 处理 /ws/logs 连接
func (sl *StreamLogger) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("日志流WebSocket升级失败: %v", err)
		return
	}

	welcome := LogMessage{
		Level:     LevelInfo,
		Message:   "已连接到面试监控服务日志流",
		Module:    "LogStream",
		Timestamp: time.Now(),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(welcome); err != nil {
		conn.Close()
		return
	}

	select {
	case sl.register <- conn:
	case <-sl.done:
		conn.Close()
		return
	}

	defer func() {
		select {
		case sl.unregister <- conn:
		case <-sl.done:
		}
	}()

	// 只读以检测断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("日志流连接错误: %v", err)
			}
			return
		}
	}
}

// GlobalLogger 全局日志器实例
var (
	GlobalLogger *StreamLogger
	globalMu     sync.RWMutex
)

// InitGlobalLogger 初始化全局日志器
func InitGlobalLogger() *StreamLogger {
	sl := NewStreamLogger()
	go sl.Run()

	globalMu.Lock()
	GlobalLogger = sl
	globalMu.Unlock()
	return sl
}

func emit(level, module, sessionID, message string) {
	globalMu.RLock()
	sl := GlobalLogger
	globalMu.RUnlock()

	if sl == nil {
		if sessionID != "" {
			log.Output(3, fmt.Sprintf("[%s] [Session-%s] %s: %s", level, sessionID, module, message))
		} else {
			log.Output(3, fmt.Sprintf("[%s] %s: %s", level, module, message))
		}
		return
	}
	sl.Emit(level, module, sessionID, message)
}

// LogInfo 信息日志，sessionID可为空
func LogInfo(module, sessionID, message string) {
	emit(LevelInfo, module, sessionID, message)
}

// LogWarning 警告日志
func LogWarning(module, sessionID, message string) {
	emit(LevelWarning, module, sessionID, message)
}

// LogError 错误日志
func LogError(module, sessionID, message string) {
	emit(LevelError, module, sessionID, message)
}

// LogSuccess 成功日志
func LogSuccess(module, sessionID, message string) {
	emit(LevelSuccess, module, sessionID, message)
}
