package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/wsclient"
)

// LiveSubscriber 收集实时状态的测试订阅者
type LiveSubscriber struct {
	*wsclient.Client
	t *testing.T

	mu           sync.RWMutex
	statuses     []monitor.LiveStatus
	stateChanges []StateChange
}

// StateChange 连接状态变化
type StateChange struct {
	OldState  wsclient.ClientState
	NewState  wsclient.ClientState
	Timestamp time.Time
}

// NewLiveSubscriber 连接到会话的实时推送
func NewLiveSubscriber(t *testing.T, url string) *LiveSubscriber {
	t.Helper()
	cfg := wsclient.DefaultClientConfig(url)
	cfg.ReconnectInterval = 20 * time.Millisecond
	cfg.MaxReconnectTries = 3

	ls := &LiveSubscriber{Client: wsclient.New(cfg), t: t}
	ls.Client.SetStatusHandler(func(s *monitor.LiveStatus) {
		ls.mu.Lock()
		ls.statuses = append(ls.statuses, *s)
		ls.mu.Unlock()
		t.Logf("📥 live status: len=%d current=%.2f status=%s", s.TranscriptLength, s.CurrentScore, s.Status)
	})
	ls.Client.SetStateChangeHandler(func(oldState, newState wsclient.ClientState) {
		ls.mu.Lock()
		ls.stateChanges = append(ls.stateChanges, StateChange{OldState: oldState, NewState: newState, Timestamp: time.Now()})
		ls.mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ls.Client.Connect(ctx), "Failed to connect live subscriber")
	t.Cleanup(func() { ls.Client.Close() })
	return ls
}

// Statuses 已收到的状态
func (ls *LiveSubscriber) Statuses() []monitor.LiveStatus {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return append([]monitor.LiveStatus(nil), ls.statuses...)
}

// StateChanges 连接状态变化记录
func (ls *LiveSubscriber) StateChanges() []StateChange {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return append([]StateChange(nil), ls.stateChanges...)
}

// WaitFor 等待满足条件的状态出现
func (ls *LiveSubscriber) WaitFor(cond func(monitor.LiveStatus) bool) monitor.LiveStatus {
	ls.t.Helper()
	var found monitor.LiveStatus
	require.Eventually(ls.t, func() bool {
		for _, s := range ls.Statuses() {
			if cond(s) {
				found = s
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "expected live status not received")
	return found
}
