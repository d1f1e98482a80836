package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/monitor"
)

func TestDispatcherDelivers(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	d := NewDispatcher(Config{QueueSize: 10, Workers: 2}, SenderFunc(func(_ context.Context, n monitor.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, n.SessionID)
		return nil
	}))
	d.Start(context.Background())

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		assert.True(t, d.Enqueue(monitor.Notification{Kind: "TEST", SessionID: id}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.ElementsMatch(t, []string{"s-1", "s-2", "s-3"}, received)
	assert.Equal(t, int64(3), d.Stats()["sent"])
	assert.False(t, d.Enqueue(monitor.Notification{}), "enqueue after stop drops")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(Config{QueueSize: 1, Workers: 1}, SenderFunc(func(ctx context.Context, _ monitor.Notification) error {
		<-block
		return nil
	}))
	d.Start(context.Background())

	// 第一条被worker取走后阻塞，第二条占满队列
	require.True(t, d.Enqueue(monitor.Notification{SessionID: "a"}))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, d.Enqueue(monitor.Notification{SessionID: "b"}))

	start := time.Now()
	assert.False(t, d.Enqueue(monitor.Notification{SessionID: "c"}))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(1), d.Stats()["dropped"])

	close(block)
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcherCountsFailures(t *testing.T) {
	d := NewDispatcher(Config{QueueSize: 4, Workers: 1}, SenderFunc(func(context.Context, monitor.Notification) error {
		return errors.New("smtp down")
	}))
	d.Start(context.Background())
	d.Enqueue(monitor.Notification{SessionID: "s"})
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, int64(1), d.Stats()["failed"])
}

func TestWebhookSenderRetries(t *testing.T) {
	var calls atomic.Int32
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	err := s.Send(context.Background(), monitor.Notification{
		Kind:        monitor.NotificationMonitoringCompleted,
		SessionID:   "s-1",
		InterviewID: "iv-1",
		Subject:     "done",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, monitor.NotificationMonitoringCompleted, got.Kind)
}

func TestWebhookSenderClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL).Send(context.Background(), monitor.Notification{SessionID: "s"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
