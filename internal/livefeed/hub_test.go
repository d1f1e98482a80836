package livefeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewMonitor/internal/metrics"
	"InterviewMonitor/internal/monitor"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session")
		hub.Serve(w, r, id, &monitor.LiveStatus{SessionID: id, Status: monitor.StatusMonitoring, Trend: monitor.TrendStable})
	}))
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?session=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) monitor.LiveStatus {
	t.Helper()
	var status monitor.LiveStatus
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&status))
	return status
}

func TestHubPublishesToSessionSubscribers(t *testing.T) {
	hub := NewHub(DefaultConfig(), metrics.New())
	srv := newHubServer(t, hub)

	a := dial(t, srv, "s-1")
	b := dial(t, srv, "s-2")

	assert.Equal(t, "s-1", readStatus(t, a).SessionID)
	assert.Equal(t, "s-2", readStatus(t, b).SessionID)
	require.Eventually(t, func() bool {
		return hub.Subscribers("s-1") == 1 && hub.Subscribers("s-2") == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish(&monitor.LiveStatus{SessionID: "s-1", CurrentScore: 80, AverageScore: 75, TranscriptLength: 2, Status: monitor.StatusMonitoring})

	got := readStatus(t, a)
	assert.Equal(t, 80.0, got.CurrentScore)
	assert.Equal(t, 2, got.TranscriptLength)

	// s-2 不应收到 s-1 的更新
	b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var none monitor.LiveStatus
	assert.Error(t, b.ReadJSON(&none))
}

func TestHubRemovesClosedSubscribers(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	srv := newHubServer(t, hub)

	conn := dial(t, srv, "s-1")
	readStatus(t, conn)
	require.Eventually(t, func() bool { return hub.Subscribers("s-1") == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("s-1") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), hub.GetStats()["subscribers"])
}

func TestHubPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(&monitor.LiveStatus{SessionID: "nobody"})
		}
		hub.Publish(nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}

func TestHubRejectsOverCapacity(t *testing.T) {
	hub := NewHub(Config{MaxSubscribers: 1}, nil)
	srv := newHubServer(t, hub)

	conn := dial(t, srv, "s-1")
	readStatus(t, conn)
	require.Eventually(t, func() bool { return hub.Subscribers("s-1") == 1 }, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?session=s-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
