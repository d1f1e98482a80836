package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "interview_monitor"
	subsystem = "session"
)

// Metrics 监控会话指标。所有方法对nil接收者安全。
type Metrics struct {
	Registry *prometheus.Registry

	// SessionsStarted 已创建的会话数
	SessionsStarted prometheus.Counter

	// SessionsCompleted 已完成的会话数，label: report_source (remote, fallback)
	SessionsCompleted *prometheus.CounterVec

	// ActiveSessions 当前处于MONITORING的会话数
	ActiveSessions prometheus.Gauge

	// ChunksProcessed 处理的分片数，label: source (remote, fallback)
	ChunksProcessed *prometheus.CounterVec

	// RemoteCallDuration 远程引擎调用耗时，label: op, outcome
	RemoteCallDuration *prometheus.HistogramVec

	// RemoteFailures 远程引擎失败次数，label: op
	RemoteFailures *prometheus.CounterVec

	// HTTPRequests HTTP请求数，label: route, code
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration HTTP请求耗时，label: route
	HTTPDuration *prometheus.HistogramVec

	// NotificationsDropped 队列满被丢弃的通知
	NotificationsDropped prometheus.Counter

	// LiveSubscribers 实时推送订阅数
	LiveSubscribers prometheus.Gauge
}

// New 在独立的registry上注册指标，避免重复注册
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "started_total",
			Help:      "Total monitoring sessions started",
		}),
		SessionsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "completed_total",
			Help:      "Total monitoring sessions completed by report source",
		}, []string{"report_source"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Monitoring sessions started and not yet completed by this process",
		}),
		ChunksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chunks_total",
			Help:      "Total chunks processed by analysis source",
		}, []string{"source"}),
		RemoteCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "call_duration_seconds",
			Help:      "Remote analysis engine call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op", "outcome"}),
		RemoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "failures_total",
			Help:      "Remote analysis engine failures absorbed by fallback",
		}, []string{"op"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the queue was full",
		}),
		LiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "subscribers",
			Help:      "Connected live feed subscribers",
		}),
	}
}

// ObserveRemoteCall 记录一次远程调用
func (m *Metrics) ObserveRemoteCall(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		m.RemoteFailures.WithLabelValues(op).Inc()
	}
	m.RemoteCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// SessionStarted 会话创建
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// SessionCompleted 会话完成
func (m *Metrics) SessionCompleted(source string) {
	if m == nil {
		return
	}
	m.SessionsCompleted.WithLabelValues(source).Inc()
	m.ActiveSessions.Dec()
}

// ChunkProcessed 分片处理完成
func (m *Metrics) ChunkProcessed(source string) {
	if m == nil {
		return
	}
	m.ChunksProcessed.WithLabelValues(source).Inc()
}

// ObserveHTTP 记录HTTP请求
func (m *Metrics) ObserveHTTP(route string, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// NotificationDropped 通知被丢弃
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDropped.Inc()
}

// SubscriberDelta 订阅数变化
func (m *Metrics) SubscriberDelta(delta float64) {
	if m == nil {
		return
	}
	m.LiveSubscribers.Add(delta)
}
