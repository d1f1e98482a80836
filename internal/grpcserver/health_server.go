// Package grpcserver gRPC健康检查服务，状态跟随存储可用性
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"InterviewMonitor/internal/logger"
)

const logModule = "GRPCHealth"

// ServiceName 监控服务在健康检查中的名称
const ServiceName = "interviewmonitor.v1.MonitorService"

// Checker 依赖健康检查
type Checker interface {
	Ping(ctx context.Context) error
}

// HealthServer gRPC健康服务器
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checker  Checker
	interval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New 创建健康服务器，interval为探测间隔
func New(checker Checker, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &HealthServer{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		checker:  checker,
		interval: interval,
		stopChan: make(chan struct{}),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	return s
}

// Probe 执行一次检查并更新服务状态
func (s *HealthServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.checker.Ping(pingCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.LogWarning(logModule, "", fmt.Sprintf("存储健康检查失败: %v", err))
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve 在lis上提供服务，阻塞直到Stop
func (s *HealthServer) Serve(lis net.Listener) error {
	s.Probe(context.Background())

	s.wg.Add(1)
	go s.probeLoop()

	logger.LogInfo(logModule, "", fmt.Sprintf("gRPC health server listening on %s", lis.Addr()))
	return s.server.Serve(lis)
}

func (s *HealthServer) probeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Probe(context.Background())
		}
	}
}

// Stop 优雅停止，ctx到期后强制停止
func (s *HealthServer) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.health.Shutdown()

		done := make(chan struct{})
		go func() {
			s.server.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.server.Stop()
		}
		s.wg.Wait()
	})
}
