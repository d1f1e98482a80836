package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"InterviewMonitor/internal/apiclient"
	"InterviewMonitor/internal/app"
	"InterviewMonitor/internal/config"
	"InterviewMonitor/internal/engine"
	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/store"
	"InterviewMonitor/internal/wsclient"
)

func main() {
	var (
		mode       = flag.String("mode", "server", "运行模式: server, demo")
		configPath = flag.String("config", "", "配置文件路径，默认在 ./configs 中查找 monitor-config.yaml")
		seedDemo   = flag.Bool("seed-demo", false, "启动时写入演示面试 demo-interview")
	)
	flag.Parse()

	switch *mode {
	case "server":
		runServer(*configPath, *seedDemo)
	case "demo":
		runDemo()
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runServer 按配置启动监控服务，支持配置热更新
func runServer(configPath string, seedDemo bool) {
	cm := config.NewConfigManager(
		config.WithConfigPath(configPath),
		config.WithWatchEnabled(true),
	)
	cfg, err := cm.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}

	logger.InitLogger(cfg.Logging.Prefix)
	var stream *logger.StreamLogger
	if cfg.Logging.Stream {
		stream = logger.InitGlobalLogger()
		defer stream.Stop()
	}

	fmt.Println("🎙️  实时面试监控服务")
	fmt.Println("==========================================")
	if used := cm.ConfigFileUsed(); used != "" {
		fmt.Printf("📄 配置文件: %s\n", used)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.WithLogStream(stream))
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}

	if seedDemo {
		if w, ok := a.Backend().(store.InterviewWriter); ok {
			if err := app.SeedDemo(ctx, w); err != nil {
				log.Printf("⚠️ 预置演示面试失败: %v", err)
			}
		}
	}

	cm.OnChange(a.ApplyConfig)
	errCh := a.Start()

	fmt.Printf("🚀 HTTP API: http://%s/api/realtime-interview\n", cfg.Server.Addr())
	fmt.Printf("📊 状态: http://%s/api/v1/status\n", cfg.Server.Addr())
	fmt.Printf("📈 指标: http://%s/metrics\n", cfg.Server.Addr())
	if addr := cfg.Server.GRPCAddr(); addr != "" {
		fmt.Printf("💓 gRPC健康检查: %s\n", addr)
	}
	fmt.Printf("💾 存储: %s\n", a.StoreKind())
	fmt.Printf("🧠 分析引擎: %s\n", cfg.Analysis.BaseURL)
	fmt.Println()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.LogError("system", "", fmt.Sprintf("服务异常退出: %v", err))
	}

	fmt.Println("\n🔄 正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ 服务器关闭错误: %v", err)
	}
	fmt.Println("✅ 服务器已关闭")
}

// runDemo 在本进程内启动引擎和服务，跑一遍完整的监控会话
func runDemo() {
	logger.InitLogger("demo")
	fmt.Println("🎙️  实时面试监控 - 演示模式")
	fmt.Println("==========================================")
	fmt.Println()

	ctx := context.Background()

	eng := engine.NewServer()
	engineURL, stopEngine := serveLocal(eng.Router())
	defer stopEngine()

	cfg, err := config.Default()
	if err != nil {
		log.Fatalf("❌ 默认配置无效: %v", err)
	}
	cfg.Analysis.BaseURL = engineURL
	cfg.Analysis.MaxRetries = 0

	backend := store.NewMemoryBackend(app.DemoInterviews()...)
	a, err := app.New(ctx, cfg, app.WithBackend(backend, store.KindMemory))
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}
	apiURL, stopAPI := serveLocal(a.Handler())
	defer func() {
		stopAPI()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(shutdownCtx)
	}()

	client := apiclient.New(apiclient.Config{
		BaseURL: apiURL,
		Token:   "demo-token",
		UserID:  "demo-user",
		Role:    "HR",
	})

	started, err := client.StartMonitoring(ctx, apiclient.StartMonitoringRequest{
		InterviewID: app.DemoInterviewID,
		MeetingLink: "https://zoom.us/j/123456789",
	})
	if err != nil {
		log.Fatalf("❌ 开始监控失败: %v", err)
	}
	fmt.Printf("✅ 会话已开始: %s (%s)\n", started.SessionID, started.MeetingPlatform)

	sub := wsclient.New(wsclient.DefaultClientConfig(client.LiveStreamURL(started.SessionID)))
	sub.SetStatusHandler(func(s *monitor.LiveStatus) {
		fmt.Printf("   📡 实时推送: 片段=%d 当前=%.2f 平均=%.2f 趋势=%s\n",
			s.TranscriptLength, s.CurrentScore, s.AverageScore, s.Trend)
	})
	if err := sub.Connect(ctx); err != nil {
		log.Printf("⚠️ 实时订阅失败: %v", err)
	}
	defer sub.Close()

	chunks := []string{
		"I have five years of experience building Go services",
		"We moved our PostgreSQL cluster to Kubernetes",
		"The migration was difficult and we had a bad outage",
		"In the end the team delivered a great result",
	}
	for i, text := range chunks {
		// 第三段模拟引擎故障，走降级分析
		eng.SetFailAnalyze(i == 2)
		res, err := client.ProcessAudio(ctx, apiclient.ProcessAudioRequest{
			SessionID:  started.SessionID,
			Transcript: text,
		})
		if err != nil {
			log.Fatalf("❌ 上传片段失败: %v", err)
		}
		fmt.Printf("🗣️  %q\n   分数=%.2f 平均=%.2f 趋势=%s 来源=%s\n",
			text, res.CurrentScore, res.AverageScore, res.Trend, res.Analysis.Source)
		time.Sleep(100 * time.Millisecond)
	}
	eng.SetFailAnalyze(false)

	ended, err := client.EndMonitoring(ctx, started.SessionID)
	if err != nil {
		log.Fatalf("❌ 结束监控失败: %v", err)
	}

	fmt.Println()
	fmt.Println("📋 最终报告")
	if r := ended.Report; r != nil {
		if r.OverallScore != nil {
			fmt.Printf("   总分: %.2f\n", *r.OverallScore)
		}
		fmt.Printf("   来源: %s\n", r.Source)
		fmt.Printf("   技术技能: %v\n", r.TechnicalSkillsMentioned)
		fmt.Printf("   优势: %v\n", r.Strengths)
		fmt.Printf("   建议: %v\n", r.Recommendations)
	}
	fmt.Printf("   转录记录: %s\n", ended.TranscriptID)
	fmt.Println()
	fmt.Println("✅ 演示完成!")
}

// serveLocal 在随机本地端口上提供服务，返回基础URL和关闭函数
func serveLocal(h http.Handler) (string, func()) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("❌ 监听失败: %v", err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ 本地服务错误: %v", err)
		}
	}()
	return "http://" + lis.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
