package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"InterviewMonitor/internal/config"
	"InterviewMonitor/internal/engine"
	"InterviewMonitor/internal/logger"
)

var (
	addr        = flag.String("addr", "", "监听地址，默认取配置 engine.addr")
	configPath  = flag.String("config", "", "配置文件路径")
	delay       = flag.Duration("delay", 0, "每个请求的人为延迟")
	failAnalyze = flag.Bool("fail-analyze", false, "analyze返回500")
	failReport  = flag.Bool("fail-report", false, "generate-report返回500")
)

func main() {
	flag.Parse()
	logger.InitLogger("engine")

	listen := *addr
	if listen == "" {
		cfg, err := config.NewConfigManager(config.WithConfigPath(*configPath)).Load()
		if err != nil {
			log.Fatalf("❌ 加载配置失败: %v", err)
		}
		listen = cfg.Engine.Addr
	}

	eng := engine.NewServer()
	eng.SetDelay(*delay)
	eng.SetFailAnalyze(*failAnalyze)
	eng.SetFailReport(*failReport)

	server := &http.Server{
		Addr:         listen,
		Handler:      eng.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		fmt.Printf("🧠 分析引擎启动在 %s\n", listen)
		if *delay > 0 || *failAnalyze || *failReport {
			fmt.Printf("   故障注入: delay=%v fail-analyze=%v fail-report=%v\n", *delay, *failAnalyze, *failReport)
		}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ 引擎启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("❌ 引擎关闭错误: %v", err)
	}
	analyze, report := eng.Calls()
	fmt.Printf("✅ 引擎已关闭 (analyze=%d, report=%d)\n", analyze, report)
}
