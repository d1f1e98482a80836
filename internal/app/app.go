// Package app 按配置组装监控服务的全部组件
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"InterviewMonitor/internal/analysis"
	"InterviewMonitor/internal/config"
	"InterviewMonitor/internal/database"
	"InterviewMonitor/internal/grpcserver"
	"InterviewMonitor/internal/httpserver"
	"InterviewMonitor/internal/livefeed"
	"InterviewMonitor/internal/logger"
	"InterviewMonitor/internal/metrics"
	"InterviewMonitor/internal/monitor"
	"InterviewMonitor/internal/notify"
	"InterviewMonitor/internal/store"
)

const logModule = "App"

// Version 服务版本
const Version = "1.0.0"

// App 运行中的服务
type App struct {
	cfg  *config.Config
	kind store.Kind

	backend    store.Backend
	ownBackend bool
	manager    *monitor.Manager
	authorizer *httpserver.RoleAuthorizer
	notifier   *notify.Dispatcher
	hub        *livefeed.Hub
	metrics    *metrics.Metrics
	api        *httpserver.APIServer
	health     *grpcserver.HealthServer
	logStream  *logger.StreamLogger
	sender     notify.Sender
}

// Option 组装选项
type Option func(*App)

// WithBackend 使用外部提供的存储后端，Shutdown时不关闭
func WithBackend(b store.Backend, kind store.Kind) Option {
	return func(a *App) {
		a.backend = b
		a.kind = kind
	}
}

// WithLogStream 挂载 /ws/logs 日志流
func WithLogStream(sl *logger.StreamLogger) Option {
	return func(a *App) { a.logStream = sl }
}

// WithSender 替换通知投递方式
func WithSender(s notify.Sender) Option {
	return func(a *App) { a.sender = s }
}

// New 按配置创建全部组件，notifier在返回前已启动
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.backend == nil {
		backend, kind, err := OpenBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.backend, a.kind, a.ownBackend = backend, kind, true
	}

	a.metrics = metrics.New()
	a.hub = livefeed.NewHub(livefeed.Config{
		MaxSubscribers: cfg.LiveFeed.MaxSubscribers,
		SendBuffer:     cfg.LiveFeed.SendBuffer,
		WriteTimeout:   cfg.LiveFeed.WriteTimeout,
		PingInterval:   cfg.LiveFeed.PingInterval,
	}, a.metrics)

	if a.sender == nil {
		a.sender = newSender(cfg.Notify)
	}
	a.notifier = notify.NewDispatcher(notify.Config{
		QueueSize:   cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		SendTimeout: cfg.Notify.SendTimeout,
	}, a.sender)
	a.notifier.Start(context.Background())

	analysisClient := analysis.NewClient(&analysis.Config{
		BaseURL:        cfg.Analysis.BaseURL,
		MaxRetries:     cfg.Analysis.MaxRetries,
		InitialBackoff: cfg.Analysis.InitialBackoff,
		MaxBackoff:     cfg.Analysis.MaxBackoff,
		RateLimit:      cfg.Analysis.RateLimit,
		RateBurst:      cfg.Analysis.RateBurst,
		UserAgent:      "InterviewMonitor/" + Version,
	})

	a.manager = monitor.NewManager(a.backend, analysisClient, a.backend,
		monitor.WithTranscriptSink(a.backend),
		monitor.WithNotifier(a.notifier),
		monitor.WithPublisher(a.hub),
		monitor.WithMetrics(a.metrics),
		monitor.WithTimeouts(cfg.Analysis.StartTimeout, cfg.Analysis.AnalyzeTimeout, cfg.Analysis.ReportTimeout),
	)

	a.authorizer = httpserver.NewRoleAuthorizer(cfg.Auth.StartRoles)
	a.api = httpserver.NewAPIServer(httpserver.Options{
		Addr:           cfg.Server.Addr(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		Service:        a.manager,
		Authorizer:     a.authorizer,
		Hub:            a.hub,
		Metrics:        a.metrics,
		Store:          a.backend,
		StoreKind:      string(a.kind),
		Notifier:       a.notifier,
		LogStream:      a.logStream,
		Version:        Version,
	})
	a.health = grpcserver.New(a.backend, 10*time.Second)

	logger.LogSuccess(logModule, "", fmt.Sprintf("✅ 组件初始化完成: store=%s engine=%s", a.kind, cfg.Analysis.BaseURL))
	return a, nil
}

// OpenBackend 按 store.type 打开存储
func OpenBackend(ctx context.Context, cfg *config.Config) (store.Backend, store.Kind, error) {
	kind, err := store.ParseKind(cfg.Store.Type)
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case store.KindPostgres:
		db := cfg.Database
		pool, err := database.ConnectPgx(ctx, &database.Config{
			Host:            db.Host,
			Port:            db.Port,
			User:            db.User,
			Password:        db.Password,
			DBName:          db.DBName,
			SSLMode:         db.SSLMode,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		})
		if err != nil {
			return nil, "", fmt.Errorf("connect postgres: %w", err)
		}
		if db.AutoMigrate {
			if err := database.EnsureSchema(ctx, pool); err != nil {
				database.ClosePgx()
				return nil, "", err
			}
		}
		return store.NewPostgresStore(pool), kind, nil

	case store.KindSQLite:
		s, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite %s: %w", cfg.Store.SQLitePath, err)
		}
		return s, kind, nil

	default:
		logger.LogWarning(logModule, "", "使用内存存储，重启后会话丢失")
		return store.NewMemoryBackend(), kind, nil
	}
}

func newSender(cfg config.NotifyConfig) notify.Sender {
	if cfg.WebhookURL != "" {
		return notify.NewWebhookSender(cfg.WebhookURL)
	}
	return notify.LogSender{}
}

// ApplyConfig 热更新可在运行时调整的配置：远程调用超时和开始监控角色
func (a *App) ApplyConfig(cfg *config.Config) {
	a.manager.SetTimeouts(cfg.Analysis.StartTimeout, cfg.Analysis.AnalyzeTimeout, cfg.Analysis.ReportTimeout)
	a.authorizer.SetStartRoles(cfg.Auth.StartRoles)
	logger.LogInfo(logModule, "", fmt.Sprintf("🔄 配置已更新: timeouts=%v/%v/%v roles=%v",
		cfg.Analysis.StartTimeout, cfg.Analysis.AnalyzeTimeout, cfg.Analysis.ReportTimeout, cfg.Auth.StartRoles))
}

// Start 启动HTTP和gRPC监听，返回的通道接收运行期错误
func (a *App) Start() <-chan error {
	errCh := make(chan error, 2)

	go func() {
		if err := a.api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if addr := a.cfg.Server.GRPCAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- fmt.Errorf("grpc listen %s: %w", addr, err)
			return errCh
		}
		go func() {
			if err := a.health.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}
	return errCh
}

// Shutdown 按依赖逆序关闭：先停止接收请求，再关闭推送、通知和存储
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.api.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	a.health.Stop(ctx)
	a.hub.CloseAll()
	if err := a.notifier.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	if a.ownBackend {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, err)
		}
		if a.kind == store.KindPostgres {
			database.ClosePgx()
		}
	}
	return errors.Join(errs...)
}

// Handler HTTP处理器
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Manager 会话管理器
func (a *App) Manager() *monitor.Manager { return a.manager }

// Backend 存储后端
func (a *App) Backend() store.Backend { return a.backend }

// Health gRPC健康服务器
func (a *App) Health() *grpcserver.HealthServer { return a.health }

// StoreKind 存储类型
func (a *App) StoreKind() store.Kind { return a.kind }
