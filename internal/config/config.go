package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvironmentType 运行环境
type EnvironmentType string

const (
	EnvDevelopment EnvironmentType = "development"
	EnvTesting     EnvironmentType = "testing"
	EnvStaging     EnvironmentType = "staging"
	EnvProduction  EnvironmentType = "production"
)

// IsValid 检查环境类型是否有效
func (e EnvironmentType) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// Config 服务配置
type Config struct {
	Meta     MetaConfig     `mapstructure:"meta" yaml:"meta"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	LiveFeed LiveFeedConfig `mapstructure:"live_feed" yaml:"live_feed"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
}

type MetaConfig struct {
	Project       string          `mapstructure:"project" yaml:"project"`
	ConfigVersion string          `mapstructure:"config_version" yaml:"config_version"`
	Environment   EnvironmentType `mapstructure:"environment" yaml:"environment"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	GRPCPort        int           `mapstructure:"grpc_port" yaml:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Addr HTTP监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr gRPC监听地址，端口为0时不启用
func (s ServerConfig) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

type AuthConfig struct {
	// StartRoles 允许开始监控的角色
	StartRoles []string `mapstructure:"start_roles" yaml:"start_roles"`
}

type AnalysisConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	StartTimeout   time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	AnalyzeTimeout time.Duration `mapstructure:"analyze_timeout" yaml:"analyze_timeout"`
	ReportTimeout  time.Duration `mapstructure:"report_timeout" yaml:"report_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

type StoreConfig struct {
	// Type memory | postgres | sqlite
	Type       string `mapstructure:"type" yaml:"type"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	User        string `mapstructure:"user" yaml:"user"`
	Password    string `mapstructure:"password" yaml:"password"`
	DBName      string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode     string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxConns    int32  `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns" yaml:"min_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

type NotifyConfig struct {
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	SendTimeout time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	WebhookURL  string        `mapstructure:"webhook_url" yaml:"webhook_url"`
}

type LiveFeedConfig struct {
	MaxSubscribers int           `mapstructure:"max_subscribers" yaml:"max_subscribers"`
	SendBuffer     int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

type LoggingConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// Stream 启用 /ws/logs 日志流
	Stream bool `mapstructure:"stream" yaml:"stream"`
}

type EngineConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ConfigFileName 配置文件名（不含扩展名）
const ConfigFileName = "monitor-config"

// EnvPrefix 环境变量前缀，如 MONITOR_ANALYSIS_BASE_URL
const EnvPrefix = "MONITOR"

// loadConfigFromFile 读取配置文件、环境变量和默认值。path为空时按搜索路径查找。
func loadConfigFromFile(path string) (*Config, *viper.Viper, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, nil, err
	}
	return &config, v, nil
}

// Default 只含默认值的配置，不读取文件和环境变量
func Default() (*Config, error) {
	v := viper.New()
	setDefaultValues(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	return &config, nil
}

// setDefaultValues 默认值，同时让AutomaticEnv能识别所有键
func setDefaultValues(v *viper.Viper) {
	v.SetDefault("meta.project", "InterviewMonitor")
	v.SetDefault("meta.config_version", "1.0.0")
	v.SetDefault("meta.environment", string(EnvDevelopment))

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 0)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("auth.start_roles", []string{"MANAGER", "HR", "ADMIN"})

	v.SetDefault("analysis.base_url", "http://127.0.0.1:8000")
	v.SetDefault("analysis.start_timeout", "5s")
	v.SetDefault("analysis.analyze_timeout", "10s")
	v.SetDefault("analysis.report_timeout", "30s")
	v.SetDefault("analysis.max_retries", 2)
	v.SetDefault("analysis.initial_backoff", "100ms")
	v.SetDefault("analysis.max_backoff", "1s")
	v.SetDefault("analysis.rate_limit", 0)
	v.SetDefault("analysis.rate_burst", 10)

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.sqlite_path", "interview-monitor.sqlite")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "interview_monitor")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.send_timeout", "10s")
	v.SetDefault("notify.webhook_url", "")

	v.SetDefault("live_feed.max_subscribers", 1000)
	v.SetDefault("live_feed.send_buffer", 16)
	v.SetDefault("live_feed.write_timeout", "5s")
	v.SetDefault("live_feed.ping_interval", "30s")

	v.SetDefault("logging.prefix", "")
	v.SetDefault("logging.stream", true)

	v.SetDefault("engine.addr", "127.0.0.1:8000")
}

// validateConfig 校验配置
func validateConfig(config *Config) error {
	if !config.Meta.Environment.IsValid() {
		return fmt.Errorf("invalid environment: %q", config.Meta.Environment)
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.GRPCPort < 0 || config.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", config.Server.GRPCPort)
	}
	if config.Analysis.BaseURL == "" {
		return errors.New("analysis.base_url is required")
	}
	if config.Analysis.AnalyzeTimeout <= 0 || config.Analysis.ReportTimeout <= 0 || config.Analysis.StartTimeout <= 0 {
		return fmt.Errorf("invalid analysis timeouts: start=%v analyze=%v report=%v",
			config.Analysis.StartTimeout, config.Analysis.AnalyzeTimeout, config.Analysis.ReportTimeout)
	}
	if config.Analysis.MaxRetries < 0 {
		return fmt.Errorf("invalid analysis max retries: %d", config.Analysis.MaxRetries)
	}
	if config.Analysis.RateLimit < 0 {
		return fmt.Errorf("invalid analysis rate limit: %v", config.Analysis.RateLimit)
	}
	switch config.Store.Type {
	case "memory", "postgres":
	case "sqlite":
		if config.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for sqlite store")
		}
	default:
		return fmt.Errorf("invalid store type: %q", config.Store.Type)
	}
	if len(config.Auth.StartRoles) == 0 {
		return errors.New("auth.start_roles must not be empty")
	}
	return nil
}
