package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager 统一配置管理器
type ConfigManager struct {
	mu           sync.RWMutex
	config       *Config
	viper        *viper.Viper
	configPath   string
	watchEnabled bool
	watching     bool

	listenersMu sync.Mutex
	listeners   []func(*Config)
}

// ConfigManagerOption 配置管理器选项
type ConfigManagerOption func(*ConfigManager)

// WithConfigPath 设置配置文件路径，为空时按默认搜索路径查找
func WithConfigPath(path string) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.watchEnabled = enabled
	}
}

// NewConfigManager 创建配置管理器
func NewConfigManager(opts ...ConfigManagerOption) *ConfigManager {
	cm := &ConfigManager{}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// Load 加载配置，已加载时直接返回
func (cm *ConfigManager) Load() (*Config, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	config, viperInstance, err := loadConfigFromFile(cm.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	cm.config = config
	cm.viper = viperInstance

	if cm.watchEnabled {
		cm.watch()
	}
	return config, nil
}

// Get 获取配置（如果未加载则自动加载）
func (cm *ConfigManager) Get() (*Config, error) {
	cm.mu.RLock()
	if cm.config != nil {
		defer cm.mu.RUnlock()
		return cm.config, nil
	}
	cm.mu.RUnlock()

	return cm.Load()
}

// Reload 重新加载配置。新配置无效时保留旧配置并返回错误。
func (cm *ConfigManager) Reload() error {
	config, viperInstance, err := loadConfigFromFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("重新加载配置失败: %w", err)
	}

	cm.mu.Lock()
	cm.config = config
	if cm.viper == nil {
		cm.viper = viperInstance
	}
	cm.mu.Unlock()

	cm.notify(config)
	return nil
}

// OnChange 注册配置变更回调，热加载成功后调用
func (cm *ConfigManager) OnChange(fn func(*Config)) {
	cm.listenersMu.Lock()
	cm.listeners = append(cm.listeners, fn)
	cm.listenersMu.Unlock()
}

func (cm *ConfigManager) notify(config *Config) {
	cm.listenersMu.Lock()
	listeners := append([]func(*Config){}, cm.listeners...)
	cm.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(config)
	}
}

// watch 监控配置文件变化，调用方持有写锁
func (cm *ConfigManager) watch() {
	if cm.viper == nil || cm.watching || cm.viper.ConfigFileUsed() == "" {
		return
	}
	cm.watching = true

	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		// 无效的新配置不覆盖当前配置
		_ = cm.Reload()
	})
	cm.viper.WatchConfig()
}

// ConfigFileUsed 实际读取的配置文件，未找到文件时为空
func (cm *ConfigManager) ConfigFileUsed() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.viper == nil {
		return ""
	}
	return cm.viper.ConfigFileUsed()
}

// GetConfigSummary 获取配置摘要信息
func (cm *ConfigManager) GetConfigSummary() (map[string]interface{}, error) {
	config, err := cm.Get()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"project":        config.Meta.Project,
		"config_version": config.Meta.ConfigVersion,
		"environment":    config.Meta.Environment,
		"config_file":    cm.ConfigFileUsed(),
		"store":          config.Store.Type,
		"analysis_url":   config.Analysis.BaseURL,
		"watch_enabled":  cm.watchEnabled,
	}, nil
}

// 全局配置管理器实例
var (
	globalConfigManager *ConfigManager
	configManagerOnce   sync.Once
)

// GetGlobalConfigManager 获取全局配置管理器
func GetGlobalConfigManager() *ConfigManager {
	configManagerOnce.Do(func() {
		globalConfigManager = NewConfigManager(
			WithWatchEnabled(true),
		)
	})
	return globalConfigManager
}

// GetGlobalConfig 获取全局配置
func GetGlobalConfig() (*Config, error) {
	return GetGlobalConfigManager().Get()
}
