package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, _, err := loadConfigFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "InterviewMonitor", cfg.Meta.Project)
	assert.Equal(t, EnvDevelopment, cfg.Meta.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "", cfg.Server.GRPCAddr())
	assert.Equal(t, []string{"MANAGER", "HR", "ADMIN"}, cfg.Auth.StartRoles)
	assert.Equal(t, 5*time.Second, cfg.Analysis.StartTimeout)
	assert.Equal(t, 10*time.Second, cfg.Analysis.AnalyzeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Analysis.ReportTimeout)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
meta:
  environment: testing
server:
  port: 9090
  grpc_port: 9091
analysis:
  base_url: http://engine:8000
  analyze_timeout: 2s
store:
  type: sqlite
  sqlite_path: /tmp/monitor.sqlite
auth:
  start_roles: [ADMIN]
`)

	cfg, err := NewConfigManager(WithConfigPath(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, EnvTesting, cfg.Meta.Environment)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "0.0.0.0:9091", cfg.Server.GRPCAddr())
	assert.Equal(t, "http://engine:8000", cfg.Analysis.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Analysis.AnalyzeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Analysis.ReportTimeout, "unset keys keep defaults")
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, []string{"ADMIN"}, cfg.Auth.StartRoles)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "analysis:\n  base_url: http://from-file\n")
	t.Setenv("MONITOR_ANALYSIS_BASE_URL", "http://from-env")
	t.Setenv("MONITOR_SERVER_PORT", "7000")

	cfg, _, err := loadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", cfg.Analysis.BaseURL)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad environment", "meta:\n  environment: moon\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"bad store", "store:\n  type: mongo\n"},
		{"sqlite without path", "store:\n  type: sqlite\n  sqlite_path: \"\"\n"},
		{"zero timeout", "analysis:\n  report_timeout: 0s\n"},
		{"negative retries", "analysis:\n  max_retries: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, _, err := loadConfigFromFile(path)
			assert.Error(t, err)
		})
	}
}

func TestManagerGetCachesAndSummary(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "meta:\n  config_version: 2.1.0\n")
	cm := NewConfigManager(WithConfigPath(path))

	first, err := cm.Get()
	require.NoError(t, err)
	second, err := cm.Get()
	require.NoError(t, err)
	assert.Same(t, first, second)

	summary, err := cm.GetConfigSummary()
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", summary["config_version"])
	assert.Equal(t, path, summary["config_file"])
}

func TestManagerReloadNotifiesAndKeepsOldOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "analysis:\n  analyze_timeout: 3s\n")
	cm := NewConfigManager(WithConfigPath(path))
	_, err := cm.Load()
	require.NoError(t, err)

	var seen []time.Duration
	cm.OnChange(func(c *Config) { seen = append(seen, c.Analysis.AnalyzeTimeout) })

	writeConfig(t, dir, "analysis:\n  analyze_timeout: 7s\n")
	require.NoError(t, cm.Reload())
	assert.Equal(t, []time.Duration{7 * time.Second}, seen)

	writeConfig(t, dir, "store:\n  type: mongo\n")
	assert.Error(t, cm.Reload())

	cfg, err := cm.Get()
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Analysis.AnalyzeTimeout)
	assert.Len(t, seen, 1)
}

func TestManagerWatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "analysis:\n  report_timeout: 20s\n")
	cm := NewConfigManager(WithConfigPath(path), WithWatchEnabled(true))
	_, err := cm.Load()
	require.NoError(t, err)

	changed := make(chan time.Duration, 4)
	cm.OnChange(func(c *Config) { changed <- c.Analysis.ReportTimeout })

	// 给watcher一点启动时间
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "analysis:\n  report_timeout: 40s\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case d := <-changed:
			if d == 40*time.Second {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 1000, cfg.LiveFeed.MaxSubscribers)
	assert.Equal(t, 30*time.Second, cfg.LiveFeed.PingInterval)
	assert.True(t, cfg.Database.AutoMigrate)
}
