// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9091", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Engine.MaxConcurrentExecutions)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "autoflow.yaml")

	yamlContent := `
server:
  addr: ":9500"

engine:
  max_concurrent_executions: 6
  execution_tick: 250ms
  workflows_dir: /etc/autoflow/workflows

recovery:
  max_concurrent_recoveries: 8
  ema_weight: 0.2

scheduler:
  apply_confidence: 0.9
  business_impact:
    nightly_backup: 0.95

archive:
  enabled: true
  driver: sqlite
  name: /var/lib/autoflow/archive.db

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9500", cfg.Server.Addr)
	assert.Equal(t, 6, cfg.Engine.MaxConcurrentExecutions)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.ExecutionTick)
	assert.Equal(t, "/etc/autoflow/workflows", cfg.Engine.WorkflowsDir)
	assert.Equal(t, 8, cfg.Recovery.MaxConcurrentRecoveries)
	assert.InDelta(t, 0.2, cfg.Recovery.EMAWeight, 1e-9)
	assert.InDelta(t, 0.9, cfg.Scheduler.ApplyConfidence, 1e-9)
	assert.InDelta(t, 0.95, cfg.Scheduler.BusinessImpact["nightly_backup"], 1e-9)
	assert.Equal(t, "sqlite", cfg.Archive.Driver)
	assert.Equal(t, "/var/lib/autoflow/archive.db", cfg.Archive.DSN())
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未覆盖的字段保留默认值
	assert.Equal(t, time.Minute, cfg.Engine.ScheduleTick)
	assert.Equal(t, 10*time.Second, cfg.Recovery.ProcessorInterval)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.MaxConcurrentExecutions)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine: [unterminated"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("AUTOFLOW_ENGINE_MAX_CONCURRENT_EXECUTIONS", "9")
	t.Setenv("AUTOFLOW_ENGINE_SCHEDULE_TICK", "30s")
	t.Setenv("AUTOFLOW_RECOVERY_EMA_WEIGHT", "0.25")
	t.Setenv("AUTOFLOW_REDIS_ENABLED", "false")
	t.Setenv("AUTOFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/autoflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Engine.MaxConcurrentExecutions)
	assert.Equal(t, 30*time.Second, cfg.Engine.ScheduleTick)
	assert.InDelta(t, 0.25, cfg.Recovery.EMAWeight, 1e-9)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/autoflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvTLSFiles(t *testing.T) {
	t.Setenv("AUTOFLOW_REDIS_TLS_ENABLED", "true")
	t.Setenv("AUTOFLOW_REDIS_TLS_CA_FILE", "/etc/autoflow/redis-ca.pem")
	t.Setenv("AUTOFLOW_REDIS_TLS_SERVER_NAME", "redis.internal")
	t.Setenv("AUTOFLOW_ENGINE_ACTION_CA_FILE", "/etc/autoflow/actions-ca.pem")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.True(t, cfg.Redis.TLSEnabled)
	assert.Equal(t, "/etc/autoflow/redis-ca.pem", cfg.Redis.TLSCAFile)
	assert.Equal(t, "redis.internal", cfg.Redis.TLSServerName)
	assert.Equal(t, "/etc/autoflow/actions-ca.pem", cfg.Engine.ActionCAFile)
}

func TestLoader_EnvBusinessImpact(t *testing.T) {
	t.Setenv("AUTOFLOW_SCHEDULER_BUSINESS_IMPACT", "nightly_backup=0.95, performance_optimization_workflow = 0.4")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	defaults := DefaultSchedulerConfig()
	assert.InDelta(t, 0.95, cfg.Scheduler.BusinessImpact["nightly_backup"], 1e-9)
	assert.InDelta(t, 0.4, cfg.Scheduler.BusinessImpact["performance_optimization_workflow"], 1e-9)
	assert.Len(t, cfg.Scheduler.BusinessImpact, len(defaults.BusinessImpact)+1)
}

func TestLoader_EnvBusinessImpactInvalid(t *testing.T) {
	for _, value := range []string{"nightly_backup", "=0.5", "nightly_backup=high"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("AUTOFLOW_SCHEDULER_BUSINESS_IMPACT", value)
			_, err := NewLoader().Load()
			assert.Error(t, err)
		})
	}
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "autoflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  max_concurrent_executions: 4\n"), 0o644))
	t.Setenv("AUTOFLOW_ENGINE_MAX_CONCURRENT_EXECUTIONS", "7")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxConcurrentExecutions)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("ORCH_SERVER_ADDR", ":7000")

	cfg, err := NewLoader().WithEnvPrefix("ORCH").Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AUTOFLOW_ENGINE_EXECUTION_TICK", "soon")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.NoError(t, err)

	t.Setenv("AUTOFLOW_ENGINE_MAX_CONCURRENT_EXECUTIONS", "0")
	_, err = NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	assert.Error(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero executions", func(c *Config) { c.Engine.MaxConcurrentExecutions = 0 }, "max_concurrent_executions"},
		{"zero tick", func(c *Config) { c.Engine.ExecutionTick = 0 }, "ticks"},
		{"trim above cap", func(c *Config) { c.Engine.TrimExecutionLogs = 2000 }, "trim_execution_logs"},
		{"zero recoveries", func(c *Config) { c.Recovery.MaxConcurrentRecoveries = 0 }, "max_concurrent_recoveries"},
		{"ema weight one", func(c *Config) { c.Recovery.EMAWeight = 1 }, "ema_weight"},
		{"confidence above one", func(c *Config) { c.Scheduler.ApplyConfidence = 1.5 }, "apply_confidence"},
		{"impact out of range", func(c *Config) { c.Scheduler.BusinessImpact["x"] = 2 }, "business_impact"},
		{"archive driver", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Driver = "mysql"
		}, "archive driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestArchiveConfig_DSN(t *testing.T) {
	cfg := DefaultArchiveConfig()
	assert.Equal(t, "host=localhost port=5432 user=autoflow password= dbname=autoflow sslmode=disable", cfg.DSN())

	cfg.Driver = "oracle"
	assert.Empty(t, cfg.DSN())
}
