package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, EngineConfig{}, cfg.Engine)
	assert.NotEqual(t, RecoveryConfig{}, cfg.Recovery)
	assert.NotEmpty(t, cfg.Scheduler.BusinessImpact)
	assert.NotEqual(t, SysMetricsConfig{}, cfg.SysMetrics)
	assert.NotEqual(t, ArchiveConfig{}, cfg.Archive)
	assert.NotEmpty(t, cfg.Log.Level)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)

	require.NoError(t, cfg.Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.Equal(t, 3, cfg.MaxConcurrentExecutions)
	assert.Equal(t, time.Second, cfg.ExecutionTick)
	assert.Equal(t, time.Minute, cfg.ScheduleTick)
	assert.Equal(t, 1000, cfg.MaxExecutionLogs)
	assert.Equal(t, 500, cfg.TrimExecutionLogs)
	assert.Equal(t, 7*24*time.Hour, cfg.WorkflowTTL)
	assert.True(t, cfg.SeedDefaults)
}

func TestDefaultRecoveryConfig(t *testing.T) {
	cfg := DefaultRecoveryConfig()
	assert.Equal(t, 5, cfg.MaxConcurrentRecoveries)
	assert.Equal(t, 10*time.Second, cfg.ProcessorInterval)
	assert.Equal(t, 30*time.Second, cfg.HealthMonitorInterval)
	assert.Equal(t, 3, cfg.MaxResolutionAttempts)
	assert.InDelta(t, 0.1, cfg.EMAWeight, 1e-9)
	assert.Equal(t, 7*24*time.Hour, cfg.ErrorTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.StrategyTTL)
	assert.InDelta(t, 75.0, cfg.CPUWarningThreshold, 1e-9)
}

func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	assert.Equal(t, time.Hour, cfg.OptimizeInterval)
	assert.Equal(t, 30*time.Minute, cfg.PredictInterval)
	assert.InDelta(t, 0.8, cfg.ApplyConfidence, 1e-9)
	assert.Equal(t, time.Hour, cfg.InsightsTTL)
	assert.Equal(t, 24, cfg.ForecastHours)
	assert.InDelta(t, 0.9, cfg.BusinessImpact["performance_optimization_workflow"], 1e-9)
}

func TestDefaultArchiveConfig_Disabled(t *testing.T) {
	cfg := DefaultArchiveConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 5432, cfg.Port)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "autoflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 1e-9)
}
