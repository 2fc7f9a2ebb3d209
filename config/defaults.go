// =============================================================================
// 📦 AutoFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Redis:      DefaultRedisConfig(),
		Engine:     DefaultEngineConfig(),
		Recovery:   DefaultRecoveryConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		SysMetrics: DefaultSysMetricsConfig(),
		Archive:    DefaultArchiveConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认运维服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":9091",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:             true,
		Addr:                "localhost:6379",
		DB:                  0,
		KeyPrefix:           "autoflow:",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentExecutions: 3,
		ExecutionTick:           time.Second,
		ScheduleTick:            time.Minute,
		MaxExecutionLogs:        1000,
		TrimExecutionLogs:       500,
		WorkflowTTL:             7 * 24 * time.Hour,
		ExecutionTTL:            7 * 24 * time.Hour,
		SeedDefaults:            true,
		DefinitionsPollInterval: 30 * time.Second,
		HTTPTimeout:             30 * time.Second,
	}
}

// DefaultRecoveryConfig 返回默认恢复配置
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxConcurrentRecoveries: 5,
		ProcessorInterval:       10 * time.Second,
		HealthMonitorInterval:   30 * time.Second,
		MaxResolutionAttempts:   3,
		EMAWeight:               0.1,
		ErrorTTL:                7 * 24 * time.Hour,
		StrategyTTL:             30 * 24 * time.Hour,
		IndexTTL:                30 * 24 * time.Hour,
		CPUWarningThreshold:     75,
		MemoryWarningThreshold:  75,
		NotificationRate:        5,
		NotificationBurst:       20,
	}
}

// DefaultSchedulerConfig 返回默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		OptimizeInterval: time.Hour,
		PredictInterval:  30 * time.Minute,
		ApplyConfidence:  0.8,
		InsightsTTL:      time.Hour,
		ForecastHours:    24,
		BusinessImpact: map[string]float64{
			"health_check_workflow":             0.8,
			"performance_optimization_workflow": 0.9,
			"backup_workflow":                   0.7,
			"security_scan_workflow":            0.9,
		},
	}
}

// DefaultSysMetricsConfig 返回默认主机指标配置
func DefaultSysMetricsConfig() SysMetricsConfig {
	return SysMetricsConfig{
		Enabled:          true,
		Interval:         30 * time.Second,
		HistorySize:      288,
		DiskPath:         "/",
		LinkCapacityMbps: 1000,
	}
}

// DefaultArchiveConfig 返回默认归档配置
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:         false,
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "autoflow",
		Password:        "",
		Name:            "autoflow",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "autoflow",
		SampleRate:   0.1,
	}
}
