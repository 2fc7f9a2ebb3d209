// =============================================================================
// 📦 AutoFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("autoflow.yaml").
//	    WithEnvPrefix("AUTOFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AutoFlow 的完整配置结构
type Config struct {
	// Server 运维 HTTP 服务配置（/health、/ready、/metrics）
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis 持久化存储配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Engine 工作流引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Recovery 错误恢复配置
	Recovery RecoveryConfig `yaml:"recovery" env:"RECOVERY"`

	// Scheduler 智能调度配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// SysMetrics 主机指标采样配置
	SysMetrics SysMetricsConfig `yaml:"sys_metrics" env:"SYS_METRICS"`

	// Archive 执行归档数据库配置
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 运维服务配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用；关闭时使用进程内存储
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 是否使用 TLS 连接
	TLSEnabled bool `yaml:"tls_enabled" env:"TLS_ENABLED"`
	// TLS 根证书（PEM），为空时使用系统根证书
	TLSCAFile string `yaml:"tls_ca_file" env:"TLS_CA_FILE"`
	// 证书校验主机名，为空时取地址中的主机
	TLSServerName string `yaml:"tls_server_name" env:"TLS_SERVER_NAME"`
}

// EngineConfig 工作流引擎配置
type EngineConfig struct {
	// 最大并发执行数
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions" env:"MAX_CONCURRENT_EXECUTIONS"`
	// 执行队列轮询间隔
	ExecutionTick time.Duration `yaml:"execution_tick" env:"EXECUTION_TICK"`
	// 定时调度扫描间隔
	ScheduleTick time.Duration `yaml:"schedule_tick" env:"SCHEDULE_TICK"`
	// 单次执行日志上限，超过后截断
	MaxExecutionLogs int `yaml:"max_execution_logs" env:"MAX_EXECUTION_LOGS"`
	// 截断后保留的日志条数
	TrimExecutionLogs int `yaml:"trim_execution_logs" env:"TRIM_EXECUTION_LOGS"`
	// 工作流记录 TTL
	WorkflowTTL time.Duration `yaml:"workflow_ttl" env:"WORKFLOW_TTL"`
	// 执行记录 TTL
	ExecutionTTL time.Duration `yaml:"execution_ttl" env:"EXECUTION_TTL"`
	// 是否注册内置工作流
	SeedDefaults bool `yaml:"seed_defaults" env:"SEED_DEFAULTS"`
	// YAML 工作流定义目录
	WorkflowsDir string `yaml:"workflows_dir" env:"WORKFLOWS_DIR"`
	// 定义目录轮询间隔，0 表示不监听变更
	DefinitionsPollInterval time.Duration `yaml:"definitions_poll_interval" env:"DEFINITIONS_POLL_INTERVAL"`
	// api_call 动作的默认超时
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
	// api_call 相对路径的基础地址，为空时只记录不发送
	ActionBaseURL string `yaml:"action_base_url" env:"ACTION_BASE_URL"`
	// api_call 信任的根证书（PEM），为空时使用系统根证书
	ActionCAFile string `yaml:"action_ca_file" env:"ACTION_CA_FILE"`
}

// RecoveryConfig 错误恢复配置
type RecoveryConfig struct {
	// 最大并发恢复数
	MaxConcurrentRecoveries int `yaml:"max_concurrent_recoveries" env:"MAX_CONCURRENT_RECOVERIES"`
	// 恢复处理器轮询间隔
	ProcessorInterval time.Duration `yaml:"processor_interval" env:"PROCESSOR_INTERVAL"`
	// 健康监控间隔
	HealthMonitorInterval time.Duration `yaml:"health_monitor_interval" env:"HEALTH_MONITOR_INTERVAL"`
	// 单个错误最多自动恢复次数
	MaxResolutionAttempts int `yaml:"max_resolution_attempts" env:"MAX_RESOLUTION_ATTEMPTS"`
	// 成功率滑动平均权重
	EMAWeight float64 `yaml:"ema_weight" env:"EMA_WEIGHT"`
	// 错误事件与恢复尝试 TTL
	ErrorTTL time.Duration `yaml:"error_ttl" env:"ERROR_TTL"`
	// 策略与模式 TTL
	StrategyTTL time.Duration `yaml:"strategy_ttl" env:"STRATEGY_TTL"`
	// 列表索引 TTL
	IndexTTL time.Duration `yaml:"index_ttl" env:"INDEX_TTL"`
	// CPU 告警阈值（百分比）
	CPUWarningThreshold float64 `yaml:"cpu_warning_threshold" env:"CPU_WARNING_THRESHOLD"`
	// 内存告警阈值（百分比）
	MemoryWarningThreshold float64 `yaml:"memory_warning_threshold" env:"MEMORY_WARNING_THRESHOLD"`
	// 通知速率（每秒）
	NotificationRate float64 `yaml:"notification_rate" env:"NOTIFICATION_RATE"`
	// 通知突发上限
	NotificationBurst int `yaml:"notification_burst" env:"NOTIFICATION_BURST"`
}

// SchedulerConfig 智能调度配置
type SchedulerConfig struct {
	// 调度优化间隔
	OptimizeInterval time.Duration `yaml:"optimize_interval" env:"OPTIMIZE_INTERVAL"`
	// 预测刷新间隔
	PredictInterval time.Duration `yaml:"predict_interval" env:"PREDICT_INTERVAL"`
	// 自动应用优化的置信度下限
	ApplyConfidence float64 `yaml:"apply_confidence" env:"APPLY_CONFIDENCE"`
	// 预测洞察缓存 TTL
	InsightsTTL time.Duration `yaml:"insights_ttl" env:"INSIGHTS_TTL"`
	// 预测循环的预报时长（小时）
	ForecastHours int `yaml:"forecast_hours" env:"FORECAST_HOURS"`
	// 每个工作流的业务影响权重
	BusinessImpact map[string]float64 `yaml:"business_impact" env:"BUSINESS_IMPACT"`
}

// SysMetricsConfig 主机指标采样配置
type SysMetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 采样间隔
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 历史样本数
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
	// 磁盘使用率采样路径
	DiskPath string `yaml:"disk_path" env:"DISK_PATH"`
	// 网卡带宽（Mbps），用于估算网络利用率
	LinkCapacityMbps float64 `yaml:"link_capacity_mbps" env:"LINK_CAPACITY_MBPS"`
}

// ArchiveConfig 执行归档配置
type ArchiveConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 下为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AUTOFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	case reflect.Map:
		// 形如 "backup_workflow=1,cleanup=0.3"，覆盖同名键，保留其余默认值
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.Float64 {
			return fmt.Errorf("unsupported map type %s", field.Type())
		}
		if field.IsNil() {
			field.Set(reflect.MakeMap(field.Type()))
		}
		for _, pair := range strings.Split(value, ",") {
			k, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid map entry %q, want key=value", pair)
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", k, err)
			}
			field.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)), reflect.ValueOf(f))
		}

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}

	return nil
}

// =============================================================================
// 🔍 校验
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Engine.MaxConcurrentExecutions <= 0 {
		errs = append(errs, "engine.max_concurrent_executions must be positive")
	}
	if c.Engine.ExecutionTick <= 0 || c.Engine.ScheduleTick <= 0 {
		errs = append(errs, "engine ticks must be positive")
	}
	if c.Engine.TrimExecutionLogs <= 0 || c.Engine.TrimExecutionLogs > c.Engine.MaxExecutionLogs {
		errs = append(errs, "engine.trim_execution_logs must be in (0, max_execution_logs]")
	}

	if c.Recovery.MaxConcurrentRecoveries <= 0 {
		errs = append(errs, "recovery.max_concurrent_recoveries must be positive")
	}
	if c.Recovery.ProcessorInterval <= 0 || c.Recovery.HealthMonitorInterval <= 0 {
		errs = append(errs, "recovery intervals must be positive")
	}
	if c.Recovery.EMAWeight <= 0 || c.Recovery.EMAWeight >= 1 {
		errs = append(errs, "recovery.ema_weight must be in (0, 1)")
	}

	if c.Scheduler.OptimizeInterval <= 0 || c.Scheduler.PredictInterval <= 0 {
		errs = append(errs, "scheduler intervals must be positive")
	}
	if c.Scheduler.ApplyConfidence < 0 || c.Scheduler.ApplyConfidence > 1 {
		errs = append(errs, "scheduler.apply_confidence must be in [0, 1]")
	}
	for id, w := range c.Scheduler.BusinessImpact {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("scheduler.business_impact[%s] must be in [0, 1]", id))
		}
	}

	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported archive driver: %q", c.Archive.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (a *ArchiveConfig) DSN() string {
	switch a.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			a.Host, a.Port, a.User, a.Password, a.Name, a.SSLMode,
		)
	case "sqlite":
		return a.Name
	default:
		return ""
	}
}
