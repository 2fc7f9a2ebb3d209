// =============================================================================
// AutoFlow 主入口
// =============================================================================
// 自动化编排服务入口，运行工作流引擎、错误恢复与智能调度
//
// 使用方法:
//
//	autoflow serve                          # 启动服务
//	autoflow serve --config config.yaml     # 指定配置文件
//	autoflow serve --workflows ./workflows  # 加载 YAML 工作流目录
//	autoflow validate --file backup.yaml    # 校验工作流定义
//	autoflow version                        # 显示版本信息
//	autoflow health                         # 健康检查
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/workflow"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowsDir := fs.String("workflows", "", "Directory of YAML workflow definitions")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if *workflowsDir != "" {
		cfg.Engine.WorkflowsDir = *workflowsDir
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting AutoFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	if err := serve(cfg, logger); err != nil {
		logger.Error("AutoFlow exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("AutoFlow stopped")
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("file", "", "Workflow definition file (YAML)")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "validate requires --file")
		os.Exit(2)
	}
	if err := validateFile(*file, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid workflow definition: %v\n", err)
		os.Exit(1)
	}
}

// validateFile 校验定义文件并输出每个工作流的摘要
func validateFile(path string, out io.Writer) error {
	wfs, err := workflow.LoadDefinitionFile(path)
	if err != nil {
		return err
	}
	for _, wf := range wfs {
		id := wf.ID
		if id == "" {
			id = "(generated)"
		}
		schedule := wf.Schedule
		if schedule == "" {
			schedule = "manual"
		}
		fmt.Fprintf(out, "OK  %-24s %-32s steps=%d schedule=%s\n", id, wf.Name, len(wf.Steps), schedule)
	}
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9091", "Ops server address")
	fs.Parse(args)

	if err := checkHealth(&http.Client{Timeout: 5 * time.Second}, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func checkHealth(client *http.Client, addr string) error {
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AutoFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AutoFlow - Automation Orchestration Engine

Usage:
  autoflow <command> [options]

Commands:
  serve     Start the engine, recovery system, scheduler and ops server
  validate  Validate a YAML workflow definition file
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)
  --workflows <dir>   Directory of YAML workflow definitions

Options for 'validate':
  --file <path>       Workflow definition file

Examples:
  autoflow serve
  autoflow serve --config /etc/autoflow/config.yaml --workflows /etc/autoflow/workflows
  autoflow validate --file workflows/nightly_backup.yaml
  autoflow health --addr http://localhost:9091
  autoflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
