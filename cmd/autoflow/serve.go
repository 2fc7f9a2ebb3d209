package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/archive"
	"github.com/BaSui01/autoflow/internal/metrics"
	"github.com/BaSui01/autoflow/internal/server"
	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"github.com/BaSui01/autoflow/internal/telemetry"
	"github.com/BaSui01/autoflow/internal/tlsutil"
	"github.com/BaSui01/autoflow/recovery"
	"github.com/BaSui01/autoflow/scheduler"
	"github.com/BaSui01/autoflow/workflow"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 持有一次 serve 运行的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	metrics   *metrics.Collector
	store     store.Store
	archive   *archive.Archive
	sampler   *sysmetrics.Sampler
	recovery  *recovery.System
	engine    *workflow.Engine
	scheduler *scheduler.Scheduler
	watcher   *workflow.DefinitionWatcher
	ops       *server.Manager
}

// serve 装配组件并运行到收到 SIGINT/SIGTERM
func serve(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, "autoflow")
	if err != nil {
		return err
	}
	return a.run(ctx)
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, namespace string) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.telemetry = providers
	a.metrics = metrics.NewCollector(namespace, logger)

	a.store, err = openStore(cfg.Redis, cfg.Engine.ExecutionTTL, logger)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	if cfg.Archive.Enabled {
		a.archive, err = archive.Open(cfg.Archive, logger)
		if err != nil {
			_ = a.close(ctx)
			return nil, err
		}
		if err := a.archive.AutoMigrate(ctx); err != nil {
			_ = a.close(ctx)
			return nil, err
		}
	}

	a.sampler = sysmetrics.NewSampler(cfg.SysMetrics, logger)

	recoveryOpts := []recovery.Option{
		recovery.WithStore(a.store),
		recovery.WithMetrics(a.metrics),
		recovery.WithHealthSource(a.sampler),
	}
	engineOpts := []workflow.Option{
		workflow.WithStore(a.store),
		workflow.WithMetrics(a.metrics),
		workflow.WithConditionSource(a.sampler),
	}
	schedulerOpts := []scheduler.Option{
		scheduler.WithLoadSource(a.sampler),
		scheduler.WithStore(a.store),
		scheduler.WithMetrics(a.metrics),
	}
	if a.archive != nil {
		recoveryOpts = append(recoveryOpts, recovery.WithArchive(a.archive))
		engineOpts = append(engineOpts, workflow.WithArchive(a.archive))
		schedulerOpts = append(schedulerOpts, scheduler.WithHistoryFallback(a.archive))
	}

	a.recovery = recovery.NewSystem(cfg.Recovery, logger, recoveryOpts...)
	engineOpts = append(engineOpts, workflow.WithErrorReporter(a.recovery))
	a.engine = workflow.NewEngine(cfg.Engine, logger, engineOpts...)
	schedulerOpts = append(schedulerOpts, scheduler.WithErrorStats(a.recovery))
	a.scheduler = scheduler.NewScheduler(cfg.Scheduler, a.engine, logger, schedulerOpts...)

	if err := a.loadWorkflows(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	a.ops = server.NewManager(cfg.Server, logger,
		server.WithVersion(Version),
		server.WithCollector(a.metrics))
	a.ops.RegisterCheck(server.NewPingCheck("store", a.store.Ping))
	if a.archive != nil {
		a.ops.RegisterCheck(server.NewPingCheck("archive", a.archive.Ping))
	}

	return a, nil
}

// openStore Redis 启用时使用 Redis，否则使用进程内存储
func openStore(cfg config.RedisConfig, defaultTTL time.Duration, logger *zap.Logger) (store.Store, error) {
	if !cfg.Enabled {
		logger.Warn("redis disabled, state is kept in memory only")
		return store.NewMemoryStore(defaultTTL), nil
	}

	storeCfg := store.Config{
		Addr:                cfg.Addr,
		Password:            cfg.Password,
		DB:                  cfg.DB,
		KeyPrefix:           cfg.KeyPrefix,
		DefaultTTL:          defaultTTL,
		MaxRetries:          cfg.MaxRetries,
		PoolSize:            cfg.PoolSize,
		MinIdleConns:        cfg.MinIdleConns,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}
	if cfg.TLSEnabled {
		serverName := cfg.TLSServerName
		if serverName == "" {
			host, _, err := net.SplitHostPort(cfg.Addr)
			if err != nil {
				return nil, fmt.Errorf("redis addr %q: %w", cfg.Addr, err)
			}
			serverName = host
		}
		tlsCfg, err := tlsutil.ClientConfig(tlsutil.Options{ServerName: serverName, CAFile: cfg.TLSCAFile})
		if err != nil {
			return nil, fmt.Errorf("redis tls: %w", err)
		}
		storeCfg.TLS = tlsCfg
	}

	st, err := store.NewRedisStore(storeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open redis store: %w", err)
	}
	return st, nil
}

// loadWorkflows 依次恢复持久化工作流、注册内置工作流、加载定义目录
func (a *app) loadWorkflows(ctx context.Context) error {
	n, err := a.engine.RestoreWorkflows(ctx)
	if err != nil {
		a.logger.Warn("failed to restore workflows", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("workflows restored", zap.Int("count", n))
	}

	if a.cfg.Engine.SeedDefaults {
		if err := a.engine.SeedDefaultWorkflows(ctx); err != nil {
			return fmt.Errorf("seed default workflows: %w", err)
		}
	}

	if dir := a.cfg.Engine.WorkflowsDir; dir != "" {
		if _, err := a.engine.LoadDefinitions(ctx, dir); err != nil {
			return fmt.Errorf("load workflow definitions: %w", err)
		}
		if a.cfg.Engine.DefinitionsPollInterval > 0 {
			a.watcher = a.engine.WatchDefinitions(dir, a.cfg.Engine.DefinitionsPollInterval)
		}
	}
	return nil
}

// =============================================================================
// 🚦 运行与关闭
// =============================================================================

// run 启动全部组件，ctx 取消或任一组件失败时按依赖逆序关闭
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	fail := func(err error) error {
		cancel()
		_ = a.close(context.Background())
		_ = g.Wait()
		return err
	}

	if a.cfg.SysMetrics.Enabled {
		g.Go(func() error { return a.sampler.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if err := a.recovery.Start(gctx); err != nil {
		return fail(err)
	}
	if err := a.engine.Start(gctx); err != nil {
		return fail(err)
	}
	if err := a.scheduler.Start(gctx); err != nil {
		return fail(err)
	}
	if err := a.ops.Start(); err != nil {
		return fail(err)
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-a.ops.Errors():
			return fmt.Errorf("ops server: %w", err)
		}
	})

	a.logger.Info("AutoFlow running",
		zap.String("ops_addr", a.ops.Addr()),
		zap.Int("workflows", len(a.engine.GetWorkflows())))

	<-gctx.Done()
	a.logger.Info("shutdown requested")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	closeErr := a.close(shutdownCtx)

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	return closeErr
}

// close 按依赖逆序关闭已创建的组件，汇总所有错误
func (a *app) close(ctx context.Context) error {
	var errs []error
	record := func(name string, err error) {
		if err != nil {
			a.logger.Error("shutdown error", zap.String("component", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.ops != nil {
		record("ops_server", a.ops.Shutdown(ctx))
	}
	if a.scheduler != nil {
		record("scheduler", a.scheduler.Shutdown(ctx))
	}
	if a.engine != nil {
		record("engine", a.engine.Shutdown(ctx))
	}
	if a.recovery != nil {
		record("recovery", a.recovery.Shutdown(ctx))
	}
	if a.archive != nil {
		record("archive", a.archive.Close())
	}
	if a.store != nil {
		record("store", a.store.Close())
	}
	if a.telemetry != nil {
		record("telemetry", a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
