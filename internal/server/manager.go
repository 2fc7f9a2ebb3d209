package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 运维 HTTP 服务
// =============================================================================

// Manager 运维 HTTP 服务管理器，提供 /health、/ready 与 /metrics
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   config.ServerConfig
	health   *HealthHandler
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Option 管理器选项
type Option func(*options)

type options struct {
	gatherer  prometheus.Gatherer
	collector *metrics.Collector
	version   string
}

// WithGatherer 设置 /metrics 使用的指标来源，默认是全局注册表
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) { o.gatherer = g }
}

// WithCollector 记录运维请求指标
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithVersion 设置健康响应中的版本号
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// NewManager 创建运维服务管理器
func NewManager(cfg config.ServerConfig, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	logger = logger.With(zap.String("component", "ops_server"))
	health := NewHealthHandler(o.version, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/ready", health.HandleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))

	handler := Chain(mux,
		Recovery(logger),
		RequestID(),
		Tracing(),
		Metrics(o.collector),
		RequestLogger(logger),
	)

	return &Manager{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		errCh:  make(chan error, 1),
		config: cfg,
		health: health,
		logger: logger,
	}
}

// RegisterCheck 注册就绪检查
func (m *Manager) RegisterCheck(check HealthCheck) {
	m.health.RegisterCheck(check)
}

// Handler 返回路由，便于测试
func (m *Manager) Handler() http.Handler {
	return m.server.Handler
}

// =============================================================================
// 🎯 生命周期
// =============================================================================

// Start 启动服务器（非阻塞）
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}

	m.listener = listener
	m.logger.Info("starting ops server", zap.String("addr", listener.Addr().String()))

	go m.serve(listener)
	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("ops server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 优雅关闭服务器
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.listener == nil {
		return nil
	}
	m.logger.Info("shutting down ops server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("ops server shutdown failed", zap.Error(err))
		return err
	}

	m.logger.Info("ops server stopped")
	return nil
}

// Errors 返回服务运行期间的异步错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 返回实际监听地址，未启动时返回配置值
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}
