package recovery

import (
	"context"

	"github.com/BaSui01/autoflow/internal/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// NotificationSink 投递错误通知
type NotificationSink interface {
	Send(ctx context.Context, event ErrorEvent) error
}

// LogSink 以与严重程度对应的日志级别记录通知
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志通知
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Send 实现 NotificationSink
func (s *LogSink) Send(_ context.Context, event ErrorEvent) error {
	s.logger.Log(notificationLevel(event.Severity), "error notification",
		zap.String("error_id", event.ID),
		zap.String("severity", string(event.Severity)),
		zap.String("category", string(event.Category)),
		zap.String("type", event.Type),
		zap.String("source", event.Source),
		zap.String("message", event.Message))
	return nil
}

func notificationLevel(sev Severity) zapcore.Level {
	switch sev {
	case SeverityCritical:
		return zapcore.ErrorLevel
	case SeverityHigh:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Notifier 对错误通知限流后交给 sink
type Notifier struct {
	limiter *rate.Limiter
	sink    NotificationSink
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewNotifier 创建限流通知器。rps<=0 时不限流。
func NewNotifier(rps float64, burst int, sink NotificationSink, logger *zap.Logger, m *metrics.Collector) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Notifier{
		limiter: rate.NewLimiter(limit, burst),
		sink:    sink,
		logger:  logger,
		metrics: m,
	}
}

// Notify 投递通知，被限流时返回 false
func (n *Notifier) Notify(ctx context.Context, event ErrorEvent) bool {
	if !n.limiter.Allow() {
		n.logger.Debug("error notification dropped by rate limiter",
			zap.String("error_id", event.ID),
			zap.String("severity", string(event.Severity)))
		n.metrics.RecordNotificationDropped()
		return false
	}
	if err := n.sink.Send(ctx, event); err != nil {
		n.logger.Warn("error notification failed",
			zap.String("error_id", event.ID),
			zap.Error(err))
		return false
	}
	return true
}
