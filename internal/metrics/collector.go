// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 工作流指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	stepsTotal        *prometheus.CounterVec
	executionsRunning prometheus.Gauge
	queueDepth        prometheus.Gauge

	// 恢复指标
	errorsReported       *prometheus.CounterVec
	recoveryAttempts     *prometheus.CounterVec
	recoveryDuration     prometheus.Histogram
	recoveriesActive     prometheus.Gauge
	strategySuccessRate  *prometheus.GaugeVec
	notificationsDropped prometheus.Counter

	// 调度指标
	scheduleOptimizations *prometheus.CounterVec
	insightsGenerated     *prometheus.CounterVec

	// 运维 HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 工作流指标
	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Total number of finished workflow executions",
		},
		[]string{"workflow", "status"},
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"workflow"},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Total number of steps by final status",
		},
		[]string{"status"},
	)

	c.executionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "executions_running",
			Help:      "Number of executions currently holding an execution slot",
		},
	)

	c.queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "queue_depth",
			Help:      "Number of pending executions waiting for a slot",
		},
	)

	// 恢复指标
	c.errorsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "errors_reported_total",
			Help:      "Total number of reported error events",
		},
		[]string{"severity", "category"},
	)

	c.recoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Total number of recovery attempts by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	c.recoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "duration_seconds",
			Help:      "Recovery attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.recoveriesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "active",
			Help:      "Number of recovery attempts currently running",
		},
	)

	c.strategySuccessRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "strategy_success_rate",
			Help:      "Moving success rate of each recovery strategy",
		},
		[]string{"strategy"},
	)

	c.notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "notifications_dropped_total",
			Help:      "Error notifications suppressed by the rate limiter",
		},
	)

	// 调度指标
	c.scheduleOptimizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "optimizations_total",
			Help:      "Schedule optimizations computed, by whether they were applied",
		},
		[]string{"applied"},
	)

	c.insightsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "insights_generated_total",
			Help:      "Predictive insights generated, by severity",
		},
		[]string{"severity"},
	)

	// 运维 HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Ops HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔄 工作流
// =============================================================================

// RecordExecution 记录一次结束的执行
func (c *Collector) RecordExecution(workflowID, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(workflowID, status).Inc()
	c.executionDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// RecordStep 记录步骤最终状态
func (c *Collector) RecordStep(status string) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(status).Inc()
}

// SetExecutionLoad 更新运行中执行数与队列深度
func (c *Collector) SetExecutionLoad(running, queued int) {
	if c == nil {
		return
	}
	c.executionsRunning.Set(float64(running))
	c.queueDepth.Set(float64(queued))
}

// =============================================================================
// 🛠️ 恢复
// =============================================================================

// RecordErrorReported 记录错误上报
func (c *Collector) RecordErrorReported(severity, category string) {
	if c == nil {
		return
	}
	c.errorsReported.WithLabelValues(severity, category).Inc()
}

// RecordRecoveryAttempt 记录恢复尝试结果
func (c *Collector) RecordRecoveryAttempt(strategyID, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.recoveryAttempts.WithLabelValues(strategyID, result).Inc()
	c.recoveryDuration.Observe(duration.Seconds())
}

// SetRecoveriesActive 更新活跃恢复数
func (c *Collector) SetRecoveriesActive(n int) {
	if c == nil {
		return
	}
	c.recoveriesActive.Set(float64(n))
}

// SetStrategySuccessRate 更新策略成功率
func (c *Collector) SetStrategySuccessRate(strategyID string, rate float64) {
	if c == nil {
		return
	}
	c.strategySuccessRate.WithLabelValues(strategyID).Set(rate)
}

// RecordNotificationDropped 记录被限流的通知
func (c *Collector) RecordNotificationDropped() {
	if c == nil {
		return
	}
	c.notificationsDropped.Inc()
}

// =============================================================================
// 📅 调度
// =============================================================================

// RecordScheduleOptimization 记录调度优化
func (c *Collector) RecordScheduleOptimization(applied bool) {
	if c == nil {
		return
	}
	c.scheduleOptimizations.WithLabelValues(strconv.FormatBool(applied)).Inc()
}

// RecordInsight 记录预测洞察
func (c *Collector) RecordInsight(severity string) {
	if c == nil {
		return
	}
	c.insightsGenerated.WithLabelValues(severity).Inc()
}

// =============================================================================
// 🌐 运维 HTTP
// =============================================================================

// RecordHTTPRequest 记录一次运维 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
