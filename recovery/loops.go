package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"go.uber.org/zap"
)

// =============================================================================
// 🔁 后台循环
// =============================================================================

func (s *System) processorLoop(ctx context.Context) {
	defer s.loops.Done()

	interval := s.cfg.ProcessorInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ProcessPending(ctx); err != nil {
				s.logger.Warn("recovery processor pass failed", zap.Error(err))
			}
		}
	}
}

// ProcessPending 按时间先后为未解决的错误启动自动恢复，恢复槽占满时停止。
// low 级别的错误不会自动恢复。返回启动的恢复数。
func (s *System) ProcessPending(ctx context.Context) (int, error) {
	events, err := s.loadErrors(ctx, time.Time{})
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	pending := make([]*ErrorEvent, 0, len(events))
	for _, e := range events {
		if e.Resolved || e.Severity == SeverityLow || s.recovering[e.ID] {
			continue
		}
		if e.ResolutionAttempts >= s.cfg.MaxResolutionAttempts {
			continue
		}
		pending = append(pending, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	started := 0
	for _, e := range pending {
		if !s.sem.TryAcquire(1) {
			break
		}
		s.startAutoRecovery(e.ID)
		started++
	}
	if started > 0 {
		s.logger.Debug("recovery processor started attempts", zap.Int("count", started))
	}
	return started, nil
}

func (s *System) healthLoop(ctx context.Context) {
	defer s.loops.Done()

	interval := s.cfg.HealthMonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckHealth(ctx)
		}
	}
}

// CheckHealth 读取主机指标，CPU 或内存超过告警阈值时上报资源错误，返回上报的错误 id
func (s *System) CheckHealth(ctx context.Context) []string {
	if s.health == nil {
		return nil
	}

	checks := []struct {
		metric    string
		threshold float64
		errType   string
		label     string
	}{
		{sysmetrics.MetricCPU, s.cfg.CPUWarningThreshold, "high_cpu_usage", "CPU"},
		{sysmetrics.MetricMemory, s.cfg.MemoryWarningThreshold, "high_memory_usage", "memory"},
	}

	var reported []string
	for _, c := range checks {
		value, ok := s.health.Metric(c.metric)
		if !ok || c.threshold <= 0 || value <= c.threshold {
			continue
		}
		severity := SeverityMedium
		if value > 90 {
			severity = SeverityHigh
		}
		id, err := s.ReportError(ctx, ErrorEvent{
			Severity: severity,
			Category: CategoryResource,
			Type:     c.errType,
			Message:  fmt.Sprintf("High %s usage: %.1f%%", c.label, value),
			Source:   "health_monitor",
			Details: map[string]any{
				"metric":    c.metric,
				"value":     value,
				"threshold": c.threshold,
			},
		})
		if err != nil {
			s.logger.Warn("failed to report health issue", zap.String("metric", c.metric), zap.Error(err))
			continue
		}
		reported = append(reported, id)
	}
	return reported
}
