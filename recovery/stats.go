package recovery

import (
	"context"
	"sort"
	"time"
)

const (
	topErrorsLimit     = 10
	topStrategiesLimit = 5
)

// GetErrorStatistics 汇总时间窗口内上报的错误
func (s *System) GetErrorStatistics(ctx context.Context, window TimeRange) (*ErrorStatistics, error) {
	if window == "" {
		window = RangeDay
	}
	events, err := s.loadErrors(ctx, s.now().Add(-window.Duration()))
	if err != nil {
		return nil, err
	}

	stats := &ErrorStatistics{
		Range:      window,
		Total:      len(events),
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[Category]int),
		ByType:     make(map[string]int),
		TopErrors:  []TypeCount{},
	}

	workflows := make(map[string]struct{})
	var resolutionTotal time.Duration
	resolvedWithTime := 0

	for _, e := range events {
		stats.BySeverity[e.Severity]++
		stats.ByCategory[e.Category]++
		stats.ByType[e.Type]++
		if e.Resolved {
			stats.Resolved++
			if e.AutoResolved {
				stats.AutoResolved++
			}
			if e.ResolvedAt != nil {
				resolutionTotal += e.ResolvedAt.Sub(e.Timestamp)
				resolvedWithTime++
			}
		}
		for _, wf := range e.Impact.AffectedWorkflows {
			workflows[wf] = struct{}{}
		}
		stats.Impact.TotalAffectedUsers += e.Impact.AffectedUsers
		stats.Impact.TotalDowntime += e.Impact.EstimatedDowntime
	}
	stats.Impact.TotalAffectedWorkflows = len(workflows)

	if resolvedWithTime > 0 {
		stats.AverageResolutionTime = float64(resolutionTotal.Milliseconds()) / float64(resolvedWithTime)
	}

	for typ, n := range stats.ByType {
		stats.TopErrors = append(stats.TopErrors, TypeCount{Type: typ, Count: n})
	}
	sort.Slice(stats.TopErrors, func(i, j int) bool {
		a, b := stats.TopErrors[i], stats.TopErrors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})
	if len(stats.TopErrors) > topErrorsLimit {
		stats.TopErrors = stats.TopErrors[:topErrorsLimit]
	}
	return stats, nil
}

// GetRecoveryStatus 返回进行中、最近的恢复尝试与策略排行
func (s *System) GetRecoveryStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Status
	st.Active.Count = len(s.active)
	st.Active.MaxConcurrent = s.cfg.MaxConcurrentRecoveries
	if st.Active.MaxConcurrent > 0 {
		st.Active.Utilization = float64(st.Active.Count) / float64(st.Active.MaxConcurrent) * 100
	}

	var totalDuration int64
	for _, a := range s.recent {
		st.Recent.Total++
		totalDuration += a.Duration
		switch a.Result {
		case ResultSuccess:
			st.Recent.Success++
		case ResultFailed:
			st.Recent.Failed++
		}
	}
	if st.Recent.Total > 0 {
		st.Recent.AverageDuration = float64(totalDuration) / float64(st.Recent.Total)
	}

	summaries := make([]StrategySummary, 0, len(s.strategies))
	for _, strategy := range s.strategies {
		st.Strategies.Total++
		if strategy.Enabled {
			st.Strategies.Enabled++
		}
		summaries = append(summaries, StrategySummary{
			ID:          strategy.ID,
			Name:        strategy.Name,
			SuccessRate: strategy.SuccessRate,
			LastUsed:    copyTime(strategy.LastUsed),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].SuccessRate != summaries[j].SuccessRate {
			return summaries[i].SuccessRate > summaries[j].SuccessRate
		}
		return summaries[i].ID < summaries[j].ID
	})
	if len(summaries) > topStrategiesLimit {
		summaries = summaries[:topStrategiesLimit]
	}
	st.Strategies.TopPerforming = summaries
	return st
}

// ErrorStats 返回最近 24 小时与工作流相关的错误数，failures 为其中未解决的数量。
// 调度器据此计算工作流失败率。
func (s *System) ErrorStats(ctx context.Context, workflowID string) (failures, total int, err error) {
	events, err := s.loadErrors(ctx, s.now().Add(-24*time.Hour))
	if err != nil {
		return 0, 0, err
	}
	for _, e := range events {
		if e.Category != CategoryWorkflow {
			continue
		}
		if id, ok := e.Details["workflow_id"]; !ok || id != workflowID {
			continue
		}
		total++
		if !e.Resolved {
			failures++
		}
	}
	return failures, total, nil
}
