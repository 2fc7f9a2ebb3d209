package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// 内置工作流 id
const (
	HealthCheckWorkflowID             = "health_check_workflow"
	PerformanceOptimizationWorkflowID = "performance_optimization_workflow"
)

// DefaultWorkflows 返回内置的健康检查与性能优化工作流
func DefaultWorkflows() []Workflow {
	healthCheck := Workflow{
		ID:          HealthCheckWorkflowID,
		Name:        "System health check",
		Description: "Periodically checks the health of every system component",
		Version:     "1.0.0",
		Steps: []Step{
			{
				ID:                "check_database",
				Name:              "Check database connectivity",
				Description:       "Verify database connectivity and performance",
				Category:          CategoryMonitoring,
				Priority:          PriorityHigh,
				EstimatedDuration: 30,
				Conditions: []Condition{
					{Type: ConditionTimeBased, Operator: OpEquals, Value: "every_5_minutes"},
				},
				Actions: []Action{
					{Type: ActionAPICall, Config: map[string]any{"endpoint": "/api/health/database", "method": "GET"}},
				},
				RetryPolicy: &RetryPolicy{MaxAttempts: 3, BackoffStrategy: BackoffExponential, InitialDelay: 1000, MaxDelay: 10000},
			},
			{
				ID:                "check_apis",
				Name:              "Check API services",
				Description:       "Verify availability of every API endpoint",
				Category:          CategoryMonitoring,
				Priority:          PriorityHigh,
				EstimatedDuration: 60,
				Dependencies:      []string{"check_database"},
				Actions: []Action{
					{Type: ActionAPICall, Config: map[string]any{"endpoint": "/api/health/all", "method": "GET"}},
				},
				RetryPolicy: &RetryPolicy{MaxAttempts: 2, BackoffStrategy: BackoffLinear, InitialDelay: 2000, MaxDelay: 5000},
			},
			{
				ID:                "check_disk_space",
				Name:              "Check disk space",
				Description:       "Make sure enough disk space is available",
				Category:          CategoryMonitoring,
				Priority:          PriorityMedium,
				EstimatedDuration: 15,
				Actions: []Action{
					{Type: ActionScriptExecution, Config: map[string]any{"command": "df -h", "threshold": 80.0}},
				},
			},
		},
		Triggers: []Trigger{
			{Type: "scheduled", Config: map[string]any{"cron": "*/5 * * * *"}},
		},
		Schedule: "*/5 * * * *",
		Enabled:  true,
		Status:   WorkflowActive,
	}

	optimization := Workflow{
		ID:          PerformanceOptimizationWorkflowID,
		Name:        "System performance optimization",
		Description: "Automatically tunes system performance and resource usage",
		Version:     "1.0.0",
		Steps: []Step{
			{
				ID:                "analyze_performance",
				Name:              "Analyze performance metrics",
				Description:       "Collect and analyze system performance data",
				Category:          CategoryOptimization,
				Priority:          PriorityMedium,
				EstimatedDuration: 120,
				Conditions: []Condition{
					{Type: ConditionMetricThreshold, Operator: OpGreaterThan, Metric: "cpu_usage", Threshold: 70},
				},
				Actions: []Action{
					{Type: ActionAPICall, Config: map[string]any{"endpoint": "/api/monitoring/performance-metrics", "method": "GET"}},
				},
			},
			{
				ID:                "optimize_cache",
				Name:              "Optimize cache",
				Description:       "Clean up and tune the caching strategy",
				Category:          CategoryOptimization,
				Priority:          PriorityMedium,
				EstimatedDuration: 60,
				Dependencies:      []string{"analyze_performance"},
				Actions: []Action{
					{Type: ActionAPICall, Config: map[string]any{"endpoint": "/api/monitoring/optimize", "method": "POST"}},
				},
			},
			{
				ID:                "restart_services",
				Name:              "Restart services",
				Description:       "Restart services that need tuning",
				Category:          CategoryOptimization,
				Priority:          PriorityHigh,
				EstimatedDuration: 180,
				Dependencies:      []string{"optimize_cache"},
				Actions: []Action{
					{Type: ActionScriptExecution, Config: map[string]any{"command": "systemctl restart nginx"}},
				},
				RollbackActions: []Action{
					{Type: ActionScriptExecution, Config: map[string]any{"command": "systemctl start nginx"}},
				},
				RetryPolicy: &RetryPolicy{MaxAttempts: 1, BackoffStrategy: BackoffFixed, InitialDelay: 5000, MaxDelay: 5000},
			},
		},
		Triggers: []Trigger{
			{Type: "event_based", Config: map[string]any{"event": "high_cpu_usage"}},
		},
		Enabled: true,
		Status:  WorkflowActive,
	}

	return []Workflow{healthCheck, optimization}
}

// SeedDefaultWorkflows 注册内置工作流
func (e *Engine) SeedDefaultWorkflows(ctx context.Context) error {
	for _, wf := range DefaultWorkflows() {
		if _, err := e.RegisterWorkflow(ctx, wf); err != nil {
			return fmt.Errorf("seed workflow %s: %w", wf.ID, err)
		}
	}
	e.logger.Info("default workflows loaded", zap.Int("count", len(DefaultWorkflows())))
	return nil
}
