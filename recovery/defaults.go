package recovery

import "time"

// 内置策略 id
const (
	RetryStrategyID          = "retry_strategy"
	ServiceRestartStrategyID = "service_restart_strategy"
	RollbackStrategyID       = "rollback_strategy"
	ScaleResourcesStrategyID = "scale_resources_strategy"
)

// DefaultStrategies 返回内置恢复策略
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			ID:          RetryStrategyID,
			Name:        "Smart retry",
			Description: "Retry transient network failures with exponential backoff",
			Category:    "general",
			Conditions: []Condition{
				{Field: "severity", Operator: OpEquals, Value: string(SeverityMedium)},
				{Field: "category", Operator: OpEquals, Value: string(CategoryNetwork)},
			},
			Actions: []Action{
				{
					Type:    ActionRetry,
					Config:  map[string]any{"maxAttempts": 3.0, "backoffStrategy": "exponential", "initialDelay": 1000.0},
					Timeout: 30000,
				},
			},
			Priority:       1,
			MaxAttempts:    3,
			CooldownPeriod: 60000,
			SuccessRate:    0.85,
			Enabled:        true,
		},
		{
			ID:          ServiceRestartStrategyID,
			Name:        "Service restart",
			Description: "Restart the failing service",
			Category:    "system",
			Conditions: []Condition{
				{Field: "category", Operator: OpEquals, Value: string(CategorySystem)},
				{Field: "severity", Operator: OpGreaterThan, Value: string(SeverityMedium)},
			},
			Actions: []Action{
				{
					Type:    ActionRestartService,
					Config:  map[string]any{"serviceName": "automation-engine", "gracefulShutdown": true},
					Timeout: 60000,
				},
			},
			Priority:       2,
			MaxAttempts:    2,
			CooldownPeriod: 300000,
			SuccessRate:    0.75,
			Enabled:        true,
		},
		{
			ID:          RollbackStrategyID,
			Name:        "Version rollback",
			Description: "Roll back to the last stable version",
			Category:    "deployment",
			Conditions: []Condition{
				{Field: "category", Operator: OpEquals, Value: "deployment"},
				{Field: "severity", Operator: OpEquals, Value: string(SeverityHigh)},
			},
			Actions: []Action{
				{
					Type:    ActionRollback,
					Config:  map[string]any{"targetVersion": "last_stable", "backupData": true},
					Timeout: 120000,
				},
			},
			Priority:       3,
			MaxAttempts:    1,
			CooldownPeriod: 600000,
			SuccessRate:    0.9,
			Enabled:        true,
		},
		{
			ID:          ScaleResourcesStrategyID,
			Name:        "Resource scaling",
			Description: "Scale up resources under memory pressure",
			Category:    "resource",
			Conditions: []Condition{
				{Field: "category", Operator: OpEquals, Value: string(CategoryResource)},
				{Field: "type", Operator: OpContains, Value: "memory"},
			},
			Actions: []Action{
				{
					Type:    ActionScaleResources,
					Config:  map[string]any{"resource": "memory", "increment": "50%", "maxLimit": "200%"},
					Timeout: 90000,
				},
			},
			Priority:       2,
			MaxAttempts:    3,
			CooldownPeriod: 180000,
			SuccessRate:    0.8,
			Enabled:        true,
		},
	}
}

// DefaultPatterns 返回内置错误模式
func DefaultPatterns(now time.Time) []Pattern {
	return []Pattern{
		{
			ID:                  "connection_timeout_pattern",
			Pattern:             "connection timeout",
			LastSeen:            now,
			Category:            CategoryNetwork,
			Severity:            SeverityMedium,
			SuggestedStrategies: []string{RetryStrategyID},
			AutoResolve:         true,
		},
		{
			ID:                  "database_lock_pattern",
			Pattern:             "database lock|deadlock",
			LastSeen:            now,
			Category:            CategoryDatabase,
			Severity:            SeverityHigh,
			SuggestedStrategies: []string{RetryStrategyID, RollbackStrategyID},
		},
		{
			ID:                  "memory_exhaustion_pattern",
			Pattern:             "out of memory|memory exhausted",
			LastSeen:            now,
			Category:            CategoryResource,
			Severity:            SeverityCritical,
			SuggestedStrategies: []string{ScaleResourcesStrategyID},
			AutoResolve:         true,
		},
	}
}
