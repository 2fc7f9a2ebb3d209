package recovery

import (
	"strings"
	"time"
)

// Severity 错误严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank 返回严重程度序号，未知值为 0
func (s Severity) Rank() int {
	return severityRanks[Severity(strings.ToLower(string(s)))]
}

// IsValid 检查是否为已知严重程度
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// Category 错误类别
type Category string

const (
	CategorySystem   Category = "system"
	CategoryWorkflow Category = "workflow"
	CategoryNetwork  Category = "network"
	CategoryDatabase Category = "database"
	CategorySecurity Category = "security"
	CategoryResource Category = "resource"
)

// Impact 错误影响范围
type Impact struct {
	AffectedWorkflows []string `json:"affected_workflows"`
	AffectedUsers     int      `json:"affected_users"`
	// EstimatedDowntime 预计停机时间（分钟）
	EstimatedDowntime float64  `json:"estimated_downtime"`
	BusinessImpact    Severity `json:"business_impact"`
}

// ErrorEvent 错误事件
type ErrorEvent struct {
	ID                 string         `json:"id"`
	Timestamp          time.Time      `json:"timestamp"`
	Severity           Severity       `json:"severity"`
	Category           Category       `json:"category"`
	Type               string         `json:"type"`
	Message            string         `json:"message"`
	Source             string         `json:"source"`
	Details            map[string]any `json:"details,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	StackTrace         string         `json:"stack_trace,omitempty"`
	Resolved           bool           `json:"resolved"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	ResolutionAttempts int            `json:"resolution_attempts"`
	LastAttempt        *time.Time     `json:"last_attempt,omitempty"`
	AutoResolved       bool           `json:"auto_resolved"`
	Impact             Impact         `json:"impact"`
}

// Operator 策略匹配运算符
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpMatches     Operator = "matches"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Condition 策略匹配条件
type Condition struct {
	// Field 支持 severity、category、type、message、source 以及 details.<key>、context.<key>
	Field         string   `json:"field"`
	Operator      Operator `json:"operator"`
	Value         any      `json:"value"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
}

// ActionType 恢复动作类型
type ActionType string

const (
	ActionRetry          ActionType = "retry"
	ActionRollback       ActionType = "rollback"
	ActionRestartService ActionType = "restart_service"
	ActionScaleResources ActionType = "scale_resources"
	ActionNotify         ActionType = "notify"
	ActionCustomScript   ActionType = "custom_script"
	ActionFallback       ActionType = "fallback"
)

var knownActionTypes = map[ActionType]bool{
	ActionRetry:          true,
	ActionRollback:       true,
	ActionRestartService: true,
	ActionScaleResources: true,
	ActionNotify:         true,
	ActionCustomScript:   true,
	ActionFallback:       true,
}

// Action 恢复动作
type Action struct {
	Type   ActionType     `json:"type"`
	Config map[string]any `json:"config,omitempty"`
	// Timeout 毫秒，0 表示不设截止时间
	Timeout        int64   `json:"timeout"`
	RollbackAction *Action `json:"rollback_action,omitempty"`
}

// Strategy 恢复策略
type Strategy struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
	Priority    int         `json:"priority"`
	MaxAttempts int         `json:"max_attempts"`
	// CooldownPeriod 毫秒
	CooldownPeriod int64      `json:"cooldown_period"`
	SuccessRate    float64    `json:"success_rate"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	Enabled        bool       `json:"enabled"`
}

// Cooldown 返回冷却时长
func (s *Strategy) Cooldown() time.Duration {
	return time.Duration(s.CooldownPeriod) * time.Millisecond
}

// AttemptStatus 恢复尝试状态
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptRunning   AttemptStatus = "running"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// AttemptResult 恢复尝试结果
type AttemptResult string

const (
	ResultSuccess AttemptResult = "success"
	ResultPartial AttemptResult = "partial"
	ResultFailed  AttemptResult = "failed"
)

// ActionLog 单个恢复动作的执行记录
type ActionLog struct {
	Type      ActionType     `json:"type"`
	Config    map[string]any `json:"config,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Status    AttemptStatus  `json:"status"`
	Error     string         `json:"error,omitempty"`
	Rollback  bool           `json:"rollback,omitempty"`
}

// Attempt 一次恢复尝试
type Attempt struct {
	ID         string        `json:"id"`
	ErrorID    string        `json:"error_id"`
	StrategyID string        `json:"strategy_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     AttemptStatus `json:"status"`
	// Duration 毫秒
	Duration  int64         `json:"duration"`
	Actions   []ActionLog   `json:"actions"`
	Result    AttemptResult `json:"result"`
	Message   string        `json:"message"`
	Automatic bool          `json:"automatic"`
}

// Pattern 已知错误模式
type Pattern struct {
	ID                  string    `json:"id"`
	Pattern             string    `json:"pattern"`
	Frequency           int       `json:"frequency"`
	LastSeen            time.Time `json:"last_seen"`
	Category            Category  `json:"category"`
	Severity            Severity  `json:"severity"`
	SuggestedStrategies []string  `json:"suggested_strategies"`
	AutoResolve         bool      `json:"auto_resolve"`
}

// TimeRange 统计时间窗口
type TimeRange string

const (
	RangeHour  TimeRange = "hour"
	RangeDay   TimeRange = "day"
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
)

// Duration 返回窗口时长，未知值按一天处理
func (r TimeRange) Duration() time.Duration {
	switch r {
	case RangeHour:
		return time.Hour
	case RangeWeek:
		return 7 * 24 * time.Hour
	case RangeMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// TypeCount 错误类型计数
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ImpactTotals 影响汇总
type ImpactTotals struct {
	TotalAffectedWorkflows int     `json:"total_affected_workflows"`
	TotalAffectedUsers     int     `json:"total_affected_users"`
	TotalDowntime          float64 `json:"total_downtime"`
}

// ErrorStatistics 错误统计
type ErrorStatistics struct {
	Range        TimeRange        `json:"range"`
	Total        int              `json:"total"`
	BySeverity   map[Severity]int `json:"by_severity"`
	ByCategory   map[Category]int `json:"by_category"`
	ByType       map[string]int   `json:"by_type"`
	Resolved     int              `json:"resolved"`
	AutoResolved int              `json:"auto_resolved"`
	// AverageResolutionTime 毫秒
	AverageResolutionTime float64      `json:"average_resolution_time"`
	TopErrors             []TypeCount  `json:"top_errors"`
	Impact                ImpactTotals `json:"impact"`
}

// StrategySummary 策略排行条目
type StrategySummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	SuccessRate float64    `json:"success_rate"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

// Status 恢复系统状态
type Status struct {
	Active struct {
		Count         int     `json:"count"`
		MaxConcurrent int     `json:"max_concurrent"`
		Utilization   float64 `json:"utilization"`
	} `json:"active"`
	Recent struct {
		Total           int     `json:"total"`
		Success         int     `json:"success"`
		Failed          int     `json:"failed"`
		AverageDuration float64 `json:"average_duration"`
	} `json:"recent"`
	Strategies struct {
		Total         int               `json:"total"`
		Enabled       int               `json:"enabled"`
		TopPerforming []StrategySummary `json:"top_performing"`
	} `json:"strategies"`
}
