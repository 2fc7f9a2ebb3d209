package workflow

import (
	"time"

	"github.com/BaSui01/autoflow/internal/store"
)

// StepCategory 步骤类别
type StepCategory string

const (
	CategorySetup        StepCategory = "setup"
	CategoryMonitoring   StepCategory = "monitoring"
	CategoryOptimization StepCategory = "optimization"
	CategoryRecovery     StepCategory = "recovery"
	CategoryMaintenance  StepCategory = "maintenance"
)

// Priority 步骤优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// StepStatus 步骤状态
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepRollback  StepStatus = "rollback"
)

// WorkflowStatus 工作流生命周期状态
type WorkflowStatus string

const (
	WorkflowActive   WorkflowStatus = "active"
	WorkflowPaused   WorkflowStatus = "paused"
	WorkflowArchived WorkflowStatus = "archived"
)

// ExecutionStatus 执行状态
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal 终态执行不再被修改
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// ConditionType 条件类型
type ConditionType string

const (
	ConditionSystemHealth    ConditionType = "system_health"
	ConditionTimeBased       ConditionType = "time_based"
	ConditionDependency      ConditionType = "dependency"
	ConditionMetricThreshold ConditionType = "metric_threshold"
	ConditionCustom          ConditionType = "custom"
)

// Operator 条件运算符
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// ActionType 步骤动作类型
type ActionType string

const (
	ActionAPICall           ActionType = "api_call"
	ActionScriptExecution   ActionType = "script_execution"
	ActionDatabaseOperation ActionType = "database_operation"
	ActionNotification      ActionType = "notification"
	ActionCustom            ActionType = "custom"
)

// BackoffStrategy 重试退避方式
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// LogLevel 执行日志级别
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Condition 步骤执行条件
type Condition struct {
	Type        ConditionType `json:"type" yaml:"type"`
	Operator    Operator      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value       any           `json:"value,omitempty" yaml:"value,omitempty"`
	Metric      string        `json:"metric,omitempty" yaml:"metric,omitempty"`
	Threshold   float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	CustomCheck string        `json:"custom_check,omitempty" yaml:"custom_check,omitempty"`
}

// Action 步骤动作
type Action struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	// Timeout 毫秒，0 时使用步骤超时
	Timeout int64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries int   `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// RetryPolicy 步骤重试策略，延迟单位为毫秒
type RetryPolicy struct {
	MaxAttempts     int             `json:"max_attempts" yaml:"max_attempts"`
	BackoffStrategy BackoffStrategy `json:"backoff_strategy" yaml:"backoff_strategy"`
	InitialDelay    int64           `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay        int64           `json:"max_delay" yaml:"max_delay"`
}

// Step 工作流步骤
type Step struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Category    StepCategory `json:"category,omitempty" yaml:"category,omitempty"`
	Priority    Priority     `json:"priority,omitempty" yaml:"priority,omitempty"`
	// EstimatedDuration 秒
	EstimatedDuration int          `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	Dependencies      []string     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Conditions        []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions           []Action     `json:"actions" yaml:"actions"`
	RollbackActions   []Action     `json:"rollback_actions,omitempty" yaml:"rollback_actions,omitempty"`
	RetryPolicy       *RetryPolicy `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	// Timeout 秒，0 表示不设截止时间
	Timeout      int            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Status       StepStatus     `json:"status" yaml:"-"`
	Progress     float64        `json:"progress" yaml:"-"`
	StartTime    *time.Time     `json:"start_time,omitempty" yaml:"-"`
	EndTime      *time.Time     `json:"end_time,omitempty" yaml:"-"`
	ErrorMessage string         `json:"error_message,omitempty" yaml:"-"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Trigger 工作流触发器
type Trigger struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Workflow 工作流定义
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string         `json:"version" yaml:"version"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	Triggers    []Trigger      `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Schedule    string         `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
	LastRun     *time.Time     `json:"last_run,omitempty" yaml:"-"`
	NextRun     *time.Time     `json:"next_run,omitempty" yaml:"-"`
	Status      WorkflowStatus `json:"status" yaml:"status,omitempty"`
}

// ExecutionLog 执行日志条目
type ExecutionLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	StepID    string         `json:"step_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Execution 一次工作流执行
type Execution struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	Status         ExecutionStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	StartTime      *time.Time      `json:"start_time,omitempty"`
	EndTime        *time.Time      `json:"end_time,omitempty"`
	CurrentStep    string          `json:"current_step,omitempty"`
	Steps          []Step          `json:"steps"`
	CompletedSteps []string        `json:"completed_steps"`
	FailedSteps    []string        `json:"failed_steps"`
	Progress       float64         `json:"progress"`
	Logs           []ExecutionLog  `json:"logs"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Duration 返回运行时长，未结束时为 0
func (e *Execution) Duration() time.Duration {
	if e.StartTime == nil || e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(*e.StartTime)
}

// IsCompleted 检查步骤是否已完成
func (e *Execution) IsCompleted(stepID string) bool {
	for _, id := range e.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

func (e *Execution) step(stepID string) *Step {
	for i := range e.Steps {
		if e.Steps[i].ID == stepID {
			return &e.Steps[i]
		}
	}
	return nil
}

// recomputeProgress 进度始终等于已完成步骤占比
func (e *Execution) recomputeProgress() {
	if len(e.Steps) == 0 {
		e.Progress = 0
		return
	}
	e.Progress = float64(len(e.CompletedSteps)) / float64(len(e.Steps)) * 100
}

// SystemStatus 引擎状态快照
type SystemStatus struct {
	Workflows struct {
		Total   int `json:"total"`
		Enabled int `json:"enabled"`
	} `json:"workflows"`
	Executions struct {
		Running       int     `json:"running"`
		Queued        int     `json:"queued"`
		MaxConcurrent int     `json:"max_concurrent"`
		Utilization   float64 `json:"utilization"`
	} `json:"executions"`
	Performance struct {
		// SuccessRate 百分比，保留两位小数
		SuccessRate float64 `json:"success_rate"`
		// AverageExecutionTime 秒
		AverageExecutionTime float64 `json:"average_execution_time"`
		TotalExecutions      int     `json:"total_executions"`
	} `json:"performance"`
}

// =============================================================================
// 🧬 深拷贝
// =============================================================================

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = a
		out[i].Config = copyMap(a.Config)
	}
	return out
}

func (s Step) copy() Step {
	c := s
	c.Dependencies = append([]string(nil), s.Dependencies...)
	c.Conditions = append([]Condition(nil), s.Conditions...)
	c.Actions = copyActions(s.Actions)
	c.RollbackActions = copyActions(s.RollbackActions)
	if s.RetryPolicy != nil {
		rp := *s.RetryPolicy
		c.RetryPolicy = &rp
	}
	c.StartTime = copyTime(s.StartTime)
	c.EndTime = copyTime(s.EndTime)
	c.Metadata = copyMap(s.Metadata)
	return c
}

func copySteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i := range steps {
		out[i] = steps[i].copy()
	}
	return out
}

// Copy 返回工作流深拷贝
func (w *Workflow) Copy() *Workflow {
	c := *w
	c.Steps = copySteps(w.Steps)
	if w.Triggers != nil {
		c.Triggers = make([]Trigger, len(w.Triggers))
		for i, t := range w.Triggers {
			c.Triggers[i] = Trigger{Type: t.Type, Config: copyMap(t.Config)}
		}
	}
	c.LastRun = copyTime(w.LastRun)
	c.NextRun = copyTime(w.NextRun)
	return &c
}

// jsonTyped 把自由格式字段换成存储读回后的形态，数字统一为 float64
func (w *Workflow) jsonTyped() {
	for i := range w.Steps {
		st := &w.Steps[i]
		for j := range st.Conditions {
			st.Conditions[j].Value = store.JSONValue(st.Conditions[j].Value)
		}
		for j := range st.Actions {
			st.Actions[j].Config = store.JSONMap(st.Actions[j].Config)
		}
		for j := range st.RollbackActions {
			st.RollbackActions[j].Config = store.JSONMap(st.RollbackActions[j].Config)
		}
		st.Metadata = store.JSONMap(st.Metadata)
	}
	for i := range w.Triggers {
		w.Triggers[i].Config = store.JSONMap(w.Triggers[i].Config)
	}
}

// Copy 返回执行深拷贝
func (e *Execution) Copy() *Execution {
	c := *e
	c.StartTime = copyTime(e.StartTime)
	c.EndTime = copyTime(e.EndTime)
	c.Steps = copySteps(e.Steps)
	c.CompletedSteps = append([]string{}, e.CompletedSteps...)
	c.FailedSteps = append([]string{}, e.FailedSteps...)
	c.Logs = make([]ExecutionLog, len(e.Logs))
	for i, l := range e.Logs {
		c.Logs[i] = l
		c.Logs[i].Data = copyMap(l.Data)
	}
	c.Metadata = copyMap(e.Metadata)
	return &c
}
