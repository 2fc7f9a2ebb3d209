package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/autoflow/recovery"
	"github.com/BaSui01/autoflow/workflow"
)

// ExecutionRecord 终态执行的归档行，完整执行以 JSON 存在 Payload 中
type ExecutionRecord struct {
	ID         string     `gorm:"primaryKey;size:64"`
	WorkflowID string     `gorm:"size:128;index:idx_exec_workflow_created,priority:1"`
	Status     string     `gorm:"size:32;index"`
	CreatedAt  time.Time  `gorm:"index:idx_exec_workflow_created,priority:2"`
	StartTime  *time.Time
	EndTime    *time.Time
	DurationMS int64
	Payload    []byte
}

// TableName 表名
func (ExecutionRecord) TableName() string { return "workflow_executions" }

// AttemptRecord 恢复尝试的归档行
type AttemptRecord struct {
	ID         string    `gorm:"primaryKey;size:64"`
	ErrorID    string    `gorm:"size:64;index"`
	StrategyID string    `gorm:"size:128;index:idx_attempt_strategy_ts,priority:1"`
	Timestamp  time.Time `gorm:"index:idx_attempt_strategy_ts,priority:2"`
	Status     string    `gorm:"size:32"`
	Result     string    `gorm:"size:32;index"`
	DurationMS int64
	Automatic  bool
	Payload    []byte
}

// TableName 表名
func (AttemptRecord) TableName() string { return "recovery_attempts" }

func newExecutionRecord(exec *workflow.Execution) (*ExecutionRecord, error) {
	payload, err := json.Marshal(exec)
	if err != nil {
		return nil, fmt.Errorf("marshal execution %s: %w", exec.ID, err)
	}
	return &ExecutionRecord{
		ID:         exec.ID,
		WorkflowID: exec.WorkflowID,
		Status:     string(exec.Status),
		CreatedAt:  exec.CreatedAt,
		StartTime:  exec.StartTime,
		EndTime:    exec.EndTime,
		DurationMS: exec.Duration().Milliseconds(),
		Payload:    payload,
	}, nil
}

func (r *ExecutionRecord) execution() (*workflow.Execution, error) {
	var exec workflow.Execution
	if err := json.Unmarshal(r.Payload, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", r.ID, err)
	}
	return &exec, nil
}

func newAttemptRecord(a *recovery.Attempt) (*AttemptRecord, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal attempt %s: %w", a.ID, err)
	}
	return &AttemptRecord{
		ID:         a.ID,
		ErrorID:    a.ErrorID,
		StrategyID: a.StrategyID,
		Timestamp:  a.Timestamp,
		Status:     string(a.Status),
		Result:     string(a.Result),
		DurationMS: a.Duration,
		Automatic:  a.Automatic,
		Payload:    payload,
	}, nil
}

func (r *AttemptRecord) attempt() (*recovery.Attempt, error) {
	var a recovery.Attempt
	if err := json.Unmarshal(r.Payload, &a); err != nil {
		return nil, fmt.Errorf("unmarshal attempt %s: %w", r.ID, err)
	}
	return &a, nil
}
