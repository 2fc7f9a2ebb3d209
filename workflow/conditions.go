package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthSource 提供主机健康度与指标，由 sysmetrics.Sampler 实现
type HealthSource interface {
	// HealthScore 返回 [0,1] 的健康度
	HealthScore() float64
	// Metric 返回指定指标的百分比值
	Metric(name string) (float64, bool)
}

// CustomCondition 具名自定义条件
type CustomCondition func(ctx context.Context) (bool, error)

// defaultHealthThreshold 未给出阈值时 system_health 要求的最低健康度
const defaultHealthThreshold = 0.5

// ConditionEvaluator 评估步骤执行条件
type ConditionEvaluator struct {
	source HealthSource
	now    func() time.Time
	logger *zap.Logger

	mu     sync.RWMutex
	custom map[string]CustomCondition
}

// NewConditionEvaluator 创建条件评估器，source 可为 nil
func NewConditionEvaluator(source HealthSource, now func() time.Time, logger *zap.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &ConditionEvaluator{
		source: source,
		now:    now,
		logger: logger,
		custom: make(map[string]CustomCondition),
	}
}

// RegisterCustom 注册具名自定义条件
func (e *ConditionEvaluator) RegisterCustom(name string, fn CustomCondition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

// EvaluateAll 所有条件为真时返回 true，评估出错视为 false
func (e *ConditionEvaluator) EvaluateAll(ctx context.Context, conditions []Condition, exec *Execution) bool {
	for _, c := range conditions {
		ok, err := e.Evaluate(ctx, c, exec)
		if err != nil {
			e.logger.Warn("condition evaluation failed",
				zap.String("type", string(c.Type)),
				zap.String("execution_id", exec.ID),
				zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// Evaluate 评估单个条件
func (e *ConditionEvaluator) Evaluate(ctx context.Context, c Condition, exec *Execution) (bool, error) {
	switch c.Type {
	case ConditionSystemHealth:
		score := 1.0
		if e.source != nil {
			score = e.source.HealthScore()
		}
		target := c.Threshold
		if target == 0 {
			if v, ok := toFloat(c.Value); ok {
				target = v
			} else {
				target = defaultHealthThreshold
			}
		}
		return compare(score, operatorOr(c.Operator, OpGreaterThan), target)

	case ConditionMetricThreshold:
		if e.source == nil {
			return false, fmt.Errorf("no metric source for %s", c.Metric)
		}
		value, ok := e.source.Metric(c.Metric)
		if !ok {
			return false, fmt.Errorf("metric %s not available", c.Metric)
		}
		return compare(value, operatorOr(c.Operator, OpGreaterThan), c.Threshold)

	case ConditionTimeBased:
		window, ok := c.Value.(string)
		if !ok {
			return true, nil
		}
		start, end, ok := parseHourWindow(window)
		if !ok {
			return true, nil
		}
		return hourInWindow(e.now().Hour(), start, end), nil

	case ConditionDependency:
		stepID := fmt.Sprint(c.Value)
		completed := exec != nil && exec.IsCompleted(stepID)
		if c.Operator == OpNotEquals {
			return !completed, nil
		}
		return completed, nil

	case ConditionCustom:
		name := c.CustomCheck
		if name == "" {
			if s, ok := c.Value.(string); ok {
				name = s
			}
		}
		if name == "" {
			return true, nil
		}
		e.mu.RLock()
		fn, ok := e.custom[name]
		e.mu.RUnlock()
		if !ok {
			return false, fmt.Errorf("custom condition not registered: %s", name)
		}
		return fn(ctx)

	default:
		return false, fmt.Errorf("unknown condition type: %s", c.Type)
	}
}

func operatorOr(op, fallback Operator) Operator {
	if op == "" {
		return fallback
	}
	return op
}

// compare 数值可比较时按数值比较，否则按字符串比较
func compare(actual any, op Operator, expected any) (bool, error) {
	a, aNum := toFloat(actual)
	b, bNum := toFloat(expected)
	if aNum && bNum {
		switch op {
		case OpEquals:
			return a == b, nil
		case OpNotEquals:
			return a != b, nil
		case OpGreaterThan:
			return a > b, nil
		case OpLessThan:
			return a < b, nil
		}
	}

	as, bs := fmt.Sprint(actual), fmt.Sprint(expected)
	switch op {
	case OpEquals:
		return as == bs, nil
	case OpNotEquals:
		return as != bs, nil
	case OpContains:
		return strings.Contains(strings.ToLower(as), strings.ToLower(bs)), nil
	case OpNotContains:
		return !strings.Contains(strings.ToLower(as), strings.ToLower(bs)), nil
	case OpGreaterThan, OpLessThan:
		return false, fmt.Errorf("operator %s needs numeric operands", op)
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseHourWindow 解析 "9-17" 形式的小时区间
func parseHourWindow(s string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start < 0 || start > 24 || end < 0 || end > 24 {
		return 0, 0, false
	}
	return start, end, true
}

// hourInWindow 区间左闭右开，start > end 时跨越午夜
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

var knownConditionTypes = map[ConditionType]bool{
	ConditionSystemHealth:    true,
	ConditionTimeBased:       true,
	ConditionDependency:      true,
	ConditionMetricThreshold: true,
	ConditionCustom:          true,
}

var knownOperators = map[Operator]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpGreaterThan: true,
	OpLessThan:    true,
	OpContains:    true,
	OpNotContains: true,
}
