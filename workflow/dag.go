package workflow

import (
	"fmt"

	"github.com/BaSui01/autoflow/types"
)

// =============================================================================
// 🔀 步骤依赖图
// =============================================================================

// stepGraph 以步骤 id 为节点、依赖关系为边的有向图
type stepGraph struct {
	order []string            // 声明顺序
	index map[string]int      // id -> 声明下标
	edges map[string][]string // 依赖 -> 依赖它的步骤
}

func newStepGraph(steps []Step) *stepGraph {
	g := &stepGraph{
		order: make([]string, 0, len(steps)),
		index: make(map[string]int, len(steps)),
		edges: make(map[string][]string, len(steps)),
	}
	for i, s := range steps {
		g.order = append(g.order, s.ID)
		g.index[s.ID] = i
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			g.edges[dep] = append(g.edges[dep], s.ID)
		}
	}
	return g
}

// validateSteps 校验步骤列表：非空、id 唯一、依赖存在且无环
func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return types.NewValidationError("workflow must declare at least one step")
	}

	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return types.NewValidationError("step %d has an empty id", i)
		}
		if seen[s.ID] {
			return types.NewValidationError("duplicate step id: %s", s.ID)
		}
		seen[s.ID] = true
		if len(s.Actions) == 0 {
			return types.NewValidationError("step %s declares no actions", s.ID)
		}
		for _, c := range s.Conditions {
			if !knownConditionTypes[c.Type] {
				return types.NewValidationError("step %s: unknown condition type %q", s.ID, c.Type)
			}
			if c.Operator != "" && !knownOperators[c.Operator] {
				return types.NewValidationError("step %s: unknown operator %q", s.ID, c.Operator)
			}
			if c.Type == ConditionMetricThreshold && c.Metric == "" {
				return types.NewValidationError("step %s: metric_threshold condition needs a metric", s.ID)
			}
		}
		if s.RetryPolicy != nil {
			if err := validateRetryPolicy(s.ID, s.RetryPolicy); err != nil {
				return err
			}
		}
	}

	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if !seen[dep] {
				return types.NewValidationError("step %s depends on unknown step %s", s.ID, dep)
			}
			if dep == s.ID {
				return types.NewValidationError("step %s depends on itself", s.ID)
			}
		}
	}

	return newStepGraph(steps).detectCycles()
}

func validateRetryPolicy(stepID string, p *RetryPolicy) error {
	if p.MaxAttempts < 1 {
		return types.NewValidationError("step %s: retry max_attempts must be >= 1", stepID)
	}
	switch p.BackoffStrategy {
	case BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return types.NewValidationError("step %s: unknown backoff strategy %q", stepID, p.BackoffStrategy)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return types.NewValidationError("step %s: retry delays must not be negative", stepID)
	}
	return nil
}

// detectCycles 使用 DFS 检测环
func (g *stepGraph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range g.order {
		if !visited[id] {
			if g.hasCycleDFS(id, visited, recStack) {
				return types.NewValidationError("dependency cycle detected involving step: %s", id)
			}
		}
	}
	return nil
}

func (g *stepGraph) hasCycleDFS(id string, visited, recStack map[string]bool) bool {
	visited[id] = true
	recStack[id] = true

	for _, next := range g.edges[id] {
		if !visited[next] {
			if g.hasCycleDFS(next, visited, recStack) {
				return true
			}
		} else if recStack[next] {
			return true
		}
	}

	recStack[id] = false
	return false
}

// topologicalOrder 返回步骤下标的拓扑序，入度相同时按声明顺序
func topologicalOrder(steps []Step) ([]int, error) {
	g := newStepGraph(steps)

	inDegree := make(map[string]int, len(steps))
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := g.index[dep]; ok {
				inDegree[s.ID]++
			}
		}
	}

	ready := make([]bool, len(steps))
	for i, s := range steps {
		ready[i] = inDegree[s.ID] == 0
	}
	done := make([]bool, len(steps))

	order := make([]int, 0, len(steps))
	for len(order) < len(steps) {
		next := -1
		for i := range steps {
			if ready[i] && !done[i] {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("steps are not acyclic: ordered %d of %d", len(order), len(steps))
		}

		done[next] = true
		order = append(order, next)
		for _, child := range g.edges[steps[next].ID] {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready[g.index[child]] = true
			}
		}
	}
	return order, nil
}
