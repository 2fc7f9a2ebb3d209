package recovery

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// 🎯 策略匹配
// =============================================================================

// fieldValue 解析条件字段，支持 details.<key> 与 context.<key> 路径
func fieldValue(event *ErrorEvent, field string) (any, bool) {
	head, rest, nested := strings.Cut(field, ".")
	if nested {
		var m map[string]any
		switch head {
		case "details":
			m = event.Details
		case "context":
			m = event.Context
		default:
			return nil, false
		}
		return lookupPath(m, rest)
	}

	switch field {
	case "id":
		return event.ID, true
	case "severity":
		return string(event.Severity), true
	case "category":
		return string(event.Category), true
	case "type":
		return event.Type, true
	case "message":
		return event.Message, true
	case "source":
		return event.Source, true
	default:
		return nil, false
	}
}

func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// matchesAll 所有条件都满足时返回 true
func matchesAll(event *ErrorEvent, conditions []Condition) bool {
	for _, c := range conditions {
		if !matchCondition(event, c) {
			return false
		}
	}
	return true
}

func matchCondition(event *ErrorEvent, c Condition) bool {
	actual, ok := fieldValue(event, c.Field)
	if !ok || actual == nil {
		return false
	}
	as, es := fmt.Sprint(actual), fmt.Sprint(c.Value)

	switch c.Operator {
	case OpEquals:
		return as == es
	case OpContains:
		if c.CaseSensitive {
			return strings.Contains(as, es)
		}
		return strings.Contains(strings.ToLower(as), strings.ToLower(es))
	case OpMatches:
		re, err := compilePattern(es, c.CaseSensitive)
		if err != nil {
			return false
		}
		return re.MatchString(as)
	case OpGreaterThan, OpLessThan:
		cmp, ok := compareOrdered(actual, c.Value)
		if !ok {
			return false
		}
		if c.Operator == OpGreaterThan {
			return cmp > 0
		}
		return cmp < 0
	default:
		return false
	}
}

// compareOrdered 两侧都是严重程度时按等级比较，否则按数值比较
func compareOrdered(a, b any) (int, bool) {
	ra, rb := Severity(fmt.Sprint(a)).Rank(), Severity(fmt.Sprint(b)).Rank()
	if ra > 0 && rb > 0 {
		return ra - rb, true
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case fa > fb:
		return 1, true
	case fa < fb:
		return -1, true
	default:
		return 0, true
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
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compilePattern(expr string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

// rankCandidates 按 priority 降序、successRate 降序、id 升序排列
func rankCandidates(candidates []*Strategy) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// 🔍 错误模式
// =============================================================================

// patternMatches 模式按不区分大小写的正则匹配，非法正则退化为子串匹配
func patternMatches(p *Pattern, message string) bool {
	if p.Pattern == "" {
		return false
	}
	if re, err := compilePattern(p.Pattern, false); err == nil {
		return re.MatchString(message)
	}
	return strings.Contains(strings.ToLower(message), strings.ToLower(p.Pattern))
}
