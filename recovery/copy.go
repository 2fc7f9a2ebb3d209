package recovery

import (
	"maps"
	"time"

	"github.com/BaSui01/autoflow/internal/store"
)

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyAction(a Action) Action {
	out := a
	out.Config = maps.Clone(a.Config)
	if a.RollbackAction != nil {
		rb := copyAction(*a.RollbackAction)
		out.RollbackAction = &rb
	}
	return out
}

func (s *Strategy) copy() *Strategy {
	out := *s
	out.Conditions = append([]Condition(nil), s.Conditions...)
	out.Actions = make([]Action, len(s.Actions))
	for i, a := range s.Actions {
		out.Actions[i] = copyAction(a)
	}
	out.LastUsed = copyTime(s.LastUsed)
	return &out
}

// jsonTyped 把条件值与动作配置换成存储读回后的形态
func (s *Strategy) jsonTyped() {
	for i := range s.Conditions {
		s.Conditions[i].Value = store.JSONValue(s.Conditions[i].Value)
	}
	for i := range s.Actions {
		jsonTypedAction(&s.Actions[i])
	}
}

func jsonTypedAction(a *Action) {
	a.Config = store.JSONMap(a.Config)
	if a.RollbackAction != nil {
		jsonTypedAction(a.RollbackAction)
	}
}

func (p *Pattern) copy() *Pattern {
	out := *p
	out.SuggestedStrategies = append([]string(nil), p.SuggestedStrategies...)
	return &out
}

func (a *Attempt) copy() *Attempt {
	out := *a
	out.Actions = make([]ActionLog, len(a.Actions))
	for i, l := range a.Actions {
		l.EndTime = copyTime(l.EndTime)
		out.Actions[i] = l
	}
	return &out
}
