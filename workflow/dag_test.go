package workflow

import (
	"math/rand"
	"testing"
	"time"

	"github.com/BaSui01/autoflow/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idsInOrder(steps []Step, order []int) []string {
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = steps[idx].ID
	}
	return out
}

func TestTopologicalOrder_StableByDeclaration(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
		want  []string
	}{
		{
			name:  "independent steps keep declaration order",
			steps: []Step{customStep("c", "ok"), customStep("a", "ok"), customStep("b", "ok")},
			want:  []string{"c", "a", "b"},
		},
		{
			name: "diamond",
			steps: []Step{
				customStep("join", "ok", "left", "right"),
				customStep("right", "ok", "root"),
				customStep("left", "ok", "root"),
				customStep("root", "ok"),
			},
			want: []string{"root", "right", "left", "join"},
		},
		{
			name:  "chain declared backwards",
			steps: []Step{customStep("c", "ok", "b"), customStep("b", "ok", "a"), customStep("a", "ok")},
			want:  []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := topologicalOrder(tt.steps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, idsInOrder(tt.steps, order))
		})
	}
}

func TestTopologicalOrder_Cycle(t *testing.T) {
	_, err := topologicalOrder([]Step{customStep("a", "ok", "b"), customStep("b", "ok", "a")})
	assert.Error(t, err)
}

func TestValidateSteps_CycleThroughLongerPath(t *testing.T) {
	err := validateSteps([]Step{
		customStep("a", "ok", "c"),
		customStep("b", "ok", "a"),
		customStep("c", "ok", "b"),
		customStep("d", "ok"),
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateSteps_AcceptsDefaults(t *testing.T) {
	for _, wf := range DefaultWorkflows() {
		assert.NoError(t, validateSteps(wf.Steps), wf.ID)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	tests := []struct {
		name    string
		policy  *RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"nil policy", nil, 1, 0},
		{"fixed", &RetryPolicy{BackoffStrategy: BackoffFixed, InitialDelay: 500}, 3, 500 * time.Millisecond},
		{"linear", &RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: 2000}, 2, 4 * time.Second},
		{"linear capped", &RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: 2000, MaxDelay: 5000}, 3, 5 * time.Second},
		{"exponential first", &RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 1000}, 1, time.Second},
		{"exponential third", &RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 1000}, 3, 4 * time.Second},
		{"exponential capped", &RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 1000, MaxDelay: 10000}, 6, 10 * time.Second},
		{"exponential huge attempt", &RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: 1, MaxDelay: 60000}, 200, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.attempt))
		})
	}
}

func TestRetryPolicy_Attempts(t *testing.T) {
	var nilPolicy *RetryPolicy
	assert.Equal(t, 1, nilPolicy.attempts())
	assert.Equal(t, 1, (&RetryPolicy{}).attempts())
	assert.Equal(t, 3, (&RetryPolicy{MaxAttempts: 3}).attempts())
}

// randomDAG 生成随机 DAG：步骤 i 只依赖编号更小的步骤，然后打乱声明顺序
func randomDAG(n int, seed int64) []Step {
	r := rand.New(rand.NewSource(seed))
	steps := make([]Step, n)
	for i := 0; i < n; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		var deps []string
		for j := 0; j < i; j++ {
			if r.Intn(3) == 0 {
				deps = append(deps, steps[j].ID)
			}
		}
		steps[i] = customStep(id, "ok", deps...)
	}
	r.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })
	return steps
}

func TestProperty_TopologicalOrderRespectsDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every dependency precedes its dependent and every step appears once", prop.ForAll(
		func(n int, seed int64) bool {
			steps := randomDAG(n, seed)
			if err := validateSteps(steps); err != nil {
				t.Logf("validate: %v", err)
				return false
			}

			order, err := topologicalOrder(steps)
			if err != nil || len(order) != len(steps) {
				return false
			}

			position := make(map[string]int, len(order))
			for pos, idx := range order {
				if _, dup := position[steps[idx].ID]; dup {
					return false
				}
				position[steps[idx].ID] = pos
			}
			for _, s := range steps {
				for _, dep := range s.Dependencies {
					if position[dep] >= position[s.ID] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 40),
		gen.Int64(),
	))

	properties.Property("adding a back edge always creates a detectable cycle", prop.ForAll(
		func(n int, seed int64) bool {
			steps := randomDAG(n, seed)
			order, err := topologicalOrder(steps)
			if err != nil {
				return false
			}
			first, last := order[0], order[len(order)-1]
			// 首末步骤互相依赖
			steps[first].Dependencies = append(steps[first].Dependencies, steps[last].ID)
			steps[last].Dependencies = append(steps[last].Dependencies, steps[first].ID)
			return types.IsCode(validateSteps(steps), types.ErrValidation)
		},
		gen.IntRange(2, 30),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
