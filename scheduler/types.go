package scheduler

import "time"

// Factors 调度优化的四个评估因子，取值都在 [0,1]
type Factors struct {
	SystemLoad        float64 `json:"system_load"`
	HistoricalSuccess float64 `json:"historical_success"`
	ResourceUsage     float64 `json:"resource_usage"`
	BusinessImpact    float64 `json:"business_impact"`
}

func (f Factors) values() []float64 {
	return []float64{f.SystemLoad, f.HistoricalSuccess, f.ResourceUsage, f.BusinessImpact}
}

// ScheduleOptimization 单个工作流的调度建议
type ScheduleOptimization struct {
	WorkflowID      string  `json:"workflow_id"`
	CurrentSchedule string  `json:"current_schedule"`
	OptimalSchedule string  `json:"optimal_schedule"`
	Score           float64 `json:"score"`
	Confidence      float64 `json:"confidence"`
	// ExpectedImprovement |score - 0.5|
	ExpectedImprovement float64   `json:"expected_improvement"`
	Factors             Factors   `json:"factors"`
	Recommendations     []string  `json:"recommendations"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// InsightType 洞察类型
type InsightType string

const (
	InsightPerformance InsightType = "performance"
	InsightFailure     InsightType = "failure"
	InsightResource    InsightType = "resource"
	InsightOpportunity InsightType = "opportunity"
)

// Severity 洞察严重程度
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank 返回排序用的序号
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// PredictiveInsight 预测洞察
type PredictiveInsight struct {
	Type            InsightType        `json:"type"`
	Severity        Severity           `json:"severity"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	PredictedAt     time.Time          `json:"predicted_at"`
	Confidence      float64            `json:"confidence"`
	Impact          string             `json:"impact"`
	Recommendations []string           `json:"recommendations"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
}

// ResourceForecast 某一时刻的资源利用率预测，取值在 [0,1]
type ResourceForecast struct {
	Timestamp  time.Time `json:"timestamp"`
	CPU        float64   `json:"cpu"`
	Memory     float64   `json:"memory"`
	Disk       float64   `json:"disk"`
	Network    float64   `json:"network"`
	Confidence float64   `json:"confidence"`
}

// Efficiency 调度效率指标
type Efficiency struct {
	OverallEfficiency   float64 `json:"overall_efficiency"`
	ResourceUtilization float64 `json:"resource_utilization"`
	SuccessRate         float64 `json:"success_rate"`
	// AverageExecutionTime 秒
	AverageExecutionTime float64 `json:"average_execution_time"`
	SchedulingAccuracy   float64 `json:"scheduling_accuracy"`
	OptimizationImpact   float64 `json:"optimization_impact"`
}

// 尚无数据来源的效率指标使用固定值
const (
	PlaceholderOverallEfficiency   = 0.85
	PlaceholderResourceUtilization = 0.7
	PlaceholderSchedulingAccuracy  = 0.9
	PlaceholderOptimizationImpact  = 0.15
)
