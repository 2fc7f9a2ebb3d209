package scheduler

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"github.com/BaSui01/autoflow/types"
)

// Holt 双指数平滑参数
const (
	holtAlpha = 0.5
	holtBeta  = 0.3
)

const (
	forecastBaseConfidence = 0.8
	forecastDecay          = 0.98
	forecastMinConfidence  = 0.3
)

// =============================================================================
// 📈 资源预测
// =============================================================================

// ForecastResources 预测未来 hours 小时的资源利用率，每小时一个点。
// 至少有两个主机样本时按小时聚合后使用 Holt 双指数平滑，否则退回基线估计。
func (s *Scheduler) ForecastResources(_ context.Context, hours int) ([]ResourceForecast, error) {
	if hours <= 0 {
		return nil, types.NewValidationError("forecast hours must be positive, got %d", hours)
	}

	now := s.now()
	var samples []sysmetrics.Sample
	if s.load != nil {
		samples = s.load.History()
	}

	out := make([]ResourceForecast, hours)
	if len(samples) >= 2 {
		buckets := hourlyBuckets(samples)
		cpu := fitHolt(buckets, func(x sysmetrics.Sample) float64 { return x.CPUPercent })
		mem := fitHolt(buckets, func(x sysmetrics.Sample) float64 { return x.MemoryPercent })
		disk := fitHolt(buckets, func(x sysmetrics.Sample) float64 { return x.DiskPercent })
		network := fitHolt(buckets, func(x sysmetrics.Sample) float64 { return x.NetworkPercent })

		for i := range out {
			ahead := float64(i)
			out[i] = ResourceForecast{
				Timestamp:  now.Add(time.Duration(i) * time.Hour),
				CPU:        clamp01(cpu.at(ahead)),
				Memory:     clamp01(mem.at(ahead)),
				Disk:       clamp01(disk.at(ahead)),
				Network:    clamp01(network.at(ahead)),
				Confidence: forecastConfidence(i),
			}
		}
		return out, nil
	}

	for i := range out {
		f := s.baseline.Estimate()
		f.Timestamp = now.Add(time.Duration(i) * time.Hour)
		f.Confidence = forecastConfidence(i)
		out[i] = f
	}
	return out, nil
}

func forecastConfidence(i int) float64 {
	return math.Max(forecastMinConfidence, forecastBaseConfidence*math.Pow(forecastDecay, float64(i)))
}

// holtModel 拟合后的水平与趋势，趋势单位是每小时
type holtModel struct {
	level float64
	trend float64
}

func (m holtModel) at(hoursAhead float64) float64 {
	return m.level + m.trend*hoursAhead
}

// fitHolt 对按小时聚合的百分比序列做双指数平滑，结果换算为 [0,1] 比例。
// 只有一个小时桶时没有趋势信息，预测为该桶均值。
// 趋势的绝对值不超过序列的极差。
func fitHolt(buckets []sysmetrics.Sample, value func(sysmetrics.Sample) float64) holtModel {
	x0 := value(buckets[0]) / 100
	if len(buckets) == 1 {
		return holtModel{level: x0}
	}

	lo, hi := x0, x0
	m := holtModel{level: x0, trend: value(buckets[1])/100 - x0}
	for _, b := range buckets[1:] {
		x := value(b) / 100
		lo, hi = math.Min(lo, x), math.Max(hi, x)
		prevLevel := m.level
		m.level = holtAlpha*x + (1-holtAlpha)*(m.level+m.trend)
		m.trend = holtBeta*(m.level-prevLevel) + (1-holtBeta)*m.trend
	}

	limit := hi - lo
	m.trend = math.Max(-limit, math.Min(limit, m.trend))
	return m
}

// hourlyBuckets 以最新样本为基准按小时分桶取均值，按时间从旧到新返回
func hourlyBuckets(samples []sysmetrics.Sample) []sysmetrics.Sample {
	last := samples[len(samples)-1].Timestamp
	type acc struct {
		sum sysmetrics.Sample
		n   float64
	}
	byAge := make(map[int64]*acc)
	for _, sample := range samples {
		age := int64(0)
		if d := last.Sub(sample.Timestamp); d > 0 {
			age = int64(d / time.Hour)
		}
		a, ok := byAge[age]
		if !ok {
			a = &acc{}
			byAge[age] = a
		}
		a.sum.CPUPercent += sample.CPUPercent
		a.sum.MemoryPercent += sample.MemoryPercent
		a.sum.DiskPercent += sample.DiskPercent
		a.sum.NetworkPercent += sample.NetworkPercent
		a.n++
	}

	ages := make([]int64, 0, len(byAge))
	for age := range byAge {
		ages = append(ages, age)
	}
	sort.Slice(ages, func(i, j int) bool { return ages[i] > ages[j] })

	out := make([]sysmetrics.Sample, 0, len(ages))
	for _, age := range ages {
		a := byAge[age]
		out = append(out, sysmetrics.Sample{
			Timestamp:      last.Add(-time.Duration(age) * time.Hour),
			CPUPercent:     a.sum.CPUPercent / a.n,
			MemoryPercent:  a.sum.MemoryPercent / a.n,
			DiskPercent:    a.sum.DiskPercent / a.n,
			NetworkPercent: a.sum.NetworkPercent / a.n,
		})
	}
	return out
}

// =============================================================================
// 🎲 基线估计
// =============================================================================

// BaselineEstimator 没有主机样本时的占位估计：各指标在固定基线上叠加随机波动
type BaselineEstimator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// 基线与波动幅度
var baselines = struct {
	cpu, cpuSpread         float64
	memory, memorySpread   float64
	disk, diskSpread       float64
	network, networkSpread float64
}{0.5, 0.3, 0.6, 0.2, 0.4, 0.2, 0.3, 0.3}

// NewBaselineEstimator 创建基线估计器，rng 为空时使用当前时间作为种子
func NewBaselineEstimator(rng *rand.Rand) *BaselineEstimator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &BaselineEstimator{rng: rng}
}

// Estimate 返回一个估计点，取值为 base + spread*U[0,1)
func (b *BaselineEstimator) Estimate() ResourceForecast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ResourceForecast{
		CPU:     baselines.cpu + b.rng.Float64()*baselines.cpuSpread,
		Memory:  baselines.memory + b.rng.Float64()*baselines.memorySpread,
		Disk:    baselines.disk + b.rng.Float64()*baselines.diskSpread,
		Network: baselines.network + b.rng.Float64()*baselines.networkSpread,
	}
}
