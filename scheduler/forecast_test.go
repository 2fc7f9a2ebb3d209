package scheduler

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/sysmetrics"
	"github.com/BaSui01/autoflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// hourlySampler 以一小时间隔记录样本
func hourlySampler(t *testing.T, samples ...sysmetrics.Sample) *sysmetrics.Sampler {
	t.Helper()
	s := sysmetrics.NewSampler(config.DefaultSysMetricsConfig(), zaptest.NewLogger(t))
	start := testNow.Add(-time.Duration(len(samples)-1) * time.Hour)
	for i, sample := range samples {
		sample.Timestamp = start.Add(time.Duration(i) * time.Hour)
		s.Record(sample)
	}
	return s
}

func TestForecastResources_TwentyFourHourlyPoints(t *testing.T) {
	s := newTestScheduler(t, newFakeSource())

	out, err := s.ForecastResources(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, out, 24)

	assert.Equal(t, testNow, out[0].Timestamp)
	for i := 1; i < len(out); i++ {
		assert.Equal(t, time.Hour, out[i].Timestamp.Sub(out[i-1].Timestamp), "point %d", i)
	}
}

func TestForecastResources_InvalidHours(t *testing.T) {
	s := newTestScheduler(t, newFakeSource())

	for _, hours := range []int{0, -3} {
		_, err := s.ForecastResources(context.Background(), hours)
		require.Error(t, err)
		assert.True(t, types.IsCode(err, types.ErrValidation))
	}
}

func TestForecastResources_BaselineRanges(t *testing.T) {
	s := newTestScheduler(t, newFakeSource())

	out, err := s.ForecastResources(context.Background(), 48)
	require.NoError(t, err)

	for i, f := range out {
		assert.GreaterOrEqual(t, f.CPU, 0.5, "point %d", i)
		assert.Less(t, f.CPU, 0.8, "point %d", i)
		assert.GreaterOrEqual(t, f.Memory, 0.6, "point %d", i)
		assert.Less(t, f.Memory, 0.8, "point %d", i)
		assert.GreaterOrEqual(t, f.Disk, 0.4, "point %d", i)
		assert.Less(t, f.Disk, 0.6, "point %d", i)
		assert.GreaterOrEqual(t, f.Network, 0.3, "point %d", i)
		assert.Less(t, f.Network, 0.6, "point %d", i)
	}
}

func TestForecastResources_SeededBaselineIsDeterministic(t *testing.T) {
	newSeeded := func() *Scheduler {
		return NewScheduler(config.DefaultSchedulerConfig(), newFakeSource(), zaptest.NewLogger(t),
			WithClock(fixedClock), WithRand(rand.New(rand.NewSource(42))))
	}

	a, err := newSeeded().ForecastResources(context.Background(), 12)
	require.NoError(t, err)
	b, err := newSeeded().ForecastResources(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestForecastResources_Confidence(t *testing.T) {
	s := newTestScheduler(t, newFakeSource())

	out, err := s.ForecastResources(context.Background(), 72)
	require.NoError(t, err)

	assert.InDelta(t, 0.8, out[0].Confidence, 1e-12)
	assert.InDelta(t, 0.8*0.98, out[1].Confidence, 1e-12)
	assert.InDelta(t, 0.3, out[49].Confidence, 1e-12)
	assert.InDelta(t, 0.3, out[71].Confidence, 1e-12)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i].Confidence, out[i-1].Confidence)
	}
}

func TestForecastResources_HoltFollowsLinearTrend(t *testing.T) {
	sampler := hourlySampler(t,
		sysmetrics.Sample{CPUPercent: 10, MemoryPercent: 50, DiskPercent: 30, NetworkPercent: 20},
		sysmetrics.Sample{CPUPercent: 20, MemoryPercent: 50, DiskPercent: 30, NetworkPercent: 20},
		sysmetrics.Sample{CPUPercent: 30, MemoryPercent: 50, DiskPercent: 30, NetworkPercent: 20},
		sysmetrics.Sample{CPUPercent: 40, MemoryPercent: 50, DiskPercent: 30, NetworkPercent: 20},
	)
	s := newTestScheduler(t, newFakeSource(), WithLoadSource(sampler))

	out, err := s.ForecastResources(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 10)

	// 每小时上升 10 个百分点，第 6 小时起封顶
	wantCPU := []float64{0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1, 1, 1}
	for i, f := range out {
		assert.InDelta(t, wantCPU[i], f.CPU, 1e-9, "cpu at %d", i)
		assert.InDelta(t, 0.5, f.Memory, 1e-9, "memory at %d", i)
		assert.InDelta(t, 0.3, f.Disk, 1e-9, "disk at %d", i)
		assert.InDelta(t, 0.2, f.Network, 1e-9, "network at %d", i)
	}
}

func TestForecastResources_HoltClampsDecline(t *testing.T) {
	sampler := hourlySampler(t,
		sysmetrics.Sample{CPUPercent: 30},
		sysmetrics.Sample{CPUPercent: 20},
		sysmetrics.Sample{CPUPercent: 10},
	)
	s := newTestScheduler(t, newFakeSource(), WithLoadSource(sampler))

	out, err := s.ForecastResources(context.Background(), 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, out[0].CPU, 1e-9)
	assert.InDelta(t, 0.0, out[1].CPU, 1e-9)
	assert.Equal(t, 0.0, out[4].CPU)
}

func TestForecastResources_SingleSampleUsesBaseline(t *testing.T) {
	s := newTestScheduler(t, newFakeSource(), WithLoadSource(cpuSampler(t, 99)))

	out, err := s.ForecastResources(context.Background(), 3)
	require.NoError(t, err)
	for _, f := range out {
		assert.Less(t, f.CPU, 0.8)
	}
}

// noisySampler 以 30 秒间隔记录围绕固定均值抖动的样本
func noisySampler(t *testing.T, cpu, mem []float64) *sysmetrics.Sampler {
	t.Helper()
	s := sysmetrics.NewSampler(config.DefaultSysMetricsConfig(), zaptest.NewLogger(t))
	start := testNow.Add(-time.Duration(len(cpu)-1) * 30 * time.Second)
	for i := range cpu {
		s.Record(sysmetrics.Sample{
			Timestamp:     start.Add(time.Duration(i) * 30 * time.Second),
			CPUPercent:    cpu[i],
			MemoryPercent: mem[i],
			DiskPercent:   30,
		})
	}
	return s
}

func TestForecastResources_DenseNoisySamplesStayFlat(t *testing.T) {
	sampler := noisySampler(t,
		[]float64{37, 43, 38, 42, 37, 43, 39, 41, 37, 43},
		[]float64{49, 52, 50, 51, 49, 52, 49, 52, 50, 52},
	)
	s := newTestScheduler(t, newFakeSource(), WithLoadSource(sampler))

	out, err := s.ForecastResources(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, out, 24)
	for i, f := range out {
		assert.InDelta(t, 0.40, f.CPU, 0.01, "cpu at %d", i)
		assert.InDelta(t, 0.506, f.Memory, 0.01, "memory at %d", i)
		assert.InDelta(t, 0.30, f.Disk, 1e-9, "disk at %d", i)
	}

	insights, err := s.resourceInsights(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestForecastResources_TrendIsPerHour(t *testing.T) {
	// 两个小时桶：上一小时均值 40%，当前小时均值 45%
	s := sysmetrics.NewSampler(config.DefaultSysMetricsConfig(), zaptest.NewLogger(t))
	base := testNow.Add(-90 * time.Minute)
	for i, v := range []float64{38, 42, 40, 40} {
		s.Record(sysmetrics.Sample{Timestamp: base.Add(time.Duration(i) * 30 * time.Second), CPUPercent: v})
	}
	for i, v := range []float64{44, 46, 45} {
		s.Record(sysmetrics.Sample{Timestamp: testNow.Add(-time.Duration(2-i) * 30 * time.Second), CPUPercent: v})
	}
	sched := newTestScheduler(t, newFakeSource(), WithLoadSource(s))

	out, err := sched.ForecastResources(context.Background(), 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, out[0].CPU, 1e-9)
	assert.InDelta(t, 0.50, out[1].CPU, 1e-9)
	assert.InDelta(t, 0.55, out[2].CPU, 1e-9)
}

func TestHourlyBuckets(t *testing.T) {
	base := testNow
	tests := []struct {
		name    string
		samples []sysmetrics.Sample
		wantCPU []float64
	}{
		{
			name: "hourly samples keep one bucket each",
			samples: []sysmetrics.Sample{
				{Timestamp: base.Add(-2 * time.Hour), CPUPercent: 10},
				{Timestamp: base.Add(-time.Hour), CPUPercent: 20},
				{Timestamp: base, CPUPercent: 30},
			},
			wantCPU: []float64{10, 20, 30},
		},
		{
			name: "dense samples average into one bucket",
			samples: []sysmetrics.Sample{
				{Timestamp: base.Add(-time.Minute), CPUPercent: 30},
				{Timestamp: base.Add(-30 * time.Second), CPUPercent: 50},
				{Timestamp: base, CPUPercent: 40},
			},
			wantCPU: []float64{40},
		},
		{
			name: "missing timestamps share the newest bucket",
			samples: []sysmetrics.Sample{
				{CPUPercent: 20},
				{CPUPercent: 60},
			},
			wantCPU: []float64{40},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hourlyBuckets(tt.samples)
			require.Len(t, got, len(tt.wantCPU))
			for i, want := range tt.wantCPU {
				assert.InDelta(t, want, got[i].CPUPercent, 1e-9, "bucket %d", i)
			}
		})
	}
}

func TestFitHolt_SingleBucketIsFlat(t *testing.T) {
	m := fitHolt([]sysmetrics.Sample{{CPUPercent: 40}}, func(x sysmetrics.Sample) float64 { return x.CPUPercent })
	assert.InDelta(t, 0.4, m.at(0), 1e-9)
	assert.InDelta(t, 0.4, m.at(23), 1e-9)
}
