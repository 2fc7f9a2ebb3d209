package sysmetrics

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
)

// Metric names understood by Metric.
const (
	MetricCPU     = "cpu_usage"
	MetricMemory  = "memory_usage"
	MetricDisk    = "disk_usage"
	MetricNetwork = "network_usage"
)

// Sample is one observation of host utilization, in percent.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	NetworkPercent float64   `json:"network_percent"`
}

// CollectFunc produces a Sample. The default implementation reads gopsutil.
type CollectFunc func(ctx context.Context) (Sample, error)

// Sampler collects host samples and keeps a bounded history.
type Sampler struct {
	cfg     config.SysMetricsConfig
	collect CollectFunc
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	history []Sample
	next    int
	full    bool

	netMu     sync.Mutex
	lastBytes uint64
	lastNetAt time.Time
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithCollector replaces the gopsutil collector.
func WithCollector(fn CollectFunc) Option {
	return func(s *Sampler) { s.collect = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// NewSampler creates a Sampler.
func NewSampler(cfg config.SysMetricsConfig, logger *zap.Logger, opts ...Option) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}

	s := &Sampler{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "sysmetrics")),
		now:     time.Now,
		history: make([]Sample, cfg.HistorySize),
	}
	s.collect = s.collectHost
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample collects one observation without recording it.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	return s.collect(ctx)
}

// Run samples on the configured interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.sampleOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	sample, err := s.collect(ctx)
	if err != nil {
		s.logger.Warn("host sample failed", zap.Error(err))
		return
	}
	s.Record(sample)
}

// Record appends a sample to the history ring.
func (s *Sampler) Record(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.next] = sample
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.full = true
	}
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.full && s.next == 0 {
		return Sample{}, false
	}
	idx := (s.next - 1 + len(s.history)) % len(s.history)
	return s.history[idx], true
}

// History returns recorded samples, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.full {
		out := make([]Sample, s.next)
		copy(out, s.history[:s.next])
		return out
	}
	out := make([]Sample, 0, len(s.history))
	out = append(out, s.history[s.next:]...)
	out = append(out, s.history[:s.next]...)
	return out
}

// HealthScore is 1 - max(cpu, memory, disk)/100, or 1 when nothing has been sampled.
func (s *Sampler) HealthScore() float64 {
	latest, ok := s.Latest()
	if !ok {
		return 1
	}
	worst := math.Max(latest.CPUPercent, math.Max(latest.MemoryPercent, latest.DiskPercent))
	return clamp(1-worst/100, 0, 1)
}

// Metric returns the latest value of a named metric in percent.
func (s *Sampler) Metric(name string) (float64, bool) {
	latest, ok := s.Latest()
	if !ok {
		return 0, false
	}
	switch name {
	case MetricCPU:
		return latest.CPUPercent, true
	case MetricMemory:
		return latest.MemoryPercent, true
	case MetricDisk:
		return latest.DiskPercent, true
	case MetricNetwork:
		return latest.NetworkPercent, true
	default:
		return 0, false
	}
}

// =============================================================================
// gopsutil
// =============================================================================

func (s *Sampler) collectHost(ctx context.Context) (Sample, error) {
	sample := Sample{Timestamp: s.now()}

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, fmt.Errorf("cpu percent: %w", err)
	}
	if len(cpuPercent) > 0 {
		sample.CPUPercent = cpuPercent[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("virtual memory: %w", err)
	}
	sample.MemoryPercent = vm.UsedPercent

	usage, err := disk.UsageWithContext(ctx, s.cfg.DiskPath)
	if err != nil {
		return sample, fmt.Errorf("disk usage %s: %w", s.cfg.DiskPath, err)
	}
	sample.DiskPercent = usage.UsedPercent

	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return sample, fmt.Errorf("net io counters: %w", err)
	}
	if len(counters) > 0 {
		sample.NetworkPercent = s.networkPercent(counters[0].BytesSent+counters[0].BytesRecv, sample.Timestamp)
	}

	return sample, nil
}

// networkPercent converts the byte counter delta since the previous call into
// a utilization of the configured link capacity.
func (s *Sampler) networkPercent(totalBytes uint64, at time.Time) float64 {
	s.netMu.Lock()
	defer s.netMu.Unlock()

	prevBytes, prevAt := s.lastBytes, s.lastNetAt
	s.lastBytes, s.lastNetAt = totalBytes, at

	if prevAt.IsZero() || totalBytes < prevBytes || s.cfg.LinkCapacityMbps <= 0 {
		return 0
	}
	elapsed := at.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	bitsPerSecond := float64(totalBytes-prevBytes) * 8 / elapsed
	return clamp(bitsPerSecond/(s.cfg.LinkCapacityMbps*1e6)*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
