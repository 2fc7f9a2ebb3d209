package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/internal/metrics"
	"github.com/BaSui01/autoflow/internal/store"
	"github.com/BaSui01/autoflow/internal/telemetry"
	"github.com/BaSui01/autoflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// HealthSource 提供主机指标，由 sysmetrics.Sampler 实现
type HealthSource interface {
	Metric(name string) (float64, bool)
}

// Archiver 归档恢复尝试，由 archive.Archive 实现
type Archiver interface {
	SaveAttempt(ctx context.Context, attempt *Attempt) error
}

// recentAttemptLimit 状态汇总使用的最近尝试数
const recentAttemptLimit = 50

// System 错误恢复系统
type System struct {
	cfg      config.RecoveryConfig
	logger   *zap.Logger
	store    store.Store
	metrics  *metrics.Collector
	sink     NotificationSink
	notifier *Notifier
	executor ActionExecutor
	health   HealthSource
	archive  Archiver
	now      func() time.Time
	tracer   trace.Tracer

	sem *semaphore.Weighted

	mu           sync.RWMutex
	strategies   map[string]*Strategy
	breakers     map[string]*cooldownBreaker
	patterns     map[string]*Pattern
	patternOrder []string
	active       map[string]*Attempt
	recent       []*Attempt // 最新在后
	recovering   map[string]bool

	// errMu 串行化错误事件的读改写
	errMu sync.Mutex

	lifecycleMu sync.Mutex
	loopCancel  context.CancelFunc
	runCancel   context.CancelFunc
	runCtx      context.Context
	loops       sync.WaitGroup
	inflight    sync.WaitGroup
}

// Option 恢复系统选项
type Option func(*System)

// WithStore 设置持久化存储
func WithStore(s store.Store) Option {
	return func(sys *System) { sys.store = s }
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(sys *System) { sys.metrics = c }
}

// WithNotifier 设置通知投递目标，默认写日志
func WithNotifier(sink NotificationSink) Option {
	return func(sys *System) { sys.sink = sink }
}

// WithActionExecutor 设置恢复动作执行器
func WithActionExecutor(ex ActionExecutor) Option {
	return func(sys *System) { sys.executor = ex }
}

// WithHealthSource 设置健康监控使用的主机指标源
func WithHealthSource(src HealthSource) Option {
	return func(sys *System) { sys.health = src }
}

// WithArchive 设置恢复尝试归档
func WithArchive(a Archiver) Option {
	return func(sys *System) { sys.archive = a }
}

// WithClock 设置时间源
func WithClock(now func() time.Time) Option {
	return func(sys *System) { sys.now = now }
}

// NewSystem 创建错误恢复系统并加载内置策略与错误模式
func NewSystem(cfg config.RecoveryConfig, logger *zap.Logger, opts ...Option) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrentRecoveries <= 0 {
		cfg.MaxConcurrentRecoveries = 5
	}
	if cfg.MaxResolutionAttempts <= 0 {
		cfg.MaxResolutionAttempts = 3
	}
	if cfg.EMAWeight <= 0 || cfg.EMAWeight >= 1 {
		cfg.EMAWeight = 0.1
	}

	s := &System{
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "recovery_system")),
		now:        time.Now,
		tracer:     telemetry.Tracer("recovery"),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRecoveries)),
		strategies: make(map[string]*Strategy),
		breakers:   make(map[string]*cooldownBreaker),
		patterns:   make(map[string]*Pattern),
		active:     make(map[string]*Attempt),
		recovering: make(map[string]bool),
		runCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemoryStore(cfg.ErrorTTL)
	}
	if s.executor == nil {
		s.executor = NewLoggingExecutor(s.logger)
	}
	s.notifier = NewNotifier(cfg.NotificationRate, cfg.NotificationBurst, s.sink, s.logger, s.metrics)

	for _, def := range DefaultStrategies() {
		st := def.copy()
		st.jsonTyped()
		s.putStrategyLocked(st)
	}
	for _, p := range DefaultPatterns(s.now()) {
		s.putPatternLocked(p.copy())
	}
	return s
}

func (s *System) putStrategyLocked(st *Strategy) {
	s.strategies[st.ID] = st
	if b, ok := s.breakers[st.ID]; ok {
		b.configure(st.MaxAttempts, st.Cooldown())
	} else {
		s.breakers[st.ID] = newCooldownBreaker(st, s.now, s.logger)
	}
	s.metrics.SetStrategySuccessRate(st.ID, st.SuccessRate)
}

func (s *System) putPatternLocked(p *Pattern) {
	if _, ok := s.patterns[p.ID]; !ok {
		s.patternOrder = append(s.patternOrder, p.ID)
	}
	s.patterns[p.ID] = p
}

// =============================================================================
// 🚦 生命周期
// =============================================================================

// Start 恢复已持久化的策略，启动恢复处理器与健康监控循环
func (s *System) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.loopCancel != nil {
		return errors.New("recovery system already started")
	}

	if n, err := s.RestoreStrategies(ctx); err != nil {
		s.logger.Warn("failed to restore recovery strategies", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("recovery strategies restored", zap.Int("count", n))
	}
	s.persistCatalog(ctx)

	loopCtx, loopCancel := context.WithCancel(ctx)
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	s.loopCancel, s.runCancel, s.runCtx = loopCancel, runCancel, runCtx

	s.loops.Add(1)
	go s.processorLoop(loopCtx)
	if s.health != nil {
		s.loops.Add(1)
		go s.healthLoop(loopCtx)
	}

	s.logger.Info("recovery system started",
		zap.Int("max_concurrent_recoveries", s.cfg.MaxConcurrentRecoveries),
		zap.Duration("processor_interval", s.cfg.ProcessorInterval),
		zap.Duration("health_monitor_interval", s.cfg.HealthMonitorInterval),
		zap.Int("strategies", len(s.GetStrategies())))
	return nil
}

// Shutdown 停止循环并等待进行中的恢复尝试
func (s *System) Shutdown(ctx context.Context) error {
	s.lifecycleMu.Lock()
	loopCancel, runCancel := s.loopCancel, s.runCancel
	s.loopCancel, s.runCancel = nil, nil
	s.lifecycleMu.Unlock()

	if loopCancel == nil {
		return nil
	}
	loopCancel()
	s.loops.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		runCancel()
		s.logger.Info("recovery system stopped")
		return nil
	case <-ctx.Done():
		runCancel()
		<-done
		return fmt.Errorf("recovery system shutdown: %w", ctx.Err())
	}
}

func (s *System) currentRunCtx() context.Context {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.runCtx
}

// =============================================================================
// 📥 错误上报
// =============================================================================

// ReportError 补全默认值、归类、持久化并通知，非 low 级别尝试自动恢复
func (s *System) ReportError(ctx context.Context, event ErrorEvent) (string, error) {
	now := s.now()
	event.Details = store.JSONMap(event.Details)
	event.Context = store.JSONMap(event.Context)
	if event.ID == "" {
		event.ID = "error_" + uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}

	if matched := s.classify(ctx, &event, now); len(matched) > 0 {
		s.logger.Debug("error matched known patterns",
			zap.String("error_id", event.ID),
			zap.Strings("patterns", matched))
	}

	if event.Severity == "" {
		event.Severity = SeverityMedium
	}
	event.Severity = Severity(strings.ToLower(string(event.Severity)))
	if event.Category == "" {
		event.Category = CategorySystem
	}
	if event.Type == "" {
		event.Type = "unknown"
	}
	if event.Message == "" {
		event.Message = "Unknown error"
	}
	if event.Source == "" {
		event.Source = "unknown"
	}
	if event.Impact.BusinessImpact == "" {
		event.Impact.BusinessImpact = SeverityLow
	}

	if err := s.saveError(ctx, &event, true); err != nil {
		return "", err
	}

	s.metrics.RecordErrorReported(string(event.Severity), string(event.Category))
	s.notifier.Notify(ctx, event)

	s.logger.Info("error reported",
		zap.String("error_id", event.ID),
		zap.String("severity", string(event.Severity)),
		zap.String("category", string(event.Category)),
		zap.String("type", event.Type),
		zap.String("message", event.Message))

	if event.Severity != SeverityLow {
		if s.sem.TryAcquire(1) {
			s.startAutoRecovery(event.ID)
		} else {
			s.logger.Debug("no recovery slot free, deferring to processor",
				zap.String("error_id", event.ID))
		}
	}
	return event.ID, nil
}

// classify 匹配错误模式，更新频次；第一个命中的模式补全未填写的严重程度与类别
func (s *System) classify(ctx context.Context, event *ErrorEvent, now time.Time) []string {
	var matched []string
	var toSave []*Pattern

	s.mu.Lock()
	for _, id := range s.patternOrder {
		p := s.patterns[id]
		if !patternMatches(p, event.Message) {
			continue
		}
		p.Frequency++
		p.LastSeen = now
		if len(matched) == 0 {
			if event.Severity == "" {
				event.Severity = p.Severity
			}
			if event.Category == "" {
				event.Category = p.Category
			}
		}
		matched = append(matched, id)
		toSave = append(toSave, p.copy())
	}
	s.mu.Unlock()

	for _, p := range toSave {
		s.savePattern(ctx, p)
	}
	return matched
}

// startAutoRecovery 在已占用的恢复槽内异步恢复
func (s *System) startAutoRecovery(errorID string) {
	s.mu.Lock()
	if s.recovering[errorID] {
		s.mu.Unlock()
		s.sem.Release(1)
		return
	}
	s.recovering[errorID] = true
	s.mu.Unlock()

	ctx := s.currentRunCtx()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.sem.Release(1)
		defer func() {
			s.mu.Lock()
			delete(s.recovering, errorID)
			s.mu.Unlock()
		}()
		s.autoRecover(ctx, errorID)
	}()
}

func (s *System) autoRecover(ctx context.Context, errorID string) {
	event, err := s.loadError(ctx, errorID)
	if err != nil {
		s.logger.Warn("auto recovery could not load error", zap.String("error_id", errorID), zap.Error(err))
		return
	}
	if event.Resolved || event.ResolutionAttempts >= s.cfg.MaxResolutionAttempts {
		return
	}

	strategy := s.selectStrategy(event)
	if strategy == nil {
		s.logger.Debug("no recovery strategy found", zap.String("error_id", errorID))
		return
	}
	s.runAttempt(ctx, event, strategy, true)
}

// =============================================================================
// 🛠️ 手动恢复
// =============================================================================

// TriggerRecovery 对错误执行指定或自动选择的策略，返回尝试 id。
// 恢复失败记录在尝试结果中，不作为错误返回。
func (s *System) TriggerRecovery(ctx context.Context, errorID, strategyID string) (string, error) {
	event, err := s.loadError(ctx, errorID)
	if err != nil {
		return "", err
	}

	var strategy *Strategy
	if strategyID != "" {
		s.mu.RLock()
		st, ok := s.strategies[strategyID]
		if ok {
			strategy = st.copy()
		}
		s.mu.RUnlock()
		if !ok {
			return "", types.NewNotFoundError("strategy", strategyID)
		}
		if !strategy.Enabled {
			return "", types.NewNoStrategyError(errorID)
		}
	} else {
		strategy = s.selectStrategy(event)
		if strategy == nil {
			return "", types.NewNoStrategyError(errorID)
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for recovery slot: %w", err)
	}
	defer s.sem.Release(1)

	attempt := s.runAttempt(ctx, event, strategy, false)
	return attempt.ID, nil
}

// selectStrategy 返回优先级最高、成功率最高的可用匹配策略
func (s *System) selectStrategy(event *ErrorEvent) *Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*Strategy, 0, len(s.strategies))
	for id, st := range s.strategies {
		if !st.Enabled || !matchesAll(event, st.Conditions) {
			continue
		}
		if b := s.breakers[id]; b != nil && !b.Available() {
			continue
		}
		candidates = append(candidates, st)
	}
	if len(candidates) == 0 {
		return nil
	}
	rankCandidates(candidates)
	return candidates[0].copy()
}

// =============================================================================
// 📚 策略与模式目录
// =============================================================================

// AddRecoveryStrategy 校验并注册策略，未给出 id 时自动生成
func (s *System) AddRecoveryStrategy(ctx context.Context, def Strategy) (string, error) {
	if err := validateStrategy(&def); err != nil {
		return "", err
	}

	st := def.copy()
	st.jsonTyped()
	if st.ID == "" {
		st.ID = "strategy_" + uuid.NewString()
	}

	if err := s.saveStrategy(ctx, st); err != nil {
		return "", err
	}

	s.mu.Lock()
	_, existed := s.strategies[st.ID]
	s.putStrategyLocked(st)
	s.mu.Unlock()

	if !existed {
		if err := s.store.AppendIndex(ctx, store.IndexStrategies, st.ID, s.cfg.StrategyTTL); err != nil {
			s.logger.Warn("failed to index strategy", zap.String("strategy_id", st.ID), zap.Error(err))
		}
	}

	s.logger.Info("recovery strategy added",
		zap.String("strategy_id", st.ID),
		zap.String("name", st.Name),
		zap.Int("priority", st.Priority))
	return st.ID, nil
}

func validateStrategy(st *Strategy) error {
	if strings.TrimSpace(st.Name) == "" {
		return types.NewValidationError("strategy name is required")
	}
	if len(st.Actions) == 0 {
		return types.NewValidationError("strategy %q declares no actions", st.Name)
	}
	if st.Priority < 0 {
		return types.NewValidationError("strategy %q: priority must be >= 0", st.Name)
	}
	if st.MaxAttempts < 1 {
		return types.NewValidationError("strategy %q: max_attempts must be >= 1", st.Name)
	}
	if st.CooldownPeriod < 0 {
		return types.NewValidationError("strategy %q: cooldown_period must not be negative", st.Name)
	}
	if st.SuccessRate < 0 || st.SuccessRate > 1 {
		return types.NewValidationError("strategy %q: success_rate must be within [0,1]", st.Name)
	}
	for _, c := range st.Conditions {
		if c.Field == "" {
			return types.NewValidationError("strategy %q: condition field is required", st.Name)
		}
		switch c.Operator {
		case OpEquals, OpContains, OpGreaterThan, OpLessThan:
		case OpMatches:
			if _, err := compilePattern(fmt.Sprint(c.Value), c.CaseSensitive); err != nil {
				return types.NewValidationError("strategy %q: invalid regex %q: %v", st.Name, c.Value, err)
			}
		default:
			return types.NewValidationError("strategy %q: unknown operator %q", st.Name, c.Operator)
		}
	}
	for _, a := range st.Actions {
		if err := validateAction(st.Name, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(name string, a Action) error {
	if !knownActionTypes[a.Type] {
		return types.NewValidationError("strategy %q: unknown action type %q", name, a.Type)
	}
	if a.Timeout < 0 {
		return types.NewValidationError("strategy %q: action timeout must not be negative", name)
	}
	if a.RollbackAction != nil {
		return validateAction(name, *a.RollbackAction)
	}
	return nil
}

// RestoreStrategies 加载已持久化的策略，覆盖同 id 的内置策略
func (s *System) RestoreStrategies(ctx context.Context) (int, error) {
	ids, err := s.store.ReadIndex(ctx, store.IndexStrategies)
	if err != nil {
		return 0, fmt.Errorf("read strategy index: %w", err)
	}

	loaded := 0
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		var st Strategy
		if err := s.store.GetJSON(ctx, store.PrefixStrategy+id, &st); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return loaded, fmt.Errorf("load strategy %s: %w", id, err)
		}
		s.mu.Lock()
		s.putStrategyLocked(&st)
		s.mu.Unlock()
		loaded++
	}
	return loaded, nil
}

// persistCatalog 将尚未落盘的内置策略与模式写入存储，失败只记录日志
func (s *System) persistCatalog(ctx context.Context) {
	ids, err := s.store.ReadIndex(ctx, store.IndexStrategies)
	if err != nil {
		s.logger.Warn("failed to read strategy index", zap.Error(err))
		return
	}
	indexed := make(map[string]bool, len(ids))
	for _, id := range ids {
		indexed[id] = true
	}

	var strategies []*Strategy
	var patterns []*Pattern
	s.mu.RLock()
	for id, st := range s.strategies {
		if !indexed[id] {
			strategies = append(strategies, st.copy())
		}
	}
	for _, id := range s.patternOrder {
		patterns = append(patterns, s.patterns[id].copy())
	}
	s.mu.RUnlock()

	for _, st := range strategies {
		if err := s.saveStrategy(ctx, st); err != nil {
			s.logger.Warn("failed to persist strategy", zap.String("strategy_id", st.ID), zap.Error(err))
			continue
		}
		if err := s.store.AppendIndex(ctx, store.IndexStrategies, st.ID, s.cfg.StrategyTTL); err != nil {
			s.logger.Warn("failed to index strategy", zap.String("strategy_id", st.ID), zap.Error(err))
		}
	}
	for _, p := range patterns {
		s.savePattern(ctx, p)
	}
}

// AddErrorPattern 注册错误模式
func (s *System) AddErrorPattern(ctx context.Context, def Pattern) (string, error) {
	if strings.TrimSpace(def.Pattern) == "" {
		return "", types.NewValidationError("error pattern is required")
	}
	if def.Severity != "" && !def.Severity.IsValid() {
		return "", types.NewValidationError("unknown severity %q", def.Severity)
	}

	p := def.copy()
	if p.ID == "" {
		p.ID = "pattern_" + uuid.NewString()
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = s.now()
	}

	if err := s.store.PutJSON(ctx, store.PrefixPattern+p.ID, p, s.cfg.StrategyTTL); err != nil {
		return "", fmt.Errorf("save pattern %s: %w", p.ID, err)
	}

	s.mu.Lock()
	s.putPatternLocked(p)
	s.mu.Unlock()

	s.logger.Info("error pattern added", zap.String("pattern_id", p.ID), zap.String("pattern", p.Pattern))
	return p.ID, nil
}

// GetErrorPatterns 按注册顺序返回模式副本
func (s *System) GetErrorPatterns() []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Pattern, 0, len(s.patternOrder))
	for _, id := range s.patternOrder {
		out = append(out, *s.patterns[id].copy())
	}
	return out
}

// GetStrategies 按 id 排序返回策略副本
func (s *System) GetStrategies() []Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Strategy, 0, len(s.strategies))
	for _, st := range s.strategies {
		out = append(out, *st.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StrategyState 返回策略冷却熔断器状态
func (s *System) StrategyState(strategyID string) (BreakerState, bool) {
	s.mu.RLock()
	b, ok := s.breakers[strategyID]
	s.mu.RUnlock()
	if !ok {
		return BreakerClosed, false
	}
	return b.State(), true
}

// =============================================================================
// 💾 持久化
// =============================================================================

func (s *System) saveError(ctx context.Context, event *ErrorEvent, index bool) error {
	if err := s.store.PutJSON(ctx, store.PrefixError+event.ID, event, s.cfg.ErrorTTL); err != nil {
		return fmt.Errorf("save error event %s: %w", event.ID, err)
	}
	if index {
		if err := s.store.AppendIndex(ctx, store.IndexErrors, event.ID, s.cfg.IndexTTL); err != nil {
			return fmt.Errorf("index error event %s: %w", event.ID, err)
		}
	}
	return nil
}

func (s *System) loadError(ctx context.Context, errorID string) (*ErrorEvent, error) {
	var event ErrorEvent
	if err := s.store.GetJSON(ctx, store.PrefixError+errorID, &event); err != nil {
		if store.IsNotFound(err) {
			return nil, types.NewNotFoundError("error", errorID)
		}
		return nil, err
	}
	return &event, nil
}

// GetError 返回错误事件
func (s *System) GetError(ctx context.Context, errorID string) (*ErrorEvent, error) {
	return s.loadError(ctx, errorID)
}

func (s *System) saveStrategy(ctx context.Context, st *Strategy) error {
	if err := s.store.PutJSON(ctx, store.PrefixStrategy+st.ID, st, s.cfg.StrategyTTL); err != nil {
		return fmt.Errorf("save strategy %s: %w", st.ID, err)
	}
	return nil
}

func (s *System) savePattern(ctx context.Context, p *Pattern) {
	if err := s.store.PutJSON(ctx, store.PrefixPattern+p.ID, p, s.cfg.StrategyTTL); err != nil {
		s.logger.Warn("failed to persist error pattern", zap.String("pattern_id", p.ID), zap.Error(err))
	}
}

// loadErrors 读取 errors 索引中 since 之后的事件
func (s *System) loadErrors(ctx context.Context, since time.Time) ([]*ErrorEvent, error) {
	ids, err := s.store.ReadIndex(ctx, store.IndexErrors)
	if err != nil {
		return nil, fmt.Errorf("read error index: %w", err)
	}

	seen := make(map[string]bool, len(ids))
	out := make([]*ErrorEvent, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		event, err := s.loadError(ctx, id)
		if err != nil {
			if types.IsCode(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if event.Timestamp.Before(since) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}
