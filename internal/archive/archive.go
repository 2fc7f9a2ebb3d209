package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/config"
	"github.com/BaSui01/autoflow/recovery"
	"github.com/BaSui01/autoflow/types"
	"github.com/BaSui01/autoflow/workflow"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultWriteRetries = 3
	defaultListLimit    = 50
)

// =============================================================================
// 🗄️ 执行归档
// =============================================================================

// Archive 基于 GORM 的执行与恢复尝试归档
type Archive struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	logger  *zap.Logger
	retries int

	mu     sync.RWMutex
	closed bool
}

// Open 按配置的驱动打开数据库并设置连接池
func Open(cfg config.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		if cfg.Name == "" {
			return nil, types.NewValidationError("sqlite archive requires a database path")
		}
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, types.NewValidationError("unsupported archive driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewStoreUnavailableError("open archive", err)
	}

	a, err := New(db, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		a.sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		a.sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		a.sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	a.logger.Info("archive opened",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))
	return a, nil
}

// New 使用已打开的 GORM 实例创建归档
func New(db *gorm.DB, logger *zap.Logger) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	return &Archive{
		db:      db,
		sqlDB:   sqlDB,
		logger:  logger.With(zap.String("component", "archive")),
		retries: defaultWriteRetries,
	}, nil
}

// AutoMigrate 创建或更新归档表
func (a *Archive) AutoMigrate(ctx context.Context) error {
	db, err := a.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&ExecutionRecord{}, &AttemptRecord{}); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}

// SaveExecution 归档执行，同一 ID 重复写入时覆盖
func (a *Archive) SaveExecution(ctx context.Context, exec *workflow.Execution) error {
	rec, err := newExecutionRecord(exec)
	if err != nil {
		return err
	}
	return a.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
	})
}

// SaveAttempt 归档恢复尝试，同一 ID 重复写入时覆盖
func (a *Archive) SaveAttempt(ctx context.Context, attempt *recovery.Attempt) error {
	rec, err := newAttemptRecord(attempt)
	if err != nil {
		return err
	}
	return a.withRetry(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
	})
}

// RecentExecutions 返回最近的归档执行（最新在前），workflowID 为空时不过滤
func (a *Archive) RecentExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := db.Model(&ExecutionRecord{})
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}

	var recs []ExecutionRecord
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, types.NewStoreUnavailableError("list executions", err)
	}

	out := make([]*workflow.Execution, 0, len(recs))
	for i := range recs {
		exec, err := recs[i].execution()
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// AttemptsForStrategy 返回某策略最近的恢复尝试（最新在前）
func (a *Archive) AttemptsForStrategy(ctx context.Context, strategyID string, limit int) ([]*recovery.Attempt, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	var recs []AttemptRecord
	err = db.Where("strategy_id = ?", strategyID).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, types.NewStoreUnavailableError("list attempts", err)
	}

	out := make([]*recovery.Attempt, 0, len(recs))
	for i := range recs {
		attempt, err := recs[i].attempt()
		if err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	return out, nil
}

// Ping 检查数据库连接
func (a *Archive) Ping(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return types.NewStoreUnavailableError("ping archive", errors.New("archive is closed"))
	}
	return a.sqlDB.PingContext(ctx)
}

// Close 关闭连接池
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.logger.Info("closing archive")
	return a.sqlDB.Close()
}

func (a *Archive) conn(ctx context.Context) (*gorm.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, types.NewStoreUnavailableError("archive", errors.New("archive is closed"))
	}
	return a.db.WithContext(ctx), nil
}

// =============================================================================
// 🔄 事务重试
// =============================================================================

// withRetry 在事务中执行写入，死锁或连接类错误按指数退避重试
func (a *Archive) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for i := 0; i < a.retries; i++ {
		db, err := a.conn(ctx)
		if err != nil {
			return err
		}

		err = db.Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return types.NewStoreUnavailableError("archive write", err)
		}

		a.logger.Warn("archive write failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", a.retries),
			zap.Error(err))

		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return types.NewStoreUnavailableError(
		fmt.Sprintf("archive write after %d retries", a.retries), lastErr)
}

// isRetryableError 死锁、序列化失败、锁超时与连接中断可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"deadlock",
		"serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe",
		"lock timeout", "lock wait timeout",
		"database is locked",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
