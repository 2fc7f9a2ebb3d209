package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 存储
// =============================================================================

// RedisStore 基于 Redis 的持久化存储
type RedisStore struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stopCh chan struct{}
}

// Config Redis 存储配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀，多个部署共享同一个 Redis 时用于隔离
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// TLS 配置，nil 表示明文连接
	TLS *tls.Config `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认存储配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DB:                  0,
		KeyPrefix:           "autoflow:",
		DefaultTTL:          7 * 24 * time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewRedisStore 创建 Redis 存储并验证连接
func NewRedisStore(config Config, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		TLSConfig:    config.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewStoreUnavailableError("connect", fmt.Errorf("ping %s: %w", config.Addr, err))
	}

	s := &RedisStore{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "store")),
		stopCh: make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	s.logger.Info("redis store initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
	)

	return s, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

func (s *RedisStore) key(k string) string {
	return s.config.KeyPrefix + k
}

func (s *RedisStore) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return s.config.DefaultTTL
	}
	return ttl
}

func (s *RedisStore) checkOpen(op string) error {
	if s.closed {
		return types.NewStoreUnavailableError(op, errors.New("store is closed"))
	}
	return nil
}

// PutJSON 序列化并写入值
func (s *RedisStore) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("put " + key); err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(key), data, s.ttl(ttl)).Err(); err != nil {
		s.logger.Error("store put failed", zap.String("key", key), zap.Error(err))
		return types.NewStoreUnavailableError("put "+key, err)
	}
	return nil
}

// GetJSON 读取并反序列化值
func (s *RedisStore) GetJSON(ctx context.Context, key string, dest any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("get " + key); err != nil {
		return err
	}

	val, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		s.logger.Error("store get failed", zap.String("key", key), zap.Error(err))
		return types.NewStoreUnavailableError("get "+key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete 删除键
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("delete"); err != nil {
		return err
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	if err := s.redis.Del(ctx, prefixed...).Err(); err != nil {
		s.logger.Error("store delete failed", zap.Strings("keys", keys), zap.Error(err))
		return types.NewStoreUnavailableError("delete", err)
	}
	return nil
}

// AppendIndex 追加 ID 到列表索引并刷新过期时间
func (s *RedisStore) AppendIndex(ctx context.Context, index, id string, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("append " + index); err != nil {
		return err
	}

	key := s.key(index)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, id)
	pipe.Expire(ctx, key, s.ttl(ttl))
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("store index append failed", zap.String("index", index), zap.Error(err))
		return types.NewStoreUnavailableError("append "+index, err)
	}
	return nil
}

// ReadIndex 读取列表索引
func (s *RedisStore) ReadIndex(ctx context.Context, index string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("read " + index); err != nil {
		return nil, err
	}

	ids, err := s.redis.LRange(ctx, s.key(index), 0, -1).Result()
	if err != nil {
		return nil, types.NewStoreUnavailableError("read "+index, err)
	}
	return ids, nil
}

// Ping 检查 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen("ping"); err != nil {
		return err
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return types.NewStoreUnavailableError("ping", err)
	}
	return nil
}

// Close 关闭存储
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.stopCh)
	s.logger.Info("closing redis store")

	return s.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (s *RedisStore) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Ping(ctx); err != nil {
				s.logger.Error("store health check failed", zap.Error(err))
			} else {
				s.logger.Debug("store health check passed")
			}
			cancel()
		}
	}
}
