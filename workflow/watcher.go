package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 👀 定义目录监听
// =============================================================================

// ReloadFunc 定义变更后的重载回调
type ReloadFunc func(ctx context.Context) error

// DefinitionWatcher 轮询定义目录，文件新增、修改或删除后触发重载。
// 删除文件不会注销已注册的工作流。
type DefinitionWatcher struct {
	dir      string
	interval time.Duration
	reload   ReloadFunc
	logger   *zap.Logger

	mu       sync.Mutex
	modTimes map[string]time.Time
}

// NewDefinitionWatcher 创建定义目录监听器
func NewDefinitionWatcher(dir string, interval time.Duration, reload ReloadFunc, logger *zap.Logger) *DefinitionWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DefinitionWatcher{
		dir:      dir,
		interval: interval,
		reload:   reload,
		logger:   logger.With(zap.String("component", "definition_watcher")),
		modTimes: make(map[string]time.Time),
	}
}

// WatchDefinitions 监听目录并在变更时重新加载到引擎
func (e *Engine) WatchDefinitions(dir string, interval time.Duration) *DefinitionWatcher {
	return NewDefinitionWatcher(dir, interval, func(ctx context.Context) error {
		_, err := e.LoadDefinitions(ctx, dir)
		return err
	}, e.logger)
}

// Run 阻塞轮询直到 ctx 取消。启动时只记录快照，不触发重载。
func (w *DefinitionWatcher) Run(ctx context.Context) error {
	if _, err := w.scan(); err != nil {
		w.logger.Warn("initial definitions scan failed", zap.String("dir", w.dir), zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("definition watcher started",
		zap.String("dir", w.dir),
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("definition watcher stopped")
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *DefinitionWatcher) poll(ctx context.Context) {
	changed, err := w.scan()
	if err != nil {
		w.logger.Warn("definitions scan failed", zap.String("dir", w.dir), zap.Error(err))
		return
	}
	if len(changed) == 0 {
		return
	}

	w.logger.Info("workflow definitions changed", zap.Strings("files", changed))
	if err := w.reload(ctx); err != nil {
		// 失败的文件保持新的修改时间，下次修改后再重试
		w.logger.Error("workflow definitions reload failed", zap.Error(err))
	}
}

// scan 比较目录快照，返回发生变化的文件
func (w *DefinitionWatcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]struct{}, len(entries))
	var changed []string
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		seen[path] = struct{}{}

		last, ok := w.modTimes[path]
		if !ok || info.ModTime().After(last) {
			w.modTimes[path] = info.ModTime()
			changed = append(changed, path)
		}
	}

	for path := range w.modTimes {
		if _, ok := seen[path]; !ok {
			delete(w.modTimes, path)
			changed = append(changed, path)
		}
	}
	return changed, nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
