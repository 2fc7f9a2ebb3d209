package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/autoflow/types"
	"go.uber.org/zap"
)

// ActionRequest 传递给动作处理器的调用信息
type ActionRequest struct {
	Action      Action
	WorkflowID  string
	ExecutionID string
	StepID      string
	TriggerData map[string]any
}

// ActionHandler 执行某一类步骤动作
type ActionHandler interface {
	Execute(ctx context.Context, req ActionRequest) error
}

// ActionHandlerFunc 函数适配器
type ActionHandlerFunc func(ctx context.Context, req ActionRequest) error

// Execute 实现 ActionHandler
func (f ActionHandlerFunc) Execute(ctx context.Context, req ActionRequest) error {
	return f(ctx, req)
}

// =============================================================================
// 🧰 动作注册表
// =============================================================================

// ActionRegistry 按动作类型分发，custom 动作按 config.handler 名称分发
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[ActionType]ActionHandler
	custom   map[string]ActionHandler
	logger   *zap.Logger
}

// NewActionRegistry 创建注册表并注册内置处理器
func NewActionRegistry(client *http.Client, baseURL string, logger *zap.Logger) *ActionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ActionRegistry{
		handlers: make(map[ActionType]ActionHandler),
		custom:   make(map[string]ActionHandler),
		logger:   logger,
	}

	r.handlers[ActionAPICall] = newHTTPActionHandler(client, baseURL, logger)
	r.handlers[ActionScriptExecution] = loggingHandler(logger, "script execution requested", "command")
	r.handlers[ActionDatabaseOperation] = loggingHandler(logger, "database operation requested", "operation")
	r.handlers[ActionNotification] = loggingHandler(logger, "notification requested", "message")
	r.handlers[ActionCustom] = ActionHandlerFunc(r.executeCustom)
	return r
}

// Register 替换某一类型的处理器
func (r *ActionRegistry) Register(actionType ActionType, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

// RegisterCustom 注册具名 custom 处理器
func (r *ActionRegistry) RegisterCustom(name string, handler ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[name] = handler
}

// Has 检查动作类型是否可执行
func (r *ActionRegistry) Has(actionType ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[actionType]
	return ok
}

// Execute 在截止时间内执行动作。action.Timeout（毫秒）优先，否则使用 fallback。
// 失败统一包装为 ACTION_EXECUTION，超时的原因为 TIMEOUT。
func (r *ActionRegistry) Execute(ctx context.Context, req ActionRequest, fallback time.Duration) error {
	r.mu.RLock()
	handler, ok := r.handlers[req.Action.Type]
	r.mu.RUnlock()
	if !ok {
		return types.NewActionExecutionError(string(req.Action.Type),
			fmt.Errorf("unknown action type: %s", req.Action.Type))
	}

	timeout := fallback
	if req.Action.Timeout > 0 {
		timeout = time.Duration(req.Action.Timeout) * time.Millisecond
	}

	var err error
	for try := 0; try <= req.Action.Retries; try++ {
		err = r.executeOnce(ctx, handler, req, timeout)
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
	}
	return err
}

func (r *ActionRegistry) executeOnce(ctx context.Context, handler ActionHandler, req ActionRequest, timeout time.Duration) error {
	actionCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actionCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := handler.Execute(actionCtx, req)
	if ctx.Err() == nil && errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
		return types.NewActionExecutionError(string(req.Action.Type),
			types.NewTimeoutError(string(req.Action.Type), timeout).WithCause(err))
	}
	if err != nil {
		if types.IsCode(err, types.ErrActionExecution) {
			return err
		}
		return types.NewActionExecutionError(string(req.Action.Type), err)
	}
	return nil
}

func (r *ActionRegistry) executeCustom(ctx context.Context, req ActionRequest) error {
	name := configString(req.Action.Config, "handler")
	if name == "" {
		return errors.New("custom action requires a handler name")
	}

	r.mu.RLock()
	handler, ok := r.custom[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no custom action handler registered: %s", name)
	}
	return handler.Execute(ctx, req)
}

// loggingHandler 只记录动作，不在进程内执行脚本或数据库操作
func loggingHandler(logger *zap.Logger, msg, key string) ActionHandler {
	return ActionHandlerFunc(func(ctx context.Context, req ActionRequest) error {
		logger.Info(msg,
			zap.String("workflow_id", req.WorkflowID),
			zap.String("execution_id", req.ExecutionID),
			zap.String("step_id", req.StepID),
			zap.String(key, configString(req.Action.Config, key)))
		return ctx.Err()
	})
}

// =============================================================================
// 🌐 api_call
// =============================================================================

type httpActionHandler struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

func newHTTPActionHandler(client *http.Client, baseURL string, logger *zap.Logger) *httpActionHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpActionHandler{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Execute 端点为绝对 URL，或配置了 base URL 时发起请求，否则仅记录
func (h *httpActionHandler) Execute(ctx context.Context, req ActionRequest) error {
	endpoint := configString(req.Action.Config, "endpoint")
	if endpoint == "" {
		return errors.New("api_call requires an endpoint")
	}

	url := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if h.baseURL == "" {
			h.logger.Debug("api call without base url, skipping request",
				zap.String("step_id", req.StepID),
				zap.String("endpoint", endpoint))
			return nil
		}
		url = h.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	}

	method := strings.ToUpper(configString(req.Action.Config, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload, ok := req.Action.Config["body"]; ok && payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode api_call body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build api_call request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := req.Action.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			httpReq.Header.Set(k, fmt.Sprint(v))
		}
	}
	httpReq.Header.Set("X-Autoflow-Execution", req.ExecutionID)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("api_call %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api_call %s %s: unexpected status %d", method, url, resp.StatusCode)
	}

	h.logger.Debug("api call completed",
		zap.String("step_id", req.StepID),
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode))
	return nil
}

func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	v, ok := cfg[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
