package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Key namespaces shared by the engine, recovery system and scheduler.
const (
	PrefixWorkflow  = "workflow:"
	PrefixExecution = "execution:"
	PrefixError     = "error:"
	PrefixRecovery  = "recovery:"
	PrefixStrategy  = "strategy:"
	PrefixPattern   = "pattern:"

	IndexWorkflows  = "workflows"
	IndexErrors     = "errors"
	IndexRecoveries = "recoveries"
	IndexStrategies = "strategies"

	KeyPredictiveInsights = "predictive_insights"
)

// ErrNotFound is returned by GetJSON when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// IsNotFound reports whether err is a store miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the durable key-value contract used by the orchestration core.
type Store interface {
	// PutJSON serializes v and stores it under key. A zero ttl uses the store default.
	PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	// GetJSON loads the value under key into dest.
	GetJSON(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
	// AppendIndex appends id to an append-only list and refreshes its ttl.
	AppendIndex(ctx context.Context, index, id string, ttl time.Duration) error
	// ReadIndex returns the ids of an index in insertion order.
	ReadIndex(ctx context.Context, index string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// JSONValue returns v in the shape GetJSON decodes it into: numbers become
// float64, slices become []any and objects become map[string]any.
// Values that cannot be encoded are returned unchanged.
func JSONValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// JSONMap is JSONValue for free-form payload maps. Payload fields are
// tagged omitempty, so an empty map reads back as nil and is returned as nil.
func JSONMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out, ok := JSONValue(m).(map[string]any)
	if !ok {
		return m
	}
	return out
}
