// Package config 提供 AutoFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量名由 AUTOFLOW 前缀与结构体 env 标签逐层拼接，
// 例如 Engine.MaxConcurrentExecutions 对应
// AUTOFLOW_ENGINE_MAX_CONCURRENT_EXECUTIONS。
package config
