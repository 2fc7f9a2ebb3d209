// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 初始化 OpenTelemetry 的 OTLP 追踪与指标导出。
// 禁用时保持 noop provider。Tracer 为工作流引擎、恢复系统与调度器
// 提供按组件命名的 tracer，Fail 统一记录 span 失败。
package telemetry
