// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package tlsutil 提供加固的 TLS 客户端配置，
// 用于工作流 api_call 动作的 HTTP 客户端与启用 TLS 的 Redis 连接。
package tlsutil
