// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AutoFlow 服务端程序入口。

# 概述

cmd/autoflow 装配工作流引擎、错误恢复系统与智能调度器，并通过独立的
运维端口暴露 /health、/ready 与 /metrics。配置来自 YAML 文件与环境变量，
日志使用 zap，追踪使用 OpenTelemetry。

# 子命令

  - serve    — 启动全部组件，收到 SIGINT/SIGTERM 后按依赖逆序关闭
  - validate — 校验 YAML 工作流定义文件
  - health   — 探测运维端口的 /health
  - version  — 输出构建时注入的 Version、BuildTime、GitCommit

# 装配顺序

遥测 → 指标 → 存储（Redis 或内存）→ 归档（可选）→ 主机采样 →
恢复系统 → 工作流引擎 → 调度器 → 运维服务。
*/
package main
