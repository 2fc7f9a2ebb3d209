// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供自动化工作流引擎。

# 概述

工作流由若干步骤组成，步骤之间通过 dependencies 形成有向无环图。
引擎负责注册与校验工作流定义、接收执行请求、在有界并发下执行队列中的
执行，并记录每个步骤的状态、日志与整体进度。

# 核心类型

  - Engine             — 工作流引擎（注册、执行队列、定时调度、查询）
  - Workflow / Step    — 工作流定义与步骤
  - Execution          — 一次执行的快照（步骤状态、日志、进度）
  - ConditionEvaluator — 步骤执行条件评估（系统健康、指标阈值、时间窗口等）
  - ActionRegistry     — 按类型分发步骤动作（api_call、script_execution 等）
  - RetryPolicy        — fixed / linear / exponential 退避重试

# 执行语义

  - 注册时校验步骤 id 唯一、依赖存在且无环，执行时按稳定拓扑序处理步骤
  - 依赖未完成或条件不满足的步骤标记为 skipped，并向下游传递
  - 步骤最终失败时执行 rollback 动作，上报错误事件，整个执行置为 failed
  - 取消是协作式的，只在步骤之间和重试等待期间生效
  - 终态执行不再被修改，progress 始终等于已完成步骤占比

# 定时调度

带 schedule 的工作流由 robfig/cron 解析，按 Next(lastRun 或 createdAt)
判断是否到期，到期后以 {"trigger": "scheduled"} 触发执行。
*/
package workflow
