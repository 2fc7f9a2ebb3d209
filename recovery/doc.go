// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 recovery 提供错误上报、归类与自动恢复。

# 概述

System 接收 ErrorEvent，按已知错误模式补全严重程度与类别后持久化并
通知；非 low 级别的错误在有空闲恢复槽时立即尝试自动恢复，否则由后台
处理器稍后接手。恢复策略按条件匹配，按 priority、successRate、id 排序
选出，每个策略带一个冷却熔断器。

# 核心类型

  - System          — 错误上报、策略选择、恢复执行与统计
  - Strategy        — 恢复策略（条件、动作、优先级、冷却期、成功率）
  - Pattern         — 已知错误模式，命中时累加频次
  - Attempt         — 一次恢复尝试的动作记录与结果
  - ActionExecutor  — 执行恢复动作，默认只记录日志
  - Notifier        — 基于 x/time/rate 限流的错误通知

# 后台循环

  - 处理器：按时间先后为未解决且未超过尝试上限的错误启动恢复
  - 健康监控：CPU 或内存超过告警阈值时上报 resource 类别的错误
*/
package recovery
