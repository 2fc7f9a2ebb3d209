// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的编排指标采集能力，覆盖
工作流执行、错误恢复与智能调度三大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离，便于 Grafana 等工具进行
可视化与告警。nil *Collector 上的所有方法都是空操作，
因此各组件可以在未配置指标时直接调用。

# 主要能力

  - 工作流指标：执行总数、执行耗时、步骤结果、运行中执行数与队列深度。
  - 恢复指标：错误上报计数、恢复尝试结果、恢复耗时、活跃恢复数、
    策略成功率 Gauge、被限流丢弃的通知数。
  - 调度指标：调度优化次数（按是否应用分组）、预测洞察数（按严重级别分组）。
*/
package metrics
