// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 scheduler 根据执行历史与主机指标调整工作流调度。

# 概述

Scheduler 为每个启用的工作流计算系统负载、历史成功率、资源占用与
业务影响四个因子，映射为三档 cron 表达式之一，置信度足够高时回写到
工作流引擎。预测部分基于执行趋势、失败率与资源预测生成洞察，结果
带 TTL 缓存在 Store 中。

# 估计器

  - 主机样本不少于两个时，资源预测使用 Holt 双指数平滑
  - 没有样本时使用 BaselineEstimator，在固定基线上叠加随机波动
  - 效率指标中暂无数据来源的字段使用 Placeholder* 常量
*/
package scheduler
