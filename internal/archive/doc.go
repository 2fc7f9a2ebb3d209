// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 archive 将终态工作流执行与恢复尝试写入关系数据库，供调度器在
内存历史为空时回溯。

# 概述

Archive 基于 GORM，支持 postgres 与 sqlite（glebarez 纯 Go 驱动）。
每行保存用于查询的索引列，完整对象以 JSON 存放在 Payload 列中。
写入在事务中执行，死锁、序列化失败与连接中断按指数退避重试。

# 核心类型

  - Archive          — 连接池、迁移、写入与查询
  - ExecutionRecord  — workflow_executions 表
  - AttemptRecord    — recovery_attempts 表
*/
package archive
