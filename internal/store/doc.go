// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 store 提供编排引擎的持久化键值存储，支持 TTL 与追加式列表索引。

# 概述

工作流、执行记录、错误事件、恢复尝试、恢复策略与错误模式都以
JSON 形式保存在带命名空间的键下（如 workflow:<id>、error:<id>），
列表索引（errors、recoveries、workflows、strategies）只保存实体 ID，
读取时再按键取回实体。

# 核心类型

  - Store：存储接口，PutJSON/GetJSON/Delete/AppendIndex/ReadIndex/Ping/Close。
  - RedisStore：基于 go-redis 的实现，带连接池与后台健康检查。
  - MemoryStore：进程内实现，用于未配置 Redis 的部署与单元测试。

# 错误语义

键不存在时返回 ErrNotFound；其余后端故障统一包装为
types.ErrStoreUnavailable，调用方据此中止当前操作。
*/
package store
