// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 AutoFlow 各模块共享的结构化错误。

# 概述

types 是最底层的公共包，不依赖任何内部包。workflow、recovery、scheduler
与存储层通过统一的 ErrorCode 判断错误类别，而不是比较错误文本。

# 错误码

  - VALIDATION        — 输入不合法（环形依赖、空名称、非法 cron）
  - NOT_FOUND         — 工作流、执行、错误或策略不存在
  - DISABLED          — 工作流被禁用
  - NO_STRATEGY       — 没有可用的恢复策略
  - ACTION_EXECUTION  — 动作执行失败
  - STORE_UNAVAILABLE — Redis 或归档库不可用，可重试
  - TIMEOUT           — 动作或恢复超时，可重试
  - INTERNAL_ERROR    — 其他内部错误

# 用法

	if types.IsCode(err, types.ErrNotFound) { ... }
	if types.IsRetryable(err) { ... }
*/
package types
