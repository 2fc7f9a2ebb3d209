// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供运维 HTTP 服务：存活探针、就绪探针与 Prometheus 指标。

# 概述

Manager 封装 net/http.Server，非阻塞启动并在 Shutdown 时按配置的
超时优雅关闭。路由固定为三条：

  - /health   存活探针，进程运行即返回 200
  - /ready    依次执行注册的 HealthCheck，任一失败返回 503
  - /metrics  promhttp 暴露的指标

# 核心类型

  - Manager       — 服务生命周期，Start/Shutdown/Addr/Errors
  - HealthHandler — /health 与 /ready 的处理器
  - HealthCheck   — 就绪检查接口，PingCheck 适配存储与归档的 Ping
*/
package server
