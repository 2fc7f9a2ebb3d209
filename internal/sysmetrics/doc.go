// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 sysmetrics 基于 gopsutil 周期采集主机 CPU、内存、磁盘与网络利用率，
并在有界环形缓冲区中保留最近的样本。

工作流条件评估（system_health、metric_threshold）、恢复系统的健康监控
以及调度器的系统负载与资源预测都从同一个 Sampler 读取数据。
所有利用率均以百分比（0-100）表示。
*/
package sysmetrics
