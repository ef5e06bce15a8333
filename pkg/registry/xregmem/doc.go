// Package xregmem 提供进程内的 xregistry.Backend 实现。
//
// 全部状态保存在内存中，适用于单进程部署与测试。同一实例可被多个
// Registry 共享以模拟多会话；[WithPollInterval] 模拟轮询型后端的合并窗口，
// [Backend.Expire] 与 [Backend.FailKeepAlive] 用于注入会话故障。
package xregmem
