// Package xkeylock 提供进程内按 key 互斥的锁。
//
// 注册中心的锁管理器用它串行化同一进程内对同一锁路径的竞争，
// 保证每个会话在后端至多存在一个竞争者节点。
//
// 内部按 xxhash 分片，条目按引用计数创建和回收，
// 等待支持 context 取消；Close 后所有等待立即返回 [ErrClosed]。
package xkeylock
