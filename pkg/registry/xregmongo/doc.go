// Package xregmongo 提供基于 MongoDB 的注册中心后端。
//
// 集合布局（前缀默认 "registry"）：
//
//   - registry_nodes：节点，_id 为路径，临时节点带 owner_session
//   - registry_sessions：会话，expires_at 为过期时间，续约时推后
//   - registry_events：变更事件，_id 为修订号
//   - registry_counters：全局修订号计数器
//
// 写入流程为分配修订号、条件写节点、追加事件。条件写失败时写入占位事件，
// 保证修订号连续；Watch 每个轮询间隔读取一次事件并按路径合并。
// 过期会话在任一会话续约时回收，清理任务按 cron 表达式定期回收会话并裁剪事件。
//
// 不依赖副本集或事务，单机 MongoDB 即可使用。
package xregmongo
