// Package xregredis 提供基于 Redis 的 xregistry.Backend 实现。
//
// 键布局（P 为键前缀，默认 "{xreg}"）：
//
//	P:n:<path>   节点 hash：v 值、e 临时标记、o 所属会话、ver 版本、cr 创建修订号
//	P:idx        全部路径的 ZSET，按字典序区间查询子树
//	P:s:<id>     会话键，PX 过期
//	P:sn:<id>    会话拥有的临时节点集合
//	P:sx         会话过期索引 ZSET
//	P:rev        全局修订号
//	P:ev         变更 Stream，条目 ID 为 <rev>-0
//
// 写操作由 Lua 脚本原子完成。变更按 PollInterval 轮询，同一轮询窗口内
// 同一路径的多次变更只投递最后一次。
package xregredis
