// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xid: 基于 sonyflake 的时间有序 ID
//   - xkeylock: 基于 key 的进程内互斥锁，支持 context 取消
//   - xlru: 带 TTL 的泛型 LRU 缓存
package util
