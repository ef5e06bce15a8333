// Package xlru 带 TTL 的并发安全 LRU 缓存，封装 hashicorp/golang-lru/v2 的 expirable.LRU。
//
// 注册中心的路径存储用它缓存节点读取结果。与直接使用 expirable.LRU 相比，
// [Cache.Close] 会停止上游在 TTL > 0 时启动的过期清理 goroutine。
package xlru
