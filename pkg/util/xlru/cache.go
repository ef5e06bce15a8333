package xlru

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxSize = 1 << 24

var (
	// ErrInvalidSize 容量必须大于 0
	ErrInvalidSize = errors.New("xlru: size must be greater than 0")

	// ErrSizeExceedsMax 容量超出上限
	ErrSizeExceedsMax = errors.New("xlru: size must not exceed 16777216")

	// ErrInvalidTTL TTL 不能为负
	ErrInvalidTTL = errors.New("xlru: TTL must not be negative")
)

// Cache 带 TTL 的 LRU 缓存，Close 后所有操作变为空操作
type Cache[K comparable, V any] struct {
	lru       *expirable.LRU[K, V]
	closed    atomic.Bool
	closeOnce sync.Once
}

// New 创建缓存，ttl 为 0 表示条目不过期
func New[K comparable, V any](size int, ttl time.Duration) (*Cache[K, V], error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if size > maxSize {
		return nil, ErrSizeExceedsMax
	}
	if ttl < 0 {
		return nil, ErrInvalidTTL
	}
	return &Cache[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}, nil
}

// Get 读取条目
func (c *Cache[K, V]) Get(key K) (value V, ok bool) {
	if c.closed.Load() {
		return value, false
	}
	return c.lru.Get(key)
}

// Set 写入条目，返回是否发生淘汰
func (c *Cache[K, V]) Set(key K, value V) bool {
	if c.closed.Load() {
		return false
	}
	return c.lru.Add(key, value)
}

// Delete 删除条目
func (c *Cache[K, V]) Delete(key K) bool {
	if c.closed.Load() {
		return false
	}
	return c.lru.Remove(key)
}

// Clear 清空全部条目
func (c *Cache[K, V]) Clear() {
	if c.closed.Load() {
		return
	}
	c.lru.Purge()
}

// Len 返回条目数（含尚未清理的过期条目）
func (c *Cache[K, V]) Len() int {
	if c.closed.Load() {
		return 0
	}
	return c.lru.Len()
}

// Close 清空缓存并停止后台清理 goroutine，可重复调用
func (c *Cache[K, V]) Close() {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.lru.Purge()
		stopCleanupGoroutine(c.lru)
	})
}

// stopCleanupGoroutine 关闭 expirable.LRU 未导出的 done 通道，使清理 goroutine 退出。
//
// golang-lru v2.0.7 未提供公开的关闭方法。上游字段变化时返回 false，升级版本后需验证。
func stopCleanupGoroutine(lru any) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			stopped = false
		}
	}()

	v := reflect.ValueOf(lru)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return false
	}
	done := v.Elem().FieldByName("done")
	if !done.IsValid() || done.IsNil() || done.Type() != reflect.TypeOf(make(chan struct{})) {
		return false
	}
	ch := *(*chan struct{})(unsafe.Pointer(done.UnsafeAddr())) //nolint:gosec // 访问上游未导出字段
	close(ch)
	return true
}
