package xkeylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrLockNotHeld 重复释放
	ErrLockNotHeld = errors.New("xkeylock: lock not held")

	// ErrClosed 锁已关闭
	ErrClosed = errors.New("xkeylock: closed")

	// ErrInvalidShardCount 分片数必须是 2 的幂
	ErrInvalidShardCount = errors.New("xkeylock: invalid shard count")
)

const (
	defaultShardCount = 32
	maxShardCount     = 1 << 16
)

// Handle 已持有的 key 锁
type Handle interface {
	// Unlock 释放锁，重复调用返回 ErrLockNotHeld
	Unlock() error

	// Key 返回锁定的 key
	Key() string
}

// Option 配置选项
type Option func(*KeyLock)

// WithShardCount 设置分片数，必须是 2 的幂
func WithShardCount(n int) Option {
	return func(kl *KeyLock) {
		kl.shardCount = n
	}
}

// KeyLock 按 key 互斥的锁集合，并发安全
type KeyLock struct {
	shardCount int
	shards     []shard
	mask       uint64
	closed     atomic.Bool
	keyCount   atomic.Int64
	done       chan struct{}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// entry 容量为 1 的 channel 即互斥量，refcnt 为 0 时回收
type entry struct {
	ch     chan struct{}
	refcnt int32
}

type handle struct {
	kl       *KeyLock
	key      string
	e        *entry
	released atomic.Bool
}

// New 创建 KeyLock
func New(opts ...Option) (*KeyLock, error) {
	kl := &KeyLock{shardCount: defaultShardCount, done: make(chan struct{})}
	for _, opt := range opts {
		if opt != nil {
			opt(kl)
		}
	}
	sc := kl.shardCount
	if sc <= 0 || sc > maxShardCount || sc&(sc-1) != 0 {
		return nil, fmt.Errorf("%w: must be a positive power of 2 (max %d), got %d", ErrInvalidShardCount, maxShardCount, sc)
	}
	kl.shards = make([]shard, sc)
	for i := range kl.shards {
		kl.shards[i].entries = make(map[string]*entry)
	}
	kl.mask = uint64(sc - 1)
	return kl, nil
}

func (kl *KeyLock) shardFor(key string) *shard {
	return &kl.shards[xxhash.Sum64String(key)&kl.mask]
}

func (kl *KeyLock) ref(key string) (*entry, error) {
	s := kl.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if kl.closed.Load() {
		return nil, ErrClosed
	}
	e, ok := s.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		s.entries[key] = e
		kl.keyCount.Add(1)
	}
	e.refcnt++
	return e, nil
}

func (kl *KeyLock) unref(key string, e *entry) {
	s := kl.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refcnt--
	if e.refcnt == 0 {
		delete(s.entries, key)
		kl.keyCount.Add(-1)
	}
}

// Acquire 阻塞直到获得 key 的锁、ctx 结束或 KeyLock 关闭
func (kl *KeyLock) Acquire(ctx context.Context, key string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := kl.ref(key)
	if err != nil {
		return nil, err
	}
	select {
	case e.ch <- struct{}{}:
		return &handle{kl: kl, key: key, e: e}, nil
	case <-ctx.Done():
		kl.unref(key, e)
		return nil, ctx.Err()
	case <-kl.done:
		kl.unref(key, e)
		return nil, ErrClosed
	}
}

// TryAcquire 非阻塞获取，锁被占用时返回 nil, nil
func (kl *KeyLock) TryAcquire(key string) (Handle, error) {
	e, err := kl.ref(key)
	if err != nil {
		return nil, err
	}
	select {
	case e.ch <- struct{}{}:
		return &handle{kl: kl, key: key, e: e}, nil
	default:
		kl.unref(key, e)
		return nil, nil
	}
}

// Len 返回当前被持有或等待中的 key 数量
func (kl *KeyLock) Len() int {
	return int(max(kl.keyCount.Load(), 0))
}

// Close 关闭 KeyLock，唤醒全部等待者；已持有的 Handle 仍可 Unlock
func (kl *KeyLock) Close() error {
	if !kl.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(kl.done)
	return nil
}

func (h *handle) Unlock() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrLockNotHeld
	}
	<-h.e.ch
	h.kl.unref(h.key, h.e)
	return nil
}

func (h *handle) Key() string {
	return h.key
}
