package xregistry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/util/xlru"
)

// 断路器参数
const (
	breakerMaxRequests     = 3
	breakerInterval        = 30 * time.Second
	breakerOpenTimeout     = 5 * time.Second
	breakerTripConsecutive = 5
)

// pathStore 路径到节点的映射，所有数据以后端为准，本地只保留读缓存。
//
// 缓存填充采用 epoch 校验：读请求发起后如发生过任何失效，结果不写入缓存，
// 避免并发写入或 watch 事件之后回填旧值。
type pathStore struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker[any]
	logger  xlog.Logger

	mu    sync.Mutex // 保护 epoch 与缓存的"校验后写入"
	epoch uint64
	cache *xlru.Cache[string, Node] // nil 表示关闭缓存
}

func newPathStore(backend Backend, cfg *Config, logger xlog.Logger) (*pathStore, error) {
	s := &pathStore{backend: backend, logger: logger}
	if cfg.CacheSize > 0 {
		cache, err := xlru.New[string, Node](cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "xregistry-backend",
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripConsecutive
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "backend circuit breaker state changed",
				xlog.Component(name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return s, nil
}

// isBreakerSuccess 业务结果与调用方取消不计入后端故障
func isBreakerSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrEphemeralMismatch) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, context.Canceled)
}

// call 经断路器执行后端调用
func call[T any](s *pathStore, fn func() (T, error)) (T, error) {
	v, err := s.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (s *pathStore) get(ctx context.Context, path string) (Node, error) {
	if s.cache != nil {
		if n, ok := s.cache.Get(path); ok {
			return n, nil
		}
	}

	s.mu.Lock()
	seen := s.epoch
	s.mu.Unlock()

	n, err := call(s, func() (Node, error) {
		return s.backend.Get(ctx, path)
	})
	if err != nil {
		return Node{}, err
	}
	if s.cache != nil {
		s.mu.Lock()
		if s.epoch == seen {
			s.cache.Set(path, n)
		}
		s.mu.Unlock()
	}
	return n, nil
}

func (s *pathStore) exists(ctx context.Context, path string) (bool, error) {
	_, err := s.get(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNodeNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *pathStore) put(ctx context.Context, session, path, value string, ephemeral bool) (Change, error) {
	defer s.invalidate(path)
	return call(s, func() (Change, error) {
		return s.backend.Put(ctx, session, path, value, ephemeral)
	})
}

// remove 删除节点，节点不存在时同样成功
func (s *pathStore) remove(ctx context.Context, path string) (bool, error) {
	defer s.invalidate(path)
	return call(s, func() (bool, error) {
		_, existed, err := s.backend.Delete(ctx, path)
		return existed, err
	})
}

func (s *pathStore) children(ctx context.Context, path string) ([]string, error) {
	paths, err := call(s, func() ([]string, error) {
		return s.backend.List(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return ChildSegments(path, paths), nil
}

// nodesUnder 读取 path 的直接子节点，读取期间被删除的子节点会被跳过
func (s *pathStore) nodesUnder(ctx context.Context, path string) ([]Node, error) {
	segments, err := s.children(ctx, path)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(segments))
	for _, seg := range segments {
		n, err := call(s, func() (Node, error) {
			return s.backend.Get(ctx, Join(path, seg))
		})
		if errors.Is(err, ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *pathStore) revision(ctx context.Context) (int64, error) {
	return call(s, func() (int64, error) {
		return s.backend.Revision(ctx)
	})
}

// invalidate 失效单个路径的缓存
func (s *pathStore) invalidate(path string) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.epoch++
	s.cache.Delete(path)
	s.mu.Unlock()
}

// purge 清空缓存，会话丢失时调用
func (s *pathStore) purge() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.epoch++
	s.cache.Clear()
	s.mu.Unlock()
}

func (s *pathStore) close() {
	if s.cache != nil {
		s.cache.Close()
	}
}
