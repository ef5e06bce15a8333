package xregredis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// ErrClosed 后端已关闭
var ErrClosed = errors.New("xregredis: backend closed")

// ErrNilClient 客户端为 nil
var ErrNilClient = errors.New("xregredis: nil client")

const (
	pingAttempts = 3
	pingDelay    = 200 * time.Millisecond
)

// Backend 基于 Redis 的 [xregistry.Backend] 实现
//
// 节点存为 hash，路径索引存为按字典序排列的 ZSET，变更写入 Stream 并由
// Watch 定时轮询。会话键带 PX 过期时间，过期会话的临时节点在任一会话续约时回收。
type Backend struct {
	client redis.UniversalClient
	opts   *options

	idxKey string
	revKey string
	evKey  string
	sxKey  string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ xregistry.Backend = (*Backend)(nil)

// New 基于已有客户端创建后端
func New(client redis.UniversalClient, opts ...Option) (*Backend, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	p := o.keyPrefix
	return &Backend{
		client: client,
		opts:   o,
		idxKey: p + ":idx",
		revKey: p + ":rev",
		evKey:  p + ":ev",
		sxKey:  p + ":sx",
		done:   make(chan struct{}),
	}, nil
}

// Open 按配置创建客户端并确认连通，返回的后端在 Close 时关闭客户端
func Open(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Addrs,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MasterName:  cfg.MasterName,
		DialTimeout: cfg.DialTimeout,
	})

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(pingAttempts),
		retry.Delay(pingDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	opts = append([]Option{
		WithKeyPrefix(cfg.KeyPrefix),
		WithPollInterval(cfg.PollInterval),
		WithStreamMaxLen(cfg.StreamMaxLen),
		WithBatchSize(cfg.BatchSize),
		WithCloseClient(),
	}, opts...)
	return New(client, opts...)
}

// Client 返回底层客户端
func (b *Backend) Client() redis.UniversalClient {
	return b.client
}

func (b *Backend) nodeKey(path string) string {
	return b.opts.keyPrefix + ":n:" + path
}

func (b *Backend) sessionKey(id string) string {
	return b.opts.keyPrefix + ":s:" + id
}

func (b *Backend) sessionNodesKey(id string) string {
	return b.opts.keyPrefix + ":sn:" + id
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// mapScriptError 将脚本错误标记映射为 xregistry 错误
func mapScriptError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, errMismatch):
		return xregistry.ErrEphemeralMismatch
	case strings.Contains(msg, errExpired):
		return xregistry.ErrSessionExpired
	}
	return err
}

// OpenSession 创建会话键，值为 TTL 毫秒数
func (b *Backend) OpenSession(ctx context.Context, ttl time.Duration) (string, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	ms := ttl.Milliseconds()
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.sessionKey(id), ms, ttl)
		pipe.ZAdd(ctx, b.sxKey, redis.Z{Score: float64(b.opts.now().UnixMilli() + ms), Member: id})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// KeepAlive 续约会话，同时回收已过期会话
func (b *Backend) KeepAlive(ctx context.Context, id string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	err := keepAliveScript.Run(ctx, b.client,
		[]string{b.sxKey, b.idxKey, b.revKey, b.evKey},
		b.opts.keyPrefix, id, b.opts.now().UnixMilli(), b.opts.streamMaxLen,
	).Err()
	return mapScriptError(err)
}

// CloseSession 删除会话及其临时节点
func (b *Backend) CloseSession(ctx context.Context, id string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	err := closeSessionScript.Run(ctx, b.client,
		[]string{b.sxKey, b.idxKey, b.revKey, b.evKey},
		b.opts.keyPrefix, id, b.opts.streamMaxLen,
	).Err()
	return mapScriptError(err)
}

// Get 读取节点
func (b *Backend) Get(ctx context.Context, path string) (xregistry.Node, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Node{}, err
	}
	fields, err := b.client.HGetAll(ctx, b.nodeKey(path)).Result()
	if err != nil {
		return xregistry.Node{}, err
	}
	if len(fields) == 0 {
		return xregistry.Node{}, xregistry.ErrNodeNotFound
	}
	return nodeFromHash(path, fields), nil
}

func nodeFromHash(path string, fields map[string]string) xregistry.Node {
	ver, _ := strconv.ParseInt(fields["ver"], 10, 64)
	cr, _ := strconv.ParseInt(fields["cr"], 10, 64)
	return xregistry.Node{
		Path:           path,
		Value:          fields["v"],
		Ephemeral:      fields["e"] == "1",
		Owner:          fields["o"],
		Version:        ver,
		CreateRevision: cr,
	}
}

// Put 创建或更新节点
func (b *Backend) Put(ctx context.Context, session, path, value string, ephemeral bool) (xregistry.Change, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Change{}, err
	}
	eph := "0"
	if ephemeral {
		eph = "1"
	}
	res, err := putScript.Run(ctx, b.client,
		[]string{b.nodeKey(path), b.idxKey, b.revKey, b.evKey, b.sessionKey(session), b.sessionNodesKey(session)},
		path, value, eph, session, b.opts.streamMaxLen,
	).Int64Slice()
	if err != nil {
		return xregistry.Change{}, mapScriptError(err)
	}
	return xregistry.Change{
		Type:     xregistry.EventType(res[0]),
		Path:     path,
		Value:    value,
		Version:  res[1],
		Revision: res[2],
	}, nil
}

// Delete 删除节点
func (b *Backend) Delete(ctx context.Context, path string) (xregistry.Change, bool, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Change{}, false, err
	}
	res, err := deleteScript.Run(ctx, b.client,
		[]string{b.nodeKey(path), b.idxKey, b.revKey, b.evKey},
		path, b.opts.streamMaxLen, b.opts.keyPrefix,
	).Int64Slice()
	if err != nil {
		return xregistry.Change{}, false, err
	}
	if res[0] == 0 {
		return xregistry.Change{}, false, nil
	}
	return xregistry.Change{
		Type:     xregistry.EventRemove,
		Path:     path,
		Version:  res[1],
		Revision: res[2],
	}, true, nil
}

// List 通过字典序区间查询返回 path 之下的全部路径
func (b *Backend) List(ctx context.Context, path string) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	prefix := xregistry.SubtreePrefix(path)
	return b.client.ZRangeByLex(ctx, b.idxKey, &redis.ZRangeBy{
		Min: "[" + prefix,
		Max: "(" + prefix + "\xff",
	}).Result()
}

// Revision 返回当前修订号
func (b *Backend) Revision(ctx context.Context) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	rev, err := b.client.Get(ctx, b.revKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return rev, err
}

// Close 结束全部 Watch，按需关闭客户端
func (b *Backend) Close(_ context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	if b.opts.closeClient {
		return b.client.Close()
	}
	return nil
}
