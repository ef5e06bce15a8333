package xregetcd

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"

	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// Backend 基于 etcd 的 [xregistry.Backend] 实现
//
// 会话即租约，临时节点挂在租约上，租约过期或撤销时 etcd 删除节点并产生删除事件。
// 节点版本取 etcd 键版本减一，修订号直接使用 etcd 全局修订号。
type Backend struct {
	kv      etcdKV
	lease   etcdLease
	watcher etcdWatcher
	client  *clientv3.Client
	opts    *options

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ xregistry.Backend = (*Backend)(nil)

// New 基于已有客户端创建后端，全部键位于命名空间之下
func New(client *clientv3.Client, opts ...Option) (*Backend, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	b := newBackend(
		namespace.NewKV(client.KV, o.namespace),
		namespace.NewLease(client.Lease, o.namespace),
		namespace.NewWatcher(client.Watcher, o.namespace),
		o,
	)
	b.client = client
	return b, nil
}

func newBackend(kv etcdKV, lease etcdLease, watcher etcdWatcher, o *options) *Backend {
	return &Backend{
		kv:      kv,
		lease:   lease,
		watcher: watcher,
		opts:    o,
		done:    make(chan struct{}),
	}
}

// Open 按配置创建客户端，返回的后端在 Close 时关闭客户端
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Backend, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	opts = append([]Option{WithHealthCheck(true, 0)}, opts...)
	client, err := NewClient(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	ns := cfg.applyDefaults().Namespace
	opts = append([]Option{WithNamespace(ns), WithCloseClient()}, opts...)
	return New(client, opts...)
}

// Client 返回底层客户端
func (b *Backend) Client() *clientv3.Client {
	return b.client
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// mapError 将租约不存在映射为会话过期
func mapError(err error) error {
	if errors.Is(err, rpctypes.ErrLeaseNotFound) {
		return xregistry.ErrSessionExpired
	}
	return err
}

func formatLease(id clientv3.LeaseID) string {
	return strconv.FormatInt(int64(id), 16)
}

func parseLease(s string) (clientv3.LeaseID, error) {
	id, err := strconv.ParseInt(s, 16, 64)
	if err != nil || id == int64(clientv3.NoLease) {
		return clientv3.NoLease, xregistry.ErrSessionExpired
	}
	return clientv3.LeaseID(id), nil
}

// leaseTTL 将 ttl 向上取整为秒，租约最小粒度为 1 秒
func leaseTTL(ttl time.Duration) int64 {
	return max(1, int64(math.Ceil(ttl.Seconds())))
}

// OpenSession 创建租约作为会话
func (b *Backend) OpenSession(ctx context.Context, ttl time.Duration) (string, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}
	resp, err := b.lease.Grant(ctx, leaseTTL(ttl))
	if err != nil {
		return "", err
	}
	return formatLease(resp.ID), nil
}

// KeepAlive 续约一次
func (b *Backend) KeepAlive(ctx context.Context, session string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	id, err := parseLease(session)
	if err != nil {
		return err
	}
	resp, err := b.lease.KeepAliveOnce(ctx, id)
	if err != nil {
		return mapError(err)
	}
	if resp.TTL <= 0 {
		return xregistry.ErrSessionExpired
	}
	return nil
}

// CloseSession 撤销租约，其上的临时节点随之删除
func (b *Backend) CloseSession(ctx context.Context, session string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	id, err := parseLease(session)
	if err != nil {
		return err
	}
	_, err = b.lease.Revoke(ctx, id)
	return mapError(err)
}

func nodeFromKV(kv *mvccpb.KeyValue) xregistry.Node {
	n := xregistry.Node{
		Path:           string(kv.Key),
		Value:          string(kv.Value),
		Ephemeral:      kv.Lease != 0,
		Version:        kv.Version - 1,
		CreateRevision: kv.CreateRevision,
	}
	if n.Ephemeral {
		n.Owner = formatLease(clientv3.LeaseID(kv.Lease))
	}
	return n
}

// Get 读取节点
func (b *Backend) Get(ctx context.Context, path string) (xregistry.Node, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Node{}, err
	}
	resp, err := b.kv.Get(ctx, path)
	if err != nil {
		return xregistry.Node{}, err
	}
	if len(resp.Kvs) == 0 {
		return xregistry.Node{}, xregistry.ErrNodeNotFound
	}
	return nodeFromKV(resp.Kvs[0]), nil
}

// Put 创建或更新节点
//
// 创建以 CreateRevision == 0 为条件，更新以 ModRevision 不变为条件；
// 条件失败说明期间有并发写入，重新读取后重试。
func (b *Backend) Put(ctx context.Context, session, path, value string, ephemeral bool) (xregistry.Change, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Change{}, err
	}
	lease := clientv3.NoLease
	if ephemeral {
		id, err := parseLease(session)
		if err != nil {
			return xregistry.Change{}, err
		}
		lease = id
	}

	for {
		resp, err := b.kv.Get(ctx, path)
		if err != nil {
			return xregistry.Change{}, err
		}
		var (
			c  xregistry.Change
			ok bool
		)
		if len(resp.Kvs) == 0 {
			c, ok, err = b.create(ctx, path, value, lease)
		} else {
			cur := resp.Kvs[0]
			if (cur.Lease != 0) != ephemeral {
				return xregistry.Change{}, xregistry.ErrEphemeralMismatch
			}
			c, ok, err = b.update(ctx, cur, value)
		}
		if err != nil || ok {
			return c, err
		}
		if err := ctx.Err(); err != nil {
			return xregistry.Change{}, err
		}
	}
}

func (b *Backend) create(ctx context.Context, path, value string, lease clientv3.LeaseID) (xregistry.Change, bool, error) {
	var opts []clientv3.OpOption
	if lease != clientv3.NoLease {
		opts = append(opts, clientv3.WithLease(lease))
	}
	resp, err := b.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, value, opts...)).
		Commit()
	if err != nil {
		return xregistry.Change{}, false, mapError(err)
	}
	if !resp.Succeeded {
		return xregistry.Change{}, false, nil
	}
	return xregistry.Change{
		Type:     xregistry.EventAdd,
		Path:     path,
		Value:    value,
		Revision: resp.Header.Revision,
	}, true, nil
}

func (b *Backend) update(ctx context.Context, cur *mvccpb.KeyValue, value string) (xregistry.Change, bool, error) {
	path := string(cur.Key)
	resp, err := b.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(path), "=", cur.ModRevision)).
		Then(clientv3.OpPut(path, value, clientv3.WithIgnoreLease())).
		Commit()
	if err != nil {
		return xregistry.Change{}, false, mapError(err)
	}
	if !resp.Succeeded {
		return xregistry.Change{}, false, nil
	}
	return xregistry.Change{
		Type:     xregistry.EventUpdate,
		Path:     path,
		Value:    value,
		Version:  cur.Version,
		Revision: resp.Header.Revision,
	}, true, nil
}

// Delete 删除节点
func (b *Backend) Delete(ctx context.Context, path string) (xregistry.Change, bool, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Change{}, false, err
	}
	resp, err := b.kv.Delete(ctx, path, clientv3.WithPrevKV())
	if err != nil {
		return xregistry.Change{}, false, err
	}
	if resp.Deleted == 0 {
		return xregistry.Change{}, false, nil
	}
	c := xregistry.Change{
		Type:     xregistry.EventRemove,
		Path:     path,
		Revision: resp.Header.Revision,
	}
	if len(resp.PrevKvs) > 0 {
		c.Value = string(resp.PrevKvs[0].Value)
		c.Version = resp.PrevKvs[0].Version - 1
	}
	return c, true, nil
}

// List 按前缀列出后代路径，只取键
func (b *Backend) List(ctx context.Context, path string) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	resp, err := b.kv.Get(ctx, xregistry.SubtreePrefix(path), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if p := string(kv.Key); p != path {
			out = append(out, p)
		}
	}
	return out, nil
}

// Revision 返回集群当前修订号
func (b *Backend) Revision(ctx context.Context) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	resp, err := b.kv.Get(ctx, "/", clientv3.WithCountOnly())
	if err != nil {
		return 0, err
	}
	return resp.Header.Revision, nil
}

// Close 停止全部 Watch，按选项关闭客户端
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
	if b.opts.closeClient && b.client != nil {
		return b.client.Close()
	}
	return nil
}
