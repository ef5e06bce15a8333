package xregetcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdKV 后端使用的 KV 操作，与 clientv3.KV 方法一致
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

// etcdLease 后端使用的租约操作，与 clientv3.Lease 方法一致
type etcdLease interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAliveOnce(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
}

// etcdWatcher 后端使用的 Watch 操作，与 clientv3.Watcher 方法一致
type etcdWatcher interface {
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
}

var (
	_ etcdKV      = clientv3.KV(nil)
	_ etcdLease   = clientv3.Lease(nil)
	_ etcdWatcher = clientv3.Watcher(nil)
)
