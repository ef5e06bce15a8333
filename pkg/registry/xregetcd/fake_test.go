package xregetcd

import (
	"bytes"
	"context"
	"slices"
	"sync"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeKV 内存 KV，只支持 Get 和 Delete；Txn 路径由集成测试覆盖
type fakeKV struct {
	mu  sync.Mutex
	rev int64
	kvs map[string]*mvccpb.KeyValue
}

func newFakeKV() *fakeKV {
	return &fakeKV{kvs: make(map[string]*mvccpb.KeyValue)}
}

func (f *fakeKV) set(key, value string, lease clientv3.LeaseID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	kv, ok := f.kvs[key]
	if !ok {
		kv = &mvccpb.KeyValue{Key: []byte(key), CreateRevision: f.rev}
		f.kvs[key] = kv
	}
	kv.Value = []byte(value)
	kv.ModRevision = f.rev
	kv.Version++
	kv.Lease = int64(lease)
}

func (f *fakeKV) header() *pb.ResponseHeader {
	return &pb.ResponseHeader{Revision: f.rev}
}

func (f *fakeKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op := clientv3.OpGet(key, opts...)
	end := op.RangeBytes()

	var keys []string
	for k := range f.kvs {
		if k == key || (len(end) > 0 && k >= key && bytes.Compare([]byte(k), end) < 0) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	resp := &clientv3.GetResponse{Header: f.header(), Count: int64(len(keys))}
	if op.IsCountOnly() {
		return resp, nil
	}
	for _, k := range keys {
		kv := *f.kvs[k]
		if op.IsKeysOnly() {
			kv.Value = nil
		}
		resp.Kvs = append(resp.Kvs, &kv)
	}
	return resp, nil
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv, ok := f.kvs[key]
	if !ok {
		return &clientv3.DeleteResponse{Header: f.header()}, nil
	}
	delete(f.kvs, key)
	f.rev++
	return &clientv3.DeleteResponse{Header: f.header(), Deleted: 1, PrevKvs: []*mvccpb.KeyValue{kv}}, nil
}

func (f *fakeKV) Txn(context.Context) clientv3.Txn {
	panic("fakeKV.Txn should not be called")
}

// fakeLease 租约表，expired 中的租约视为不存在
type fakeLease struct {
	mu      sync.Mutex
	next    clientv3.LeaseID
	ttls    map[clientv3.LeaseID]int64
	revoked []clientv3.LeaseID
}

func newFakeLease() *fakeLease {
	return &fakeLease{next: 0x6a, ttls: make(map[clientv3.LeaseID]int64)}
}

func (f *fakeLease) expire(id clientv3.LeaseID) {
	f.mu.Lock()
	delete(f.ttls, id)
	f.mu.Unlock()
}

func (f *fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.ttls[f.next] = ttl
	return &clientv3.LeaseGrantResponse{ResponseHeader: &pb.ResponseHeader{}, ID: f.next, TTL: ttl}, nil
}

func (f *fakeLease) KeepAliveOnce(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ttl, ok := f.ttls[id]
	if !ok {
		return nil, rpctypes.ErrLeaseNotFound
	}
	return &clientv3.LeaseKeepAliveResponse{ResponseHeader: &pb.ResponseHeader{}, ID: id, TTL: ttl}, nil
}

func (f *fakeLease) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ttls[id]; !ok {
		return nil, rpctypes.ErrLeaseNotFound
	}
	delete(f.ttls, id)
	f.revoked = append(f.revoked, id)
	return &clientv3.LeaseRevokeResponse{Header: &pb.ResponseHeader{}}, nil
}

// fakeWatcher 按调用顺序返回预置的 Watch 通道，并记录每次请求的起始修订号
type fakeWatcher struct {
	mu    sync.Mutex
	feeds []chan clientv3.WatchResponse
	revs  []int64
}

func (f *fakeWatcher) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revs = append(f.revs, clientv3.OpGet(key, opts...).Rev())
	if len(f.feeds) == 0 {
		ch := make(chan clientv3.WatchResponse)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch
	}
	ch := f.feeds[0]
	f.feeds = f.feeds[1:]
	return ch
}

func (f *fakeWatcher) requested() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.revs)
}

func putEvent(key, value string, create, mod, version int64) *clientv3.Event {
	return &clientv3.Event{
		Type: mvccpb.PUT,
		Kv: &mvccpb.KeyValue{
			Key:            []byte(key),
			Value:          []byte(value),
			CreateRevision: create,
			ModRevision:    mod,
			Version:        version,
		},
	}
}

func deleteEvent(key string, mod int64, prev *mvccpb.KeyValue) *clientv3.Event {
	return &clientv3.Event{
		Type:   mvccpb.DELETE,
		Kv:     &mvccpb.KeyValue{Key: []byte(key), ModRevision: mod},
		PrevKv: prev,
	}
}
