package xregmongo

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/xreg/pkg/observability/xlog"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
)

// ErrClosed 后端已关闭
var ErrClosed = errors.New("xregmongo: backend closed")

// ErrNilClient 客户端为 nil
var ErrNilClient = errors.New("xregmongo: nil client")

const (
	pingAttempts = 3
	pingDelay    = 200 * time.Millisecond
	// 清理和补位写入不跟随调用方 ctx，避免取消后留下缺口或孤儿节点
	cleanupTimeout = 5 * time.Second
)

// Backend 基于 MongoDB 的 [xregistry.Backend] 实现
//
// 每次写入先从计数器分配修订号，再按读取到的版本条件写节点，最后追加事件；
// 条件写失败时以占位事件填补修订号后重试。Watch 按修订号连续性轮询事件集合。
type Backend struct {
	client   *mongo.Client
	nodes    *mongo.Collection
	sessions *mongo.Collection
	events   *mongo.Collection
	counters *mongo.Collection
	opts     *backendOptions

	janitor *cron.Cron

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ xregistry.Backend = (*Backend)(nil)

// New 基于已有客户端创建后端并建立索引
func New(ctx context.Context, client *mongo.Client, opts ...Option) (*Backend, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	db := client.Database(o.database)
	p := o.collectionPrefix
	b := &Backend{
		client:   client,
		nodes:    db.Collection(p + "_nodes"),
		sessions: db.Collection(p + "_sessions"),
		events:   db.Collection(p + "_events"),
		counters: db.Collection(p + "_counters"),
		opts:     o,
		done:     make(chan struct{}),
	}
	if err := b.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	if o.janitorSchedule != "" {
		b.janitor = cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))
		if _, err := b.janitor.AddFunc(o.janitorSchedule, b.cleanup); err != nil {
			return nil, err
		}
		b.janitor.Start()
	}
	return b, nil
}

// Open 按配置连接 MongoDB 并确认连通，返回的后端在 Close 时断开客户端
func Open(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, err
	}
	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(pingAttempts),
		retry.Delay(pingDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		return client.Ping(ctx, nil)
	})
	if err != nil {
		return nil, errors.Join(err, client.Disconnect(context.Background()))
	}

	opts = append([]Option{
		WithDatabase(cfg.Database),
		WithCollectionPrefix(cfg.CollectionPrefix),
		WithPollInterval(cfg.PollInterval),
		WithBatchSize(cfg.BatchSize),
		WithGapTimeout(cfg.GapTimeout),
		WithEventRetention(cfg.EventRetention),
		WithJanitorSchedule(cfg.JanitorSchedule),
		WithDisconnect(),
	}, opts...)
	b, err := New(ctx, client, opts...)
	if err != nil {
		return nil, errors.Join(err, client.Disconnect(context.Background()))
	}
	return b, nil
}

// Client 返回底层客户端
func (b *Backend) Client() *mongo.Client {
	return b.client
}

func (b *Backend) ensureIndexes(ctx context.Context) error {
	if _, err := b.nodes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_session", Value: 1}},
		Options: options.Index().SetSparse(true),
	}); err != nil {
		return err
	}
	_, err := b.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
	})
	return err
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func byID(id any) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

// nextRev 原子递增全局修订号
func (b *Backend) nextRev(ctx context.Context) (int64, error) {
	var c counterDoc
	upsert := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	inc := bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}}
	err := b.counters.FindOneAndUpdate(ctx, byID(revCounter), inc, upsert).Decode(&c)
	if mongo.IsDuplicateKeyError(err) {
		// 并发首次 upsert 只有一个能插入，另一个重试即为普通递增
		err = b.counters.FindOneAndUpdate(ctx, byID(revCounter), inc, upsert).Decode(&c)
	}
	return c.Seq, err
}

// emit 追加事件；失败只记录日志，缺口由 Watch 超时跳过
func (b *Backend) emit(ctx context.Context, doc eventDoc) {
	if _, err := b.events.InsertOne(context.WithoutCancel(ctx), doc); err != nil {
		b.opts.logger.Error(ctx, "append change event failed",
			xlog.Revision(doc.Seq), xlog.Path(doc.Path), xlog.Err(err))
	}
}

// fill 以占位事件填补未使用的修订号
func (b *Backend) fill(ctx context.Context, rev int64) {
	b.emit(ctx, eventDoc{Seq: rev, Type: eventNoop, At: b.opts.now()})
}

func (b *Backend) load(ctx context.Context, path string) (nodeDoc, bool, error) {
	var d nodeDoc
	err := b.nodes.FindOne(ctx, byID(path)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nodeDoc{}, false, nil
	}
	if err != nil {
		return nodeDoc{}, false, err
	}
	return d, true, nil
}

func (b *Backend) alive(ctx context.Context, session string) (bool, error) {
	n, err := b.sessions.CountDocuments(ctx, bson.D{
		{Key: "_id", Value: session},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: b.opts.now()}}},
	})
	return n > 0, err
}

// OpenSession 插入会话文档
func (b *Backend) OpenSession(ctx context.Context, ttl time.Duration) (string, error) {
	if err := b.checkOpen(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := b.sessions.InsertOne(ctx, sessionDoc{
		ID:        id,
		TTL:       ttl.Milliseconds(),
		ExpiresAt: b.opts.now().Add(ttl),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// KeepAlive 先回收全部过期会话，再延长本会话的过期时间
func (b *Backend) KeepAlive(ctx context.Context, session string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := b.reapExpired(ctx); err != nil {
		b.opts.logger.Warn(ctx, "reap expired sessions failed", xlog.Err(err))
	}
	var s sessionDoc
	err := b.sessions.FindOne(ctx, byID(session)).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return xregistry.ErrSessionExpired
	}
	if err != nil {
		return err
	}
	now := b.opts.now()
	res, err := b.sessions.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: session}, {Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "expires_at", Value: now.Add(time.Duration(s.TTL) * time.Millisecond)}}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return xregistry.ErrSessionExpired
	}
	return nil
}

// CloseSession 删除会话及其临时节点
func (b *Backend) CloseSession(ctx context.Context, session string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	n, err := b.sessions.CountDocuments(ctx, byID(session))
	if err != nil {
		return err
	}
	if n == 0 {
		return xregistry.ErrSessionExpired
	}
	return b.dropSession(ctx, session)
}

func (b *Backend) reapExpired(ctx context.Context) error {
	cur, err := b.sessions.Find(ctx, bson.D{
		{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: b.opts.now()}}},
	}, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	var expired []sessionDoc
	if err := cur.All(ctx, &expired); err != nil {
		return err
	}
	var errs []error
	for _, s := range expired {
		b.opts.logger.Info(ctx, "reaping expired session", xlog.Session(s.ID))
		errs = append(errs, b.dropSession(ctx, s.ID))
	}
	return errors.Join(errs...)
}

// dropSession 删除会话文档后逐个删除其临时节点，每个删除产生一条 REMOVE 事件
func (b *Backend) dropSession(ctx context.Context, session string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := b.sessions.DeleteOne(ctx, byID(session)); err != nil {
		return err
	}
	cur, err := b.nodes.Find(ctx, bson.D{{Key: "owner_session", Value: session}})
	if err != nil {
		return err
	}
	var owned []nodeDoc
	if err := cur.All(ctx, &owned); err != nil {
		return err
	}
	var errs []error
	for _, n := range owned {
		if _, _, err := b.removeIf(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get 读取节点
func (b *Backend) Get(ctx context.Context, path string) (xregistry.Node, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Node{}, err
	}
	d, found, err := b.load(ctx, path)
	if err != nil {
		return xregistry.Node{}, err
	}
	if !found {
		return xregistry.Node{}, xregistry.ErrNodeNotFound
	}
	return d.node(), nil
}

// Put 创建或更新节点
//
// 创建依赖 _id 唯一约束，更新以读取到的版本为条件；条件失败时填补修订号并重试。
func (b *Backend) Put(ctx context.Context, session, path, value string, ephemeral bool) (xregistry.Change, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Change{}, err
	}
	for {
		cur, found, err := b.load(ctx, path)
		if err != nil {
			return xregistry.Change{}, err
		}
		if found && cur.Ephemeral != ephemeral {
			return xregistry.Change{}, xregistry.ErrEphemeralMismatch
		}
		if !found && ephemeral {
			ok, err := b.alive(ctx, session)
			if err != nil {
				return xregistry.Change{}, err
			}
			if !ok {
				return xregistry.Change{}, xregistry.ErrSessionExpired
			}
		}

		rev, err := b.nextRev(ctx)
		if err != nil {
			return xregistry.Change{}, err
		}
		var (
			c  xregistry.Change
			ok bool
		)
		if found {
			c, ok, err = b.update(ctx, cur, value, rev)
		} else {
			c, ok, err = b.create(ctx, session, path, value, ephemeral, rev)
		}
		if err != nil || !ok {
			b.fill(ctx, rev)
			if err != nil {
				return xregistry.Change{}, err
			}
			if err := ctx.Err(); err != nil {
				return xregistry.Change{}, err
			}
			continue
		}
		b.emit(ctx, eventFromChange(c, b.opts.now()))

		if ephemeral && !found {
			// 会话在检查之后被回收时，由本次写入负责撤销节点
			if ok, err := b.alive(ctx, session); err == nil && !ok {
				b.opts.logger.Warn(ctx, "session expired during ephemeral create",
					xlog.Session(session), xlog.Path(path))
				_, _, _ = b.removeIf(ctx, nodeDoc{Path: path, Version: 0, CreateRev: rev})
				return xregistry.Change{}, xregistry.ErrSessionExpired
			}
		}
		return c, nil
	}
}

func (b *Backend) create(ctx context.Context, session, path, value string, ephemeral bool, rev int64) (xregistry.Change, bool, error) {
	d := nodeDoc{
		Path:      path,
		Value:     value,
		Ephemeral: ephemeral,
		CreateRev: rev,
		ModRev:    rev,
		UpdatedAt: b.opts.now(),
	}
	if ephemeral {
		d.Owner = session
	}
	if _, err := b.nodes.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return xregistry.Change{}, false, nil
		}
		return xregistry.Change{}, false, err
	}
	return xregistry.Change{Type: xregistry.EventAdd, Path: path, Value: value, Revision: rev}, true, nil
}

func (b *Backend) update(ctx context.Context, cur nodeDoc, value string, rev int64) (xregistry.Change, bool, error) {
	res, err := b.nodes.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: cur.Path}, {Key: "version", Value: cur.Version}, {Key: "create_rev", Value: cur.CreateRev}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "value", Value: value},
			{Key: "version", Value: cur.Version + 1},
			{Key: "mod_rev", Value: rev},
			{Key: "updated_at", Value: b.opts.now()},
		}}},
	)
	if err != nil {
		return xregistry.Change{}, false, err
	}
	if res.MatchedCount == 0 {
		return xregistry.Change{}, false, nil
	}
	return xregistry.Change{
		Type:     xregistry.EventUpdate,
		Path:     cur.Path,
		Value:    value,
		Version:  cur.Version + 1,
		Revision: rev,
	}, true, nil
}

// removeIf 在节点仍为 cur 所示的版本时删除它
func (b *Backend) removeIf(ctx context.Context, cur nodeDoc) (xregistry.Change, bool, error) {
	rev, err := b.nextRev(ctx)
	if err != nil {
		return xregistry.Change{}, false, err
	}
	var gone nodeDoc
	err = b.nodes.FindOneAndDelete(ctx, bson.D{
		{Key: "_id", Value: cur.Path},
		{Key: "version", Value: cur.Version},
		{Key: "create_rev", Value: cur.CreateRev},
	}).Decode(&gone)
	if err != nil {
		b.fill(ctx, rev)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return xregistry.Change{}, false, nil
		}
		return xregistry.Change{}, false, err
	}
	c := xregistry.Change{
		Type:     xregistry.EventRemove,
		Path:     gone.Path,
		Value:    gone.Value,
		Version:  gone.Version,
		Revision: rev,
	}
	b.emit(ctx, eventFromChange(c, b.opts.now()))
	return c, true, nil
}

// Delete 删除节点
func (b *Backend) Delete(ctx context.Context, path string) (xregistry.Change, bool, error) {
	if err := b.checkOpen(); err != nil {
		return xregistry.Change{}, false, err
	}
	for {
		cur, found, err := b.load(ctx, path)
		if err != nil || !found {
			return xregistry.Change{}, false, err
		}
		c, ok, err := b.removeIf(ctx, cur)
		if err != nil || ok {
			return c, ok, err
		}
		if err := ctx.Err(); err != nil {
			return xregistry.Change{}, false, err
		}
	}
}

// List 以锚定前缀正则列出后代路径，可走 _id 索引
func (b *Backend) List(ctx context.Context, path string) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	prefix := xregistry.SubtreePrefix(path)
	cur, err := b.nodes.Find(ctx,
		bson.D{{Key: "_id", Value: bson.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}},
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []nodeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Path != path {
			out = append(out, d.Path)
		}
	}
	return out, nil
}

// Revision 返回计数器当前值
func (b *Backend) Revision(ctx context.Context) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	var c counterDoc
	err := b.counters.FindOne(ctx, byID(revCounter)).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	return c.Seq, err
}

// cleanup 清理任务：回收过期会话并删除保留窗口之外的事件
func (b *Backend) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := b.reapExpired(ctx); err != nil {
		b.opts.logger.Warn(ctx, "janitor: reap expired sessions failed", xlog.Err(err))
	}
	if err := b.trimEvents(ctx); err != nil {
		b.opts.logger.Warn(ctx, "janitor: trim events failed", xlog.Err(err))
	}
}

func (b *Backend) trimEvents(ctx context.Context) error {
	rev, err := b.Revision(ctx)
	if err != nil {
		return err
	}
	floor := rev - b.opts.eventRetention
	if floor <= 0 {
		return nil
	}
	res, err := b.events.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$lte", Value: floor}}}})
	if err != nil {
		return err
	}
	if res.DeletedCount > 0 {
		b.opts.logger.Debug(ctx, "janitor: trimmed events", xlog.Revision(floor))
	}
	return nil
}

// Close 停止清理任务和全部 Watch，按选项断开客户端
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	if b.janitor != nil {
		<-b.janitor.Stop().Done()
	}
	b.wg.Wait()
	if b.opts.disconnect {
		return b.client.Disconnect(ctx)
	}
	return nil
}
