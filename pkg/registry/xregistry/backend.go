package xregistry

import (
	"context"
	"time"
)

//go:generate mockgen -source=backend.go -destination=mock_backend_test.go -package=xregistry

// Backend 注册中心的存储后端
//
// 所有方法必须并发安全。变更流中同一路径的变更按提交顺序投递；
// 轮询型后端可在一个轮询窗口内将同一路径的多次变更合并为最后一次。
type Backend interface {
	// OpenSession 创建会话，ttl 内未续约则过期
	OpenSession(ctx context.Context, ttl time.Duration) (string, error)

	// KeepAlive 续约会话，会话已不存在时返回 ErrSessionExpired
	KeepAlive(ctx context.Context, session string) error

	// CloseSession 关闭会话并删除其全部临时节点（产生 REMOVE 变更）
	CloseSession(ctx context.Context, session string) error

	// Get 读取节点，不存在时返回 ErrNodeNotFound
	Get(ctx context.Context, path string) (Node, error)

	// Put 创建或更新节点
	//
	// 创建临时节点时会话须存活，否则返回 ErrSessionExpired；
	// 已存在节点的临时标记不一致时返回 ErrEphemeralMismatch。
	Put(ctx context.Context, session, path, value string, ephemeral bool) (Change, error)

	// Delete 删除节点，existed 表示删除前节点是否存在
	Delete(ctx context.Context, path string) (change Change, existed bool, err error)

	// List 返回严格位于 path 之下的全部已存储路径，无序
	List(ctx context.Context, path string) ([]string, error)

	// Revision 返回当前全局修订号
	Revision(ctx context.Context) (int64, error)

	// Watch 订阅修订号大于 afterRevision 的全部变更
	//
	// 通道在 ctx 结束或后端关闭时关闭；流中断时先发送带 Err 的 Change 再关闭。
	Watch(ctx context.Context, afterRevision int64) (<-chan Change, error)

	// Close 释放后端资源
	Close(ctx context.Context) error
}
