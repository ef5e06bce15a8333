package xregetcd

import "errors"

// 错误定义。
var (
	// ErrNilConfig 配置为空。
	ErrNilConfig = errors.New("xregetcd: config is nil")

	// ErrNilClient 客户端为空。
	ErrNilClient = errors.New("xregetcd: nil client")

	// ErrNoEndpoints 未配置 etcd 端点。
	ErrNoEndpoints = errors.New("xregetcd: no endpoints configured")

	// ErrInvalidEndpoint endpoint 格式无效，有效格式为 "host:port"。
	ErrInvalidEndpoint = errors.New("xregetcd: invalid endpoint format, expected host:port")

	// ErrInvalidNamespace 命名空间须以 "/" 开头且不以 "/" 结尾。
	ErrInvalidNamespace = errors.New("xregetcd: invalid namespace")

	// ErrClosed 后端已关闭。
	ErrClosed = errors.New("xregetcd: backend closed")

	errWatchClosed = errors.New("xregetcd: watch channel closed")
)
