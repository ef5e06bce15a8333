package xregistry

import (
	"context"
	"errors"
	"strings"
)

// Kind 错误分类，调用方据此决定重试、降级或上报
type Kind int

const (
	// KindUnknown 非注册中心产生的错误
	KindUnknown Kind = iota
	// KindNoNode 节点不存在
	KindNoNode
	// KindTimeout 操作超时
	KindTimeout
	// KindConnectFailed 启动时无法建立会话
	KindConnectFailed
	// KindConnectLost 会话暂停或丢失，拒绝写操作
	KindConnectLost
	// KindBackend 后端存储返回的其他错误
	KindBackend
	// KindNotStarted 未调用 Start
	KindNotStarted
	// KindClosed 已关闭
	KindClosed
	// KindInvalidPath 路径格式非法
	KindInvalidPath
)

// String 返回错误分类名称
func (k Kind) String() string {
	switch k {
	case KindNoNode:
		return "NO_NODE"
	case KindTimeout:
		return "TIMEOUT"
	case KindConnectFailed:
		return "CONNECT_FAILED"
	case KindConnectLost:
		return "CONNECT_LOST"
	case KindBackend:
		return "BACKEND_ERROR"
	case KindNotStarted:
		return "NOT_STARTED"
	case KindClosed:
		return "CLOSED"
	case KindInvalidPath:
		return "INVALID_PATH"
	default:
		return "UNKNOWN"
	}
}

// Error 注册中心操作错误
//
// errors.Is 按 Kind 匹配哨兵错误，例如 errors.Is(err, ErrNoNode)。
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("xregistry: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Path != "" {
			b.WriteByte(' ')
			b.WriteString(e.Path)
		}
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(strings.ReplaceAll(e.Kind.String(), "_", " ")))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按 Kind 与哨兵错误匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// 按 Kind 匹配的哨兵错误
var (
	ErrNoNode        = &Error{Kind: KindNoNode}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrConnectFailed = &Error{Kind: KindConnectFailed}
	ErrConnectLost   = &Error{Kind: KindConnectLost}
	ErrBackend       = &Error{Kind: KindBackend}
	ErrNotStarted    = &Error{Kind: KindNotStarted}
	ErrClosed        = &Error{Kind: KindClosed}
	ErrInvalidPath   = &Error{Kind: KindInvalidPath}
)

// Backend 实现返回的错误，由门面转换为对应 Kind
var (
	// ErrNodeNotFound 节点不存在
	ErrNodeNotFound = errors.New("xregistry: node not found")

	// ErrSessionExpired 会话已过期或不存在
	ErrSessionExpired = errors.New("xregistry: session expired")

	// ErrEphemeralMismatch 已存在节点的临时标记与写入请求不一致
	ErrEphemeralMismatch = errors.New("xregistry: ephemeral flag differs from existing node")
)

// 构造参数错误
var (
	// ErrNilBackend Backend 为 nil
	ErrNilBackend = errors.New("xregistry: nil backend")

	// ErrNilListener 监听器为 nil
	ErrNilListener = errors.New("xregistry: nil listener")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("xregistry: invalid config")
)

// KindOf 返回错误分类，非 *Error 返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNoNode 判断是否为节点不存在
func IsNoNode(err error) bool {
	return errors.Is(err, ErrNoNode)
}

// IsConnectLost 判断是否因会话暂停或丢失而被拒绝
func IsConnectLost(err error) bool {
	return errors.Is(err, ErrConnectLost)
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// wrapBackendError 将 Backend 或断路器错误映射为 *Error
func wrapBackendError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, ErrNodeNotFound):
		return newError(KindNoNode, op, path, err)
	case errors.Is(err, ErrSessionExpired):
		return newError(KindConnectLost, op, path, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, op, path, err)
	default:
		return newError(KindBackend, op, path, err)
	}
}
