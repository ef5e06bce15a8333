package xregistry

import "strconv"

// Node 路径上存储的节点
type Node struct {
	Path      string
	Value     string
	Ephemeral bool
	// Owner 临时节点所属会话，持久节点为空
	Owner string
	// Version 创建时为 0，每次写入值加 1，删除重建后归零
	Version int64
	// CreateRevision 节点创建时的后端全局修订号，锁排队依赖它确定先后
	CreateRevision int64
}

// EventType 变更事件类型
type EventType int

const (
	// EventAdd 节点创建
	EventAdd EventType = iota + 1
	// EventUpdate 节点值更新
	EventUpdate
	// EventRemove 节点删除或随会话过期
	EventRemove
)

// String 返回事件类型名称
func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "ADD"
	case EventUpdate:
		return "UPDATE"
	case EventRemove:
		return "REMOVE"
	default:
		return "EventType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Change Backend 变更流中的一条记录
//
// Err 非 nil 表示变更流中断，发送后通道随即关闭，其余字段无意义。
type Change struct {
	Type     EventType
	Path     string
	Value    string
	Version  int64
	Revision int64
	Err      error
}

// Event 分发给监听器的变更事件，REMOVE 事件的 Value 为空
type Event struct {
	Type     EventType
	Path     string
	Value    string
	Version  int64
	Revision int64
}

func eventOf(c Change) Event {
	ev := Event{Type: c.Type, Path: c.Path, Value: c.Value, Version: c.Version, Revision: c.Revision}
	if ev.Type == EventRemove {
		ev.Value = ""
	}
	return ev
}

// Scope 订阅范围
type Scope int

const (
	// ScopePathOnly 仅匹配订阅路径本身
	ScopePathOnly Scope = iota
	// ScopeSubtree 匹配订阅路径及其全部后代
	ScopeSubtree
)

// String 返回订阅范围名称
func (s Scope) String() string {
	if s == ScopeSubtree {
		return "SUBTREE"
	}
	return "PATH_ONLY"
}

// Listener 变更监听器
//
// 同一订阅的 Notify 串行调用，不会重入。
type Listener interface {
	Notify(event Event)
	Scope() Scope
}

type listenerFunc struct {
	scope Scope
	fn    func(Event)
}

func (l listenerFunc) Notify(event Event) { l.fn(event) }
func (l listenerFunc) Scope() Scope       { return l.scope }

// NewListener 将函数适配为 Listener
func NewListener(scope Scope, fn func(Event)) Listener {
	return listenerFunc{scope: scope, fn: fn}
}

// Subscription 订阅句柄
type Subscription interface {
	// Path 返回订阅路径
	Path() string
	// Unsubscribe 取消订阅，可重复调用
	Unsubscribe()
}

// ConnectionState 会话连接状态
type ConnectionState int

const (
	// StateDisconnected 初始状态，或 Start 失败后
	StateDisconnected ConnectionState = iota
	// StateConnecting 正在建立会话
	StateConnecting
	// StateConnected 会话正常
	StateConnected
	// StateSuspended 心跳失败，会话可能仍存活
	StateSuspended
	// StateReconnected 会话在 TTL 内恢复，随即转为 CONNECTED
	StateReconnected
	// StateLost 会话已过期，临时节点和锁均已失效，直到 Close
	StateLost
	// StateClosed 已关闭
	StateClosed
)

// String 返回状态名称
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSuspended:
		return "SUSPENDED"
	case StateReconnected:
		return "RECONNECTED"
	case StateLost:
		return "LOST"
	case StateClosed:
		return "CLOSED"
	default:
		return "ConnectionState(" + strconv.Itoa(int(s)) + ")"
	}
}

// ConnectionListener 连接状态监听器，在会话分发 goroutine 上串行调用
type ConnectionListener func(state ConnectionState)
