package xlog

import (
	"fmt"
	"log/slog"
	"time"
)

// 常用属性 Key
const (
	KeyError     = "error"
	KeyDuration  = "duration"
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyPath      = "path"
	KeySession   = "session"
	KeyState     = "state"
	KeyRevision  = "revision"
)

// Err 创建错误属性，err 为 nil 时返回空属性（会被 slog 忽略）
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性，输出人类可读格式（如 "1.5s"）
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation 创建操作名属性
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Path 创建节点路径属性
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Session 创建会话 ID 属性
func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}

// State 创建状态属性
func State(s fmt.Stringer) slog.Attr {
	if s == nil {
		return slog.String(KeyState, "")
	}
	return slog.String(KeyState, s.String())
}

// Revision 创建修订号属性
func Revision(rev int64) slog.Attr {
	return slog.Int64(KeyRevision, rev)
}
