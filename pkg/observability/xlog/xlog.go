package xlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Logger 日志接口
//
// 所有方法强制传入 context，调用方不持有 ctx 时使用 context.Background()。
type Logger interface {
	// Debug 记录调试日志
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)

	// Info 记录普通日志
	Info(ctx context.Context, msg string, attrs ...slog.Attr)

	// Warn 记录警告日志
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)

	// Error 记录错误日志
	Error(ctx context.Context, msg string, attrs ...slog.Attr)

	// With 返回带固定属性的派生 Logger
	With(attrs ...slog.Attr) Logger
}

// Leveler 动态级别控制接口
type Leveler interface {
	// SetLevel 运行时调整日志级别
	SetLevel(level Level)

	// GetLevel 获取当前日志级别
	GetLevel() Level
}

// LoggerWithLevel 同时支持日志记录和级别控制
type LoggerWithLevel interface {
	Logger
	Leveler
}

// Level 日志级别，与 slog.Level 兼容
type Level slog.Level

// 日志级别常量
const (
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

// String 返回级别名称，非标准级别委托给 slog.Level.String()
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return slog.Level(l).String()
	}
}

// UnmarshalText 实现 encoding.TextUnmarshaler，支持从配置文件直接解析级别。
func (l *Level) UnmarshalText(data []byte) error {
	parsed, err := ParseLevel(string(data))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel 解析字符串为日志级别（大小写不敏感，自动 TrimSpace）
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("xlog: unknown level %q", s)
	}
}
