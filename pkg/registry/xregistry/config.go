package xregistry

import (
	"fmt"
	"time"
)

// 默认配置值
const (
	DefaultSessionTimeout      = 30 * time.Second
	DefaultConnectTimeout      = 15 * time.Second
	DefaultLockRecheckInterval = 500 * time.Millisecond
	DefaultCacheSize           = 4096
	DefaultCacheTTL            = 10 * time.Second
)

// Config 注册中心配置
type Config struct {
	// SessionTimeout 会话 TTL，心跳在此时间内未成功则会话过期
	SessionTimeout time.Duration `json:"sessionTimeout" yaml:"sessionTimeout" koanf:"sessionTimeout"`

	// HeartbeatInterval 心跳间隔，为 0 时取 SessionTimeout/3
	HeartbeatInterval time.Duration `json:"heartbeatInterval" yaml:"heartbeatInterval" koanf:"heartbeatInterval"`

	// ConnectTimeout Start 建立会话的最长等待时间
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout" koanf:"connectTimeout"`

	// LockRecheckInterval 等锁时的兜底重检间隔，覆盖轮询型后端的事件合并
	LockRecheckInterval time.Duration `json:"lockRecheckInterval" yaml:"lockRecheckInterval" koanf:"lockRecheckInterval"`

	// CacheSize 读缓存容量，0 表示关闭缓存
	CacheSize int `json:"cacheSize" yaml:"cacheSize" koanf:"cacheSize"`

	// CacheTTL 读缓存条目的最长存活时间
	CacheTTL time.Duration `json:"cacheTTL" yaml:"cacheTTL" koanf:"cacheTTL"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		SessionTimeout:      DefaultSessionTimeout,
		ConnectTimeout:      DefaultConnectTimeout,
		LockRecheckInterval: DefaultLockRecheckInterval,
		CacheSize:           DefaultCacheSize,
		CacheTTL:            DefaultCacheTTL,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.SessionTimeout < 0 || c.HeartbeatInterval < 0 || c.ConnectTimeout < 0 ||
		c.LockRecheckInterval < 0 || c.CacheTTL < 0 {
		return fmt.Errorf("%w: durations must be non-negative", ErrInvalidConfig)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cacheSize must be non-negative, got %d", ErrInvalidConfig, c.CacheSize)
	}
	if c.SessionTimeout > 0 && c.HeartbeatInterval >= c.SessionTimeout {
		return fmt.Errorf("%w: heartbeatInterval %s must be shorter than sessionTimeout %s",
			ErrInvalidConfig, c.HeartbeatInterval, c.SessionTimeout)
	}
	return nil
}

// applyDefaults 填充零值字段，CacheSize 为 0 保留为关闭缓存
func (c *Config) applyDefaults() {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = c.SessionTimeout / 3
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.LockRecheckInterval == 0 {
		c.LockRecheckInterval = DefaultLockRecheckInterval
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
}
