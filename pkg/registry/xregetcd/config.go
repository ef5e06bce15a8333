package xregetcd

import (
	"fmt"
	"strings"
	"time"
)

// 默认配置值。
const (
	DefaultNamespace = "/xreg"

	defaultDialTimeout          = 5 * time.Second
	defaultDialKeepAliveTime    = 10 * time.Second
	defaultDialKeepAliveTimeout = 3 * time.Second
)

// Config etcd 后端配置。
//
// 推荐使用 DefaultConfig() 获取默认配置后按需覆盖，布尔字段的零值为 false：
//
//	cfg := xregetcd.DefaultConfig()
//	cfg.Endpoints = []string{"localhost:2379"}
//	backend, err := xregetcd.Open(ctx, cfg)
type Config struct {
	// Endpoints etcd 服务端点列表，必填，格式 "host:port"。
	Endpoints []string `json:"endpoints" yaml:"endpoints" koanf:"endpoints"`

	Username string `json:"username" yaml:"username" koanf:"username"`
	Password string `json:"password" yaml:"password" koanf:"password"`

	// Namespace 全部键的前缀，多个注册中心共用一个集群时用于隔离。
	// 零值时使用 DefaultNamespace。
	Namespace string `json:"namespace" yaml:"namespace" koanf:"namespace"`

	// DialTimeout 连接超时，零值时为 5 秒。
	DialTimeout time.Duration `json:"dialTimeout" yaml:"dialTimeout" koanf:"dialTimeout"`

	// DialKeepAliveTime gRPC keepalive 探测间隔，零值时为 10 秒。
	DialKeepAliveTime time.Duration `json:"dialKeepAliveTime" yaml:"dialKeepAliveTime" koanf:"dialKeepAliveTime"`

	// DialKeepAliveTimeout gRPC keepalive 超时，零值时为 3 秒。
	DialKeepAliveTimeout time.Duration `json:"dialKeepAliveTimeout" yaml:"dialKeepAliveTimeout" koanf:"dialKeepAliveTimeout"`

	// AutoSyncInterval 自动同步 endpoints 间隔，0 表示禁用。
	AutoSyncInterval time.Duration `json:"autoSyncInterval" yaml:"autoSyncInterval" koanf:"autoSyncInterval"`

	// RejectOldCluster 拒绝版本过低的集群。
	RejectOldCluster bool `json:"rejectOldCluster" yaml:"rejectOldCluster" koanf:"rejectOldCluster"`

	// PermitWithoutStream 没有活跃流时也发送 keepalive。
	PermitWithoutStream bool `json:"permitWithoutStream" yaml:"permitWithoutStream" koanf:"permitWithoutStream"`
}

// DefaultConfig 返回带有推荐默认值的配置。
func DefaultConfig() *Config {
	return &Config{
		Namespace:            DefaultNamespace,
		DialTimeout:          defaultDialTimeout,
		DialKeepAliveTime:    defaultDialKeepAliveTime,
		DialKeepAliveTimeout: defaultDialKeepAliveTimeout,
		RejectOldCluster:     true,
		PermitWithoutStream:  true,
	}
}

// Validate 验证配置有效性。
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	for i, ep := range c.Endpoints {
		if ep == "" {
			return fmt.Errorf("%w: endpoint[%d] is empty", ErrInvalidEndpoint, i)
		}
		if !strings.Contains(ep, ":") {
			return fmt.Errorf("%w: endpoint[%d]=%q missing port", ErrInvalidEndpoint, i, ep)
		}
	}
	if ns := c.Namespace; ns != "" && (!strings.HasPrefix(ns, "/") || strings.HasSuffix(ns, "/")) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// applyDefaults 应用默认值，返回新的配置（不修改原配置）。
func (c *Config) applyDefaults() *Config {
	cfg := *c
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.DialKeepAliveTime == 0 {
		cfg.DialKeepAliveTime = defaultDialKeepAliveTime
	}
	if cfg.DialKeepAliveTimeout == 0 {
		cfg.DialKeepAliveTimeout = defaultDialKeepAliveTimeout
	}
	return &cfg
}
