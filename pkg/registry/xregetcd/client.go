package xregetcd

import (
	"context"
	"errors"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// NewClient 按配置创建 etcd 客户端。
//
// 启用 WithHealthCheck 时在 ctx 下执行一次读取，失败则关闭客户端并返回错误。
func NewClient(ctx context.Context, config *Config, opts ...Option) (*clientv3.Client, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	cfg := config.applyDefaults()

	// keepalive 只经 DialOptions 设置，避免与 Config 字段两处取值不一致
	clientConfig := clientv3.Config{
		Endpoints:        cfg.Endpoints,
		DialTimeout:      cfg.DialTimeout,
		Username:         cfg.Username,
		Password:         cfg.Password,
		AutoSyncInterval: cfg.AutoSyncInterval,
		RejectOldCluster: cfg.RejectOldCluster,
		TLS:              o.tlsConfig,
		DialOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.DialKeepAliveTime,
				Timeout:             cfg.DialKeepAliveTimeout,
				PermitWithoutStream: cfg.PermitWithoutStream,
			}),
		},
	}

	client, err := clientv3.New(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("xregetcd: create client: %w", err)
	}

	if o.healthCheck {
		hctx, cancel := context.WithTimeout(ctx, o.healthTimeout)
		defer cancel()
		if _, err := client.Get(hctx, o.healthCheckKey, clientv3.WithCountOnly()); err != nil {
			return nil, errors.Join(
				fmt.Errorf("xregetcd: health check failed: %w", err),
				client.Close(),
			)
		}
	}
	return client, nil
}
