// Package xregetcd 提供基于 etcd 的注册中心后端。
//
// 映射关系：
//
//   - 路径：命名空间下的键，例如命名空间 "/xreg" 下的 "/svc/a" 存为 "/xreg/svc/a"
//   - 会话：etcd 租约，会话 ID 为租约 ID 的十六进制形式
//   - 临时节点：挂在会话租约上的键，租约过期或撤销时由 etcd 删除
//   - 版本：键版本减一，创建时为 0
//   - 修订号：etcd 全局修订号，变更流直接使用 etcd Watch
//
// etcd 按修订号逐条推送事件，同一路径的变更不会被合并。
//
// 基本用法：
//
//	cfg := xregetcd.DefaultConfig()
//	cfg.Endpoints = []string{"localhost:2379"}
//	backend, err := xregetcd.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	reg, err := xregistry.New(backend, xregistry.WithCloseBackend())
package xregetcd
