// Package xregistry 提供层级协调注册中心，供分布式调度中的各类进程发布存活、
// 发现对端、接收成员与配置变更，以及通过具名锁实现互斥。
//
// # 组成
//
//   - 路径存储：路径到节点的映射，节点可为持久或临时（随会话删除）
//   - 会话管理：心跳续约与连接状态机，状态迁移按序通知监听器
//   - 变更路由：按路径或子树订阅，事件按提交顺序串行投递
//   - 锁管理：基于临时节点的公平、会话内可重入互斥锁
//
// 存储由 [Backend] 提供，见 xregmem、xregetcd、xregredis、xregmongo。
//
// # 生命周期
//
//	reg, err := xregistry.New(backend, xregistry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := reg.Start(ctx); err != nil {
//	    return err
//	}
//	defer reg.Close(context.Background())
//
// Start 之前的操作返回 [ErrNotStarted]，Close 之后返回 [ErrClosed]；
// 会话 SUSPENDED 或 LOST 时写操作与锁操作返回 [ErrConnectLost]。
//
// # 一致性
//
// 同一 Registry 读己之写；跨客户端最终一致，延迟受后端刷新间隔约束。
// 轮询型后端在一个轮询窗口内对同一路径的多次变更只投递最后一次。
//
// 监听器在分发 goroutine 上运行，不应在其中执行依赖后续事件才能完成的阻塞操作，
// 例如阻塞式 AcquireLock。
package xregistry
