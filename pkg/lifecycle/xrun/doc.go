// Package xrun 管理注册中心后台任务的生命周期。
//
// [Group] 基于 errgroup，任一任务返回非取消错误会取消同组其余任务；
// [Group.Cancel] 以指定原因取消全部任务，[Group.Wait] 等待全部退出。
// 正常的取消（context.Canceled）不视为错误。
//
// [Ticker] 将周期函数包装为任务，用于会话心跳等定时逻辑。
package xrun
