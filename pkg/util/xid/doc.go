// Package xid 基于 sonyflake 生成进程间唯一、按时间递增的 ID。
//
// 注册中心用它为锁竞争者节点命名：[FormatSortable] 将 ID 格式化为
// 定长十进制字符串，字典序与数值序一致，便于按名称排序。
//
// 机器号按以下顺序确定：环境变量 XID_MACHINE_ID、POD_NAME 哈希、
// HOSTNAME 哈希、os.Hostname() 哈希。多实例部署时应保证机器号不冲突。
package xid
