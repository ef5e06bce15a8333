package xregredis

import (
	"errors"
	"fmt"
	"time"
)

// 默认配置值
const (
	DefaultKeyPrefix    = "{xreg}"
	DefaultPollInterval = 200 * time.Millisecond
	DefaultStreamMaxLen = 100000
	DefaultBatchSize    = 512
	DefaultDialTimeout  = 5 * time.Second
)

// ErrNoAddrs 未配置 Redis 地址
var ErrNoAddrs = errors.New("xregredis: no addresses configured")

// Config Redis 后端配置
type Config struct {
	// Addrs Redis 地址，多个地址时按集群或哨兵模式连接
	Addrs []string `json:"addrs" yaml:"addrs" koanf:"addrs"`

	Username string `json:"username" yaml:"username" koanf:"username"`
	Password string `json:"password" yaml:"password" koanf:"password"`
	DB       int    `json:"db" yaml:"db" koanf:"db"`

	// MasterName 哨兵模式的主节点名
	MasterName string `json:"masterName" yaml:"masterName" koanf:"masterName"`

	// KeyPrefix 全部键的前缀，默认带 hash tag 以保证集群下落在同一 slot
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" koanf:"keyPrefix"`

	// PollInterval 变更流轮询间隔，同一窗口内同一路径的变更会被合并
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval" koanf:"pollInterval"`

	// StreamMaxLen 变更流保留条数
	StreamMaxLen int64 `json:"streamMaxLen" yaml:"streamMaxLen" koanf:"streamMaxLen"`

	// BatchSize 单次 XREAD 读取条数
	BatchSize int64 `json:"batchSize" yaml:"batchSize" koanf:"batchSize"`

	DialTimeout time.Duration `json:"dialTimeout" yaml:"dialTimeout" koanf:"dialTimeout"`
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Addrs) == 0 {
		return ErrNoAddrs
	}
	if c.PollInterval < 0 || c.DialTimeout < 0 || c.StreamMaxLen < 0 || c.BatchSize < 0 {
		return fmt.Errorf("xregredis: negative value in config")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StreamMaxLen == 0 {
		c.StreamMaxLen = DefaultStreamMaxLen
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}
