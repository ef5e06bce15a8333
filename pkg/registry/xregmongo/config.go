package xregmongo

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// 默认配置值
const (
	DefaultDatabase         = "xreg"
	DefaultCollectionPrefix = "registry"
	DefaultPollInterval     = 200 * time.Millisecond
	DefaultBatchSize        = 512
	DefaultGapTimeout       = 2 * time.Second
	DefaultEventRetention   = 100000
	DefaultJanitorSchedule  = "@every 1m"
	DefaultConnectTimeout   = 10 * time.Second
)

// ErrNoURI 未配置连接串
var ErrNoURI = errors.New("xregmongo: no uri configured")

// Config MongoDB 后端配置
type Config struct {
	// URI 连接串，例如 mongodb://localhost:27017
	URI string `json:"uri" yaml:"uri" koanf:"uri"`

	Database string `json:"database" yaml:"database" koanf:"database"`

	// CollectionPrefix 集合名前缀，生成 <prefix>_nodes、<prefix>_sessions 等集合
	CollectionPrefix string `json:"collectionPrefix" yaml:"collectionPrefix" koanf:"collectionPrefix"`

	// PollInterval 事件表轮询间隔，同一窗口内同一路径的变更会被合并
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval" koanf:"pollInterval"`

	// BatchSize 单次读取事件条数
	BatchSize int64 `json:"batchSize" yaml:"batchSize" koanf:"batchSize"`

	// GapTimeout 事件序号出现缺口时的最长等待时间，超时后跳过缺口
	GapTimeout time.Duration `json:"gapTimeout" yaml:"gapTimeout" koanf:"gapTimeout"`

	// EventRetention 事件表保留的最近事件条数
	EventRetention int64 `json:"eventRetention" yaml:"eventRetention" koanf:"eventRetention"`

	// JanitorSchedule 清理任务的 cron 表达式，清理过期会话和旧事件
	JanitorSchedule string `json:"janitorSchedule" yaml:"janitorSchedule" koanf:"janitorSchedule"`

	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout" koanf:"connectTimeout"`
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.URI == "" {
		return ErrNoURI
	}
	if c.PollInterval < 0 || c.GapTimeout < 0 || c.ConnectTimeout < 0 || c.BatchSize < 0 || c.EventRetention < 0 {
		return fmt.Errorf("xregmongo: negative value in config")
	}
	if c.JanitorSchedule != "" {
		if _, err := cron.ParseStandard(c.JanitorSchedule); err != nil {
			return fmt.Errorf("xregmongo: janitor schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = DefaultCollectionPrefix
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.GapTimeout == 0 {
		c.GapTimeout = DefaultGapTimeout
	}
	if c.EventRetention == 0 {
		c.EventRetention = DefaultEventRetention
	}
	if c.JanitorSchedule == "" {
		c.JanitorSchedule = DefaultJanitorSchedule
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}
