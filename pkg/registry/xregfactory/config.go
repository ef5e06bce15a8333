package xregfactory

import (
	"errors"
	"fmt"

	"github.com/omeyang/xreg/pkg/config/xconf"
	"github.com/omeyang/xreg/pkg/registry/xregetcd"
	"github.com/omeyang/xreg/pkg/registry/xregistry"
	"github.com/omeyang/xreg/pkg/registry/xregmongo"
	"github.com/omeyang/xreg/pkg/registry/xregredis"
)

// Type 后端类型
type Type string

// 支持的后端类型
const (
	TypeMemory Type = "memory"
	TypeEtcd   Type = "etcd"
	TypeRedis  Type = "redis"
	TypeMongo  Type = "mongo"
)

// ErrUnknownType 未知的后端类型
var ErrUnknownType = errors.New("xregfactory: unknown registry type")

// LogConfig 日志配置
type LogConfig struct {
	// Level debug/info/warn/error，支持热更新
	Level string `json:"level" yaml:"level" koanf:"level"`

	// Format text 或 json
	Format string `json:"format" yaml:"format" koanf:"format"`

	// File 非空时输出到按大小轮转的文件
	File       string `json:"file" yaml:"file" koanf:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" yaml:"maxSizeMB" koanf:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups" koanf:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays" koanf:"maxAgeDays"`
}

// Config 注册中心完整配置，对应配置文件中的一个段落：
//
//	registry:
//	  type: etcd
//	  options:
//	    sessionTimeout: 30s
//	  etcd:
//	    endpoints: ["localhost:2379"]
//	  log:
//	    level: info
type Config struct {
	Type    Type             `json:"type" yaml:"type" koanf:"type"`
	Options xregistry.Config `json:"options" yaml:"options" koanf:"options"`
	Etcd    xregetcd.Config  `json:"etcd" yaml:"etcd" koanf:"etcd"`
	Redis   xregredis.Config `json:"redis" yaml:"redis" koanf:"redis"`
	Mongo   xregmongo.Config `json:"mongo" yaml:"mongo" koanf:"mongo"`
	Log     LogConfig        `json:"log" yaml:"log" koanf:"log"`
}

// DefaultConfig 返回默认配置，后端类型为 memory
func DefaultConfig() *Config {
	return &Config{
		Type:    TypeMemory,
		Options: *xregistry.DefaultConfig(),
		Etcd:    *xregetcd.DefaultConfig(),
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Validate 校验注册中心配置和所选后端的配置
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}
	switch c.Type {
	case TypeMemory:
		return nil
	case TypeEtcd:
		return c.Etcd.Validate()
	case TypeRedis:
		return c.Redis.Validate()
	case TypeMongo:
		return c.Mongo.Validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
	}
}

// Load 从 section 段落解析配置，缺省字段取 DefaultConfig 的值
func Load(cfg xconf.Config, section string) (*Config, error) {
	c := DefaultConfig()
	if err := cfg.Unmarshal(section, c); err != nil {
		return nil, fmt.Errorf("xregfactory: unmarshal %q: %w", section, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
