package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置文件格式
type Format string

const (
	// FormatYAML YAML 格式
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式
	FormatJSON Format = "json"
)

// Config 配置接口
type Config interface {
	// Client 返回底层 koanf 实例
	Client() *koanf.Koanf

	// Unmarshal 将 path 下的配置解析到 target，path 为空表示根节点
	Unmarshal(path string, target any) error

	// Exists 判断配置键是否存在
	Exists(path string) bool

	// Reload 从文件重新加载
	Reload() error

	// Path 返回配置文件路径，从字节创建时为空
	Path() string

	// Format 返回配置格式
	Format() Format
}

type koanfConfig struct {
	mu      sync.RWMutex
	k       *koanf.Koanf
	path    string
	format  Format
	opts    *Options
	isBytes bool
}

// New 从文件加载配置，格式由扩展名推断（.yaml/.yml/.json）
func New(path string, opts ...Option) (Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	options := applyOptions(opts)
	k := koanf.New(options.Delim)
	if err := loadData(k, data, format); err != nil {
		return nil, err
	}
	return &koanfConfig{k: k, path: path, format: format, opts: options}, nil
}

// NewFromBytes 从内存字节加载配置，空数据得到空配置
func NewFromBytes(data []byte, format Format, opts ...Option) (Config, error) {
	if format != FormatYAML && format != FormatJSON {
		return nil, ErrUnsupportedFormat
	}
	options := applyOptions(opts)
	k := koanf.New(options.Delim)
	if len(data) > 0 {
		if err := loadData(k, data, format); err != nil {
			return nil, err
		}
	}
	return &koanfConfig{k: k, format: format, opts: options, isBytes: true}, nil
}

func applyOptions(opts []Option) *Options {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (c *koanfConfig) Client() *koanf.Koanf {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.k
}

func (c *koanfConfig) Unmarshal(path string, target any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.k.UnmarshalWithConf(path, target, koanf.UnmarshalConf{Tag: c.opts.Tag}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return nil
}

func (c *koanfConfig) Exists(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.k.Exists(path)
}

func (c *koanfConfig) Reload() error {
	if c.isBytes {
		return ErrNotReloadable
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	k := koanf.New(c.opts.Delim)
	if err := loadData(k, data, c.format); err != nil {
		return err
	}
	c.mu.Lock()
	c.k = k
	c.mu.Unlock()
	return nil
}

func (c *koanfConfig) Path() string {
	return c.path
}

func (c *koanfConfig) Format() Format {
	return c.format
}

func detectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, ext)
	}
}

func loadData(k *koanf.Koanf, data []byte, format Format) error {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return ErrUnsupportedFormat
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return nil
}
