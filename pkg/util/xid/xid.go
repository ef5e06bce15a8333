package xid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/sonyflake/v2"
)

var (
	// ErrClockBackwardTimeout 时钟回拨等待超时
	ErrClockBackwardTimeout = errors.New("xid: clock backward wait timeout")

	// ErrOverTimeLimit 时间位溢出（sonyflake 约 174 年寿命耗尽）
	ErrOverTimeLimit = errors.New("xid: time component overflow")

	// ErrInvalidConfig 生成器配置无效
	ErrInvalidConfig = errors.New("xid: invalid config")

	// ErrNilGenerator 生成器未初始化
	ErrNilGenerator = errors.New("xid: nil generator (use NewGenerator to create)")
)

const (
	// DefaultMaxWaitDuration 时钟回拨时的最大等待时间
	DefaultMaxWaitDuration = 500 * time.Millisecond

	// DefaultRetryInterval 时钟回拨时的重试间隔
	DefaultRetryInterval = 10 * time.Millisecond

	// sortableWidth int64 最大值的十进制位数
	sortableWidth = 19
)

// Option 生成器配置选项
type Option func(*options)

type options struct {
	machineID       func() (uint16, error)
	maxWaitDuration time.Duration
	retryInterval   time.Duration
}

// WithMachineID 自定义机器号来源
func WithMachineID(fn func() (uint16, error)) Option {
	return func(o *options) {
		o.machineID = fn
	}
}

// WithMaxWaitDuration 设置时钟回拨时的最大等待时间
func WithMaxWaitDuration(d time.Duration) Option {
	return func(o *options) {
		o.maxWaitDuration = d
	}
}

// WithRetryInterval 设置时钟回拨时的重试间隔
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		o.retryInterval = d
	}
}

// Generator ID 生成器，并发安全
type Generator struct {
	generateID      func() (int64, error)
	maxWaitDuration time.Duration
	retryInterval   time.Duration
}

// NewGenerator 创建 ID 生成器
func NewGenerator(opts ...Option) (*Generator, error) {
	cfg := &options{
		machineID:       DefaultMachineID,
		maxWaitDuration: DefaultMaxWaitDuration,
		retryInterval:   DefaultRetryInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.maxWaitDuration < 0 || cfg.retryInterval < 0 {
		return nil, fmt.Errorf("%w: wait durations must be non-negative", ErrInvalidConfig)
	}
	if cfg.machineID == nil {
		cfg.machineID = DefaultMachineID
	}

	machineID := cfg.machineID
	sf, err := sonyflake.New(sonyflake.Settings{
		MachineID: func() (int, error) {
			id, err := machineID()
			return int(id), err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Generator{
		generateID:      sf.NextID,
		maxWaitDuration: cfg.maxWaitDuration,
		retryInterval:   cfg.retryInterval,
	}, nil
}

// Next 生成下一个 ID，遇到时钟回拨时在 maxWaitDuration 内重试
func (g *Generator) Next(ctx context.Context) (int64, error) {
	if g == nil || g.generateID == nil {
		return 0, ErrNilGenerator
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	id, err := g.generateID()
	if err == nil {
		return id, nil
	}
	if errors.Is(err, sonyflake.ErrOverTimeLimit) {
		return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
	}

	deadline := time.Now().Add(g.maxWaitDuration)
	timer := time.NewTimer(g.retryInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
		id, err = g.generateID()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, sonyflake.ErrOverTimeLimit) {
			return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("%w: %w", ErrClockBackwardTimeout, err)
		}
		timer.Reset(min(g.retryInterval, remaining))
	}
}

// FormatSortable 将 ID 格式化为定长十进制字符串，字典序与数值序一致
func FormatSortable(id int64) string {
	s := strconv.FormatInt(id, 10)
	if len(s) >= sortableWidth {
		return s
	}
	buf := make([]byte, sortableWidth)
	pad := sortableWidth - len(s)
	for i := 0; i < pad; i++ {
		buf[i] = '0'
	}
	copy(buf[pad:], s)
	return string(buf)
}

// ParseSortable 解析 FormatSortable 生成的字符串
func ParseSortable(s string) (int64, error) {
	if len(s) != sortableWidth {
		return 0, fmt.Errorf("xid: invalid sortable id %q", s)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("xid: invalid sortable id %q", s)
	}
	return id, nil
}
