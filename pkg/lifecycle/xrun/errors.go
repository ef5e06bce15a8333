package xrun

import "errors"

var (
	// ErrNilFunc 任务函数为 nil
	ErrNilFunc = errors.New("xrun: nil function")

	// ErrInvalidInterval Ticker 间隔必须大于 0
	ErrInvalidInterval = errors.New("xrun: interval must be positive")
)
