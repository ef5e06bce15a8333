package xconf

// Options 配置选项
type Options struct {
	// Delim 键路径分隔符，默认 "."
	Delim string

	// Tag 结构体标签名，默认 "koanf"
	Tag string
}

// Option 配置选项函数
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Delim: ".",
		Tag:   "koanf",
	}
}

// WithDelim 设置键路径分隔符
func WithDelim(delim string) Option {
	return func(o *Options) {
		if delim != "" {
			o.Delim = delim
		}
	}
}

// WithTag 设置结构体标签名
func WithTag(tag string) Option {
	return func(o *Options) {
		if tag != "" {
			o.Tag = tag
		}
	}
}
