package xregistry

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Root 根路径
const Root = "/"

// ValidatePath 校验路径格式：以 "/" 开头，由非空段组成，除根路径外不以 "/" 结尾。
func ValidatePath(p string) error {
	switch {
	case p == Root:
		return nil
	case p == "" || p[0] != '/':
		return fmt.Errorf("path %q must start with %q", p, Root)
	case strings.HasSuffix(p, "/"):
		return fmt.Errorf("path %q must not end with %q", p, "/")
	case strings.Contains(p, "//"):
		return fmt.Errorf("path %q contains an empty segment", p)
	case !utf8.ValidString(p):
		return fmt.Errorf("path %q is not valid UTF-8", p)
	}
	return nil
}

// Parent 返回父路径，根路径的父路径为自身
func Parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Join 拼接路径段
func Join(parent string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(parent, "/"))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(s)
	}
	if b.Len() == 0 {
		return Root
	}
	return b.String()
}

// SubtreePrefix 返回 p 的严格后代共有的前缀
func SubtreePrefix(p string) string {
	if p == Root {
		return Root
	}
	return p + "/"
}

// ChildSegments 从 p 之下的路径集合中提取去重的直接子段
func ChildSegments(p string, descendants []string) []string {
	prefix := SubtreePrefix(p)
	seen := make(map[string]struct{}, len(descendants))
	out := make([]string, 0, len(descendants))
	for _, d := range descendants {
		rest, ok := strings.CutPrefix(d, prefix)
		if !ok || rest == "" {
			continue
		}
		seg, _, _ := strings.Cut(rest, "/")
		if _, dup := seen[seg]; dup {
			continue
		}
		seen[seg] = struct{}{}
		out = append(out, seg)
	}
	return out
}

// Matches 判断路径 p 上的事件是否命中订阅 (q, scope)
func Matches(q string, scope Scope, p string) bool {
	if p == q {
		return true
	}
	return scope == ScopeSubtree && strings.HasPrefix(p, SubtreePrefix(q))
}
