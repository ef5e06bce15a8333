// Package coalesce 合并轮询批次中同一路径的多次变更。
package coalesce

import "github.com/omeyang/xreg/pkg/registry/xregistry"

// Collapse 同一路径只保留最后一次变更，按各路径最后一次出现的顺序输出。
//
// 输入按修订号递增，输出仍保持递增。
func Collapse(batch []xregistry.Change) []xregistry.Change {
	if len(batch) < 2 {
		return batch
	}
	last := make(map[string]int, len(batch))
	for i, c := range batch {
		last[c.Path] = i
	}
	if len(last) == len(batch) {
		return batch
	}
	out := make([]xregistry.Change, 0, len(last))
	for i, c := range batch {
		if last[c.Path] == i {
			out = append(out, c)
		}
	}
	return out
}
