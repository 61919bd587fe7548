package service

import (
	"strings"

	"docqa-go/internal/model"
)

// ContextSeparator 分隔上下文中的相邻片段，片段内部出现的同样内容会被转义。
const ContextSeparator = "\n\n---\n\n"

var highlightTags = strings.NewReplacer("<em>", "", "</em>", "")

// AssembleContext 按检索顺序拼接片段，最多取 k 个。没有片段时返回空字符串。
func AssembleContext(hits []model.SearchHit, k int) string {
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		snippet := strings.TrimSpace(highlightTags.Replace(h.Snippet))
		if snippet == "" {
			continue
		}
		parts = append(parts, escapeSeparator(snippet))
	}
	return strings.Join(parts, ContextSeparator)
}

// escapeSeparator 把片段中单独成行的 --- 改写为 \---，使其不会被当作分隔符。
func escapeSeparator(s string) string {
	if !strings.Contains(s, "---") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "---" {
			lines[i] = strings.Replace(line, "---", `\---`, 1)
		}
	}
	return strings.Join(lines, "\n")
}
