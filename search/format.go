package search

import (
	"fmt"
	"strings"
)

// NoResults is returned to the model when every query came back empty.
const NoResults = "❌ 联网搜索未找到相关结果，请尝试更换关键词或稍后再试。"

const snippetLimit = 250

// Format renders deduplicated results as a numbered list for the model.
func Format(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}

	parts := []string{fmt.Sprintf("🌐 联网搜索完成，找到 %d 条唯一来源：\n", len(results))}
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "无标题"
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = "无描述"
		}
		parts = append(parts,
			fmt.Sprintf("[%d] %s", i+1, title),
			fmt.Sprintf("    内容: %s...", cleanSnippet(snippet)),
			fmt.Sprintf("    来源: %s\n", r.URL),
		)
	}
	return strings.Join(parts, "\n")
}

func cleanSnippet(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if r := []rune(s); len(r) > snippetLimit {
		return string(r[:snippetLimit])
	}
	return s
}
