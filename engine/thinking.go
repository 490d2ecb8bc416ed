package engine

import "strings"

var thinkingTags = [][2]string{
	{"<thinking>", "</thinking>"},
	{"<思考>", "</思考>"},
}

// SplitThinking separates a reasoning section from the final answer. The
// first tag pair that appears open-then-close wins; the answer is the text
// after the closing tag. Without a complete pair the whole content is the
// answer.
func SplitThinking(content string) (thinking, answer string) {
	for _, tag := range thinkingTags {
		open := strings.Index(content, tag[0])
		if open < 0 {
			continue
		}
		rest := content[open+len(tag[0]):]
		end := strings.Index(rest, tag[1])
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end]), strings.TrimSpace(rest[end+len(tag[1]):])
	}
	return "", content
}
