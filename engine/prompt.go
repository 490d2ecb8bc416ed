package engine

import (
	"fmt"
	"strings"

	"github.com/hupe1980/memorymesh/internal/util"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/model"
	"github.com/hupe1980/memorymesh/tool"
)

const systemTemplate = `你是一个具备长期记忆和反思能力的助手。

【长期事实库】（这些是已确认的真理）：
{{ .Facts }}

【当前摘要】：
{{ default "暂无摘要" .Summary }}
{{- if .Tools }}

可用工具：
{{- range .Tools }}
- {{ .Function.Name }}: {{ .Function.Description }}
{{- end }}
{{- end }}

任务逻辑：
1. **正常回答**：无论是否需要调用工具，都必须提供自然、友好的用户回复。
2. **自动反思**：如果用户提到了新事实，或纠正了【长期事实库】中的错误，必须调用 manage_memory 执行 upsert 来同步更新数据库。禁止让错误信息留在记忆库中。
3. **回复要求**：
   - 如果只是简单的信息更新（如姓名、年龄、工作等），回复要简洁友好，如"我已经记住了您的名字"。
   - 如果用户询问问题，要给出详细、有用的回答。
   - 避免使用机械、生硬的语言。
{{- if .Search }}
4. **联网搜索**：
   - 仔细分析完整的消息历史，包括所有之前的工具调用和工具执行结果。
   - 如果消息历史中已经包含 web_search 返回的搜索结果，不要再次调用 web_search，必须基于已有的搜索结果直接回答。
   - 只有在没有相关搜索结果，且用户询问最新信息、实时数据、新闻事件或你不确定的信息时，才调用 web_search，并提供相关的关键词列表。
   - 回答时必须结合搜索结果，引用搜索到的相关信息。
{{- end }}

复杂问题请使用 <thinking> 标签记录思考。
请严格使用与用户提问时完全相同的语言来回答问题。`

const emptyFacts = "目前尚无记录"

// CompactionPrompt asks the model for a corrected running summary.
const CompactionPrompt = "请根据对话历史更新总结，确保剔除已被纠正的错误，只保留最新事实。"

type promptData struct {
	Facts   string
	Summary string
	Tools   []model.ToolDefinition
	Search  bool
}

// RenderFacts renders a memory snapshot as the bullet list used in prompts.
func RenderFacts(entries []memory.Entry) string {
	if len(entries) == 0 {
		return emptyFacts
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("- %s: %s", e.MemoryID, e.Content)
	}
	return strings.Join(lines, "\n")
}

// SystemPrompt builds the system instruction for one model call.
func SystemPrompt(entries []memory.Entry, summary string, tools []model.ToolDefinition) string {
	data := promptData{
		Facts:   RenderFacts(entries),
		Summary: summary,
		Tools:   tools,
	}
	for _, t := range tools {
		if t.Function.Name == tool.SearchToolName {
			data.Search = true
		}
	}
	return util.MustTemplate(systemTemplate, data)
}
