package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/memorymesh/internal/util"
)

// MemoryToolName is the name the model uses to mutate long-term facts.
const MemoryToolName = "manage_memory"

// Memory actions.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// MemoryArgs is the manage_memory payload.
type MemoryArgs struct {
	Action   string `json:"action" jsonschema:"enum=upsert,enum=delete" jsonschema_description:"upsert: 发现用户偏好、身份、重要事实或纠正旧信息时使用; delete: 用户明确要求删除某项信息时使用"`
	MemoryID string `json:"memory_id" jsonschema_description:"简短的键, 如 user_diet, work_address"`
	Content  string `json:"content,omitempty" jsonschema_description:"记忆内容 (自动转换为字符串)"`
}

var memorySchema = util.SchemaFor[MemoryArgs]()

// MemoryTool validates manage_memory calls and confirms them. It performs no
// write itself; persistence happens when the engine reflects on the result.
type MemoryTool struct{}

// NewMemoryTool creates the manage_memory tool.
func NewMemoryTool() *MemoryTool { return &MemoryTool{} }

// Name implements Tool.
func (*MemoryTool) Name() string { return MemoryToolName }

// Description implements Tool.
func (*MemoryTool) Description() string {
	return "管理长期事实记忆。用于记录用户偏好、身份或重要事实, 或在用户纠正信息时更新旧事实。"
}

// Parameters implements Tool.
func (*MemoryTool) Parameters() map[string]any { return memorySchema }

// Call implements Tool.
func (t *MemoryTool) Call(_ context.Context, args map[string]any) (string, error) {
	in, err := BindMemoryArgs(args)
	if err != nil {
		return "", err
	}
	return Confirmation(in), nil
}

// Confirmation is the tool-result text for an accepted mutation.
func Confirmation(in MemoryArgs) string {
	verb := "upserted"
	if in.Action == ActionDelete {
		verb = "deleted"
	}
	return fmt.Sprintf("Memory %s %s with content: %s", in.MemoryID, verb, in.Content)
}

// ParseMemoryArgs decodes and validates a raw manage_memory argument object.
func ParseMemoryArgs(raw string) (MemoryArgs, error) {
	args, err := util.DecodeArguments(raw)
	if err != nil {
		return MemoryArgs{}, validationError(MemoryToolName, err)
	}
	return BindMemoryArgs(args)
}

// BindMemoryArgs validates decoded arguments. Non-string content is
// converted to text first; upsert requires content.
func BindMemoryArgs(args map[string]any) (MemoryArgs, error) {
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}
	if c, ok := normalized["content"]; ok {
		normalized["content"] = stringify(c)
	}

	if err := util.ValidateParameters(normalized, memorySchema); err != nil {
		return MemoryArgs{}, validationError(MemoryToolName, err)
	}

	in, err := util.BindArguments[MemoryArgs](normalized)
	if err != nil {
		return MemoryArgs{}, validationError(MemoryToolName, err)
	}

	in.MemoryID = strings.TrimSpace(in.MemoryID)
	if in.MemoryID == "" {
		return MemoryArgs{}, validationError(MemoryToolName, &ValidationError{Field: "memory_id", Message: "must not be empty"})
	}
	if in.Action == ActionUpsert && in.Content == "" {
		return MemoryArgs{}, validationError(MemoryToolName, &ValidationError{Field: "content", Message: "required for upsert"})
	}
	return in, nil
}

func stringify(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64, bool:
		return fmt.Sprint(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(b)
	}
}
