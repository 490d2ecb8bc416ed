package memory

import (
	"fmt"
	"strings"

	"github.com/hupe1980/memorymesh/core"
)

// EmptyPanel is shown when a user has no stored facts.
const EmptyPanel = "📭 目前数据库中无记录。"

// FormatPanel renders records for display, keeping their order.
func FormatPanel(records []core.MemoryRecord) string {
	if len(records) == 0 {
		return EmptyPanel
	}
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, fmt.Sprintf("📌 %s\n   └ %s", r.MemoryID, r.Content))
	}
	return strings.Join(parts, "\n\n")
}
