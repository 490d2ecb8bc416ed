package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/tool"
)

// reflect persists the memory mutations of the last tool round and applies
// the visibility policy. Search results are never touched.
func (e *Engine) reflect(ctx context.Context, r *run) (core.Update, error) {
	var (
		memResults []core.ToolResultMessage
		issuers    = map[string]core.AssistantMessage{}
		order      []string
		changed    bool
	)

	for _, res := range r.pending {
		if res.ToolName != tool.MemoryToolName {
			continue
		}
		memResults = append(memResults, res)

		issuer, call, ok := r.state.FindCall(res.CallID)
		if !ok {
			e.opts.Logger.Warn("engine.reflect.orphan_result", "call_id", res.CallID)
			continue
		}
		if _, seen := issuers[issuer.ID]; !seen {
			issuers[issuer.ID] = issuer
			order = append(order, issuer.ID)
		}
		if res.IsError {
			// already reported by the tool stage
			continue
		}

		args, err := tool.ParseMemoryArgs(call.Arguments)
		if err != nil {
			r.step(traceToolFailed(call.Name, err))
			continue
		}
		if err := e.applyMemory(ctx, r.turn.UserID, args); err != nil {
			r.step(TraceError(err))
			continue
		}
		r.step(fmt.Sprintf("💾 记忆已%s: %s", actionLabel(args.Action), args.MemoryID))
		changed = true
	}
	r.pending = nil

	if changed {
		if snap, err := e.memory.Snapshot(ctx, r.turn.UserID); err == nil {
			r.emit.emit(Event{Kind: EventMemory, Memory: snap})
		}
	}

	if len(memResults) == 0 {
		return core.Update{}, nil
	}

	if e.opts.Visibility == VisibilityAnnotate {
		return core.Update{Messages: []core.Message{core.NewSystemMessage(MemoryUpdatedMarker)}}, nil
	}
	return silentErase(memResults, issuers, order), nil
}

// silentErase removes memory tool-results and the memory calls that caused
// them. An issuing message that also called other tools is rewritten in
// place without its memory calls so the remaining results keep their call.
func silentErase(results []core.ToolResultMessage, issuers map[string]core.AssistantMessage, order []string) core.Update {
	var u core.Update
	for _, res := range results {
		u.Remove = append(u.Remove, core.Remove(res.ID))
	}

	for _, id := range order {
		am := issuers[id]
		var kept []core.ToolCall
		for _, tc := range am.ToolCalls {
			if tc.Name != tool.MemoryToolName {
				kept = append(kept, tc)
			}
		}
		if len(kept) == 0 {
			u.Remove = append(u.Remove, core.Remove(id))
			continue
		}
		am.ToolCalls = kept
		u.Messages = append(u.Messages, am)
	}
	return u
}

func (e *Engine) applyMemory(ctx context.Context, userID string, args tool.MemoryArgs) error {
	switch args.Action {
	case tool.ActionUpsert:
		return e.memory.Upsert(ctx, userID, args.MemoryID, args.Content)
	case tool.ActionDelete:
		return e.memory.Delete(ctx, userID, args.MemoryID)
	default:
		return fmt.Errorf("unknown memory action %q", args.Action)
	}
}

func actionLabel(action string) string {
	if action == tool.ActionDelete {
		return "删除"
	}
	return "更新"
}
