package engine

import (
	"context"
	"strings"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/model"
)

// compact summarizes and prunes history once it grows past the threshold.
// A failed or empty summary leaves history untouched.
func (e *Engine) compact(ctx context.Context, r *run) (core.Update, error) {
	msgs := r.state.Messages
	if len(msgs) <= e.opts.CompactThreshold {
		return core.Update{}, nil
	}

	req := model.Request{
		Messages: append(append([]core.Message(nil), msgs...), core.NewHumanMessage(CompactionPrompt)),
	}
	if r.state.Summary != "" {
		req.System = "【当前摘要】：\n" + r.state.Summary
	}

	reply, err := model.Collect(ctx, e.model, req, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.Update{}, ctxErr
		}
		e.opts.Logger.Warn("engine.compact.failed", "error", err.Error())
		r.step(TraceError(err))
		return core.Update{}, nil
	}

	_, summary := SplitThinking(reply.Text)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		e.opts.Logger.Warn("engine.compact.empty_summary")
		return core.Update{}, nil
	}

	u := core.Update{Summary: &summary}
	for _, m := range msgs[:pruneIndex(msgs, e.opts.CompactKeep)] {
		u.Remove = append(u.Remove, core.Remove(m.MessageID()))
	}
	e.opts.Logger.Info("engine.compact", "removed", len(u.Remove), "kept", len(msgs)-len(u.Remove))
	return u, nil
}

// pruneIndex returns the first index kept after compaction: the last keep
// messages, minus any leading tool results whose call would be pruned.
func pruneIndex(msgs []core.Message, keep int) int {
	cut := len(msgs) - keep
	if cut < 0 {
		cut = 0
	}
	for cut < len(msgs) {
		if _, orphan := msgs[cut].(core.ToolResultMessage); !orphan {
			break
		}
		cut++
	}
	return cut
}
