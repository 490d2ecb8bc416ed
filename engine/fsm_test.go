package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from State
		when Condition
		want State
	}{
		{StateAgent, HasToolCalls, StateTool},
		{StateAgent, NoToolCalls, StateCompact},
		{StateTool, Always, StateReflect},
		{StateReflect, Reply, StateAgentReply},
		{StateReflect, LoopBack, StateAgent},
		{StateAgentReply, Always, StateCompact},
		{StateCompact, Always, StateDone},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.when), func(t *testing.T) {
			got, err := Next(tt.from, tt.when)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_UnknownEdge(t *testing.T) {
	_, err := Next(StateTool, HasToolCalls)
	assert.Error(t, err)

	_, err = Next(StateDone, Always)
	assert.Error(t, err)
}

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name, in, thinking, answer string
	}{
		{"none", "直接回答", "", "直接回答"},
		{"english tags", "<thinking>想一想</thinking>\n答案", "想一想", "答案"},
		{"chinese tags", "<思考>分析</思考> 结果", "分析", "结果"},
		{"unclosed", "<thinking>没有结束", "", "<thinking>没有结束"},
		{"reversed", "</thinking>反了<thinking>", "", "</thinking>反了<thinking>"},
		{"prefix dropped", "前缀<thinking>t</thinking>a", "t", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thinking, answer := SplitThinking(tt.in)
			assert.Equal(t, tt.thinking, thinking)
			assert.Equal(t, tt.answer, answer)
		})
	}
}
