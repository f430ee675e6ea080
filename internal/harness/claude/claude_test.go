package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ctrlplane/internal/harness"
)

func collect(p *lineParser, lines ...string) []harness.Event {
	var got []harness.Event
	emit := func(e harness.Event) { got = append(got, e) }
	for _, l := range lines {
		p.ParseLine([]byte(l), emit)
	}
	return got
}

func TestThinkingCoalescesUntilStop(t *testing.T) {
	p := &lineParser{}
	events := collect(p,
		`{"type":"thinking","delta":"step one. "}`,
		`{"type":"thinking","delta":"step two.","stop":true}`,
	)
	require.Len(t, events, 1)
	assert.Equal(t, harness.KindThinking, events[0].Kind)
	assert.True(t, events[0].Thinking.Done)
	assert.Equal(t, "step one. step two.", events[0].Thinking.Content)
}

func TestMessageStopEmitsAssistantMessageThenDone(t *testing.T) {
	p := &lineParser{}
	events := collect(p,
		`{"type":"text","delta":"hi there"}`,
		`{"type":"message_stop","model":"claude-sonnet","cost_usd":0.025}`,
	)
	require.Len(t, events, 3)
	assert.Equal(t, harness.KindTextDelta, events[0].Kind)
	assert.Equal(t, harness.KindAssistantMessage, events[1].Kind)
	assert.Equal(t, "hi there", events[1].Assistant.Content)
	assert.Equal(t, int64(2), events[1].Assistant.CostCents)
	assert.Equal(t, harness.KindDone, events[2].Kind)
	assert.True(t, events[2].Done.OK)
}

func TestToolCallAndResult(t *testing.T) {
	p := &lineParser{}
	events := collect(p,
		`{"type":"tool_use","id":"t1","name":"bash","input":{"cmd":"ls"}}`,
		`{"type":"tool_result","tool_use_id":"t1","name":"bash","content":{"ok":true}}`,
	)
	require.Len(t, events, 2)
	assert.Equal(t, "t1", events[0].ToolCall.ToolCallID)
	assert.Equal(t, "bash", events[0].ToolCall.Name)
	assert.Equal(t, "t1", events[1].ToolResult.ToolCallID)
}

func TestMalformedLineEmitsError(t *testing.T) {
	p := &lineParser{}
	events := collect(p, `not json`)
	require.Len(t, events, 1)
	assert.Equal(t, harness.KindError, events[0].Kind)
}

func TestOnTurnEndFlushesOpenThinking(t *testing.T) {
	p := &lineParser{}
	_ = collect(p, `{"type":"thinking","delta":"unfinished"}`)
	var got []harness.Event
	p.OnTurnEnd(func(e harness.Event) { got = append(got, e) })
	require.Len(t, got, 1)
	assert.True(t, got[0].Thinking.Done)
	assert.Equal(t, "unfinished", got[0].Thinking.Content)
}
