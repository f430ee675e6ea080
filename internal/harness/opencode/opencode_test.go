package opencode

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

func TestReasoningCoalescesOnDone(t *testing.T) {
	p := &lineParser{}
	events := collect(p,
		`{"event":"reasoning","text":"thinking a"}`,
		`{"event":"reasoning","text":"thinking b","done":true}`,
	)
	require.Len(t, events, 1)
	assert.Equal(t, "thinking athinking b", events[0].Thinking.Content)
	assert.True(t, events[0].Thinking.Done)
}

func TestTurnCompleteEmitsAssistantMessage(t *testing.T) {
	p := &lineParser{}
	events := collect(p,
		`{"event":"content","text":"answer"}`,
		`{"event":"turn_complete","model":"gpt-5","cost_cents":12}`,
	)
	require.Len(t, events, 3)
	assert.Equal(t, "answer", events[1].Assistant.Content)
	assert.Equal(t, int64(12), events[1].Assistant.CostCents)
	assert.Equal(t, harness.KindDone, events[2].Kind)
}

func TestProgressEventCarriesSubtaskCounts(t *testing.T) {
	p := &lineParser{}
	events := collect(p, `{"event":"progress","progress":{"total":4,"completed":1,"current":"lint","depth":2}}`)
	require.Len(t, events, 1)
	require.Equal(t, harness.KindProgress, events[0].Kind)
	assert.Equal(t, 4, events[0].Progress.TotalSubtasks)
	assert.Equal(t, 1, events[0].Progress.CompletedSubtasks)
	assert.Equal(t, "lint", events[0].Progress.CurrentSubtask)
	assert.Equal(t, 2, events[0].Progress.Depth)
}

func TestOpencodeErrorEventEndsTurn(t *testing.T) {
	p := &lineParser{}
	events := collect(p, `{"event":"error","error":"boom"}`)
	require.Len(t, events, 2)
	assert.Equal(t, harness.KindError, events[0].Kind)
	assert.False(t, events[1].Done.OK)
}
