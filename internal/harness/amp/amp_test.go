package amp

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

func TestSentinelLinesParseIntoEvents(t *testing.T) {
	p := &lineParser{}
	events := collect(p,
		`THINKING {"text":"considering","done":true}`,
		`MESSAGE {"text":"hello"}`,
		`TOOL_CALL {"id":"t1","name":"grep","args":{"q":"x"}}`,
		`TOOL_DONE {"id":"t1","name":"grep","result":{"matches":1}}`,
		`DONE {"ok":true}`,
	)
	require.Len(t, events, 6)
	assert.Equal(t, harness.KindThinking, events[0].Kind)
	assert.Equal(t, harness.KindTextDelta, events[1].Kind)
	assert.Equal(t, harness.KindToolCall, events[2].Kind)
	assert.Equal(t, harness.KindToolResult, events[3].Kind)
	assert.Equal(t, harness.KindAssistantMessage, events[4].Kind)
	assert.Equal(t, harness.KindDone, events[5].Kind)
}

func TestUnrecognisedLineIsIgnored(t *testing.T) {
	p := &lineParser{}
	events := collect(p, "some chatty diagnostic text")
	assert.Empty(t, events)
}

func TestErrorLineEndsTurn(t *testing.T) {
	p := &lineParser{}
	events := collect(p, `ERROR something broke`)
	require.Len(t, events, 2)
	assert.Equal(t, harness.KindError, events[0].Kind)
	assert.False(t, events[1].Done.OK)
}
