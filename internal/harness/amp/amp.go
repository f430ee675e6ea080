// Package amp is the amp harness variant. Unlike the other three, amp
// speaks a plain line-oriented protocol rather than framed JSON: each
// line carries a sentinel prefix identifying its kind followed by a
// single-line payload, JSON for every kind except ERROR, whose payload
// is plain text.
package amp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/harness"
)

func init() {
	harness.DefaultRegistry.Register(&Harness{})
}

// DefaultCommand is the executable name invoked for this variant.
const DefaultCommand = "amp"

const (
	prefixThinking = "THINKING "
	prefixMessage  = "MESSAGE "
	prefixToolCall = "TOOL_CALL "
	prefixToolDone = "TOOL_DONE "
	prefixDone     = "DONE "
	prefixError    = "ERROR "
)

// Harness implements harness.Harness for amp.
type Harness struct{}

func (h *Harness) Name() apitypes.HarnessKind { return apitypes.HarnessAmp }

func (h *Harness) Start(ctx context.Context, cfg harness.Config) (harness.Session, error) {
	return harness.StartProcess(ctx, DefaultCommand, buildArgv, buildEnv, &lineParser{}, cfg)
}

func buildArgv(cfg harness.Config) []string {
	argv := []string{"--stream"}
	if cfg.ModelOverride != "" {
		argv = append(argv, "--model", cfg.ModelOverride)
	}
	return argv
}

func buildEnv(cfg harness.Config) map[string]string {
	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if tok, ok := cfg.Env["oauth_access_token"]; ok {
		env["AMP_TOKEN"] = tok
	}
	return env
}

type thinkingLine struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type toolCallLine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args any    `json:"args"`
}

type toolDoneLine struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result any    `json:"result"`
}

type messageLine struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type doneLine struct {
	OK bool `json:"ok"`
}

type lineParser struct {
	messageBuf strings.Builder
}

func (p *lineParser) ParseLine(line []byte, emit func(harness.Event)) {
	switch {
	case hasPrefix(line, prefixThinking):
		var t thinkingLine
		if err := unmarshalAfter(line, prefixThinking, &t); err != nil {
			emit(harness.Event{Kind: harness.KindError, Err: err})
			return
		}
		emit(harness.Event{Kind: harness.KindThinking, Thinking: &harness.ThinkingDelta{Content: t.Text, Done: t.Done}})
	case hasPrefix(line, prefixMessage):
		var m messageLine
		if err := unmarshalAfter(line, prefixMessage, &m); err != nil {
			emit(harness.Event{Kind: harness.KindError, Err: err})
			return
		}
		p.messageBuf.WriteString(m.Text)
		emit(harness.Event{Kind: harness.KindTextDelta, TextDelta: m.Text})
	case hasPrefix(line, prefixToolCall):
		var c toolCallLine
		if err := unmarshalAfter(line, prefixToolCall, &c); err != nil {
			emit(harness.Event{Kind: harness.KindError, Err: err})
			return
		}
		emit(harness.Event{Kind: harness.KindToolCall, ToolCall: &apitypes.ToolCallPayload{ToolCallID: c.ID, Name: c.Name, Args: c.Args}})
	case hasPrefix(line, prefixToolDone):
		var d toolDoneLine
		if err := unmarshalAfter(line, prefixToolDone, &d); err != nil {
			emit(harness.Event{Kind: harness.KindError, Err: err})
			return
		}
		emit(harness.Event{Kind: harness.KindToolResult, ToolResult: &apitypes.ToolResultPayload{ToolCallID: d.ID, Name: d.Name, Result: d.Result}})
	case hasPrefix(line, prefixDone):
		var d doneLine
		_ = unmarshalAfter(line, prefixDone, &d)
		emit(harness.Event{
			Kind: harness.KindAssistantMessage,
			Assistant: &apitypes.AssistantMessagePayload{
				ID:      uuid.NewString(),
				Content: p.messageBuf.String(),
				Success: d.OK,
			},
		})
		p.messageBuf.Reset()
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: d.OK}})
	case hasPrefix(line, prefixError):
		emit(harness.Event{Kind: harness.KindError, Err: fmt.Errorf("amp: %s", bytes.TrimPrefix(line, []byte(prefixError)))})
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: false}})
	default:
		// Unrecognised line: amp is chatty with diagnostic text on
		// stdout outside its sentinel protocol; ignore it rather than
		// erroring the whole turn.
	}
}

func (p *lineParser) OnTurnEnd(emit func(harness.Event)) {}

func hasPrefix(line []byte, prefix string) bool {
	return bytes.HasPrefix(line, []byte(prefix))
}

func unmarshalAfter(line []byte, prefix string, v any) error {
	payload := bytes.TrimPrefix(line, []byte(prefix))
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("malformed amp frame: %w", err)
	}
	return nil
}
