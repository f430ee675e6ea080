// Package codex is the codex harness variant. It invokes the Codex CLI
// with `codex exec --json` and reads its NDJSON event stream, one JSON
// object per line, as claude and opencode do (amp uses sentinel lines).
package codex

import (
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
const DefaultCommand = "codex"

// Harness implements harness.Harness for codex.
type Harness struct{}

func (h *Harness) Name() apitypes.HarnessKind { return apitypes.HarnessCodex }

func (h *Harness) Start(ctx context.Context, cfg harness.Config) (harness.Session, error) {
	return harness.StartProcess(ctx, DefaultCommand, buildArgv, buildEnv, &lineParser{}, cfg)
}

// buildArgv maps mission configuration to codex's CLI flags, defaulting
// to full-auto approval since no approval-policy collaborator exists
// here.
func buildArgv(cfg harness.Config) []string {
	argv := []string{"exec", "--json", "--full-auto"}
	if cfg.ModelOverride != "" {
		argv = append(argv, "--model", cfg.ModelOverride)
	}
	if cfg.ModelEffort != "" {
		argv = append(argv, "-c", "model_reasoning_effort="+cfg.ModelEffort)
	}
	return argv
}

func buildEnv(cfg harness.Config) map[string]string {
	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if tok, ok := cfg.Env["oauth_access_token"]; ok {
		env["CODEX_API_KEY"] = tok
	}
	return env
}

// wireEvent is one flat codex exec --json event; all fields sit at the
// top level of the line's JSON object.
type wireEvent struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Last   bool   `json:"last,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Args   string `json:"arguments,omitempty"`
	Output string `json:"output,omitempty"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
}

type lineParser struct {
	reasoningBuf strings.Builder
	messageBuf   strings.Builder
	model        string
}

func (p *lineParser) ParseLine(line []byte, emit func(harness.Event)) {
	var e wireEvent
	if err := json.Unmarshal(line, &e); err != nil {
		emit(harness.Event{Kind: harness.KindError, Err: fmt.Errorf("malformed codex frame: %w", err)})
		return
	}
	switch e.Type {
	case "agent_reasoning_delta":
		p.reasoningBuf.WriteString(e.Text)
		if e.Last {
			emit(harness.Event{Kind: harness.KindThinking, Thinking: &harness.ThinkingDelta{Content: p.reasoningBuf.String(), Done: true}})
			p.reasoningBuf.Reset()
		}
	case "agent_message_delta":
		p.messageBuf.WriteString(e.Text)
		emit(harness.Event{Kind: harness.KindTextDelta, TextDelta: e.Text})
	case "function_call":
		var args any
		_ = json.Unmarshal([]byte(e.Args), &args)
		emit(harness.Event{Kind: harness.KindToolCall, ToolCall: &apitypes.ToolCallPayload{ToolCallID: e.CallID, Name: e.Name, Args: args}})
	case "function_call_output":
		var out any
		_ = json.Unmarshal([]byte(e.Output), &out)
		if out == nil {
			out = e.Output
		}
		emit(harness.Event{Kind: harness.KindToolResult, ToolResult: &apitypes.ToolResultPayload{ToolCallID: e.CallID, Name: e.Name, Result: out}})
	case "task_complete":
		p.model = e.Model
		emit(harness.Event{
			Kind: harness.KindAssistantMessage,
			Assistant: &apitypes.AssistantMessagePayload{
				ID:      uuid.NewString(),
				Content: p.messageBuf.String(),
				Success: true,
				Model:   p.model,
			},
		})
		p.messageBuf.Reset()
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: true}})
	case "error":
		emit(harness.Event{Kind: harness.KindError, Err: fmt.Errorf("codex: %s", e.Error)})
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: false}})
	}
}

func (p *lineParser) OnTurnEnd(emit func(harness.Event)) {
	if p.reasoningBuf.Len() > 0 {
		emit(harness.Event{Kind: harness.KindThinking, Thinking: &harness.ThinkingDelta{Content: p.reasoningBuf.String(), Done: true}})
		p.reasoningBuf.Reset()
	}
}
