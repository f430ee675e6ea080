// Package opencode is the opencode harness variant. opencode emits a
// newline-delimited JSON event stream with its own field naming,
// distinct from Claude Code's; this adapter is otherwise the same
// process-engine shape as the claude_code variant.
package opencode

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
const DefaultCommand = "opencode"

// Harness implements harness.Harness for opencode.
type Harness struct{}

func (h *Harness) Name() apitypes.HarnessKind { return apitypes.HarnessOpenCode }

func (h *Harness) Start(ctx context.Context, cfg harness.Config) (harness.Session, error) {
	return harness.StartProcess(ctx, DefaultCommand, buildArgv, buildEnv, &lineParser{}, cfg)
}

func buildArgv(cfg harness.Config) []string {
	argv := []string{"run", "--json"}
	if cfg.ModelOverride != "" {
		argv = append(argv, "--model", cfg.ModelOverride)
	}
	if cfg.ModelEffort != "" {
		argv = append(argv, "--effort", cfg.ModelEffort)
	}
	return argv
}

func buildEnv(cfg harness.Config) map[string]string {
	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if tok, ok := cfg.Env["oauth_access_token"]; ok {
		env["OPENCODE_API_KEY"] = tok
	}
	return env
}

// wireEvent is opencode's own event schema, distinct from claude's.
type wireEvent struct {
	Event     string          `json:"event"`
	Text      string          `json:"text,omitempty"`
	Done      bool            `json:"done,omitempty"`
	ID        string          `json:"id,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Model     string          `json:"model,omitempty"`
	CostCents int64           `json:"cost_cents,omitempty"`
	Progress  *progressFields `json:"progress,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// progressFields backs opencode's optional progress reporting; opencode
// is the only variant observed emitting it.
type progressFields struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Current   string `json:"current,omitempty"`
	Depth     int    `json:"depth"`
}

type lineParser struct {
	reasoningBuf strings.Builder
	textBuf      strings.Builder
	model        string
	cost         int64
}

func (p *lineParser) ParseLine(line []byte, emit func(harness.Event)) {
	var e wireEvent
	if err := json.Unmarshal(line, &e); err != nil {
		emit(harness.Event{Kind: harness.KindError, Err: fmt.Errorf("malformed opencode frame: %w", err)})
		return
	}
	switch e.Event {
	case "reasoning":
		p.reasoningBuf.WriteString(e.Text)
		if e.Done {
			emit(harness.Event{Kind: harness.KindThinking, Thinking: &harness.ThinkingDelta{Content: p.reasoningBuf.String(), Done: true}})
			p.reasoningBuf.Reset()
		}
	case "content":
		p.textBuf.WriteString(e.Text)
		emit(harness.Event{Kind: harness.KindTextDelta, TextDelta: e.Text})
	case "tool_call":
		var args any
		_ = json.Unmarshal(e.Arguments, &args)
		emit(harness.Event{Kind: harness.KindToolCall, ToolCall: &apitypes.ToolCallPayload{ToolCallID: e.ID, Name: e.Tool, Args: args}})
	case "tool_output":
		var out any
		_ = json.Unmarshal(e.Output, &out)
		emit(harness.Event{Kind: harness.KindToolResult, ToolResult: &apitypes.ToolResultPayload{ToolCallID: e.ID, Name: e.Tool, Result: out}})
	case "progress":
		if e.Progress != nil {
			emit(harness.Event{Kind: harness.KindProgress, Progress: &apitypes.ProgressPayload{
				TotalSubtasks:     e.Progress.Total,
				CompletedSubtasks: e.Progress.Completed,
				CurrentSubtask:    e.Progress.Current,
				Depth:             e.Progress.Depth,
			}})
		}
	case "turn_complete":
		p.model = e.Model
		p.cost = e.CostCents
		emit(harness.Event{
			Kind: harness.KindAssistantMessage,
			Assistant: &apitypes.AssistantMessagePayload{
				ID:        uuid.NewString(),
				Content:   p.textBuf.String(),
				Success:   true,
				CostCents: p.cost,
				Model:     p.model,
			},
		})
		p.textBuf.Reset()
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: true}})
	case "error":
		emit(harness.Event{Kind: harness.KindError, Err: fmt.Errorf("opencode: %s", e.Error)})
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: false}})
	}
}

func (p *lineParser) OnTurnEnd(emit func(harness.Event)) {
	if p.reasoningBuf.Len() > 0 {
		emit(harness.Event{Kind: harness.KindThinking, Thinking: &harness.ThinkingDelta{Content: p.reasoningBuf.String(), Done: true}})
		p.reasoningBuf.Reset()
	}
}
