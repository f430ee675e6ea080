// Package claude is the claude_code harness variant. It drives the
// Claude Code CLI in --output-format stream-json mode and parses its
// newline-delimited JSON event stream.
package claude

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
const DefaultCommand = "claude"

// Harness implements harness.Harness for claude_code.
type Harness struct{}

func (h *Harness) Name() apitypes.HarnessKind { return apitypes.HarnessClaudeCode }

func (h *Harness) Start(ctx context.Context, cfg harness.Config) (harness.Session, error) {
	return harness.StartProcess(ctx, DefaultCommand, buildArgv, buildEnv, &lineParser{}, cfg)
}

// buildArgv assembles the CLI invocation for one mission.
func buildArgv(cfg harness.Config) []string {
	argv := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if cfg.ModelOverride != "" {
		argv = append(argv, "--model", cfg.ModelOverride)
	}
	if cfg.ModelEffort != "" {
		argv = append(argv, "--reasoning-effort", cfg.ModelEffort)
	}
	return argv
}

// buildEnv injects the OAuth bearer token the way the real CLI expects
// it, plus whatever the caller already resolved.
func buildEnv(cfg harness.Config) map[string]string {
	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if tok, ok := cfg.Env["oauth_access_token"]; ok {
		env["ANTHROPIC_AUTH_TOKEN"] = tok
	}
	return env
}

type lineParser struct {
	model         string
	thinkingBuf   strings.Builder
	thinkingOpen  bool
	assistantBuf  strings.Builder
}

// wireFrame is the subset of Claude Code's stream-json schema this
// adapter understands.
type wireFrame struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	Stop       bool            `json:"stop,omitempty"`
	Model      string          `json:"model,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Message    string          `json:"message,omitempty"`
}

func (p *lineParser) ParseLine(line []byte, emit func(harness.Event)) {
	var f wireFrame
	if err := json.Unmarshal(line, &f); err != nil {
		emit(harness.Event{Kind: harness.KindError, Err: fmt.Errorf("malformed claude frame: %w", err)})
		return
	}
	switch f.Type {
	case "thinking":
		p.thinkingOpen = true
		p.thinkingBuf.WriteString(f.Delta)
		if f.Stop {
			emit(harness.Event{Kind: harness.KindThinking, Thinking: &harness.ThinkingDelta{Content: p.thinkingBuf.String(), Done: true}})
			p.thinkingBuf.Reset()
			p.thinkingOpen = false
		}
	case "text":
		p.assistantBuf.WriteString(f.Delta)
		emit(harness.Event{Kind: harness.KindTextDelta, TextDelta: f.Delta})
	case "tool_use":
		var args any
		_ = json.Unmarshal(f.Input, &args)
		emit(harness.Event{Kind: harness.KindToolCall, ToolCall: &apitypes.ToolCallPayload{ToolCallID: f.ID, Name: f.Name, Args: args}})
	case "tool_result":
		var result any
		_ = json.Unmarshal(f.Content, &result)
		emit(harness.Event{Kind: harness.KindToolResult, ToolResult: &apitypes.ToolResultPayload{ToolCallID: f.ToolUseID, Name: f.Name, Result: result}})
	case "message_stop":
		p.model = f.Model
		emit(harness.Event{
			Kind: harness.KindAssistantMessage,
			Assistant: &apitypes.AssistantMessagePayload{
				ID:        uuid.NewString(),
				Content:   p.assistantBuf.String(),
				Success:   true,
				CostCents: int64(f.CostUSD * 100),
				Model:     p.model,
			},
		})
		p.assistantBuf.Reset()
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: true}})
	case "error":
		emit(harness.Event{Kind: harness.KindError, Err: fmt.Errorf("claude: %s", f.Message)})
		emit(harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: false}})
	}
}

func (p *lineParser) OnTurnEnd(emit func(harness.Event)) {
	if p.thinkingOpen {
		emit(harness.Event{Kind: harness.KindThinking, Thinking: &harness.ThinkingDelta{Content: p.thinkingBuf.String(), Done: true}})
		p.thinkingBuf.Reset()
		p.thinkingOpen = false
	}
}
