// Package harness encapsulates everything that varies between the four
// third-party agent CLIs behind one stable interface. The closed set of
// variants — claude_code, opencode, codex, amp — each live in their own
// subpackage and register themselves into the package-level Registry
// from an init().
package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/ctrlplane/internal/apitypes"
)

// Kind enumerates the internal event stream produced by a Session,
// distinct from the wire-level apitypes.EventKind: text arrives here as
// deltas and coalesces into an assistant_message only at a turn
// boundary.
type Kind string

const (
	KindThinking         Kind = "thinking"
	KindTextDelta        Kind = "text_delta"
	KindToolCall         Kind = "tool_call"
	KindToolResult       Kind = "tool_result"
	KindAssistantMessage Kind = "assistant_message"
	KindProgress         Kind = "progress"
	KindError            Kind = "error"
	KindDone             Kind = "done"
)

// Event is one item of a Session's internal event stream.
type Event struct {
	Kind       Kind
	Thinking   *ThinkingDelta
	TextDelta  string
	ToolCall   *apitypes.ToolCallPayload
	ToolResult *apitypes.ToolResultPayload
	Assistant  *apitypes.AssistantMessagePayload
	Progress   *apitypes.ProgressPayload
	Err        error
	Done       *DoneInfo
}

// ThinkingDelta is one chunk of chain-of-thought output. Done is set on
// the final chunk of a reasoning span.
type ThinkingDelta struct {
	Content string
	Done    bool
}

// DoneInfo terminates a Session.Events() stream for the current turn.
type DoneInfo struct {
	Cancelled bool
	OK        bool
}

// Config is the launch-time configuration passed to Start.
type Config struct {
	MissionID     string
	WorkspaceID   string
	Env           map[string]string // includes injected OAuth tokens
	ModelOverride string
	ModelEffort   string
	InitialPrompt string
	WorkDir       string
}

// Session is one running harness process driving a single mission.
type Session interface {
	// SendUserMessage enqueues text for the harness. It never blocks on
	// the harness's reply; if a turn is already in flight the message
	// is queued and played after the current Events() stream emits
	// KindDone.
	SendUserMessage(text string) error

	// Events returns the stream of InternalEvents for the current (or
	// next) turn. It is finite per turn and safe to call again after a
	// KindDone has been observed.
	Events() <-chan Event

	// QueueLen reports how many messages are queued behind the turn in
	// flight, surfaced on the mission's status.
	QueueLen() int

	// Cancel requests the harness stop the current turn. The stream
	// then ends with a final KindDone; ProcessSession does not set
	// Cancelled on it.
	Cancel()

	// Shutdown terminates the process. Never panics if it is already
	// gone.
	Shutdown() error
}

// Harness constructs Sessions for one agent CLI variant.
type Harness interface {
	Name() apitypes.HarnessKind
	Start(ctx context.Context, cfg Config) (Session, error)
}

// Registry resolves a HarnessKind to its Harness implementation. Each
// variant subpackage registers itself from an init(), so importing a
// variant package for its side effect is all a binary needs to make it
// available.
type Registry struct {
	mu    sync.RWMutex
	byKind map[apitypes.HarnessKind]Harness
}

// DefaultRegistry is populated by each variant subpackage's init().
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[apitypes.HarnessKind]Harness)}
}

// Register adds h under its own Name(). Later registrations for the
// same kind replace earlier ones.
func (r *Registry) Register(h Harness) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[h.Name()] = h
}

// Resolve looks up the Harness for kind.
func (r *Registry) Resolve(kind apitypes.HarnessKind) (Harness, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no harness registered for kind %q", kind)
	}
	return h, nil
}
