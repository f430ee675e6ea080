package apitypes

import "time"

// EventKind enumerates the kinds of events that flow through the pipeline.
type EventKind string

const (
	EventStatus           EventKind = "status"
	EventUserMessage      EventKind = "user_message"
	EventAssistantMessage EventKind = "assistant_message"
	EventThinking         EventKind = "thinking"
	EventAgentPhase       EventKind = "agent_phase"
	EventProgress         EventKind = "progress"
	EventToolCall         EventKind = "tool_call"
	EventToolResult       EventKind = "tool_result"
	EventError            EventKind = "error"
)

// Event is a single timestamped, sequenced record on a mission's log.
type Event struct {
	MissionID string    `json:"mission_id"`
	Seq       int64     `json:"seq"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// StatusPayload is the payload of an EventStatus event.
type StatusPayload struct {
	State    RunningState `json:"state"`
	QueueLen int          `json:"queue_len"`
}

// UserMessagePayload is the payload of an EventUserMessage event.
type UserMessagePayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// AssistantMessagePayload is the payload of an EventAssistantMessage event.
type AssistantMessagePayload struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Success     bool     `json:"success"`
	CostCents   int64    `json:"cost_cents"`
	Model       string   `json:"model,omitempty"`
	SharedFiles []string `json:"shared_files,omitempty"`
}

// ThinkingPayload is the payload of an EventThinking event.
type ThinkingPayload struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// ToolCallPayload is the payload of an EventToolCall event.
type ToolCallPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Args       any    `json:"args"`
}

// ToolResultPayload is the payload of an EventToolResult event.
type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Result     any    `json:"result"`
}

// AgentPhasePayload is the payload of an EventAgentPhase event.
type AgentPhasePayload struct {
	Phase  string `json:"phase"`
	Detail string `json:"detail,omitempty"`
	Agent  string `json:"agent,omitempty"`
}

// ProgressPayload is the payload of an EventProgress event. Not every
// harness emits these; treat absence as normal.
type ProgressPayload struct {
	TotalSubtasks     int    `json:"total_subtasks"`
	CompletedSubtasks int    `json:"completed_subtasks"`
	CurrentSubtask    string `json:"current_subtask,omitempty"`
	Depth             int    `json:"depth"`
}

// ErrorPayload is the payload of an EventError event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EventSummary is returned by Store.Summary for diagnostics.
type EventSummary struct {
	CountsByKind        map[EventKind]int `json:"counts_by_kind"`
	FirstTimestamp      time.Time         `json:"first_ts"`
	LastTimestamp       time.Time         `json:"last_ts"`
	LastSeq             int64             `json:"last_seq"`
	TerminalErrorExcerpt string           `json:"terminal_error_excerpt,omitempty"`
}
