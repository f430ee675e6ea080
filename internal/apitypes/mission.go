// Package apitypes defines the data model shared across every component:
// missions, events, workspaces, and OAuth credentials. It holds no
// behaviour beyond small validation and transition helpers.
package apitypes

import "time"

// MissionStatus is the lifecycle state of a Mission.
type MissionStatus string

const (
	StatusActive      MissionStatus = "active"
	StatusInterrupted MissionStatus = "interrupted"
	StatusBlocked     MissionStatus = "blocked"
	StatusCompleted   MissionStatus = "completed"
	StatusFailed      MissionStatus = "failed"
	StatusNotFeasible MissionStatus = "not_feasible"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s MissionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNotFeasible:
		return true
	default:
		return false
	}
}

// IsResumable reports whether a mission in this status may be resumed.
func (s MissionStatus) IsResumable() bool {
	switch s {
	case StatusInterrupted, StatusBlocked:
		return true
	default:
		return false
	}
}

// HarnessKind identifies which third-party agent CLI drives a mission.
type HarnessKind string

const (
	HarnessClaudeCode HarnessKind = "claude_code"
	HarnessOpenCode   HarnessKind = "opencode"
	HarnessCodex      HarnessKind = "codex"
	HarnessAmp        HarnessKind = "amp"
)

// ValidHarnessKind reports whether k is one of the closed set of variants.
func ValidHarnessKind(k HarnessKind) bool {
	switch k {
	case HarnessClaudeCode, HarnessOpenCode, HarnessCodex, HarnessAmp:
		return true
	default:
		return false
	}
}

// Role identifies the author of a HistoryEntry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one user or assistant message in a mission's transcript.
type HistoryEntry struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	CostCents   *int64    `json:"cost_cents,omitempty"`
	Model       string    `json:"model,omitempty"`
	SharedFiles []string  `json:"shared_files,omitempty"`
}

// Mission is one conversation thread between a user and an agent harness.
type Mission struct {
	MissionID      string         `json:"mission_id"`
	Title          string         `json:"title"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Status         MissionStatus  `json:"status"`
	TerminalReason string         `json:"terminal_reason,omitempty"`
	WorkspaceID    string         `json:"workspace_id"`
	HarnessKind    HarnessKind    `json:"harness_kind"`
	ModelOverride  string         `json:"model_override,omitempty"`
	ModelEffort    string         `json:"model_effort,omitempty"`
	ConfigProfile  string         `json:"config_profile,omitempty"`
	History        []HistoryEntry `json:"history"`

	// PendingMessages holds messages that arrived while the mission was
	// interrupted or blocked; they are drained in order on resume.
	PendingMessages []string `json:"pending_messages,omitempty"`
}

// Clone returns a deep-enough copy of m safe to hand to a caller without
// aliasing the History slice.
func (m Mission) Clone() Mission {
	out := m
	if len(m.History) > 0 {
		out.History = make([]HistoryEntry, len(m.History))
		copy(out.History, m.History)
	}
	if len(m.PendingMessages) > 0 {
		out.PendingMessages = make([]string, len(m.PendingMessages))
		copy(out.PendingMessages, m.PendingMessages)
	}
	return out
}

// CreateMissionRequest is the input to the create_mission operation.
type CreateMissionRequest struct {
	Title         string      `json:"title,omitempty"`
	HarnessKind   HarnessKind `json:"backend"`
	ModelOverride string      `json:"model_override,omitempty"`
	ModelEffort   string      `json:"model_effort,omitempty"`
	WorkspaceID   string      `json:"workspace_id,omitempty"`
	ConfigProfile string      `json:"config_profile,omitempty"`
}

// RunningMission is a transient scheduler record describing admitted work.
type RunningMission struct {
	MissionID    string       `json:"mission_id"`
	State        RunningState `json:"state"`
	QueueLen     int          `json:"queue_len"`
	LastActivity time.Time    `json:"last_activity"`
}

// RunningState is the transient scheduler-observed state of an active mission.
type RunningState string

const (
	RunningStateRunning        RunningState = "running"
	RunningStateWaitingForTool RunningState = "waiting_for_tool"
	RunningStateIdle           RunningState = "idle"
)

// RecurringMissionTemplate is a mission blueprint that re-fires on an
// RFC 5545 recurrence rule. It does not alter any existing Mission
// operation.
type RecurringMissionTemplate struct {
	TemplateID    string      `json:"template_id"`
	Title         string      `json:"title"`
	HarnessKind   HarnessKind `json:"backend"`
	WorkspaceID   string      `json:"workspace_id"`
	InitialPrompt string      `json:"initial_prompt"`
	ConfigProfile string      `json:"config_profile,omitempty"`
	RRule         string      `json:"rrule"`
	Enabled       bool        `json:"enabled"`
	NextFireAt    time.Time   `json:"next_fire_at,omitempty"`
	LastFiredAt   time.Time   `json:"last_fired_at,omitempty"`
}
