// Package ctlerr defines the runtime's error taxonomy. Each class is a
// distinct type so callers can dispatch with errors.As: recover locally
// where the class is transient, surface as a mission event where the
// user cares, and only treat the runtime itself as unable to continue
// as fatal.
package ctlerr

import "fmt"

// TransientIO wraps a retryable I/O hiccup (subprocess read/write, disk
// EAGAIN, network timeout).
type TransientIO struct {
	Op  string
	Err error
}

func (e *TransientIO) Error() string { return fmt.Sprintf("transient io (%s): %v", e.Op, e.Err) }
func (e *TransientIO) Unwrap() error { return e.Err }

// HarnessProtocolError wraps a malformed or truncated harness frame.
type HarnessProtocolError struct {
	Harness string
	Err     error
}

func (e *HarnessProtocolError) Error() string {
	return fmt.Sprintf("harness protocol error (%s): %v", e.Harness, e.Err)
}
func (e *HarnessProtocolError) Unwrap() error { return e.Err }

// WorkspaceNotReady is returned when an operation targets a workspace not
// yet in the ready state.
type WorkspaceNotReady struct {
	WorkspaceID string
	Status      string
}

func (e *WorkspaceNotReady) Error() string {
	return fmt.Sprintf("workspace %s not ready (status=%s)", e.WorkspaceID, e.Status)
}

// WorkspaceUnavailable is returned when the container primitive is
// unavailable and fallback is disallowed.
type WorkspaceUnavailable struct {
	WorkspaceID string
	Reason      string
}

func (e *WorkspaceUnavailable) Error() string {
	return fmt.Sprintf("workspace %s unavailable: %s", e.WorkspaceID, e.Reason)
}

// OAuthInvalidGrant is returned when a provider reports invalid_grant: the
// refresh token itself has expired and automatic refresh must stop.
type OAuthInvalidGrant struct {
	Provider string
	Err      error
}

func (e *OAuthInvalidGrant) Error() string {
	return fmt.Sprintf("oauth invalid_grant for %s: %v", e.Provider, e.Err)
}
func (e *OAuthInvalidGrant) Unwrap() error { return e.Err }

// StorageError wraps a durable-store write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage error (%s): %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// MissionTerminated is returned when an operation is attempted on a
// mission already in a terminal status.
type MissionTerminated struct {
	MissionID string
	Status    string
}

func (e *MissionTerminated) Error() string {
	return fmt.Sprintf("mission %s is terminated (status=%s)", e.MissionID, e.Status)
}

// Internal wraps a recovered panic from a supervised task.
type Internal struct {
	Component string
	Recovered any
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Component, e.Recovered)
}
