// Package mission owns one active harness session, one workspace
// binding, the conversation history, and the message queue for a single
// mission, and drives its state machine: a mission is exactly one of
// active, interrupted, blocked, completed, failed, or not_feasible at
// any time, with at most one turn in flight.
package mission

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
	"github.com/cuemby/ctrlplane/internal/eventbus"
	"github.com/cuemby/ctrlplane/internal/harness"
	"github.com/cuemby/ctrlplane/internal/store"
	"github.com/cuemby/ctrlplane/internal/workspace"
)

// CancelWait is how long Cancel pauses after signalling the harness,
// giving the pump time to observe the end of the turn, before it marks
// the mission interrupted.
var CancelWait = 5 * time.Second

// Runtime drives one mission's turn loop. Exactly one turn is in flight
// at a time; concurrency within a mission is single-threaded and
// cooperative.
type Runtime struct {
	st       *store.Store
	bus      *eventbus.Bus
	executor workspace.Executor
	resolver *harness.Registry

	mu        sync.Mutex
	mission   apitypes.Mission
	ws        apitypes.Workspace
	session   harness.Session
	cancelled bool
}

// New creates a Runtime for an already-persisted mission.
func New(st *store.Store, bus *eventbus.Bus, executor workspace.Executor, resolver *harness.Registry, m apitypes.Mission, ws apitypes.Workspace) *Runtime {
	return &Runtime{st: st, bus: bus, executor: executor, resolver: resolver, mission: m, ws: ws}
}

// Mission returns a safe copy of the mission's current state.
func (r *Runtime) Mission() apitypes.Mission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mission.Clone()
}

// QueueLen reports the depth of the harness-level send queue, or the
// disk-backed pending queue when no session is attached.
func (r *Runtime) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return r.session.QueueLen()
	}
	return len(r.mission.PendingMessages)
}

// Start launches (or reattaches to) the harness session for this
// mission. Resume is idempotent: if a session is already attached this
// is a no-op.
func (r *Runtime) Start(ctx context.Context, cfg harness.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return nil
	}
	h, err := r.resolver.Resolve(r.mission.HarnessKind)
	if err != nil {
		return err
	}
	sess, err := h.Start(ctx, cfg)
	if err != nil {
		return err
	}
	r.session = sess
	r.mission.Status = apitypes.StatusActive
	r.mission.UpdatedAt = now()
	_ = r.st.PutMission(r.mission)
	go r.pump(ctx)
	return r.drainPendingLocked()
}

// drainPendingLocked replays any disk-queued messages, in order, onto
// the now-live session. Caller must hold r.mu.
func (r *Runtime) drainPendingLocked() error {
	pending := r.mission.PendingMessages
	r.mission.PendingMessages = nil
	for _, text := range pending {
		r.appendAndPublishLocked(apitypes.EventUserMessage, apitypes.UserMessagePayload{ID: uuid.NewString(), Content: text})
		if err := r.session.SendUserMessage(text); err != nil {
			return err
		}
	}
	return nil
}

// SendMessage implements the turn loop's entry point: it durably
// appends the user message, notifies live subscribers, and hands the
// text to the harness session (or queues it to disk if the mission
// isn't active). For an active mission the returned message id is the id
// of the user_message event this call appended. A message queued to disk
// keeps only its text: the user_message event appended when it is
// drained carries a fresh id, not the one returned here.
func (r *Runtime) SendMessage(content string) (messageID string, queued bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	messageID = uuid.NewString()

	if r.mission.Status.IsTerminal() {
		return messageID, false, &ctlerr.MissionTerminated{MissionID: r.mission.MissionID, Status: string(r.mission.Status)}
	}

	if r.mission.Status != apitypes.StatusActive || r.session == nil {
		// Queued on disk; drained on resume.
		r.mission.PendingMessages = append(r.mission.PendingMessages, content)
		_ = r.st.PutMission(r.mission)
		return messageID, true, nil
	}

	seq, ts, appendErr := r.st.Append(r.mission.MissionID, apitypes.EventUserMessage, apitypes.UserMessagePayload{ID: messageID, Content: content})
	if appendErr != nil {
		r.publishBestEffortError(appendErr)
	} else {
		r.bus.Publish(apitypes.Event{MissionID: r.mission.MissionID, Seq: seq, Kind: apitypes.EventUserMessage, Timestamp: ts, Payload: apitypes.UserMessagePayload{ID: messageID, Content: content}})
	}

	r.publishStatusLocked(apitypes.RunningStateRunning)

	sendErr := r.session.SendUserMessage(content)
	return messageID, sendErr == nil && r.session.QueueLen() > 0, sendErr
}

// Cancel requests the harness stop the current turn and then waits
// CancelWait. The mission becomes interrupted, not terminal; its queue
// is preserved. It is equivalent to CancelWithReason("").
func (r *Runtime) Cancel() {
	r.CancelWithReason("")
}

// CancelWithReason behaves like Cancel but additionally records why the
// turn was interrupted (e.g. "shutdown" when the process is exiting)
// on the mission's TerminalReason field.
func (r *Runtime) CancelWithReason(reason string) {
	r.mu.Lock()
	if r.session == nil {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	sess := r.session
	r.mu.Unlock()

	sess.Cancel()
	time.Sleep(CancelWait) // the pump goroutine observes done and transitions status

	r.mu.Lock()
	if r.mission.Status == apitypes.StatusActive || r.mission.Status == apitypes.StatusInterrupted {
		r.mission.Status = apitypes.StatusInterrupted
		if reason != "" {
			r.mission.TerminalReason = reason
		}
		r.mission.UpdatedAt = now()
		_ = r.st.PutMission(r.mission)
	}
	r.mu.Unlock()
}

// SetStatus applies an explicit status transition (completed, failed,
// not_feasible, or back to active/blocked) requested by the caller
// rather than inferred from a harness event, persists it, and
// republishes a status event. A transition out of an already-terminal
// status is rejected.
func (r *Runtime) SetStatus(status apitypes.MissionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mission.Status.IsTerminal() {
		return &ctlerr.MissionTerminated{MissionID: r.mission.MissionID, Status: string(r.mission.Status)}
	}

	r.mission.Status = status
	r.mission.UpdatedAt = now()
	_ = r.st.PutMission(r.mission)

	state := apitypes.RunningStateIdle
	if status == apitypes.StatusActive {
		state = apitypes.RunningStateRunning
	}
	r.publishStatusLocked(state)
	return nil
}

// Shutdown terminates the harness process without changing the
// persisted mission status beyond what the caller (registry, on
// graceful shutdown) explicitly sets.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	if sess != nil {
		_ = sess.Shutdown()
	}
}

// pump consumes the harness event stream for the lifetime of ctx,
// translating each internal event into a durable, published external
// event. It is the one long-lived goroutine per mission, so a panic
// inside a harness variant's event decoding must not take the process
// down with it: recover, record the mission as failed, and let the
// other missions keep running.
func (r *Runtime) pump(ctx context.Context) {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	if sess == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			r.mission.Status = apitypes.StatusFailed
			r.mission.UpdatedAt = now()
			_ = r.st.PutMission(r.mission)
			r.mu.Unlock()
			r.publishBestEffortError(fmt.Errorf("mission runtime panic: %v", p))
		}
	}()

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			r.handleSessionEvent(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runtime) handleSessionEvent(ev harness.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case harness.KindThinking:
		r.appendAndPublishLocked(apitypes.EventThinking, apitypes.ThinkingPayload{Content: ev.Thinking.Content, Done: ev.Thinking.Done})
	case harness.KindToolCall:
		r.appendAndPublishLocked(apitypes.EventToolCall, *ev.ToolCall)
	case harness.KindToolResult:
		r.appendAndPublishLocked(apitypes.EventToolResult, *ev.ToolResult)
	case harness.KindProgress:
		r.appendAndPublishLocked(apitypes.EventProgress, *ev.Progress)
	case harness.KindAssistantMessage:
		r.mission.History = append(r.mission.History, apitypes.HistoryEntry{
			Role:        apitypes.RoleAssistant,
			Content:     ev.Assistant.Content,
			Timestamp:   now(),
			CostCents:   &ev.Assistant.CostCents,
			Model:       ev.Assistant.Model,
			SharedFiles: ev.Assistant.SharedFiles,
		})
		r.appendAndPublishLocked(apitypes.EventAssistantMessage, *ev.Assistant)
	case harness.KindError:
		r.appendAndPublishLocked(apitypes.EventError, apitypes.ErrorPayload{Message: ev.Err.Error()})
	case harness.KindDone:
		r.onTurnDoneLocked(ev.Done)
	case harness.KindTextDelta:
		// Coalesced into assistant_message at turn end; no standalone
		// wire event.
	}
}

func (r *Runtime) onTurnDoneLocked(info *harness.DoneInfo) {
	r.mission.UpdatedAt = now()
	if info != nil && info.Cancelled {
		r.mission.Status = apitypes.StatusInterrupted
	} else if info != nil && !info.OK && r.cancelled {
		r.mission.Status = apitypes.StatusInterrupted
	} else if info != nil && !info.OK {
		// Harness process died mid-turn without a signalled cancel:
		// resumable, not terminal.
		r.mission.Status = apitypes.StatusInterrupted
	} else {
		r.mission.Status = apitypes.StatusActive
		r.publishStatusLocked(apitypes.RunningStateIdle)
	}
	r.cancelled = false
	_ = r.st.PutMission(r.mission)
}

func (r *Runtime) appendAndPublishLocked(kind apitypes.EventKind, payload any) {
	seq, ts, err := r.st.Append(r.mission.MissionID, kind, payload)
	if err != nil {
		r.publishBestEffortError(err)
		return
	}
	r.bus.Publish(apitypes.Event{MissionID: r.mission.MissionID, Seq: seq, Kind: kind, Timestamp: ts, Payload: payload})
}

func (r *Runtime) publishStatusLocked(state apitypes.RunningState) {
	queueLen := 0
	if r.session != nil {
		queueLen = r.session.QueueLen()
	}
	r.appendAndPublishLocked(apitypes.EventStatus, apitypes.StatusPayload{State: state, QueueLen: queueLen})
}

// publishBestEffortError handles the case where the durable append
// itself fails: rather than crash the mission, it surfaces a live,
// unpersisted error event so the client stream still reflects the
// fault.
func (r *Runtime) publishBestEffortError(cause error) {
	r.bus.Publish(apitypes.Event{
		MissionID: r.mission.MissionID,
		Kind:      apitypes.EventError,
		Timestamp: now(),
		Payload:   apitypes.ErrorPayload{Message: fmt.Sprintf("storage append failed: %v", cause)},
	})
}

// RunToolCall dispatches a tool invocation through the workspace
// executor bound to this mission.
func (r *Runtime) RunToolCall(ctx context.Context, argv []string, env map[string]string, stdin io.Reader, cwd string) (workspace.CommandResult, error) {
	r.mu.Lock()
	ws := r.ws
	r.mu.Unlock()
	return r.executor.RunCommand(ctx, ws, argv, env, stdin, cwd)
}

func now() time.Time { return time.Now().UTC() }
