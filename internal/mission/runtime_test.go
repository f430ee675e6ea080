package mission

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/eventbus"
	"github.com/cuemby/ctrlplane/internal/harness"
	"github.com/cuemby/ctrlplane/internal/store"
	"github.com/cuemby/ctrlplane/internal/workspace"
)

// fakeSession is a minimal harness.Session double the runtime tests
// drive directly, standing in for a real subprocess-backed session.
type fakeSession struct {
	events    chan harness.Event
	sent      []string
	queueLen  int
	cancelled bool
	shutdown  bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan harness.Event, 16)}
}

func (f *fakeSession) SendUserMessage(text string) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeSession) Events() <-chan harness.Event { return f.events }
func (f *fakeSession) QueueLen() int                { return f.queueLen }
func (f *fakeSession) Cancel()                      { f.cancelled = true }
func (f *fakeSession) Shutdown() error               { f.shutdown = true; return nil }

// fakeHarness always returns the same pre-built fakeSession.
type fakeHarness struct {
	kind apitypes.HarnessKind
	sess *fakeSession
}

func (h *fakeHarness) Name() apitypes.HarnessKind { return h.kind }
func (h *fakeHarness) Start(_ context.Context, _ harness.Config) (harness.Session, error) {
	return h.sess, nil
}

func testRuntime(t *testing.T) (*Runtime, *fakeSession) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ctrlplane.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.New()
	sess := newFakeSession()
	reg := harness.NewRegistry()
	reg.Register(&fakeHarness{kind: apitypes.HarnessClaudeCode, sess: sess})

	m := apitypes.Mission{MissionID: "m1", HarnessKind: apitypes.HarnessClaudeCode, Status: apitypes.StatusActive}
	ws := apitypes.Workspace{WorkspaceID: apitypes.HostWorkspaceID, Kind: apitypes.WorkspaceHost, Status: apitypes.WorkspaceReady}
	rt := New(st, bus, workspace.NewHostExecutor(), reg, m, ws)
	require.NoError(t, rt.Start(context.Background(), harness.Config{}))
	return rt, sess
}

func TestSendMessageAppendsAndPublishesUserMessage(t *testing.T) {
	rt, _ := testRuntime(t)
	sub, err := rt.bus.Subscribe(nil, "m1", 0, 8)
	require.NoError(t, err)

	id, _, sendErr := rt.SendMessage("hello")
	require.NoError(t, sendErr)
	assert.NotEmpty(t, id)

	evs, err := rt.st.Events("m1", -1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, apitypes.EventUserMessage, evs[0].Kind)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, apitypes.EventUserMessage, ev.Kind)
	default:
		t.Fatal("user_message was not published")
	}

	m := rt.Mission()
	assert.Equal(t, apitypes.StatusActive, m.Status)
}

func TestSendMessageRejectsTerminalMission(t *testing.T) {
	rt, _ := testRuntime(t)
	rt.mu.Lock()
	rt.mission.Status = apitypes.StatusCompleted
	rt.mu.Unlock()

	_, _, err := rt.SendMessage("too late")
	require.Error(t, err)
}

func TestAssistantMessageEventAppendsHistoryAndGoesIdle(t *testing.T) {
	rt, sess := testRuntime(t)

	_, _, err := rt.SendMessage("hi")
	require.NoError(t, err)

	sess.events <- harness.Event{Kind: harness.KindAssistantMessage, Assistant: &apitypes.AssistantMessagePayload{Content: "hello back", Success: true}}
	sess.events <- harness.Event{Kind: harness.KindDone, Done: &harness.DoneInfo{OK: true}}

	require.Eventually(t, func() bool {
		m := rt.Mission()
		return len(m.History) == 1 && m.Status == apitypes.StatusActive
	}, time.Second, 10*time.Millisecond)

	m := rt.Mission()
	assert.Equal(t, "hello back", m.History[0].Content)
}

func TestPumpRecoversFromPanicAndMarksFailed(t *testing.T) {
	rt, sess := testRuntime(t)

	// A malformed frame (Kind set, payload nil) panics inside
	// handleSessionEvent's pointer dereference; pump must recover from
	// it rather than crash the process.
	sess.events <- harness.Event{Kind: harness.KindToolCall, ToolCall: nil}

	require.Eventually(t, func() bool {
		return rt.Mission().Status == apitypes.StatusFailed
	}, time.Second, 10*time.Millisecond)
}

func TestSetStatusAppliesExplicitTransitionAndRejectsAfterTerminal(t *testing.T) {
	rt, _ := testRuntime(t)

	require.NoError(t, rt.SetStatus(apitypes.StatusNotFeasible))
	assert.Equal(t, apitypes.StatusNotFeasible, rt.Mission().Status)

	require.Error(t, rt.SetStatus(apitypes.StatusActive))
}

func TestCancelWithReasonSetsTerminalReason(t *testing.T) {
	CancelWait = 10 * time.Millisecond
	defer func() { CancelWait = 5 * time.Second }()

	rt, _ := testRuntime(t)
	rt.CancelWithReason("shutdown")

	m := rt.Mission()
	assert.Equal(t, apitypes.StatusInterrupted, m.Status)
	assert.Equal(t, "shutdown", m.TerminalReason)
}

func TestCancelMarksInterrupted(t *testing.T) {
	CancelWait = 10 * time.Millisecond
	defer func() { CancelWait = 5 * time.Second }()

	rt, sess := testRuntime(t)
	_, _, err := rt.SendMessage("hi")
	require.NoError(t, err)

	rt.Cancel()
	assert.True(t, sess.cancelled)
	m := rt.Mission()
	assert.Equal(t, apitypes.StatusInterrupted, m.Status)
}

func TestMessageQueuedOnDiskWhenNotActive(t *testing.T) {
	rt, _ := testRuntime(t)
	rt.mu.Lock()
	rt.mission.Status = apitypes.StatusInterrupted
	rt.mu.Unlock()

	id, queued, err := rt.SendMessage("come back to this")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, queued)
	m := rt.Mission()
	assert.Equal(t, []string{"come back to this"}, m.PendingMessages)
}

func TestRunToolCallUsesWorkspaceExecutor(t *testing.T) {
	rt, _ := testRuntime(t)
	res, err := rt.RunToolCall(context.Background(), []string{"sh", "-c", "exit 0"}, nil, io.Reader(nil), "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}
