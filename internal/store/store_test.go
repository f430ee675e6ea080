package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ctrlplane/internal/apitypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctrlplane.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAssignsMonotonicPerMissionSeq(t *testing.T) {
	s := openTestStore(t)

	seq0, _, err := s.Append("m1", apitypes.EventStatus, apitypes.StatusPayload{State: apitypes.RunningStateRunning})
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq0)

	seq1, _, err := s.Append("m1", apitypes.EventStatus, apitypes.StatusPayload{State: apitypes.RunningStateIdle})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	// A different mission starts its own counter at 0.
	other, _, err := s.Append("m2", apitypes.EventStatus, apitypes.StatusPayload{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)
}

func TestEventsPaginatesAscendingSinceSeq(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, _, err := s.Append("m1", apitypes.EventUserMessage, apitypes.UserMessagePayload{ID: "x", Content: "hi"})
		require.NoError(t, err)
	}

	evs, err := s.Events("m1", 1, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(2), evs[0].Seq)
	assert.Equal(t, int64(3), evs[1].Seq)

	// since_seq beyond the last event returns nothing.
	evs, err = s.Events("m1", 99, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)

	// Unknown mission returns an empty, not an error.
	evs, err = s.Events("missing", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestReconstructSeqAfterReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctrlplane.db")

	s1, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := s1.Append("m1", apitypes.EventStatus, apitypes.StatusPayload{})
		require.NoError(t, err)
	}
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	seq, _, err := s2.Append("m1", apitypes.EventStatus, apitypes.StatusPayload{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq, "seq counter must resume at max(seq)+1 after reopen")
}

func TestSummaryCountsAndLastSeq(t *testing.T) {
	s := openTestStore(t)
	_, _, _ = s.Append("m1", apitypes.EventUserMessage, apitypes.UserMessagePayload{ID: "1", Content: "hi"})
	_, _, _ = s.Append("m1", apitypes.EventAssistantMessage, apitypes.AssistantMessagePayload{ID: "2", Content: "hey", Success: true})
	_, _, _ = s.Append("m1", apitypes.EventError, apitypes.ErrorPayload{Message: "boom"})

	sum, err := s.Summary("m1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CountsByKind[apitypes.EventUserMessage])
	assert.Equal(t, 1, sum.CountsByKind[apitypes.EventError])
	assert.Equal(t, int64(2), sum.LastSeq)
	assert.Equal(t, "boom", sum.TerminalErrorExcerpt)
}

func TestMissionCRUDRoundTrip(t *testing.T) {
	s := openTestStore(t)
	m := apitypes.Mission{
		MissionID: "m1",
		Title:     "fix the bug",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Status:    apitypes.StatusActive,
		HarnessKind: apitypes.HarnessClaudeCode,
	}
	require.NoError(t, s.PutMission(m))

	got, ok, err := s.GetMission("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.Title, got.Title)

	_, ok, err = s.GetMission("nope")
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListMissions()
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestWorkspaceCRUDRoundTrip(t *testing.T) {
	s := openTestStore(t)
	w := apitypes.Workspace{WorkspaceID: apitypes.HostWorkspaceID, Kind: apitypes.WorkspaceHost, Status: apitypes.WorkspaceReady}
	require.NoError(t, s.PutWorkspace(w))

	got, ok, err := s.GetWorkspace(apitypes.HostWorkspaceID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.IsHost())

	require.NoError(t, s.DeleteWorkspace(apitypes.HostWorkspaceID))
	_, ok, err = s.GetWorkspace(apitypes.HostWorkspaceID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOAuthCredentialCRUDRoundTrip(t *testing.T) {
	s := openTestStore(t)
	c := apitypes.OAuthCredential{Provider: "anthropic", AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.PutOAuthCredential(c))

	got, ok, err := s.GetOAuthCredential("anthropic")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", got.AccessToken)

	list, err := s.ListOAuthCredentials()
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRecurringMissionTemplateCRUDRoundTrip(t *testing.T) {
	s := openTestStore(t)
	tmpl := apitypes.RecurringMissionTemplate{
		TemplateID:  "daily-standup",
		Title:       "standup",
		HarnessKind: apitypes.HarnessClaudeCode,
		WorkspaceID: apitypes.HostWorkspaceID,
		RRule:       "FREQ=DAILY",
		Enabled:     true,
	}
	require.NoError(t, s.PutRecurringMissionTemplate(tmpl))

	list, err := s.ListRecurringMissionTemplates()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "standup", list[0].Title)

	require.NoError(t, s.DeleteRecurringMissionTemplate("daily-standup"))
	list, err = s.ListRecurringMissionTemplates()
	require.NoError(t, err)
	assert.Empty(t, list)
}
