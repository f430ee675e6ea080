package oauth

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
	"github.com/cuemby/ctrlplane/internal/eventbus"
	"github.com/cuemby/ctrlplane/internal/store"
)

type fakeRefresher struct {
	calls   int32
	fn      func(cred apitypes.OAuthCredential) (apitypes.OAuthCredential, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred apitypes.OAuthCredential) (apitypes.OAuthCredential, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(cred)
}

type fakeLister struct{ missions []apitypes.Mission }

func (f *fakeLister) List() []apitypes.Mission { return f.missions }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ctrlplane.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestScanRefreshesCredentialNearingExpiry(t *testing.T) {
	st := openStore(t)
	cred := apitypes.OAuthCredential{Provider: "claude_code", AccessToken: "old", RefreshToken: "r1", ExpiresAt: time.Now().UTC().Add(5 * time.Minute)}
	require.NoError(t, st.PutOAuthCredential(cred))

	fr := &fakeRefresher{fn: func(c apitypes.OAuthCredential) (apitypes.OAuthCredential, error) {
		c.AccessToken = "new"
		c.ExpiresAt = time.Now().UTC().Add(time.Hour)
		return c, nil
	}}

	r := New(st, eventbus.New(), &fakeLister{}, nil, map[string]TokenRefresher{"claude_code": fr})
	r.Scan(context.Background())

	got, ok, err := st.GetOAuthCredential("claude_code")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", got.AccessToken)
	assert.False(t, got.NeedsReauth)
	assert.EqualValues(t, 1, fr.calls)
}

func TestScanSkipsCredentialsNotNearingExpiry(t *testing.T) {
	st := openStore(t)
	cred := apitypes.OAuthCredential{Provider: "claude_code", AccessToken: "old", ExpiresAt: time.Now().UTC().Add(24 * time.Hour)}
	require.NoError(t, st.PutOAuthCredential(cred))

	fr := &fakeRefresher{fn: func(c apitypes.OAuthCredential) (apitypes.OAuthCredential, error) { return c, nil }}
	r := New(st, eventbus.New(), &fakeLister{}, nil, map[string]TokenRefresher{"claude_code": fr})
	r.Scan(context.Background())

	assert.EqualValues(t, 0, fr.calls)
}

func TestInvalidGrantMarksNeedsReauthAndPublishesError(t *testing.T) {
	st := openStore(t)
	cred := apitypes.OAuthCredential{Provider: "claude_code", RefreshToken: "stale", ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	require.NoError(t, st.PutOAuthCredential(cred))

	fr := &fakeRefresher{fn: func(c apitypes.OAuthCredential) (apitypes.OAuthCredential, error) {
		return apitypes.OAuthCredential{}, &ctlerr.OAuthInvalidGrant{Provider: "claude_code"}
	}}

	bus := eventbus.New()
	sub, err := bus.Subscribe(nil, eventbus.AllMissions, 0, 8)
	require.NoError(t, err)

	lister := &fakeLister{missions: []apitypes.Mission{{MissionID: "m1", HarnessKind: apitypes.HarnessClaudeCode}}}
	r := New(st, bus, lister, nil, map[string]TokenRefresher{"claude_code": fr})
	MaxBackoff = 10 * time.Millisecond
	r.Scan(context.Background())

	got, ok, err := st.GetOAuthCredential("claude_code")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.NeedsReauth)

	require.Eventually(t, func() bool {
		select {
		case ev := <-sub.Events():
			return ev.Kind == apitypes.EventError && ev.MissionID == "m1"
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestNeedsReauthCredentialIsNeverRescanned(t *testing.T) {
	st := openStore(t)
	cred := apitypes.OAuthCredential{Provider: "claude_code", ExpiresAt: time.Now().UTC().Add(-time.Hour), NeedsReauth: true}
	require.NoError(t, st.PutOAuthCredential(cred))

	fr := &fakeRefresher{fn: func(c apitypes.OAuthCredential) (apitypes.OAuthCredential, error) { return c, nil }}
	r := New(st, eventbus.New(), &fakeLister{}, nil, map[string]TokenRefresher{"claude_code": fr})
	r.Scan(context.Background())

	assert.EqualValues(t, 0, fr.calls)
}
