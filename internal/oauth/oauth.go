// Package oauth keeps the bearer credentials shared by harness
// processes fresh. A background scan refreshes any credential nearing
// expiry; a per-provider lock guarantees at most one refresh is ever in
// flight for a given provider, so two missions racing on the same
// token never issue competing refresh-token rotations.
package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
	"github.com/cuemby/ctrlplane/internal/eventbus"
	"github.com/cuemby/ctrlplane/internal/metrics"
	"github.com/cuemby/ctrlplane/internal/store"
)

// ExpiryWindow is how far ahead of a credential's expires_at the
// refresher considers it due for renewal.
var ExpiryWindow = time.Hour

// ScanSchedule is the cron expression driving the refresh scan: every
// 15 minutes, in robfig/cron v1's seconds-first six-field format.
const ScanSchedule = "0 */15 * * * *"

// MaxBackoff bounds the exponential backoff applied to transient
// refresh failures.
var MaxBackoff = 30 * time.Second

// TokenRefresher exchanges a credential's refresh token for a new
// access token with one specific provider. Implementations return
// *ctlerr.OAuthInvalidGrant when the refresh token itself is no longer
// valid; any other error is treated as transient and retried.
type TokenRefresher interface {
	Refresh(ctx context.Context, cred apitypes.OAuthCredential) (apitypes.OAuthCredential, error)
}

// MissionLister is the subset of registry.Registry this package needs:
// enough to find every mission that might be using a given provider so
// an invalid_grant can be surfaced as an error event on each of them.
type MissionLister interface {
	List() []apitypes.Mission
}

// MirrorWriter persists a refreshed credential somewhere a harness
// subprocess reads it from directly (a provider-specific config file
// format), so the next turn picks up the new token without the process
// being restarted.
type MirrorWriter interface {
	WriteMirror(cred apitypes.OAuthCredential) error
}

// Refresher is the process-wide OAuth credential renewer.
type Refresher struct {
	st         *store.Store
	bus        *eventbus.Bus
	missions   MissionLister
	refreshers map[string]TokenRefresher
	mirror     MirrorWriter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cronRunner *cron.Cron
}

// New wires a Refresher. refreshers maps provider name to the
// TokenRefresher that knows how to talk to it; providers with no entry
// are left untouched by the scan.
func New(st *store.Store, bus *eventbus.Bus, missions MissionLister, mirror MirrorWriter, refreshers map[string]TokenRefresher) *Refresher {
	return &Refresher{
		st:         st,
		bus:        bus,
		missions:   missions,
		mirror:     mirror,
		refreshers: refreshers,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (r *Refresher) lockFor(provider string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[provider]
	if !ok {
		l = &sync.Mutex{}
		r.locks[provider] = l
	}
	return l
}

// Start launches the cron-scheduled scan loop in the background. It
// returns immediately; call Stop to end it.
func (r *Refresher) Start() {
	r.cronRunner = cron.New()
	_ = r.cronRunner.AddFunc(ScanSchedule, func() { r.Scan(context.Background()) })
	r.cronRunner.Start()
}

// Stop ends the scan loop. Safe to call even if Start was never called.
func (r *Refresher) Stop() {
	if r.cronRunner != nil {
		r.cronRunner.Stop()
	}
}

// Scan checks every stored credential and refreshes any that are due.
// Exported so callers (and tests) can drive a scan synchronously
// instead of waiting on the cron schedule.
func (r *Refresher) Scan(ctx context.Context) {
	creds, err := r.st.ListOAuthCredentials()
	if err != nil {
		return
	}
	now := time.Now().UTC()
	for _, c := range creds {
		if c.NeedsReauth {
			continue
		}
		if !c.ExpiresWithin(now, ExpiryWindow) {
			continue
		}
		r.refreshOne(ctx, c)
	}
}

func (r *Refresher) refreshOne(ctx context.Context, cred apitypes.OAuthCredential) {
	tr, ok := r.refreshers[cred.Provider]
	if !ok {
		return
	}

	lock := r.lockFor(cred.Provider)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: another goroutine may have refreshed (or
	// the provider may have been marked needs_reauth) while we waited.
	current, ok, err := r.st.GetOAuthCredential(cred.Provider)
	if err != nil || !ok || current.NeedsReauth {
		return
	}
	if !current.ExpiresWithin(time.Now().UTC(), ExpiryWindow) {
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = MaxBackoff

	var refreshed apitypes.OAuthCredential
	op := func() error {
		out, err := tr.Refresh(ctx, current)
		if err != nil {
			var invalidGrant *ctlerr.OAuthInvalidGrant
			if errors.As(err, &invalidGrant) {
				return backoff.Permanent(err)
			}
			return err
		}
		refreshed = out
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		var invalidGrant *ctlerr.OAuthInvalidGrant
		if errors.As(err, &invalidGrant) {
			r.handleInvalidGrant(current)
			metrics.OAuthRefreshTotal.WithLabelValues(cred.Provider, "invalid_grant").Inc()
			return
		}
		metrics.OAuthRefreshTotal.WithLabelValues(cred.Provider, "transient_failure").Inc()
		return
	}

	if err := r.st.PutOAuthCredential(refreshed); err != nil {
		metrics.OAuthRefreshTotal.WithLabelValues(cred.Provider, "store_failure").Inc()
		return
	}
	if r.mirror != nil {
		_ = r.mirror.WriteMirror(refreshed)
	}
	metrics.OAuthRefreshTotal.WithLabelValues(cred.Provider, "success").Inc()
}

func (r *Refresher) handleInvalidGrant(cred apitypes.OAuthCredential) {
	cred.NeedsReauth = true
	_ = r.st.PutOAuthCredential(cred)

	if r.missions == nil {
		return
	}
	for _, m := range r.missions.List() {
		if string(m.HarnessKind) != cred.Provider {
			continue
		}
		r.bus.Publish(apitypes.Event{
			MissionID: m.MissionID,
			Kind:      apitypes.EventError,
			Timestamp: time.Now().UTC(),
			Payload:   apitypes.ErrorPayload{Message: "oauth provider " + cred.Provider + " needs re-authentication"},
		})
	}
}
