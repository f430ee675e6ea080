// Package eventbus pushes live mission events to zero-or-more
// subscribers and serves the reconnect/replay contract: a new
// subscription first drains the durable backlog since a given sequence
// number, then switches to live delivery with no gap and no
// duplication. Delivery is non-blocking: a subscriber whose bounded
// mailbox fills up is dropped rather than letting it stall the
// publisher.
package eventbus

import (
	"sync"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/store"
)

// AllMissions is the wildcard scope for a merged, cross-mission stream.
// Order is unspecified across missions in this scope.
const AllMissions = "all"

// DefaultMailboxSize is the bounded mailbox depth used when a caller does
// not specify one explicitly.
const DefaultMailboxSize = 256

// Subscription is a single subscriber's handle onto the bus. Events()
// yields the ordered stream; Close detaches and discards anything still
// queued.
type Subscription struct {
	ch        chan apitypes.Event
	missionID string

	mu      sync.Mutex
	live    bool
	pending []apitypes.Event
	closed  bool
}

// Events returns the receive-only channel of this subscription. The
// channel is closed when the subscriber is dropped (mailbox overflow) or
// when Close is called.
func (s *Subscription) Events() <-chan apitypes.Event { return s.ch }

func (s *Subscription) matches(missionID string) bool {
	return s.missionID == AllMissions || s.missionID == missionID
}

// deliver is invoked by Publish for every matching subscription. It never
// holds the subscription lock while unsubscribing, so it cannot deadlock
// with Unsubscribe's own locking.
func (s *Subscription) deliver(b *Bus, ev apitypes.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.live {
		if len(s.pending) >= cap(s.ch) {
			s.mu.Unlock()
			b.Unsubscribe(s)
			return
		}
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	select {
	case s.ch <- ev:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		b.Unsubscribe(s)
	}
}

// Bus is the process-wide event bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish fans ev out to every subscription whose scope matches. Never
// blocks: a subscriber whose mailbox is full is dropped, not waited on.
func (b *Bus) Publish(ev apitypes.Event) {
	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.matches(ev.MissionID) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range matched {
		s.deliver(b, ev)
	}
}

// Subscribe attaches a new subscription for missionID (or AllMissions).
// If st is non-nil and missionID names a single mission, it first
// replays every stored event with seq > sinceSeq before switching the
// subscription live, so the caller sees no gap between replay and live
// delivery. bufSize <= 0 uses DefaultMailboxSize.
func (b *Bus) Subscribe(st *store.Store, missionID string, sinceSeq int64, bufSize int) (*Subscription, error) {
	if bufSize <= 0 {
		bufSize = DefaultMailboxSize
	}
	sub := &Subscription{
		ch:        make(chan apitypes.Event, bufSize),
		missionID: missionID,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	replayedThrough := int64(-1) // highest seq sent by replay; seqs start at 0
	if st != nil && missionID != AllMissions && missionID != "" {
		backlog, err := st.Events(missionID, sinceSeq, 0)
		if err != nil {
			b.Unsubscribe(sub)
			return nil, err
		}
		if !b.replay(sub, backlog) {
			return sub, nil // dropped on overflow during replay
		}
		if n := len(backlog); n > 0 {
			replayedThrough = backlog[n-1].Seq
		}
	}
	b.goLive(sub, replayedThrough)
	return sub, nil
}

// replay sends backlog events in order, dropping the subscriber (per the
// same overflow policy as live delivery) if the mailbox cannot keep up.
// Returns false if the subscriber was dropped.
func (b *Bus) replay(sub *Subscription, backlog []apitypes.Event) bool {
	for _, ev := range backlog {
		select {
		case sub.ch <- ev:
		default:
			b.Unsubscribe(sub)
			return false
		}
	}
	return true
}

// goLive drains whatever arrived live during replay (preserving arrival
// order, and skipping events with seq <= replayedThrough that replay
// already sent) and then flips the subscription into direct-delivery
// mode.
func (b *Bus) goLive(sub *Subscription, replayedThrough int64) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	pending := sub.pending
	sub.pending = nil
	for _, ev := range pending {
		if ev.Seq <= replayedThrough {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.mu.Unlock()
			b.Unsubscribe(sub)
			return
		}
	}
	sub.live = true
	sub.mu.Unlock()
}

// Unsubscribe detaches sub from the bus and closes its channel. Pending
// queued items are discarded. Safe to call more than once or concurrently.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	sub.pending = nil
	close(sub.ch)
}

// SubscriberCount reports how many subscriptions are currently attached.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
