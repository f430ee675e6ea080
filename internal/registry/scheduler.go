package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/store"
)

// ScanInterval is how often RecurringScheduler checks every enabled
// template's next-fire time against the clock.
var ScanInterval = time.Minute

// RecurringScheduler fires a new mission from a RecurringMissionTemplate
// whenever its RFC 5545 recurrence rule next comes due. It does not
// alter any existing mission operation; a fired mission is created
// through the same Registry.Create path a manual request would use.
type RecurringScheduler struct {
	st  *store.Store
	reg *Registry

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewRecurringScheduler wires a scheduler over reg's Create path.
func NewRecurringScheduler(st *store.Store, reg *Registry) *RecurringScheduler {
	return &RecurringScheduler{st: st, reg: reg}
}

// Run blocks, scanning every ScanInterval, until ctx is cancelled or Stop
// is called.
func (s *RecurringScheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends a running Run loop.
func (s *RecurringScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

func (s *RecurringScheduler) scan(ctx context.Context) {
	templates, err := s.st.ListRecurringMissionTemplates()
	if err != nil {
		log.Printf("registry: list recurring templates: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, t := range templates {
		if !t.Enabled {
			continue
		}
		if t.NextFireAt.IsZero() {
			next, err := nextOccurrence(t.RRule, now)
			if err != nil {
				log.Printf("registry: recurring template %s has invalid rrule: %v", t.TemplateID, err)
				continue
			}
			t.NextFireAt = next
			_ = s.st.PutRecurringMissionTemplate(t)
			continue
		}
		if t.NextFireAt.After(now) {
			continue
		}
		s.fire(ctx, t)
	}
}

func (s *RecurringScheduler) fire(ctx context.Context, t apitypes.RecurringMissionTemplate) {
	m, err := s.reg.Create(ctx, apitypes.CreateMissionRequest{
		Title:       t.Title,
		HarnessKind: t.HarnessKind,
		WorkspaceID: t.WorkspaceID,
		ConfigProfile: t.ConfigProfile,
	})
	if err != nil {
		log.Printf("registry: recurring template %s failed to fire: %v", t.TemplateID, err)
	} else if t.InitialPrompt != "" {
		if _, _, err := s.reg.SendMessage(m.MissionID, t.InitialPrompt); err != nil {
			log.Printf("registry: recurring template %s initial prompt: %v", t.TemplateID, err)
		}
	}

	now := time.Now().UTC()
	t.LastFiredAt = now
	next, err := nextOccurrence(t.RRule, now)
	if err != nil {
		log.Printf("registry: recurring template %s has invalid rrule after fire: %v", t.TemplateID, err)
		t.Enabled = false
	} else {
		t.NextFireAt = next
	}
	_ = s.st.PutRecurringMissionTemplate(t)
}

func nextOccurrence(rruleStr string, after time.Time) (time.Time, error) {
	rule, err := rrule.StrToRRule(rruleStr)
	if err != nil {
		return time.Time{}, err
	}
	return rule.After(after, false), nil
}
