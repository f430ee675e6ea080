// Package store is the durable, single-file backing store: missions,
// their events, workspaces, and oauth credentials, all held in one
// bbolt database under the process data directory. Sequence counters
// are kept per mission, assigned under one store-wide mutex shared by
// all missions, and reconstructed from the file at Open.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
	"github.com/cuemby/ctrlplane/internal/metrics"
)

var (
	bucketMissions  = []byte("missions")
	bucketEvents    = []byte("events") // nested: one sub-bucket per mission_id
	bucketWorkspaces = []byte("workspaces")
	bucketOAuth     = []byte("oauth")
	bucketRecurring = []byte("recurring_missions")
)

// Store is the process-wide durable store. All methods are safe for
// concurrent use.
type Store struct {
	db *bbolt.DB

	mu   sync.Mutex
	seqs map[string]int64 // mission_id -> next seq to assign
}

// Open opens (creating if absent) the database file at path and
// reconstructs per-mission seq counters from the events already on disk.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, &ctlerr.StorageError{Op: "open", Err: err}
	}
	s := &Store{db: db, seqs: make(map[string]int64)}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMissions, bucketEvents, bucketWorkspaces, bucketOAuth, bucketRecurring} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &ctlerr.StorageError{Op: "init-buckets", Err: err}
	}
	if err := s.reconstructSeqs(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) reconstructSeqs() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketEvents)
		return root.ForEachBucket(func(name []byte) error {
			mb := root.Bucket(name)
			var max int64
			c := mb.Cursor()
			if k, _ := c.Last(); k != nil {
				max = int64(decodeSeqKey(k))
			}
			s.seqs[string(name)] = max + 1
			return nil
		})
	})
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append assigns the next seq for mission_id under the store-wide mutex,
// stamps ts (monotone wall clock; ties broken by seq), writes the event,
// and returns the assigned tuple.
func (s *Store) Append(missionID string, kind apitypes.EventKind, payload any) (int64, time.Time, error) {
	s.mu.Lock()
	seq := s.seqs[missionID]
	s.seqs[missionID] = seq + 1
	s.mu.Unlock()

	ts := time.Now().UTC()
	ev := apitypes.Event{MissionID: missionID, Seq: seq, Kind: kind, Timestamp: ts, Payload: payload}
	raw, err := json.Marshal(ev)
	if err != nil {
		return 0, time.Time{}, &ctlerr.StorageError{Op: "marshal-event", Err: err}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		mb, err := tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(missionID))
		if err != nil {
			return err
		}
		return mb.Put(encodeSeqKey(seq), raw)
	})
	if err != nil {
		return 0, time.Time{}, &ctlerr.StorageError{Op: "append", Err: err}
	}
	metrics.EventsAppendedTotal.WithLabelValues(string(kind)).Inc()
	return seq, ts, nil
}

// Events returns up to limit events for missionID with seq > sinceSeq,
// ascending. Finite and restartable: callers page with the last seq seen.
func (s *Store) Events(missionID string, sinceSeq int64, limit int) ([]apitypes.Event, error) {
	var out []apitypes.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketEvents)
		mb := root.Bucket([]byte(missionID))
		if mb == nil {
			return nil
		}
		c := mb.Cursor()
		for k, v := c.Seek(encodeSeqKey(sinceSeq + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var ev apitypes.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, &ctlerr.StorageError{Op: "events", Err: err}
	}
	return out, nil
}

// Summary computes diagnostics for missionID: counts by kind, first/last
// timestamp, last seq, and an excerpt of the most recent error event.
func (s *Store) Summary(missionID string) (apitypes.EventSummary, error) {
	sum := apitypes.EventSummary{CountsByKind: make(map[apitypes.EventKind]int)}
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketEvents)
		mb := root.Bucket([]byte(missionID))
		if mb == nil {
			return nil
		}
		first := true
		return mb.ForEach(func(k, v []byte) error {
			var ev apitypes.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			sum.CountsByKind[ev.Kind]++
			if first {
				sum.FirstTimestamp = ev.Timestamp
				first = false
			}
			sum.LastTimestamp = ev.Timestamp
			sum.LastSeq = ev.Seq
			if ev.Kind == apitypes.EventError {
				if p, ok := ev.Payload.(map[string]any); ok {
					if msg, ok := p["message"].(string); ok {
						sum.TerminalErrorExcerpt = truncate(msg, 200)
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return apitypes.EventSummary{}, &ctlerr.StorageError{Op: "summary", Err: err}
	}
	return sum, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// --- Mission CRUD ---

// PutMission upserts a mission record.
func (s *Store) PutMission(m apitypes.Mission) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return &ctlerr.StorageError{Op: "marshal-mission", Err: err}
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMissions).Put([]byte(m.MissionID), raw)
	})
	if err != nil {
		return &ctlerr.StorageError{Op: "put-mission", Err: err}
	}
	return nil
}

// GetMission loads a mission by id. ok is false if absent.
func (s *Store) GetMission(missionID string) (apitypes.Mission, bool, error) {
	var m apitypes.Mission
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMissions).Get([]byte(missionID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &m)
	})
	if err != nil {
		return apitypes.Mission{}, false, &ctlerr.StorageError{Op: "get-mission", Err: err}
	}
	return m, found, nil
}

// ListMissions returns every mission, sorted by CreatedAt ascending.
func (s *Store) ListMissions() ([]apitypes.Mission, error) {
	var out []apitypes.Mission
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMissions).ForEach(func(k, v []byte) error {
			var m apitypes.Mission
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, &ctlerr.StorageError{Op: "list-missions", Err: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Workspace CRUD ---

// PutWorkspace upserts a workspace record.
func (s *Store) PutWorkspace(w apitypes.Workspace) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return &ctlerr.StorageError{Op: "marshal-workspace", Err: err}
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).Put([]byte(w.WorkspaceID), raw)
	})
	if err != nil {
		return &ctlerr.StorageError{Op: "put-workspace", Err: err}
	}
	return nil
}

// GetWorkspace loads a workspace by id. ok is false if absent.
func (s *Store) GetWorkspace(workspaceID string) (apitypes.Workspace, bool, error) {
	var w apitypes.Workspace
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketWorkspaces).Get([]byte(workspaceID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &w)
	})
	if err != nil {
		return apitypes.Workspace{}, false, &ctlerr.StorageError{Op: "get-workspace", Err: err}
	}
	return w, found, nil
}

// ListWorkspaces returns every workspace.
func (s *Store) ListWorkspaces() ([]apitypes.Workspace, error) {
	var out []apitypes.Workspace
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).ForEach(func(k, v []byte) error {
			var w apitypes.Workspace
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, w)
			return nil
		})
	})
	if err != nil {
		return nil, &ctlerr.StorageError{Op: "list-workspaces", Err: err}
	}
	return out, nil
}

// DeleteWorkspace removes a workspace record. Callers must reject
// deletion of apitypes.HostWorkspaceID before calling this.
func (s *Store) DeleteWorkspace(workspaceID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).Delete([]byte(workspaceID))
	})
	if err != nil {
		return &ctlerr.StorageError{Op: "delete-workspace", Err: err}
	}
	return nil
}

// --- OAuth credential CRUD ---

// PutOAuthCredential upserts a credential keyed by provider.
func (s *Store) PutOAuthCredential(c apitypes.OAuthCredential) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return &ctlerr.StorageError{Op: "marshal-oauth", Err: err}
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOAuth).Put([]byte(c.Provider), raw)
	})
	if err != nil {
		return &ctlerr.StorageError{Op: "put-oauth", Err: err}
	}
	return nil
}

// GetOAuthCredential loads a credential by provider. ok is false if absent.
func (s *Store) GetOAuthCredential(provider string) (apitypes.OAuthCredential, bool, error) {
	var c apitypes.OAuthCredential
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketOAuth).Get([]byte(provider))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &c)
	})
	if err != nil {
		return apitypes.OAuthCredential{}, false, &ctlerr.StorageError{Op: "get-oauth", Err: err}
	}
	return c, found, nil
}

// ListOAuthCredentials returns every stored credential.
func (s *Store) ListOAuthCredentials() ([]apitypes.OAuthCredential, error) {
	var out []apitypes.OAuthCredential
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOAuth).ForEach(func(k, v []byte) error {
			var c apitypes.OAuthCredential
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, &ctlerr.StorageError{Op: "list-oauth", Err: err}
	}
	return out, nil
}

// --- Recurring mission template CRUD ---

// PutRecurringMissionTemplate upserts a template record.
func (s *Store) PutRecurringMissionTemplate(t apitypes.RecurringMissionTemplate) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return &ctlerr.StorageError{Op: "marshal-recurring", Err: err}
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecurring).Put([]byte(t.TemplateID), raw)
	})
	if err != nil {
		return &ctlerr.StorageError{Op: "put-recurring", Err: err}
	}
	return nil
}

// ListRecurringMissionTemplates returns every stored template.
func (s *Store) ListRecurringMissionTemplates() ([]apitypes.RecurringMissionTemplate, error) {
	var out []apitypes.RecurringMissionTemplate
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecurring).ForEach(func(k, v []byte) error {
			var t apitypes.RecurringMissionTemplate
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, &ctlerr.StorageError{Op: "list-recurring", Err: err}
	}
	return out, nil
}

// DeleteRecurringMissionTemplate removes a template record.
func (s *Store) DeleteRecurringMissionTemplate(templateID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecurring).Delete([]byte(templateID))
	})
	if err != nil {
		return &ctlerr.StorageError{Op: "delete-recurring", Err: err}
	}
	return nil
}

func encodeSeqKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

func decodeSeqKey(k []byte) int64 {
	var seq int64
	fmt.Sscanf(string(k), "%020d", &seq)
	return seq
}
