// Package registry owns the process-wide set of live mission.Runtimes:
// creating them, resolving them by id, and tearing the whole set down
// in order on shutdown. It is the only component that constructs a
// mission.Runtime.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
	"github.com/cuemby/ctrlplane/internal/eventbus"
	"github.com/cuemby/ctrlplane/internal/harness"
	"github.com/cuemby/ctrlplane/internal/metrics"
	"github.com/cuemby/ctrlplane/internal/mission"
	"github.com/cuemby/ctrlplane/internal/store"
	"github.com/cuemby/ctrlplane/internal/workspace"
)

// ShutdownGrace bounds how long Shutdown waits for in-flight turns to
// reach a done event before marking the remainder interrupted anyway.
var ShutdownGrace = 10 * time.Second

// Registry is the process-wide supervisor for mission.Runtimes.
type Registry struct {
	st        *store.Store
	bus       *eventbus.Bus
	executor  workspace.Executor
	harnesses *harness.Registry

	mu           sync.Mutex
	runtimes     map[string]*mission.Runtime
	shuttingDown bool
}

// New wires a Registry over the given durable store, event bus,
// workspace executor, and harness registry. It does not load any
// existing missions; call Reattach for that.
func New(st *store.Store, bus *eventbus.Bus, executor workspace.Executor, harnesses *harness.Registry) *Registry {
	return &Registry{
		st:        st,
		bus:       bus,
		executor:  executor,
		harnesses: harnesses,
		runtimes:  make(map[string]*mission.Runtime),
	}
}

// Reattach constructs a (not-yet-started) Runtime for every
// non-terminal mission already on disk, so a restart picks up where it
// left off without re-creating records. Callers typically follow this
// with Resume for every mission they want actively running again.
func (r *Registry) Reattach() error {
	missions, err := r.st.ListMissions()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range missions {
		if m.Status.IsTerminal() {
			continue
		}
		ws, _, err := r.st.GetWorkspace(m.WorkspaceID)
		if err != nil {
			return err
		}
		r.runtimes[m.MissionID] = mission.New(r.st, r.bus, r.executor, r.harnesses, m, ws)
	}
	metrics.RunningMissions.Set(float64(r.countActiveLocked()))
	return nil
}

// Create admits a new mission: it allocates an id, persists the record,
// constructs its Runtime, and starts the harness session.
func (r *Registry) Create(ctx context.Context, req apitypes.CreateMissionRequest) (apitypes.Mission, error) {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return apitypes.Mission{}, fmt.Errorf("registry is shutting down, not admitting new missions")
	}
	r.mu.Unlock()

	if !apitypes.ValidHarnessKind(req.HarnessKind) {
		return apitypes.Mission{}, fmt.Errorf("unknown harness kind %q", req.HarnessKind)
	}

	workspaceID := req.WorkspaceID
	if workspaceID == "" {
		workspaceID = apitypes.HostWorkspaceID
	}
	ws, ok, err := r.st.GetWorkspace(workspaceID)
	if err != nil {
		return apitypes.Mission{}, err
	}
	if !ok {
		return apitypes.Mission{}, fmt.Errorf("workspace %q not found", workspaceID)
	}

	now := time.Now().UTC()
	m := apitypes.Mission{
		MissionID:     uuid.NewString(),
		Title:         req.Title,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        apitypes.StatusActive,
		WorkspaceID:   workspaceID,
		HarnessKind:   req.HarnessKind,
		ModelOverride: req.ModelOverride,
		ModelEffort:   req.ModelEffort,
		ConfigProfile: req.ConfigProfile,
	}
	if err := r.st.PutMission(m); err != nil {
		return apitypes.Mission{}, err
	}

	rt := mission.New(r.st, r.bus, r.executor, r.harnesses, m, ws)
	cfg := harness.Config{
		MissionID:     m.MissionID,
		WorkspaceID:   workspaceID,
		ModelOverride: req.ModelOverride,
		ModelEffort:   req.ModelEffort,
		WorkDir:       ws.Path,
	}
	if err := rt.Start(ctx, cfg); err != nil {
		return apitypes.Mission{}, err
	}

	r.mu.Lock()
	r.runtimes[m.MissionID] = rt
	metrics.RunningMissions.Set(float64(r.countActiveLocked()))
	r.mu.Unlock()

	return m, nil
}

// Get resolves a mission's Runtime by id.
func (r *Registry) Get(missionID string) (*mission.Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[missionID]
	return rt, ok
}

// List returns every mission's current state, as known to this process
// (not re-read from disk).
func (r *Registry) List() []apitypes.Mission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]apitypes.Mission, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt.Mission())
	}
	return out
}

// Resume re-launches the harness session for an interrupted or blocked
// mission, draining any disk-queued messages onto it.
func (r *Registry) Resume(ctx context.Context, missionID string) error {
	rt, ok := r.Get(missionID)
	if !ok {
		return fmt.Errorf("mission %q not known to this process", missionID)
	}
	m := rt.Mission()
	if !m.Status.IsResumable() && m.Status != apitypes.StatusActive {
		return &ctlerr.MissionTerminated{MissionID: missionID, Status: string(m.Status)}
	}
	return rt.Start(ctx, harness.Config{MissionID: missionID, WorkspaceID: m.WorkspaceID})
}

// Cancel requests the in-flight turn stop; the mission becomes
// interrupted, not terminal.
func (r *Registry) Cancel(missionID string) error {
	rt, ok := r.Get(missionID)
	if !ok {
		return fmt.Errorf("mission %q not known to this process", missionID)
	}
	rt.Cancel()
	r.mu.Lock()
	metrics.RunningMissions.Set(float64(r.countActiveLocked()))
	r.mu.Unlock()
	return nil
}

// SendMessage hands a user message to the named mission's Runtime,
// returning the id assigned to the resulting user_message event.
func (r *Registry) SendMessage(missionID, content string) (messageID string, queued bool, err error) {
	rt, ok := r.Get(missionID)
	if !ok {
		return "", false, fmt.Errorf("mission %q not known to this process", missionID)
	}
	return rt.SendMessage(content)
}

// SetStatus applies an explicit status transition requested by the
// caller (the only path to completed, failed, or not_feasible outside
// the panic-recovery path), persists it, and republishes a status
// event so subscribers see the change.
func (r *Registry) SetStatus(missionID string, status apitypes.MissionStatus) error {
	rt, ok := r.Get(missionID)
	if !ok {
		return fmt.Errorf("mission %q not known to this process", missionID)
	}
	if err := rt.SetStatus(status); err != nil {
		return err
	}
	r.mu.Lock()
	metrics.RunningMissions.Set(float64(r.countActiveLocked()))
	r.mu.Unlock()
	return nil
}

// ListRunning projects every mission this process is supervising into
// the transient scheduler-observed shape returned by the running
// missions listing.
func (r *Registry) ListRunning() []apitypes.RunningMission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]apitypes.RunningMission, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		m := rt.Mission()
		out = append(out, apitypes.RunningMission{
			MissionID:    m.MissionID,
			State:        runningStateFor(m.Status),
			QueueLen:     rt.QueueLen(),
			LastActivity: m.UpdatedAt,
		})
	}
	return out
}

func runningStateFor(status apitypes.MissionStatus) apitypes.RunningState {
	if status == apitypes.StatusActive {
		return apitypes.RunningStateRunning
	}
	return apitypes.RunningStateIdle
}

// CreateWorkspace persists a new, not-yet-built workspace record.
// Container workspaces start pending; BuildContainer provisions them
// later. The host workspace is a fixed singleton and is not created
// through this path.
func (r *Registry) CreateWorkspace(req apitypes.CreateWorkspaceRequest) (apitypes.Workspace, error) {
	if req.Kind == apitypes.WorkspaceHost {
		return apitypes.Workspace{}, fmt.Errorf("the host workspace is a fixed singleton and cannot be created")
	}
	ws := apitypes.Workspace{
		WorkspaceID: uuid.NewString(),
		Name:        req.Name,
		Kind:        req.Kind,
		Distro:      req.Distro,
		Template:    req.Template,
		Status:      apitypes.WorkspacePending,
	}
	if err := r.st.PutWorkspace(ws); err != nil {
		return apitypes.Workspace{}, err
	}
	return ws, nil
}

// UpdateWorkspace applies a partial update to an existing workspace
// record and persists the result.
func (r *Registry) UpdateWorkspace(workspaceID string, req apitypes.UpdateWorkspaceRequest) (apitypes.Workspace, error) {
	ws, ok, err := r.st.GetWorkspace(workspaceID)
	if err != nil {
		return apitypes.Workspace{}, err
	}
	if !ok {
		return apitypes.Workspace{}, fmt.Errorf("workspace %q not found", workspaceID)
	}
	if req.Name != nil {
		ws.Name = *req.Name
	}
	if req.Distro != nil {
		ws.Distro = *req.Distro
	}
	if err := r.st.PutWorkspace(ws); err != nil {
		return apitypes.Workspace{}, err
	}
	return ws, nil
}

func (r *Registry) countActiveLocked() int {
	n := 0
	for _, rt := range r.runtimes {
		if rt.Mission().Status == apitypes.StatusActive {
			n++
		}
	}
	return n
}

// Shutdown stops admitting new missions, cancels every active runtime,
// waits (bounded by ShutdownGrace) for their turns to settle, and marks
// whatever is still running as interrupted with terminal_reason
// "shutdown" (interrupted is resumable; the process exit itself is not a
// mission failure). Safe to call once; a second call is a no-op.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return nil
	}
	r.shuttingDown = true
	runtimes := make([]*mission.Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		runtimes = append(runtimes, rt)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, rt := range runtimes {
		if rt.Mission().Status != apitypes.StatusActive {
			continue
		}
		wg.Add(1)
		go func(rt *mission.Runtime) {
			defer wg.Done()
			rt.CancelWithReason("shutdown")
		}(rt)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownGrace):
	case <-ctx.Done():
	}

	for _, rt := range runtimes {
		rt.Shutdown()
	}

	metrics.RunningMissions.Set(0)
	return nil
}
