package workspace

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
	"github.com/cuemby/ctrlplane/internal/metrics"
	"github.com/cuemby/ctrlplane/internal/store"
)

// Manager selects the right Executor for a workspace, applies the
// ALLOW_CONTAINER_FALLBACK degradation policy, and guards container
// rebuilds with an advisory file lock so two build_container calls for
// the same workspace never interleave.
type Manager struct {
	host                *HostExecutor
	container           *ContainerExecutor // nil if containerd is unavailable
	containerAvailable  bool
	allowFallback       bool
	dataDir             string
	st                  *store.Store

	locksMu sync.Mutex
	locks   map[string]*flock.Flock
}

// NewManager wires the host backend (always available) and attempts to
// dial the container backend; dial failure is recorded, not fatal — it
// only matters at the moment a container workspace is actually used.
func NewManager(dataDir string, st *store.Store, containerdSocket string, allowFallback bool) *Manager {
	m := &Manager{
		host:          NewHostExecutor(),
		allowFallback: allowFallback,
		dataDir:       dataDir,
		st:            st,
		locks:         make(map[string]*flock.Flock),
	}
	if ce, err := NewContainerExecutor(containerdSocket); err == nil {
		m.container = ce
		m.containerAvailable = true
	}
	return m
}

// executorFor resolves which Executor backs ws, applying fallback.
func (m *Manager) executorFor(ws apitypes.Workspace) (Executor, error) {
	if ws.Kind == apitypes.WorkspaceHost || ws.IsHost() {
		return m.host, nil
	}
	if m.containerAvailable {
		return m.container, nil
	}
	if m.allowFallback {
		return m.host, nil
	}
	return nil, &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "container primitive unavailable and ALLOW_CONTAINER_FALLBACK is false"}
}

// RunCommand implements Executor by dispatching to the resolved backend.
func (m *Manager) RunCommand(ctx context.Context, ws apitypes.Workspace, argv []string, env map[string]string, stdin io.Reader, cwd string) (CommandResult, error) {
	ex, err := m.executorFor(ws)
	if err != nil {
		return CommandResult{}, err
	}
	return ex.RunCommand(ctx, ws, argv, env, stdin, cwd)
}

// SpawnProcess implements Executor by dispatching to the resolved backend.
func (m *Manager) SpawnProcess(ctx context.Context, ws apitypes.Workspace, argv []string, env map[string]string, cwd string) (ProcessHandle, error) {
	ex, err := m.executorFor(ws)
	if err != nil {
		return nil, err
	}
	return ex.SpawnProcess(ctx, ws, argv, env, cwd)
}

// lockFor returns a fresh lock handle per call: a Flock that already
// holds its lock reports TryLock success again, so a shared handle would
// let a second build in this process through.
func (m *Manager) lockFor(workspaceID string) *flock.Flock {
	path := filepath.Join(m.dataDir, "locks", workspaceID+".rebuild.lock")
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	return flock.New(path)
}

// initLogPath is the per-workspace init-log file backing the
// GET workspace/:id/init-log endpoint.
func (m *Manager) initLogPath(workspaceID string) string {
	return filepath.Join(m.dataDir, "init-logs", workspaceID+".log")
}

// BuildContainer provisions or rebuilds ws, serialising concurrent
// rebuild attempts for the same workspace via an advisory file lock so a
// cancelled-and-retried build never interleaves with one already in
// flight, and persists status transitions plus the streamed log to the
// init-log sink.
func (m *Manager) BuildContainer(ctx context.Context, ws apitypes.Workspace, distro string, rebuild bool) (<-chan BuildLogEvent, error) {
	if ws.IsHost() {
		return nil, fmt.Errorf("host workspace has no container to build")
	}
	if !m.containerAvailable {
		return nil, &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "container primitive unavailable"}
	}

	lock := m.lockFor(ws.WorkspaceID)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &ctlerr.TransientIO{Op: "acquire-rebuild-lock", Err: err}
	}
	if !locked {
		return nil, &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "a build is already in progress for this workspace"}
	}

	ws.Status = apitypes.WorkspaceBuilding
	_ = m.st.PutWorkspace(ws)

	srcCh, err := m.container.BuildContainer(ctx, ws, distro, rebuild)
	if err != nil {
		_ = lock.Unlock()
		ws.Status = apitypes.WorkspaceError
		ws.ErrorMessage = err.Error()
		_ = m.st.PutWorkspace(ws)
		return nil, err
	}

	out := make(chan BuildLogEvent, 32)
	go m.pumpBuild(ws, srcCh, lock, out)
	return out, nil
}

func (m *Manager) pumpBuild(ws apitypes.Workspace, srcCh <-chan BuildLogEvent, lock *flock.Flock, out chan<- BuildLogEvent) {
	defer close(out)
	defer lock.Unlock()

	logPath := m.initLogPath(ws.WorkspaceID)
	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)
	f, ferr := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	var w *bufio.Writer
	if ferr == nil {
		w = bufio.NewWriter(f)
		defer func() { w.Flush(); f.Close() }()
	}

	for ev := range srcCh {
		if w != nil && ev.Line != "" {
			fmt.Fprintln(w, ev.Line)
			w.Flush()
		}
		out <- ev
		if ev.Err != nil {
			ws.Status = apitypes.WorkspaceError
			ws.ErrorMessage = ev.Err.Error()
			_ = m.st.PutWorkspace(ws)
			metrics.WorkspaceBuildsTotal.WithLabelValues("error").Inc()
			return
		}
		if ev.Done {
			ws.Status = apitypes.WorkspaceReady
			_ = m.st.PutWorkspace(ws)
			metrics.WorkspaceBuildsTotal.WithLabelValues("success").Inc()
		}
	}
}

// ReadInitLog implements the GET workspace/:id/init-log endpoint.
func (m *Manager) ReadInitLog(workspaceID string) (apitypes.WorkspaceInitLog, error) {
	path := m.initLogPath(workspaceID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return apitypes.WorkspaceInitLog{Exists: false, LogPath: path}, nil
	}
	if err != nil {
		return apitypes.WorkspaceInitLog{}, &ctlerr.TransientIO{Op: "read-init-log", Err: err}
	}
	lines := countLines(data)
	return apitypes.WorkspaceInitLog{Exists: true, LogPath: path, Content: string(data), TotalLines: lines}, nil
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

// Debug implements the GET workspace/:id/debug endpoint.
func (m *Manager) Debug(ws apitypes.Workspace) (apitypes.WorkspaceDebugInfo, error) {
	info := apitypes.WorkspaceDebugInfo{Distro: ws.Distro}
	dir := ws.Path
	if ws.Kind == apitypes.WorkspaceContainer {
		dir = WorkspaceRootfsDir(m.dataDir, ws.WorkspaceID)
	}
	size, err := dirSize(dir)
	if err == nil {
		info.SizeBytes = size
	}
	if _, err := os.Stat(filepath.Join(dir, "bin", "bash")); err == nil {
		info.HasBash = true
	}
	if _, err := os.Stat(filepath.Join(dir, "init_script.sh")); err == nil {
		info.InitScriptExists = true
	}
	return info, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort size, skip unreadable entries
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}
