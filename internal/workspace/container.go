package workspace

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/ctlerr"
)

// ctrdNamespace is the containerd namespace every workspace container
// lives under, keeping them isolated from any other containerd client on
// the same host.
const ctrdNamespace = "ctrlplane"

// rootfsSources maps a distro name to the rootfs image reference used to
// bootstrap it, split by host architecture since an arm64 host may need
// a different image source than amd64.
var rootfsSources = map[string]map[string]string{
	"ubuntu-22.04": {
		"amd64": "docker.io/library/ubuntu:22.04",
		"arm64": "docker.io/library/ubuntu:22.04", // multi-arch manifest; containerd resolves the arch-specific layer
	},
	"alpine-3.19": {
		"amd64": "docker.io/library/alpine:3.19",
		"arm64": "docker.io/library/alpine:3.19",
	},
}

func rootfsRef(distro string) (string, error) {
	byArch, ok := rootfsSources[distro]
	if !ok {
		return "", fmt.Errorf("unknown distro %q", distro)
	}
	ref, ok := byArch[runtime.GOARCH]
	if !ok {
		return "", fmt.Errorf("distro %q has no rootfs source for arch %q", distro, runtime.GOARCH)
	}
	return ref, nil
}

// ContainerExecutor runs commands inside a per-workspace containerd
// container. Entering an already-running container is done by execing
// into its init task (namespace-join), never by starting a new
// container.
type ContainerExecutor struct {
	client *containerd.Client
}

// NewContainerExecutor dials the local containerd socket. Callers treat
// a non-nil error as "container primitive unavailable", not as a fatal
// startup error, so the rest of the runtime can apply its
// graceful-degradation policy.
func NewContainerExecutor(socketPath string) (*ContainerExecutor, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, &ctlerr.WorkspaceUnavailable{Reason: fmt.Sprintf("containerd dial failed: %v", err)}
	}
	return &ContainerExecutor{client: client}, nil
}

// Close releases the containerd client connection.
func (c *ContainerExecutor) Close() error { return c.client.Close() }

func (c *ContainerExecutor) ctx() context.Context {
	return namespaces.WithNamespace(context.Background(), ctrdNamespace)
}

// RunCommand execs argv inside ws's running container task and waits for
// it to exit, capturing stdout/stderr.
func (c *ContainerExecutor) RunCommand(ctx context.Context, ws apitypes.Workspace, argv []string, env map[string]string, stdin io.Reader, cwd string) (CommandResult, error) {
	if ws.Status != apitypes.WorkspaceReady {
		return CommandResult{}, &ctlerr.WorkspaceNotReady{WorkspaceID: ws.WorkspaceID, Status: string(ws.Status)}
	}
	nsCtx := namespaces.WithNamespace(ctx, ctrdNamespace)

	container, err := c.client.LoadContainer(nsCtx, ws.WorkspaceID)
	if err != nil {
		return CommandResult{}, &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: err.Error()}
	}
	task, err := container.Task(nsCtx, nil)
	if err != nil {
		return CommandResult{}, &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "init task not running: " + err.Error()}
	}

	var stdout, stderr outputBuffer
	procSpec := &specs.Process{Args: argv, Cwd: resolveCwd(ws, cwd), Env: envSlice(env)}
	execID := ws.WorkspaceID + "-exec"
	process, err := task.Exec(nsCtx, execID, procSpec, cio.NewCreator(cio.WithStreams(stdin, &stdout, &stderr)))
	if err != nil {
		return CommandResult{}, &ctlerr.TransientIO{Op: "task-exec", Err: err}
	}
	defer process.Delete(nsCtx)

	statusCh, err := process.Wait(nsCtx)
	if err != nil {
		return CommandResult{}, &ctlerr.TransientIO{Op: "process-wait", Err: err}
	}
	if err := process.Start(nsCtx); err != nil {
		return CommandResult{}, &ctlerr.TransientIO{Op: "process-start", Err: err}
	}

	status := <-statusCh
	return CommandResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: int(status.ExitCode())}, nil
}

// SpawnProcess is not supported by the container backend: it always
// returns WorkspaceUnavailable. Harness processes are started on the
// host by the harness package, not through an Executor.
func (c *ContainerExecutor) SpawnProcess(ctx context.Context, ws apitypes.Workspace, argv []string, env map[string]string, cwd string) (ProcessHandle, error) {
	return nil, &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "spawn_process not implemented for container backend"}
}

// BuildContainer provisions or reprovisions ws's rootfs and runs its
// init_script, streaming progress lines. It transitions
// pending -> building -> {ready|error}; callers persist those
// transitions via the workspace manager.
func (c *ContainerExecutor) BuildContainer(ctx context.Context, ws apitypes.Workspace, distro string, rebuild bool) (<-chan BuildLogEvent, error) {
	ref, err := rootfsRef(distro)
	if err != nil {
		return nil, err
	}
	out := make(chan BuildLogEvent, 32)
	go c.build(ctx, ws, ref, rebuild, out)
	return out, nil
}

func (c *ContainerExecutor) build(ctx context.Context, ws apitypes.Workspace, imageRef string, rebuild bool, out chan<- BuildLogEvent) {
	defer close(out)
	nsCtx := namespaces.WithNamespace(ctx, ctrdNamespace)

	emit := func(line string) {
		select {
		case out <- BuildLogEvent{Line: line}:
		case <-ctx.Done():
		}
	}

	if rebuild {
		if existing, err := c.client.LoadContainer(nsCtx, ws.WorkspaceID); err == nil {
			emit("destroying existing container for rebuild")
			if task, err := existing.Task(nsCtx, nil); err == nil {
				_, _ = task.Delete(nsCtx)
			}
			_ = existing.Delete(nsCtx, containerd.WithSnapshotCleanup)
		}
	}

	emit(fmt.Sprintf("pulling rootfs image %s", imageRef))
	image, err := c.client.Pull(nsCtx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		out <- BuildLogEvent{Err: &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "pull failed: " + err.Error()}}
		return
	}

	emit("creating container")
	snapshotName := ws.WorkspaceID + "-snapshot"
	container, err := c.client.NewContainer(
		nsCtx, ws.WorkspaceID,
		containerd.WithSnapshotter(""),
		containerd.WithNewSnapshot(snapshotName, image),
		containerd.WithNewSpec(oci.WithImageConfig(image), oci.WithHostNamespace(specs.NetworkNamespace)),
	)
	if err != nil {
		out <- BuildLogEvent{Err: &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "container create failed: " + err.Error()}}
		return
	}

	emit("starting init task")
	task, err := container.NewTask(nsCtx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		out <- BuildLogEvent{Err: &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "task create failed: " + err.Error()}}
		return
	}
	if err := task.Start(nsCtx); err != nil {
		out <- BuildLogEvent{Err: &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "task start failed: " + err.Error()}}
		return
	}

	if ws.InitScript != "" {
		emit("running init_script")
		argv, err := ParseCommandLine(ws.InitScript)
		if err != nil {
			out <- BuildLogEvent{Err: &ctlerr.WorkspaceUnavailable{WorkspaceID: ws.WorkspaceID, Reason: "invalid init_script: " + err.Error()}}
			return
		}
		var stdout, stderr outputBuffer
		procSpec := &specs.Process{Args: argv, Cwd: "/"}
		process, err := task.Exec(nsCtx, "init", procSpec, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
		if err == nil {
			statusCh, _ := process.Wait(nsCtx)
			_ = process.Start(nsCtx)
			status := <-statusCh
			emit(stdout.String())
			if status.ExitCode() != 0 {
				out <- BuildLogEvent{Err: fmt.Errorf("init_script exited %d: %s", status.ExitCode(), stderr.String())}
				return
			}
		}
	}

	out <- BuildLogEvent{Done: true}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// WorkspaceRootfsDir returns the on-disk directory backing a container
// workspace's writable layer, used by the debug endpoint's size_bytes
// computation.
func WorkspaceRootfsDir(baseDir, workspaceID string) string {
	return filepath.Join(baseDir, "rootfs", workspaceID)
}

type outputBuffer struct{ data []byte }

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *outputBuffer) String() string { return string(b.data) }
