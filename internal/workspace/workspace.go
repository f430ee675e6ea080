// Package workspace abstracts command and process execution so the
// harness adapter and tool layer never need to know whether they are
// talking to the host filesystem or an isolated container. The host
// backend runs a pre-split argv directly via exec.CommandContext
// (ParseCommandLine does shlex-style splitting where a command line
// string must become an argv) and treats a non-zero exit code as a normal result,
// not an error; the container backend speaks the containerd client API.
package workspace

import (
	"context"
	"io"

	"github.com/google/shlex"

	"github.com/cuemby/ctrlplane/internal/apitypes"
)

// CommandResult is the synchronous outcome of RunCommand. A non-zero
// ExitCode is a normal result, not an error; an error is only returned
// for infrastructure failures such as a spawn failure or a workspace
// that no longer exists.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProcessHandle is returned by SpawnProcess. Callers write to Stdin,
// read from Stdout/Stderr, and may Kill or Wait.
type ProcessHandle interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Kill(signal string) error
	Wait() (exitCode int, err error)
}

// BuildLogEvent is one line of streamed build/init output, also
// appended to the per-workspace init-log sink used by diagnostics.
type BuildLogEvent struct {
	Line string
	Done bool
	Err  error
}

// Executor is the workspace-agnostic execution surface.
type Executor interface {
	// RunCommand runs argv synchronously in workspaceID and returns its
	// result. Fails with *ctlerr.WorkspaceNotReady if the target
	// workspace is not in the ready state.
	RunCommand(ctx context.Context, ws apitypes.Workspace, argv []string, env map[string]string, stdin io.Reader, cwd string) (CommandResult, error)

	// SpawnProcess starts argv asynchronously in workspaceID and
	// returns a handle to its stdio and lifecycle.
	SpawnProcess(ctx context.Context, ws apitypes.Workspace, argv []string, env map[string]string, cwd string) (ProcessHandle, error)
}

// ParseCommandLine splits a shell-style command line into argv, used
// when an init_script or a single command-line string (rather than a
// pre-split argv) needs to become an argv slice.
func ParseCommandLine(line string) ([]string, error) {
	return shlex.Split(line)
}

func mergedEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for k := range overrides {
		seen[k] = true
	}
	for _, kv := range base {
		if k, ok := envKey(kv); ok && seen[k] {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

func envKey(kv string) (string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], true
		}
	}
	return "", false
}
