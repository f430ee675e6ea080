package apitypes

// WorkspaceKind selects the execution backend for a Workspace.
type WorkspaceKind string

const (
	WorkspaceHost      WorkspaceKind = "host"
	WorkspaceContainer WorkspaceKind = "container"
)

// WorkspaceStatus is the lifecycle state of a Workspace.
type WorkspaceStatus string

const (
	WorkspacePending  WorkspaceStatus = "pending"
	WorkspaceBuilding WorkspaceStatus = "building"
	WorkspaceReady    WorkspaceStatus = "ready"
	WorkspaceError    WorkspaceStatus = "error"
)

// TailscaleMode is the tri-state networking mode for a container workspace.
type TailscaleMode string

const (
	TailscaleExitNode   TailscaleMode = "exit_node"
	TailscaleTailnetOnly TailscaleMode = "tailnet_only"
	TailscaleNone        TailscaleMode = "none"
)

// SharedNetwork is a tri-state flag: unset, enabled, disabled.
type SharedNetwork int

const (
	SharedNetworkUnset SharedNetwork = iota
	SharedNetworkEnabled
	SharedNetworkDisabled
)

// HostWorkspaceID is the fixed, well-known id of the singleton host
// workspace. It cannot be deleted.
const HostWorkspaceID = "workspace-host"

// Workspace is an execution environment — host or isolated container.
type Workspace struct {
	WorkspaceID    string            `json:"workspace_id"`
	Name           string            `json:"name"`
	Kind           WorkspaceKind     `json:"kind"`
	Path           string            `json:"path"`
	Status         WorkspaceStatus   `json:"status"`
	Distro         string            `json:"distro,omitempty"`
	Template       string            `json:"template,omitempty"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
	EncryptedKeys  map[string]bool   `json:"encrypted_keys,omitempty"`
	InitScript     string            `json:"init_script,omitempty"`
	Skills         []string          `json:"skills,omitempty"`
	SharedNetwork  SharedNetwork     `json:"shared_network"`
	TailscaleMode  TailscaleMode     `json:"tailscale_mode,omitempty"`
	ConfigProfile  string            `json:"config_profile,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

// IsHost reports whether w is the singleton host workspace.
func (w Workspace) IsHost() bool {
	return w.WorkspaceID == HostWorkspaceID || w.Kind == WorkspaceHost
}

// CreateWorkspaceRequest is the input to the workspaces creation operation.
type CreateWorkspaceRequest struct {
	Name     string        `json:"name"`
	Kind     WorkspaceKind `json:"kind"`
	Template string        `json:"template,omitempty"`
	Distro   string        `json:"distro,omitempty"`
}

// UpdateWorkspaceRequest is the input to the PATCH workspace/:id
// operation. Unset fields leave the corresponding column unchanged.
type UpdateWorkspaceRequest struct {
	Name   *string `json:"name,omitempty"`
	Distro *string `json:"distro,omitempty"`
}

// WorkspaceDebugInfo is returned by GET workspace/:id/debug.
type WorkspaceDebugInfo struct {
	SizeBytes        int64  `json:"size_bytes"`
	HasBash          bool   `json:"has_bash"`
	InitScriptExists bool   `json:"init_script_exists"`
	Distro           string `json:"distro"`
}

// WorkspaceInitLog is returned by GET workspace/:id/init-log.
type WorkspaceInitLog struct {
	Exists     bool   `json:"exists"`
	LogPath    string `json:"log_path"`
	Content    string `json:"content"`
	TotalLines int    `json:"total_lines"`
}
