package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// WorkspaceDescriptor is the optional YAML sidecar describing a
// workspace's init behaviour and installed skills, matching the shape
// operators hand-author alongside a workspace's rootfs template.
type WorkspaceDescriptor struct {
	Distro     string            `yaml:"distro"`
	InitScript string            `yaml:"init_script"`
	Skills     []string          `yaml:"skills"`
	EnvVars    map[string]string `yaml:"env_vars"`
}

// LoadWorkspaceDescriptor reads a workspace descriptor from path. A
// missing file yields a zero-value descriptor, not an error.
func LoadWorkspaceDescriptor(path string) (*WorkspaceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &WorkspaceDescriptor{}, nil
		}
		return nil, err
	}
	var d WorkspaceDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
