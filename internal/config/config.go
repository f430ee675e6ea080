// Package config loads process configuration from environment variables,
// an optional .env file, and optional per-workspace YAML descriptors.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the full set of recognised environment variables. Fields
// that exist only for an external collaborator (the dashboard/HTTP
// layer) are parsed and stored but never read by the core.
type Config struct {
	Host string
	Port int

	WorkingDir string
	BboltPath  string

	LibraryPath   string
	LibraryRemote string

	DevMode           bool
	DashboardPassword string
	JWTSecret         string
	JWTTTLDays        int

	AllowContainerFallback bool

	DesktopEnabled    bool
	DesktopResolution string

	LogLevel string

	ContainerdSocket string
}

// Load reads configuration from a .env file in the current directory
// (if present) followed by the process environment, with the process
// environment taking precedence.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads a .env file at path (absence is not an error) then
// layers the process environment on top.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Host:                   getEnv("HOST", "127.0.0.1"),
		Port:                   getEnvInt("PORT", 8080),
		WorkingDir:             getEnv("WORKING_DIR", defaultWorkingDir()),
		LibraryPath:            os.Getenv("LIBRARY_PATH"),
		LibraryRemote:          os.Getenv("LIBRARY_REMOTE"),
		DevMode:                getEnvBool("DEV_MODE", false),
		DashboardPassword:      os.Getenv("DASHBOARD_PASSWORD"),
		JWTSecret:              os.Getenv("JWT_SECRET"),
		JWTTTLDays:             getEnvInt("JWT_TTL_DAYS", 30),
		AllowContainerFallback: getEnvBool("ALLOW_CONTAINER_FALLBACK", false),
		DesktopEnabled:         getEnvBool("DESKTOP_ENABLED", false),
		DesktopResolution:      getEnv("DESKTOP_RESOLUTION", "1280x800"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		ContainerdSocket:       getEnv("CONTAINERD_SOCKET", "/run/containerd/containerd.sock"),
	}
	cfg.BboltPath = getEnv("BBOLT_PATH", filepath.Join(cfg.WorkingDir, "ctrlplane.db"))
	return cfg, nil
}

func defaultWorkingDir() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}
