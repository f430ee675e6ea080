package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ctrlplane/internal/apitypes"
	"github.com/cuemby/ctrlplane/internal/config"
	"github.com/cuemby/ctrlplane/internal/eventbus"
	"github.com/cuemby/ctrlplane/internal/harness"
	_ "github.com/cuemby/ctrlplane/internal/harness/amp"
	_ "github.com/cuemby/ctrlplane/internal/harness/claude"
	_ "github.com/cuemby/ctrlplane/internal/harness/codex"
	_ "github.com/cuemby/ctrlplane/internal/harness/opencode"
	"github.com/cuemby/ctrlplane/internal/logging"
	"github.com/cuemby/ctrlplane/internal/metrics"
	"github.com/cuemby/ctrlplane/internal/oauth"
	"github.com/cuemby/ctrlplane/internal/registry"
	"github.com/cuemby/ctrlplane/internal/store"
	"github.com/cuemby/ctrlplane/internal/workspace"
)

// newRootCmd builds the daemon's single top-level command: load
// configuration, wire every long-lived component together, and block
// until a termination signal arrives.
func newRootCmd() *cobra.Command {
	var envPath string

	cmd := &cobra.Command{
		Use:   "ctrlplaned",
		Short: "Runs the mission control plane daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(envPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&envPath, "env-file", ".env", "Path to the dotenv file to load configuration from")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.LogLevel, os.Stderr)

	st, err := store.Open(cfg.BboltPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := ensureHostWorkspace(st, cfg); err != nil {
		return err
	}

	bus := eventbus.New()
	wsManager := workspace.NewManager(cfg.WorkingDir, st, cfg.ContainerdSocket, cfg.AllowContainerFallback)

	reg := registry.New(st, bus, wsManager, harness.DefaultRegistry)
	if err := reg.Reattach(); err != nil {
		return err
	}

	scheduler := registry.NewRecurringScheduler(st, reg)
	go scheduler.Run(ctx)
	defer scheduler.Stop()

	refresher := oauth.New(st, bus, reg, &oauth.FileMirror{Dir: filepath.Join(cfg.WorkingDir, "oauth-mirrors")}, nil)
	refresher.Start()
	defer refresher.Stop()

	metricsSrv := &http.Server{Addr: ":9090", Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Component(log, "metrics").Error().Err(err).Msg("metrics server exited")
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logging.Component(log, "ctrlplaned").Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), registry.ShutdownGrace+5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return reg.Shutdown(shutdownCtx)
}

// ensureHostWorkspace creates the singleton host workspace record on
// first run; it is a no-op once the record already exists.
func ensureHostWorkspace(st *store.Store, cfg *config.Config) error {
	if _, ok, err := st.GetWorkspace(apitypes.HostWorkspaceID); err != nil || ok {
		return err
	}
	return st.PutWorkspace(apitypes.Workspace{
		WorkspaceID: apitypes.HostWorkspaceID,
		Name:        "host",
		Kind:        apitypes.WorkspaceHost,
		Path:        cfg.WorkingDir,
		Status:      apitypes.WorkspaceReady,
	})
}
