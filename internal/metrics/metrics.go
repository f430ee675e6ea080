// Package metrics registers the process's Prometheus collectors, in the
// global-var-plus-init() style used across the pack's metrics packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunningMissions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ctrlplane_running_missions",
		Help: "Number of missions currently in the active status.",
	})

	EventsAppendedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctrlplane_events_appended_total",
		Help: "Total events appended to the durable store, by kind.",
	}, []string{"kind"})

	OAuthRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctrlplane_oauth_refresh_total",
		Help: "Total OAuth refresh attempts, by provider and outcome.",
	}, []string{"provider", "outcome"})

	WorkspaceBuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ctrlplane_workspace_builds_total",
		Help: "Total container workspace builds, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(RunningMissions)
	prometheus.MustRegister(EventsAppendedTotal)
	prometheus.MustRegister(OAuthRefreshTotal)
	prometheus.MustRegister(WorkspaceBuildsTotal)
}

// Handler returns the HTTP handler that serves the registered
// collectors in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
