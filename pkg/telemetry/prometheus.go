package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// GovernanceSnapshot is the state exported on each scrape.
type GovernanceSnapshot struct {
	ProposalsByStatus map[domain.ProposalStatus]uint64
	CouncilMembers    uint64
	Settings          domain.Settings
}

// SnapshotFunc reads the current governance state.
type SnapshotFunc func(ctx context.Context) (GovernanceSnapshot, error)

// GovernanceCollector is a prometheus.Collector that reads state on demand.
type GovernanceCollector struct {
	snapshot SnapshotFunc
	logger   *slog.Logger

	proposals   *prometheus.Desc
	council     *prometheus.Desc
	votePeriod  *prometheus.Desc
	gracePeriod *prometheus.Desc
	policyTiers *prometheus.Desc
}

// NewGovernanceCollector creates a collector backed by snapshot.
func NewGovernanceCollector(snapshot SnapshotFunc, logger *slog.Logger) *GovernanceCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GovernanceCollector{
		snapshot: snapshot,
		logger:   logger,
		proposals: prometheus.NewDesc(
			"polis_dao_proposals",
			"Number of proposals by status",
			[]string{"status"}, nil,
		),
		council: prometheus.NewDesc(
			"polis_dao_council_members",
			"Current council size",
			nil, nil,
		),
		votePeriod: prometheus.NewDesc(
			"polis_dao_vote_period_seconds",
			"Vote period applied to new proposals",
			nil, nil,
		),
		gracePeriod: prometheus.NewDesc(
			"polis_dao_grace_period_seconds",
			"Delay applied once a proposal reaches its required votes",
			nil, nil,
		),
		policyTiers: prometheus.NewDesc(
			"polis_dao_policy_tiers",
			"Number of tiers in the active policy table",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *GovernanceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.proposals
	ch <- c.council
	ch <- c.votePeriod
	ch <- c.gracePeriod
	ch <- c.policyTiers
}

// Collect implements prometheus.Collector.
func (c *GovernanceCollector) Collect(ch chan<- prometheus.Metric) {
	snap, err := c.snapshot(context.Background())
	if err != nil {
		c.logger.Error("collect governance metrics", "error", err)
		return
	}

	for _, status := range domain.AllStatuses {
		ch <- prometheus.MustNewConstMetric(c.proposals, prometheus.GaugeValue, float64(snap.ProposalsByStatus[status]), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.council, prometheus.GaugeValue, float64(snap.CouncilMembers))
	ch <- prometheus.MustNewConstMetric(c.votePeriod, prometheus.GaugeValue, snap.Settings.VotePeriod.Seconds())
	ch <- prometheus.MustNewConstMetric(c.gracePeriod, prometheus.GaugeValue, snap.Settings.GracePeriod.Seconds())
	ch <- prometheus.MustNewConstMetric(c.policyTiers, prometheus.GaugeValue, float64(len(snap.Settings.Policy)))
}

// NewRegistry returns a registry holding the governance collector and the
// standard Go runtime collectors.
func NewRegistry(collector *GovernanceCollector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

// MetricsHandler serves the registry in the Prometheus exposition format,
// instrumented with an OpenTelemetry server span per scrape.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return otelhttp.NewHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		"metrics",
	)
}
