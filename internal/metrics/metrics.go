// Package metrics exposes migration outcomes to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its own registry so several runners can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	// MigrationsTotal counts migration outcomes: success, failed or skipped.
	MigrationsTotal *prometheus.CounterVec

	// MigrationDuration tracks how long each migration body ran.
	MigrationDuration *prometheus.HistogramVec

	// RegistryVersion is the highest version recorded in the registry.
	RegistryVersion prometheus.Gauge
}

// NewCollector creates a collector with Go runtime and process metrics attached.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		MigrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datamigratex_migrations_total",
				Help: "Total migrations handled, by outcome",
			},
			[]string{"outcome"},
		),
		MigrationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datamigratex_migration_duration_seconds",
				Help:    "Time spent running a migration body",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"migration_id"},
		),
		RegistryVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "datamigratex_registry_version",
				Help: "Highest migration version recorded in the registry",
			},
		),
	}
}

// ObserveMigration records one outcome. Skipped migrations have no duration.
func (c *Collector) ObserveMigration(id, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.MigrationsTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		c.MigrationDuration.WithLabelValues(id).Observe(took.Seconds())
	}
}

// SetRegistryVersion sets the registry version gauge.
func (c *Collector) SetRegistryVersion(v int64) {
	if c == nil {
		return
	}
	c.RegistryVersion.Set(float64(v))
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
