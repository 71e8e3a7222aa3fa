// Package metrics holds the Prometheus collectors for the asset pipeline.
//
// All recording methods are safe to call on a nil *Metrics, so components
// built without metrics need no special casing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/assetsync/assetsync/internal/files"
	"github.com/assetsync/assetsync/internal/notify"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "assetsync").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "assetsync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is the set of pipeline collectors.
type Metrics struct {
	registryFiles   prometheus.Gauge
	registryEvents  *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	scannedFiles    prometheus.Counter
	scanErrors      prometheus.Counter
	references      *prometheus.CounterVec
	syncClients     prometheus.Gauge
	syncMessages    *prometheus.CounterVec
	bundleBuilds    *prometheus.CounterVec
	bundleDuration  prometheus.Histogram
	publishedAssets *prometheus.CounterVec
}

// New creates and registers the collectors.
//
// Metrics collected:
//   - assetsync_registry_files: Gauge of named files in the registry
//   - assetsync_registry_events_total: Counter of registry changes by action
//   - assetsync_scan_duration_seconds: Histogram of scan pass duration
//   - assetsync_scanned_files_total: Counter of files scanned
//   - assetsync_scan_errors_total: Counter of files that failed to parse
//   - assetsync_references_total: Counter of references found by source
//   - assetsync_sync_clients: Gauge of connected mirrors
//   - assetsync_sync_messages_total: Counter of sync messages by direction and event
//   - assetsync_bundle_builds_total: Counter of bundle builds by outcome
//   - assetsync_bundle_duration_seconds: Histogram of bundle build latency
//   - assetsync_published_assets_total: Counter of publish uploads by outcome
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		registryFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "registry_files",
			Help:        "Number of named files in the registry",
			ConstLabels: config.ConstLabels,
		}),

		registryEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "registry_events_total",
			Help:        "Total registry changes by action",
			ConstLabels: config.ConstLabels,
		}, []string{"action"}),

		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "scan_duration_seconds",
			Help:        "Dependency scan pass duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		scannedFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "scanned_files_total",
			Help:        "Total number of files scanned for references",
			ConstLabels: config.ConstLabels,
		}),

		scanErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "scan_errors_total",
			Help:        "Total number of files that could not be parsed",
			ConstLabels: config.ConstLabels,
		}),

		references: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "references_total",
			Help:        "Total references found by source",
			ConstLabels: config.ConstLabels,
		}, []string{"source"}),

		syncClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "sync_clients",
			Help:        "Number of connected sync clients",
			ConstLabels: config.ConstLabels,
		}),

		syncMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "sync_messages_total",
			Help:        "Total sync messages by direction and event",
			ConstLabels: config.ConstLabels,
		}, []string{"direction", "event"}),

		bundleBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "bundle_builds_total",
			Help:        "Total bundle builds by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		bundleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "bundle_duration_seconds",
			Help:        "Bundle build latency in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		publishedAssets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "published_assets_total",
			Help:        "Total asset uploads by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),
	}
}

// ObserveRegistry keeps the registry gauges in step with r.
func (m *Metrics) ObserveRegistry(r *files.Registry) *notify.Subscription {
	if m == nil {
		return nil
	}
	m.registryFiles.Set(float64(r.Len()))
	return r.Events().Attach(func(e files.Event) {
		m.registryEvents.WithLabelValues(string(e.Action)).Inc()
		m.registryFiles.Set(float64(r.Len()))
	}, m)
}

// ScanCompleted records one scan pass.
func (m *Metrics) ScanCompleted(scanned, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.scannedFiles.Add(float64(scanned))
	m.scanErrors.Add(float64(failed))
	m.scanDuration.Observe(d.Seconds())
}

// ReferenceFound records one resolved reference.
func (m *Metrics) ReferenceFound(source string) {
	if m == nil {
		return
	}
	m.references.WithLabelValues(source).Inc()
}

// ClientConnected adjusts the connected client gauge by delta.
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.syncClients.Add(float64(delta))
}

// Message records one sync message. Direction is "in" or "out".
func (m *Metrics) Message(direction, event string) {
	if m == nil {
		return
	}
	m.syncMessages.WithLabelValues(direction, event).Inc()
}

// BundleBuilt records one bundle build.
func (m *Metrics) BundleBuilt(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.bundleBuilds.WithLabelValues(outcome).Inc()
	m.bundleDuration.Observe(d.Seconds())
}

// AssetPublished records one upload.
func (m *Metrics) AssetPublished(outcome string) {
	if m == nil {
		return
	}
	m.publishedAssets.WithLabelValues(outcome).Inc()
}
