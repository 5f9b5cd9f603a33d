package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reload metrics
	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replug_reloads_total",
			Help: "Total number of hot reloads by result",
		},
		[]string{"result"},
	)

	ReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replug_reload_duration_seconds",
			Help:    "Time taken to complete one reload in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker metrics
	WorkerEpoch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replug_worker_epoch",
			Help: "Current worker generation counter",
		},
	)

	WorkerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replug_worker_running",
			Help: "Whether a worker is currently polling (1 = running)",
		},
	)

	RegisteredTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replug_registered_tasks",
			Help: "Number of tasks registered with the current worker",
		},
	)

	RegisteredWorkflows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replug_registered_workflows",
			Help: "Number of workflow types registered with the current worker",
		},
	)

	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replug_drain_duration_seconds",
			Help:    "Time taken to drain the previous worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Loader metrics
	ArtifactsLoaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replug_artifacts_loaded_total",
			Help: "Total number of artifacts successfully loaded",
		},
	)

	ModulesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replug_modules_skipped_total",
			Help: "Total number of modules skipped by reason",
		},
		[]string{"reason"},
	)

	ContainersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replug_containers_live",
			Help: "Number of live code containers",
		},
	)

	// Feed metrics
	FeedPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replug_feed_polls_total",
			Help: "Total number of feed polls by result",
		},
		[]string{"result"},
	)

	FeedDownloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replug_feed_downloads_total",
			Help: "Total number of package archives downloaded",
		},
	)

	CircuitBreakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replug_feed_circuit_open",
			Help: "Whether the feed circuit breaker is open (1 = suspended)",
		},
	)

	StagedPackagesCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replug_staged_packages_cleaned_total",
			Help: "Total number of staged package directories removed by the cleanup pass",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReloadsTotal)
	prometheus.MustRegister(ReloadDuration)
	prometheus.MustRegister(WorkerEpoch)
	prometheus.MustRegister(WorkerRunning)
	prometheus.MustRegister(RegisteredTasks)
	prometheus.MustRegister(RegisteredWorkflows)
	prometheus.MustRegister(DrainDuration)
	prometheus.MustRegister(ArtifactsLoaded)
	prometheus.MustRegister(ModulesSkipped)
	prometheus.MustRegister(ContainersLive)
	prometheus.MustRegister(FeedPollsTotal)
	prometheus.MustRegister(FeedDownloadsTotal)
	prometheus.MustRegister(CircuitBreakerOpen)
	prometheus.MustRegister(StagedPackagesCleaned)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
