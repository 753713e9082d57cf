package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lineage_records_fetched_total",
			Help: "Registry records fetched, by kind",
		},
		[]string{"kind"},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lineage_fetch_errors_total",
			Help: "Per-record fetch failures, by reason",
		},
		[]string{"reason"},
	)

	RelationshipsExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lineage_relationships_extracted_total",
			Help: "Relationships derived from record metadata, by type",
		},
		[]string{"type"},
	)

	DanglingEdgesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lineage_dangling_edges_dropped_total",
			Help: "Relationships dropped at build time for missing endpoints",
		},
	)

	LoadBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lineage_load_batches_total",
			Help: "Graph store write batches, by outcome",
		},
		[]string{"status"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lineage_cache_lookups_total",
			Help: "Detail-fetch cache lookups, by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lineage_stage_duration_seconds",
			Help:    "Pipeline stage durations",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lineage_fetch_duration_seconds",
			Help:    "Per-record detail fetch latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsFetched,
		FetchErrors,
		RelationshipsExtracted,
		DanglingEdgesDropped,
		LoadBatches,
		CacheLookups,
		StageDuration,
		FetchDuration,
	)
}

// NewApp builds the fiber app serving /metrics and /healthz while a
// pipeline run is in flight.
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}
