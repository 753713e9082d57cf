package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/internal/graph"
	neo4jstore "github.com/model-lineage/pipeline/internal/graph/neo4j"
	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/internal/metrics"
	"github.com/model-lineage/pipeline/internal/scraper"
	"github.com/model-lineage/pipeline/internal/storage/sqlite"
	"github.com/model-lineage/pipeline/pkg/logger"
)

// Fetcher is one full catalog pass over the registry.
type Fetcher interface {
	Run(ctx context.Context) ([]lineage.Record, []lineage.Relationship, scraper.Stats, error)
}

// SnapshotStore persists and prunes on-disk snapshots.
type SnapshotStore interface {
	Save(records []lineage.Record, rels []lineage.Relationship) (*lineage.Snapshot, error)
	Latest() (*lineage.Snapshot, error)
	Prune(keep int)
}

// Loader writes a built graph into the target store.
type Loader interface {
	Load(ctx context.Context, g *graph.Graph, mode neo4jstore.LoadMode) error
	EnsureIndexes(ctx context.Context) error
}

// Summary is the user-visible outcome of one run.
type Summary struct {
	RunID           string
	SnapshotID      string
	Mode            neo4jstore.LoadMode
	RecordsFetched  int
	RecordsSkipped  int
	Relationships   int
	DanglingDropped int
	NodesLoaded     int
	EdgesLoaded     int
	Duration        time.Duration
	Status          string
	Err             error
}

type Runner struct {
	fetcher Fetcher
	store   SnapshotStore
	loader  Loader
	ledger  *sqlite.Ledger
	mode    neo4jstore.LoadMode
	keep    int
}

func NewRunner(fetcher Fetcher, store SnapshotStore, loader Loader, ledger *sqlite.Ledger, mode neo4jstore.LoadMode, keep int) *Runner {
	return &Runner{
		fetcher: fetcher,
		store:   store,
		loader:  loader,
		ledger:  ledger,
		mode:    mode,
		keep:    keep,
	}
}

// Run executes one sequential pass: fetch, snapshot, prune, build,
// load, index. Per-record fetch failures were already absorbed by the
// scraper; any error reaching here is fatal for the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:  uuid.New().String(),
		Mode:   r.mode,
		Status: "failed",
	}
	started := time.Now()
	defer func() {
		summary.Duration = time.Since(started)
		r.record(summary, started)
	}()

	logger.Info("Pipeline run starting",
		zap.String("run_id", summary.RunID),
		zap.String("mode", string(r.mode)),
	)

	records, rels, stats, err := r.stageFetch(ctx)
	if err != nil {
		summary.Err = err
		return summary, err
	}
	summary.RecordsFetched = stats.RecordsFetched
	summary.RecordsSkipped = stats.RecordsSkipped
	summary.Relationships = stats.Relationships

	snap, err := r.stageSnapshot(records, rels)
	if err != nil {
		summary.Err = err
		return summary, err
	}
	summary.SnapshotID = snap.ID

	g, err := r.stageBuild(snap)
	if err != nil {
		summary.Err = err
		return summary, err
	}
	summary.DanglingDropped = g.DanglingDropped
	summary.NodesLoaded = len(g.Nodes)
	summary.EdgesLoaded = len(g.Edges)
	metrics.DanglingEdgesDropped.Add(float64(g.DanglingDropped))

	if err := r.stageLoad(ctx, g); err != nil {
		summary.Err = err
		return summary, err
	}

	summary.Status = "succeeded"
	logger.Info("Pipeline run complete",
		zap.String("run_id", summary.RunID),
		zap.String("snapshot_id", summary.SnapshotID),
		zap.Int("nodes", summary.NodesLoaded),
		zap.Int("edges", summary.EdgesLoaded),
		zap.Int("dangling_dropped", summary.DanglingDropped),
		zap.Duration("duration", time.Since(started)),
	)

	return summary, nil
}

func (r *Runner) stageFetch(ctx context.Context) ([]lineage.Record, []lineage.Relationship, scraper.Stats, error) {
	timer := stageTimer("fetch")
	defer timer()
	return r.fetcher.Run(ctx)
}

func (r *Runner) stageSnapshot(records []lineage.Record, rels []lineage.Relationship) (*lineage.Snapshot, error) {
	timer := stageTimer("snapshot")
	defer timer()

	snap, err := r.store.Save(records, rels)
	if err != nil {
		return nil, err
	}
	r.store.Prune(r.keep)
	return snap, nil
}

func (r *Runner) stageBuild(snap *lineage.Snapshot) (*graph.Graph, error) {
	timer := stageTimer("build")
	defer timer()
	return graph.Build(snap)
}

func (r *Runner) stageLoad(ctx context.Context, g *graph.Graph) error {
	timer := stageTimer("load")
	defer timer()

	if err := r.loader.Load(ctx, g, r.mode); err != nil {
		return err
	}
	return r.loader.EnsureIndexes(ctx)
}

func (r *Runner) record(summary *Summary, started time.Time) {
	if r.ledger == nil {
		return
	}

	errText := ""
	if summary.Err != nil {
		errText = summary.Err.Error()
	}

	err := r.ledger.RecordRun(&sqlite.RunRecord{
		RunID:           summary.RunID,
		SnapshotID:      summary.SnapshotID,
		Mode:            string(summary.Mode),
		RecordsFetched:  summary.RecordsFetched,
		RecordsSkipped:  summary.RecordsSkipped,
		Relationships:   summary.Relationships,
		DanglingDropped: summary.DanglingDropped,
		NodesLoaded:     summary.NodesLoaded,
		EdgesLoaded:     summary.EdgesLoaded,
		Status:          summary.Status,
		ErrorText:       errText,
		StartedAt:       started,
		FinishedAt:      time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to record run in ledger", zap.Error(err))
	}
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
