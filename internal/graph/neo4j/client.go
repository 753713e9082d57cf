package neo4j

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/internal/graph"
	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/internal/metrics"
	"github.com/model-lineage/pipeline/pkg/circuitbreaker"
	"github.com/model-lineage/pipeline/pkg/logger"
	"github.com/model-lineage/pipeline/pkg/retry"
)

type LoadMode string

const (
	ModeReplace LoadMode = "replace"
	ModeMerge   LoadMode = "merge"
)

func ParseLoadMode(s string) (LoadMode, error) {
	switch LoadMode(s) {
	case ModeReplace, ModeMerge:
		return LoadMode(s), nil
	default:
		return "", fmt.Errorf("unknown load mode %q", s)
	}
}

var (
	// ErrConnection means the store was unreachable before any write.
	ErrConnection = errors.New("graph store unreachable")
	// ErrWriteFailed means a batch failed mid-load; earlier batches
	// are already applied (at-least-once, non-transactional).
	ErrWriteFailed = errors.New("graph store write failed")
)

// statementRunner executes one write statement against the store.
type statementRunner interface {
	Run(ctx context.Context, query string, params map[string]interface{}) error
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) Run(ctx context.Context, query string, params map[string]interface{}) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// Loader owns the live graph-store contents under the Model and
// Dataset labels.
type Loader struct {
	driver    neo4j.DriverWithContext
	runner    statementRunner
	batchSize int
	cb        *circuitbreaker.Breaker
	retryCfg  retry.Config
}

func NewLoader(uri, username, password, database string, batchSize int) (*Loader, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create driver: %v", ErrConnection, err)
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if batchSize <= 0 {
		batchSize = 500
	}

	retryCfg := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.Log,
	}

	logger.Info("Neo4j loader initialized", zap.String("uri", uri))

	return &Loader{
		driver:    driver,
		runner:    &driverRunner{driver: driver, database: database},
		batchSize: batchSize,
		cb: circuitbreaker.New("neo4j", circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      20 * time.Second,
			MaxProbes:        3,
			Logger:           logger.Log,
		}),
		retryCfg: retryCfg,
	}, nil
}

func (l *Loader) Close(ctx context.Context) error {
	return l.driver.Close(ctx)
}

// Load writes a built graph into the store. Replace mode clears the
// managed labels first; merge mode upserts by identifier and never
// deletes. Writes are batched; a failed batch aborts the remaining
// ones without rolling back what already landed.
func (l *Loader) Load(ctx context.Context, g *graph.Graph, mode LoadMode) error {
	logger.Info("Loading graph",
		zap.String("snapshot_id", g.SnapshotID),
		zap.String("mode", string(mode)),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
	)

	if mode == ModeReplace {
		if err := l.clearManaged(ctx); err != nil {
			return err
		}
	}

	if err := l.upsertModels(ctx, g.ModelNodes()); err != nil {
		return err
	}
	if err := l.upsertDatasets(ctx, g.DatasetNodes()); err != nil {
		return err
	}
	if err := l.upsertEdges(ctx, lineage.RelTrainedOn, g.EdgesOfType(lineage.RelTrainedOn)); err != nil {
		return err
	}
	if err := l.upsertEdges(ctx, lineage.RelDerivedFrom, g.EdgesOfType(lineage.RelDerivedFrom)); err != nil {
		return err
	}

	logger.Info("Graph loaded", zap.String("snapshot_id", g.SnapshotID))
	return nil
}

// EnsureIndexes (re)creates the identifier lookup indexes. A no-op when
// they already exist.
func (l *Loader) EnsureIndexes(ctx context.Context) error {
	statements := []string{
		`CREATE INDEX model_id_idx IF NOT EXISTS FOR (m:Model) ON (m.model_id)`,
		`CREATE INDEX dataset_id_idx IF NOT EXISTS FOR (d:Dataset) ON (d.dataset_id)`,
	}

	for _, stmt := range statements {
		if err := l.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("%w: index creation: %v", ErrWriteFailed, err)
		}
	}

	logger.Info("Lookup indexes ensured")
	return nil
}

func (l *Loader) clearManaged(ctx context.Context) error {
	for _, label := range []string{"Model", "Dataset"} {
		query := fmt.Sprintf(`MATCH (n:%s) DETACH DELETE n`, label)
		if err := l.run(ctx, query, nil); err != nil {
			return fmt.Errorf("%w: clearing %s nodes: %v", ErrWriteFailed, label, err)
		}
	}
	logger.Info("Managed labels cleared")
	return nil
}

func (l *Loader) upsertModels(ctx context.Context, nodes []graph.Node) error {
	query := `
		UNWIND $rows AS row
		MERGE (m:Model {model_id: row.model_id})
		SET m.author = row.author,
		    m.downloads = row.downloads,
		    m.likes = row.likes,
		    m.tags = row.tags,
		    m.pipeline_tag = row.pipeline_tag,
		    m.library_name = row.library_name,
		    m.url = row.url,
		    m.updated_at = timestamp()
	`

	rows := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, map[string]interface{}{
			"model_id":     n.ID,
			"author":       n.Author,
			"downloads":    n.Downloads,
			"likes":        n.Likes,
			"tags":         n.Tags,
			"pipeline_tag": n.PipelineTag,
			"library_name": n.LibraryName,
			"url":          n.URL,
		})
	}

	return l.runBatched(ctx, "model nodes", query, rows)
}

func (l *Loader) upsertDatasets(ctx context.Context, nodes []graph.Node) error {
	query := `
		UNWIND $rows AS row
		MERGE (d:Dataset {dataset_id: row.dataset_id})
		SET d.author = row.author,
		    d.downloads = row.downloads,
		    d.likes = row.likes,
		    d.tags = row.tags,
		    d.url = row.url,
		    d.is_problematic = row.is_problematic,
		    d.updated_at = timestamp()
	`

	rows := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, map[string]interface{}{
			"dataset_id":     n.ID,
			"author":         n.Author,
			"downloads":      n.Downloads,
			"likes":          n.Likes,
			"tags":           n.Tags,
			"url":            n.URL,
			"is_problematic": n.Problematic,
		})
	}

	return l.runBatched(ctx, "dataset nodes", query, rows)
}

func (l *Loader) upsertEdges(ctx context.Context, relType lineage.RelationType, edges []graph.Edge) error {
	var query string
	switch relType {
	case lineage.RelTrainedOn:
		query = `
			UNWIND $rows AS row
			MATCH (m:Model {model_id: row.source})
			MATCH (d:Dataset {dataset_id: row.target})
			MERGE (m)-[r:TRAINED_ON]->(d)
			SET r.updated_at = timestamp()
		`
	case lineage.RelDerivedFrom:
		query = `
			UNWIND $rows AS row
			MATCH (child:Model {model_id: row.source})
			MATCH (parent:Model {model_id: row.target})
			MERGE (child)-[r:DERIVED_FROM]->(parent)
			SET r.method = row.method,
			    r.updated_at = timestamp()
		`
	default:
		return fmt.Errorf("%w: unknown relationship type %q", ErrWriteFailed, relType)
	}

	rows := make([]map[string]interface{}, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]interface{}{
			"source": e.Source,
			"target": e.Target,
			"method": e.Method,
		})
	}

	return l.runBatched(ctx, string(relType)+" edges", query, rows)
}

func (l *Loader) runBatched(ctx context.Context, what, query string, rows []map[string]interface{}) error {
	for start := 0; start < len(rows); start += l.batchSize {
		end := start + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		err := l.run(ctx, query, map[string]interface{}{"rows": rows[start:end]})
		if err != nil {
			metrics.LoadBatches.WithLabelValues("error").Inc()
			return fmt.Errorf("%w: %s batch %d-%d: %v", ErrWriteFailed, what, start, end, err)
		}

		metrics.LoadBatches.WithLabelValues("ok").Inc()
		logger.Debug("Batch written",
			zap.String("what", what),
			zap.Int("from", start),
			zap.Int("to", end),
		)
	}
	return nil
}

func (l *Loader) run(ctx context.Context, query string, params map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return l.cb.Execute(ctx, func() error {
		return retry.Do(ctx, l.retryCfg, func() error {
			return l.runner.Run(ctx, query, params)
		})
	})
}
