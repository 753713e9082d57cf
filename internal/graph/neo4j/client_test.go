package neo4j

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-lineage/pipeline/internal/graph"
	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/pkg/circuitbreaker"
	"github.com/model-lineage/pipeline/pkg/retry"
)

type recordingRunner struct {
	queries []string
	failOn  string
	err     error
}

func (r *recordingRunner) Run(ctx context.Context, query string, params map[string]interface{}) error {
	r.queries = append(r.queries, query)
	if r.failOn != "" && strings.Contains(query, r.failOn) {
		return r.err
	}
	return nil
}

func newTestLoader(runner statementRunner, batchSize int) *Loader {
	return &Loader{
		runner:    runner,
		batchSize: batchSize,
		cb:        circuitbreaker.New("neo4j-test", circuitbreaker.Config{}),
		retryCfg:  retry.Config{MaxAttempts: 1},
	}
}

func testGraph() *graph.Graph {
	return &graph.Graph{
		SnapshotID: "20240101T120000Z",
		Nodes: []graph.Node{
			{ID: "org/corpus", Kind: lineage.KindDataset},
			{ID: "org/base", Kind: lineage.KindModel},
			{ID: "org/child", Kind: lineage.KindModel},
		},
		Edges: []graph.Edge{
			{Source: "org/child", Target: "org/corpus", Type: lineage.RelTrainedOn},
			{Source: "org/child", Target: "org/base", Type: lineage.RelDerivedFrom, Method: "finetune"},
		},
	}
}

func TestParseLoadMode(t *testing.T) {
	mode, err := ParseLoadMode("replace")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, mode)

	mode, err = ParseLoadMode("merge")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, mode)

	_, err = ParseLoadMode("upsert")
	assert.Error(t, err)
}

func TestNewLoaderUnreachable(t *testing.T) {
	_, err := NewLoader("bolt://127.0.0.1:1", "neo4j", "password", "neo4j", 500)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestLoadMergeModeNeverDeletes(t *testing.T) {
	runner := &recordingRunner{}
	loader := newTestLoader(runner, 100)

	require.NoError(t, loader.Load(context.Background(), testGraph(), ModeMerge))

	require.NotEmpty(t, runner.queries)
	for _, q := range runner.queries {
		assert.NotContains(t, q, "DELETE")
	}
}

func TestLoadReplaceModeClearsBeforeWrites(t *testing.T) {
	runner := &recordingRunner{}
	loader := newTestLoader(runner, 100)

	require.NoError(t, loader.Load(context.Background(), testGraph(), ModeReplace))

	var lastDelete, firstMerge = -1, -1
	for i, q := range runner.queries {
		if strings.Contains(q, "DETACH DELETE") {
			lastDelete = i
		}
		if firstMerge == -1 && strings.Contains(q, "MERGE") {
			firstMerge = i
		}
	}

	require.GreaterOrEqual(t, lastDelete, 0)
	require.GreaterOrEqual(t, firstMerge, 0)
	assert.Less(t, lastDelete, firstMerge)

	cleared := strings.Join(runner.queries[:lastDelete+1], "\n")
	assert.Contains(t, cleared, "n:Model")
	assert.Contains(t, cleared, "n:Dataset")
}

func TestLoadUpsertsNodesBeforeEdges(t *testing.T) {
	runner := &recordingRunner{}
	loader := newTestLoader(runner, 100)

	require.NoError(t, loader.Load(context.Background(), testGraph(), ModeMerge))

	joined := strings.Join(runner.queries, "\n")
	assert.Less(t, strings.Index(joined, "MERGE (m:Model"), strings.Index(joined, "TRAINED_ON"))
	assert.Less(t, strings.Index(joined, "MERGE (d:Dataset"), strings.Index(joined, "DERIVED_FROM"))
}

func TestLoadBatchesBySize(t *testing.T) {
	g := &graph.Graph{SnapshotID: "20240101T120000Z"}
	for _, id := range []string{"a/m", "b/m", "c/m", "d/m", "e/m"} {
		g.Nodes = append(g.Nodes, graph.Node{ID: id, Kind: lineage.KindModel})
	}

	runner := &recordingRunner{}
	loader := newTestLoader(runner, 2)

	require.NoError(t, loader.Load(context.Background(), g, ModeMerge))

	// 5 model rows at batch size 2 is 3 statements.
	assert.Len(t, runner.queries, 3)
}

func TestLoadFailedBatchAborts(t *testing.T) {
	runner := &recordingRunner{failOn: "TRAINED_ON", err: assert.AnError}
	loader := newTestLoader(runner, 100)

	err := loader.Load(context.Background(), testGraph(), ModeMerge)
	require.ErrorIs(t, err, ErrWriteFailed)

	// The DERIVED_FROM batch after the failed one is never attempted.
	for _, q := range runner.queries {
		assert.NotContains(t, q, "DERIVED_FROM")
	}
}

func TestEnsureIndexesIdempotentStatements(t *testing.T) {
	runner := &recordingRunner{}
	loader := newTestLoader(runner, 100)

	require.NoError(t, loader.EnsureIndexes(context.Background()))

	require.Len(t, runner.queries, 2)
	for _, q := range runner.queries {
		assert.Contains(t, q, "IF NOT EXISTS")
	}
}
