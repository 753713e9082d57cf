package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-lineage/pipeline/internal/lineage"
)

func snapshotOf(records []lineage.Record, rels []lineage.Relationship) *lineage.Snapshot {
	return &lineage.Snapshot{
		ID:            "20240101T000000Z",
		CapturedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Records:       records,
		Relationships: rels,
	}
}

func TestBuildDropsDanglingEdges(t *testing.T) {
	snap := snapshotOf(
		[]lineage.Record{
			{ID: "m1", Kind: lineage.KindModel, Tags: []string{"base:m0"}},
			{ID: "d1", Kind: lineage.KindDataset},
		},
		[]lineage.Relationship{
			{
				Source: "m1", SourceKind: lineage.KindModel,
				Target: "m0", TargetKind: lineage.KindModel,
				Type: lineage.RelDerivedFrom,
			},
		},
	)

	g, err := Build(snap)
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 2)
	assert.Empty(t, g.Edges)
	assert.Equal(t, 1, g.DanglingDropped)
}

func TestBuildNoDanglingEdgesSurvive(t *testing.T) {
	snap := snapshotOf(
		[]lineage.Record{
			{ID: "m1", Kind: lineage.KindModel},
			{ID: "m2", Kind: lineage.KindModel},
			{ID: "d1", Kind: lineage.KindDataset},
		},
		[]lineage.Relationship{
			{Source: "m1", SourceKind: lineage.KindModel, Target: "m2", TargetKind: lineage.KindModel, Type: lineage.RelDerivedFrom},
			{Source: "m1", SourceKind: lineage.KindModel, Target: "d1", TargetKind: lineage.KindDataset, Type: lineage.RelTrainedOn},
			{Source: "m1", SourceKind: lineage.KindModel, Target: "ghost", TargetKind: lineage.KindDataset, Type: lineage.RelTrainedOn},
			{Source: "ghost", SourceKind: lineage.KindModel, Target: "d1", TargetKind: lineage.KindDataset, Type: lineage.RelTrainedOn},
		},
	)

	g, err := Build(snap)
	require.NoError(t, err)

	nodeIDs := make(map[string]bool)
	for _, n := range g.Nodes {
		nodeIDs[n.ID] = true
	}
	for _, e := range g.Edges {
		assert.True(t, nodeIDs[e.Source], "edge source %s missing from node set", e.Source)
		assert.True(t, nodeIDs[e.Target], "edge target %s missing from node set", e.Target)
	}
	assert.Len(t, g.Edges, 2)
	assert.Equal(t, 2, g.DanglingDropped)
}

func TestBuildLastWriteWinsDedup(t *testing.T) {
	snap := snapshotOf(
		[]lineage.Record{
			{ID: "m1", Kind: lineage.KindModel, Downloads: 100},
			{ID: "m1", Kind: lineage.KindModel, Downloads: 250},
		},
		nil,
	)

	g, err := Build(snap)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "m1", g.Nodes[0].ID)
	assert.Equal(t, int64(250), g.Nodes[0].Downloads)
}

func TestBuildDeduplicatesEdges(t *testing.T) {
	rel := lineage.Relationship{
		Source: "m1", SourceKind: lineage.KindModel,
		Target: "d1", TargetKind: lineage.KindDataset,
		Type: lineage.RelTrainedOn,
	}
	snap := snapshotOf(
		[]lineage.Record{
			{ID: "m1", Kind: lineage.KindModel},
			{ID: "d1", Kind: lineage.KindDataset},
		},
		[]lineage.Relationship{rel, rel, rel},
	)

	g, err := Build(snap)
	require.NoError(t, err)

	assert.Len(t, g.Edges, 1)
	assert.Equal(t, 2, g.DuplicateEdges)
	assert.Zero(t, g.DanglingDropped)
}

func TestBuildDeterministic(t *testing.T) {
	snap := snapshotOf(
		[]lineage.Record{
			{ID: "z/model", Kind: lineage.KindModel, Tags: []string{"a"}},
			{ID: "a/model", Kind: lineage.KindModel},
			{ID: "m/corpus", Kind: lineage.KindDataset},
		},
		[]lineage.Relationship{
			{Source: "z/model", SourceKind: lineage.KindModel, Target: "m/corpus", TargetKind: lineage.KindDataset, Type: lineage.RelTrainedOn},
			{Source: "a/model", SourceKind: lineage.KindModel, Target: "m/corpus", TargetKind: lineage.KindDataset, Type: lineage.RelTrainedOn},
			{Source: "z/model", SourceKind: lineage.KindModel, Target: "a/model", TargetKind: lineage.KindModel, Type: lineage.RelDerivedFrom},
		},
	)

	first, err := Build(snap)
	require.NoError(t, err)
	second, err := Build(snap)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuildEmptySnapshot(t *testing.T) {
	_, err := Build(snapshotOf(nil, nil))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBuildNilSnapshot(t *testing.T) {
	_, err := Build(nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBuildRejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name    string
		records []lineage.Record
	}{
		{"missing id", []lineage.Record{{Kind: lineage.KindModel}}},
		{"unknown kind", []lineage.Record{{ID: "m1", Kind: "widget"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(snapshotOf(tt.records, nil))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestGraphProjections(t *testing.T) {
	snap := snapshotOf(
		[]lineage.Record{
			{ID: "m1", Kind: lineage.KindModel},
			{ID: "m2", Kind: lineage.KindModel},
			{ID: "d1", Kind: lineage.KindDataset, Problematic: true},
		},
		[]lineage.Relationship{
			{Source: "m1", SourceKind: lineage.KindModel, Target: "d1", TargetKind: lineage.KindDataset, Type: lineage.RelTrainedOn},
			{Source: "m2", SourceKind: lineage.KindModel, Target: "m1", TargetKind: lineage.KindModel, Type: lineage.RelDerivedFrom, Method: "finetune"},
		},
	)

	g, err := Build(snap)
	require.NoError(t, err)

	assert.Len(t, g.ModelNodes(), 2)
	require.Len(t, g.DatasetNodes(), 1)
	assert.True(t, g.DatasetNodes()[0].Problematic)
	assert.Len(t, g.EdgesOfType(lineage.RelTrainedOn), 1)
	require.Len(t, g.EdgesOfType(lineage.RelDerivedFrom), 1)
	assert.Equal(t, "finetune", g.EdgesOfType(lineage.RelDerivedFrom)[0].Method)
}
