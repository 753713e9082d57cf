package graph

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/pkg/logger"
)

// ValidationError means the snapshot cannot produce a graph at all.
// It is fatal for the run; no partial graph is ever returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("snapshot validation failed: %s", e.Reason)
}

type nodeKey struct {
	kind lineage.Kind
	id   string
}

type edgeKey struct {
	source string
	typ    lineage.RelationType
	target string
}

// Build projects a snapshot into a validated graph. The transformation
// is deterministic: the same snapshot always yields the same node and
// edge ordering.
//
// Records are deduplicated by (kind, id) with last-write-wins; edges
// whose endpoints are missing from the deduplicated record set are
// dropped and counted; surviving edges are deduplicated by
// (source, type, target).
func Build(snap *lineage.Snapshot) (*Graph, error) {
	if snap == nil || len(snap.Records) == 0 {
		return nil, &ValidationError{Reason: "snapshot is empty"}
	}

	byKey := make(map[nodeKey]lineage.Record, len(snap.Records))
	var order []nodeKey
	for i, rec := range snap.Records {
		if rec.ID == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("record %d has no id", i)}
		}
		if rec.Kind != lineage.KindModel && rec.Kind != lineage.KindDataset {
			return nil, &ValidationError{Reason: fmt.Sprintf("record %q has unknown kind %q", rec.ID, rec.Kind)}
		}

		key := nodeKey{kind: rec.Kind, id: rec.ID}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = rec
	}

	nodes := make([]Node, 0, len(order))
	for _, key := range order {
		rec := byKey[key]
		nodes = append(nodes, Node{
			ID:          rec.ID,
			Kind:        rec.Kind,
			Author:      rec.Author,
			Downloads:   rec.Downloads,
			Likes:       rec.Likes,
			Tags:        rec.Tags,
			PipelineTag: rec.PipelineTag,
			LibraryName: rec.LibraryName,
			URL:         rec.URL,
			Problematic: rec.Problematic,
		})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Kind != nodes[j].Kind {
			return nodes[i].Kind < nodes[j].Kind
		}
		return nodes[i].ID < nodes[j].ID
	})

	var edges []Edge
	seen := make(map[edgeKey]bool)
	dangling := 0
	duplicates := 0
	for _, rel := range snap.Relationships {
		if _, ok := byKey[nodeKey{kind: rel.SourceKind, id: rel.Source}]; !ok {
			dangling++
			continue
		}
		if _, ok := byKey[nodeKey{kind: rel.TargetKind, id: rel.Target}]; !ok {
			dangling++
			continue
		}

		key := edgeKey{source: rel.Source, typ: rel.Type, target: rel.Target}
		if seen[key] {
			duplicates++
			continue
		}
		seen[key] = true

		edges = append(edges, Edge{
			Source: rel.Source,
			Target: rel.Target,
			Type:   rel.Type,
			Method: rel.Method,
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Type != edges[j].Type {
			return edges[i].Type < edges[j].Type
		}
		return edges[i].Target < edges[j].Target
	})

	logger.Info("Graph built",
		zap.String("snapshot_id", snap.ID),
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(edges)),
		zap.Int("dangling_dropped", dangling),
		zap.Int("duplicate_edges", duplicates),
	)

	return &Graph{
		SnapshotID:      snap.ID,
		Nodes:           nodes,
		Edges:           edges,
		DanglingDropped: dangling,
		DuplicateEdges:  duplicates,
	}, nil
}
