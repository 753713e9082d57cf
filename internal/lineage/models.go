package lineage

import "time"

type Kind string

const (
	KindModel   Kind = "model"
	KindDataset Kind = "dataset"
)

type RelationType string

const (
	RelTrainedOn   RelationType = "TRAINED_ON"
	RelDerivedFrom RelationType = "DERIVED_FROM"
)

// Record is one fetched registry entity. Immutable once captured in a
// snapshot.
type Record struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Author      string   `json:"author,omitempty"`
	Downloads   int64    `json:"downloads"`
	Likes       int64    `json:"likes"`
	Tags        []string `json:"tags,omitempty"`
	PipelineTag string   `json:"pipeline_tag,omitempty"`
	LibraryName string   `json:"library_name,omitempty"`
	Private     bool     `json:"private"`
	URL         string   `json:"url"`
	SHA         string   `json:"sha,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	Problematic bool     `json:"problematic,omitempty"`
}

// Relationship is a directed typed edge between two record identifiers.
// Targets are not guaranteed to exist in the same capture; the graph
// builder drops the dangling ones.
type Relationship struct {
	Source     string       `json:"source"`
	SourceKind Kind         `json:"source_kind"`
	Target     string       `json:"target"`
	TargetKind Kind         `json:"target_kind"`
	Type       RelationType `json:"type"`
	// Method refines DERIVED_FROM edges: finetune, quantized, adapter, merged.
	Method string `json:"method,omitempty"`
}

// Snapshot is an immutable bundle of one full fetch pass.
type Snapshot struct {
	ID            string         `json:"id"`
	CapturedAt    time.Time      `json:"captured_at"`
	Records       []Record       `json:"records"`
	Relationships []Relationship `json:"relationships"`
}
