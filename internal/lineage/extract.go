package lineage

import "strings"

const (
	datasetTagPrefix   = "dataset:"
	baseModelTagPrefix = "base_model:"
)

var derivationMethods = []struct {
	method   string
	patterns []string
}{
	{"quantized", []string{"4bit", "8bit", "gptq", "awq", "int4", "int8", "gguf"}},
	{"adapter", []string{"lora", "adapter", "peft"}},
	{"merged", []string{"merge", "slerp", "ties"}},
}

// Extract derives typed relationships from a record's metadata tags.
// It is pure: no lookups, no errors, an empty slice when nothing matches.
// Targets naming records outside the current fetch are emitted as-is.
func Extract(rec Record) []Relationship {
	if rec.Kind != KindModel {
		return nil
	}

	var rels []Relationship
	for _, tag := range rec.Tags {
		switch {
		case strings.HasPrefix(tag, datasetTagPrefix):
			target := strings.TrimSpace(strings.TrimPrefix(tag, datasetTagPrefix))
			if target == "" {
				continue
			}
			rels = append(rels, Relationship{
				Source:     rec.ID,
				SourceKind: KindModel,
				Target:     target,
				TargetKind: KindDataset,
				Type:       RelTrainedOn,
			})
		case strings.HasPrefix(tag, baseModelTagPrefix):
			base := strings.TrimSpace(strings.TrimPrefix(tag, baseModelTagPrefix))
			// Some registries tag base_model:finetune:<id> and similar.
			if idx := strings.LastIndex(base, ":"); idx >= 0 {
				base = base[idx+1:]
			}
			if base == "" || base == rec.ID {
				continue
			}
			rels = append(rels, Relationship{
				Source:     rec.ID,
				SourceKind: KindModel,
				Target:     base,
				TargetKind: KindModel,
				Type:       RelDerivedFrom,
				Method:     DerivationMethod(rec.ID, base),
			})
		}
	}
	return rels
}

// DerivationMethod infers how a model was derived from its base by
// inspecting the name delta, defaulting to finetune.
func DerivationMethod(modelID, baseID string) string {
	if modelID == "" || baseID == "" || modelID == baseID {
		return ""
	}

	name := strings.ToLower(modelID)
	for _, dm := range derivationMethods {
		for _, p := range dm.patterns {
			if strings.Contains(name, p) && !strings.Contains(strings.ToLower(baseID), p) {
				return dm.method
			}
		}
	}
	return "finetune"
}
