package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/model-lineage/pipeline/internal/lineage"
	"github.com/model-lineage/pipeline/internal/metrics"
	"github.com/model-lineage/pipeline/internal/registry"
	"github.com/model-lineage/pipeline/pkg/logger"
)

// Registry is the slice of the registry client the scraper needs.
type Registry interface {
	ListModels(ctx context.Context) ([]string, error)
	ListDatasets(ctx context.Context) ([]string, error)
	GetModel(ctx context.Context, id string) (lineage.Record, error)
	GetDataset(ctx context.Context, id string) (lineage.Record, error)
	BaseModelFromCard(ctx context.Context, id string) string
}

// Cache is an optional read-through cache for detail fetches.
type Cache interface {
	GetRecord(ctx context.Context, kind lineage.Kind, id string) (lineage.Record, bool)
	SetRecord(ctx context.Context, rec lineage.Record)
}

type Stats struct {
	ModelsListed   int
	DatasetsListed int
	RecordsFetched int
	RecordsSkipped int
	Relationships  int
}

type Scraper struct {
	registry    Registry
	cache       Cache
	concurrency int
	maxRecords  int
}

func New(reg Registry, cache Cache, concurrency, maxRecords int) *Scraper {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scraper{
		registry:    reg,
		cache:       cache,
		concurrency: concurrency,
		maxRecords:  maxRecords,
	}
}

type job struct {
	kind lineage.Kind
	id   string
}

type result struct {
	record lineage.Record
	rels   []lineage.Relationship
	err    error
	id     string
}

// Run performs one full catalog pass: list both kinds, fetch details
// through a bounded worker pool, extract relationships inline. Listing
// failures are fatal; per-record failures are skipped and counted.
func (s *Scraper) Run(ctx context.Context) ([]lineage.Record, []lineage.Relationship, Stats, error) {
	var stats Stats

	modelIDs, err := s.registry.ListModels(ctx)
	if err != nil {
		return nil, nil, stats, fmt.Errorf("model listing failed: %w", err)
	}
	datasetIDs, err := s.registry.ListDatasets(ctx)
	if err != nil {
		return nil, nil, stats, fmt.Errorf("dataset listing failed: %w", err)
	}

	stats.ModelsListed = len(modelIDs)
	stats.DatasetsListed = len(datasetIDs)

	jobs := make([]job, 0, len(modelIDs)+len(datasetIDs))
	for _, id := range modelIDs {
		jobs = append(jobs, job{kind: lineage.KindModel, id: id})
	}
	for _, id := range datasetIDs {
		jobs = append(jobs, job{kind: lineage.KindDataset, id: id})
	}
	if s.maxRecords > 0 && len(jobs) > s.maxRecords {
		jobs = jobs[:s.maxRecords]
	}

	logger.Info("Starting catalog fetch",
		zap.Int("models", stats.ModelsListed),
		zap.Int("datasets", stats.DatasetsListed),
		zap.Int("jobs", len(jobs)),
		zap.Int("concurrency", s.concurrency),
	)

	jobCh := make(chan job)
	resultCh := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				resultCh <- s.fetchOne(ctx, j)
			}
		}()
	}

	go func() {
		defer close(jobCh)
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Single collector: workers never touch the accumulating slices.
	var records []lineage.Record
	var rels []lineage.Relationship
	for res := range resultCh {
		if res.err != nil {
			stats.RecordsSkipped++
			reason := "fetch_error"
			if errors.Is(res.err, registry.ErrNotFound) {
				reason = "not_found"
			} else if errors.Is(res.err, registry.ErrRateLimited) {
				reason = "rate_limited"
			}
			metrics.FetchErrors.WithLabelValues(reason).Inc()
			logger.Warn("Skipping record",
				zap.String("id", res.id),
				zap.String("reason", reason),
				zap.Error(res.err),
			)
			continue
		}

		stats.RecordsFetched++
		metrics.RecordsFetched.WithLabelValues(string(res.record.Kind)).Inc()
		records = append(records, res.record)
		rels = append(rels, res.rels...)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, stats, err
	}

	stats.Relationships = len(rels)
	for _, r := range rels {
		metrics.RelationshipsExtracted.WithLabelValues(string(r.Type)).Inc()
	}

	logger.Info("Catalog fetch complete",
		zap.Int("fetched", stats.RecordsFetched),
		zap.Int("skipped", stats.RecordsSkipped),
		zap.Int("relationships", stats.Relationships),
	)

	return records, rels, stats, nil
}

func (s *Scraper) fetchOne(ctx context.Context, j job) result {
	if s.cache != nil {
		if rec, ok := s.cache.GetRecord(ctx, j.kind, j.id); ok {
			return result{record: rec, rels: s.extract(ctx, rec), id: j.id}
		}
	}

	start := time.Now()
	var rec lineage.Record
	var err error
	if j.kind == lineage.KindModel {
		rec, err = s.registry.GetModel(ctx, j.id)
	} else {
		rec, err = s.registry.GetDataset(ctx, j.id)
	}
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return result{err: err, id: j.id}
	}

	if s.cache != nil {
		s.cache.SetRecord(ctx, rec)
	}

	return result{record: rec, rels: s.extract(ctx, rec), id: j.id}
}

func (s *Scraper) extract(ctx context.Context, rec lineage.Record) []lineage.Relationship {
	rels := lineage.Extract(rec)

	// Tag-less models sometimes still declare a base model on their hub
	// page; fall back to the card scrape before giving up on lineage.
	if rec.Kind == lineage.KindModel && !hasDerivation(rels) {
		if base := s.registry.BaseModelFromCard(ctx, rec.ID); base != "" && base != rec.ID {
			rels = append(rels, lineage.Relationship{
				Source:     rec.ID,
				SourceKind: lineage.KindModel,
				Target:     base,
				TargetKind: lineage.KindModel,
				Type:       lineage.RelDerivedFrom,
				Method:     lineage.DerivationMethod(rec.ID, base),
			})
		}
	}

	return rels
}

func hasDerivation(rels []lineage.Relationship) bool {
	for _, r := range rels {
		if r.Type == lineage.RelDerivedFrom {
			return true
		}
	}
	return false
}
