// Package facade exposes the service's operation surface: one method per
// operation in the store/retrieve/consolidate API, each a thin wrapper
// that times the call, records it in metrics, and routes writes through
// the concurrency coordinator. Nothing downstream of this package knows
// about transport; callers invoke Go methods directly.
package facade

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/consolidate"
	"github.com/fyrsmithlabs/memoryd/internal/coordinator"
	"github.com/fyrsmithlabs/memoryd/internal/embedding"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/schedule"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Facade is the single entry point embedders and transports build on.
type Facade struct {
	store       *store.Store
	embedding   *embedding.Adapter
	coordinator *coordinator.Coordinator
	metrics     *metrics.Metrics
	dispatcher  *schedule.Dispatcher
	runtime     *consolidate.Runtime
}

// New wires a Facade over an already-open store, embedding adapter,
// coordinator, metrics sink, and consolidation runtime/dispatcher.
func New(s *store.Store, emb *embedding.Adapter, c *coordinator.Coordinator, m *metrics.Metrics, rt *consolidate.Runtime, d *schedule.Dispatcher) *Facade {
	return &Facade{
		store:       s,
		embedding:   emb,
		coordinator: c,
		metrics:     m,
		dispatcher:  d,
		runtime:     rt,
	}
}

// StartScheduler launches the background cadence dispatcher, if one was
// wired in. Safe to call even when no dispatcher is configured (manual
// consolidate-only deployments).
func (f *Facade) StartScheduler(ctx context.Context) {
	if f.dispatcher != nil {
		f.dispatcher.Start(ctx)
	}
}

// StopScheduler halts the background cadence dispatcher and waits for its
// current tick, if any, to finish.
func (f *Facade) StopScheduler() {
	if f.dispatcher != nil {
		f.dispatcher.Stop()
	}
}

func (f *Facade) record(operation string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if f.metrics != nil {
		f.metrics.RecordOperation(operation, outcome)
	}
	logging.FacadeDebug("%s completed in %v (outcome=%s)", operation, time.Since(start), outcome)
}

// Store inserts new content, or reports a duplicate without writing.
func (f *Facade) Store(ctx context.Context, content string, tags []string, memoryType string, metadata map[string]any) (*store.StoreResult, error) {
	start := time.Now()
	var result *store.StoreResult
	err := f.coordinator.WithWrite(ctx, func(ctx context.Context) error {
		var werr error
		result, werr = f.store.StoreMemory(ctx, content, tags, memoryType, metadata, f.embedding.Embed)
		return werr
	})
	f.record("store", err, start)
	return result, err
}

// Retrieve ranks live memories by semantic similarity to query_text.
func (f *Facade) Retrieve(ctx context.Context, queryText string, n int) ([]store.RetrieveResult, error) {
	start := time.Now()
	results, err := f.store.Retrieve(ctx, queryText, n, f.embedding.Embed)
	if f.metrics != nil {
		f.metrics.ObserveRetrieveLatency(time.Since(start))
	}
	f.record("retrieve", err, start)
	return results, err
}

// SearchByTag filters memories by exact tag-set membership. Archived
// memories are included.
func (f *Facade) SearchByTag(ctx context.Context, tags []string, mode store.TagMode) ([]store.Memory, error) {
	start := time.Now()
	results, err := f.store.SearchByTag(ctx, tags, mode)
	f.record("search_by_tag", err, start)
	return results, err
}

// RecallByTime parses a natural-language range expression and returns
// memories created within it, newest first.
func (f *Facade) RecallByTime(ctx context.Context, rangeExpr string, n int) ([]store.Memory, error) {
	start := time.Now()
	results, err := f.store.RecallByTime(ctx, rangeExpr, n)
	f.record("recall_by_time", err, start)
	return results, err
}

// Delete removes one memory and every artifact row referencing it.
func (f *Facade) Delete(ctx context.Context, contentHash string) (*store.DeleteResult, error) {
	start := time.Now()
	var result *store.DeleteResult
	err := f.coordinator.WithWrite(ctx, func(ctx context.Context) error {
		var werr error
		result, werr = f.store.Delete(ctx, contentHash)
		return werr
	})
	f.record("delete", err, start)
	return result, err
}

// DeleteByTag removes every memory matching the tag filter and returns
// the count deleted.
func (f *Facade) DeleteByTag(ctx context.Context, tags []string, mode store.TagMode) (int, error) {
	start := time.Now()
	var count int
	err := f.coordinator.WithWrite(ctx, func(ctx context.Context) error {
		var werr error
		count, werr = f.store.DeleteByTag(ctx, tags, mode)
		return werr
	})
	f.record("delete_by_tag", err, start)
	return count, err
}

// UpdateMetadata merges patch into a memory's stored metadata.
func (f *Facade) UpdateMetadata(ctx context.Context, contentHash string, patch map[string]any) error {
	start := time.Now()
	err := f.coordinator.WithWrite(ctx, func(ctx context.Context) error {
		return f.store.UpdateMetadata(ctx, contentHash, patch)
	})
	f.record("update_metadata", err, start)
	return err
}

// ReplaceTags wholesale-replaces a memory's tag set, as update_metadata
// permits per the operation's documented contract.
func (f *Facade) ReplaceTags(ctx context.Context, contentHash string, tags []string) error {
	start := time.Now()
	err := f.coordinator.WithWrite(ctx, func(ctx context.Context) error {
		return f.store.ReplaceTags(ctx, contentHash, tags)
	})
	f.record("update_metadata", err, start)
	return err
}

// Health reports liveness and basic store statistics.
func (f *Facade) Health(ctx context.Context) (*store.Health, error) {
	start := time.Now()
	h, err := f.store.Health(ctx)
	f.record("health", err, start)
	if err != nil || h == nil {
		return h, err
	}
	return h, nil
}

// Stats reports detailed per-category counts, including cache hit rate
// from the embedding layer, which only the facade has a handle on
// alongside the store.
func (f *Facade) Stats(ctx context.Context) (*store.Stats, float64, error) {
	start := time.Now()
	s, err := f.store.Stats(ctx)
	f.record("stats", err, start)
	hitRate := 0.0
	if f.metrics != nil {
		hitRate = f.metrics.CacheHitRate()
	}
	return s, hitRate, err
}

// Optimize runs database-level vacuum/analyze and rebuilds the ANN index.
func (f *Facade) Optimize(ctx context.Context) (*store.OptimizeResult, error) {
	start := time.Now()
	var result *store.OptimizeResult
	err := f.coordinator.WithWrite(ctx, func(ctx context.Context) error {
		var werr error
		result, werr = f.store.Optimize(ctx)
		return werr
	})
	f.record("optimize", err, start)
	return result, err
}

// Consolidate runs only the named consolidation phase (or the full
// pipeline if phase is empty), bypassing the scheduler's cadence check.
// Mutually exclusive with a scheduled tick via the run lock.
func (f *Facade) Consolidate(ctx context.Context, phase string) (map[string]consolidate.PhaseStats, error) {
	start := time.Now()
	stats, err := schedule.RunNow(ctx, f.runtime, f.metrics, phase)
	f.record("consolidate", err, start)
	return stats, err
}
