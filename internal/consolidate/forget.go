package consolidate

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// ForgetPhase archives memories that are both old and low-relevance, then
// hard-deletes memories that have sat archived past the grace window.
// Pinned memories and memories referenced by any surviving summary's
// source_hashes are exempt from archival.
type ForgetPhase struct{}

func (p *ForgetPhase) Name() string { return "forget" }

func (p *ForgetPhase) Run(ctx context.Context, rt *Runtime) (PhaseStats, error) {
	stats := PhaseStats{}
	now := rt.now()
	cfg := rt.Config.Forgetting

	exempt, err := summaryExemptHashes(ctx, rt.Store)
	if err != nil {
		return stats, err
	}

	var toArchive []string
	err = rt.Store.ListLive(ctx, 500, func(m store.Memory) error {
		stats.Scanned++
		if m.HasTag(store.TagArchived) {
			return nil
		}
		if exempt[m.ContentHash] {
			return nil
		}
		pinned, _ := m.Metadata["pinned"].(bool)
		if pinned {
			return nil
		}
		ageDays := now.Sub(time.Unix(0, int64(m.CreatedAt*1e9))).Hours() / 24
		if ageDays < float64(cfg.AccessThresholdDays) {
			return nil
		}
		score, ok := rt.DecayScores[m.ContentHash]
		if !ok {
			return nil
		}
		if score < cfg.RelevanceThreshold {
			toArchive = append(toArchive, m.ContentHash)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, hash := range toArchive {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		err := rt.Coordinator.WithWrite(ctx, func(ctx context.Context) error {
			return rt.Store.ArchiveByHash(ctx, hash)
		})
		if err != nil {
			if merr.KindOf(err) == merr.KindNotFound {
				continue
			}
			return stats, err
		}
		stats.Archived++
	}

	graceCutoff := now.Add(-time.Duration(cfg.GraceDays) * 24 * time.Hour)
	var purged int
	err = rt.Coordinator.WithWrite(ctx, func(ctx context.Context) error {
		var werr error
		purged, werr = rt.Store.PurgeArchivedBefore(ctx, graceCutoff)
		return werr
	})
	if err != nil {
		return stats, err
	}
	stats.Deleted = purged

	logging.ConsolidateDebug("forget: archived %d, purged %d (threshold=%.2f, access_days=%d, grace_days=%d)",
		stats.Archived, stats.Deleted, cfg.RelevanceThreshold, cfg.AccessThresholdDays, cfg.GraceDays)
	return stats, nil
}

// summaryExemptHashes collects every content hash referenced by a live
// summary's metadata.source_hashes, which ForgetPhase must never archive.
func summaryExemptHashes(ctx context.Context, s *store.Store) (map[string]bool, error) {
	exempt := make(map[string]bool)
	err := s.ListLive(ctx, 500, func(m store.Memory) error {
		if m.MemoryType != store.MemoryTypeSummary {
			return nil
		}
		raw, ok := m.Metadata["source_hashes"]
		if !ok {
			return nil
		}
		list, ok := raw.([]any)
		if !ok {
			return nil
		}
		for _, v := range list {
			if h, ok := v.(string); ok {
				exempt[h] = true
			}
		}
		return nil
	})
	return exempt, err
}
