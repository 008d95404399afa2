package consolidate

import (
	"context"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/vector"
)

// AssociationPhase discovers "creative" links between memories: pairs
// whose cosine similarity falls in a band that is high enough to be
// non-random but low enough to be a novel connection rather than a
// near-duplicate. Adapted from the pairwise semantic-edge discovery in
// the echodream consolidation algorithms, bounded to spec's exact
// 0.30-0.70 band and a per-run pair cap instead of unbounded hypergraph
// edge construction.
type AssociationPhase struct{}

func (p *AssociationPhase) Name() string { return "association" }

func (p *AssociationPhase) Run(ctx context.Context, rt *Runtime) (PhaseStats, error) {
	stats := PhaseStats{}
	low := rt.Config.Association.Low
	high := rt.Config.Association.High
	maxPairs := rt.Config.Association.MaxPairsPerRun

	var pool []store.Memory
	err := rt.Store.ListLive(ctx, 500, func(m store.Memory) error {
		stats.Scanned++
		pool = append(pool, m)
		return nil
	})
	if err != nil {
		return stats, err
	}

	for i := 0; i < len(pool) && stats.Created < maxPairs; i++ {
		for j := i + 1; j < len(pool) && stats.Created < maxPairs; j++ {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			sim := vector.Cosine(pool[i].Embedding, pool[j].Embedding)
			if sim < low || sim > high {
				continue
			}
			if err := rt.Coordinator.WithWrite(ctx, func(ctx context.Context) error {
				return rt.Store.UpsertAssociation(ctx, pool[i].ContentHash, pool[j].ContentHash, sim)
			}); err != nil {
				return stats, err
			}
			stats.Created++
		}
	}

	logging.ConsolidateDebug("association: scanned %d, discovered %d pairs in band [%.2f,%.2f]",
		stats.Scanned, stats.Created, low, high)
	return stats, nil
}
