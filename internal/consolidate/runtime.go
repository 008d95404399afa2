// Package consolidate implements the five-phase dream-inspired
// consolidation pipeline: decay, association discovery, clustering,
// compression, and controlled forgetting.
package consolidate

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/coordinator"
	"github.com/fyrsmithlabs/memoryd/internal/embedding"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// Runtime bundles the dependencies every phase needs: the store handle,
// the embedding adapter (for re-embedding summaries), the write
// coordinator, and resolved configuration.
type Runtime struct {
	Store       *store.Store
	Embedding   *embedding.Adapter
	Coordinator *coordinator.Coordinator
	Config      *config.Config

	// Now is the wall clock consolidation measures ages against. It
	// defaults to time.Now but tests substitute a fixed instant to
	// simulate elapsed time deterministically (spec.md scenario 5).
	Now func() time.Time

	// DecayScores holds the most recent per-memory decay scores,
	// populated by DecayPhase and consumed by ForgetPhase, either later in
	// the same run or in a later run against this Runtime.
	DecayScores map[string]float64

	// LastClusters holds the cluster set ClusterPhase most recently
	// replaced, consumed by CompressPhase, either later in the same run or
	// in a later run against this Runtime.
	LastClusters []store.ClusterInput
}

func (rt *Runtime) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}

// PhaseStats reports what a phase did, surfaced through consolidate's
// per_phase_stats output.
type PhaseStats struct {
	Scanned int
	Created int
	Updated int
	Archived int
	Deleted int
	Skipped int
}

// Phase is one stage of the consolidation pipeline.
type Phase interface {
	Name() string
	Run(ctx context.Context, rt *Runtime) (PhaseStats, error)
}

// Phases returns the five phases in their required run order.
func Phases() []Phase {
	return []Phase{
		&DecayPhase{},
		&AssociationPhase{},
		&ClusterPhase{},
		&CompressPhase{},
		&ForgetPhase{},
	}
}
