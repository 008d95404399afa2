package consolidate

import (
	"context"
	"math"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// DecayPhase computes an exponential decay score per live memory, keyed
// by content hash. Scores are transient: recomputed every run rather than
// stored, and consumed by ForgetPhase, later in the same run or in a later
// run against the same Runtime.
type DecayPhase struct{}

func (p *DecayPhase) Name() string { return "decay" }

// Run walks every live memory and scores it exp(-age_days / retention),
// exempting pinned memories (score forced to 1.0). Results are stashed on
// rt.DecayScores for ForgetPhase to consume without recomputing.
func (p *DecayPhase) Run(ctx context.Context, rt *Runtime) (PhaseStats, error) {
	scores := make(map[string]float64)
	now := rt.now()
	stats := PhaseStats{}

	err := rt.Store.ListLive(ctx, 500, func(m store.Memory) error {
		stats.Scanned++
		pinned, _ := m.Metadata["pinned"].(bool)
		if pinned {
			scores[m.ContentHash] = 1.0
			return nil
		}
		ageDays := now.Sub(time.Unix(0, int64(m.CreatedAt*1e9))).Hours() / 24
		retention := float64(rt.Config.RetentionFor(m.MemoryType))
		if retention <= 0 {
			retention = 30
		}
		scores[m.ContentHash] = math.Exp(-ageDays / retention)
		return nil
	})
	if err != nil {
		return stats, err
	}

	rt.DecayScores = scores
	logging.ConsolidateDebug("decay: scored %d live memories", len(scores))
	return stats, nil
}
