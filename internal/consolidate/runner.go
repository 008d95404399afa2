package consolidate

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
)

// Run executes the consolidation pipeline. When only is empty, every phase
// runs in the required order: decay, association, cluster, compress,
// forget. When only names a single phase, exactly that phase runs and
// nothing else — a daily decay tick must never cascade into the monthly
// cluster/compress/forget phases. Phases that depend on another phase's
// transient state (ForgetPhase on DecayPhase's scores, CompressPhase on
// ClusterPhase's cluster set) read whatever that state holds from the
// most recent run of the producing phase, which may have happened on an
// earlier tick against the same Runtime.
func Run(ctx context.Context, rt *Runtime, only string) (map[string]PhaseStats, error) {
	phases := Phases()
	if only != "" {
		idx := indexOfPhase(phases, only)
		if idx < 0 {
			return nil, merr.New(merr.KindInvalidInput, "unknown consolidation phase").WithContext("phase", only)
		}
		phases = phases[idx : idx+1]
	}

	results := make(map[string]PhaseStats)
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return results, merr.Wrap(merr.KindTimeout, "consolidation cancelled", err)
		}
		start := time.Now()
		stats, err := phase.Run(ctx, rt)
		elapsed := time.Since(start)
		if err != nil {
			logging.ConsolidateDebug("phase %s failed after %v: %v", phase.Name(), elapsed, err)
			return results, merr.Wrap(merr.KindPhaseFailed, "phase "+phase.Name()+" failed", err).WithContext("phase", phase.Name())
		}
		results[phase.Name()] = stats
		logging.Consolidate("phase %s completed in %v: scanned=%d created=%d archived=%d deleted=%d",
			phase.Name(), elapsed, stats.Scanned, stats.Created, stats.Archived, stats.Deleted)
	}
	return results, nil
}

func indexOfPhase(phases []Phase, name string) int {
	for i, p := range phases {
		if p.Name() == name {
			return i
		}
	}
	return -1
}
