// Package schedule drives consolidation phases off cron-style cadences.
// robfig/cron/v3 supplies cadence parsing and next-fire-time computation;
// coalescing a missed cadence into a single run and the cross-process run
// lock are this package's own logic, layered on top of cron.Schedule
// rather than cron.Cron's background runner, so a single tick can run
// several lapsed phases in the pipeline's required order.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fyrsmithlabs/memoryd/internal/consolidate"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// entry binds a consolidation phase name to its parsed cadence.
type entry struct {
	phase    string
	schedule cron.Schedule
}

// Dispatcher ticks at a fixed resolution, compares each phase's configured
// cadence against the phase's last recorded completion time, and runs
// consolidate.Run for every phase whose cadence has lapsed since that
// phase's last run, coalescing any ticks missed while the process was down
// into a single run per phase rather than one run per missed cadence.
type Dispatcher struct {
	rt      *consolidate.Runtime
	metrics *metrics.Metrics
	entries []entry

	// Now is the wall clock cadence checks run against. Defaults to
	// time.Now; tests substitute a fixed or stepped clock.
	Now func() time.Time

	mu        sync.Mutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	tickEvery time.Duration
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// New builds a Dispatcher from the runtime's own configuration. Unparseable
// cadence expressions are reported immediately rather than deferred to the
// first tick.
func New(rt *consolidate.Runtime, m *metrics.Metrics) (*Dispatcher, error) {
	cfg := rt.Config.Schedule
	pairs := []struct {
		phase string
		expr  string
	}{
		{"decay", cfg.Decay},
		{"association", cfg.Association},
		{"cluster", cfg.Cluster},
		{"compress", cfg.Compression},
		{"forget", cfg.Forgetting},
	}

	entries := make([]entry, 0, len(pairs))
	for _, p := range pairs {
		sched, err := parser.Parse(p.expr)
		if err != nil {
			return nil, merr.Wrap(merr.KindInvalidInput, "invalid schedule for phase "+p.phase, err).WithContext("expression", p.expr)
		}
		entries = append(entries, entry{phase: p.phase, schedule: sched})
	}

	return &Dispatcher{
		rt:        rt,
		metrics:   m,
		entries:   entries,
		tickEvery: time.Minute,
	}, nil
}

// Start launches the tick loop in a background goroutine. Stop must be
// called to release it.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop signals the tick loop to exit and waits for it to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	d.mu.Unlock()
	d.wg.Wait()
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick checks every phase's cadence against its last completion time and
// runs each lapsed phase exactly once, in pipeline order (decay,
// association, cluster, compress, forget), however many of its cadences
// were missed. Each lapsed phase is its own single-phase run under the run
// lock. Phases whose cadence has not lapsed are skipped.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()
	for _, e := range d.entries {
		last, err := d.rt.Store.LastRunTime(ctx, e.phase)
		if err != nil {
			logging.ScheduleDebug("failed to read last run time for %s: %v", e.phase, err)
			continue
		}
		if !last.IsZero() && e.schedule.Next(last).After(now) {
			continue
		}
		d.runLocked(ctx, e.phase, now)
	}
}

// lapsedPhase returns the name of the earliest-due phase whose cadence has
// lapsed since its last recorded run, or "" if none have.
func (d *Dispatcher) lapsedPhase(ctx context.Context, now time.Time) string {
	var due string
	var earliestNext time.Time

	for _, e := range d.entries {
		last, err := d.rt.Store.LastRunTime(ctx, e.phase)
		if err != nil {
			logging.ScheduleDebug("failed to read last run time for %s: %v", e.phase, err)
			continue
		}
		from := last
		if from.IsZero() {
			// Never run: treat as due immediately rather than waiting for
			// the first future cadence boundary after epoch.
			due = e.phase
			return due
		}
		next := e.schedule.Next(from)
		if next.After(now) {
			continue
		}
		if due == "" || next.Before(earliestNext) {
			due = e.phase
			earliestNext = next
		}
	}
	return due
}

// runLocked acquires the cross-process run lock, runs only the named
// phase, records success or failure, and releases the lock. If the lock is
// already held (by another process, or left behind by one that crashed),
// the phase is skipped for this tick.
func (d *Dispatcher) runLocked(ctx context.Context, phase string, now time.Time) {
	runID := phase + "-" + now.UTC().Format(time.RFC3339Nano)
	if err := d.rt.Store.AcquireRunLock(ctx, runID); err != nil {
		if merr.KindOf(err) == merr.KindAlreadyRunning {
			logging.ScheduleDebug("skipping %s tick: consolidation already running", phase)
			return
		}
		logging.Schedule("failed to acquire run lock for %s: %v", phase, err)
		return
	}
	defer func() {
		if err := d.rt.Store.ReleaseRunLock(ctx); err != nil {
			logging.Schedule("failed to release run lock: %v", err)
		}
	}()

	start := time.Now()
	stats, err := consolidate.Run(ctx, d.rt, phase)
	elapsed := time.Since(start)

	if d.metrics != nil {
		d.metrics.ObservePhaseDuration(phase, elapsed)
	}

	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordPhaseFailure(phase)
		}
		if recErr := d.rt.Store.RecordPhaseFailure(ctx, phase, err.Error()); recErr != nil {
			logging.Schedule("failed to record phase failure for %s: %v", phase, recErr)
		}
		logging.Schedule("consolidation run starting at phase %s failed after %v: %v", phase, elapsed, err)
		return
	}

	for name, stat := range stats {
		if recErr := d.rt.Store.SetLastRunTime(ctx, name, now); recErr != nil {
			logging.Schedule("failed to record last run time for %s: %v", name, recErr)
		}
		logging.ScheduleDebug("phase %s: scanned=%d created=%d archived=%d deleted=%d", name, stat.Scanned, stat.Created, stat.Archived, stat.Deleted)
	}
	logging.Schedule("consolidation run starting at phase %s completed in %v", phase, elapsed)
}

// RunNow forces an immediate run of only the given phase (or the full
// pipeline if phase is empty), bypassing the cadence check. Used by the
// manual consolidate operation.
func RunNow(ctx context.Context, rt *consolidate.Runtime, m *metrics.Metrics, phase string) (map[string]consolidate.PhaseStats, error) {
	runID := "manual-" + time.Now().UTC().Format(time.RFC3339Nano)
	if err := rt.Store.AcquireRunLock(ctx, runID); err != nil {
		return nil, err
	}
	defer rt.Store.ReleaseRunLock(ctx)

	start := time.Now()
	stats, err := consolidate.Run(ctx, rt, phase)
	elapsed := time.Since(start)

	if m != nil {
		for name := range stats {
			m.ObservePhaseDuration(name, elapsed)
		}
	}

	if err != nil {
		if m != nil {
			m.RecordPhaseFailure(phase)
		}
		rt.Store.RecordPhaseFailure(ctx, phase, err.Error())
		return stats, err
	}

	now := time.Now()
	for name := range stats {
		rt.Store.SetLastRunTime(ctx, name, now)
	}
	return stats, nil
}
