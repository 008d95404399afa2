// Package coordinator serializes writes within a process and retries
// cross-process SQLITE_BUSY/SQLITE_LOCKED contention with backoff.
package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
)

// Coordinator owns the process-local write mutex. Reads pass through
// uncoordinated; WAL allows concurrent readers during a writer.
type Coordinator struct {
	writeMu sync.Mutex
}

// New returns a ready Coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// WithWrite serializes fn against every other writer in this process, then
// retries fn on SQLITE_BUSY/SQLITE_LOCKED with exponential backoff (base
// 20ms, cap 2s, jitter, ~30s budget) before surfacing Contention.
func (c *Coordinator) WithWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	timer := logging.StartTimer(logging.CategoryCoordinator, "WithWrite")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.5

	operation := func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if isRetryable(err) {
			logging.CoordinatorDebug("retryable contention: %v", err)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		if isRetryable(err) {
			return merr.Wrap(merr.KindContention, "write contention exhausted retries", err)
		}
		return err
	}
	return nil
}

// isRetryable reports whether err looks like a transient SQLite lock error.
// The sqlite3 driver surfaces these as plain error strings (mattn/go-sqlite3
// does not export typed sentinel errors for every build tag combination),
// so matching on message text is the portable check the teacher's own
// error paths also rely on.
func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "sqlite_locked")
}
