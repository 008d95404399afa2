package store

import (
	"context"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/merr"
)

// AcquireRunLock sets the cross-process consolidation run lock, failing
// with AlreadyRunning if one is already held.
func (s *Store) AcquireRunLock(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, held, err := getMeta(s.db, metaRunLock)
	if err != nil {
		return err
	}
	if held {
		return merr.New(merr.KindAlreadyRunning, "consolidation already running")
	}
	return setMeta(s.db, metaRunLock, runID)
}

// ReleaseRunLock clears the run lock unconditionally; called whether the
// run succeeded or failed.
func (s *Store) ReleaseRunLock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteMeta(s.db, metaRunLock)
}

// RecordPhaseFailure persists the last consolidation failure for operator
// visibility; the next scheduled tick retries independently.
func (s *Store) RecordPhaseFailure(ctx context.Context, phase string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setMeta(s.db, metaLastFailure, phase+": "+errMsg)
}

// LastRunTime returns the last recorded completion time for a phase, or
// the zero time if it has never run.
func (s *Store) LastRunTime(ctx context.Context, phase string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok, err := getMeta(s.db, metaLastRunPrefix+phase)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(sec, 0), nil
}

// SetLastRunTime records when a phase last completed successfully.
func (s *Store) SetLastRunTime(ctx context.Context, phase string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setMeta(s.db, metaLastRunPrefix+phase, strconv.FormatInt(at.Unix(), 10))
}
