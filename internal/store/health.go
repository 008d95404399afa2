package store

import (
	"context"
	"os"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/merr"
)

// Health is the result of Store.Health.
type Health struct {
	Status         string
	TotalMemories  int
	DBSizeBytes    int64
	UniqueTags     int
	Dimension      int
	Model          string
	SchemaVersion  int
	UptimeSeconds  float64
}

// Health reports store-level status, counts, and sizing.
func (s *Store) Health(ctx context.Context) (*Health, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&total); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "count memories", err)
	}

	tags, err := s.uniqueTagCount(ctx)
	if err != nil {
		return nil, err
	}

	var sizeBytes int64
	if info, err := os.Stat(s.path); err == nil {
		sizeBytes = info.Size()
	}

	return &Health{
		Status:        "ok",
		TotalMemories: total,
		DBSizeBytes:   sizeBytes,
		UniqueTags:    tags,
		Dimension:     s.dimension,
		Model:         s.model,
		SchemaVersion: s.schemaVers,
		UptimeSeconds: time.Since(s.openedAt).Seconds(),
	}, nil
}

func (s *Store) uniqueTagCount(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tags FROM memories")
	if err != nil {
		return 0, merr.Wrap(merr.KindCorrupted, "read tags", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var csv string
		if err := rows.Scan(&csv); err != nil {
			return 0, merr.Wrap(merr.KindCorrupted, "scan tags", err)
		}
		for _, t := range decodeTags(csv) {
			seen[t] = true
		}
	}
	return len(seen), nil
}

// Stats is the expanded counters returned by the stats operation.
type Stats struct {
	Health
	LiveMemories     int
	ArchivedMemories int
	SummaryMemories  int
	AssociationCount int
	ClusterCount     int
	VectorIndexed    bool
}

// Stats computes the expanded counters layered on top of Health.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	h, err := s.Health(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{Health: *h, VectorIndexed: s.vectorExt}

	rows, err := s.db.QueryContext(ctx, "SELECT tags, memory_type FROM memories")
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "stats scan", err)
	}
	for rows.Next() {
		var csv, mtype string
		if err := rows.Scan(&csv, &mtype); err != nil {
			rows.Close()
			return nil, merr.Wrap(merr.KindCorrupted, "stats row scan", err)
		}
		tags := decodeTags(csv)
		isArchived := false
		for _, t := range tags {
			if t == TagArchived {
				isArchived = true
				break
			}
		}
		if isArchived {
			st.ArchivedMemories++
		} else {
			st.LiveMemories++
		}
		if mtype == MemoryTypeSummary {
			st.SummaryMemories++
		}
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM associations").Scan(&st.AssociationCount); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "count associations", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clusters").Scan(&st.ClusterCount); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "count clusters", err)
	}
	return st, nil
}

// OptimizeResult reports the outcome of Optimize.
type OptimizeResult struct {
	OK         bool
	DurationMS int64
}

// Optimize runs database-level vacuum/analyze and rebuilds the ANN index.
func (s *Store) Optimize(ctx context.Context) (*OptimizeResult, error) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "analyze", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "vacuum", err)
	}
	if s.vectorExt {
		if err := s.backfillVecIndex(); err != nil {
			return nil, merr.Wrap(merr.KindCorrupted, "rebuild vec_index", err)
		}
	}

	return &OptimizeResult{OK: true, DurationMS: time.Since(start).Milliseconds()}, nil
}
