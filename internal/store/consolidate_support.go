package store

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/idutil"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
	"github.com/fyrsmithlabs/memoryd/internal/vector"
)

// ListLive streams live (non-archived) memories to fn, querying them in
// batches of batchSize. Callers that collect every memory they are passed
// (the association and cluster phases do) still hold the whole live set in
// memory. fn returning an error stops the scan early.
func (s *Store) ListLive(ctx context.Context, batchSize int, fn func(Memory) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastID := int64(0)
	for {
		rows, err := s.db.QueryContext(ctx, `SELECT id, content_hash, content, tags, memory_type, metadata,
			created_at, created_at_iso, updated_at, updated_at_iso, embedding
			FROM memories WHERE id > ? ORDER BY id ASC LIMIT ?`, lastID, batchSize)
		if err != nil {
			return merr.Wrap(merr.KindCorrupted, "list live scan", err)
		}
		count := 0
		var batch []Memory
		for rows.Next() {
			m, err := scanMemoryRows(rows)
			if err != nil {
				rows.Close()
				return err
			}
			lastID = m.ID
			count++
			if m.HasTag(TagArchived) {
				continue
			}
			batch = append(batch, *m)
		}
		rows.Close()

		for _, m := range batch {
			if err := ctx.Err(); err != nil {
				return merr.Wrap(merr.KindTimeout, "list live cancelled", err)
			}
			if err := fn(m); err != nil {
				return err
			}
		}
		if count < batchSize {
			return nil
		}
	}
}

// UpsertAssociation inserts a new derived association or refreshes the
// similarity/timestamp of an existing one, keyed on the lexicographically
// ordered pair.
func (s *Store) UpsertAssociation(ctx context.Context, hashA, hashB string, similarity float64) error {
	source, target := hashA, hashB
	if target < source {
		source, target = target, source
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO associations(source_hash, target_hash, similarity, discovered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_hash, target_hash) DO UPDATE SET similarity = excluded.similarity, discovered_at = excluded.discovered_at`,
		source, target, similarity, nowSeconds())
	if err != nil {
		return merr.Wrap(merr.KindCorrupted, "upsert association", err)
	}
	return nil
}

// ClusterInput describes one cluster produced by the clustering phase,
// ready to be persisted.
type ClusterInput struct {
	Theme        string
	Centroid     []float32
	MemberHashes []string
}

// ReplaceClusters atomically deletes all prior clusters and cluster_members
// and inserts the new set, assigning fresh ids via idutil.NewID.
func (s *Store) ReplaceClusters(ctx context.Context, clusters []ClusterInput) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "begin replace clusters", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cluster_members"); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "clear cluster_members", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM clusters"); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "clear clusters", err)
	}

	ids := make([]string, 0, len(clusters))
	now := nowSeconds()
	for _, c := range clusters {
		id := idutil.NewID()
		blob, err := vector.Encode(c.Centroid)
		if err != nil {
			return nil, merr.Wrap(merr.KindInvalidInput, "encode centroid", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO clusters(cluster_id, theme, centroid, created_at) VALUES (?, ?, ?, ?)",
			id, c.Theme, blob, now); err != nil {
			return nil, merr.Wrap(merr.KindCorrupted, "insert cluster", err)
		}
		for _, hash := range c.MemberHashes {
			if _, err := tx.ExecContext(ctx, "INSERT INTO cluster_members(cluster_id, content_hash) VALUES (?, ?)", id, hash); err != nil {
				return nil, merr.Wrap(merr.KindCorrupted, "insert cluster member", err)
			}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "commit replace clusters", err)
	}
	return ids, nil
}

// InsertSummaryIfAbsent inserts a summary memory keyed by a deterministic
// hash of its content, making compression idempotent: re-running against
// the same cluster membership is a no-op. Returns the summary's hash and
// whether a new row was created.
func (s *Store) InsertSummaryIfAbsent(ctx context.Context, content string, tags []string, metadata map[string]any, embed func(context.Context, string) ([]float32, error)) (string, bool, error) {
	hash := idutil.ContentHash(content)

	s.mu.RLock()
	existing, err := s.getByHash(ctx, hash)
	s.mu.RUnlock()
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		return hash, false, nil
	}

	res, err := s.StoreMemory(ctx, content, tags, MemoryTypeSummary, metadata, embed)
	if err != nil {
		return "", false, err
	}
	if res.Duplicate {
		return res.ContentHash, false, nil
	}
	return res.ContentHash, true, nil
}

// ArchiveByHash soft-deletes a memory by adding the "archived" tag,
// exempting it from default retrieval while preserving the row.
func (s *Store) ArchiveByHash(ctx context.Context, contentHash string) error {
	s.mu.Lock()
	existing, err := s.getByHash(ctx, contentHash)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if existing == nil {
		return merr.New(merr.KindNotFound, "content_hash not found").WithContext("content_hash", contentHash)
	}
	if existing.HasTag(TagArchived) {
		return nil
	}
	newTags := append(append([]string(nil), existing.Tags...), TagArchived)
	return s.ReplaceTags(ctx, contentHash, newTags)
}

// PurgeArchivedBefore hard-deletes memories tagged "archived" whose
// updated_at (the archival timestamp) is older than cutoff, returning the
// count removed.
func (s *Store) PurgeArchivedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffSec := float64(cutoff.UnixNano()) / 1e9

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, "SELECT content_hash, tags, updated_at FROM memories WHERE updated_at < ?", cutoffSec)
	if err != nil {
		s.mu.RUnlock()
		return 0, merr.Wrap(merr.KindCorrupted, "purge scan", err)
	}
	var candidates []string
	for rows.Next() {
		var hash, csv string
		var updatedAt float64
		if err := rows.Scan(&hash, &csv, &updatedAt); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return 0, merr.Wrap(merr.KindCorrupted, "purge row scan", err)
		}
		for _, t := range decodeTags(csv) {
			if t == TagArchived {
				candidates = append(candidates, hash)
				break
			}
		}
	}
	rows.Close()
	s.mu.RUnlock()

	count := 0
	for _, hash := range candidates {
		if _, err := s.Delete(ctx, hash); err != nil {
			if merr.KindOf(err) == merr.KindNotFound {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
