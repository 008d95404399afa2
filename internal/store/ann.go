package store

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
	"github.com/fyrsmithlabs/memoryd/internal/vector"
)

// initVecIndex creates the sqlite-vec virtual table sized to this store's
// declared dimension and backfills it from any existing rows.
func (s *Store) initVecIndex() error {
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d], content TEXT, metadata TEXT)", s.dimension)
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: create vec_index: %w", err)
	}
	return s.backfillVecIndex()
}

// backfillVecIndex populates vec_index for rows not yet represented there,
// matched by rowid against the memories table's id.
func (s *Store) backfillVecIndex() error {
	rows, err := s.db.Query(`SELECT id, content, metadata, embedding FROM memories
		WHERE id NOT IN (SELECT rowid FROM vec_index)`)
	if err != nil {
		return fmt.Errorf("store: backfill query: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id int64
		var content, metadata string
		var blob []byte
		if err := rows.Scan(&id, &content, &metadata, &blob); err != nil {
			return fmt.Errorf("store: backfill scan: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO vec_index(rowid, embedding, content, metadata) VALUES (?, ?, ?, ?)",
			id, blob, content, metadata); err != nil {
			logging.Get(logging.CategoryStore).Warn("backfill insert failed for id=%d: %v", id, err)
			continue
		}
		count++
	}
	if count > 0 {
		logging.Store("backfilled %d rows into vec_index", count)
	}
	return nil
}

func (s *Store) vecIndexInsert(ctx context.Context, id int64, content, metadataJSON string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO vec_index(rowid, embedding, content, metadata) VALUES (?, ?, ?, ?)",
		id, blob, content, metadataJSON)
	return err
}

func (s *Store) vecIndexDelete(ctx context.Context, rowID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM vec_index WHERE rowid = ?", rowID)
	return err
}

// vecIndexQuery performs ANN retrieval using sqlite-vec's cosine distance
// function, excluding archived rows, returning results in the same
// top-n set modulo ties as the brute-force scan (spec.md §4.3.2).
func (s *Store) vecIndexQuery(ctx context.Context, qvec []float32, n int) ([]RetrieveResult, error) {
	blob, err := vector.Encode(qvec)
	if err != nil {
		return nil, err
	}

	// Over-fetch to allow for archived rows filtered out after the fact.
	fetchN := n * 3
	if fetchN < 50 {
		fetchN = 50
	}

	rows, err := s.db.QueryContext(ctx, `SELECT rowid, vec_distance_cosine(embedding, ?) AS distance
		FROM vec_index ORDER BY distance ASC LIMIT ?`, blob, fetchN)
	if err != nil {
		return nil, fmt.Errorf("store: vec_index query: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id       int64
		distance float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.distance); err != nil {
			return nil, fmt.Errorf("store: vec_index scan: %w", err)
		}
		hits = append(hits, h)
	}

	var out []RetrieveResult
	for _, h := range hits {
		row := s.db.QueryRowContext(ctx, `SELECT id, content_hash, content, tags, memory_type, metadata,
			created_at, created_at_iso, updated_at, updated_at_iso, embedding
			FROM memories WHERE id = ?`, h.id)
		m, err := scanMemory(row)
		if err != nil {
			return nil, err
		}
		if m == nil || m.HasTag(TagArchived) {
			continue
		}
		// sqlite-vec's cosine distance is 1 - cosine similarity.
		cosine := 1 - h.distance
		out = append(out, RetrieveResult{Memory: *m, RelevanceScore: (cosine + 1) / 2})
		if len(out) >= n {
			break
		}
	}

	sortResultsDesc(out)
	if n < len(out) {
		out = out[:n]
	}
	return out, nil
}

// ReembedAll recomputes every embedding using embed and rewrites both
// memories.embedding and vec_index, used after a model change once the
// caller has reset store_meta's model_identifier (an explicit, operator
// -triggered path outside the Facade's normal operation set).
func (s *Store) ReembedAll(ctx context.Context, embed func(context.Context, string) ([]float32, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, content FROM memories")
	if err != nil {
		return 0, merr.Wrap(merr.KindCorrupted, "reembed scan", err)
	}
	type row struct {
		id      int64
		content string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.content); err != nil {
			rows.Close()
			return 0, merr.Wrap(merr.KindCorrupted, "reembed row scan", err)
		}
		all = append(all, r)
	}
	rows.Close()

	count := 0
	for _, r := range all {
		vec, err := embed(ctx, r.content)
		if err != nil {
			return count, merr.Wrap(merr.KindEmbeddingFailed, "reembed", err)
		}
		blob, err := vector.Encode(vec)
		if err != nil {
			return count, err
		}
		if _, err := s.db.ExecContext(ctx, "UPDATE memories SET embedding = ? WHERE id = ?", blob, r.id); err != nil {
			return count, merr.Wrap(merr.KindCorrupted, "reembed update", err)
		}
		if s.vectorExt {
			_, _ = s.db.ExecContext(ctx, "UPDATE vec_index SET embedding = ? WHERE rowid = ?", blob, r.id)
		}
		count++
	}
	return count, nil
}
