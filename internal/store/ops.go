package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/idutil"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
	"github.com/fyrsmithlabs/memoryd/internal/timerange"
	"github.com/fyrsmithlabs/memoryd/internal/vector"
)

// StoreResult is returned by Store.StoreMemory.
type StoreResult struct {
	Success     bool
	Duplicate   bool
	ContentHash string
	Memory      *Memory
}

// StoreMemory inserts a new memory, deduplicating on content hash.
// embed is the caller-supplied encoder call; the store never imports an
// encoder directly (spec.md keeps the model an external collaborator).
func (s *Store) StoreMemory(ctx context.Context, content string, tags []string, memoryType string, metadata map[string]any, embed func(context.Context, string) ([]float32, error)) (*StoreResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "StoreMemory")
	defer timer.Stop()

	if strings.TrimSpace(content) == "" {
		return nil, merr.New(merr.KindInvalidInput, "content must not be empty")
	}

	hash := idutil.ContentHash(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &StoreResult{Success: false, Duplicate: true, ContentHash: hash}, nil
	}

	vec, err := embed(ctx, content)
	if err != nil {
		return nil, merr.Wrap(merr.KindEmbeddingFailed, "embedding failed", err)
	}
	if len(vec) != s.dimension {
		return nil, merr.New(merr.KindDimensionMismatch, fmt.Sprintf("encoder returned %d dims, store declares %d", len(vec), s.dimension)).
			WithContext("got", len(vec)).WithContext("want", s.dimension)
	}

	blob, err := vector.Encode(vec)
	if err != nil {
		return nil, merr.Wrap(merr.KindInvalidInput, "encode embedding", err)
	}

	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return nil, merr.Wrap(merr.KindInvalidInput, "encode metadata", err)
	}

	now := time.Now()
	wall := float64(now.UnixNano()) / 1e9
	iso := now.UTC().Format(time.RFC3339)
	tagCSV := encodeTags(tags)

	res, err := s.db.ExecContext(ctx, `INSERT INTO memories
		(content_hash, content, tags, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hash, content, tagCSV, memoryType, metaJSON, wall, iso, wall, iso, blob)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "insert memory", err)
	}
	id, _ := res.LastInsertId()

	if s.vectorExt {
		if err := s.vecIndexInsert(ctx, id, content, metaJSON, blob); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec_index insert failed for %s: %v", hash, err)
		}
	}

	mem := &Memory{
		ID: id, ContentHash: hash, Content: content, Tags: decodeTags(tagCSV),
		MemoryType: memoryType, Metadata: metadata, CreatedAt: wall, CreatedAtISO: iso,
		UpdatedAt: wall, UpdatedAtISO: iso, Embedding: vec,
	}
	return &StoreResult{Success: true, ContentHash: hash, Memory: mem}, nil
}

func (s *Store) getByHash(ctx context.Context, hash string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, content_hash, content, tags, memory_type, metadata,
		created_at, created_at_iso, updated_at, updated_at_iso, embedding
		FROM memories WHERE content_hash = ?`, hash)
	return scanMemory(row)
}

func scanMemory(row *sql.Row) (*Memory, error) {
	var m Memory
	var tagCSV, metaJSON string
	var embBlob []byte
	err := row.Scan(&m.ID, &m.ContentHash, &m.Content, &tagCSV, &m.MemoryType, &metaJSON,
		&m.CreatedAt, &m.CreatedAtISO, &m.UpdatedAt, &m.UpdatedAtISO, &embBlob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "scan memory row", err)
	}
	m.Tags = decodeTags(tagCSV)
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "decode metadata", err)
	}
	m.Metadata = meta
	emb, err := vector.Decode(embBlob)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "decode embedding", err)
	}
	m.Embedding = emb
	return &m, nil
}

// RetrieveResult pairs a memory with its relevance score.
type RetrieveResult struct {
	Memory         Memory
	RelevanceScore float64 // (cosine+1)/2, documented and consistent per spec.md §4.3.1
}

// Retrieve performs semantic search: embed the query, then rank live
// (non-archived) memories by cosine similarity, descending, ties broken by
// created_at descending.
func (s *Store) Retrieve(ctx context.Context, queryText string, n int, embed func(context.Context, string) ([]float32, error)) ([]RetrieveResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Retrieve")
	defer timer.Stop()

	if n <= 0 {
		n = 10
	}
	qvec, err := embed(ctx, queryText)
	if err != nil {
		return nil, merr.Wrap(merr.KindEmbeddingFailed, "embed query", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		results, err := s.vecIndexQuery(ctx, qvec, n)
		if err == nil {
			return results, nil
		}
		logging.Get(logging.CategoryStore).Warn("vec_index query failed, falling back to brute-force: %v", err)
	}
	return s.bruteForceRetrieve(ctx, qvec, n)
}

// bruteForceRetrieve streams memories in batches, scoring each against
// qvec, bounding memory use per spec.md §4.3.2.
func (s *Store) bruteForceRetrieve(ctx context.Context, qvec []float32, n int) ([]RetrieveResult, error) {
	const batchSize = 500
	var all []RetrieveResult

	lastID := int64(0)
	for {
		rows, err := s.db.QueryContext(ctx, `SELECT id, content_hash, content, tags, memory_type, metadata,
			created_at, created_at_iso, updated_at, updated_at_iso, embedding
			FROM memories WHERE id > ? ORDER BY id ASC LIMIT ?`, lastID, batchSize)
		if err != nil {
			return nil, merr.Wrap(merr.KindCorrupted, "scan memories", err)
		}
		count := 0
		for rows.Next() {
			m, err := scanMemoryRows(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			lastID = m.ID
			count++
			if m.HasTag(TagArchived) {
				continue
			}
			score := vector.Cosine(qvec, m.Embedding)
			all = append(all, RetrieveResult{Memory: *m, RelevanceScore: (score + 1) / 2})
		}
		rows.Close()
		if err := ctx.Err(); err != nil {
			return nil, merr.Wrap(merr.KindTimeout, "retrieve cancelled", err)
		}
		if count < batchSize {
			break
		}
	}

	sortResultsDesc(all)
	if n < len(all) {
		all = all[:n]
	}
	return all, nil
}

func scanMemoryRows(rows *sql.Rows) (*Memory, error) {
	var m Memory
	var tagCSV, metaJSON string
	var embBlob []byte
	if err := rows.Scan(&m.ID, &m.ContentHash, &m.Content, &tagCSV, &m.MemoryType, &metaJSON,
		&m.CreatedAt, &m.CreatedAtISO, &m.UpdatedAt, &m.UpdatedAtISO, &embBlob); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "scan memory row", err)
	}
	m.Tags = decodeTags(tagCSV)
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "decode metadata", err)
	}
	m.Metadata = meta
	emb, err := vector.Decode(embBlob)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "decode embedding", err)
	}
	m.Embedding = emb
	return &m, nil
}

func sortResultsDesc(results []RetrieveResult) {
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && less(results[j-1], results[j]) {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
}

// less reports whether a should sort after b (descending similarity, tie
// broken by created_at descending).
func less(a, b RetrieveResult) bool {
	if a.RelevanceScore != b.RelevanceScore {
		return a.RelevanceScore < b.RelevanceScore
	}
	return a.Memory.CreatedAt < b.Memory.CreatedAt
}

// TagMode selects AND or OR matching semantics.
type TagMode int

const (
	TagModeAND TagMode = iota
	TagModeOR
)

// SearchByTag returns memories matching the tag filter, newest first.
// Archived memories are not filtered out.
func (s *Store) SearchByTag(ctx context.Context, tags []string, mode TagMode) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := normalizeTags(tags)
	rows, err := s.db.QueryContext(ctx, `SELECT id, content_hash, content, tags, memory_type, metadata,
		created_at, created_at_iso, updated_at, updated_at_iso, embedding
		FROM memories ORDER BY created_at DESC`)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "search_by_tag query", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		match := false
		if mode == TagModeAND {
			match = tagSetContainsAll(m.Tags, query)
		} else {
			match = tagSetIntersects(m.Tags, query)
		}
		if match {
			out = append(out, *m)
		}
	}
	return out, nil
}

// RecallByTime parses rangeExpr and returns matching memories, newest
// first, optionally capped at n.
func (s *Store) RecallByTime(ctx context.Context, rangeExpr string, n int) ([]Memory, error) {
	rng, err := timerange.Parse(rangeExpr, time.Now())
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	startSec := float64(rng.Start.UnixNano()) / 1e9
	endSec := float64(rng.End.UnixNano()) / 1e9

	q := `SELECT id, content_hash, content, tags, memory_type, metadata,
		created_at, created_at_iso, updated_at, updated_at_iso, embedding
		FROM memories WHERE created_at >= ? AND created_at < ? ORDER BY created_at DESC`
	args := []any{startSec, endSec}
	if n > 0 {
		q += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "recall_by_time query", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// DeleteResult reports the outcome of Delete.
type DeleteResult struct {
	Success bool
	Deleted int
}

// Delete atomically removes a memory from memories and every artifact
// table that references it.
func (s *Store) Delete(ctx context.Context, contentHash string) (*DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rowID int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM memories WHERE content_hash = ?", contentHash).Scan(&rowID)
	if err == sql.ErrNoRows {
		return &DeleteResult{Success: false, Deleted: 0}, merr.New(merr.KindNotFound, "content_hash not found").WithContext("content_hash", contentHash)
	}
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "lookup memory id", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "begin delete tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE content_hash = ?", contentHash); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "delete memory", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM associations WHERE source_hash = ? OR target_hash = ?", contentHash, contentHash); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "delete associations", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cluster_members WHERE content_hash = ?", contentHash); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "delete cluster_members", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, merr.Wrap(merr.KindCorrupted, "commit delete", err)
	}

	if s.vectorExt {
		if err := s.vecIndexDelete(ctx, rowID); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec_index delete failed for %s: %v", contentHash, err)
		}
	}
	return &DeleteResult{Success: true, Deleted: 1}, nil
}

// DeleteByTag deletes every memory matching the tag filter, returning the
// count removed.
func (s *Store) DeleteByTag(ctx context.Context, tags []string, mode TagMode) (int, error) {
	matches, err := s.SearchByTag(ctx, tags, mode)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range matches {
		if _, err := s.Delete(ctx, m.ContentHash); err != nil {
			if merr.KindOf(err) == merr.KindNotFound {
				continue
			}
			return count, err
		}
		count++
	}
	return count, nil
}

// UpdateMetadata merges patch into the stored metadata and bumps
// updated_at; created_at is preserved. Tags are not touched here (a "tags"
// key in patch is merged into metadata like any other key); ReplaceTags
// replaces the tag set wholesale.
func (s *Store) UpdateMetadata(ctx context.Context, contentHash string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getByHash(ctx, contentHash)
	if err != nil {
		return err
	}
	if existing == nil {
		return merr.New(merr.KindNotFound, "content_hash not found").WithContext("content_hash", contentHash)
	}

	merged := mergeMetadata(existing.Metadata, patch)
	metaJSON, err := encodeMetadata(merged)
	if err != nil {
		return merr.Wrap(merr.KindInvalidInput, "encode metadata", err)
	}

	now := time.Now()
	wall := float64(now.UnixNano()) / 1e9
	iso := now.UTC().Format(time.RFC3339)

	_, err = s.db.ExecContext(ctx, `UPDATE memories SET metadata = ?, updated_at = ?, updated_at_iso = ? WHERE content_hash = ?`,
		metaJSON, wall, iso, contentHash)
	if err != nil {
		return merr.Wrap(merr.KindCorrupted, "update metadata", err)
	}
	return nil
}

// ReplaceTags overwrites a memory's tag set wholesale and bumps updated_at.
func (s *Store) ReplaceTags(ctx context.Context, contentHash string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	wall := float64(now.UnixNano()) / 1e9
	iso := now.UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `UPDATE memories SET tags = ?, updated_at = ?, updated_at_iso = ? WHERE content_hash = ?`,
		encodeTags(tags), wall, iso, contentHash)
	if err != nil {
		return merr.Wrap(merr.KindCorrupted, "replace tags", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return merr.New(merr.KindNotFound, "content_hash not found").WithContext("content_hash", contentHash)
	}
	return nil
}
