package store

import (
	"context"
	"crypto/sha256"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testDim = 8

// staticEmbed is a deterministic hash-based encoder double, mirroring the
// embedding package's test engine but kept local so this package has no
// dependency on internal/embedding.
func staticEmbed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, testDim)
	var mag float64
	for i := 0; i < testDim; i++ {
		v := float32(int8(sum[i])) / 127.0
		vec[i] = v
		mag += float64(v) * float64(v)
	}
	mag = math.Sqrt(mag)
	if mag == 0 {
		mag = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / mag)
	}
	return vec, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{
		Path:            filepath.Join(dir, "memory.db"),
		Dimension:       testDim,
		ModelIdentifier: "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndRetrieveExactMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreMemory(ctx, "The capital of France is Paris.", []string{"geo", "trivia"}, "note", nil, staticEmbed)
	require.NoError(t, err)
	require.True(t, res.Success)

	results, err := s.Retrieve(ctx, "The capital of France is Paris.", 5, staticEmbed)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, res.ContentHash, results[0].Memory.ContentHash)
	require.GreaterOrEqual(t, results[0].RelevanceScore, 0.5)
}

// P2: idempotent store.
func TestDuplicateStoreIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.StoreMemory(ctx, "duplicate-content", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	require.True(t, first.Success)
	require.False(t, first.Duplicate)

	second, err := s.StoreMemory(ctx, "duplicate-content", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	require.False(t, second.Success)
	require.True(t, second.Duplicate)
	require.Equal(t, first.ContentHash, second.ContentHash)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count))
	require.Equal(t, 1, count)
}

// P3: embedding shape.
func TestEmbeddingShapeAndNorm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreMemory(ctx, "some content", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	require.Len(t, res.Memory.Embedding, testDim)

	var mag float64
	for _, f := range res.Memory.Embedding {
		mag += float64(f) * float64(f)
	}
	require.InDelta(t, 1.0, math.Sqrt(mag), 1e-5)
}

func TestDimensionMismatchRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	badEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	}
	_, err := s.StoreMemory(ctx, "content", nil, "", nil, badEmbed)
	require.Error(t, err)
}

// P4: round-trip metadata merge.
func TestUpdateMetadataMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreMemory(ctx, "content with metadata", nil, "", map[string]any{"a": 1.0, "b": "keep"}, staticEmbed)
	require.NoError(t, err)

	require.NoError(t, s.UpdateMetadata(ctx, res.ContentHash, map[string]any{"a": 2.0}))

	m, err := s.getByHash(ctx, res.ContentHash)
	require.NoError(t, err)
	require.Equal(t, 2.0, m.Metadata["a"])
	require.Equal(t, "keep", m.Metadata["b"])
}

// P5: temporal monotonicity.
func TestTemporalMonotonicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreMemory(ctx, "monotonic content", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	require.LessOrEqual(t, res.Memory.CreatedAt, res.Memory.UpdatedAt)

	require.NoError(t, s.UpdateMetadata(ctx, res.ContentHash, map[string]any{"x": true}))
	m, err := s.getByHash(ctx, res.ContentHash)
	require.NoError(t, err)
	require.LessOrEqual(t, m.CreatedAt, m.UpdatedAt)
	require.Equal(t, res.Memory.CreatedAt, m.CreatedAt)
}

// P6: tag set AND/OR semantics.
func TestTagSetSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h1, err := s.StoreMemory(ctx, "m1", []string{"a", "b"}, "", nil, staticEmbed)
	require.NoError(t, err)
	h2, err := s.StoreMemory(ctx, "m2", []string{"b", "c"}, "", nil, staticEmbed)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "m3", []string{"c"}, "", nil, staticEmbed)
	require.NoError(t, err)

	andB, err := s.SearchByTag(ctx, []string{"b"}, TagModeAND)
	require.NoError(t, err)
	require.Len(t, andB, 2)

	orAC, err := s.SearchByTag(ctx, []string{"a", "c"}, TagModeOR)
	require.NoError(t, err)
	require.Len(t, orAC, 3)

	andAC, err := s.SearchByTag(ctx, []string{"a", "c"}, TagModeAND)
	require.NoError(t, err)
	require.Empty(t, andAC)

	_ = h1
	_ = h2
}

// P7: retrieval ordering.
func TestRetrievalOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreMemory(ctx, "apples and oranges", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "completely unrelated topic about rockets", nil, "", nil, staticEmbed)
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, "apples and oranges", 10, staticEmbed)
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i-1].RelevanceScore, results[i].RelevanceScore)
	}
}

// P8: delete consistency.
func TestDeleteConsistency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreMemory(ctx, "to be deleted", nil, "", nil, staticEmbed)
	require.NoError(t, err)

	del, err := s.Delete(ctx, res.ContentHash)
	require.NoError(t, err)
	require.True(t, del.Success)
	require.Equal(t, 1, del.Deleted)

	m, err := s.getByHash(ctx, res.ContentHash)
	require.NoError(t, err)
	require.Nil(t, m)

	results, err := s.Retrieve(ctx, "to be deleted", 10, staticEmbed)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, res.ContentHash, r.Memory.ContentHash)
	}
}

func TestDeleteByTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreMemory(ctx, "tagged one", []string{"x"}, "", nil, staticEmbed)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "tagged two", []string{"x"}, "", nil, staticEmbed)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "untagged", nil, "", nil, staticEmbed)
	require.NoError(t, err)

	n, err := s.DeleteByTag(ctx, []string{"x"}, TagModeAND)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRecallByTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()

	todayRes, err := s.StoreMemory(ctx, "today's note", nil, "", nil, staticEmbed)
	require.NoError(t, err)

	yesterdayRes, err := s.StoreMemory(ctx, "yesterday's note", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE memories SET created_at = ? WHERE content_hash = ?`,
		float64(now.AddDate(0, 0, -1).UnixNano())/1e9, yesterdayRes.ContentHash)
	require.NoError(t, err)

	oldRes, err := s.StoreMemory(ctx, "old note", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE memories SET created_at = ? WHERE content_hash = ?`,
		float64(now.AddDate(0, 0, -10).UnixNano())/1e9, oldRes.ContentHash)
	require.NoError(t, err)

	results, err := s.RecallByTime(ctx, "last week", 0)
	require.NoError(t, err)

	var hashes []string
	for _, r := range results {
		hashes = append(hashes, r.ContentHash)
	}
	require.Contains(t, hashes, todayRes.ContentHash, "\"last week\" must include memories created today")
	require.Contains(t, hashes, yesterdayRes.ContentHash, "\"last week\" must include memories created yesterday")
	require.NotContains(t, hashes, oldRes.ContentHash, "\"last week\" must exclude memories from 10 days ago")
}

func TestArchivedExcludedFromRetrieve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.StoreMemory(ctx, "archive candidate", nil, "", nil, staticEmbed)
	require.NoError(t, err)
	require.NoError(t, s.ArchiveByHash(ctx, res.ContentHash))

	results, err := s.Retrieve(ctx, "archive candidate", 10, staticEmbed)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, res.ContentHash, r.Memory.ContentHash)
	}
}

func TestIncompatibleStoreRejectsDimensionChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")

	s, err := Open(Options{Path: path, Dimension: 8, ModelIdentifier: "model-a"})
	require.NoError(t, err)
	s.Close()

	_, err = Open(Options{Path: path, Dimension: 16, ModelIdentifier: "model-a"})
	require.Error(t, err)
}

func TestRunLockPreventsDoubleAcquire(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireRunLock(ctx, "run-1"))
	err := s.AcquireRunLock(ctx, "run-2")
	require.Error(t, err)

	require.NoError(t, s.ReleaseRunLock(ctx))
	require.NoError(t, s.AcquireRunLock(ctx, "run-3"))
}
