package facade

import (
	"context"
	"crypto/sha256"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidate"
	"github.com/fyrsmithlabs/memoryd/internal/coordinator"
	"github.com/fyrsmithlabs/memoryd/internal/embedding"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/schedule"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

const testDim = 8

type hashEngine struct{}

func (hashEngine) Embed(_ context.Context, text string) ([]float32, error) {
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

func (hashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := hashEngine{}.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (hashEngine) Dimensions() int { return testDim }
func (hashEngine) ModelID() string { return "hash-test-engine" }

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	s, err := store.Open(store.Options{
		Path:            filepath.Join(t.TempDir(), "memory.db"),
		Dimension:       testDim,
		ModelIdentifier: "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	adapter, err := embedding.NewAdapter(hashEngine{}, 100, nil)
	require.NoError(t, err)

	c := coordinator.New()
	m := metrics.New()
	cfg := config.DefaultConfig()
	rt := &consolidate.Runtime{Store: s, Embedding: adapter, Coordinator: c, Config: cfg}

	d, err := schedule.New(rt, m)
	require.NoError(t, err)

	return New(s, adapter, c, m, rt, d)
}

func TestStoreThenRetrieve(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	res, err := f.Store(ctx, "The capital of France is Paris.", []string{"geo", "trivia"}, "note", nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	dup, err := f.Store(ctx, "The capital of France is Paris.", []string{"geo"}, "note", nil)
	require.NoError(t, err)
	require.False(t, dup.Success)
	require.True(t, dup.Duplicate)

	results, err := f.Retrieve(ctx, "capital France", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, res.ContentHash, results[0].Memory.ContentHash)
}

func TestTagSearchAndDelete(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.Store(ctx, "m1", []string{"a", "b"}, "note", nil)
	require.NoError(t, err)
	_, err = f.Store(ctx, "m2", []string{"b", "c"}, "note", nil)
	require.NoError(t, err)
	_, err = f.Store(ctx, "m3", []string{"c"}, "note", nil)
	require.NoError(t, err)

	andB, err := f.SearchByTag(ctx, []string{"b"}, store.TagModeAND)
	require.NoError(t, err)
	require.Len(t, andB, 2)

	orAC, err := f.SearchByTag(ctx, []string{"a", "c"}, store.TagModeOR)
	require.NoError(t, err)
	require.Len(t, orAC, 3)

	deleted, err := f.DeleteByTag(ctx, []string{"c"}, store.TagModeAND)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)
}

func TestUpdateMetadataAndHealth(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	res, err := f.Store(ctx, "note with metadata", nil, "note", map[string]any{"k": "v"})
	require.NoError(t, err)

	err = f.UpdateMetadata(ctx, res.ContentHash, map[string]any{"k2": "v2"})
	require.NoError(t, err)

	h, err := f.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", h.Status)
	require.Equal(t, 1, h.TotalMemories)

	stats, hitRate, err := f.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.LiveMemories)
	require.GreaterOrEqual(t, hitRate, 0.0)
}

func TestConsolidateRunsFullPipeline(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.Store(ctx, "some note", []string{"x"}, "note", nil)
	require.NoError(t, err)

	stats, err := f.Consolidate(ctx, "")
	require.NoError(t, err)
	require.Contains(t, stats, "decay")
}

func TestOptimizeRebuildsWithoutError(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	_, err := f.Store(ctx, "content to optimize around", nil, "note", nil)
	require.NoError(t, err)

	result, err := f.Optimize(ctx)
	require.NoError(t, err)
	require.True(t, result.OK)
}
