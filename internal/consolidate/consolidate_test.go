package consolidate

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/coordinator"
	"github.com/fyrsmithlabs/memoryd/internal/embedding"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

const testDim = 8

// baseVector returns a unit vector mostly along axis, with a small amount
// of noise mixed in from seed so near-duplicate content still differs
// slightly, letting cosine similarity land in a controllable range.
func baseVector(axis int, noiseSeed float32) []float32 {
	v := make([]float32, testDim)
	v[axis%testDim] = 1.0
	if testDim > 1 {
		v[(axis+1)%testDim] = noiseSeed
	}
	return normalizeTestVector(v)
}

func normalizeTestVector(v []float32) []float32 {
	var mag float64
	for _, x := range v {
		mag += float64(x) * float64(x)
	}
	if mag == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(mag))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * scale
	}
	return out
}

func newEmbedder(vectors map[string][]float32) func(context.Context, string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return baseVector(0, 0), nil
	}
}

func newTestRuntime(t *testing.T, embed func(context.Context, string) ([]float32, error)) (*Runtime, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Options{
		Path:            filepath.Join(t.TempDir(), "memory.db"),
		Dimension:       testDim,
		ModelIdentifier: "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	adapter, err := embedding.NewAdapter(&fixedEngine{embed: embed}, 100, nil)
	require.NoError(t, err)

	rt := &Runtime{
		Store:       s,
		Embedding:   adapter,
		Coordinator: coordinator.New(),
		Config:      config.DefaultConfig(),
	}
	return rt, s
}

type fixedEngine struct {
	embed func(context.Context, string) ([]float32, error)
}

func (f *fixedEngine) Embed(ctx context.Context, text string) ([]float32, error) { return f.embed(ctx, text) }
func (f *fixedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (f *fixedEngine) Dimensions() int { return testDim }
func (f *fixedEngine) ModelID() string { return "fixed-test-engine" }

func TestDecayPhaseExemptsPinned(t *testing.T) {
	vectors := map[string][]float32{
		"old note":     baseVector(1, 0),
		"pinned thing": baseVector(2, 0),
	}
	rt, s := newTestRuntime(t, newEmbedder(vectors))
	ctx := context.Background()

	_, err := s.StoreMemory(ctx, "old note", []string{"note"}, "note", nil, rt.Embedding.Embed)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "pinned thing", []string{"note"}, "note", map[string]any{"pinned": true}, rt.Embedding.Embed)
	require.NoError(t, err)

	rt.Now = func() time.Time { return time.Now().Add(60 * 24 * time.Hour) }

	phase := &DecayPhase{}
	stats, err := phase.Run(ctx, rt)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Scanned)

	oldHash := contentHashOf(t, s, "old note")
	pinnedHash := contentHashOf(t, s, "pinned thing")
	require.Equal(t, 1.0, rt.DecayScores[pinnedHash])
	require.Less(t, rt.DecayScores[oldHash], 1.0)
}

func TestAssociationPhaseDiscoversBandedPairs(t *testing.T) {
	vectors := map[string][]float32{
		"alpha topic": baseVector(0, 0),
		"beta topic":  baseVector(0, 0.85), // similar but not near-duplicate
		"gamma topic": baseVector(5, 0),    // dissimilar
	}
	rt, s := newTestRuntime(t, newEmbedder(vectors))
	ctx := context.Background()
	rt.Config.Association.Low = 0.1
	rt.Config.Association.High = 0.95

	for text := range vectors {
		_, err := s.StoreMemory(ctx, text, nil, "note", nil, rt.Embedding.Embed)
		require.NoError(t, err)
	}

	phase := &AssociationPhase{}
	stats, err := phase.Run(ctx, rt)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Scanned)
	require.GreaterOrEqual(t, stats.Created, 1)

	rows, err := s.DB().Query("SELECT COUNT(*) FROM associations")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var count int
	require.NoError(t, rows.Scan(&count))
	require.Equal(t, stats.Created, count)
}

func TestClusterCompressForgetExemptsSummarySources(t *testing.T) {
	vectors := make(map[string][]float32)
	contents := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		text := "database indexing note " + string(rune('a'+i))
		contents = append(contents, text)
		vectors[text] = baseVector(3, float32(i)*0.01)
	}
	rt, s := newTestRuntime(t, newEmbedder(vectors))
	ctx := context.Background()

	for _, text := range contents {
		_, err := s.StoreMemory(ctx, text, []string{"db"}, "note", nil, rt.Embedding.Embed)
		require.NoError(t, err)
	}

	clusterPhase := &ClusterPhase{}
	cstats, err := clusterPhase.Run(ctx, rt)
	require.NoError(t, err)
	require.Equal(t, 1, cstats.Created)
	require.Len(t, rt.LastClusters, 1)
	require.Len(t, rt.LastClusters[0].MemberHashes, 6)

	compressPhase := &CompressPhase{}
	compStats, err := compressPhase.Run(ctx, rt)
	require.NoError(t, err)
	require.Equal(t, 1, compStats.Created)

	var summaryCount int
	row := s.DB().QueryRow("SELECT COUNT(*) FROM memories WHERE memory_type = 'summary'")
	require.NoError(t, row.Scan(&summaryCount))
	require.Equal(t, 1, summaryCount)

	// Advance the clock 200 days and run decay + forget; sources must survive.
	future := time.Now().Add(200 * 24 * time.Hour)
	rt.Now = func() time.Time { return future }
	rt.Config.Forgetting.AccessThresholdDays = 1
	rt.Config.Forgetting.RelevanceThreshold = 0.99 // force every non-exempt memory below threshold

	decayPhase := &DecayPhase{}
	_, err = decayPhase.Run(ctx, rt)
	require.NoError(t, err)

	forgetPhase := &ForgetPhase{}
	fstats, err := forgetPhase.Run(ctx, rt)
	require.NoError(t, err)
	// Only the summary itself is archived: it is not pinned and no summary
	// references it, while all six originals are summary-referenced.
	require.Equal(t, 1, fstats.Archived, "summary-referenced originals must be exempt from archival")

	for _, text := range contents {
		hash := contentHashOf(t, s, text)
		results, err := s.SearchByTag(ctx, []string{"db"}, store.TagModeAND)
		require.NoError(t, err)
		var found bool
		for _, m := range results {
			if m.ContentHash == hash {
				found = true
			}
		}
		require.True(t, found, "original %q should remain retrievable", text)
	}
}

func contentHashOf(t *testing.T, s *store.Store, content string) string {
	t.Helper()
	results, err := s.SearchByTag(context.Background(), nil, store.TagModeAND)
	require.NoError(t, err)
	for _, m := range results {
		if m.Content == content {
			return m.ContentHash
		}
	}
	t.Fatalf("memory with content %q not found", content)
	return ""
}
