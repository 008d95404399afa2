// Package embedding wraps an external embedding model behind a small
// interface and adds an in-process LRU cache, keeping the model itself an
// external collaborator the rest of the service never imports directly.
package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/merr"
)

// Engine turns UTF-8 text into L2-normalized fixed-dimension vectors.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
}

// HealthChecker is an optional capability an Engine may implement.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config selects and configures a concrete Engine.
type Config struct {
	Provider       string // "ollama" | "static"
	OllamaEndpoint string
	OllamaModel    string
	OllamaDims     int
	CacheSize      int
}

// DefaultConfig mirrors the configuration table's encoder defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		OllamaDims:     384,
		CacheSize:      500,
	}
}

// NewEngine builds the concrete Engine selected by cfg.Provider.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.OllamaDims)
	case "static":
		dims := cfg.OllamaDims
		if dims <= 0 {
			dims = 384
		}
		return NewStaticEngine(dims), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// cacheEntry pairs a vector with the model id it was produced under, so a
// model change invalidates the whole cache without a separate sweep.
type cacheEntry struct {
	modelID string
	vector  []float32
}

// MetricsSink receives cache hit/miss counts; the metrics package's
// embedding collector satisfies this without this package importing
// metrics types directly.
type MetricsSink interface {
	RecordCacheHit()
	RecordCacheMiss()
}

type noopSink struct{}

func (noopSink) RecordCacheHit()  {}
func (noopSink) RecordCacheMiss() {}

// Adapter wraps an Engine with a content-keyed LRU cache.
type Adapter struct {
	engine  Engine
	cache   *lru.Cache[string, cacheEntry]
	metrics MetricsSink
}

// NewAdapter builds a caching wrapper around engine. capacity <= 0 uses the
// spec default of 500 entries.
func NewAdapter(engine Engine, capacity int, metrics MetricsSink) (*Adapter, error) {
	if capacity <= 0 {
		capacity = 500
	}
	if metrics == nil {
		metrics = noopSink{}
	}
	cache, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	return &Adapter{engine: engine, cache: cache, metrics: metrics}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return string(sum[:])
}

// Embed returns a cached vector when present and still valid for the
// current model, otherwise calls through to the wrapped Engine.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if entry, ok := a.cache.Get(key); ok && entry.modelID == a.engine.ModelID() {
		a.metrics.RecordCacheHit()
		return entry.vector, nil
	}
	a.metrics.RecordCacheMiss()

	vec, err := a.engine.Embed(ctx, text)
	if err != nil {
		return nil, merr.Wrap(merr.KindEmbeddingFailed, "embed", err)
	}
	if len(vec) != a.engine.Dimensions() {
		return nil, merr.New(merr.KindDimensionMismatch, fmt.Sprintf("engine returned %d dims, declared %d", len(vec), a.engine.Dimensions()))
	}
	a.cache.Add(key, cacheEntry{modelID: a.engine.ModelID(), vector: vec})
	return vec, nil
}

// EmbedBatch embeds each text, preferring cache hits and delegating the
// remainder to the engine's batch path in one call.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		key := cacheKey(t)
		if entry, ok := a.cache.Get(key); ok && entry.modelID == a.engine.ModelID() {
			a.metrics.RecordCacheHit()
			out[i] = entry.vector
			continue
		}
		a.metrics.RecordCacheMiss()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) > 0 {
		vecs, err := a.engine.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, merr.Wrap(merr.KindEmbeddingFailed, "embed batch", err)
		}
		for j, idx := range missIdx {
			out[idx] = vecs[j]
			a.cache.Add(cacheKey(texts[idx]), cacheEntry{modelID: a.engine.ModelID(), vector: vecs[j]})
		}
	}
	return out, nil
}

// Dimensions delegates to the wrapped Engine.
func (a *Adapter) Dimensions() int { return a.engine.Dimensions() }

// ModelID delegates to the wrapped Engine.
func (a *Adapter) ModelID() string { return a.engine.ModelID() }

// InvalidateCache drops every cached vector, used when the encoder's model
// identifier changes out from under the adapter.
func (a *Adapter) InvalidateCache() {
	a.cache.Purge()
}

// normalize returns a unit-length copy of v.
func normalize(v []float32) []float32 {
	var mag float64
	for _, f := range v {
		mag += float64(f) * float64(f)
	}
	if mag == 0 {
		return append([]float32(nil), v...)
	}
	mag = math.Sqrt(mag)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / mag)
	}
	return out
}
