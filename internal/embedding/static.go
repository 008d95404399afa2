package embedding

import (
	"context"
	"crypto/sha256"
)

// StaticEngine is a deterministic hash-based test double. It gives callers
// without a live model something concrete to embed against, and backs
// internal/store's own tests, per spec.md's scope boundary that keeps the
// actual ML model an external collaborator.
type StaticEngine struct {
	dims int
}

// NewStaticEngine returns an Engine that derives a unit-norm vector from
// the SHA-256 digest of the input text.
func NewStaticEngine(dims int) *StaticEngine {
	if dims <= 0 {
		dims = 384
	}
	return &StaticEngine{dims: dims}
}

// Embed is deterministic: identical text always yields an identical vector.
func (e *StaticEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	block := []byte(text)
	for i := 0; i < e.dims; i++ {
		h := sha256.Sum256(append(block, byte(i), byte(i>>8)))
		vec[i] = float32(int8(h[0])) / 127.0
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured output width.
func (e *StaticEngine) Dimensions() int { return e.dims }

// ModelID identifies this as the deterministic test double.
func (e *StaticEngine) ModelID() string { return "static-test-engine" }
