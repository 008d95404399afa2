// Package vector implements the little-endian float32 embedding codec and
// cosine similarity used by the storage engine, grounded on the teacher's
// encodeFloat32Slice/CosineSimilarity helpers.
package vector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes a float32 embedding into a little-endian byte blob
// suitable for storage in a BLOB column or handing to sqlite-vec.
func Encode(v []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	for _, f := range v {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("vector: encode: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector: decode: byte length %d not a multiple of 4", len(b))
	}
	n := len(b) / 4
	out := make([]float32, n)
	r := bytes.NewReader(b)
	for i := 0; i < n; i++ {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, fmt.Errorf("vector: decode: %w", err)
		}
	}
	return out, nil
}

// Dimensions reports the vector dimensionality encoded in b without a full decode.
func Dimensions(b []byte) int { return len(b) / 4 }

// Cosine computes cosine similarity between two equal-length vectors,
// clamped to [-1, 1]. Returns 0 if either vector has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		magA += ai * ai
		magB += bi * bi
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, dot/(math.Sqrt(magA)*math.Sqrt(magB))))
}

// Normalize returns a unit-length copy of v, or a zero vector if v has zero magnitude.
func Normalize(v []float32) []float32 {
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

// TopKResult pairs an index with its similarity score.
type TopKResult struct {
	Index int
	Score float64
}

// TopK scans candidates against query and returns the k highest-scoring
// indices in descending order, grounded on the teacher's FindTopK helper.
func TopK(query []float32, candidates [][]float32, k int) []TopKResult {
	results := make([]TopKResult, 0, len(candidates))
	for i, c := range candidates {
		results = append(results, TopKResult{Index: i, Score: Cosine(query, c)})
	}
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && results[j-1].Score < results[j].Score {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}
	if k >= 0 && k < len(results) {
		results = results[:k]
	}
	return results
}
