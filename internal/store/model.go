package store

import (
	"encoding/json"
	"sort"
	"strings"
)

// Memory is the primary stored entity: immutable content plus mutable tags
// and metadata, paired wall-clock/ISO timestamps, and its embedding.
type Memory struct {
	ID           int64
	ContentHash  string
	Content      string
	Tags         []string
	MemoryType   string
	Metadata     map[string]any
	CreatedAt    float64
	CreatedAtISO string
	UpdatedAt    float64
	UpdatedAtISO string
	Embedding    []float32
}

// TagArchived marks a memory as soft-deleted by the forgetting phase.
const TagArchived = "archived"

// TagConsolidation marks summary memories produced by compression.
const TagConsolidation = "consolidation"

// MemoryTypeSummary is the memory_type stamped on compression artifacts.
const MemoryTypeSummary = "summary"

// HasTag reports whether t is present in the memory's tag set.
func (m *Memory) HasTag(t string) bool {
	for _, tag := range m.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// normalizeTags trims whitespace, drops empties, and de-duplicates while
// preserving insertion order, per spec.md's "no empty element" invariant.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// encodeTags serializes a tag set to its ordered CSV storage form.
func encodeTags(tags []string) string {
	return strings.Join(normalizeTags(tags), ",")
}

// decodeTags parses the CSV storage form back into a tag slice.
func decodeTags(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	return normalizeTags(parts)
}

// tagSetContainsAll implements AND semantics: query ⊆ tags(m).
func tagSetContainsAll(tags []string, query []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, q := range query {
		if !set[q] {
			return false
		}
	}
	return true
}

// tagSetIntersects implements OR semantics: query ∩ tags(m) ≠ ∅.
func tagSetIntersects(tags []string, query []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, q := range query {
		if set[q] {
			return true
		}
	}
	return false
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// mergeMetadata applies patch on top of base, returning a new map. Keys not
// present in patch are preserved; keys in patch overwrite base.
func mergeMetadata(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// isPinned reports whether metadata marks a memory exempt from decay.
func isPinned(metadata map[string]any) bool {
	v, ok := metadata["pinned"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// sortedStrings returns a sorted copy, used for deterministic output where
// spec.md does not otherwise mandate an order (e.g. unique tag listings).
func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
