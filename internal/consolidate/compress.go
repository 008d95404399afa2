package consolidate

import (
	"context"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/idutil"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/store"
)

// CompressPhase turns each cluster ClusterPhase just produced into a
// Summary memory: an extractive concatenation of each member's leading
// sentence, deterministic given identical membership. Re-running against
// an unchanged cluster is a no-op because the summary is inserted only if
// no memory with the same content hash exists. The hash of the sorted
// member hashes is recorded in the summary's metadata as group_hash but is
// not used to detect repeats.
type CompressPhase struct{}

func (p *CompressPhase) Name() string { return "compress" }

func (p *CompressPhase) Run(ctx context.Context, rt *Runtime) (PhaseStats, error) {
	stats := PhaseStats{}
	maxChars := rt.Config.Compression.MaxChars

	for _, cluster := range rt.LastClusters {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if len(cluster.MemberHashes) < rt.Config.Cluster.MinSamples {
			stats.Skipped++
			continue
		}

		members, err := loadByHash(ctx, rt.Store, cluster.MemberHashes)
		if err != nil {
			return stats, err
		}
		sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt < members[j].CreatedAt })

		content := buildSummaryContent(members, maxChars)
		tags := summaryTags(cluster.Theme, members)
		metadata := map[string]any{
			"source_hashes": cluster.MemberHashes,
			"group_hash":    idutil.GroupHash(cluster.MemberHashes),
		}

		var hash string
		var created bool
		err = rt.Coordinator.WithWrite(ctx, func(ctx context.Context) error {
			var werr error
			hash, created, werr = rt.Store.InsertSummaryIfAbsent(ctx, content, tags, metadata, rt.Embedding.Embed)
			return werr
		})
		if err != nil {
			return stats, err
		}
		if created {
			stats.Created++
			logging.ConsolidateDebug("compress: created summary %s for theme %q (%d members)", hash, cluster.Theme, len(members))
		} else {
			stats.Skipped++
		}
	}

	return stats, nil
}

func loadByHash(ctx context.Context, s *store.Store, hashes []string) ([]store.Memory, error) {
	want := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		want[h] = true
	}
	var found []store.Memory
	err := s.ListLive(ctx, 500, func(m store.Memory) error {
		if want[m.ContentHash] {
			found = append(found, m)
		}
		return nil
	})
	return found, err
}

// buildSummaryContent concatenates each member's leading sentence or
// fragment, truncating with an ellipsis at the configured limit.
func buildSummaryContent(members []store.Memory, maxChars int) string {
	var parts []string
	for _, m := range members {
		parts = append(parts, leadingFragment(m.Content))
	}
	joined := strings.Join(parts, " ")
	if len(joined) <= maxChars {
		return joined
	}
	if maxChars <= 1 {
		return joined[:maxChars]
	}
	return joined[:maxChars-1] + "…"
}

func leadingFragment(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexAny(content, ".!?\n"); idx >= 0 {
		return strings.TrimSpace(content[:idx+1])
	}
	return content
}

// summaryTags unions consolidation + theme tags with the members' tags,
// capped at 10 total.
func summaryTags(theme string, members []store.Memory) []string {
	tags := []string{store.TagConsolidation, "cluster:" + theme}
	seen := map[string]bool{tags[0]: true, tags[1]: true}
	for _, m := range members {
		for _, t := range m.Tags {
			if seen[t] {
				continue
			}
			seen[t] = true
			tags = append(tags, t)
			if len(tags) >= 10 {
				return tags
			}
		}
	}
	return tags
}
