package consolidate

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/store"
	"github.com/fyrsmithlabs/memoryd/internal/vector"
)

// ClusterPhase groups live memories by semantic similarity using a
// DBSCAN-family density algorithm over cosine distance (1 - cosine).
// eps is derived per-run from the 90th percentile of nearest-neighbor
// distances in the working set, bounded to the configured range so a
// sparse or dense corpus doesn't produce degenerate clusters.
type ClusterPhase struct{}

func (p *ClusterPhase) Name() string { return "cluster" }

func (p *ClusterPhase) Run(ctx context.Context, rt *Runtime) (PhaseStats, error) {
	stats := PhaseStats{}

	var pool []store.Memory
	err := rt.Store.ListLive(ctx, 500, func(m store.Memory) error {
		stats.Scanned++
		pool = append(pool, m)
		return nil
	})
	if err != nil {
		return stats, err
	}

	minSamples := rt.Config.Cluster.MinSamples
	if len(pool) < minSamples {
		logging.ConsolidateDebug("cluster: pool of %d smaller than min_samples %d, skipping", len(pool), minSamples)
		return stats, nil
	}

	dist := distanceMatrix(pool)
	eps := estimateEps(dist, rt.Config.Cluster.EpsMin, rt.Config.Cluster.EpsMax)
	labels := dbscan(dist, eps, minSamples)

	groups := make(map[int][]int)
	for idx, label := range labels {
		if label < 0 {
			continue
		}
		groups[label] = append(groups[label], idx)
	}

	var inputs []store.ClusterInput
	ordinal := 0
	for _, members := range groups {
		if len(members) < minSamples {
			continue
		}
		ordinal++
		centroid := centroidOf(pool, members)
		theme := dominantTag(pool, members, ordinal)
		hashes := make([]string, len(members))
		for i, idx := range members {
			hashes[i] = pool[idx].ContentHash
		}
		inputs = append(inputs, store.ClusterInput{
			Theme:        theme,
			Centroid:     centroid,
			MemberHashes: hashes,
		})
	}

	if len(inputs) == 0 {
		logging.ConsolidateDebug("cluster: no clusters met min_samples=%d with eps=%.3f", minSamples, eps)
		return stats, nil
	}

	var ids []string
	err = rt.Coordinator.WithWrite(ctx, func(ctx context.Context) error {
		var werr error
		ids, werr = rt.Store.ReplaceClusters(ctx, inputs)
		return werr
	})
	if err != nil {
		return stats, err
	}

	stats.Created = len(ids)
	rt.LastClusters = inputs
	logging.ConsolidateDebug("cluster: replaced with %d clusters (eps=%.3f)", len(ids), eps)
	return stats, nil
}

// distanceMatrix computes pairwise cosine distance (1 - cosine) for the
// working set. Quadratic in the size of the whole live pool, since the
// pool accumulates every ListLive batch before clustering; the ListLive
// batch size does not bound it.
func distanceMatrix(pool []store.Memory) [][]float64 {
	n := len(pool)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dist := 1 - vector.Cosine(pool[i].Embedding, pool[j].Embedding)
			d[i][j] = dist
			d[j][i] = dist
		}
	}
	return d
}

// estimateEps takes the 90th percentile of each point's nearest-neighbor
// distance, bounded to [epsMin, epsMax].
func estimateEps(dist [][]float64, epsMin, epsMax float64) float64 {
	n := len(dist)
	if n == 0 {
		return epsMin
	}
	nn := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		best := math.Inf(1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if dist[i][j] < best {
				best = dist[i][j]
			}
		}
		if !math.IsInf(best, 1) {
			nn = append(nn, best)
		}
	}
	if len(nn) == 0 {
		return epsMin
	}
	sort.Float64s(nn)
	idx := int(math.Ceil(0.9*float64(len(nn)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(nn) {
		idx = len(nn) - 1
	}
	eps := nn[idx]
	if eps < epsMin {
		eps = epsMin
	}
	if eps > epsMax {
		eps = epsMax
	}
	return eps
}

// dbscan labels each point with a cluster id, or -1 for noise. A
// straightforward O(n^2) DBSCAN: fine for the batch sizes this phase
// operates on, without pulling in an external clustering library (none
// in the retrieval pack offers DBSCAN specifically).
func dbscan(dist [][]float64, eps float64, minSamples int) []int {
	n := len(dist)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -2 // unvisited
	}
	visited := make([]bool, n)
	cluster := -1

	var regionQuery = func(p int) []int {
		var neighbors []int
		for q := 0; q < n; q++ {
			if q != p && dist[p][q] <= eps {
				neighbors = append(neighbors, q)
			}
		}
		return neighbors
	}

	for p := 0; p < n; p++ {
		if visited[p] {
			continue
		}
		visited[p] = true
		neighbors := regionQuery(p)
		if len(neighbors) < minSamples-1 {
			labels[p] = -1
			continue
		}
		cluster++
		labels[p] = cluster
		seeds := append([]int(nil), neighbors...)
		for i := 0; i < len(seeds); i++ {
			q := seeds[i]
			if !visited[q] {
				visited[q] = true
				qNeighbors := regionQuery(q)
				if len(qNeighbors) >= minSamples-1 {
					seeds = append(seeds, qNeighbors...)
				}
			}
			if labels[q] < 0 {
				labels[q] = cluster
			}
		}
	}
	return labels
}

func centroidOf(pool []store.Memory, members []int) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(pool[members[0]].Embedding)
	sum := make([]float64, dim)
	for _, idx := range members {
		for d, v := range pool[idx].Embedding {
			sum[d] += float64(v)
		}
	}
	centroid := make([]float32, dim)
	for d := range sum {
		centroid[d] = float32(sum[d] / float64(len(members)))
	}
	return vector.Normalize(centroid)
}

func dominantTag(pool []store.Memory, members []int, ordinal int) string {
	counts := make(map[string]int)
	for _, idx := range members {
		for _, t := range pool[idx].Tags {
			counts[t]++
		}
	}
	best := ""
	bestCount := 0
	for tag, count := range counts {
		if count > bestCount || (count == bestCount && tag < best) {
			best, bestCount = tag, count
		}
	}
	if best == "" {
		return clusterFallbackTheme(ordinal)
	}
	return best
}

func clusterFallbackTheme(ordinal int) string {
	return "cluster-" + strconv.Itoa(ordinal)
}
