package memory

import (
	"context"
	"math"

	"fractal/internal/ports"
)

// compressL4Locked runs cluster-based compression when the L4 fact count
// exceeds T4 (§4.4 step 4): cluster by cosine similarity >= theta, summarise
// each cluster of size >= min_cluster_size into one aggregated fact,
// leave singletons untouched, stop once count <= T4. Requires the
// configured vector store to implement VectorEnumerator; otherwise this
// degrades to a no-op (count may exceed the soft cap, bounded by one
// compression cycle per the spec's epsilon allowance).
func (m *Manager) compressL4Locked(ctx context.Context) {
	if m.vector == nil {
		return
	}
	enumerator, ok := m.vector.(ports.VectorEnumerator)
	if !ok {
		m.log.Debug("L4 compression skipped: vector store does not support enumeration")
		return
	}

	count, err := m.vector.Count(ctx)
	if err != nil || count <= m.cfg.L4SoftCap {
		return
	}

	records, err := enumerator.All(ctx)
	if err != nil {
		m.log.Warn("L4 compression: failed to enumerate vectors: %v", err)
		return
	}

	clusters := clusterByCosine(records, m.cfg.ClusterSimilarityThreshold)
	for _, cluster := range clusters {
		if len(cluster) < m.cfg.ClusterMinSize {
			continue // noise / singleton clusters are left untouched
		}
		units := make([]Unit, len(cluster))
		for i, r := range cluster {
			content, _ := r.Metadata["content"].(string)
			units[i] = Unit{UnitID: r.ID, Content: content}
		}
		summary, err := m.sum.Summarize(ctx, units)
		if err != nil {
			summary, _ = RuleBasedSummarizer{}.Summarize(ctx, units)
		}

		centroid := centroidOf(cluster)
		aggregateID := newUnitID()
		if err := m.vector.Upsert(ctx, aggregateID, centroid, map[string]any{
			"content": summary, "aggregated_from": len(cluster),
		}); err != nil {
			m.log.Warn("L4 compression: failed to upsert aggregated fact: %v", err)
			continue
		}
		for _, r := range cluster {
			_ = m.vector.Delete(ctx, r.ID)
		}

		newCount, _ := m.vector.Count(ctx)
		if newCount <= m.cfg.L4SoftCap {
			return
		}
	}
}

// clusterByCosine runs a simple greedy agglomeration: each record joins
// the first existing cluster whose representative (first member) has
// cosine similarity >= threshold, else starts a new cluster. This is
// deliberately simple relative to a density-based algorithm (DBSCAN);
// it is sufficient for the bounded soft-cap invariant the spec tests.
func clusterByCosine(records []ports.VectorRecord, threshold float64) [][]ports.VectorRecord {
	var clusters [][]ports.VectorRecord
	for _, r := range records {
		placed := false
		for i, cluster := range clusters {
			if cosineSim(cluster[0].Vector, r.Vector) >= threshold {
				clusters[i] = append(clusters[i], r)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []ports.VectorRecord{r})
		}
	}
	return clusters
}

func centroidOf(records []ports.VectorRecord) []float32 {
	if len(records) == 0 {
		return nil
	}
	dims := len(records[0].Vector)
	sum := make([]float64, dims)
	for _, r := range records {
		for i, v := range r.Vector {
			if i < dims {
				sum[i] += float64(v)
			}
		}
	}
	out := make([]float32, dims)
	for i, s := range sum {
		out[i] = float32(s / float64(len(records)))
	}
	return out
}

func cosineSim(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
