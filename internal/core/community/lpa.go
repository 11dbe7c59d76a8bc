package community

import (
	"sort"

	"github.com/agenthands/canon/internal/core/model"
)

// LabelPropagationDetector implements community detection using the Label
// Propagation Algorithm. Nodes are visited in id order and ties go to the
// lexicographically largest label, so results are deterministic.
type LabelPropagationDetector struct {
	MaxIterations int
}

func NewLabelPropagationDetector() *LabelPropagationDetector {
	return &LabelPropagationDetector{MaxIterations: 20}
}

func (d *LabelPropagationDetector) Detect(nodes []model.Entity, edges []model.Relationship) ([][]model.Entity, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	byID, adj := adjacency(nodes, edges)
	order := sortedIDs(byID)

	labels := make(map[string]string, len(order))
	for _, id := range order {
		labels[id] = id
	}

	for iter := 0; iter < d.MaxIterations; iter++ {
		changed := 0
		for _, u := range order {
			neighbors := adj[u]
			if len(neighbors) == 0 {
				continue
			}

			counts := make(map[string]int)
			maxCount := 0
			for v, weight := range neighbors {
				l := labels[v]
				counts[l] += weight
				if counts[l] > maxCount {
					maxCount = counts[l]
				}
			}

			var candidates []string
			for l, c := range counts {
				if c == maxCount {
					candidates = append(candidates, l)
				}
			}
			sort.Strings(candidates)
			best := candidates[len(candidates)-1]

			if labels[u] != best {
				labels[u] = best
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	clusters := make(map[string][]string)
	for _, id := range order {
		clusters[labels[id]] = append(clusters[labels[id]], id)
	}

	var communities [][]model.Entity
	for _, ids := range clusters {
		if len(ids) >= 2 {
			communities = append(communities, collect(byID, ids))
		}
	}
	sortCommunities(communities)
	return communities, nil
}
