// Package community clusters entities of one universe by their semantic
// relationships. The assembler uses the clusters to rank suggested context.
package community

import (
	"fmt"
	"sort"

	"github.com/agenthands/canon/internal/core/model"
)

type Detector interface {
	// Detect returns clusters of two or more entities. Clusters are ordered
	// by size (largest first) then by smallest member id; members by id.
	Detect(nodes []model.Entity, edges []model.Relationship) ([][]model.Entity, error)
}

const (
	LabelPropagation = "lpa"
	Components       = "components"
)

// NewDetector returns the detector registered under name. An empty name
// selects label propagation.
func NewDetector(name string) (Detector, error) {
	switch name {
	case "", LabelPropagation:
		return NewLabelPropagationDetector(), nil
	case Components:
		return NewComponentDetector(), nil
	}
	return nil, fmt.Errorf("unknown community detector %q", name)
}

// ComponentDetector treats each connected component as a community.
type ComponentDetector struct{}

func NewComponentDetector() *ComponentDetector {
	return &ComponentDetector{}
}

func (d *ComponentDetector) Detect(nodes []model.Entity, edges []model.Relationship) ([][]model.Entity, error) {
	byID, adj := adjacency(nodes, edges)

	visited := make(map[string]bool)
	var communities [][]model.Entity
	for _, n := range sortedIDs(byID) {
		if visited[n] {
			continue
		}
		var component []string
		d.dfs(n, adj, visited, &component)
		// singletons are not communities
		if len(component) >= 2 {
			communities = append(communities, collect(byID, component))
		}
	}
	sortCommunities(communities)
	return communities, nil
}

func (d *ComponentDetector) dfs(u string, adj map[string]map[string]int, visited map[string]bool, component *[]string) {
	visited[u] = true
	*component = append(*component, u)
	for _, v := range sortedKeys(adj[u]) {
		if !visited[v] {
			d.dfs(v, adj, visited, component)
		}
	}
}

// Affinity scores every clustered entity by how many anchors share its
// community. Entities outside any community are absent from the result.
func Affinity(communities [][]model.Entity, anchors []string) map[string]int {
	isAnchor := make(map[string]bool, len(anchors))
	for _, a := range anchors {
		isAnchor[a] = true
	}

	scores := make(map[string]int)
	for _, c := range communities {
		hits := 0
		for _, e := range c {
			if isAnchor[e.ID] {
				hits++
			}
		}
		for _, e := range c {
			scores[e.ID] = hits
		}
	}
	return scores
}

// adjacency builds an undirected, weighted graph restricted to nodes.
// Parallel edges add weight.
func adjacency(nodes []model.Entity, edges []model.Relationship) (map[string]model.Entity, map[string]map[string]int) {
	byID := make(map[string]model.Entity, len(nodes))
	adj := make(map[string]map[string]int, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		adj[n.ID] = make(map[string]int)
	}
	for _, e := range edges {
		if _, ok := byID[e.SourceID]; !ok {
			continue
		}
		if _, ok := byID[e.TargetID]; !ok {
			continue
		}
		if e.SourceID == e.TargetID {
			continue
		}
		adj[e.SourceID][e.TargetID]++
		adj[e.TargetID][e.SourceID]++
	}
	return byID, adj
}

func collect(byID map[string]model.Entity, ids []string) []model.Entity {
	sort.Strings(ids)
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

func sortCommunities(cs [][]model.Entity) {
	sort.Slice(cs, func(i, j int) bool {
		if len(cs[i]) != len(cs[j]) {
			return len(cs[i]) > len(cs[j])
		}
		return cs[i][0].ID < cs[j][0].ID
	})
}

func sortedIDs(m map[string]model.Entity) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
