// Package graphtest holds an in-memory graph.Reader and graph.Writer.
package graphtest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/graph"
)

var ErrInjected = errors.New("injected graph failure")

type edge struct {
	model.Relationship
}

// Graph is safe for concurrent use. The Fail* fields inject errors.
type Graph struct {
	mu       sync.Mutex
	entities map[string]model.Entity
	tags     map[string]model.Tag
	tagged   map[string][]string
	edges    []edge

	FailReads         bool
	FailCreateEntity  int // fail the Nth CreateEntity call (1-based), 0 disables
	FailRelationships bool
	FailDelete        bool

	creates int
	Deleted []string
}

func New() *Graph {
	return &Graph{
		entities: map[string]model.Entity{},
		tags:     map[string]model.Tag{},
		tagged:   map[string][]string{},
	}
}

func (g *Graph) Add(entities ...model.Entity) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range entities {
		g.entities[e.ID] = e
	}
	return g
}

func (g *Graph) AddTag(entityID string, t model.Tag) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tags[t.ID] = t
	if entityID != "" {
		g.tagged[entityID] = append(g.tagged[entityID], t.ID)
	}
	return g
}

// Link adds an edge from source to target without endpoint checks.
func (g *Graph) Link(source, target string, c model.RelationCategory) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, edge{model.Relationship{SourceID: source, TargetID: target, Category: c}})
	return g
}

func (g *Graph) Has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entities[id]
	return ok
}

func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entities)
}

// Edges returns a copy of every edge touching id.
func (g *Graph) Edges(id string) []model.Relationship {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.Relationship
	for _, e := range g.edges {
		if e.SourceID == id || e.TargetID == id {
			out = append(out, e.Relationship)
		}
	}
	return out
}

func (g *Graph) read() error {
	if g.FailReads {
		return ErrInjected
	}
	return nil
}

func (g *Graph) Entity(ctx context.Context, id string) (*model.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	e, ok := g.entities[id]
	if !ok {
		return nil, apperr.NotFound("Entity")
	}
	return &e, nil
}

func (g *Graph) Entities(ctx context.Context, ids []string) ([]model.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []model.Entity
	for _, id := range ids {
		if e, ok := g.entities[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, e)
		}
	}
	return out, nil
}

func (g *Graph) Parents(ctx context.Context, id string) ([]graph.Parent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	var out []graph.Parent
	for _, e := range g.edges {
		if e.SourceID != id || !e.Category.IsContainment() {
			continue
		}
		if p, ok := g.entities[e.TargetID]; ok {
			out = append(out, graph.Parent{Entity: p, Category: e.Category})
		}
	}
	graph.SortParents(out)
	return out, nil
}

func (g *Graph) Children(ctx context.Context, parentID string, limit int) ([]model.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []model.Entity
	for _, e := range g.edges {
		if e.TargetID != parentID || !e.Category.IsContainment() || seen[e.SourceID] {
			continue
		}
		if c, ok := g.entities[e.SourceID]; ok {
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	sortByName(out)
	return limitEntities(out, limit), nil
}

func (g *Graph) Tags(ctx context.Context, entityID string) ([]model.Tag, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	var out []model.Tag
	for _, id := range g.tagged[entityID] {
		out = append(out, g.tags[id])
	}
	return out, nil
}

func (g *Graph) TagsByID(ctx context.Context, ids []string) ([]model.Tag, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	var out []model.Tag
	for _, id := range ids {
		if t, ok := g.tags[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *Graph) Related(ctx context.Context, id string, limit int) ([]model.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []model.Entity
	for _, e := range g.edges {
		if !e.Category.IsSemantic() {
			continue
		}
		other := ""
		switch id {
		case e.SourceID:
			other = e.TargetID
		case e.TargetID:
			other = e.SourceID
		default:
			continue
		}
		if m, ok := g.entities[other]; ok && !seen[other] {
			seen[other] = true
			out = append(out, m)
		}
	}
	sortByName(out)
	return limitEntities(out, limit), nil
}

func (g *Graph) HasSemanticEdges(ctx context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return false, err
	}
	for _, e := range g.edges {
		if e.Category.IsSemantic() && (e.SourceID == id || e.TargetID == id) {
			return true, nil
		}
	}
	return false, nil
}

func (g *Graph) UniverseMembers(ctx context.Context, universeID string, limit int) ([]model.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}

	// reverse containment BFS, bounded like the Cypher variant
	members := map[string]bool{}
	frontier := []string{universeID}
	for depth := 0; depth < 10 && len(frontier) > 0; depth++ {
		var next []string
		for _, target := range frontier {
			for _, e := range g.edges {
				if e.TargetID == target && e.Category.IsContainment() && !members[e.SourceID] && e.SourceID != universeID {
					members[e.SourceID] = true
					next = append(next, e.SourceID)
				}
			}
		}
		frontier = next
	}

	var out []model.Entity
	for id := range members {
		if e, ok := g.entities[id]; ok {
			out = append(out, e)
		}
	}
	sortByName(out)
	return limitEntities(out, limit), nil
}

func (g *Graph) SemanticEdges(ctx context.Context, ids []string) ([]model.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.read(); err != nil {
		return nil, err
	}
	in := map[string]bool{}
	for _, id := range ids {
		in[id] = true
	}
	var out []model.Relationship
	for _, e := range g.edges {
		if e.Category.IsSemantic() && in[e.SourceID] && in[e.TargetID] {
			out = append(out, e.Relationship)
		}
	}
	return out, nil
}

func (g *Graph) CreateEntity(ctx context.Context, e model.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.FailCreateEntity > 0 && g.creates == g.FailCreateEntity {
		return ErrInjected
	}
	g.entities[e.ID] = e
	return nil
}

func (g *Graph) CreateRelationship(ctx context.Context, rel model.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRelationships {
		return ErrInjected
	}
	_, okA := g.entities[rel.SourceID]
	_, okB := g.entities[rel.TargetID]
	if !okA || !okB {
		return apperr.NotFound("Relationship endpoint")
	}
	for _, e := range g.edges {
		if e.SourceID == rel.SourceID && e.TargetID == rel.TargetID &&
			e.Category == rel.Category && e.CustomLabel == rel.CustomLabel {
			return nil
		}
	}
	g.edges = append(g.edges, edge{rel})
	return nil
}

func (g *Graph) DeleteEntities(ctx context.Context, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailDelete {
		return ErrInjected
	}
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
		delete(g.entities, id)
		delete(g.tagged, id)
		g.Deleted = append(g.Deleted, id)
	}
	kept := g.edges[:0]
	for _, e := range g.edges {
		if !drop[e.SourceID] && !drop[e.TargetID] {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	return nil
}

func sortByName(es []model.Entity) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Name != es[j].Name {
			return es[i].Name < es[j].Name
		}
		return es[i].ID < es[j].ID
	})
}

func limitEntities(es []model.Entity, limit int) []model.Entity {
	if limit > 0 && len(es) > limit {
		return es[:limit]
	}
	return es
}

var (
	_ graph.Reader = (*Graph)(nil)
	_ graph.Writer = (*Graph)(nil)
)
