// Package assembler builds the bounded slice of the canon graph that is
// handed to one generation call. It only reads the graph.
package assembler

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/canon/internal/core/community"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/graph"
	"github.com/agenthands/canon/internal/logging"
)

type Options struct {
	// MaxDepth bounds the ancestor walk.
	MaxDepth int
	// MaxSuggestions caps the suggested list. Explicit selections are kept
	// even past the cap.
	MaxSuggestions  int
	MaxSiblings     int
	CommunitySample int
	// Detector clusters universe members; nil means label propagation.
	Detector community.Detector
}

func DefaultOptions() Options {
	return Options{
		MaxDepth:        10,
		MaxSuggestions:  20,
		MaxSiblings:     25,
		CommunitySample: 200,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = d.MaxSuggestions
	}
	if o.MaxSiblings <= 0 {
		o.MaxSiblings = d.MaxSiblings
	}
	if o.CommunitySample < 0 {
		o.CommunitySample = 0
	}
	if o.Detector == nil {
		o.Detector = community.NewLabelPropagationDetector()
	}
	return o
}

type Assembler struct {
	graph    graph.Reader
	detector community.Detector
	opts     Options
	logger   *log.Logger
}

func New(reader graph.Reader, opts Options, logger *log.Logger) *Assembler {
	opts = opts.withDefaults()
	return &Assembler{
		graph:    reader,
		detector: opts.Detector,
		opts:     opts,
		logger:   logging.OrDiscard(logger),
	}
}

// Assemble resolves the context for generating entities of targetType from
// sourceID. Only a missing source is an error; unknown selected ids are
// skipped.
func (a *Assembler) Assemble(ctx context.Context, sourceID string, targetType model.EntityType, sel model.Selection) (*model.GenerationContext, error) {
	source, err := a.graph.Entity(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	ancestors, truncated, err := a.lineage(ctx, *source)
	if err != nil {
		return nil, err
	}

	gc := &model.GenerationContext{
		Source:     *source,
		TargetType: targetType,
		Ancestors:  ancestors,
		Universe:   universeOf(*source, ancestors),
	}

	var (
		siblings, explicit, related, members []model.Entity
		sourceTags, selectedTags             []model.Tag
		involved                             bool
	)

	g, gctx := errgroup.WithContext(ctx)
	if parent := gc.Parent(); parent != nil {
		parentID := parent.ID
		g.Go(func() error {
			var err error
			siblings, err = a.graph.Children(gctx, parentID, a.opts.MaxSiblings+1)
			return err
		})
	}
	g.Go(func() error {
		var err error
		explicit, err = a.graph.Entities(gctx, dedupeStrings(sel.EntityIDs))
		return err
	})
	g.Go(func() error {
		var err error
		sourceTags, err = a.graph.Tags(gctx, source.ID)
		return err
	})
	g.Go(func() error {
		var err error
		selectedTags, err = a.graph.TagsByID(gctx, dedupeStrings(sel.TagIDs))
		return err
	})
	g.Go(func() error {
		var err error
		related, err = a.graph.Related(gctx, source.ID, a.opts.MaxSuggestions)
		return err
	})
	g.Go(func() error {
		var err error
		involved, err = a.graph.HasSemanticEdges(gctx, source.ID)
		return err
	})
	if gc.Universe != nil && a.opts.CommunitySample > 0 {
		universeID := gc.Universe.ID
		g.Go(func() error {
			var err error
			members, err = a.rankedMembers(gctx, universeID, source.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to assemble context for %s: %w", source.ID, err)
	}

	excluded := make(map[string]bool, len(ancestors)+1)
	excluded[source.ID] = true
	for _, anc := range ancestors {
		excluded[anc.ID] = true
	}

	gc.Siblings = limit(without(siblings, excluded), a.opts.MaxSiblings)
	gc.Explicit = without(explicit, excluded)
	gc.Suggested = a.suggest(excluded, gc.Siblings, gc.Explicit, related, members)
	gc.Tags = mergeTags(sourceTags, selectedTags)
	gc.Summary = model.ContextSummary{
		EntityCount:     1 + gc.ContextEntityCount(),
		TagCount:        len(gc.Tags),
		HasInvolvements: involved,
		Truncated:       truncated,
	}

	a.logger.Debug("context assembled",
		"source", source.ID,
		"target", targetType,
		"ancestors", len(gc.Ancestors),
		"suggested", len(gc.Suggested),
		"tags", len(gc.Tags),
		"truncated", truncated,
	)
	return gc, nil
}

// lineage walks the first containment parent per hop and returns the chain
// root first. A revisited id or the depth bound ends the walk early and
// reports truncation.
func (a *Assembler) lineage(ctx context.Context, source model.Entity) ([]model.Entity, bool, error) {
	visited := map[string]bool{source.ID: true}
	chain := []model.Entity{}

	cur := source
	for cur.Type != model.TypeUniverse {
		parents, err := a.graph.Parents(ctx, cur.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to walk lineage of %s: %w", source.ID, err)
		}
		if len(parents) == 0 {
			break
		}
		next := parents[0].Entity
		if visited[next.ID] {
			a.logger.Warn("containment cycle", "source", source.ID, "at", cur.ID, "parent", next.ID)
			reverse(chain)
			return chain, true, nil
		}
		if len(chain) >= a.opts.MaxDepth {
			a.logger.Warn("lineage deeper than limit", "source", source.ID, "max_depth", a.opts.MaxDepth)
			reverse(chain)
			return chain, true, nil
		}
		visited[next.ID] = true
		chain = append(chain, next)
		cur = next
	}

	reverse(chain)
	return chain, false, nil
}

func (a *Assembler) rankedMembers(ctx context.Context, universeID, sourceID string) ([]model.Entity, error) {
	members, err := a.graph.UniverseMembers(ctx, universeID, a.opts.CommunitySample)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(members)+1)
	ids = append(ids, sourceID)
	nodes := make([]model.Entity, 0, len(members)+1)
	nodes = append(nodes, model.Entity{ID: sourceID})
	for _, m := range members {
		if m.ID == sourceID {
			continue
		}
		ids = append(ids, m.ID)
		nodes = append(nodes, m)
	}

	edges, err := a.graph.SemanticEdges(ctx, ids)
	if err != nil {
		return nil, err
	}
	communities, err := a.detector.Detect(nodes, edges)
	if err != nil {
		return nil, err
	}
	scores := community.Affinity(communities, []string{sourceID})

	ranked := nodes[1:]
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})
	return ranked, nil
}

// suggest merges the contributors in priority order, dedupes by id and
// drops excluded ids. Non-explicit entries fill whatever room the explicit
// ones leave under MaxSuggestions.
func (a *Assembler) suggest(excluded map[string]bool, siblings, explicit, related, members []model.Entity) []model.Entity {
	isExplicit := make(map[string]bool, len(explicit))
	for _, e := range explicit {
		isExplicit[e.ID] = true
	}
	room := a.opts.MaxSuggestions - len(explicit)

	seen := make(map[string]bool)
	out := []model.Entity{}
	for _, group := range [][]model.Entity{explicit, siblings, related, members} {
		for _, e := range group {
			if excluded[e.ID] || seen[e.ID] {
				continue
			}
			if !isExplicit[e.ID] {
				if room <= 0 {
					continue
				}
				room--
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out
}

func universeOf(source model.Entity, ancestors []model.Entity) *model.Ref {
	if source.Type == model.TypeUniverse {
		ref := source.Ref()
		return &ref
	}
	if len(ancestors) > 0 && ancestors[0].Type == model.TypeUniverse {
		ref := ancestors[0].Ref()
		return &ref
	}
	return nil
}

func without(es []model.Entity, excluded map[string]bool) []model.Entity {
	out := make([]model.Entity, 0, len(es))
	for _, e := range es {
		if !excluded[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

func limit(es []model.Entity, n int) []model.Entity {
	if len(es) > n {
		return es[:n]
	}
	return es
}

func mergeTags(groups ...[]model.Tag) []model.Tag {
	seen := make(map[string]bool)
	out := []model.Tag{}
	for _, g := range groups {
		for _, t := range g {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func reverse(es []model.Entity) {
	for i, j := 0, len(es)-1; i < j; i, j = i+1, j-1 {
		es[i], es[j] = es[j], es[i]
	}
}
