package assembler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/community"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/graph/graphtest"
)

func ent(id string, t model.EntityType, name string) model.Entity {
	return model.Entity{ID: id, Type: t, Name: name}
}

// world: Aethel > Ironforge > {Elara, Borin}; Lantern held by Elara;
// Mira lives elsewhere in Aethel.
func world() *graphtest.Graph {
	g := graphtest.New().Add(
		ent("u1", model.TypeUniverse, "Aethel"),
		ent("p1", model.TypePlace, "Ironforge"),
		ent("p2", model.TypePlace, "Saltmarsh"),
		ent("c1", model.TypeCharacter, "Elara"),
		ent("c2", model.TypeCharacter, "Borin"),
		ent("c3", model.TypeCharacter, "Mira"),
		ent("i1", model.TypeItem, "Lantern"),
	)
	g.Link("p1", "u1", model.RelLocatedIn).
		Link("p2", "u1", model.RelLocatedIn).
		Link("c1", "p1", model.RelLivesIn).
		Link("c2", "p1", model.RelLivesIn).
		Link("c3", "p2", model.RelLivesIn).
		Link("i1", "c1", model.RelHeldBy)
	g.AddTag("c1", model.Tag{ID: "t1", Name: "stoic", Kind: model.TagDescriptor}).
		AddTag("", model.Tag{ID: "t2", Name: "grim", Kind: model.TagFeeling})
	return g
}

func entityIDs(es []model.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func assertExcluded(t *testing.T, gc *model.GenerationContext) {
	t.Helper()
	ids := entityIDs(gc.Suggested)
	assert.NotContains(t, ids, gc.Source.ID)
	for _, anc := range gc.Ancestors {
		assert.NotContains(t, ids, anc.ID)
	}
}

func TestAssembleHappyPath(t *testing.T) {
	a := New(world(), DefaultOptions(), nil)

	gc, err := a.Assemble(context.Background(), "c1", model.TypePlace, model.Selection{
		EntityIDs: []string{"c3", "ghost", "c3"},
		TagIDs:    []string{"t2", "t1", "missing"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Elara", gc.Source.Name)
	assert.Equal(t, []string{"u1", "p1"}, entityIDs(gc.Ancestors))
	require.NotNil(t, gc.Universe)
	assert.Equal(t, "Aethel", gc.Universe.Name)
	assert.Equal(t, "p1", gc.Parent().ID)

	assert.Equal(t, []string{"c2"}, entityIDs(gc.Siblings))
	assert.Equal(t, []string{"c3"}, entityIDs(gc.Explicit))
	assert.Contains(t, entityIDs(gc.Suggested), "c2")
	assert.Contains(t, entityIDs(gc.Suggested), "c3")
	assertExcluded(t, gc)

	require.Len(t, gc.Tags, 2)
	assert.Equal(t, "t1", gc.Tags[0].ID)
	assert.Equal(t, "t2", gc.Tags[1].ID)

	assert.Equal(t, 1+2+len(gc.Suggested), gc.Summary.EntityCount)
	assert.Equal(t, 2, gc.Summary.TagCount)
	assert.False(t, gc.Summary.HasInvolvements)
	assert.False(t, gc.Summary.Truncated)
}

func TestAssembleSourceNotFound(t *testing.T) {
	_, err := New(world(), DefaultOptions(), nil).Assemble(context.Background(), "nope", model.TypePlace, model.Selection{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestAssembleGraphFailure(t *testing.T) {
	g := world()
	g.FailReads = true
	_, err := New(g, DefaultOptions(), nil).Assemble(context.Background(), "c1", model.TypePlace, model.Selection{})
	require.Error(t, err)
	assert.False(t, apperr.IsNotFound(err))
}

func TestAssembleUniverseSource(t *testing.T) {
	gc, err := New(world(), DefaultOptions(), nil).Assemble(context.Background(), "u1", model.TypePlace, model.Selection{})
	require.NoError(t, err)

	assert.Empty(t, gc.Ancestors)
	assert.Empty(t, gc.Siblings)
	require.NotNil(t, gc.Universe)
	assert.Equal(t, "u1", gc.Universe.ID)
	assertExcluded(t, gc)
}

func TestAssembleCycleTruncates(t *testing.T) {
	g := graphtest.New().Add(
		ent("a", model.TypePlace, "A"),
		ent("b", model.TypePlace, "B"),
		ent("c", model.TypePlace, "C"),
	)
	g.Link("a", "b", model.RelLocatedIn).
		Link("b", "c", model.RelLocatedIn).
		Link("c", "a", model.RelLocatedIn).
		Link("a", "b", model.RelKnows)

	gc, err := New(g, DefaultOptions(), nil).Assemble(context.Background(), "a", model.TypePlace, model.Selection{
		EntityIDs: []string{"a", "b", "c"},
	})
	require.NoError(t, err)

	assert.True(t, gc.Summary.Truncated)
	assert.Equal(t, []string{"c", "b"}, entityIDs(gc.Ancestors))
	assert.Empty(t, gc.Suggested)
	assert.Empty(t, gc.Explicit)
	assert.True(t, gc.Summary.HasInvolvements)
	assertExcluded(t, gc)
}

func TestAssembleSelfLoop(t *testing.T) {
	g := graphtest.New().Add(ent("a", model.TypePlace, "A"))
	g.Link("a", "a", model.RelPartOf)

	gc, err := New(g, DefaultOptions(), nil).Assemble(context.Background(), "a", model.TypeItem, model.Selection{EntityIDs: []string{"a"}})
	require.NoError(t, err)
	assert.True(t, gc.Summary.Truncated)
	assert.Empty(t, gc.Ancestors)
	assert.Empty(t, gc.Suggested)
}

func TestAssembleDepthBound(t *testing.T) {
	g := graphtest.New()
	for i := 0; i < 15; i++ {
		g.Add(ent(fmt.Sprintf("p%d", i), model.TypePlace, fmt.Sprintf("P%d", i)))
		if i > 0 {
			g.Link(fmt.Sprintf("p%d", i-1), fmt.Sprintf("p%d", i), model.RelLocatedIn)
		}
	}

	opts := DefaultOptions()
	opts.MaxDepth = 10
	gc, err := New(g, opts, nil).Assemble(context.Background(), "p0", model.TypePlace, model.Selection{})
	require.NoError(t, err)

	assert.True(t, gc.Summary.Truncated)
	require.Len(t, gc.Ancestors, 10)
	assert.Equal(t, "p10", gc.Ancestors[0].ID)
	assert.Equal(t, "p1", gc.Ancestors[9].ID)
	assert.Nil(t, gc.Universe)
	assertExcluded(t, gc)
}

func TestAssembleExplicitSurvivesCap(t *testing.T) {
	g := world()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		g.Add(ent(id, model.TypeCharacter, "Sib "+id)).Link(id, "p1", model.RelLivesIn)
	}
	g.Add(ent("x1", model.TypeItem, "X1"), ent("x2", model.TypeItem, "X2"))

	opts := DefaultOptions()
	opts.MaxSuggestions = 2
	gc, err := New(g, opts, nil).Assemble(context.Background(), "c1", model.TypeItem, model.Selection{
		EntityIDs: []string{"x1", "x2", "c3"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"x1", "x2", "c3"}, entityIDs(gc.Suggested))
}

func TestAssembleCapFillsWithSiblingsFirst(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSuggestions = 2
	gc, err := New(world(), opts, nil).Assemble(context.Background(), "c1", model.TypeItem, model.Selection{
		EntityIDs: []string{"c3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c3", "c2"}, entityIDs(gc.Suggested))
}

func TestAssembleRanksCommunityMembers(t *testing.T) {
	g := world()
	g.Add(
		ent("m2", model.TypeCharacter, "Kael"),
		ent("m3", model.TypeCharacter, "Zed"),
		ent("m4", model.TypeCharacter, "Abel"),
	)
	g.Link("m2", "u1", model.RelPartOf).
		Link("m3", "u1", model.RelPartOf).
		Link("m4", "u1", model.RelPartOf).
		Link("c1", "m2", model.RelKnows).
		Link("m2", "m3", model.RelAllyOf)

	gc, err := New(g, DefaultOptions(), nil).Assemble(context.Background(), "c1", model.TypeEvent, model.Selection{})
	require.NoError(t, err)

	ids := entityIDs(gc.Suggested)
	assert.Contains(t, ids, "m2")
	assert.Less(t, indexOf(ids, "m3"), indexOf(ids, "m4"))
	assert.True(t, gc.Summary.HasInvolvements)
	assertExcluded(t, gc)
}

type fixedDetector struct {
	calls       int
	communities [][]model.Entity
}

func (d *fixedDetector) Detect(nodes []model.Entity, edges []model.Relationship) ([][]model.Entity, error) {
	d.calls++
	return d.communities, nil
}

func TestAssembleUsesConfiguredDetector(t *testing.T) {
	g := world()
	g.Add(
		ent("m3", model.TypeCharacter, "Zed"),
		ent("m4", model.TypeCharacter, "Abel"),
	)
	g.Link("m3", "u1", model.RelPartOf).
		Link("m4", "u1", model.RelPartOf).
		Link("c1", "m3", model.RelKnows)

	det := &fixedDetector{communities: [][]model.Entity{{{ID: "c1"}, {ID: "m4"}}}}
	opts := DefaultOptions()
	opts.Detector = det

	gc, err := New(g, opts, nil).Assemble(context.Background(), "c1", model.TypeEvent, model.Selection{})
	require.NoError(t, err)
	assert.Equal(t, 1, det.calls)

	ids := entityIDs(gc.Suggested)
	assert.Contains(t, ids, "m3")
	assert.Contains(t, ids, "m4")
	assertExcluded(t, gc)
}

func TestAssembleComponentDetector(t *testing.T) {
	g := world()
	g.Add(
		ent("m2", model.TypeCharacter, "Kael"),
		ent("m3", model.TypeCharacter, "Zed"),
		ent("m4", model.TypeCharacter, "Abel"),
	)
	g.Link("m2", "u1", model.RelPartOf).
		Link("m3", "u1", model.RelPartOf).
		Link("m4", "u1", model.RelPartOf).
		Link("c1", "m2", model.RelKnows).
		Link("m2", "m3", model.RelAllyOf)

	opts := DefaultOptions()
	opts.Detector = community.NewComponentDetector()
	gc, err := New(g, opts, nil).Assemble(context.Background(), "c1", model.TypeEvent, model.Selection{})
	require.NoError(t, err)

	ids := entityIDs(gc.Suggested)
	assert.Less(t, indexOf(ids, "m3"), indexOf(ids, "m4"))
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
