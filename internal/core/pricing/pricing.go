// Package pricing turns the shape of a generation request into a credit
// cost. Everything here is pure: same input, same estimate.
package pricing

import (
	"fmt"
	"math"

	"github.com/agenthands/canon/internal/core/model"
)

// DefaultBaseCost prices entity types with no entry in BaseCosts.
const DefaultBaseCost = 5

var BaseCosts = map[model.EntityType]int{
	model.TypeUniverse:  10,
	model.TypePlace:     5,
	model.TypeCharacter: 5,
	model.TypeFaction:   5,
	model.TypeEvent:     4,
	model.TypeNarrative: 8,
	model.TypeItem:      3,
	model.TypeProduct:   3,
	model.TypeTag:       1,
}

const (
	creativityRate = 4 // credits per entity at creativity 1.0
	contextPer     = 2 // one credit per this many context entities
	tagsPer        = 3 // one credit per this many tags

	regenerationDiscountPct = 50
	variationDiscountPct    = 25

	outlineBase    = 2
	outlinePerNode = 2 // one outline credit per this many nodes

	// maxCount keeps every product well inside int range.
	maxCount = 10_000
)

type ItemKind string

const (
	KindBase     ItemKind = "base"
	KindModifier ItemKind = "modifier"
)

const (
	PhaseOutline = "outline"
	PhaseDetail  = "detail"
)

type Item struct {
	Label   string   `json:"label"`
	Credits int      `json:"credits"`
	Kind    ItemKind `json:"kind"`
	Phase   string   `json:"phase,omitempty"`
}

type Input struct {
	TargetType     model.EntityType `json:"targetType"`
	EntityCount    int              `json:"entityCount"`
	Creativity     float64          `json:"creativity"`
	ContextCount   int              `json:"contextCount"`
	TagCount       int              `json:"tagCount"`
	IsRegeneration bool             `json:"isRegeneration"`
	IsVariation    bool             `json:"isVariation"`
}

// Estimate is an itemized price. Total always equals the sum of Items.
type Estimate struct {
	Total   int    `json:"total"`
	Items   []Item `json:"items"`
	Summary string `json:"summary"`
}

// BaseCost returns the per-entity base for t and whether t has its own tier.
func BaseCost(t model.EntityType) (int, bool) {
	c, ok := BaseCosts[t]
	if !ok {
		return DefaultBaseCost, false
	}
	return c, true
}

// EstimateCost is Breakdown(in).Total.
func EstimateCost(in Input) int {
	return Breakdown(in).Total
}

func Breakdown(in Input) Estimate {
	in = normalize(in)
	n := in.EntityCount

	unit, known := BaseCost(in.TargetType)
	base := unit * n

	typeLabel := string(in.TargetType)
	if !known {
		typeLabel = "entity (default tier)"
	}
	items := []Item{{
		Label:   fmt.Sprintf("Base: %d × %s @ %d", n, typeLabel, unit),
		Credits: base,
		Kind:    KindBase,
	}}

	if c := creativitySurcharge(in.Creativity, n); c > 0 {
		items = append(items, Item{
			Label:   fmt.Sprintf("Creativity %d%%", percent(in.Creativity)),
			Credits: c,
			Kind:    KindModifier,
		})
	}
	if c := ceilDiv(in.ContextCount, contextPer); c > 0 {
		items = append(items, Item{
			Label:   fmt.Sprintf("Context: %d entities", in.ContextCount),
			Credits: c,
			Kind:    KindModifier,
		})
	}
	if c := ceilDiv(in.TagCount, tagsPer); c > 0 {
		items = append(items, Item{
			Label:   fmt.Sprintf("Tags: %d", in.TagCount),
			Credits: c,
			Kind:    KindModifier,
		})
	}

	// regeneration wins over variation; neither may push an entity below 1
	switch {
	case in.IsRegeneration:
		if d := discount(base, regenerationDiscountPct, n); d > 0 {
			items = append(items, Item{Label: "Regeneration discount", Credits: -d, Kind: KindModifier})
		}
	case in.IsVariation:
		if d := discount(base, variationDiscountPct, n); d > 0 {
			items = append(items, Item{Label: "Variation discount", Credits: -d, Kind: KindModifier})
		}
	}

	total := sum(items)
	return Estimate{
		Total:   total,
		Items:   items,
		Summary: fmt.Sprintf("%d credits for %d × %s", total, n, typeLabel),
	}
}

// Modifiers are the request-wide knobs of a subgraph expansion.
type Modifiers struct {
	Creativity   float64 `json:"creativity"`
	ContextCount int     `json:"contextCount"`
	TagCount     int     `json:"tagCount"`
}

type ScopeItem struct {
	Type  model.EntityType `json:"type"`
	Count int              `json:"count"`
}

// Scope lists how many entities of each type the expansion will create.
type Scope struct {
	Items []ScopeItem `json:"items"`
}

// Nodes is the total number of entities in scope.
func (s Scope) Nodes() int {
	n := 0
	for _, it := range mergeScope(s) {
		n += it.Count
	}
	return n
}

type SubgraphEstimate struct {
	OutlineCost int    `json:"outlineCost"`
	DetailCost  int    `json:"detailCost"`
	TotalCost   int    `json:"totalCost"`
	Items       []Item `json:"items"`
	Summary     string `json:"summary"`
}

// EstimateSubgraph prices a bulk expansion in two phases: an outline pass
// over the whole scope, then each node at its single-entity price. There is
// no volume discount.
func EstimateSubgraph(scope Scope, mods Modifiers) SubgraphEstimate {
	groups := mergeScope(scope)
	nodes := 0
	for _, g := range groups {
		nodes += g.Count
	}

	outline := outlineBase + ceilDiv(nodes, outlinePerNode)
	items := []Item{{
		Label:   fmt.Sprintf("Outline: %d nodes", nodes),
		Credits: outline,
		Kind:    KindBase,
		Phase:   PhaseOutline,
	}}

	detail := 0
	for _, g := range groups {
		unit := EstimateCost(Input{
			TargetType:   g.Type,
			EntityCount:  1,
			Creativity:   mods.Creativity,
			ContextCount: mods.ContextCount,
			TagCount:     mods.TagCount,
		})
		credits := unit * g.Count
		detail += credits
		items = append(items, Item{
			Label:   fmt.Sprintf("Detail: %d × %s @ %d", g.Count, g.Type, unit),
			Credits: credits,
			Kind:    KindBase,
			Phase:   PhaseDetail,
		})
	}

	total := outline + detail
	return SubgraphEstimate{
		OutlineCost: outline,
		DetailCost:  detail,
		TotalCost:   total,
		Items:       items,
		Summary:     fmt.Sprintf("%d credits to expand %d nodes (outline %d, detail %d)", total, nodes, outline, detail),
	}
}

// mergeScope drops empty groups and folds repeated types into the first
// occurrence, keeping order.
func mergeScope(s Scope) []ScopeItem {
	idx := map[model.EntityType]int{}
	var out []ScopeItem
	for _, it := range s.Items {
		if it.Count <= 0 {
			continue
		}
		if i, ok := idx[it.Type]; ok {
			out[i].Count = clamp(out[i].Count+it.Count, 0, maxCount)
			continue
		}
		idx[it.Type] = len(out)
		out = append(out, ScopeItem{Type: it.Type, Count: clamp(it.Count, 0, maxCount)})
	}
	return out
}

func normalize(in Input) Input {
	in.EntityCount = clamp(in.EntityCount, 1, maxCount)
	in.ContextCount = clamp(in.ContextCount, 0, maxCount)
	in.TagCount = clamp(in.TagCount, 0, maxCount)
	if math.IsNaN(in.Creativity) || in.Creativity < 0 {
		in.Creativity = 0
	}
	if in.Creativity > 1 {
		in.Creativity = 1
	}
	return in
}

func percent(c float64) int {
	return int(math.Round(c * 100))
}

func creativitySurcharge(c float64, n int) int {
	return ceilDiv(percent(c)*creativityRate*n, 100)
}

// discount takes pct of base, rounded down, but never below n credits left.
func discount(base, pct, n int) int {
	d := base * pct / 100
	if base-d < n {
		d = base - n
	}
	if d < 0 {
		return 0
	}
	return d
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sum(items []Item) int {
	t := 0
	for _, it := range items {
		t += it.Credits
	}
	return t
}
