package model

import (
	"strings"
	"time"
)

// RelationCategory is the fixed set of edge types stored in the graph. Free
// text supplied by users is kept in Relationship.CustomLabel and never
// becomes an edge type of its own.
type RelationCategory string

const (
	// containment
	RelLocatedIn RelationCategory = "LOCATED_IN"
	RelLivesIn   RelationCategory = "LIVES_IN"
	RelHeldBy    RelationCategory = "HELD_BY"
	RelPartOf    RelationCategory = "PART_OF"

	// structural
	RelTagged   RelationCategory = "TAGGED"
	RelHasImage RelationCategory = "HAS_IMAGE"

	// semantic
	RelRelatedTo      RelationCategory = "RELATED_TO"
	RelAllyOf         RelationCategory = "ALLY_OF"
	RelEnemyOf        RelationCategory = "ENEMY_OF"
	RelMemberOf       RelationCategory = "MEMBER_OF"
	RelOwns           RelationCategory = "OWNS"
	RelParticipatedIn RelationCategory = "PARTICIPATED_IN"
	RelCreated        RelationCategory = "CREATED"
	RelKnows          RelationCategory = "KNOWS"
)

// ContainmentCategories are followed, in this priority order, when walking
// from an entity up to its universe.
var ContainmentCategories = []RelationCategory{RelLocatedIn, RelLivesIn, RelHeldBy, RelPartOf}

var SemanticCategories = []RelationCategory{
	RelRelatedTo, RelAllyOf, RelEnemyOf, RelMemberOf,
	RelOwns, RelParticipatedIn, RelCreated, RelKnows,
}

func (c RelationCategory) IsContainment() bool {
	switch c {
	case RelLocatedIn, RelLivesIn, RelHeldBy, RelPartOf:
		return true
	}
	return false
}

// IsStructural reports edges hidden from the user-facing relationship list.
func (c RelationCategory) IsStructural() bool {
	return c.IsContainment() || c == RelTagged || c == RelHasImage
}

func (c RelationCategory) IsSemantic() bool {
	for _, s := range SemanticCategories {
		if s == c {
			return true
		}
	}
	return false
}

// ContainmentPriority orders parent edges; lower wins.
func (c RelationCategory) ContainmentPriority() int {
	for i, cc := range ContainmentCategories {
		if cc == c {
			return i
		}
	}
	return len(ContainmentCategories)
}

// ParseRelationCategory maps user text onto a category. Text that matches no
// semantic category yields RELATED_TO and is returned as the custom label.
// Structural categories cannot be requested this way.
func ParseRelationCategory(s string) (RelationCategory, string) {
	trimmed := strings.TrimSpace(s)
	norm := strings.ToUpper(strings.Join(strings.Fields(trimmed), "_"))
	norm = strings.ReplaceAll(norm, "-", "_")
	for _, c := range SemanticCategories {
		if string(c) == norm {
			return c, ""
		}
	}
	return RelRelatedTo, trimmed
}

// Containment picks the parent edge used to attach a child of type child
// under an entity of type parent.
func Containment(child, parent EntityType) (RelationCategory, bool) {
	if child == TypeUniverse || child == TypeTag || parent == TypeTag {
		return "", false
	}
	switch child {
	case TypePlace:
		if parent == TypePlace || parent == TypeUniverse {
			return RelLocatedIn, true
		}
		return "", false
	case TypeCharacter:
		switch parent {
		case TypePlace:
			return RelLivesIn, true
		case TypeUniverse, TypeFaction:
			return RelPartOf, true
		}
		return "", false
	case TypeItem:
		switch parent {
		case TypeCharacter:
			return RelHeldBy, true
		case TypePlace:
			return RelLocatedIn, true
		case TypeUniverse:
			return RelPartOf, true
		}
		return "", false
	case TypeEvent:
		if parent == TypePlace {
			return RelLocatedIn, true
		}
		if parent == TypeUniverse || parent == TypeNarrative {
			return RelPartOf, true
		}
		return "", false
	}
	if parent == TypeUniverse {
		return RelPartOf, true
	}
	return "", false
}

type Relationship struct {
	ID          string           `json:"id"`
	SourceID    string           `json:"sourceId"`
	TargetID    string           `json:"targetId"`
	Category    RelationCategory `json:"category"`
	CustomLabel string           `json:"customLabel,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Label is the text shown to users for the relationship.
func (r Relationship) Label() string {
	if r.CustomLabel != "" {
		return r.CustomLabel
	}
	return strings.ToLower(strings.ReplaceAll(string(r.Category), "_", " "))
}
