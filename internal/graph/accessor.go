// Package graph is the typed boundary over the entity store. Nothing above
// this package sees property maps or driver-native values.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/driver"
)

// Parent is a containment target of an entity.
type Parent struct {
	Entity   model.Entity
	Category model.RelationCategory
}

type Reader interface {
	// Entity returns apperr NotFound when id does not exist.
	Entity(ctx context.Context, id string) (*model.Entity, error)
	// Entities returns the known entities among ids, in ids order.
	Entities(ctx context.Context, ids []string) ([]model.Entity, error)
	// Parents are ordered by containment priority, then id.
	Parents(ctx context.Context, id string) ([]Parent, error)
	Children(ctx context.Context, parentID string, limit int) ([]model.Entity, error)
	Tags(ctx context.Context, entityID string) ([]model.Tag, error)
	TagsByID(ctx context.Context, ids []string) ([]model.Tag, error)
	// Related returns semantic neighbours in either direction.
	Related(ctx context.Context, id string, limit int) ([]model.Entity, error)
	HasSemanticEdges(ctx context.Context, id string) (bool, error)
	UniverseMembers(ctx context.Context, universeID string, limit int) ([]model.Entity, error)
	// SemanticEdges returns semantic edges with both ends inside ids.
	SemanticEdges(ctx context.Context, ids []string) ([]model.Relationship, error)
}

type Writer interface {
	CreateEntity(ctx context.Context, e model.Entity) error
	CreateRelationship(ctx context.Context, rel model.Relationship) error
	DeleteEntities(ctx context.Context, ids []string) error
}

// Accessor implements Reader and Writer over a GraphDriver.
type Accessor struct {
	Driver driver.GraphDriver
}

func NewAccessor(d driver.GraphDriver) *Accessor {
	return &Accessor{Driver: d}
}

func semanticCategories() []string {
	out := make([]string, len(model.SemanticCategories))
	for i, c := range model.SemanticCategories {
		out[i] = string(c)
	}
	return out
}

func (a *Accessor) entities(ctx context.Context, query string, params map[string]interface{}) ([]model.Entity, error) {
	res, err := a.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return decodeEntities(res.Records), nil
}

func decodeEntities(records []*neo4j.Record) []model.Entity {
	out := make([]model.Entity, 0, len(records))
	for _, rec := range records {
		if e, ok := DecodeEntity(driver.Props(rec, "props")); ok {
			out = append(out, e)
		}
	}
	return out
}

func (a *Accessor) Entity(ctx context.Context, id string) (*model.Entity, error) {
	found, err := a.entities(ctx, driver.GetEntityQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", id, err)
	}
	if len(found) == 0 {
		return nil, apperr.NotFound("Entity")
	}
	return &found[0], nil
}

func (a *Accessor) Entities(ctx context.Context, ids []string) ([]model.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := a.entities(ctx, driver.GetEntitiesQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	return orderByIDs(found, ids), nil
}

func orderByIDs(found []model.Entity, ids []string) []model.Entity {
	byID := make(map[string]model.Entity, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	out := make([]model.Entity, 0, len(found))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, e)
		}
	}
	return out
}

func (a *Accessor) Parents(ctx context.Context, id string) ([]Parent, error) {
	res, err := a.Driver.ExecuteQuery(ctx, driver.GetParentsQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to load parents of %s: %w", id, err)
	}

	var parents []Parent
	for _, rec := range res.Records {
		e, ok := DecodeEntity(driver.Props(rec, "props"))
		if !ok {
			continue
		}
		parents = append(parents, Parent{
			Entity:   e,
			Category: model.RelationCategory(driver.String(rec, "category")),
		})
	}
	SortParents(parents)
	return parents, nil
}

// SortParents orders parents by containment priority, then id.
func SortParents(parents []Parent) {
	sort.SliceStable(parents, func(i, j int) bool {
		pi, pj := parents[i].Category.ContainmentPriority(), parents[j].Category.ContainmentPriority()
		if pi != pj {
			return pi < pj
		}
		return parents[i].Entity.ID < parents[j].Entity.ID
	})
}

func (a *Accessor) Children(ctx context.Context, parentID string, limit int) ([]model.Entity, error) {
	out, err := a.entities(ctx, driver.GetChildrenQuery, map[string]interface{}{
		"parent_id": parentID,
		"limit":     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load children of %s: %w", parentID, err)
	}
	return out, nil
}

func (a *Accessor) tags(ctx context.Context, query string, params map[string]interface{}) ([]model.Tag, error) {
	res, err := a.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]model.Tag, 0, len(res.Records))
	for _, rec := range res.Records {
		if t, ok := DecodeTag(driver.Props(rec, "props")); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (a *Accessor) Tags(ctx context.Context, entityID string) ([]model.Tag, error) {
	out, err := a.tags(ctx, driver.GetEntityTagsQuery, map[string]interface{}{"id": entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to load tags of %s: %w", entityID, err)
	}
	return out, nil
}

func (a *Accessor) TagsByID(ctx context.Context, ids []string) ([]model.Tag, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := a.tags(ctx, driver.GetTagsByIDQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}

	byID := make(map[string]model.Tag, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	out := make([]model.Tag, 0, len(found))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
			delete(byID, id)
		}
	}
	return out, nil
}

func (a *Accessor) Related(ctx context.Context, id string, limit int) ([]model.Entity, error) {
	out, err := a.entities(ctx, driver.GetRelatedQuery, map[string]interface{}{
		"id":         id,
		"categories": semanticCategories(),
		"limit":      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load related entities of %s: %w", id, err)
	}
	return out, nil
}

func (a *Accessor) HasSemanticEdges(ctx context.Context, id string) (bool, error) {
	res, err := a.Driver.ExecuteQuery(ctx, driver.CountSemanticEdgesQuery, map[string]interface{}{
		"id":         id,
		"categories": semanticCategories(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to count relationships of %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return false, nil
	}
	return driver.Int64(res.Records[0], "total") > 0, nil
}

func (a *Accessor) UniverseMembers(ctx context.Context, universeID string, limit int) ([]model.Entity, error) {
	out, err := a.entities(ctx, driver.GetUniverseMembersQuery, map[string]interface{}{
		"universe_id": universeID,
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load universe %s members: %w", universeID, err)
	}
	return out, nil
}

func (a *Accessor) SemanticEdges(ctx context.Context, ids []string) ([]model.Relationship, error) {
	if len(ids) < 2 {
		return nil, nil
	}
	res, err := a.Driver.ExecuteQuery(ctx, driver.GetSemanticEdgesQuery, map[string]interface{}{
		"ids":        ids,
		"categories": semanticCategories(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic edges: %w", err)
	}

	out := make([]model.Relationship, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, model.Relationship{
			ID:          driver.String(rec, "id"),
			SourceID:    driver.String(rec, "source_id"),
			TargetID:    driver.String(rec, "target_id"),
			Category:    model.RelationCategory(driver.String(rec, "category")),
			CustomLabel: driver.String(rec, "custom_label"),
			CreatedAt:   driver.Time(rec, "created_at"),
		})
	}
	return out, nil
}

func (a *Accessor) CreateEntity(ctx context.Context, e model.Entity) error {
	if !e.Type.Valid() {
		return apperr.InvalidInput(fmt.Sprintf("unknown entity type %q", e.Type))
	}
	_, err := a.Driver.ExecuteQuery(ctx, driver.CreateEntityQuery, map[string]interface{}{
		"id":    e.ID,
		"props": EncodeEntity(e),
	})
	if err != nil {
		return fmt.Errorf("failed to create entity %s: %w", e.ID, err)
	}
	return nil
}

func (a *Accessor) CreateRelationship(ctx context.Context, rel model.Relationship) error {
	if !rel.Category.IsContainment() && !rel.Category.IsSemantic() && rel.Category != model.RelTagged {
		return apperr.InvalidInput(fmt.Sprintf("unsupported relationship category %q", rel.Category))
	}
	query := fmt.Sprintf(driver.CreateRelationshipQueryTemplate, rel.Category)

	res, err := a.Driver.ExecuteQuery(ctx, query, map[string]interface{}{
		"id":           rel.ID,
		"source_id":    rel.SourceID,
		"target_id":    rel.TargetID,
		"custom_label": rel.CustomLabel,
		"created_at":   driver.Millis(rel.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create %s relationship: %w", rel.Category, err)
	}
	if len(res.Records) == 0 {
		return apperr.NotFound("Relationship endpoint")
	}
	return nil
}

func (a *Accessor) DeleteEntities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := a.Driver.ExecuteQuery(ctx, driver.DeleteEntitiesQuery, map[string]interface{}{"ids": ids}); err != nil {
		return fmt.Errorf("failed to delete entities: %w", err)
	}
	return nil
}
var (
	_ Reader = (*Accessor)(nil)
	_ Writer = (*Accessor)(nil)
)
