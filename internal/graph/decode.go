package graph

import (
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/driver"
)

// DecodeEntity turns a node property map into a typed entity. Nodes with no
// id or an unknown type are rejected.
func DecodeEntity(props map[string]any) (model.Entity, bool) {
	id := driver.AsString(props["id"])
	if id == "" {
		return model.Entity{}, false
	}
	t, ok := model.ParseEntityType(driver.AsString(props["type"]))
	if !ok {
		return model.Entity{}, false
	}

	return model.Entity{
		ID:          id,
		Type:        t,
		Name:        driver.AsString(props["name"]),
		Description: driver.AsString(props["description"]),
		CreatedAt:   driver.AsTime(props["created_at"]),
		UpdatedAt:   driver.AsTime(props["updated_at"]),
		Details:     DecodeDetails(t, props),
	}, true
}

// DecodeDetails reads the variant fields for t. Missing properties decode
// to zero values.
func DecodeDetails(t model.EntityType, props map[string]any) model.Details {
	s := func(k string) string { return driver.AsString(props[k]) }
	i := func(k string) int64 { return driver.AsInt64(props[k]) }

	switch t {
	case model.TypeUniverse:
		return model.UniverseDetails{Genre: s("genre"), Era: s("era")}
	case model.TypePlace:
		return model.PlaceDetails{PlaceType: s("place_type"), Climate: s("climate"), Population: i("population")}
	case model.TypeCharacter:
		return model.CharacterDetails{Species: s("species"), Occupation: s("occupation"), Age: i("age"), Alignment: s("alignment")}
	case model.TypeItem:
		return model.ItemDetails{ItemType: s("item_type"), Rarity: s("rarity"), Magical: driver.AsBool(props["magical"])}
	case model.TypeEvent:
		return model.EventDetails{Date: s("date"), Significance: s("significance")}
	case model.TypeNarrative:
		return model.NarrativeDetails{Arc: s("arc"), Status: s("status")}
	case model.TypeFaction:
		return model.FactionDetails{Ideology: s("ideology"), Size: s("size")}
	case model.TypeProduct:
		return model.ProductDetails{SKU: s("sku"), PriceCents: i("price_cents")}
	}
	return nil
}

// EncodeEntity flattens an entity for CreateEntityQuery's $props.
func EncodeEntity(e model.Entity) map[string]any {
	props := map[string]any{}
	if e.Details != nil {
		for k, v := range e.Details.Properties() {
			props[k] = v
		}
	}
	props["id"] = e.ID
	props["type"] = string(e.Type)
	props["name"] = e.Name
	props["description"] = e.Description
	props["created_at"] = driver.Millis(e.CreatedAt)
	props["updated_at"] = driver.Millis(e.UpdatedAt)
	return props
}

func DecodeTag(props map[string]any) (model.Tag, bool) {
	id := driver.AsString(props["id"])
	if id == "" {
		return model.Tag{}, false
	}
	kind := model.TagKind(driver.AsString(props["kind"]))
	if kind == "" {
		kind = model.TagDescriptor
	}
	return model.Tag{
		ID:          id,
		Name:        driver.AsString(props["name"]),
		Kind:        kind,
		Description: driver.AsString(props["description"]),
	}, true
}
