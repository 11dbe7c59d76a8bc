package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EntityType string

const (
	TypeUniverse  EntityType = "Universe"
	TypePlace     EntityType = "Place"
	TypeCharacter EntityType = "Character"
	TypeItem      EntityType = "Item"
	TypeEvent     EntityType = "Event"
	TypeNarrative EntityType = "Narrative"
	TypeFaction   EntityType = "Faction"
	TypeProduct   EntityType = "Product"
	TypeTag       EntityType = "Tag"
)

var entityTypes = []EntityType{
	TypeUniverse, TypePlace, TypeCharacter, TypeItem, TypeEvent,
	TypeNarrative, TypeFaction, TypeProduct, TypeTag,
}

// EntityTypes lists every known entity type.
func EntityTypes() []EntityType {
	out := make([]EntityType, len(entityTypes))
	copy(out, entityTypes)
	return out
}

// ParseEntityType matches s case-insensitively against the known types.
func ParseEntityType(s string) (EntityType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range entityTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return EntityType(s), false
}

func (t EntityType) Valid() bool {
	for _, known := range entityTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Entity is a node of the canon graph. Details holds the fields specific to
// Type and is always the variant matching Type (or nil).
type Entity struct {
	ID          string     `json:"id"`
	Type        EntityType `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Details     Details    `json:"details,omitempty"`
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	type alias Entity
	aux := struct {
		*alias
		Details json.RawMessage `json:"details,omitempty"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Details = nil
	if len(aux.Details) == 0 || string(aux.Details) == "null" {
		return nil
	}

	d := NewDetails(e.Type)
	if d == nil {
		return nil
	}
	if err := json.Unmarshal(aux.Details, d); err != nil {
		return fmt.Errorf("failed to decode %s details: %w", e.Type, err)
	}
	e.Details = derefDetails(d)
	return nil
}

// Details is the per-type variant of an Entity.
type Details interface {
	EntityType() EntityType
	// Properties flattens the variant into store properties.
	Properties() map[string]any
	isDetails()
}

type UniverseDetails struct {
	Genre string `json:"genre,omitempty"`
	Era   string `json:"era,omitempty"`
}

type PlaceDetails struct {
	PlaceType  string `json:"placeType,omitempty"`
	Climate    string `json:"climate,omitempty"`
	Population int64  `json:"population,omitempty"`
}

type CharacterDetails struct {
	Species    string `json:"species,omitempty"`
	Occupation string `json:"occupation,omitempty"`
	Age        int64  `json:"age,omitempty"`
	Alignment  string `json:"alignment,omitempty"`
}

type ItemDetails struct {
	ItemType string `json:"itemType,omitempty"`
	Rarity   string `json:"rarity,omitempty"`
	Magical  bool   `json:"magical,omitempty"`
}

type EventDetails struct {
	Date         string `json:"date,omitempty"`
	Significance string `json:"significance,omitempty"`
}

type NarrativeDetails struct {
	Arc    string `json:"arc,omitempty"`
	Status string `json:"status,omitempty"`
}

type FactionDetails struct {
	Ideology string `json:"ideology,omitempty"`
	Size     string `json:"size,omitempty"`
}

type ProductDetails struct {
	SKU        string `json:"sku,omitempty"`
	PriceCents int64  `json:"priceCents,omitempty"`
}

func (UniverseDetails) EntityType() EntityType  { return TypeUniverse }
func (PlaceDetails) EntityType() EntityType     { return TypePlace }
func (CharacterDetails) EntityType() EntityType { return TypeCharacter }
func (ItemDetails) EntityType() EntityType      { return TypeItem }
func (EventDetails) EntityType() EntityType     { return TypeEvent }
func (NarrativeDetails) EntityType() EntityType { return TypeNarrative }
func (FactionDetails) EntityType() EntityType   { return TypeFaction }
func (ProductDetails) EntityType() EntityType   { return TypeProduct }

func (UniverseDetails) isDetails()  {}
func (PlaceDetails) isDetails()     {}
func (CharacterDetails) isDetails() {}
func (ItemDetails) isDetails()      {}
func (EventDetails) isDetails()     {}
func (NarrativeDetails) isDetails() {}
func (FactionDetails) isDetails()   {}
func (ProductDetails) isDetails()   {}

func (d UniverseDetails) Properties() map[string]any {
	return map[string]any{"genre": d.Genre, "era": d.Era}
}

func (d PlaceDetails) Properties() map[string]any {
	return map[string]any{"place_type": d.PlaceType, "climate": d.Climate, "population": d.Population}
}

func (d CharacterDetails) Properties() map[string]any {
	return map[string]any{"species": d.Species, "occupation": d.Occupation, "age": d.Age, "alignment": d.Alignment}
}

func (d ItemDetails) Properties() map[string]any {
	return map[string]any{"item_type": d.ItemType, "rarity": d.Rarity, "magical": d.Magical}
}

func (d EventDetails) Properties() map[string]any {
	return map[string]any{"date": d.Date, "significance": d.Significance}
}

func (d NarrativeDetails) Properties() map[string]any {
	return map[string]any{"arc": d.Arc, "status": d.Status}
}

func (d FactionDetails) Properties() map[string]any {
	return map[string]any{"ideology": d.Ideology, "size": d.Size}
}

func (d ProductDetails) Properties() map[string]any {
	return map[string]any{"sku": d.SKU, "price_cents": d.PriceCents}
}

// NewDetails returns a pointer to a zero variant for t, or nil for types
// without specific fields.
func NewDetails(t EntityType) any {
	switch t {
	case TypeUniverse:
		return &UniverseDetails{}
	case TypePlace:
		return &PlaceDetails{}
	case TypeCharacter:
		return &CharacterDetails{}
	case TypeItem:
		return &ItemDetails{}
	case TypeEvent:
		return &EventDetails{}
	case TypeNarrative:
		return &NarrativeDetails{}
	case TypeFaction:
		return &FactionDetails{}
	case TypeProduct:
		return &ProductDetails{}
	}
	return nil
}

func derefDetails(d any) Details {
	switch v := d.(type) {
	case *UniverseDetails:
		return *v
	case *PlaceDetails:
		return *v
	case *CharacterDetails:
		return *v
	case *ItemDetails:
		return *v
	case *EventDetails:
		return *v
	case *NarrativeDetails:
		return *v
	case *FactionDetails:
		return *v
	case *ProductDetails:
		return *v
	}
	return nil
}

// Ref is a lightweight pointer to an entity, used in summaries.
type Ref struct {
	ID   string     `json:"id"`
	Type EntityType `json:"type"`
	Name string     `json:"name"`
}

func (e Entity) Ref() Ref {
	return Ref{ID: e.ID, Type: e.Type, Name: e.Name}
}
