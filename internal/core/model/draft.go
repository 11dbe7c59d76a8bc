package model

// Draft is an entity proposed by the generation backend, before it is
// persisted. Drafts are untrusted input.
type Draft struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Type          EntityType          `json:"type"`
	Fields        map[string]any      `json:"fields,omitempty"`
	Relationships []DraftRelationship `json:"relationships,omitempty"`
}

// DraftRelationship links a draft to an existing entity (by id) or to another
// draft of the same batch (by name).
type DraftRelationship struct {
	TargetID   string `json:"targetId,omitempty"`
	TargetName string `json:"targetName,omitempty"`
	Type       string `json:"type"`
}

// Drafts is the JSON envelope the backend is asked to return.
type Drafts struct {
	Entities []Draft `json:"entities"`
}
