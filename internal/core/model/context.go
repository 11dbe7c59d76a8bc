package model

type TagKind string

const (
	TagDescriptor TagKind = "descriptor"
	TagFeeling    TagKind = "feeling"
	TagTheme      TagKind = "theme"
	TagStyle      TagKind = "style"
)

type Tag struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Kind        TagKind `json:"kind"`
	Description string  `json:"description,omitempty"`
}

// Selection is what the user explicitly picked to include in a generation.
type Selection struct {
	EntityIDs []string `json:"entityIds,omitempty"`
	TagIDs    []string `json:"tagIds,omitempty"`
}

type ContextSummary struct {
	EntityCount     int  `json:"entityCount"`
	TagCount        int  `json:"tagCount"`
	HasInvolvements bool `json:"hasInvolvements"`
	// Truncated is set when the ancestor walk hit a cycle or the depth bound.
	Truncated bool `json:"truncated"`
}

// GenerationContext is the bounded slice of the canon graph handed to one
// generation call. Suggested never contains Source or any Ancestors member.
type GenerationContext struct {
	Source     Entity         `json:"source"`
	TargetType EntityType     `json:"targetType"`
	Ancestors  []Entity       `json:"ancestors"`
	Universe   *Ref           `json:"universe,omitempty"`
	Siblings   []Entity       `json:"siblings"`
	Explicit   []Entity       `json:"explicit"`
	Suggested  []Entity       `json:"suggested"`
	Tags       []Tag          `json:"tags"`
	Summary    ContextSummary `json:"summary"`
}

// ContextEntityCount is the number of entities beyond the source that will be
// sent along with the prompt.
func (gc *GenerationContext) ContextEntityCount() int {
	return len(gc.Ancestors) + len(gc.Suggested)
}

// Parent is the source's immediate parent, if any.
func (gc *GenerationContext) Parent() *Entity {
	if len(gc.Ancestors) == 0 {
		return nil
	}
	return &gc.Ancestors[len(gc.Ancestors)-1]
}

// ProviderSummary reports what one category of context contributor added.
type ProviderSummary struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Summary string `json:"summary"`
}
