package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agenthands/canon/internal/core/model"
)

// Preview is the debugging view of a context: the prompt-ready markdown and
// what each contributor added.
type Preview struct {
	Markdown    string                  `json:"markdown"`
	EntityCount int                     `json:"entityCount"`
	Providers   []model.ProviderSummary `json:"providers"`
}

func (a *Assembler) Preview(ctx context.Context, sourceID string, targetType model.EntityType, sel model.Selection) (*Preview, error) {
	gc, err := a.Assemble(ctx, sourceID, targetType, sel)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Markdown:    Render(gc),
		EntityCount: gc.Summary.EntityCount,
		Providers:   Providers(gc),
	}, nil
}

// Render flattens gc into markdown for prompt injection. Empty sections are
// omitted, except Source.
func Render(gc *model.GenerationContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Generation Context: new %s\n\n", gc.TargetType)

	b.WriteString("## Source\n\n")
	fmt.Fprintf(&b, "**%s** (%s)\n", gc.Source.Name, gc.Source.Type)
	if d := strings.TrimSpace(gc.Source.Description); d != "" {
		fmt.Fprintf(&b, "\n%s\n", d)
	}
	writeDetails(&b, gc.Source.Details)

	if len(gc.Ancestors) > 0 {
		b.WriteString("\n## Lineage\n\n")
		parts := make([]string, 0, len(gc.Ancestors)+1)
		for _, anc := range gc.Ancestors {
			parts = append(parts, fmt.Sprintf("%s (%s)", anc.Name, anc.Type))
		}
		parts = append(parts, gc.Source.Name)
		b.WriteString(strings.Join(parts, " > "))
		b.WriteString("\n")
		if gc.Summary.Truncated {
			b.WriteString("\n_Lineage truncated._\n")
		}
	}

	if len(gc.Siblings) > 0 {
		b.WriteString("\n## Siblings\n\n")
		writeEntities(&b, gc.Siblings)
	}

	if extra := additional(gc); len(extra) > 0 {
		b.WriteString("\n## Additional Context\n\n")
		writeEntities(&b, extra)
	}

	if len(gc.Tags) > 0 {
		b.WriteString("\n## Tags\n\n")
		for _, t := range gc.Tags {
			fmt.Fprintf(&b, "- %s (%s)", t.Name, t.Kind)
			if t.Description != "" {
				fmt.Fprintf(&b, ": %s", t.Description)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// additional is the suggested list minus entities already rendered as
// siblings.
func additional(gc *model.GenerationContext) []model.Entity {
	shown := make(map[string]bool, len(gc.Siblings))
	for _, s := range gc.Siblings {
		shown[s.ID] = true
	}
	var out []model.Entity
	for _, e := range gc.Suggested {
		if !shown[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

func writeEntities(b *strings.Builder, es []model.Entity) {
	for _, e := range es {
		fmt.Fprintf(b, "- **%s** (%s)", e.Name, e.Type)
		if d := oneLine(e.Description); d != "" {
			fmt.Fprintf(b, ": %s", d)
		}
		b.WriteString("\n")
	}
}

func writeDetails(b *strings.Builder, d model.Details) {
	if d == nil {
		return
	}
	props := d.Properties()
	keys := sortedKeys(props)
	wrote := false
	for _, k := range keys {
		v := props[k]
		if isZero(v) {
			continue
		}
		if !wrote {
			b.WriteString("\n")
			wrote = true
		}
		fmt.Fprintf(b, "- %s: %v\n", strings.ReplaceAll(k, "_", " "), v)
	}
}

// Providers reports, per contributor, how much it added to gc.
func Providers(gc *model.GenerationContext) []model.ProviderSummary {
	lineage := "no parent"
	if len(gc.Ancestors) > 0 {
		lineage = "root " + gc.Ancestors[0].Name
		if gc.Summary.Truncated {
			lineage += " (truncated)"
		}
	}

	return []model.ProviderSummary{
		{Name: "ancestors", Count: len(gc.Ancestors), Summary: lineage},
		{Name: "siblings", Count: len(gc.Siblings), Summary: names(gc.Siblings)},
		{Name: "explicit", Count: len(gc.Explicit), Summary: names(gc.Explicit)},
		{Name: "suggested", Count: len(gc.Suggested), Summary: names(gc.Suggested)},
		{Name: "tags", Count: len(gc.Tags), Summary: tagNames(gc.Tags)},
	}
}

const summaryNames = 3

func names(es []model.Entity) string {
	if len(es) == 0 {
		return "none"
	}
	out := make([]string, 0, summaryNames)
	for i, e := range es {
		if i == summaryNames {
			break
		}
		out = append(out, e.Name)
	}
	s := strings.Join(out, ", ")
	if len(es) > summaryNames {
		s += fmt.Sprintf(" and %d more", len(es)-summaryNames)
	}
	return s
}

func tagNames(ts []model.Tag) string {
	if len(ts) == 0 {
		return "none"
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return strings.Join(out, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int64:
		return x == 0
	case bool:
		return !x
	}
	return false
}
