package generation

import (
	"strings"
	"time"
	"unicode"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/graph"
)

const (
	MaxNameLength        = 200
	MaxDescriptionLength = 4000
)

// SanitizeDrafts makes backend output safe to persist. Drafts without a name
// are dropped, every draft takes the target type, names already used by
// existing entities or earlier drafts are dropped, and at most quantity
// drafts are kept.
func SanitizeDrafts(drafts []model.Draft, target model.EntityType, quantity int, existing []model.Entity) []model.Draft {
	seen := make(map[string]bool, len(existing)+len(drafts))
	for _, e := range existing {
		seen[NormalizeName(e.Name)] = true
	}

	out := make([]model.Draft, 0, len(drafts))
	for _, d := range drafts {
		if len(out) >= quantity {
			break
		}
		d.Name = truncate(strings.Join(strings.Fields(d.Name), " "), MaxNameLength)
		key := NormalizeName(d.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		d.Type = target
		d.Description = truncate(strings.TrimSpace(d.Description), MaxDescriptionLength)
		d.Relationships = cleanRelationships(d.Relationships)
		out = append(out, d)
	}
	return out
}

// NormalizeName folds case, punctuation and spacing so "Elara  Vane" and
// "elara vane!" compare equal.
func NormalizeName(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			space = true
		}
	}
	return b.String()
}

func cleanRelationships(rels []model.DraftRelationship) []model.DraftRelationship {
	var out []model.DraftRelationship
	for _, r := range rels {
		r.TargetID = strings.TrimSpace(r.TargetID)
		r.TargetName = strings.TrimSpace(r.TargetName)
		r.Type = strings.TrimSpace(r.Type)
		if r.Type == "" || (r.TargetID == "" && r.TargetName == "") {
			continue
		}
		out = append(out, r)
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

// ToEntity materializes a sanitized draft. Known detail fields are read from
// Fields; anything else is ignored.
func ToEntity(d model.Draft, id string, now time.Time) model.Entity {
	return model.Entity{
		ID:          id,
		Type:        d.Type,
		Name:        d.Name,
		Description: d.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Details:     graph.DecodeDetails(d.Type, d.Fields),
	}
}
