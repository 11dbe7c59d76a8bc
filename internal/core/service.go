// Package core wires the generation pipeline together: context assembly,
// pricing, the credit ledger, the generation backend and persistence.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/assembler"
	"github.com/agenthands/canon/internal/core/gencache"
	"github.com/agenthands/canon/internal/core/generation"
	"github.com/agenthands/canon/internal/core/ledger"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/pricing"
	"github.com/agenthands/canon/internal/graph"
	"github.com/agenthands/canon/internal/logging"
)

// Graph is the store the service reads context from and writes results to.
type Graph interface {
	graph.Reader
	graph.Writer
}

type Options struct {
	Context     assembler.Options
	MaxQuantity int
	CacheTTL    time.Duration
	// DefaultTier funds accounts opened on first use.
	DefaultTier string
}

type Service struct {
	Graph     Graph
	Assembler *assembler.Assembler
	Ledger    *ledger.Ledger
	Backend   generation.Backend
	Cache     gencache.Cache

	opts   Options
	now    func() time.Time
	logger *log.Logger
}

func NewService(g Graph, l *ledger.Ledger, backend generation.Backend, cache gencache.Cache, opts Options, logger *log.Logger) *Service {
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = 10
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = "free"
	}
	logger = logging.OrDiscard(logger)
	return &Service{
		Graph:     g,
		Assembler: assembler.New(g, opts.Context, logger),
		Ledger:    l,
		Backend:   backend,
		Cache:     cache,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type RequestedRelationship struct {
	TargetID string `json:"targetId" validate:"required"`
	Type     string `json:"type" validate:"required,max=64"`
}

type GenerateInput struct {
	SourceEntityID   string                  `json:"sourceEntityId" validate:"required"`
	TargetType       string                  `json:"targetType" validate:"required"`
	Quantity         int                     `json:"quantity" validate:"gte=0"`
	Prompt           string                  `json:"prompt,omitempty" validate:"max=4000"`
	Creativity       float64                 `json:"creativity" validate:"gte=0,lte=1"`
	TagIDs           []string                `json:"tagIds,omitempty" validate:"max=50,dive,required"`
	ContextEntityIDs []string                `json:"contextEntityIds,omitempty" validate:"max=100,dive,required"`
	Relationships    []RequestedRelationship `json:"relationships,omitempty" validate:"max=50,dive"`
}

type GenerateResult struct {
	GenerationID string         `json:"generationId"`
	Entities     []model.Entity `json:"entities"`
	CreditsUsed  int64          `json:"creditsUsed"`
	Message      string         `json:"message"`
}

// Quote is the price of a generation request as derived from its input
// alone, so the amount shown before generating is the amount charged.
func (s *Service) Quote(in GenerateInput, target model.EntityType) pricing.Estimate {
	return pricing.Breakdown(pricing.Input{
		TargetType:   target,
		EntityCount:  quantity(in.Quantity),
		Creativity:   in.Creativity,
		ContextCount: len(dedupe(in.ContextEntityIDs)),
		TagCount:     len(dedupe(in.TagIDs)),
	})
}

// Generate runs one generation. With a user, the balance is checked before
// anything else happens and debited only after the results are persisted;
// without one the ledger is never touched and nothing is charged.
func (s *Service) Generate(ctx context.Context, in GenerateInput, userID *string) (*GenerateResult, error) {
	target, err := s.validateGenerate(in)
	if err != nil {
		return nil, err
	}
	in.Quantity = quantity(in.Quantity)
	contextIDs, tagIDs := dedupe(in.ContextEntityIDs), dedupe(in.TagIDs)
	cost := int64(s.Quote(in, target).Total)
	user := userOf(userID)

	if user != "" {
		acct, err := s.account(ctx, user)
		if err != nil {
			return nil, err
		}
		if acct.Balance < cost {
			s.logger.Info("generation rejected", "user", user, "needed", cost, "available", acct.Balance)
			return nil, &apperr.InsufficientCredits{Needed: cost, Available: acct.Balance}
		}
	}

	gc, err := s.Assembler.Assemble(ctx, in.SourceEntityID, target, model.Selection{EntityIDs: contextIDs, TagIDs: tagIDs})
	if err != nil {
		return nil, err
	}

	s.logger.Info("generation started", "user", user, "source", gc.Source.ID, "target", target, "quantity", in.Quantity, "credits", cost)
	drafts, err := s.Backend.Generate(ctx, generation.Request{
		Context:         gc,
		ContextMarkdown: assembler.Render(gc),
		Prompt:          in.Prompt,
		TargetType:      target,
		Quantity:        in.Quantity,
		Creativity:      in.Creativity,
	})
	if err != nil {
		s.logger.Error("generation backend failed", "source", gc.Source.ID, "target", target, "err", err)
		if apperr.As(err) == nil {
			err = apperr.GenerationFailed("", err)
		}
		return nil, err
	}

	drafts = generation.SanitizeDrafts(drafts, target, in.Quantity, contextEntities(gc))
	if len(drafts) == 0 {
		return nil, apperr.GenerationFailed("Generation returned no usable entities", nil)
	}

	created, err := s.persist(ctx, gc, drafts, in.Relationships)
	if err != nil {
		return nil, err
	}

	var charged int64
	if user != "" {
		desc := fmt.Sprintf("Generated %d %s from %s", len(created), target, gc.Source.Name)
		if _, err := s.Ledger.Debit(ctx, user, cost, desc); err != nil {
			s.rollback(ctx, created)
			return nil, err
		}
		charged = cost
	}

	genID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create generation id: %w", err)
	}
	rec := gencache.Record{
		GenerationID: genID,
		UserID:       user,
		SourceID:     gc.Source.ID,
		TargetType:   target,
		Entities:     created,
		CreditsUsed:  charged,
		CreatedAt:    s.clock(),
	}
	if err := s.Cache.Put(ctx, genID, rec, s.opts.CacheTTL); err != nil {
		s.logger.Warn("failed to cache generation", "generation", genID, "err", err)
	}

	s.logger.Info("generation finished", "generation", genID, "user", user, "target", target, "entities", len(created), "credits", charged)
	return &GenerateResult{
		GenerationID: genID,
		Entities:     created,
		CreditsUsed:  charged,
		Message:      summarize(len(created), target, charged, user == ""),
	}, nil
}

func (s *Service) validateGenerate(in GenerateInput) (model.EntityType, error) {
	if err := validateStruct(in); err != nil {
		return "", err
	}
	target, ok := model.ParseEntityType(in.TargetType)
	if !ok {
		return "", apperr.InvalidInput("invalid request", apperr.FieldError{Field: "targetType", Message: fmt.Sprintf("unknown entity type %q", in.TargetType)})
	}
	if target == model.TypeTag {
		return "", apperr.InvalidInput("invalid request", apperr.FieldError{Field: "targetType", Message: "tags cannot be generated"})
	}
	if quantity(in.Quantity) > s.opts.MaxQuantity {
		return "", apperr.InvalidInput("invalid request", apperr.FieldError{Field: "quantity", Message: fmt.Sprintf("must be at most %d", s.opts.MaxQuantity)})
	}
	return target, nil
}

// persist writes the drafts and their edges. Any failure deletes what was
// already written and surfaces as GenerationFailed.
func (s *Service) persist(ctx context.Context, gc *model.GenerationContext, drafts []model.Draft, requested []RequestedRelationship) ([]model.Entity, error) {
	now := s.clock()
	known := map[string]string{}
	knownIDs := map[string]bool{}
	for _, e := range contextEntities(gc) {
		knownIDs[e.ID] = true
		if key := generation.NormalizeName(e.Name); key != "" {
			if _, dup := known[key]; !dup {
				known[key] = e.ID
			}
		}
	}

	created := make([]model.Entity, 0, len(drafts))
	fail := func(err error) ([]model.Entity, error) {
		s.rollback(ctx, created)
		return nil, apperr.GenerationFailed("Failed to save generated entities", err)
	}

	for _, d := range drafts {
		e := generation.ToEntity(d, uuid.NewString(), now)
		if err := s.Graph.CreateEntity(ctx, e); err != nil {
			return fail(err)
		}
		created = append(created, e)
		known[generation.NormalizeName(e.Name)] = e.ID
		knownIDs[e.ID] = true
	}

	for i, e := range created {
		var rels []model.Relationship
		rels = append(rels, attachment(e, gc)...)
		for _, r := range requested {
			cat, label := model.ParseRelationCategory(r.Type)
			rels = append(rels, model.Relationship{SourceID: e.ID, TargetID: strings.TrimSpace(r.TargetID), Category: cat, CustomLabel: label})
		}
		for _, rel := range rels {
			rel.ID = uuid.NewString()
			rel.CreatedAt = now
			if err := s.Graph.CreateRelationship(ctx, rel); err != nil {
				return fail(err)
			}
		}

		// relationships proposed by the backend are best effort
		for _, r := range drafts[i].Relationships {
			target := r.TargetID
			if !knownIDs[target] {
				target = known[generation.NormalizeName(r.TargetName)]
			}
			if target == "" || target == e.ID {
				continue
			}
			cat, label := model.ParseRelationCategory(r.Type)
			rel := model.Relationship{ID: uuid.NewString(), SourceID: e.ID, TargetID: target, Category: cat, CustomLabel: label, CreatedAt: now}
			if err := s.Graph.CreateRelationship(ctx, rel); err != nil {
				s.logger.Debug("skipped proposed relationship", "source", e.ID, "target", target, "err", err)
			}
		}
	}
	return created, nil
}

// attachment places a new entity in the containment tree: under the source
// when the types allow it, otherwise under the universe with a RELATED_TO
// edge back to the source.
func attachment(e model.Entity, gc *model.GenerationContext) []model.Relationship {
	if cat, ok := model.Containment(e.Type, gc.Source.Type); ok {
		return []model.Relationship{{SourceID: e.ID, TargetID: gc.Source.ID, Category: cat}}
	}
	var out []model.Relationship
	if gc.Universe != nil && gc.Universe.ID != gc.Source.ID {
		if cat, ok := model.Containment(e.Type, model.TypeUniverse); ok {
			out = append(out, model.Relationship{SourceID: e.ID, TargetID: gc.Universe.ID, Category: cat})
		}
	}
	return append(out, model.Relationship{SourceID: e.ID, TargetID: gc.Source.ID, Category: model.RelRelatedTo})
}

func (s *Service) rollback(ctx context.Context, created []model.Entity) {
	if len(created) == 0 {
		return
	}
	ids := make([]string, len(created))
	for i, e := range created {
		ids[i] = e.ID
	}
	if err := s.Graph.DeleteEntities(context.WithoutCancel(ctx), ids); err != nil {
		s.logger.Error("failed to remove generated entities", "ids", ids, "err", err)
		return
	}
	s.logger.Warn("generated entities removed", "count", len(ids))
}

// account loads the user's account, opening it on first use.
func (s *Service) account(ctx context.Context, userID string) (ledger.Account, error) {
	acct, err := s.Ledger.Account(ctx, userID)
	if apperr.IsNotFound(err) {
		return s.Ledger.Open(ctx, userID, s.opts.DefaultTier)
	}
	return acct, err
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func contextEntities(gc *model.GenerationContext) []model.Entity {
	out := make([]model.Entity, 0, 1+len(gc.Ancestors)+len(gc.Siblings)+len(gc.Explicit)+len(gc.Suggested))
	out = append(out, gc.Source)
	out = append(out, gc.Ancestors...)
	out = append(out, gc.Siblings...)
	out = append(out, gc.Explicit...)
	return append(out, gc.Suggested...)
}

func summarize(n int, target model.EntityType, credits int64, anonymous bool) string {
	noun := string(target)
	if n != 1 {
		noun += " entities"
	}
	if anonymous {
		return fmt.Sprintf("Generated %d %s (preview, not charged)", n, noun)
	}
	return fmt.Sprintf("Generated %d %s for %d credits", n, noun, credits)
}

func quantity(q int) int {
	if q <= 0 {
		return 1
	}
	return q
}

func userOf(userID *string) string {
	if userID == nil {
		return ""
	}
	return strings.TrimSpace(*userID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
