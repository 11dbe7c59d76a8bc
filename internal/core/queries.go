package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/assembler"
	"github.com/agenthands/canon/internal/core/gencache"
	"github.com/agenthands/canon/internal/core/ledger"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/pricing"
)

// The operations below are read-only except GrantCredits. Estimates and
// context previews never touch the ledger or the generation backend.

type EstimateInput struct {
	TargetType     string  `json:"targetType"`
	EntityCount    int     `json:"entityCount"`
	Creativity     float64 `json:"creativity"`
	ContextCount   int     `json:"contextCount"`
	TagCount       int     `json:"tagCount"`
	IsRegeneration bool    `json:"isRegeneration"`
	IsVariation    bool    `json:"isVariation"`
}

// EstimateGenerationCost prices a single generation. Unknown or missing types
// fall back to the default tier rather than failing.
func (s *Service) EstimateGenerationCost(in EstimateInput) pricing.Estimate {
	target, ok := model.ParseEntityType(in.TargetType)
	if !ok {
		target = model.EntityType(strings.TrimSpace(in.TargetType))
	}
	return pricing.Breakdown(pricing.Input{
		TargetType:     target,
		EntityCount:    in.EntityCount,
		Creativity:     in.Creativity,
		ContextCount:   in.ContextCount,
		TagCount:       in.TagCount,
		IsRegeneration: in.IsRegeneration,
		IsVariation:    in.IsVariation,
	})
}

type SubgraphInput struct {
	Scope     pricing.Scope     `json:"scope"`
	Modifiers pricing.Modifiers `json:"modifiers"`
}

func (s *Service) EstimateSubgraphCost(in SubgraphInput) (pricing.SubgraphEstimate, error) {
	if len(in.Scope.Items) == 0 {
		return pricing.SubgraphEstimate{}, apperr.InvalidInput("invalid request", apperr.FieldError{Field: "scope.items", Message: "is required"})
	}
	items := make([]pricing.ScopeItem, len(in.Scope.Items))
	for i, it := range in.Scope.Items {
		if t, ok := model.ParseEntityType(string(it.Type)); ok {
			it.Type = t
		}
		items[i] = it
	}
	return pricing.EstimateSubgraph(pricing.Scope{Items: items}, in.Modifiers), nil
}

type ContextInput struct {
	SourceEntityID   string   `json:"sourceEntityId" validate:"required"`
	TargetType       string   `json:"targetType" validate:"required"`
	ContextEntityIDs []string `json:"contextEntityIds,omitempty" validate:"max=100,dive,required"`
	TagIDs           []string `json:"tagIds,omitempty" validate:"max=50,dive,required"`
}

func (in ContextInput) parse() (model.EntityType, model.Selection, error) {
	if err := validateStruct(in); err != nil {
		return "", model.Selection{}, err
	}
	target, ok := model.ParseEntityType(in.TargetType)
	if !ok {
		return "", model.Selection{}, apperr.InvalidInput("invalid request", apperr.FieldError{Field: "targetType", Message: fmt.Sprintf("unknown entity type %q", in.TargetType)})
	}
	return target, model.Selection{EntityIDs: dedupe(in.ContextEntityIDs), TagIDs: dedupe(in.TagIDs)}, nil
}

// Context returns the structured context a generation would use, without
// generating anything.
func (s *Service) Context(ctx context.Context, in ContextInput) (*model.GenerationContext, error) {
	target, sel, err := in.parse()
	if err != nil {
		return nil, err
	}
	return s.Assembler.Assemble(ctx, in.SourceEntityID, target, sel)
}

func (s *Service) ContextPreview(ctx context.Context, in ContextInput) (*assembler.Preview, error) {
	target, sel, err := in.parse()
	if err != nil {
		return nil, err
	}
	return s.Assembler.Preview(ctx, in.SourceEntityID, target, sel)
}

func (s *Service) CreditHistory(ctx context.Context, userID *string, limit int) ([]ledger.Transaction, error) {
	user := userOf(userID)
	if user == "" {
		return nil, apperr.Unauthorized("sign in to see credit history")
	}
	if limit < 0 {
		return nil, apperr.InvalidInput("invalid request", apperr.FieldError{Field: "limit", Message: "must be at least 0"})
	}
	if _, err := s.account(ctx, user); err != nil {
		return nil, err
	}
	return s.Ledger.History(ctx, user, limit)
}

type Limits struct {
	MonthlyAllotment int64 `json:"monthlyAllotment"`
	MaxQuantity      int   `json:"maxQuantity"`
}

type Me struct {
	UserID         string     `json:"userId,omitempty"`
	Anonymous      bool       `json:"anonymous"`
	Tier           string     `json:"tier"`
	Credits        int64      `json:"credits"`
	CreditsResetAt *time.Time `json:"creditsResetAt,omitempty"`
	Limits         Limits     `json:"limits"`
}

const guestTier = "guest"

// Me reports the caller's balance after any due monthly reset. Anonymous
// callers get a guest view without touching the ledger.
func (s *Service) Me(ctx context.Context, userID *string) (*Me, error) {
	user := userOf(userID)
	if user == "" {
		return &Me{
			Anonymous: true,
			Tier:      guestTier,
			Limits:    Limits{MaxQuantity: s.opts.MaxQuantity},
		}, nil
	}

	acct, err := s.account(ctx, user)
	if err != nil {
		return nil, err
	}
	resetAt := acct.CreditsResetAt
	return &Me{
		UserID:         acct.UserID,
		Tier:           acct.Tier,
		Credits:        acct.Balance,
		CreditsResetAt: &resetAt,
		Limits: Limits{
			MonthlyAllotment: acct.MonthlyAllotment,
			MaxQuantity:      s.opts.MaxQuantity,
		},
	}, nil
}

// Generation returns a cached generation result. Results owned by another
// user are reported as missing.
func (s *Service) Generation(ctx context.Context, id string, userID *string) (gencache.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return gencache.Record{}, apperr.InvalidInput("generation id is required")
	}
	rec, err := s.Cache.Get(ctx, id)
	if err != nil {
		return gencache.Record{}, err
	}
	if rec.UserID != "" && rec.UserID != userOf(userID) {
		return gencache.Record{}, apperr.NotFound("Generation")
	}
	return rec, nil
}

type GrantInput struct {
	UserID      string `json:"userId" validate:"required"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Type        string `json:"type" validate:"required,oneof=purchase refund monthly_allocation"`
	Description string `json:"description" validate:"max=200"`
}

// GrantCredits records a purchase, refund or manual allotment, opening the
// account if needed.
// It returns the new balance.
func (s *Service) GrantCredits(ctx context.Context, in GrantInput) (int64, error) {
	if err := validateStruct(in); err != nil {
		return 0, err
	}
	if _, err := s.account(ctx, in.UserID); err != nil {
		return 0, err
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = fmt.Sprintf("Credit %s", in.Type)
	}
	return s.Ledger.Credit(ctx, in.UserID, in.Amount, desc, ledger.TransactionType(in.Type))
}
