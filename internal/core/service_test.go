package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/gencache"
	"github.com/agenthands/canon/internal/core/ledger"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/pricing"
	"github.com/agenthands/canon/internal/graph/graphtest"
)

var errStoreDown = errors.New("store down")

// flakyStore fails the FailOn-th Update (1-based) counted from the last
// Reset, or every call when FailAll is set.
type flakyStore struct {
	*ledger.MemoryStore
	mu      sync.Mutex
	updates int
	FailOn  int
	FailAll bool
}

func (s *flakyStore) Update(ctx context.Context, userID string, fn ledger.UpdateFunc) (ledger.Account, error) {
	s.mu.Lock()
	s.updates++
	fail := s.FailAll || (s.FailOn > 0 && s.updates == s.FailOn)
	s.mu.Unlock()
	if fail {
		return ledger.Account{}, errStoreDown
	}
	return s.MemoryStore.Update(ctx, userID, fn)
}

func (s *flakyStore) Create(ctx context.Context, acct ledger.Account, txs []ledger.Transaction) (ledger.Account, bool, error) {
	if s.FailAll {
		return ledger.Account{}, false, errStoreDown
	}
	return s.MemoryStore.Create(ctx, acct, txs)
}

func (s *flakyStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = 0
}

func ent(id string, t model.EntityType, name string) model.Entity {
	return model.Entity{ID: id, Type: t, Name: name}
}

// world: Aethel > Ironforge > {Elara, Borin}
func world() *graphtest.Graph {
	g := graphtest.New().Add(
		ent("u1", model.TypeUniverse, "Aethel"),
		ent("p1", model.TypePlace, "Ironforge"),
		ent("c1", model.TypeCharacter, "Elara"),
		ent("c2", model.TypeCharacter, "Borin"),
	)
	g.Link("p1", "u1", model.RelLocatedIn).
		Link("c1", "p1", model.RelLivesIn).
		Link("c2", "p1", model.RelLivesIn)
	return g
}

type fixture struct {
	svc     *Service
	graph   *graphtest.Graph
	ledger  *ledger.Ledger
	store   *flakyStore
	backend *MockBackend
	cache   *gencache.MemoryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := world()
	store := &flakyStore{MemoryStore: ledger.NewMemoryStore()}
	l := ledger.New(store, ledger.TierTable{"free": 100, "creator": 1000}, nil)
	backend := &MockBackend{Drafts: []model.Draft{{Name: "Emberfall", Description: "A cinder town."}}}
	cache := gencache.NewMemoryCache(10)
	svc := NewService(g, l, backend, cache, Options{MaxQuantity: 5, DefaultTier: "free"}, nil)
	return &fixture{svc: svc, graph: g, ledger: l, store: store, backend: backend, cache: cache}
}

func user(id string) *string { return &id }

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	acct, err := f.ledger.Account(context.Background(), userID)
	require.NoError(t, err)
	return acct.Balance
}

func TestGenerateHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	estimate := f.svc.EstimateGenerationCost(EstimateInput{TargetType: "Place", EntityCount: 1, Creativity: 0.5})
	require.Len(t, estimate.Items, 2)
	assert.Equal(t, pricing.KindBase, estimate.Items[0].Kind)
	assert.Greater(t, estimate.Items[1].Credits, 0)
	assert.Equal(t, 7, estimate.Total)

	res, err := f.svc.Generate(ctx, GenerateInput{
		SourceEntityID: "c1",
		TargetType:     "Place",
		Quantity:       1,
		Creativity:     0.5,
	}, user("alice"))
	require.NoError(t, err)

	assert.Equal(t, int64(estimate.Total), res.CreditsUsed)
	require.Len(t, res.Entities, 1)
	created := res.Entities[0]
	assert.Equal(t, "Emberfall", created.Name)
	assert.Equal(t, model.TypePlace, created.Type)
	assert.True(t, f.graph.Has(created.ID))
	assert.NotEmpty(t, res.GenerationID)
	assert.Equal(t, "Generated 1 Place for 7 credits", res.Message)

	assert.Equal(t, int64(93), f.balance(t, "alice"))
	history, err := f.svc.CreditHistory(ctx, user("alice"), 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.TxUsage, history[0].Type)
	assert.Equal(t, int64(-7), history[0].Amount)

	// a Place cannot live under a Character: it goes under the universe
	// and points back at the source
	edges := f.graph.Edges(created.ID)
	require.Len(t, edges, 2)
	assert.Equal(t, model.RelLocatedIn, edges[0].Category)
	assert.Equal(t, "u1", edges[0].TargetID)
	assert.Equal(t, model.RelRelatedTo, edges[1].Category)
	assert.Equal(t, "c1", edges[1].TargetID)

	require.Equal(t, 1, f.backend.Calls())
	req := f.backend.Requests[0]
	assert.Contains(t, req.ContextMarkdown, "Ironforge")
	assert.Equal(t, "Elara", req.Context.Source.Name)
}

func TestGenerateInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Open(ctx, "bob", "free")
	require.NoError(t, err)
	_, err = f.ledger.Debit(ctx, "bob", 97, "earlier work")
	require.NoError(t, err)
	before := f.graph.Len()

	_, err = f.svc.Generate(ctx, GenerateInput{SourceEntityID: "c1", TargetType: "Universe", Quantity: 1}, user("bob"))

	ic := apperr.AsInsufficientCredits(err)
	require.NotNil(t, ic)
	assert.Equal(t, int64(10), ic.Needed)
	assert.Equal(t, int64(3), ic.Available)
	assert.Equal(t, int64(7), ic.Shortfall())

	assert.Equal(t, int64(3), f.balance(t, "bob"))
	assert.Equal(t, before, f.graph.Len())
	assert.Equal(t, 0, f.backend.Calls())
}

func TestGenerateAnonymousNeverTouchesLedger(t *testing.T) {
	f := newFixture(t)
	f.store.FailAll = true

	res, err := f.svc.Generate(context.Background(), GenerateInput{SourceEntityID: "c1", TargetType: "Place"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.CreditsUsed)
	assert.Contains(t, res.Message, "not charged")
	require.Len(t, res.Entities, 1)

	f.backend.Drafts = []model.Draft{{Name: "Brass Lantern"}}
	res, err = f.svc.Generate(context.Background(), GenerateInput{SourceEntityID: "c1", TargetType: "Item"}, user("  "))
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.CreditsUsed)
}

func TestGenerateBackendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Open(ctx, "alice", "free")
	require.NoError(t, err)
	f.backend.Err = errors.New("model overloaded")
	before := f.graph.Len()

	_, err = f.svc.Generate(ctx, GenerateInput{SourceEntityID: "c1", TargetType: "Place"}, user("alice"))
	assert.True(t, apperr.IsCode(err, apperr.CodeGenerationFailed))
	assert.Equal(t, int64(100), f.balance(t, "alice"))
	assert.Equal(t, before, f.graph.Len())

	history, err := f.ledger.History(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGenerateNoUsableDrafts(t *testing.T) {
	f := newFixture(t)
	f.backend.Drafts = []model.Draft{{Name: " "}, {Name: "Elara"}}

	_, err := f.svc.Generate(context.Background(), GenerateInput{SourceEntityID: "c1", TargetType: "Character"}, user("alice"))
	assert.True(t, apperr.IsCode(err, apperr.CodeGenerationFailed))
	assert.Equal(t, int64(100), f.balance(t, "alice"))
}

func TestGeneratePersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.backend.Drafts = []model.Draft{{Name: "Kara"}, {Name: "Tobin"}}
	f.graph.FailCreateEntity = 2
	before := f.graph.Len()

	_, err := f.svc.Generate(context.Background(), GenerateInput{SourceEntityID: "p1", TargetType: "Character", Quantity: 2}, user("alice"))
	assert.True(t, apperr.IsCode(err, apperr.CodeGenerationFailed))
	assert.Equal(t, before, f.graph.Len())
	assert.Len(t, f.graph.Deleted, 1)
	assert.Equal(t, int64(100), f.balance(t, "alice"))
}

func TestGenerateRelationshipFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.graph.FailRelationships = true
	before := f.graph.Len()

	_, err := f.svc.Generate(context.Background(), GenerateInput{SourceEntityID: "p1", TargetType: "Character"}, user("alice"))
	assert.True(t, apperr.IsCode(err, apperr.CodeGenerationFailed))
	assert.Equal(t, before, f.graph.Len())
	assert.Equal(t, int64(100), f.balance(t, "alice"))
}

func TestGenerateDebitFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Open(ctx, "alice", "free")
	require.NoError(t, err)
	before := f.graph.Len()

	// first update is the balance check, second is the debit
	f.store.Reset()
	f.store.FailOn = 2

	_, err = f.svc.Generate(ctx, GenerateInput{SourceEntityID: "p1", TargetType: "Character"}, user("alice"))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, before, f.graph.Len())
	assert.Len(t, f.graph.Deleted, 1)

	f.store.FailOn = 0
	assert.Equal(t, int64(100), f.balance(t, "alice"))
}

func TestGenerateInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		in    GenerateInput
		field string
	}{
		{"missing source", GenerateInput{TargetType: "Place"}, "sourceEntityId"},
		{"missing type", GenerateInput{SourceEntityID: "c1"}, "targetType"},
		{"unknown type", GenerateInput{SourceEntityID: "c1", TargetType: "Spaceship"}, "targetType"},
		{"tag type", GenerateInput{SourceEntityID: "c1", TargetType: "tag"}, "targetType"},
		{"too many", GenerateInput{SourceEntityID: "c1", TargetType: "Place", Quantity: 6}, "quantity"},
		{"creativity", GenerateInput{SourceEntityID: "c1", TargetType: "Place", Creativity: 1.5}, "creativity"},
		{"blank context id", GenerateInput{SourceEntityID: "c1", TargetType: "Place", ContextEntityIDs: []string{""}}, "contextEntityIds[0]"},
		{"relationship type", GenerateInput{SourceEntityID: "c1", TargetType: "Place", Relationships: []RequestedRelationship{{TargetID: "c2"}}}, "relationships[0].type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.FailAll = true

			_, err := f.svc.Generate(context.Background(), tt.in, user("alice"))
			ae := apperr.As(err)
			require.NotNil(t, ae)
			assert.Equal(t, apperr.CodeInvalidInput, ae.Code)
			var fields []string
			for _, d := range ae.Details {
				fields = append(fields, d.Field)
			}
			assert.Contains(t, fields, tt.field)
			assert.Equal(t, 0, f.backend.Calls())
		})
	}
}

func TestGenerateSourceNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Generate(context.Background(), GenerateInput{SourceEntityID: "ghost", TargetType: "Place"}, user("alice"))
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, int64(100), f.balance(t, "alice"))
	assert.Equal(t, 0, f.backend.Calls())
}

func TestGenerateRelationships(t *testing.T) {
	f := newFixture(t)
	f.backend.Drafts = []model.Draft{
		{Name: "Ironforge", Description: "duplicate of the source"},
		{
			Name: "Kara",
			Relationships: []model.DraftRelationship{
				{TargetName: "aethel", Type: "sworn enemy"},
				{TargetName: "Nobody", Type: "KNOWS"},
			},
		},
	}

	res, err := f.svc.Generate(context.Background(), GenerateInput{
		SourceEntityID: "p1",
		TargetType:     "character",
		Quantity:       2,
		Relationships:  []RequestedRelationship{{TargetID: "c2", Type: "ally-of"}},
	}, user("alice"))
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	kara := res.Entities[0]
	assert.Equal(t, "Kara", kara.Name)

	byTarget := map[string]model.Relationship{}
	for _, e := range f.graph.Edges(kara.ID) {
		byTarget[e.TargetID] = e
	}
	require.Len(t, byTarget, 3)
	assert.Equal(t, model.RelLivesIn, byTarget["p1"].Category)
	assert.Equal(t, model.RelAllyOf, byTarget["c2"].Category)
	assert.Equal(t, model.RelRelatedTo, byTarget["u1"].Category)
	assert.Equal(t, "sworn enemy", byTarget["u1"].CustomLabel)
}

func TestGenerateContextCountsFromInput(t *testing.T) {
	f := newFixture(t)
	in := GenerateInput{
		SourceEntityID:   "c1",
		TargetType:       "Place",
		ContextEntityIDs: []string{"c2", "c2", "missing"},
	}

	res, err := f.svc.Generate(context.Background(), in, user("alice"))
	require.NoError(t, err)

	quoted := f.svc.EstimateGenerationCost(EstimateInput{TargetType: "Place", EntityCount: 1, ContextCount: 2})
	assert.Equal(t, int64(quoted.Total), res.CreditsUsed)
	assert.Equal(t, quoted, f.svc.Quote(in, model.TypePlace))
}

func TestGenerateCacheFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.svc.Cache = &MockCache{Err: errors.New("redis down")}

	res, err := f.svc.Generate(context.Background(), GenerateInput{SourceEntityID: "c1", TargetType: "Place"}, user("alice"))
	require.NoError(t, err)
	assert.Len(t, res.Entities, 1)
}

func TestGenerationLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Generate(ctx, GenerateInput{SourceEntityID: "c1", TargetType: "Place"}, user("alice"))
	require.NoError(t, err)

	rec, err := f.svc.Generation(ctx, res.GenerationID, user("alice"))
	require.NoError(t, err)
	assert.Equal(t, res.Entities, rec.Entities)
	assert.Equal(t, res.CreditsUsed, rec.CreditsUsed)

	_, err = f.svc.Generation(ctx, res.GenerationID, user("mallory"))
	assert.True(t, apperr.IsNotFound(err))
	_, err = f.svc.Generation(ctx, "unknown", user("alice"))
	assert.True(t, apperr.IsNotFound(err))
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guest, err := f.svc.Me(ctx, nil)
	require.NoError(t, err)
	assert.True(t, guest.Anonymous)
	assert.Equal(t, "guest", guest.Tier)
	assert.Equal(t, 5, guest.Limits.MaxQuantity)

	me, err := f.svc.Me(ctx, user("newcomer"))
	require.NoError(t, err)
	assert.False(t, me.Anonymous)
	assert.Equal(t, "free", me.Tier)
	assert.Equal(t, int64(100), me.Credits)
	assert.Equal(t, int64(100), me.Limits.MonthlyAllotment)
	require.NotNil(t, me.CreditsResetAt)
}

func TestMeAppliesLazyReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	f.ledger.WithClock(func() time.Time { return now })

	_, err := f.ledger.Open(ctx, "alice", "free")
	require.NoError(t, err)
	_, err = f.ledger.Debit(ctx, "alice", 98, "spent")
	require.NoError(t, err)

	now = now.AddDate(0, 2, 0)
	me, err := f.svc.Me(ctx, user("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), me.Credits)
	assert.True(t, now.AddDate(0, 1, 0).Equal(*me.CreditsResetAt))

	again, err := f.svc.Me(ctx, user("alice"))
	require.NoError(t, err)
	assert.Equal(t, me.CreditsResetAt, again.CreditsResetAt)
}

func TestCreditHistoryRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreditHistory(context.Background(), nil, 10)
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

	_, err = f.svc.CreditHistory(context.Background(), user("alice"), -1)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))
}

func TestGrantCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	balance, err := f.svc.GrantCredits(ctx, GrantInput{UserID: "alice", Amount: 50, Type: "purchase"})
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)

	history, err := f.svc.CreditHistory(ctx, user("alice"), 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxPurchase, history[0].Type)
	assert.Equal(t, "Credit purchase", history[0].Description)

	balance, err = f.svc.GrantCredits(ctx, GrantInput{UserID: "alice", Amount: 25, Type: "monthly_allocation", Description: "Manual top-up"})
	require.NoError(t, err)
	assert.Equal(t, int64(175), balance)
	history, err = f.svc.CreditHistory(ctx, user("alice"), 0)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxMonthlyAllocation, history[0].Type)
	assert.Equal(t, int64(25), history[0].Amount)

	_, err = f.svc.GrantCredits(ctx, GrantInput{UserID: "alice", Amount: 5, Type: "usage"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))
	_, err = f.svc.GrantCredits(ctx, GrantInput{UserID: "alice", Amount: 0, Type: "refund"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))
}

func TestEstimateSubgraphCost(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.EstimateSubgraphCost(SubgraphInput{})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))

	est, err := f.svc.EstimateSubgraphCost(SubgraphInput{Scope: pricing.Scope{Items: []pricing.ScopeItem{
		{Type: "place", Count: 2},
		{Type: "Character", Count: 3},
	}}})
	require.NoError(t, err)
	// outline: 2 plus one credit per two nodes
	assert.Equal(t, 5, est.OutlineCost)
	assert.Equal(t, 25, est.DetailCost)
	assert.Equal(t, est.OutlineCost+est.DetailCost, est.TotalCost)
}

func TestContextAndPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Context(ctx, ContextInput{SourceEntityID: "c1", TargetType: "Dragon"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidInput))

	gc, err := f.svc.Context(ctx, ContextInput{SourceEntityID: "c1", TargetType: "Item"})
	require.NoError(t, err)
	assert.Equal(t, "Elara", gc.Source.Name)
	require.Len(t, gc.Ancestors, 2)
	assert.Equal(t, "u1", gc.Ancestors[0].ID)

	preview, err := f.svc.ContextPreview(ctx, ContextInput{SourceEntityID: "c1", TargetType: "Item"})
	require.NoError(t, err)
	assert.Contains(t, preview.Markdown, "Aethel (Universe) > Ironforge (Place) > Elara")
	assert.Equal(t, gc.Summary.EntityCount, preview.EntityCount)

	_, err = f.svc.Context(ctx, ContextInput{SourceEntityID: "ghost", TargetType: "Item"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestConcurrentGenerationsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Open(ctx, "alice", "free")
	require.NoError(t, err)
	_, err = f.ledger.Debit(ctx, "alice", 90, "earlier work")
	require.NoError(t, err)
	f.backend.Drafts = []model.Draft{{Name: "Kara"}}
	f.backend.Unique = true
	before := f.graph.Len()

	const workers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		short   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Generate(ctx, GenerateInput{SourceEntityID: "p1", TargetType: "Character"}, user("alice"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if apperr.AsInsufficientCredits(err) != nil {
				short++
			}
		}()
	}
	wg.Wait()

	// 10 credits cover two generations at 5 each
	assert.Equal(t, 2, success)
	assert.Equal(t, workers-2, short)
	assert.Equal(t, int64(0), f.balance(t, "alice"))
	assert.Equal(t, before+2, f.graph.Len())
}

func TestConcurrentFirstUseOpensOneAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.Drafts = []model.Draft{{Name: "Kara"}}
	f.backend.Unique = true

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		generated int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_, err := f.svc.Me(ctx, user("zoe"))
				assert.NoError(t, err)
			case 1:
				_, err := f.svc.CreditHistory(ctx, user("zoe"), 0)
				assert.NoError(t, err)
			default:
				_, err := f.svc.Generate(ctx, GenerateInput{SourceEntityID: "p1", TargetType: "Character"}, user("zoe"))
				assert.NoError(t, err)
				mu.Lock()
				generated++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	history, err := f.ledger.History(ctx, "zoe", 0)
	require.NoError(t, err)
	openings := 0
	var sum int64
	for _, tx := range history {
		sum += tx.Amount
		if tx.Type == ledger.TxMonthlyAllocation {
			openings++
		}
	}
	assert.Equal(t, 1, openings)
	assert.Len(t, history, 1+generated)
	assert.Equal(t, int64(100-5*generated), f.balance(t, "zoe"))
	assert.Equal(t, f.balance(t, "zoe"), sum)
}
