//go:build integration

package core

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/canon/internal/apperr"
	"github.com/agenthands/canon/internal/core/gencache"
	"github.com/agenthands/canon/internal/core/ledger"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/driver"
	"github.com/agenthands/canon/internal/graph"
)

func memgraph(t *testing.T) *driver.MemgraphDriver {
	t.Helper()
	_ = godotenv.Load("../../.env")
	uri := os.Getenv("MEMGRAPH_URI")
	if uri == "" {
		t.Skip("Skipping integration test: MEMGRAPH_URI not set")
	}
	ctx := context.Background()
	d, err := driver.NewMemgraphDriver(ctx, uri, os.Getenv("MEMGRAPH_USER"), os.Getenv("MEMGRAPH_PASSWORD"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close(context.Background()) })
	require.NoError(t, d.BuildIndices(ctx))
	return d
}

func TestGenerateAgainstMemgraph(t *testing.T) {
	d := memgraph(t)
	ctx := context.Background()
	acc := graph.NewAccessor(d)

	universe := model.Entity{ID: uuid.NewString(), Type: model.TypeUniverse, Name: "Aethel"}
	place := model.Entity{ID: uuid.NewString(), Type: model.TypePlace, Name: "Ironforge"}
	require.NoError(t, acc.CreateEntity(ctx, universe))
	require.NoError(t, acc.CreateEntity(ctx, place))
	require.NoError(t, acc.CreateRelationship(ctx, model.Relationship{
		ID: uuid.NewString(), SourceID: place.ID, TargetID: universe.ID, Category: model.RelLocatedIn,
	}))
	cleanup := []string{universe.ID, place.ID}
	t.Cleanup(func() { _ = acc.DeleteEntities(context.Background(), cleanup) })

	backend := &MockBackend{Drafts: []model.Draft{{Name: "Kara", Description: "A smith."}}}
	l := ledger.New(ledger.NewGraphStore(d), ledger.TierTable{"free": 100}, nil)
	svc := NewService(acc, l, backend, gencache.NewMemoryCache(10), Options{}, nil)
	user := "it-" + uuid.NewString()

	res, err := svc.Generate(ctx, GenerateInput{SourceEntityID: place.ID, TargetType: "Character"}, &user)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	cleanup = append(cleanup, res.Entities[0].ID)

	parents, err := acc.Parents(ctx, res.Entities[0].ID)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, place.ID, parents[0].Entity.ID)
	assert.Equal(t, model.RelLivesIn, parents[0].Category)

	acct, err := l.Account(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(100)-res.CreditsUsed, acct.Balance)
}

func TestConcurrentGenerationsChargeOnce(t *testing.T) {
	d := memgraph(t)
	ctx := context.Background()
	acc := graph.NewAccessor(d)

	place := model.Entity{ID: uuid.NewString(), Type: model.TypePlace, Name: "Ironforge"}
	require.NoError(t, acc.CreateEntity(ctx, place))

	backend := &MockBackend{Drafts: []model.Draft{{Name: "Kara"}}, Unique: true}
	l := ledger.New(ledger.NewGraphStore(d), ledger.TierTable{"free": 8}, nil)
	svc := NewService(acc, l, backend, gencache.NewMemoryCache(10), Options{}, nil)
	user := "it-" + uuid.NewString()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      []model.Entity
		charged int
		failed  int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Generate(ctx, GenerateInput{SourceEntityID: place.ID, TargetType: "Character"}, &user)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				charged++
				ok = append(ok, res.Entities...)
			case apperr.AsInsufficientCredits(err) != nil:
				failed++
			}
		}()
	}
	wg.Wait()

	ids := []string{place.ID}
	for _, e := range ok {
		ids = append(ids, e.ID)
	}
	t.Cleanup(func() { _ = acc.DeleteEntities(context.Background(), ids) })

	assert.Equal(t, 1, charged)
	assert.Equal(t, 1, failed)
	children, err := acc.Children(ctx, place.ID, 10)
	require.NoError(t, err)
	assert.Len(t, children, 1)

	acct, err := l.Account(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), acct.Balance)
}
