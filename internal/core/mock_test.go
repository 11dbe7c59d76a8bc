package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenthands/canon/internal/core/gencache"
	"github.com/agenthands/canon/internal/core/generation"
	"github.com/agenthands/canon/internal/core/model"
)

type MockBackend struct {
	mu       sync.Mutex
	Drafts   []model.Draft
	Err      error
	Requests []generation.Request
	// Unique suffixes draft names with the call number.
	Unique bool
}

func (m *MockBackend) Generate(ctx context.Context, req generation.Request) ([]model.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]model.Draft, len(m.Drafts))
	copy(out, m.Drafts)
	if m.Unique {
		for i := range out {
			out[i].Name = fmt.Sprintf("%s %d", out[i].Name, len(m.Requests))
		}
	}
	return out, nil
}

func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

type MockCache struct {
	Err error
}

func (m *MockCache) Put(ctx context.Context, id string, rec gencache.Record, ttl time.Duration) error {
	return m.Err
}

func (m *MockCache) Get(ctx context.Context, id string) (gencache.Record, error) {
	return gencache.Record{}, m.Err
}
