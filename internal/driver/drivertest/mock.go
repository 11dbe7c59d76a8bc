// Package drivertest provides a scripted GraphDriver for unit tests.
package drivertest

import (
	"context"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/canon/internal/driver"
)

type Call struct {
	Query  string
	Params map[string]interface{}
}

// MockDriver records every query. Handler, when set, decides the result;
// otherwise Results is looked up by query text and Err is returned for all.
type MockDriver struct {
	mu      sync.Mutex
	Calls   []Call
	Results map[string]neo4j.EagerResult
	Handler func(query string, params map[string]interface{}) (neo4j.EagerResult, error)
	Err     error

	Writes int
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Query: query, Params: params})
	handler, err := m.Handler, m.Err
	res := m.Results[query]
	m.mu.Unlock()

	if handler != nil {
		return handler(query, params)
	}
	if err != nil {
		return neo4j.EagerResult{}, err
	}
	return res, nil
}

func (m *MockDriver) ExecuteWrite(ctx context.Context, fn func(tx driver.Tx) error) error {
	m.mu.Lock()
	m.Writes++
	m.mu.Unlock()
	return fn(mockTx{m})
}

func (m *MockDriver) BuildIndices(ctx context.Context) error { return nil }

func (m *MockDriver) Close(ctx context.Context) error { return nil }

// Last returns the most recent call.
func (m *MockDriver) Last() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Call{}
	}
	return m.Calls[len(m.Calls)-1]
}

type mockTx struct{ m *MockDriver }

func (t mockTx) Run(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	res, err := t.m.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Records builds an EagerResult with the given keys, one record per row.
func Records(keys []string, rows ...[]any) neo4j.EagerResult {
	out := neo4j.EagerResult{Keys: keys}
	for _, row := range rows {
		out.Records = append(out.Records, &neo4j.Record{Keys: keys, Values: row})
	}
	return out
}
