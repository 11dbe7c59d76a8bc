package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	// ExecuteWrite runs fn inside one managed write transaction. The
	// transaction commits only when fn returns nil.
	ExecuteWrite(ctx context.Context, fn func(tx Tx) error) error
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is the slice of a managed transaction the stores need.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error)
}
