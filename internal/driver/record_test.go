package driver

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestAsInt64(t *testing.T) {
	assert.Equal(t, int64(7), AsInt64(int64(7)))
	assert.Equal(t, int64(7), AsInt64(7))
	assert.Equal(t, int64(7), AsInt64(int32(7)))
	assert.Equal(t, int64(7), AsInt64(7.9))
	assert.Equal(t, int64(42), AsInt64("42"))
	assert.Equal(t, int64(0), AsInt64("nope"))
	assert.Equal(t, int64(0), AsInt64(nil))
}

func TestAsTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, at, AsTime(at.UnixMilli()))
	assert.Equal(t, at, AsTime(at.Format(time.RFC3339)))
	assert.Equal(t, at, AsTime(at.In(time.FixedZone("x", 3600))))
	assert.True(t, AsTime(nil).IsZero())
	assert.True(t, AsTime(int64(0)).IsZero())
	assert.Equal(t, int64(0), Millis(time.Time{}))
}

func TestAsStringsAndProps(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, AsStrings([]any{"a", 1, "b"}))
	assert.Nil(t, AsStrings(42))

	node := neo4j.Node{Props: map[string]any{"id": "n1"}}
	assert.Equal(t, "n1", AsProps(node)["id"])
}

func TestRecordAccessors(t *testing.T) {
	rec := &neo4j.Record{
		Keys:   []string{"name", "credits", "reset", "props"},
		Values: []any{"Elara", int64(12), int64(1000), map[string]any{"k": "v"}},
	}

	assert.Equal(t, "Elara", String(rec, "name"))
	assert.Equal(t, int64(12), Int64(rec, "credits"))
	assert.Equal(t, time.UnixMilli(1000).UTC(), Time(rec, "reset"))
	assert.Equal(t, "v", Props(rec, "props")["k"])
	assert.Equal(t, "", String(rec, "missing"))
}

func TestIsConstraintViolation(t *testing.T) {
	memgraph := &neo4j.Neo4jError{
		Code: "Memgraph.ClientError.MemgraphError.MemgraphError",
		Msg:  "Unable to commit due to unique constraint violation on :User(id)",
	}
	assert.True(t, IsConstraintViolation(memgraph))
	assert.True(t, IsConstraintViolation(fmt.Errorf("commit: %w", memgraph)))
	assert.True(t, IsConstraintViolation(&neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed"}))

	assert.False(t, IsConstraintViolation(&neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected", Msg: "conflict"}))
	assert.False(t, IsConstraintViolation(errors.New("unique constraint violation")))
	assert.False(t, IsConstraintViolation(nil))
}
