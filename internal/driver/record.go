package driver

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Everything the bolt driver hands back is normalized here, once, so the
// rest of the code never type-switches on store-native values.

func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return ""
}

// AsInt64 accepts every integer width the driver may produce, plus floats
// and numeric strings written by older clients.
func AsInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int8:
		return int64(n)
	case uint32:
		return int64(n)
	case uint16:
		return int64(n)
	case uint8:
		return int64(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int64(n)
	case float32:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return i
	}
	return 0
}

func AsFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return float64(AsInt64(v))
}

func AsBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return AsInt64(v) != 0
}

// AsTime reads epoch milliseconds (how this service writes timestamps),
// driver temporal values and RFC3339 strings.
func AsTime(v any) time.Time {
	switch t := v.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return t.UTC()
	case neo4j.LocalDateTime:
		return t.Time().UTC()
	case neo4j.Date:
		return t.Time().UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed.UTC()
	}
	ms := AsInt64(v)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Millis is the write-side counterpart of AsTime.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func AsStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func AsProps(v any) map[string]any {
	switch p := v.(type) {
	case map[string]any:
		return p
	case neo4j.Node:
		return p.Props
	case neo4j.Relationship:
		return p.Props
	}
	return nil
}

func String(record *neo4j.Record, key string) string {
	v, _ := record.Get(key)
	return AsString(v)
}

func Int64(record *neo4j.Record, key string) int64 {
	v, _ := record.Get(key)
	return AsInt64(v)
}

func Time(record *neo4j.Record, key string) time.Time {
	v, _ := record.Get(key)
	return AsTime(v)
}

func Props(record *neo4j.Record, key string) map[string]any {
	v, _ := record.Get(key)
	return AsProps(v)
}

// IsConstraintViolation reports whether err is the server rejecting a write
// that breaks a uniqueness or existence constraint.
func IsConstraintViolation(err error) bool {
	var nerr *neo4j.Neo4jError
	if !errors.As(err, &nerr) {
		return false
	}
	if strings.Contains(nerr.Code, "ConstraintValidationFailed") {
		return true
	}
	return strings.Contains(strings.ToLower(nerr.Msg), "constraint violation")
}
