// graph_store.go defines the narrow contract the pipeline holds against the
// graph database.
//
// The store is treated as an opaque transactional substrate that accepts a
// declarative query plus parameters and returns a sequence of records. All
// materialization (node/relationship upserts), correspondence writes, and
// statistics reads go through this single interface, so tests can substitute
// a scripted fake and deployments can swap drivers without touching the
// pipeline components.

package kg

import "context"

// Record is a single query result row keyed by the returned column aliases.
type Record map[string]any

// GraphStore executes a declarative query with named parameters.
//
// Implementations must make writes visible to subsequent Execute calls on
// the same store before returning (the orchestrator relies on phase N's
// writes being readable in phase N+1).
type GraphStore interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]Record, error)
}

// recordString extracts a string field from a record, tolerating missing or
// differently-typed values.
func recordString(rec Record, key string) string {
	if rec == nil {
		return ""
	}
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

// recordInt64 extracts an integer field from a record. Drivers return counts
// as int64, but scripted stores in tests may use plain ints.
func recordInt64(rec Record, key string) int64 {
	switch v := rec[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// recordFloat64 extracts a float field from a record.
func recordFloat64(rec Record, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// recordProps extracts a nested property map from a record.
func recordProps(rec Record, key string) map[string]any {
	if v, ok := rec[key].(map[string]any); ok {
		return v
	}
	return nil
}
