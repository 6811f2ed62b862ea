package kg

import (
	"context"
	"strings"
	"sync"
)

// executedQuery records one Execute call against the fake store.
type executedQuery struct {
	query  string
	params map[string]any
}

// fakeGraphStore is a scripted GraphStore. Handlers are matched in
// registration order by substring against the incoming query; unmatched
// queries return no records.
type fakeGraphStore struct {
	mu       sync.Mutex
	executed []executedQuery
	handlers []fakeHandler
}

type fakeHandler struct {
	substr  string
	records []Record
	err     error
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{}
}

func (f *fakeGraphStore) on(substr string, records ...Record) *fakeGraphStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{substr: substr, records: records})
	return f
}

func (f *fakeGraphStore) failOn(substr string, err error) *fakeGraphStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{substr: substr, err: err})
	return f
}

func (f *fakeGraphStore) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, executedQuery{query: query, params: params})
	for _, h := range f.handlers {
		if strings.Contains(query, h.substr) {
			if h.err != nil {
				return nil, h.err
			}
			return h.records, nil
		}
	}
	return nil, nil
}

// queriesContaining returns the executed queries matching a substring.
func (f *fakeGraphStore) queriesContaining(substr string) []executedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []executedQuery
	for _, q := range f.executed {
		if strings.Contains(q.query, substr) {
			out = append(out, q)
		}
	}
	return out
}

func (f *fakeGraphStore) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

var _ GraphStore = (*fakeGraphStore)(nil)

// entityRecord builds a linkage query result row.
func entityRecord(id string, props map[string]any) Record {
	return Record{"id": id, "props": props}
}

// countRecord builds a single count row under the given key.
func countRecord(key string, n int64) Record {
	return Record{key: n}
}
