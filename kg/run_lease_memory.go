package kg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type inMemoryRunLeaseRecord struct {
	token     string
	expiresAt time.Time
}

// InMemoryRunLeaseManager provides in-memory lease coordination.
type InMemoryRunLeaseManager struct {
	mu       sync.Mutex
	leases   map[string]inMemoryRunLeaseRecord
	tokenSeq atomic.Uint64
}

// NewInMemoryRunLeaseManager creates a new in-memory lease manager.
func NewInMemoryRunLeaseManager() *InMemoryRunLeaseManager {
	return &InMemoryRunLeaseManager{
		leases: make(map[string]inMemoryRunLeaseRecord),
	}
}

// Acquire obtains a build lease for the given dataset.
func (m *InMemoryRunLeaseManager) Acquire(ctx context.Context, datasetID string, ttl time.Duration) (*RunLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if datasetID == "" {
		return nil, fmt.Errorf("datasetID cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultRunLeaseTTL
	}

	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.leases[datasetID]; ok && now.Before(rec.expiresAt) {
		return nil, ErrRunLeaseConflict
	}

	token := fmt.Sprintf("%s-%d-%d", datasetID, now.UnixNano(), m.tokenSeq.Add(1))
	expiresAt := now.Add(ttl)
	m.leases[datasetID] = inMemoryRunLeaseRecord{token: token, expiresAt: expiresAt}

	return &RunLease{DatasetID: datasetID, Token: token, ExpiresAt: expiresAt}, nil
}

// Renew extends an existing build lease.
func (m *InMemoryRunLeaseManager) Renew(ctx context.Context, lease *RunLease, ttl time.Duration) (*RunLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lease == nil || lease.DatasetID == "" || lease.Token == "" {
		return nil, fmt.Errorf("valid lease is required")
	}
	if ttl <= 0 {
		ttl = defaultRunLeaseTTL
	}

	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.leases[lease.DatasetID]
	if !ok || rec.token != lease.Token || !now.Before(rec.expiresAt) {
		return nil, ErrRunLeaseConflict
	}

	expiresAt := now.Add(ttl)
	m.leases[lease.DatasetID] = inMemoryRunLeaseRecord{token: lease.Token, expiresAt: expiresAt}

	return &RunLease{DatasetID: lease.DatasetID, Token: lease.Token, ExpiresAt: expiresAt}, nil
}

// Release gives up a build lease.
func (m *InMemoryRunLeaseManager) Release(ctx context.Context, lease *RunLease) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lease == nil || lease.DatasetID == "" || lease.Token == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.leases[lease.DatasetID]
	if !ok {
		return nil
	}
	if rec.token == lease.Token {
		delete(m.leases, lease.DatasetID)
	}
	return nil
}
