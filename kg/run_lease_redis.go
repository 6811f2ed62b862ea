package kg

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisLeasePrefix = "akg:lease:"

// RedisRunLeaseManager coordinates per-dataset build leases via Redis.
//
// It is the distributed RunLeaseManager implementation for multi-pod
// deployments (for example, Kubernetes), where an in-process mutex cannot
// protect builds across instances.
//
// Redis semantics:
//   - Acquire uses SET NX PX for atomic lock-with-TTL.
//   - Renew uses a token-checked Lua script (GET + PEXPIRE).
//   - Release uses a token-checked Lua script (GET + DEL).
//
// Token checks are required so one builder cannot accidentally renew/release
// another builder's lease.
type RedisRunLeaseManager struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisRunLeaseManager creates a Redis-backed lease manager.
//
// Prefix namespaces lease keys, so multiple environments/services can share
// one Redis cluster safely. If prefix is empty, a default namespace is used.
func NewRedisRunLeaseManager(client redis.UniversalClient, prefix string) (*RedisRunLeaseManager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisLeasePrefix
	}
	return &RedisRunLeaseManager{Client: client, Prefix: prefix}, nil
}

// Acquire attempts to acquire a lease for the dataset for the given ttl.
//
// The lease key is namespaced as <prefix><datasetID>. On conflict, it
// returns ErrRunLeaseConflict.
func (m *RedisRunLeaseManager) Acquire(ctx context.Context, datasetID string, ttl time.Duration) (*RunLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(datasetID) == "" {
		return nil, fmt.Errorf("datasetID cannot be empty")
	}
	if ttl <= 0 {
		ttl = defaultRunLeaseTTL
	}

	token, err := randomLeaseToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ok, err := m.Client.SetNX(ctx, m.key(datasetID), token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRunLeaseConflict
	}

	return &RunLease{DatasetID: datasetID, Token: token, ExpiresAt: now.Add(ttl)}, nil
}

// Renew extends an existing lease when the token still owns the key.
//
// If the key is missing, expired, or owned by another token, it returns
// ErrRunLeaseConflict.
func (m *RedisRunLeaseManager) Renew(ctx context.Context, lease *RunLease, ttl time.Duration) (*RunLease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lease == nil || strings.TrimSpace(lease.DatasetID) == "" || strings.TrimSpace(lease.Token) == "" {
		return nil, fmt.Errorf("valid lease is required")
	}
	if ttl <= 0 {
		ttl = defaultRunLeaseTTL
	}

	now := time.Now().UTC()
	res, err := renewRunLeaseScript.Run(ctx, m.Client, []string{m.key(lease.DatasetID)}, lease.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, err
	}
	if res != 1 {
		return nil, ErrRunLeaseConflict
	}

	return &RunLease{DatasetID: lease.DatasetID, Token: lease.Token, ExpiresAt: now.Add(ttl)}, nil
}

// Release deletes an existing lease only if the token still owns the key.
//
// Release is idempotent for missing/invalid leases and does not return
// conflict if another builder owns the key; ownership is enforced by token
// matching.
//
// Release always attempts the Redis call regardless of the caller's context
// state. A cancelled or deadline-exceeded context must not prevent the lock
// from being freed; failing to release would block all subsequent builds
// until the TTL expires.
func (m *RedisRunLeaseManager) Release(_ context.Context, lease *RunLease) error {
	if lease == nil || strings.TrimSpace(lease.DatasetID) == "" || strings.TrimSpace(lease.Token) == "" {
		return nil
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := releaseRunLeaseScript.Run(releaseCtx, m.Client, []string{m.key(lease.DatasetID)}, lease.Token).Int()
	return err
}

func (m *RedisRunLeaseManager) key(datasetID string) string {
	return m.Prefix + datasetID
}

func randomLeaseToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

var renewRunLeaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseRunLeaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)
