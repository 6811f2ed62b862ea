package kg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore implements GraphStore over the official Bolt driver.
// The caller owns the driver lifecycle unless the store was built with
// NewNeo4jStoreFromURI, in which case Close releases the driver too.
type Neo4jStore struct {
	Driver   neo4j.DriverWithContext
	Database string

	ownsDriver bool
}

// Neo4jConfig carries the connection settings for NewNeo4jStoreFromURI.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string

	ConnectTimeout time.Duration
	MaxPoolSize    int
}

// NewNeo4jStore wraps an existing driver.
func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{Driver: driver, Database: database}
}

// NewNeo4jStoreFromURI dials the database and verifies connectivity.
func NewNeo4jStoreFromURI(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}

	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = "neo4j"
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}

	auth := neo4j.BasicAuth(user, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(c *neo4j.Config) {
		c.SocketConnectTimeout = connectTimeout
		c.MaxConnectionPoolSize = maxPool
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	return &Neo4jStore{
		Driver:     driver,
		Database:   strings.TrimSpace(cfg.Database),
		ownsDriver: true,
	}, nil
}

// Execute runs a single query and eagerly collects the result records.
func (s *Neo4jStore) Execute(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	if s == nil || s.Driver == nil {
		return nil, ErrGraphStoreNotConfigured
	}

	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if s.Database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.Database))
	}

	result, err := neo4j.ExecuteQuery(ctx, s.Driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("execute graph query: %w", err)
	}

	records := make([]Record, 0, len(result.Records))
	for _, rec := range result.Records {
		records = append(records, Record(rec.AsMap()))
	}
	return records, nil
}

// Close releases the underlying driver when this store created it.
func (s *Neo4jStore) Close(ctx context.Context) error {
	if s == nil || s.Driver == nil || !s.ownsDriver {
		return nil
	}
	return s.Driver.Close(ctx)
}

var _ GraphStore = (*Neo4jStore)(nil)
