// artifact_store.go is the persistence abstraction for pipeline artifacts:
// small JSON documents (goal, file selection, plans) written once per phase
// and reloaded on resume. Versions enable optimistic concurrency on publish;
// an empty expected version means unconditional replace.

package kg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known artifact keys, one per plan-producing phase.
const (
	ArtifactGoal             = "approved_user_goal.json"
	ArtifactFileSelection    = "approved_files.json"
	ArtifactConstructionPlan = "construction_plan.json"
	ArtifactExtractionPlan   = "extraction_plan.json"
)

// ArtifactInfo describes a stored artifact document.
type ArtifactInfo struct {
	Key       string
	Version   string
	UpdatedAt time.Time
	Size      int64
}

// ArtifactStore stores versioned artifact documents.
type ArtifactStore interface {
	Head(ctx context.Context, key string) (*ArtifactInfo, error)
	Get(ctx context.Context, key string) ([]byte, *ArtifactInfo, error)
	PutIfMatch(ctx context.Context, key string, data []byte, expectedVersion string) (*ArtifactInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ArtifactInfo, error)
}

// LoadArtifact reads and decodes a JSON artifact into out. Returns
// ErrArtifactNotFound (wrapped) when the key does not exist.
func LoadArtifact(ctx context.Context, store ArtifactStore, key string, out any) (*ArtifactInfo, error) {
	data, info, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", key, err)
	}
	return info, nil
}

// SaveArtifact encodes v as indented JSON and replaces the artifact
// unconditionally.
func SaveArtifact(ctx context.Context, store ArtifactStore, key string, v any) (*ArtifactInfo, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact %s: %w", key, err)
	}
	return store.PutIfMatch(ctx, key, data, "")
}

// ArtifactExists reports whether the key is present.
func ArtifactExists(ctx context.Context, store ArtifactStore, key string) (bool, error) {
	_, err := store.Head(ctx, key)
	if errors.Is(err, ErrArtifactNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
