package kg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ArtifactRunLedger implements RunLedger on top of an ArtifactStore, for
// deployments without a MongoDB. Versions come from the underlying store.
type ArtifactRunLedger struct {
	Store ArtifactStore
}

func runKey(runID string) string {
	return "runs/" + runID + ".json"
}

func (l *ArtifactRunLedger) Get(ctx context.Context, runID string) (*RunDocument, error) {
	data, info, err := l.Store.Get(ctx, runKey(runID))
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var result BuildResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}

	return &RunDocument{
		Result:  result,
		Version: info.Version,
	}, nil
}

func (l *ArtifactRunLedger) HeadVersion(ctx context.Context, runID string) (string, error) {
	info, err := l.Store.Head(ctx, runKey(runID))
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			return "", nil
		}
		return "", err
	}
	return info.Version, nil
}

func (l *ArtifactRunLedger) UpsertIfMatch(ctx context.Context, runID string, result BuildResult, expectedVersion string) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode run %s: %w", runID, err)
	}

	info, err := l.Store.PutIfMatch(ctx, runKey(runID), data, expectedVersion)
	if err != nil {
		return "", err
	}
	return info.Version, nil
}

func (l *ArtifactRunLedger) Delete(ctx context.Context, runID string) error {
	return l.Store.Delete(ctx, runKey(runID))
}
