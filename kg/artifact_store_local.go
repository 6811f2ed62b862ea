package kg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalArtifactStore implements ArtifactStore on the local filesystem.
// Versions are the hex SHA-256 of the document content, so an identical
// rewrite keeps the same version.
type LocalArtifactStore struct {
	Root string
}

func (l *LocalArtifactStore) path(key string) string {
	return filepath.Join(l.Root, filepath.FromSlash(key))
}

func (l *LocalArtifactStore) Head(ctx context.Context, key string) (*ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := l.path(key)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &ArtifactInfo{
		Key:       key,
		Version:   sha256Hex(data),
		UpdatedAt: info.ModTime().UTC(),
		Size:      info.Size(),
	}, nil
}

func (l *LocalArtifactStore) Get(ctx context.Context, key string) ([]byte, *ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	path := l.path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact %s: %w", key, err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}

	return data, &ArtifactInfo{
		Key:       key,
		Version:   sha256Hex(data),
		UpdatedAt: stat.ModTime().UTC(),
		Size:      stat.Size(),
	}, nil
}

func (l *LocalArtifactStore) PutIfMatch(ctx context.Context, key string, data []byte, expectedVersion string) (*ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dest := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, err
	}

	if expectedVersion != "" {
		current, err := l.Head(ctx, key)
		if err != nil && !errors.Is(err, ErrArtifactNotFound) {
			return nil, err
		}
		if current == nil || current.Version != expectedVersion {
			return nil, fmt.Errorf("%w: %s", ErrArtifactVersionMismatch, key)
		}
	}

	// write through a temp file in the same directory so the rename is atomic
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".artifact-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("publish artifact %s: %w", key, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}

	return &ArtifactInfo{
		Key:       key,
		Version:   sha256Hex(data),
		UpdatedAt: info.ModTime().UTC(),
		Size:      info.Size(),
	}, nil
}

func (l *LocalArtifactStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return nil
	}

	err := os.Remove(l.path(key))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (l *LocalArtifactStore) List(ctx context.Context, prefix string) ([]ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(l.Root); errors.Is(err, os.ErrNotExist) {
		return []ArtifactInfo{}, nil
	} else if err != nil {
		return nil, err
	}

	items := make([]ArtifactInfo, 0)
	err := filepath.WalkDir(l.Root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(filepath.Base(key), ".artifact-") {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		// mtime+size as cheap version proxy; Head gives the content hash
		version := fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())

		items = append(items, ArtifactInfo{
			Key:       key,
			Version:   version,
			UpdatedAt: info.ModTime().UTC(),
			Size:      info.Size(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ArtifactInfo{}, nil
		}
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})

	return items, nil
}
