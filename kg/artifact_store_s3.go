package kg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3ArtifactStore implements ArtifactStore using AWS S3 with ETag-based
// optimistic concurrency control.
type S3ArtifactStore struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewS3ArtifactStore creates an S3-backed artifact store. The prefix is
// optional and is prepended to all keys.
func NewS3ArtifactStore(client *s3.Client, bucket, prefix string) *S3ArtifactStore {
	return &S3ArtifactStore{
		Client: client,
		Bucket: bucket,
		Prefix: prefix,
	}
}

func (s *S3ArtifactStore) fullKey(key string) string {
	if s.Prefix == "" {
		return key
	}
	return s.Prefix + key
}

// Head retrieves metadata for an artifact. Returns ErrArtifactNotFound if
// the key does not exist.
func (s *S3ArtifactStore) Head(ctx context.Context, key string) (*ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var notFoundErr *types.NotFound
		if errors.As(err, &notFoundErr) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
		}
		return nil, fmt.Errorf("head artifact %s: %w", key, err)
	}

	return &ArtifactInfo{
		Key:       key,
		Version:   aws.ToString(result.ETag),
		UpdatedAt: lastModifiedOrNow(result.LastModified),
		Size:      aws.ToInt64(result.ContentLength),
	}, nil
}

func (s *S3ArtifactStore) Get(ctx context.Context, key string) ([]byte, *ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	result, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var notFoundErr *types.NoSuchKey
		if errors.As(err, &notFoundErr) {
			return nil, nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
		}
		return nil, nil, fmt.Errorf("get artifact %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact %s: %w", key, err)
	}

	return data, &ArtifactInfo{
		Key:       key,
		Version:   aws.ToString(result.ETag),
		UpdatedAt: lastModifiedOrNow(result.LastModified),
		Size:      int64(len(data)),
	}, nil
}

// PutIfMatch publishes an artifact. If expectedVersion is empty the write is
// unconditional; otherwise it must match the current ETag, and a 412 from S3
// maps to ErrArtifactVersionMismatch.
func (s *S3ArtifactStore) PutIfMatch(ctx context.Context, key string, data []byte, expectedVersion string) (*ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(data),
	}
	if expectedVersion != "" {
		input.IfMatch = aws.String(expectedVersion)
	}

	result, err := s.Client.PutObject(ctx, input)
	if err != nil {
		var responseErr *smithyhttp.ResponseError
		if errors.As(err, &responseErr) && responseErr.HTTPStatusCode() == 412 {
			return nil, fmt.Errorf("%w: %s", ErrArtifactVersionMismatch, key)
		}
		return nil, fmt.Errorf("put artifact %s: %w", key, err)
	}

	return &ArtifactInfo{
		Key:       key,
		Version:   aws.ToString(result.ETag),
		UpdatedAt: time.Now().UTC(),
		Size:      int64(len(data)),
	}, nil
}

func (s *S3ArtifactStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}

func (s *S3ArtifactStore) List(ctx context.Context, prefix string) ([]ArtifactInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPrefix := s.fullKey(prefix)
	items := make([]ArtifactInfo, 0)
	var token *string

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list artifacts for prefix %s: %w", prefix, err)
		}

		for _, obj := range out.Contents {
			fullKey := aws.ToString(obj.Key)
			key := fullKey
			if s.Prefix != "" {
				key = strings.TrimPrefix(fullKey, s.Prefix)
			}
			items = append(items, ArtifactInfo{
				Key:       key,
				Version:   aws.ToString(obj.ETag),
				UpdatedAt: lastModifiedOrNow(obj.LastModified),
				Size:      aws.ToInt64(obj.Size),
			})
		}

		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})

	return items, nil
}

func lastModifiedOrNow(t *time.Time) time.Time {
	if t != nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
