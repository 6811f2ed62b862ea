// Package testutil provides test fixtures that are shared across packages.
package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// FakeS3 is an in-memory S3 endpoint with a pre-created bucket.
type FakeS3 struct {
	Server *httptest.Server
	Client *s3.Client
	Bucket string
}

// StartFakeS3 boots a gofakes3 server, wires an SDK client at it with
// path-style addressing, and creates the bucket.
func StartFakeS3(ctx context.Context, bucket string) (*FakeS3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	server := httptest.NewServer(gofakes3.New(s3mem.New()).Server())

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(server.URL)
	})

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		server.Close()
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}

	return &FakeS3{Server: server, Client: client, Bucket: bucket}, nil
}

// Close shuts the fake endpoint down.
func (f *FakeS3) Close() {
	if f == nil || f.Server == nil {
		return
	}
	f.Server.Close()
}
