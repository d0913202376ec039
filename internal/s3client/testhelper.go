package s3client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// TestClient serves an in-memory bucket for artifact publishing tests and
// returns a Client writing under prefix in it. Everything is torn down
// with t.
func TestClient(t testing.TB, bucketName, prefix string) *Client {
	t.Helper()

	backend := gofakes3.New(s3mem.New())
	srv := httptest.NewServer(backend.Server())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("artifacts", "artifacts-secret", "")),
	)
	if err != nil {
		t.Fatalf("s3 test config: %v", err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
		// gofakes3 only routes path-style requests.
		o.UsePathStyle = true
	})
	if _, err := api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("create bucket %s: %v", bucketName, err)
	}
	return NewFromS3Client(api, bucketName, prefix)
}
