package storage

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestClassifyMinioError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, ErrNotFound},
		{"no such object", minio.ErrorResponse{Code: "NoSuchObject"}, ErrNotFound},
		{"bare 404", minio.ErrorResponse{StatusCode: http.StatusNotFound}, ErrNotFound},
		{"missing bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, ErrTransient},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, ErrTransient},
		{"timeout", context.DeadlineExceeded, ErrTransient},
		{"network", errors.New("dial tcp: connection refused"), ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyMinioError("photos/cat.png", tc.err)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var objErr *ObjectError
			if !errors.As(err, &objErr) || objErr.Key != "photos/cat.png" {
				t.Fatalf("expected ObjectError for key, got %v", err)
			}
		})
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestClientFetchEmptyKey(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "localhost:9000", Bucket: "images"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Fetch(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty key, got %v", err)
	}
}
