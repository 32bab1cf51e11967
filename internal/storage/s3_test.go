package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Storage(t *testing.T) {
	cfg := testS3Config("http://localhost:4566") // LocalStack-like endpoint

	storage, err := NewS3Storage(context.Background(), t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if storage.bucket != cfg.Bucket {
		t.Errorf("bucket = %v, want %v", storage.bucket, cfg.Bucket)
	}
	if storage.region != cfg.Region {
		t.Errorf("region = %v, want %v", storage.region, cfg.Region)
	}
}

func TestS3Storage_InheritsLocalStorage(t *testing.T) {
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config("http://localhost:4566"))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	path, err := storage.UniquePath("output", ".mp3")
	if err != nil {
		t.Fatalf("UniquePath() error = %v", err)
	}
	if filepath.Dir(path) != storage.OutputDir() {
		t.Errorf("path %s not in output dir %s", path, storage.OutputDir())
	}
	if err := storage.Remove(context.Background(), []string{path}); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
}

func TestS3Storage_Upload_MockServer(t *testing.T) {
	// Create a mock S3 server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}

		if !strings.HasSuffix(r.URL.Path, "/test-bucket/splices/mix.mp3") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "test content" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testS3Config(server.URL)
	cfg.Prefix = "/splices/"

	storage, err := NewS3Storage(context.Background(), t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	local := filepath.Join(t.TempDir(), "mix.mp3")
	if err := os.WriteFile(local, []byte("test content"), 0o644); err != nil {
		t.Fatal(err)
	}

	url, err := UploadFile(context.Background(), storage, "mix.mp3", local)
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}

	expectedURL := server.URL + "/test-bucket/splices/mix.mp3"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}
}

func TestS3Storage_URL_DefaultEndpoint(t *testing.T) {
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config(""))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if got := storage.url("a/b.mp3"); got != "https://test-bucket.s3.us-east-1.amazonaws.com/a/b.mp3" {
		t.Errorf("url = %v", got)
	}
}
