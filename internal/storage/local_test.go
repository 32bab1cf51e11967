package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		outputDir := filepath.Join(t.TempDir(), "nested", "output")

		storage, err := NewLocalStorage(outputDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.OutputDir() != outputDir {
			t.Errorf("OutputDir() = %v, want %v", storage.OutputDir(), outputDir)
		}

		info, err := os.Stat(outputDir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		t.Chdir(t.TempDir())

		storage, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if filepath.Base(storage.OutputDir()) != "output" {
			t.Errorf("OutputDir() = %v, want */output", storage.OutputDir())
		}
	})
}

func TestLocalStorage_UniquePath(t *testing.T) {
	storage := setupTestStorage(t)

	first, err := storage.UniquePath("output", ".mp3")
	if err != nil {
		t.Fatalf("UniquePath() error = %v", err)
	}
	second, err := storage.UniquePath("output", ".mp3")
	if err != nil {
		t.Fatalf("UniquePath() error = %v", err)
	}
	third, err := storage.UniquePath("output", ".mp3")
	if err != nil {
		t.Fatalf("UniquePath() error = %v", err)
	}

	want := []string{"output.mp3", "output_1.mp3", "output_2.mp3"}
	for i, got := range []string{first, second, third} {
		if filepath.Base(got) != want[i] {
			t.Errorf("call %d = %s, want %s", i, filepath.Base(got), want[i])
		}
		if filepath.Dir(got) != storage.OutputDir() {
			t.Errorf("call %d placed in %s", i, filepath.Dir(got))
		}
	}
}

func TestLocalStorage_UniquePath_Concurrent(t *testing.T) {
	storage := setupTestStorage(t)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = map[string]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := storage.UniquePath("playlist", ".txt")
			if err != nil {
				t.Errorf("UniquePath() error = %v", err)
				return
			}
			mu.Lock()
			paths[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(paths) != 20 {
		t.Errorf("expected 20 distinct paths, got %d", len(paths))
	}
}

func TestLocalStorage_Remove(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("removes files and ignores missing ones", func(t *testing.T) {
		path := filepath.Join(storage.OutputDir(), "partial.mp3")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}

		err := storage.Remove(context.Background(), []string{path, filepath.Join(storage.OutputDir(), "missing.mp3")})
		if err != nil {
			t.Fatalf("Remove() error = %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("file should have been removed")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.Remove(ctx, []string{"whatever"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_Upload(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.Upload(ctx, "key", bytes.NewReader([]byte("data")))
	if !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
}

func TestUploadFile_MissingFile(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := UploadFile(context.Background(), storage, "key", filepath.Join(storage.OutputDir(), "nope.mp3"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()

	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}
