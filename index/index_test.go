//go:build cgo

package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.idx")
	ix, err := Create(path, 4)
	if err != nil {
		t.Fatalf("creating index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestCreateRejectsExistingFile(t *testing.T) {
	ix := newTestIndex(t)
	if _, err := Create(ix.Path(), 4); err == nil {
		t.Fatal("expected error creating over existing file")
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.idx"), 4)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for missing file, got %v", err)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.idx")
	if err := os.WriteFile(path, []byte("definitely not an index"), 0o644); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	_, err := Open(path, 4)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for corrupt file, got %v", err)
	}
}

func TestOpenDimensionMismatch(t *testing.T) {
	ix := newTestIndex(t)
	path := ix.Path()
	if err := ix.Persist(context.Background()); err != nil {
		t.Fatalf("persist: %v", err)
	}
	ix.Close()

	_, err := Open(path, 8)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for dimension mismatch, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Insert / search / persist round trip
// ---------------------------------------------------------------------------

func TestInsertAndSearch(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	vectors := map[int64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0.9, 0.1, 0, 0},
	}
	for id, vec := range vectors {
		if err := ix.Insert(ctx, id, vec); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}

	matches, err := ix.Search(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].PassageID != 1 {
		t.Errorf("top match = %d, want 1", matches[0].PassageID)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Error("matches not ordered by ascending distance")
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	ix := newTestIndex(t)
	if err := ix.Insert(context.Background(), 1, []float32{1, 2}); err == nil {
		t.Fatal("expected error for wrong vector dimension")
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.idx")
	ctx := context.Background()

	ix, err := Create(path, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	vec := []float32{0.5, 0.5, 0.5, 0.5}
	if err := ix.Insert(ctx, 42, vec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ix.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count after reload = %d (%v), want 1", n, err)
	}

	// A vector searched with itself must come back at near-zero distance.
	matches, err := reopened.Search(ctx, vec, 1)
	if err != nil {
		t.Fatalf("search after reload: %v", err)
	}
	if len(matches) != 1 || matches[0].PassageID != 42 {
		t.Fatalf("expected passage 42, got %+v", matches)
	}
	if matches[0].Distance > 1e-5 {
		t.Errorf("self-distance = %f, want near zero", matches[0].Distance)
	}
}

func TestDelete(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Insert(ctx, 7, []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ix.Delete(ctx, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, err := ix.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("count after delete = %d (%v), want 0", n, err)
	}
}

func TestSearchZeroK(t *testing.T) {
	ix := newTestIndex(t)
	matches, err := ix.Search(context.Background(), []float32{1, 0, 0, 0}, 0)
	if err != nil || matches != nil {
		t.Fatalf("k=0 should return nothing, got %v, %v", matches, err)
	}
}
