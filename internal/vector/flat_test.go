package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFlatInsertAndSearchFindsNearestMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.vectors")
	f, err := OpenFlat(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ctx := context.Background()
	if err := f.Insert(ctx, "a", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(ctx, "b", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}

	matches, err := f.Search(ctx, []float32{0.9, 0.1, 0}, 5, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ClaimID != "a" {
		t.Fatalf("expected claim a as the only match, got %+v", matches)
	}
}

func TestFlatInsertRejectsWrongDimension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.vectors")
	f, err := OpenFlat(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.Insert(context.Background(), "a", []float32{1, 0}); err == nil {
		t.Fatal("expected a dimension mismatch error")
	}
}

func TestFlatDeleteRemovesFromSearchAndReusesSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.vectors")
	f, err := OpenFlat(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ctx := context.Background()
	if err := f.Insert(ctx, "a", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if f.Count() != 0 {
		t.Fatalf("expected count 0 after delete, got %d", f.Count())
	}

	matches, err := f.Search(ctx, []float32{1, 0}, 5, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches after delete, got %+v", matches)
	}

	if err := f.Insert(ctx, "b", []float32{0, 1}); err != nil {
		t.Fatal(err)
	}
	if f.Count() != 1 {
		t.Fatalf("expected count 1 after reinsert into freed slot, got %d", f.Count())
	}
}

func TestFlatPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.vectors")
	f, err := OpenFlat(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(context.Background(), "a", []float32{1, 1}); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFlat(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Count() != 1 {
		t.Fatalf("expected 1 vector after reopen, got %d", reopened.Count())
	}
}

func TestFlatOpenRejectsDimensionMismatchOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.vectors")
	f, err := OpenFlat(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenFlat(path, 4); err == nil {
		t.Fatal("expected an error reopening with a mismatched dimension")
	}
}

func TestFlatRebuildReplacesContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.vectors")
	f, err := OpenFlat(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ctx := context.Background()
	if err := f.Insert(ctx, "stale", []float32{1, 1}); err != nil {
		t.Fatal(err)
	}

	src := map[string][]float32{"fresh": {0, 1}}
	err = f.Rebuild(ctx, func(yield func(id string, embedding []float32) bool) error {
		for id, vec := range src {
			if !yield(id, vec) {
				break
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if f.Count() != 1 {
		t.Fatalf("expected 1 vector after rebuild, got %d", f.Count())
	}
	matches, err := f.Search(ctx, []float32{0, 1}, 5, 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ClaimID != "fresh" {
		t.Fatalf("expected only the rebuilt vector to be searchable, got %+v", matches)
	}
}
