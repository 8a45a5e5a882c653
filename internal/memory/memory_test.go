package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

// wordEmbedder maps known words to fixed orthogonal-ish vectors so
// similarity is predictable without a real model.
func wordEmbedder(t *testing.T) EmbedFunc {
	t.Helper()
	vectors := map[string][]float32{
		"coffee":   {1, 0, 0, 0},
		"espresso": {0.9, 0.1, 0, 0},
		"weather":  {0, 1, 0, 0},
		"golang":   {0, 0, 1, 0},
	}
	return func(ctx context.Context, content string) ([]float32, error) {
		for word, vec := range vectors {
			if strings.Contains(strings.ToLower(content), word) {
				return vec, nil
			}
		}
		return []float32{0, 0, 0, 1}, nil
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"), wordEmbedder(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIndexAndSearchByCosine(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, content := range []string{
		"the user prefers espresso in the morning",
		"tomorrow's weather will be rainy",
		"the project is written in golang",
	} {
		if _, err := store.Index(ctx, content, "note", ""); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.Search(ctx, "coffee order", 2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results: %d, want the espresso note only", len(results))
	}
	if !strings.Contains(results[0].Content, "espresso") {
		t.Fatalf("wrong top result: %q", results[0].Content)
	}
	if results[0].Source != "note" {
		t.Fatalf("source: %q", results[0].Source)
	}
}

func TestSearchOrderingAndTopK(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.Index(ctx, "coffee facts", "a", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Index(ctx, "espresso notes", "b", ""); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, "coffee", 5, 0.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) < 2 {
		t.Fatalf("results: %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatal("results not in descending score order")
		}
	}

	capped, err := store.Search(ctx, "coffee", 1, 0.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 1 {
		t.Fatalf("topK not applied: %d", len(capped))
	}
}

func TestStats(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	st, err := store.Stats(ctx)
	if err != nil || st.TotalChunks != 0 {
		t.Fatalf("empty stats: %+v err=%v", st, err)
	}

	if _, err := store.Index(ctx, "golang tips", "note", "42"); err != nil {
		t.Fatal(err)
	}
	st, err = store.Stats(ctx)
	if err != nil || st.TotalChunks != 1 {
		t.Fatalf("stats after index: %+v err=%v", st, err)
	}
}

func TestIndexRejectsEmptyContent(t *testing.T) {
	store := openStore(t)
	if _, err := store.Index(context.Background(), "", "note", ""); err == nil {
		t.Fatal("empty content accepted")
	}
}

func TestEmbedderFailurePropagates(t *testing.T) {
	failing := func(ctx context.Context, content string) ([]float32, error) {
		return nil, errors.New("embedder down")
	}
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"), failing, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Index(context.Background(), "content", "note", ""); err == nil {
		t.Fatal("embed failure not propagated")
	}
	if _, err := store.Search(context.Background(), "query", 3, 0); err == nil {
		t.Fatal("embed failure not propagated from search")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.125}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("length: %d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %v != %v", i, in[i], out[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("corrupt blob accepted")
	}
}
