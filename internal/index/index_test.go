package index

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/schema"
)

// keywordEmbedder counts vocabulary words, which is enough to make retrieval
// order predictable.
type keywordEmbedder struct {
	vocab []string
	err   error
	calls int
	mu    sync.Mutex
}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(k.vocab)+1)
		for j, word := range k.vocab {
			vec[j] = float32(strings.Count(lower, word))
		}
		vec[len(k.vocab)] = 0.01
		out[i] = vec
	}
	return out, nil
}

func docs(t *testing.T) []schema.Document {
	t.Helper()
	mk := func(table string, cols ...string) schema.Document {
		columns := make([]schema.Column, len(cols))
		for i, c := range cols {
			columns[i] = schema.Column{Name: c, Type: "text"}
		}
		doc, err := schema.NewDocument(table, columns, nil)
		if err != nil {
			t.Fatalf("NewDocument(%s) error = %v", table, err)
		}
		return doc
	}
	return []schema.Document{
		mk("customers", "id", "name"),
		mk("orders", "id", "total"),
		mk("products", "sku", "price"),
	}
}

func newEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"customer", "order", "product", "price"}}
}

func build(t *testing.T, in []schema.Document, emb Embedder, model string) *Index {
	t.Helper()
	idx, err := Build(context.Background(), in, emb, model)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return idx
}

func TestBuildAndRetrieveRanksByCosine(t *testing.T) {
	idx := build(t, docs(t), newEmbedder(), "test-model")
	if idx.Len() != 3 || idx.Meta().Dimensions != 5 || idx.Meta().BuildID == "" {
		t.Fatalf("len/meta = %d/%+v", idx.Len(), idx.Meta())
	}

	hits, err := idx.Search(context.Background(), "How many orders are there?", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.Table != "orders" {
		t.Fatalf("Search() = %+v, want orders", hits)
	}

	text, err := idx.Retrieve(context.Background(), "what is the price of each product", 0)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	parts := strings.Split(text, "\n\n")
	if len(parts) != DefaultTopK {
		t.Fatalf("Retrieve() returned %d documents, want %d", len(parts), DefaultTopK)
	}
	if !strings.HasPrefix(parts[0], "Table: products") {
		t.Fatalf("top document = %q", parts[0])
	}
}

func TestRetrieveTiesBreakByTableName(t *testing.T) {
	idx := build(t, docs(t), newEmbedder(), "")

	hits, err := idx.Search(context.Background(), "nothing relevant", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	got := []string{hits[0].Doc.Table, hits[1].Doc.Table, hits[2].Doc.Table}
	if !reflect.DeepEqual(got, []string{"customers", "orders", "products"}) {
		t.Fatalf("tie order = %v", got)
	}
}

func TestRetrieveClampsK(t *testing.T) {
	idx := build(t, docs(t), newEmbedder(), "")
	hits, err := idx.Search(context.Background(), "orders", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("Search() returned %d hits, want 3", len(hits))
	}
}

func TestBuildEmbeddingFailureAborts(t *testing.T) {
	emb := newEmbedder()
	emb.err = errors.New("503 from embedding service")
	_, err := Build(context.Background(), docs(t), emb, "")
	if err == nil {
		t.Fatal("expected build error")
	}
	if kind := apperr.KindOf(err); kind != apperr.Connectivity {
		t.Fatalf("kind = %s, want %s", kind, apperr.Connectivity)
	}
}

func TestRetrieveEmbeddingFailureIsConnectivity(t *testing.T) {
	emb := newEmbedder()
	idx := build(t, docs(t), emb, "")

	emb.err = errors.New("connection reset")
	_, err := idx.Retrieve(context.Background(), "orders", 2)
	if kind := apperr.KindOf(err); kind != apperr.Connectivity {
		t.Fatalf("kind = %s, want %s", kind, apperr.Connectivity)
	}
}

func TestNewRejectsMismatchedDimensions(t *testing.T) {
	d := docs(t)
	_, err := New([]Entry{
		{Vector: []float32{1, 0}, Doc: &d[0]},
		{Vector: []float32{1, 0, 0}, Doc: &d[1]},
	}, nil, Meta{})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestDocumentsPreserveCatalog(t *testing.T) {
	in := docs(t)
	idx := build(t, in, newEmbedder(), "")
	if !reflect.DeepEqual(in, idx.Documents()) {
		t.Fatalf("Documents() = %+v", idx.Documents())
	}
	if !reflect.DeepEqual(idx.Tables(), []string{"customers", "orders", "products"}) {
		t.Fatalf("Tables() = %v", idx.Tables())
	}
}

func TestHolderSwapIsVisibleToLaterReads(t *testing.T) {
	h := NewHolder(nil)
	if h.Loaded() {
		t.Fatal("empty holder reports loaded")
	}
	if _, err := h.Retrieve(context.Background(), "orders", 2); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Retrieve() error = %v, want ErrNotLoaded", err)
	}

	first := build(t, docs(t)[:1], newEmbedder(), "")
	second := build(t, docs(t), newEmbedder(), "")

	if prev := h.Swap(first); prev != nil {
		t.Fatalf("first Swap() returned %p, want nil", prev)
	}
	if h.Load() != first {
		t.Fatal("Load() does not return the swapped index")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Retrieve(context.Background(), "orders", 1)
		}()
	}
	if prev := h.Swap(second); prev != first {
		t.Fatal("second Swap() should return the first index")
	}
	wg.Wait()

	text, err := h.Retrieve(context.Background(), "orders", 1)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !strings.HasPrefix(text, "Table: orders") {
		t.Fatalf("Retrieve() = %q", text)
	}
}
