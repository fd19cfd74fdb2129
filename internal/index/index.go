// Package index embeds schema documents and answers nearest-neighbour
// lookups for a question.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/schema"
)

// DefaultTopK matches the retrieval depth the service was tuned with.
const DefaultTopK = 2

var ErrNotLoaded = errors.New("index: no schema index loaded")

// Embedder turns texts into vectors. Implementations must return one vector
// per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Entry struct {
	Vector []float32
	Doc    *schema.Document
	Text   string
}

type Meta struct {
	BuildID    string    `json:"build_id"`
	Model      string    `json:"model,omitempty"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// Index is immutable after construction and safe for concurrent Retrieve calls.
type Index struct {
	entries  []Entry
	embedder Embedder
	meta     Meta
}

// Build embeds every document. Any embedding failure aborts the build.
func Build(ctx context.Context, docs []schema.Document, embedder Embedder, model string) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("index: embedder is required")
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = schema.Render(doc)
	}

	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = embedder.Embed(ctx, texts)
		if err != nil {
			return nil, apperr.WrapCtx(apperr.Connectivity, "embed schema documents", err)
		}
		if len(vectors) != len(texts) {
			return nil, apperr.New(apperr.Connectivity, fmt.Sprintf("embedder returned %d vectors for %d documents", len(vectors), len(texts)))
		}
	}

	entries := make([]Entry, len(docs))
	for i := range docs {
		doc := docs[i]
		entries[i] = Entry{Vector: vectors[i], Doc: &doc, Text: texts[i]}
	}
	return New(entries, embedder, Meta{
		BuildID:   uuid.NewString(),
		Model:     model,
		CreatedAt: time.Now().UTC(),
	})
}

// New assembles an index from already-embedded entries. Vectors are
// normalised so that ranking can use a plain dot product.
func New(entries []Entry, embedder Embedder, meta Meta) (*Index, error) {
	dims := 0
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Doc == nil {
			return nil, fmt.Errorf("index: entry %d has no document", i)
		}
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("index: entry %q has an empty vector", e.Doc.Table)
		}
		if dims == 0 {
			dims = len(e.Vector)
		} else if len(e.Vector) != dims {
			return nil, fmt.Errorf("index: entry %q has %d dimensions, want %d", e.Doc.Table, len(e.Vector), dims)
		}
		text := e.Text
		if text == "" {
			text = schema.Render(*e.Doc)
		}
		out[i] = Entry{Vector: normalize(e.Vector), Doc: e.Doc, Text: text}
	}
	meta.Dimensions = dims
	return &Index{entries: out, embedder: embedder, meta: meta}, nil
}

type scored struct {
	entry *Entry
	score float64
}

// Retrieve returns the canonical text of the k closest documents, joined by a
// blank line. k <= 0 means DefaultTopK.
func (idx *Index) Retrieve(ctx context.Context, question string, k int) (string, error) {
	hits, err := idx.Search(ctx, question, k)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(hits))
	for i, hit := range hits {
		parts[i] = hit.Text
	}
	return strings.Join(parts, "\n\n"), nil
}

// Search ranks entries against the question and returns the top k.
func (idx *Index) Search(ctx context.Context, question string, k int) ([]Entry, error) {
	if idx == nil {
		return nil, apperr.Wrap(apperr.Internal, "retrieve", ErrNotLoaded)
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if len(idx.entries) == 0 {
		return nil, nil
	}
	if idx.embedder == nil {
		return nil, apperr.New(apperr.Internal, "index has no embedder attached")
	}

	vectors, err := idx.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, apperr.WrapCtx(apperr.Connectivity, "embed question", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != idx.meta.Dimensions {
		return nil, apperr.New(apperr.Connectivity, "embedding dimensions do not match the index")
	}
	query := normalize(vectors[0])

	ranked := make([]scored, len(idx.entries))
	for i := range idx.entries {
		ranked[i] = scored{entry: &idx.entries[i], score: dot(query, idx.entries[i].Vector)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].entry.Doc.Table < ranked[j].entry.Doc.Table
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		out[i] = *ranked[i].entry
	}
	return out, nil
}

func (idx *Index) Meta() Meta { return idx.meta }

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Entries returns a copy of the entry slice. Documents are shared.
func (idx *Index) Entries() []Entry {
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

func (idx *Index) Documents() []schema.Document {
	out := make([]schema.Document, len(idx.entries))
	for i, e := range idx.entries {
		out[i] = *e.Doc
	}
	return out
}

func (idx *Index) Tables() []string {
	out := make([]string, len(idx.entries))
	for i, e := range idx.entries {
		out[i] = e.Doc.Table
	}
	return out
}

// WithEmbedder returns a copy of idx that embeds questions with embedder.
func (idx *Index) WithEmbedder(embedder Embedder) *Index {
	clone := *idx
	clone.embedder = embedder
	return &clone
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var total float64
	for i := range a {
		total += float64(a[i]) * float64(b[i])
	}
	return total
}
