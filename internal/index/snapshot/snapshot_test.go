package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tablesense/tablesense/internal/index"
	"github.com/tablesense/tablesense/internal/schema"
	"github.com/tablesense/tablesense/internal/storage"
	"github.com/tablesense/tablesense/internal/storage/fsdir"
)

type wordEmbedder struct {
	calls int
}

func (w *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	w.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		out[i] = []float32{
			float32(strings.Count(lower, "order")),
			float32(strings.Count(lower, "customer")),
			0.1,
		}
	}
	return out, nil
}

func buildIndex(t *testing.T, emb index.Embedder) *index.Index {
	t.Helper()
	orders, err := schema.NewDocument("orders",
		[]schema.Column{{Name: "id", Type: "integer"}, {Name: "customer_id", Type: "integer"}},
		[]schema.ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "id"}})
	if err != nil {
		t.Fatalf("orders document: %v", err)
	}
	maxLen := 80
	customers, err := schema.NewDocument("customers",
		[]schema.Column{{Name: "id", Type: "integer"}, {Name: "name", Type: "varchar(80)", MaxLength: &maxLen}}, nil)
	if err != nil {
		t.Fatalf("customers document: %v", err)
	}

	idx, err := index.Build(context.Background(), []schema.Document{customers, orders}, emb, "test-embed")
	if err != nil {
		t.Fatalf("index.Build() error = %v", err)
	}
	return idx
}

func newStore(t *testing.T) *fsdir.Store {
	t.Helper()
	store, err := fsdir.New(t.TempDir())
	if err != nil {
		t.Fatalf("fsdir.New() error = %v", err)
	}
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	emb := &wordEmbedder{}
	original := buildIndex(t, emb)

	manifest, err := Save(ctx, store, original)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if manifest.BuildID != original.Meta().BuildID {
		t.Fatalf("manifest build id = %q, want %q", manifest.BuildID, original.Meta().BuildID)
	}
	if !reflect.DeepEqual(manifest.Tables, []string{"customers", "orders"}) {
		t.Fatalf("manifest tables = %v", manifest.Tables)
	}
	if manifest.Dimensions != 3 {
		t.Fatalf("manifest dimensions = %d", manifest.Dimensions)
	}
	if manifest.EntriesKey != "snapshots/"+manifest.BuildID+"/entries.parquet" {
		t.Fatalf("entries key = %q", manifest.EntriesKey)
	}

	callsBefore := emb.calls
	loaded, got, err := Load(ctx, store, emb)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if emb.calls != callsBefore {
		t.Fatalf("loading re-embedded documents: %d calls, want %d", emb.calls, callsBefore)
	}
	if got.BuildID != manifest.BuildID {
		t.Fatalf("loaded build id = %q", got.BuildID)
	}
	if !reflect.DeepEqual(original.Documents(), loaded.Documents()) {
		t.Fatalf("documents differ after load:\n%+v\n%+v", original.Documents(), loaded.Documents())
	}

	for _, q := range []string{"list every order", "customer names", "hello"} {
		want, err := original.Retrieve(ctx, q, 2)
		if err != nil {
			t.Fatalf("original.Retrieve(%q) error = %v", q, err)
		}
		have, err := loaded.Retrieve(ctx, q, 2)
		if err != nil {
			t.Fatalf("loaded.Retrieve(%q) error = %v", q, err)
		}
		if want != have {
			t.Fatalf("Retrieve(%q) differs:\n%s\n---\n%s", q, want, have)
		}
	}
}

func TestSaveReplacesCurrent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := buildIndex(t, &wordEmbedder{})
	second := buildIndex(t, &wordEmbedder{})
	if _, err := Save(ctx, store, first); err != nil {
		t.Fatalf("Save(first) error = %v", err)
	}
	if _, err := Save(ctx, store, second); err != nil {
		t.Fatalf("Save(second) error = %v", err)
	}

	manifest, err := Current(ctx, store)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if manifest.BuildID != second.Meta().BuildID {
		t.Fatalf("current build = %q, want %q", manifest.BuildID, second.Meta().BuildID)
	}
	if _, err := store.Stat(ctx, "snapshots/"+first.Meta().BuildID+"/entries.parquet"); err != nil {
		t.Fatalf("older build should stay addressable: %v", err)
	}
}

func TestLoadWithoutSnapshot(t *testing.T) {
	_, _, err := Load(context.Background(), newStore(t), &wordEmbedder{})
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load() error = %v, want ErrNoSnapshot", err)
	}
}

func TestLoadRejectsEntryCountMismatch(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	manifest, err := Save(ctx, store, buildIndex(t, &wordEmbedder{}))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	broken := strings.Replace(mustRead(t, store, storage.CurrentKey), `"entries": 2`, `"entries": 5`, 1)
	if _, err := storage.PutBytes(ctx, store, storage.CurrentKey, []byte(broken), "application/json"); err != nil {
		t.Fatalf("PutBytes() error = %v", err)
	}

	_, _, err = Load(ctx, store, &wordEmbedder{})
	if err == nil || !strings.Contains(err.Error(), manifest.BuildID) {
		t.Fatalf("Load() error = %v, want mention of %s", err, manifest.BuildID)
	}
}

func TestCurrentRejectsForeignEntriesKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	manifest, err := Save(ctx, store, buildIndex(t, &wordEmbedder{}))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	tampered := strings.Replace(mustRead(t, store, storage.CurrentKey), manifest.EntriesKey, "../etc/passwd", 1)
	if _, err := storage.PutBytes(ctx, store, storage.CurrentKey, []byte(tampered), "application/json"); err != nil {
		t.Fatalf("PutBytes() error = %v", err)
	}
	if _, err := Current(ctx, store); err == nil {
		t.Fatal("expected Current() to reject an entries key outside the build")
	}
}

func TestPruneKeepsCurrentAndNewest(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		idx := buildIndex(t, &wordEmbedder{})
		manifest, err := Save(ctx, store, idx)
		if err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
		stamp := base.Add(time.Duration(i) * time.Minute)
		file := filepath.Join(store.Root(), filepath.FromSlash(manifest.EntriesKey))
		if err := os.Chtimes(file, stamp, stamp); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
		ids = append(ids, manifest.BuildID)
	}

	removed, err := Prune(ctx, store, 1)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if !reflect.DeepEqual(removed, []string{ids[0], ids[1]}) {
		t.Fatalf("removed = %v, want %v", removed, ids[:2])
	}
	for i, id := range ids {
		_, err := store.Stat(ctx, "snapshots/"+id+"/entries.parquet")
		if i < 2 && !errors.Is(err, storage.ErrObjectNotFound) {
			t.Fatalf("build %d should be pruned, Stat() error = %v", i, err)
		}
		if i >= 2 && err != nil {
			t.Fatalf("build %d should survive, Stat() error = %v", i, err)
		}
	}

	if _, _, err := Load(ctx, store, &wordEmbedder{}); err != nil {
		t.Fatalf("Load() after prune error = %v", err)
	}
	again, err := Prune(ctx, store, 1)
	if err != nil || len(again) != 0 {
		t.Fatalf("second Prune() = %v, %v", again, err)
	}
}

func TestPruneWithoutSnapshot(t *testing.T) {
	if _, err := Prune(context.Background(), newStore(t), 0); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Prune() error = %v, want ErrNoSnapshot", err)
	}
}

func mustRead(t *testing.T, store storage.ObjectStore, key string) string {
	t.Helper()
	body, err := storage.ReadAll(context.Background(), store, key)
	if err != nil {
		t.Fatalf("ReadAll(%q) error = %v", key, err)
	}
	return string(body)
}
