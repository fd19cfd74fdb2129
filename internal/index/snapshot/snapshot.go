// Package snapshot persists a built schema index so the service can start
// without re-embedding the catalog.
//
// Layout inside the object store:
//
//	snapshots/<build-id>/entries.parquet   one row per indexed table
//	snapshots/CURRENT                      JSON manifest naming the live build
//
// CURRENT is written last, so a crashed save leaves the previous build live.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tablesense/tablesense/internal/index"
	"github.com/tablesense/tablesense/internal/schema"
	"github.com/tablesense/tablesense/internal/storage"
)

const (
	entriesFile = "entries.parquet"
	formatV1    = 1
)

var ErrNoSnapshot = errors.New("snapshot: no index has been saved")

type Manifest struct {
	Format     int       `json:"format"`
	BuildID    string    `json:"build_id"`
	Model      string    `json:"model,omitempty"`
	Dimensions int       `json:"dimensions"`
	Entries    int       `json:"entries"`
	Tables     []string  `json:"tables"`
	CreatedAt  time.Time `json:"created_at"`
	EntriesKey string    `json:"entries_key"`
}

type entryRow struct {
	Position     int32     `parquet:"position"`
	Table        string    `parquet:"table"`
	Text         string    `parquet:"text"`
	DocumentJSON string    `parquet:"document_json"`
	Vector       []float32 `parquet:"vector"`
}

// Save writes the entries file and then flips CURRENT to it.
func Save(ctx context.Context, store storage.ObjectStore, idx *index.Index) (Manifest, error) {
	if idx == nil {
		return Manifest{}, fmt.Errorf("snapshot: index is required")
	}
	meta := idx.Meta()
	if meta.BuildID == "" {
		return Manifest{}, fmt.Errorf("snapshot: index has no build id")
	}

	entries := idx.Entries()
	rows := make([]entryRow, 0, len(entries))
	for i, e := range entries {
		docJSON, err := json.Marshal(e.Doc)
		if err != nil {
			return Manifest{}, fmt.Errorf("encode document %q: %w", e.Doc.Table, err)
		}
		rows = append(rows, entryRow{
			Position:     int32(i),
			Table:        e.Doc.Table,
			Text:         e.Text,
			DocumentJSON: string(docJSON),
			Vector:       e.Vector,
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[entryRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return Manifest{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Manifest{}, fmt.Errorf("close parquet writer: %w", err)
	}

	entriesKey, err := storage.BuildSnapshotKey(meta.BuildID, entriesFile)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: %w", err)
	}
	if _, err := storage.PutBytes(ctx, store, entriesKey, buf.Bytes(), "application/vnd.apache.parquet"); err != nil {
		return Manifest{}, fmt.Errorf("store entries: %w", err)
	}

	manifest := Manifest{
		Format:     formatV1,
		BuildID:    meta.BuildID,
		Model:      meta.Model,
		Dimensions: meta.Dimensions,
		Entries:    len(rows),
		Tables:     idx.Tables(),
		CreatedAt:  meta.CreatedAt,
		EntriesKey: entriesKey,
	}
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := storage.PutBytes(ctx, store, storage.CurrentKey, body, "application/json"); err != nil {
		return Manifest{}, fmt.Errorf("store manifest: %w", err)
	}
	return manifest, nil
}

// Current reads the live manifest.
func Current(ctx context.Context, store storage.ObjectStore) (Manifest, error) {
	body, err := storage.ReadAll(ctx, store, storage.CurrentKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Manifest{}, ErrNoSnapshot
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Format != formatV1 {
		return Manifest{}, fmt.Errorf("unsupported snapshot format %d", manifest.Format)
	}
	if buildID, ok := storage.SnapshotBuildID(manifest.EntriesKey); !ok || buildID != manifest.BuildID {
		return Manifest{}, fmt.Errorf("manifest entries key %q does not belong to build %s", manifest.EntriesKey, manifest.BuildID)
	}
	return manifest, nil
}

// Load rebuilds the live index. The embedder is attached for question
// embedding only; stored vectors are used as-is.
func Load(ctx context.Context, store storage.ObjectStore, embedder index.Embedder) (*index.Index, Manifest, error) {
	manifest, err := Current(ctx, store)
	if err != nil {
		return nil, Manifest{}, err
	}

	body, err := storage.ReadAll(ctx, store, manifest.EntriesKey)
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("read entries: %w", err)
	}

	reader := parquet.NewGenericReader[entryRow](bytes.NewReader(body))
	defer func() { _ = reader.Close() }()

	rows := make([]entryRow, reader.NumRows())
	if len(rows) > 0 {
		n, err := reader.Read(rows)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, Manifest{}, fmt.Errorf("read parquet rows: %w", err)
		}
		rows = rows[:n]
	}
	if len(rows) != manifest.Entries {
		return nil, Manifest{}, fmt.Errorf("snapshot %s has %d entries, manifest says %d", manifest.BuildID, len(rows), manifest.Entries)
	}

	entries := make([]index.Entry, len(rows))
	for _, row := range rows {
		if int(row.Position) < 0 || int(row.Position) >= len(rows) {
			return nil, Manifest{}, fmt.Errorf("snapshot entry %q has position %d out of range", row.Table, row.Position)
		}
		var doc schema.Document
		if err := json.Unmarshal([]byte(row.DocumentJSON), &doc); err != nil {
			return nil, Manifest{}, fmt.Errorf("decode document %q: %w", row.Table, err)
		}
		doc, err = schema.NewDocument(doc.Table, doc.Columns, doc.ForeignKeys)
		if err != nil {
			return nil, Manifest{}, fmt.Errorf("snapshot document %q: %w", row.Table, err)
		}
		entries[row.Position] = index.Entry{Vector: row.Vector, Doc: &doc, Text: row.Text}
	}

	idx, err := index.New(entries, embedder, index.Meta{
		BuildID:   manifest.BuildID,
		Model:     manifest.Model,
		CreatedAt: manifest.CreatedAt,
	})
	if err != nil {
		return nil, Manifest{}, err
	}
	return idx, manifest, nil
}

// Prune deletes every build except the live one and the keep most recent
// others. It returns the removed build ids, oldest first. Stores that cannot
// list are left alone.
func Prune(ctx context.Context, store storage.ObjectStore, keep int) ([]string, error) {
	lister, ok := store.(storage.Lister)
	if !ok {
		return nil, nil
	}
	if keep < 0 {
		keep = 0
	}
	manifest, err := Current(ctx, store)
	if err != nil {
		return nil, err
	}

	objects, err := lister.List(ctx, storage.SnapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	type build struct {
		id      string
		keys    []string
		written time.Time
	}
	builds := map[string]*build{}
	for _, obj := range objects {
		id, ok := storage.SnapshotBuildID(obj.Key)
		if !ok || id == manifest.BuildID {
			continue
		}
		b := builds[id]
		if b == nil {
			b = &build{id: id}
			builds[id] = b
		}
		b.keys = append(b.keys, obj.Key)
		if obj.LastModified.After(b.written) {
			b.written = obj.LastModified
		}
	}

	ordered := make([]*build, 0, len(builds))
	for _, b := range builds {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].written.Equal(ordered[j].written) {
			return ordered[i].written.After(ordered[j].written)
		}
		return ordered[i].id > ordered[j].id
	})
	if len(ordered) <= keep {
		return nil, nil
	}

	stale := ordered[keep:]
	removed := make([]string, 0, len(stale))
	for i := len(stale) - 1; i >= 0; i-- {
		for _, key := range stale[i].keys {
			if err := store.Delete(ctx, key); err != nil {
				return removed, fmt.Errorf("delete %s: %w", key, err)
			}
		}
		removed = append(removed, stale[i].id)
	}
	return removed, nil
}
