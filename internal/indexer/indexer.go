// Package indexer runs the offline catalog build: read the live schema,
// embed one document per table and persist a snapshot the API can load.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tablesense/tablesense/internal/catalog"
	"github.com/tablesense/tablesense/internal/index"
	"github.com/tablesense/tablesense/internal/index/snapshot"
	"github.com/tablesense/tablesense/internal/observability"
	"github.com/tablesense/tablesense/internal/storage"
)

type Job struct {
	Source   catalog.MetadataSource
	Builder  *catalog.Builder
	Embedder index.Embedder
	Model    string
	Store    storage.ObjectStore
	Logger   *slog.Logger
	// KeepPrevious is how many earlier builds survive the new one. Zero
	// disables pruning.
	KeepPrevious int
}

type Summary struct {
	Manifest snapshot.Manifest
	Tables   []string
	Columns  int
	Pruned   []string
	Duration time.Duration
}

// Run builds and saves a new snapshot. An empty catalog is an error so a
// misconfigured schema never replaces a good index.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	if j.Source == nil || j.Builder == nil || j.Embedder == nil || j.Store == nil {
		return Summary{}, fmt.Errorf("indexer: source, builder, embedder and store are required")
	}
	logger := observability.LoggerFromContext(ctx, j.Logger)
	started := time.Now()

	docs, err := j.Builder.Build(ctx, j.Source)
	if err != nil {
		return Summary{}, fmt.Errorf("build catalog: %w", err)
	}
	if len(docs) == 0 {
		return Summary{}, fmt.Errorf("catalog is empty: no non-empty tables with non-null columns")
	}
	columns := 0
	tables := make([]string, len(docs))
	for i, doc := range docs {
		tables[i] = doc.Table
		columns += len(doc.Columns)
	}
	logger.Info("catalog_built", slog.Int("tables", len(docs)), slog.Int("columns", columns))

	idx, err := index.Build(ctx, docs, j.Embedder, j.Model)
	if err != nil {
		return Summary{}, fmt.Errorf("embed catalog: %w", err)
	}
	manifest, err := snapshot.Save(ctx, j.Store, idx)
	if err != nil {
		return Summary{}, fmt.Errorf("save snapshot: %w", err)
	}
	logger.Info("snapshot_saved",
		slog.String("build_id", manifest.BuildID),
		slog.String("entries_key", manifest.EntriesKey),
		slog.String("store", storage.Location(j.Store)),
		slog.Int("dimensions", manifest.Dimensions),
	)

	summary := Summary{Manifest: manifest, Tables: tables, Columns: columns}
	if j.KeepPrevious > 0 {
		// The new build is already current; a failed prune is only logged.
		pruned, err := snapshot.Prune(ctx, j.Store, j.KeepPrevious)
		if err != nil {
			logger.Warn("snapshot_prune_failed", slog.Any("error", err))
		} else if len(pruned) > 0 {
			logger.Info("snapshot_pruned", slog.Any("build_ids", pruned))
		}
		summary.Pruned = pruned
	}
	summary.Duration = time.Since(started)
	return summary, nil
}
