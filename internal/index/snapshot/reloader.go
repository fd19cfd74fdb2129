package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tablesense/tablesense/internal/index"
	"github.com/tablesense/tablesense/internal/observability"
	"github.com/tablesense/tablesense/internal/storage"
)

// Reloader loads the current snapshot and publishes it through a Holder.
// Requests in flight keep the index they started with.
type Reloader struct {
	Store    storage.ObjectStore
	Embedder index.Embedder
	Holder   *index.Holder
	// Model, when set, must match the embedding model the snapshot was built with.
	Model  string
	Logger *slog.Logger
}

func (r *Reloader) Reload(ctx context.Context) (Manifest, error) {
	idx, manifest, err := Load(ctx, r.Store, r.Embedder)
	if err != nil {
		return Manifest{}, err
	}
	if r.Model != "" && manifest.Model != "" && manifest.Model != r.Model {
		return Manifest{}, fmt.Errorf("snapshot %s was embedded with %q, configured model is %q", manifest.BuildID, manifest.Model, r.Model)
	}

	previous := r.Holder.Swap(idx)
	observability.SetIndexMetrics(idx.Len(), time.Now())
	if r.Logger != nil {
		attrs := []any{
			slog.String("build_id", manifest.BuildID),
			slog.Int("entries", manifest.Entries),
			slog.String("store", storage.Location(r.Store)),
		}
		if previous != nil {
			attrs = append(attrs, slog.String("previous_build_id", previous.Meta().BuildID))
		}
		r.Logger.InfoContext(ctx, "schema_index_swapped", attrs...)
	}
	return manifest, nil
}
