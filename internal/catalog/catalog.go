// Package catalog turns live database metadata into schema documents.
//
// Only tables with at least one row are described, and only columns that hold
// at least one non-null value are kept. A failing column probe drops that
// column and the build continues; failing to reach the metadata source aborts
// the build.
package catalog

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/schema"
)

// MetadataSource is the read-only view of a database the builder needs.
type MetadataSource interface {
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]schema.Column, error)
	ListForeignKeys(ctx context.Context, table string) ([]schema.ForeignKey, error)
	CountRows(ctx context.Context, table string) (int64, error)
	ColumnHasValue(ctx context.Context, table, column string) (bool, error)
}

type Options struct {
	// Tables restricts the build to these tables when non-empty.
	Tables []string
	// Exclude is applied after Tables.
	Exclude      []string
	ProbeTimeout time.Duration
}

type Builder struct {
	logger  *slog.Logger
	include map[string]struct{}
	exclude map[string]struct{}
	probe   time.Duration
}

func NewBuilder(logger *slog.Logger, opts Options) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{
		logger:  logger,
		include: toSet(opts.Tables),
		exclude: toSet(opts.Exclude),
		probe:   opts.ProbeTimeout,
	}
}

// Build returns one document per populated table, in the order the source
// lists tables.
func (b *Builder) Build(ctx context.Context, src MetadataSource) ([]schema.Document, error) {
	tables, err := src.ListTables(ctx)
	if err != nil {
		return nil, apperr.WrapCtx(apperr.Connectivity, "list tables", err)
	}

	docs := make([]schema.Document, 0, len(tables))
	for _, table := range tables {
		if !b.wanted(table) {
			continue
		}
		doc, ok, err := b.describe(ctx, src, table)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}

	b.logger.InfoContext(ctx, "catalog_built",
		slog.Int("tables_seen", len(tables)),
		slog.Int("documents", len(docs)),
	)
	return docs, nil
}

func (b *Builder) describe(ctx context.Context, src MetadataSource, table string) (schema.Document, bool, error) {
	rows, err := src.CountRows(ctx, table)
	if err != nil {
		return schema.Document{}, false, apperr.WrapCtx(apperr.Connectivity, "count rows in "+table, err)
	}
	if rows == 0 {
		b.logger.DebugContext(ctx, "catalog_skip_empty_table", slog.String("table", table))
		return schema.Document{}, false, nil
	}

	columns, err := src.ListColumns(ctx, table)
	if err != nil {
		return schema.Document{}, false, apperr.WrapCtx(apperr.Connectivity, "list columns of "+table, err)
	}

	kept := make([]schema.Column, 0, len(columns))
	for _, col := range columns {
		hasValue, err := b.probeColumn(ctx, src, table, col.Name)
		if err != nil {
			if ctx.Err() != nil {
				return schema.Document{}, false, apperr.WrapCtx(apperr.Connectivity, "probe "+table, ctx.Err())
			}
			b.logger.WarnContext(ctx, "catalog_column_probe_failed",
				slog.String("table", table),
				slog.String("column", col.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !hasValue {
			b.logger.DebugContext(ctx, "catalog_skip_null_column",
				slog.String("table", table),
				slog.String("column", col.Name),
			)
			continue
		}
		kept = append(kept, col)
	}
	if len(kept) == 0 {
		return schema.Document{}, false, nil
	}

	fks, err := src.ListForeignKeys(ctx, table)
	if err != nil {
		b.logger.WarnContext(ctx, "catalog_foreign_keys_failed",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		fks = nil
	}

	doc, err := schema.NewDocument(table, kept, fks)
	if err != nil {
		return schema.Document{}, false, apperr.Wrap(apperr.Internal, "describe "+table, err)
	}
	return doc, true, nil
}

func (b *Builder) probeColumn(ctx context.Context, src MetadataSource, table, column string) (bool, error) {
	if b.probe <= 0 {
		return src.ColumnHasValue(ctx, table, column)
	}
	probeCtx, cancel := context.WithTimeout(ctx, b.probe)
	defer cancel()
	return src.ColumnHasValue(probeCtx, table, column)
}

func (b *Builder) wanted(table string) bool {
	if len(b.include) > 0 {
		if _, ok := b.include[table]; !ok {
			return false
		}
	}
	_, skip := b.exclude[table]
	return !skip
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		out[v] = struct{}{}
	}
	return out
}

// Pairs flattens documents into "table.column" strings, which is what two
// builds over the same data must agree on.
func Pairs(docs []schema.Document) []string {
	var out []string
	for _, doc := range docs {
		for _, col := range doc.Columns {
			out = append(out, doc.Table+"."+col.Name)
		}
	}
	return out
}
