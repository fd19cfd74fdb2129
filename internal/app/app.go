// Package app assembles the long-lived collaborators that both the API server
// and the offline indexer need from a Config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/tablesense/tablesense/internal/catalog"
	"github.com/tablesense/tablesense/internal/catalog/infoschema"
	"github.com/tablesense/tablesense/internal/catalog/sqlite"
	"github.com/tablesense/tablesense/internal/config"
	"github.com/tablesense/tablesense/internal/database"
	"github.com/tablesense/tablesense/internal/llm"
	"github.com/tablesense/tablesense/internal/storage"
	"github.com/tablesense/tablesense/internal/storage/fsdir"
	s3store "github.com/tablesense/tablesense/internal/storage/s3"
)

func OpenDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	return database.Open(ctx, dbConfig(cfg, false))
}

// OpenQueryDatabase opens the connection generated SQL runs on. File-backed
// DuckDB is opened read-only; an in-memory DuckDB cannot be and gets a warning.
func OpenQueryDatabase(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Database.Driver == config.DriverDuckDB && database.IsInMemory(cfg.Database.Driver, cfg.Database.DSN) && logger != nil {
		logger.Warn("in-memory duckdb cannot be opened read-only; relying on the sql validator alone")
	}
	return database.Open(ctx, dbConfig(cfg, true))
}

func dbConfig(cfg config.Config, readOnly bool) database.DBConfig {
	return database.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ReadOnly:        readOnly,
	}
}

// ReadOnlyTx reports whether statements should run in a read-only
// transaction: the config asks for it and the driver honours it.
func ReadOnlyTx(cfg config.Config) bool {
	return cfg.Database.ReadOnlyTx && database.SupportsReadOnlyTx(cfg.Database.Driver)
}

// MetadataSource picks the catalog reader that matches the configured driver.
func MetadataSource(cfg config.Config, db *sql.DB) (catalog.MetadataSource, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return infoschema.New(db, cfg.Catalog.Schema, infoschema.DialectPostgres), nil
	case config.DriverDuckDB:
		schemaName := cfg.Catalog.Schema
		if schemaName == "public" {
			schemaName = ""
		}
		return infoschema.New(db, schemaName, infoschema.DialectDuckDB), nil
	case config.DriverSQLite:
		return sqlite.New(db), nil
	default:
		return nil, fmt.Errorf("no metadata source for driver %q", cfg.Database.Driver)
	}
}

// SQLDialect names the SQL flavour the model is asked to write.
func SQLDialect(cfg config.Config) string {
	switch cfg.Database.Driver {
	case config.DriverDuckDB:
		return "DuckDB"
	case config.DriverSQLite:
		return "SQLite"
	default:
		return "PostgreSQL"
	}
}

func OpenObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	switch cfg.Index.Store {
	case config.IndexStoreS3:
		return s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
	case config.IndexStoreDir:
		return fsdir.New(cfg.Index.Dir)
	default:
		return nil, fmt.Errorf("unknown index store %q", cfg.Index.Store)
	}
}

// OpenAIClient serves embeddings always, and completions when OpenAI is the
// configured completion provider.
func OpenAIClient(cfg config.Config) (*llm.OpenAIClient, error) {
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:        cfg.AI.BaseURL,
		APIKey:         cfg.AI.APIKey,
		Model:          cfg.AI.Model,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		MaxTokens:      cfg.AI.MaxTokens,
		Timeout:        cfg.AI.Timeout,
	})
}

func Completer(cfg config.Config, openai *llm.OpenAIClient) (llm.Completer, error) {
	switch cfg.AI.CompletionProvider {
	case config.CompletionAnthropic:
		return llm.NewAnthropicCompleter(llm.AnthropicConfig{
			APIKey:    cfg.AI.AnthropicAPIKey,
			Model:     cfg.AI.AnthropicModel,
			MaxTokens: cfg.AI.MaxTokens,
		})
	case config.CompletionOpenAI:
		if openai == nil {
			return nil, fmt.Errorf("openai client is required for the openai completion provider")
		}
		return openai, nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.AI.CompletionProvider)
	}
}
