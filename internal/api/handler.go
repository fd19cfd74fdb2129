package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tablesense/tablesense/internal/auth"
	"github.com/tablesense/tablesense/internal/config"
	"github.com/tablesense/tablesense/internal/index"
	"github.com/tablesense/tablesense/internal/index/snapshot"
	"github.com/tablesense/tablesense/internal/observability"
	"github.com/tablesense/tablesense/internal/pipeline"
	"github.com/tablesense/tablesense/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type QuestionAnswerer interface {
	Answer(ctx context.Context, question string) pipeline.Record
}

type IndexReloader interface {
	Reload(ctx context.Context) (snapshot.Manifest, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          QuestionAnswerer
	Index             *index.Holder
	Reloader          IndexReloader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "not_ready",
				"reason":   err.Error(),
				"trace_id": observability.TraceIDFromContext(r.Context()),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	asker := auth.RequireRole(auth.RoleAsker)
	admin := auth.RequireRole(auth.RoleIndexAdmin)

	protected := http.NewServeMux()
	askHandler := asker(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	}))
	protected.Handle("POST /query", askHandler)
	protected.Handle("POST /v1/query", askHandler)
	protected.Handle("GET /v1/index", asker(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleIndexStatus(deps, w, r)
	})))
	protected.Handle("POST /v1/index/reload", admin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleIndexReload(deps, w, r)
	})))

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeResponse(w, http.StatusInternalServerError, queryResponse{Response: internalErrorMessage})
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /query", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("GET /v1/index", protectedHandler)
	mux.Handle("POST /v1/index/reload", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.RecoverMiddleware(deps.Logger))
	return chain(mux, middlewares...)
}

// CheckIndexLoaded fails until a schema index has been published.
func CheckIndexLoaded(holder *index.Holder) ReadinessCheck {
	return func(_ context.Context) error {
		if holder == nil || !holder.Loaded() {
			return errors.New("schema index is not loaded")
		}
		return nil
	}
}

func CheckDatabase(db *sql.DB) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is not configured")
		}
		if err := db.PingContext(ctx); err != nil {
			return errors.New("database is unreachable")
		}
		return nil
	}
}

// CheckObjectStore fails when the snapshot store cannot be reached, so a
// later index reload would fail too.
func CheckObjectStore(store storage.ObjectStore) ReadinessCheck {
	return func(ctx context.Context) error {
		if err := storage.Ping(ctx, store); err != nil {
			return errors.New("index store is unreachable")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
