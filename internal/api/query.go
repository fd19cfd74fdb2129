package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tablesense/tablesense/internal/apperr"
	"github.com/tablesense/tablesense/internal/index/snapshot"
	"github.com/tablesense/tablesense/internal/observability"
	"github.com/tablesense/tablesense/internal/pipeline"
)

const maxQueryBodyBytes = 64 << 10

const (
	queryRequiredMessage     = "query is required"
	sqlFailedMessage         = "SQLQuery Failed"
	validationFailedMessage  = "SQL validation failed"
	modelUnavailableMessage  = "Language model unavailable"
	databaseUnavailableMsg   = "Database unavailable"
	timeoutMessage           = "Request timed out"
	internalErrorMessage     = "Internal server error"
	indexNotConfiguredMsg    = "Schema index is not configured"
	indexSnapshotMissingMsg  = "No schema index snapshot has been built"
	indexReloadFailedMessage = "Schema index reload failed"
)

type queryRequest struct {
	Query string `json:"query"`
}

// queryResponse is the single envelope every /query outcome uses. QueryResult
// is an interface so that an empty result set still serializes as [].
type queryResponse struct {
	Response    string   `json:"response"`
	SQLQuery    string   `json:"sql_query,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	QueryResult any      `json:"query_result,omitempty"`
	Truncated   bool     `json:"truncated,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeResponse(w, http.StatusInternalServerError, queryResponse{Response: internalErrorMessage})
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxQueryBodyBytes))
	if err := decoder.Decode(&request); err != nil || strings.TrimSpace(request.Query) == "" {
		writeResponse(w, http.StatusBadRequest, queryResponse{Response: queryRequiredMessage})
		return
	}

	rec := deps.Pipeline.Answer(r.Context(), request.Query)
	status, body := envelope(rec)
	if rec.State == pipeline.StateFailed {
		logger := observability.LoggerFromContext(r.Context(), deps.Logger)
		logger.WarnContext(r.Context(), "question_failed",
			slog.String("request_id", rec.RequestID.String()),
			slog.String("kind", string(apperr.KindOf(rec.Err))),
			slog.String("error", rec.Err.Error()),
			slog.Int("status", status),
		)
	}
	writeResponse(w, status, body)
}

// envelope maps a finished Record to a status code and body. Error text from
// the pipeline never reaches the client.
func envelope(rec pipeline.Record) (int, queryResponse) {
	switch rec.State {
	case pipeline.StateAnswered:
		body := queryResponse{Response: rec.Answer, Degraded: rec.Degraded}
		if rec.Candidate != nil {
			body.SQLQuery = rec.Candidate.Raw
		}
		if rec.Result != nil {
			rows := rec.Result.Rows
			if rows == nil {
				rows = [][]any{}
			}
			body.Columns = rec.Result.Columns
			body.QueryResult = rows
			body.Truncated = rec.Result.Truncated
		}
		return http.StatusOK, body
	case pipeline.StateDirectAnswer:
		return http.StatusOK, queryResponse{Response: rec.Answer}
	}

	sqlText := ""
	validated := false
	if rec.Candidate != nil {
		sqlText = rec.Candidate.Raw
		validated = rec.Candidate.Valid
	}

	switch apperr.KindOf(rec.Err) {
	case apperr.Validation:
		if rec.Candidate == nil {
			return http.StatusBadRequest, queryResponse{Response: queryRequiredMessage}
		}
		return http.StatusUnprocessableEntity, queryResponse{Response: validationFailedMessage, SQLQuery: sqlText}
	case apperr.Execution:
		return http.StatusBadRequest, queryResponse{Response: sqlFailedMessage, SQLQuery: sqlText}
	case apperr.Connectivity:
		if validated {
			return http.StatusBadGateway, queryResponse{Response: databaseUnavailableMsg, SQLQuery: sqlText}
		}
		return http.StatusBadGateway, queryResponse{Response: modelUnavailableMessage}
	case apperr.Synthesis, apperr.AnswerSynthesis:
		return http.StatusBadGateway, queryResponse{Response: modelUnavailableMessage}
	case apperr.Timeout:
		return http.StatusGatewayTimeout, queryResponse{Response: timeoutMessage, SQLQuery: sqlText}
	default:
		return http.StatusInternalServerError, queryResponse{Response: internalErrorMessage}
	}
}

func handleIndexStatus(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	if deps.Index == nil || !deps.Index.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"loaded": false})
		return
	}
	idx := deps.Index.Load()
	meta := idx.Meta()
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":     true,
		"build_id":   meta.BuildID,
		"model":      meta.Model,
		"dimensions": meta.Dimensions,
		"created_at": meta.CreatedAt,
		"tables":     idx.Tables(),
	})
}

func handleIndexReload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Reloader == nil {
		writeResponse(w, http.StatusNotImplemented, queryResponse{Response: indexNotConfiguredMsg})
		return
	}
	manifest, err := deps.Reloader.Reload(r.Context())
	if err != nil {
		logger := observability.LoggerFromContext(r.Context(), deps.Logger)
		logger.ErrorContext(r.Context(), "index_reload_failed", slog.String("error", err.Error()))
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			writeResponse(w, http.StatusNotFound, queryResponse{Response: indexSnapshotMissingMsg})
			return
		}
		writeResponse(w, http.StatusInternalServerError, queryResponse{Response: indexReloadFailedMessage})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reloaded",
		"build_id":   manifest.BuildID,
		"model":      manifest.Model,
		"entries":    manifest.Entries,
		"tables":     manifest.Tables,
		"created_at": manifest.CreatedAt,
	})
}

func writeResponse(w http.ResponseWriter, status int, body queryResponse) {
	writeJSON(w, status, body)
}
