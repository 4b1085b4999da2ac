package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/blob"
	"github.com/sells-group/lead-ingest/internal/loader"
	"github.com/sells-group/lead-ingest/internal/normalize"
	"github.com/sells-group/lead-ingest/internal/resilience"
	"github.com/sells-group/lead-ingest/internal/trigger"
	"github.com/sells-group/lead-ingest/internal/warehouse"
)

type errorBody struct {
	Status     string `json:"status"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	RowsLoaded *int64 `json:"rows_loaded,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeErrorStatus(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Status: "error", Error: kind, Message: msg})
}

// writeError maps a domain error to a status code and writes the error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	body := errorBody{Status: "error", Error: kind, Message: err.Error()}

	var le *loader.LoadError
	if errors.As(err, &le) {
		// the copy rolled back
		var none int64
		body.RowsLoaded = &none
	}

	log := zap.L().Warn
	if status >= http.StatusInternalServerError {
		log = zap.L().Error
	}
	log("api: request failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("kind", kind),
		zap.Error(err),
	)
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	var (
		encErr    *normalize.EncodingError
		parseErr  *normalize.ParseError
		schemaErr *normalize.SchemaError
		missing   *trigger.MissingKeyError
		notFound  *trigger.ArtifactNotFoundError
		uploadErr *loader.StageUploadError
		resolvErr *loader.StageResolutionError
		loadErr   *loader.LoadError
	)
	switch {
	case errors.As(err, &encErr):
		return http.StatusUnprocessableEntity, "encoding_error"
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "parse_error"
	case errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity, "schema_error"
	case errors.As(err, &missing):
		return http.StatusBadRequest, "missing_key"
	case errors.As(err, &notFound), errors.Is(err, blob.ErrNotFound), errors.Is(err, warehouse.ErrStageNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &uploadErr):
		return http.StatusBadGateway, "stage_upload_error"
	case errors.As(err, &resolvErr):
		return http.StatusBadGateway, "stage_resolution_error"
	case errors.As(err, &loadErr):
		return http.StatusBadGateway, "load_error"
	case errors.Is(err, resilience.ErrBreakerOpen):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
