package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/blob"
	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/trigger"
)

const defaultStagePreview = 100

type loadResponse struct {
	Status        string `json:"status"`
	Filename      string `json:"filename"`
	ResolvedName  string `json:"resolved_name"`
	State         string `json:"state"`
	RowsParsed    int64  `json:"rows_parsed"`
	RowsLoaded    int64  `json:"rows_loaded"`
	RowsSkipped   int64  `json:"rows_skipped"`
	FirstError    string `json:"first_error,omitempty"`
	ContentSHA256 string `json:"content_sha256"`
}

func newLoadResponse(status string, res *model.LoadResult) loadResponse {
	return loadResponse{
		Status:        status,
		Filename:      res.Trigger.ArtifactKey.String(),
		ResolvedName:  res.ResolvedName,
		State:         string(res.State),
		RowsParsed:    res.RowsParsed,
		RowsLoaded:    res.RowsLoaded,
		RowsSkipped:   res.RowsSkipped,
		FirstError:    res.FirstError,
		ContentSHA256: res.ContentSHA256,
	}
}

// readUpload pulls the multipart "file" field into memory.
func (s *server) readUpload(w http.ResponseWriter, r *http.Request) (model.RawUpload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, "too_large",
				fmt.Sprintf("upload exceeds %d bytes", s.opts.MaxUploadBytes))
			return model.RawUpload{}, false
		}
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", "multipart field \"file\" is required")
		return model.RawUpload{}, false
	}
	defer f.Close() //nolint:errcheck

	body, err := io.ReadAll(f)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", "read upload: "+err.Error())
		return model.RawUpload{}, false
	}
	return model.RawUpload{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Body:        body,
	}, true
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingest == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "ingestion is not configured")
		return
	}
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	key, err := s.deps.Ingest.Persist(r.Context(), upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "File uploaded successfully",
		"filename": key.String(),
	})
}

func (s *server) handleUploadAndLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingest == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "ingestion is not configured")
		return
	}
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Ingest.Direct(r.Context(), upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoadResponse("File processed and loaded", res))
}

// handleUploadAndNotify persists the upload and hands the load to the
// background consumer, as an out-of-band writer plus storage event would.
func (s *server) handleUploadAndNotify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingest == nil || s.deps.Bus == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "notification ingestion is not configured")
		return
	}
	upload, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	key, err := s.deps.Ingest.Persist(r.Context(), upload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ev := trigger.Event{ID: "upload/" + uuid.NewString(), Key: key.String()}
	if err := s.deps.Bus.Publish(r.Context(), ev); err != nil {
		writeError(w, r, eris.Wrapf(err, "api: enqueue %s", key))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "File uploaded, load queued",
		"filename": key.String(),
		"event_id": ev.ID,
	})
}

func (s *server) handleProcessS3File(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingest == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "ingestion is not configured")
		return
	}

	var payload trigger.NotificationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	res, err := s.deps.Ingest.Notification(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoadResponse("File processed and loaded", res))
}

func (s *server) handleS3Notification(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "notification consumer is not running")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", "read body: "+err.Error())
		return
	}
	events, err := trigger.ParseS3Event(body)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	for i, ev := range events {
		if err := s.deps.Bus.Publish(r.Context(), ev); err != nil {
			zap.L().Error("api: enqueue notification",
				zap.String("event_id", ev.ID),
				zap.Int("accepted", i),
				zap.Error(err),
			)
			writeError(w, r, eris.Wrapf(err, "api: enqueue %s", ev.Key))
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

func (s *server) handleDeadLetters(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"dead_letters": []any{}}
	if s.deps.DeadLetters != nil {
		resp["dead_letters"] = s.deps.DeadLetters.List()
	}
	if s.deps.Consumer != nil {
		resp["stats"] = s.deps.Consumer.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handlePresign(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "object storage is not configured")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", "filename is required")
		return
	}
	contentType := r.URL.Query().Get("content_type")
	if contentType == "" {
		contentType = "text/csv"
	}

	key := blob.UploadKey(filename)
	url, err := s.deps.Store.PresignPut(r.Context(), key, contentType, s.opts.PresignTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"key":        key,
		"expires_in": int(s.opts.PresignTTL.Seconds()),
	})
}

// handleStagePreview streams the first lines of a staged payload as NDJSON.
func (s *server) handleStagePreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stage == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "warehouse is not configured")
		return
	}

	limit := defaultStagePreview
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErrorStatus(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	name := chi.URLParam(r, "name")
	body, err := s.deps.Stage.Read(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for n := 0; n < limit && sc.Scan(); n++ {
		out.Write(sc.Bytes())
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		writeError(w, r, eris.Wrapf(err, "api: scan stage %s", name))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", blob.SanitizeName(name)+".jsonl"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes())
}
