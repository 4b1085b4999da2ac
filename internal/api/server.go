// Package api exposes the ingestion and query operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/lead-ingest/internal/blob"
	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/monitoring"
	"github.com/sells-group/lead-ingest/internal/query"
	"github.com/sells-group/lead-ingest/internal/resilience"
	"github.com/sells-group/lead-ingest/internal/trigger"
)

// Ingest is the write side: persisting uploads and running loads.
type Ingest interface {
	Persist(ctx context.Context, upload model.RawUpload) (model.ResolvedKey, error)
	Direct(ctx context.Context, upload model.RawUpload) (*model.LoadResult, error)
	Notification(ctx context.Context, payload trigger.NotificationPayload) (*model.LoadResult, error)
}

// Query is the read side.
type Query interface {
	Leads(ctx context.Context, limit int) ([]map[string]any, error)
	ScoreAll(ctx context.Context) ([]query.ScoredLead, query.ScoreStats, error)
	Count(ctx context.Context) (int64, error)
	ScoreLead(ctx context.Context, payload map[string]any) (json.RawMessage, error)
}

// StageReader reads back a staged payload.
type StageReader interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// Publisher enqueues storage notifications for the background consumer.
type Publisher interface {
	Publish(ctx context.Context, ev trigger.Event) error
}

// StatsSource reports consumer counters.
type StatsSource interface {
	Stats() trigger.ConsumerStats
}

// MetricsSource snapshots load health.
type MetricsSource interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps are the capabilities the handlers call. Nil members disable the
// routes that need them with a 503.
type Deps struct {
	Ingest      Ingest
	Store       blob.Store
	Query       Query
	Stage       StageReader
	Bus         Publisher
	Consumer    StatsSource
	DeadLetters *resilience.DeadLetters
	Metrics     MetricsSource
	Prometheus  http.Handler // text exposition at /metrics/prometheus
}

// Options tunes the router.
type Options struct {
	CORSOrigins    []string      // default ["*"]
	MaxUploadBytes int64         // default 50 MiB
	PresignTTL     time.Duration // default 1h
}

func (o Options) withDefaults() Options {
	if len(o.CORSOrigins) == 0 {
		o.CORSOrigins = []string{"*"}
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 50 << 20
	}
	if o.PresignTTL <= 0 {
		o.PresignTTL = time.Hour
	}
	return o
}

type server struct {
	deps Deps
	opts Options
}

// NewRouter builds the HTTP handler. Trailing slashes are ignored so
// "/upload/" and "/upload" reach the same route.
func NewRouter(deps Deps, opts Options) http.Handler {
	s := &server{deps: deps, opts: opts.withDefaults()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthcheck", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	if deps.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics/prometheus", deps.Prometheus)
	}

	r.Post("/upload", s.handleUpload)
	r.Post("/upload-and-load", s.handleUploadAndLoad)
	r.Post("/upload-and-notify", s.handleUploadAndNotify)
	r.Post("/process-s3-file", s.handleProcessS3File)
	r.Get("/generate-presigned-url", s.handlePresign)
	r.Get("/stage/{name}", s.handleStagePreview)

	r.Route("/notifications", func(r chi.Router) {
		r.Post("/s3", s.handleS3Notification)
		r.Get("/dead-letters", s.handleDeadLetters)
	})

	r.Get("/leads", s.handleLeads)
	r.Get("/score-all-leads", s.handleScoreAll)
	r.Post("/score-lead", s.handleScoreLead)
	r.Get("/lead-count", s.handleLeadCount)

	return r
}

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "lead ingest API"})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "metrics are not configured")
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorStatus(w, http.StatusBadRequest, "bad_request", "hours must be a positive integer")
			return
		}
		hours = n
	}

	snap, err := s.deps.Metrics.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
