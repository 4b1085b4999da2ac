// Package trigger reconciles the two ways a load can be requested: a direct
// upload that carries the bytes, and a storage notification that only names
// a key. Both end in the same normalize-and-load path.
package trigger

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-ingest/internal/blob"
	"github.com/sells-group/lead-ingest/internal/loader"
	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/normalize"
)

// NotificationPayload is the body of a storage notification.
type NotificationPayload struct {
	S3Key string `json:"s3_key"`
}

// Loader is the staged load capability.
type Loader interface {
	Load(ctx context.Context, req loader.Request) (*model.LoadResult, error)
}

// Trigger turns load requests into staged loads.
type Trigger struct {
	store  blob.Store
	loader Loader
	opts   normalize.Options
}

// New returns a Trigger.
func New(store blob.Store, ld Loader, opts normalize.Options) *Trigger {
	return &Trigger{store: store, loader: ld, opts: opts}
}

// Persist stores an upload's raw bytes under raw/<filename> and returns the
// resolved key.
func (t *Trigger) Persist(ctx context.Context, upload model.RawUpload) (model.ResolvedKey, error) {
	key, err := t.store.Put(ctx, blob.UploadKey(upload.Filename), upload.Body)
	if err != nil {
		return "", eris.Wrapf(err, "trigger: persist %s", upload.Filename)
	}
	return key, nil
}

// Direct persists the upload and loads it. Persisting and normalizing run
// concurrently; the load waits for both.
func (t *Trigger) Direct(ctx context.Context, upload model.RawUpload) (*model.LoadResult, error) {
	var key model.ResolvedKey
	var rs *model.RecordSet

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		key, err = t.Persist(gctx, upload)
		return err
	})
	g.Go(func() error {
		var err error
		rs, err = normalize.NormalizeFile(upload.Filename, upload.Body, t.opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return t.load(ctx, key, model.TriggerDirect, rs)
}

// Notification loads the object named by payload. An empty key fails before
// any storage call.
func (t *Trigger) Notification(ctx context.Context, payload NotificationPayload) (*model.LoadResult, error) {
	key := blob.CleanKey(payload.S3Key)
	if key == "" {
		return nil, &MissingKeyError{}
	}

	ok, err := t.store.Exists(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "trigger: check %s", key)
	}
	if !ok {
		return nil, &ArtifactNotFoundError{Key: key}
	}

	return t.loadArtifact(ctx, model.ResolvedKey(key), model.TriggerNotification)
}

// loadArtifact is the shared path for keys that are already in the store.
func (t *Trigger) loadArtifact(ctx context.Context, key model.ResolvedKey, kind model.TriggerKind) (*model.LoadResult, error) {
	raw, err := t.store.Get(ctx, key.String())
	if errors.Is(err, blob.ErrNotFound) {
		return nil, &ArtifactNotFoundError{Key: key.String(), Err: err}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "trigger: fetch %s", key)
	}

	rs, err := normalize.NormalizeFile(key.String(), raw, t.opts)
	if err != nil {
		return nil, err
	}
	return t.load(ctx, key, kind, rs)
}

func (t *Trigger) load(ctx context.Context, key model.ResolvedKey, kind model.TriggerKind, rs *model.RecordSet) (*model.LoadResult, error) {
	payload, err := normalize.EncodeJSONL(rs)
	if err != nil {
		return nil, err
	}

	zap.L().Info("trigger: loading artifact",
		zap.String("key", key.String()),
		zap.String("trigger", string(kind)),
		zap.Int("records", rs.Len()),
		zap.Int("rows_skipped_in_parse", rs.Skipped),
		zap.String("encoding", rs.Encoding),
	)

	return t.loader.Load(ctx, loader.Request{
		ArtifactKey: key,
		BaseName:    StageBaseName(key.String()),
		Payload:     payload,
		Trigger:     kind,
	})
}

// StageBaseName derives the requested stage name from a blob key:
// "raw/leads.csv.gz" -> "leads_cleaned.json".
func StageBaseName(key string) string {
	base := path.Base(strings.TrimSuffix(key, ".gz"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	return strings.TrimSuffix(base, path.Ext(base)) + "_cleaned.json"
}
