// Package loader moves a normalized payload into the warehouse raw table:
// stage it, resolve the name the stage actually stored it under, then run a
// continue-on-error copy from that name.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/warehouse"
)

// Request is one load of one payload.
type Request struct {
	ArtifactKey model.ResolvedKey // blob key the payload was derived from
	BaseName    string            // requested stage name, e.g. "leads_cleaned.json"
	Payload     []byte            // JSON lines
	Trigger     model.TriggerKind
}

// Loader runs the Submitted -> Staged -> NameResolved -> Loaded state machine.
// Each call stages under a fresh name, so loading the same bytes twice yields
// two batches; ContentSHA256 in the result and ledger lets consumers dedupe.
type Loader struct {
	stage  warehouse.Stage
	copier warehouse.Loader
	ledger warehouse.Ledger
	table  string
	now    func() time.Time
}

// New returns a Loader. ledger may be nil.
func New(stage warehouse.Stage, copier warehouse.Loader, ledger warehouse.Ledger, table string) *Loader {
	if table == "" {
		table = warehouse.RawTable
	}
	return &Loader{stage: stage, copier: copier, ledger: ledger, table: table, now: time.Now}
}

// IsCompressedName reports whether a staged name is in the compressed form
// the stage produces: a ".gz" suffix or a ".gz_" infix.
func IsCompressedName(name string) bool {
	return strings.HasSuffix(name, ".gz") || strings.Contains(name, ".gz_")
}

// Load runs one staged load. On failure the returned result is still non-nil
// and records the last state reached.
func (l *Loader) Load(ctx context.Context, req Request) (*model.LoadResult, error) {
	sum := sha256.Sum256(req.Payload)
	res := &model.LoadResult{
		Trigger:       model.LoadTrigger{Kind: req.Trigger, ArtifactKey: req.ArtifactKey},
		State:         model.LoadStateSubmitted,
		RequestedName: req.BaseName,
		ContentSHA256: hex.EncodeToString(sum[:]),
	}
	log := zap.L().With(
		zap.String("requested_name", req.BaseName),
		zap.String("artifact_key", req.ArtifactKey.String()),
		zap.String("trigger", string(req.Trigger)),
	)

	puts, err := l.stage.Put(ctx, req.BaseName, req.Payload, warehouse.PutOptions{Compress: true, Overwrite: true})
	if err != nil {
		return l.fail(res, &StageUploadError{Name: req.BaseName, Err: err})
	}
	res.State = model.LoadStateStaged

	resolved, rerr := resolve(req.BaseName, puts)
	if rerr != nil {
		return l.fail(res, rerr)
	}
	res.ResolvedName = resolved
	res.State = model.LoadStateNameResolved
	log = log.With(zap.String("resolved_name", resolved))

	cp, err := l.copier.CopyInto(ctx, warehouse.CopyRequest{
		Table:      l.table,
		StagedName: resolved,
		OnError:    warehouse.OnErrorContinue,
	})
	if err != nil {
		return l.fail(res, &LoadError{ResolvedName: resolved, Err: err})
	}
	if cp.Status == warehouse.CopyStatusSkipped {
		log.Warn("loader: staged file was already loaded")
	}

	res.RowsParsed = cp.RowsParsed
	res.RowsLoaded = cp.RowsLoaded
	res.RowsSkipped = cp.ErrorsSeen
	res.FirstError = cp.FirstError
	res.State = model.LoadStateLoaded
	res.LoadedAt = l.now().UTC()

	log.Info("loader: load complete",
		zap.Int64("rows_parsed", res.RowsParsed),
		zap.Int64("rows_loaded", res.RowsLoaded),
		zap.Int64("rows_skipped", res.RowsSkipped),
		zap.String("first_error", res.FirstError),
	)

	if l.ledger != nil {
		if err := l.ledger.RecordLoad(ctx, res); err != nil {
			log.Warn("loader: ledger write failed", zap.Error(err))
		}
	}
	return res, nil
}

func (l *Loader) fail(res *model.LoadResult, err error) (*model.LoadResult, error) {
	res.LastState = res.State
	res.State = model.LoadStateFailed
	res.Error = err.Error()
	zap.L().Error("loader: load failed",
		zap.String("requested_name", res.RequestedName),
		zap.String("last_state", string(res.LastState)),
		zap.Error(err),
	)
	return res, err
}

func resolve(name string, puts []warehouse.PutResult) (string, error) {
	if len(puts) == 0 {
		return "", &StageResolutionError{Name: name, Reason: "stage put returned no result"}
	}
	put := puts[0]
	if put.Status == warehouse.PutStatusSkipped {
		return "", &StageResolutionError{Name: name, Target: put.Target, Reason: "stage put was skipped"}
	}
	resolved := warehouse.StageName(put.Target)
	if resolved == "" {
		return "", &StageResolutionError{Name: name, Target: put.Target, Reason: "empty target"}
	}
	if !IsCompressedName(resolved) {
		return "", &StageResolutionError{Name: name, Target: put.Target, Reason: "target is not in compressed form"}
	}
	return resolved, nil
}
