// Package warehouse is the Stage / Loader / Querier capability over the lead
// warehouse. Two backends exist: Postgres (pgx) for deployments and SQLite
// (modernc) for local runs and tests.
package warehouse

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/model"
)

// Table names created by Migrate.
const (
	RawTable    = "leads_raw"
	FinalTable  = "leads_final"
	StageTable  = "leads_stage"
	LedgerTable = "leads_loads"
)

// StagePrefix is prepended to stage names in PutResult.Target.
const StagePrefix = "@" + StageTable + "/"

// Put statuses.
const (
	PutStatusUploaded = "UPLOADED"
	PutStatusSkipped  = "SKIPPED"
)

// Copy statuses.
const (
	CopyStatusLoaded  = "LOADED"
	CopyStatusPartial = "PARTIALLY_LOADED"
	CopyStatusFailed  = "LOAD_FAILED"
	CopyStatusSkipped = "LOAD_SKIPPED"
)

// ErrStageNotFound is returned when a stage name does not exist.
var ErrStageNotFound = eris.New("warehouse: staged file not found")

// PutOptions controls Stage.Put.
type PutOptions struct {
	Compress  bool
	Overwrite bool
}

// PutResult describes one staged file.
type PutResult struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	SourceSize int64  `json:"source_size"`
	TargetSize int64  `json:"target_size"`
	Status     string `json:"status"`
}

// OnError selects how CopyInto treats bad lines.
type OnError string

// OnError values.
const (
	OnErrorContinue OnError = "CONTINUE"
	OnErrorAbort    OnError = "ABORT_STATEMENT"
)

// CopyRequest loads one staged file into a table.
type CopyRequest struct {
	Table      string
	StagedName string
	OnError    OnError
}

// CopyResult reports the outcome of CopyInto for one file.
type CopyResult struct {
	File           string `json:"file"`
	Status         string `json:"status"`
	RowsParsed     int64  `json:"rows_parsed"`
	RowsLoaded     int64  `json:"rows_loaded"`
	ErrorsSeen     int64  `json:"errors_seen"`
	FirstError     string `json:"first_error,omitempty"`
	FirstErrorLine int64  `json:"first_error_line,omitempty"`
}

// Column is one column of a table, Position is 1-based.
type Column struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Stage uploads and reads staged files.
type Stage interface {
	Put(ctx context.Context, name string, body []byte, opts PutOptions) ([]PutResult, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// Loader bulk-loads staged files.
type Loader interface {
	CopyInto(ctx context.Context, req CopyRequest) (*CopyResult, error)
}

// Querier runs read queries.
type Querier interface {
	Columns(ctx context.Context, table string) ([]Column, error)
	QueryRows(ctx context.Context, query string, args ...any) ([][]any, error)
}

// Ledger records completed loads.
type Ledger interface {
	RecordLoad(ctx context.Context, res *model.LoadResult) error
}

// LoadStats summarizes ledger rows recorded since a point in time.
type LoadStats struct {
	Loads        int64 `json:"loads"`
	PartialLoads int64 `json:"partial_loads"`
	RowsParsed   int64 `json:"rows_parsed"`
	RowsLoaded   int64 `json:"rows_loaded"`
	RowsSkipped  int64 `json:"rows_skipped"`
}

// LedgerReader aggregates the load ledger.
type LedgerReader interface {
	LoadStats(ctx context.Context, since time.Time) (*LoadStats, error)
}

// Warehouse is the full capability set of a backend.
type Warehouse interface {
	Stage
	Loader
	Querier
	Ledger
	LedgerReader
	Migrate(ctx context.Context) error
	Close() error
}

// StageName strips the StagePrefix and any leading path from a target.
func StageName(target string) string {
	target = strings.TrimPrefix(target, StagePrefix)
	if i := strings.LastIndex(target, "/"); i >= 0 {
		target = target[i+1:]
	}
	return target
}
