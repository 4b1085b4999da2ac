package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"

	"github.com/sells-group/lead-ingest/internal/model"
)

var registerUDF sync.Once

// SQLite implements Warehouse using modernc.org/sqlite.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLite, error) {
	var regErr error
	registerUDF.Do(func() {
		regErr = sqlite.RegisterDeterministicScalarFunction("scoring_udf", 3, scoringUDF)
	})
	if regErr != nil {
		return nil, eris.Wrap(regErr, "sqlite: register scoring_udf")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func scoringUDF(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 3 || args[0] == nil || args[1] == nil || args[2] == nil {
		return nil, nil
	}
	activity, ok := toFloat(args[0])
	if !ok {
		return nil, nil
	}
	return Score(activity, toString(args[1]), toString(args[2])), nil
}

func toFloat(v driver.Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v driver.Value) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads_stage (
	name        TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	body        BLOB NOT NULL,
	compressed  INTEGER NOT NULL DEFAULT 0,
	source_size INTEGER NOT NULL,
	target_size INTEGER NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	loaded_at   DATETIME
);

CREATE TABLE IF NOT EXISTS leads_raw (
	filename TEXT NOT NULL,
	data     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_raw_filename ON leads_raw(filename);

CREATE TABLE IF NOT EXISTS leads_loads (
	id             TEXT PRIMARY KEY,
	resolved_name  TEXT NOT NULL,
	requested_name TEXT NOT NULL,
	trigger_kind   TEXT NOT NULL,
	artifact_key   TEXT,
	content_sha256 TEXT NOT NULL,
	rows_parsed    INTEGER NOT NULL DEFAULT 0,
	rows_loaded    INTEGER NOT NULL DEFAULT 0,
	rows_skipped   INTEGER NOT NULL DEFAULT 0,
	first_error    TEXT,
	loaded_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_loads_sha ON leads_loads(content_sha256);

CREATE TABLE IF NOT EXISTS leads_final (
	_source_file                  TEXT,
	_loaded_at                    DATETIME DEFAULT (datetime('now')),
	"Prospect_ID"                 TEXT,
	"Lead_Number"                 INTEGER,
	"Lead_Origin"                 TEXT,
	"Lead_Source"                 TEXT,
	"TotalVisits"                 REAL,
	"Total_Time_Spent_on_Website" REAL,
	"Asymmetrique_Activity_Score" REAL,
	"Lead_Grade"                  TEXT,
	"Lead_Stage"                  TEXT,
	"Converted"                   INTEGER
);
`

// Migrate creates the stage, raw, ledger and final tables.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the handle for tests and tooling.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Put stores body under a new unique stage name derived from name.
func (s *SQLite) Put(ctx context.Context, name string, body []byte, opts PutOptions) ([]PutResult, error) {
	stored := body
	if opts.Compress {
		gz, err := gzipBytes(body)
		if err != nil {
			return nil, err
		}
		stored = gz
	}
	target := newStageName(name, opts.Compress)

	verb := "INSERT OR IGNORE"
	if opts.Overwrite {
		verb = "INSERT OR REPLACE"
	}
	res, err := s.db.ExecContext(ctx,
		verb+` INTO leads_stage (name, source, body, compressed, source_size, target_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		target, name, stored, opts.Compress, len(body), len(stored), s.now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: put stage %s", name)
	}

	status := PutStatusUploaded
	if n, _ := res.RowsAffected(); n == 0 {
		status = PutStatusSkipped
	}
	return []PutResult{{
		Source:     name,
		Target:     StagePrefix + target,
		SourceSize: int64(len(body)),
		TargetSize: int64(len(stored)),
		Status:     status,
	}}, nil
}

// Read returns the decompressed payload of a staged file.
func (s *SQLite) Read(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	var compressed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT body, compressed FROM leads_stage WHERE name = ?`, StageName(name),
	).Scan(&body, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrStageNotFound, "sqlite: read stage %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read stage %s", name)
	}
	if compressed {
		return gunzipBytes(body)
	}
	return body, nil
}

// CopyInto loads one staged file into req.Table. A file already loaded is
// skipped with CopyStatusSkipped.
func (s *SQLite) CopyInto(ctx context.Context, req CopyRequest) (*CopyResult, error) {
	name := StageName(req.StagedName)
	table := req.Table
	if table == "" {
		table = RawTable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin copy")
	}
	defer tx.Rollback() //nolint:errcheck

	var body []byte
	var compressed bool
	var loadedAt sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT body, compressed, loaded_at FROM leads_stage WHERE name = ?`, name,
	).Scan(&body, &compressed, &loadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrStageNotFound, "sqlite: copy %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read stage %s", name)
	}
	if loadedAt.Valid {
		return &CopyResult{File: name, Status: CopyStatusSkipped}, nil
	}

	payload := body
	if compressed {
		if payload, err = gunzipBytes(body); err != nil {
			return nil, err
		}
	}

	res, rows, err := parsePayload(name, payload, req.OnError)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+quoteIdent(table)+` (filename, data) VALUES (?, ?)`)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: prepare copy into %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: copy %s", name)
		}
		res.RowsLoaded++
	}
	res.Status = copyStatus(res)

	if _, err := tx.ExecContext(ctx,
		`UPDATE leads_stage SET loaded_at = ? WHERE name = ?`, s.now().UTC(), name,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: mark stage %s loaded", name)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: commit copy %s", name)
	}
	return res, nil
}

// Columns lists the columns of table in ordinal order.
func (s *SQLite) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, cid FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: columns of %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Position); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan column of %s", table)
		}
		c.Position++
		cols = append(cols, c)
	}
	return cols, eris.Wrapf(rows.Err(), "sqlite: iterate columns of %s", table)
}

// QueryRows runs query and returns each row's values in select order.
func (s *SQLite) QueryRows(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query rows")
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: row columns")
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		out = append(out, vals)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rows")
}

// RecordLoad appends a row to the load ledger.
func (s *SQLite) RecordLoad(ctx context.Context, res *model.LoadResult) error {
	if res == nil {
		return eris.New("sqlite: record nil load result")
	}
	loadedAt := res.LoadedAt.UTC()
	if res.LoadedAt.IsZero() {
		loadedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads_loads (id, resolved_name, requested_name, trigger_kind, artifact_key,
			content_sha256, rows_parsed, rows_loaded, rows_skipped, first_error, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), res.ResolvedName, res.RequestedName, string(res.Trigger.Kind),
		res.Trigger.ArtifactKey.String(), res.ContentSHA256,
		res.RowsParsed, res.RowsLoaded, res.RowsSkipped, nullable(res.FirstError), loadedAt,
	)
	return eris.Wrapf(err, "sqlite: record load %s", res.ResolvedName)
}

// LoadStats aggregates ledger rows with loaded_at >= since.
func (s *SQLite) LoadStats(ctx context.Context, since time.Time) (*LoadStats, error) {
	var st LoadStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN rows_skipped > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(rows_parsed), 0),
			COALESCE(SUM(rows_loaded), 0),
			COALESCE(SUM(rows_skipped), 0)
		FROM leads_loads WHERE loaded_at >= ?`, since.UTC(),
	).Scan(&st.Loads, &st.PartialLoads, &st.RowsParsed, &st.RowsLoaded, &st.RowsSkipped)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load stats")
	}
	return &st, nil
}

func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}
