package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/db"
	"github.com/sells-group/lead-ingest/internal/model"
)

// Postgres implements Warehouse using pgxpool.
type Postgres struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects to the warehouse database.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *Postgres {
	return &Postgres{pool: pool, closeFn: pool.Close, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads_stage (
	name        TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	body        BYTEA NOT NULL,
	compressed  BOOLEAN NOT NULL DEFAULT false,
	source_size BIGINT NOT NULL,
	target_size BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	loaded_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS leads_raw (
	filename TEXT NOT NULL,
	data     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_raw_filename ON leads_raw(filename);

CREATE TABLE IF NOT EXISTS leads_loads (
	id             TEXT PRIMARY KEY,
	resolved_name  TEXT NOT NULL,
	requested_name TEXT NOT NULL,
	trigger_kind   TEXT NOT NULL,
	artifact_key   TEXT,
	content_sha256 TEXT NOT NULL,
	rows_parsed    BIGINT NOT NULL DEFAULT 0,
	rows_loaded    BIGINT NOT NULL DEFAULT 0,
	rows_skipped   BIGINT NOT NULL DEFAULT 0,
	first_error    TEXT,
	loaded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_loads_sha ON leads_loads(content_sha256);

CREATE TABLE IF NOT EXISTS leads_final (
	_source_file                  TEXT,
	_loaded_at                    TIMESTAMPTZ DEFAULT now(),
	"Prospect_ID"                 TEXT,
	"Lead_Number"                 BIGINT,
	"Lead_Origin"                 TEXT,
	"Lead_Source"                 TEXT,
	"TotalVisits"                 DOUBLE PRECISION,
	"Total_Time_Spent_on_Website" DOUBLE PRECISION,
	"Asymmetrique_Activity_Score" DOUBLE PRECISION,
	"Lead_Grade"                  TEXT,
	"Lead_Stage"                  TEXT,
	"Converted"                   INTEGER
);

CREATE OR REPLACE FUNCTION scoring_udf(activity DOUBLE PRECISION, grade TEXT, stage TEXT)
RETURNS DOUBLE PRECISION
LANGUAGE SQL IMMUTABLE RETURNS NULL ON NULL INPUT AS $$
	SELECT round((
		activity * CASE upper(trim(grade))
			WHEN 'A' THEN 1.0 WHEN 'B' THEN 0.8 WHEN 'C' THEN 0.6
			WHEN 'D' THEN 0.4 WHEN 'E' THEN 0.2 WHEN 'F' THEN 0.1
			ELSE 0.05 END
		+ CASE lower(trim(stage))
			WHEN 'closed' THEN 10 WHEN 'interested' THEN 5 WHEN 'qualified' THEN 5
			WHEN 'contacted' THEN 2 WHEN 'lost' THEN -5
			ELSE 0 END
	)::numeric, 2)::double precision
$$;
`

// Migrate creates the stage, raw, ledger and final tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

// Put stores body under a new unique stage name derived from name.
func (p *Postgres) Put(ctx context.Context, name string, body []byte, opts PutOptions) ([]PutResult, error) {
	stored := body
	if opts.Compress {
		gz, err := gzipBytes(body)
		if err != nil {
			return nil, err
		}
		stored = gz
	}
	target := newStageName(name, opts.Compress)

	conflict := `ON CONFLICT (name) DO NOTHING`
	if opts.Overwrite {
		conflict = `ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, compressed = EXCLUDED.compressed,
			source_size = EXCLUDED.source_size, target_size = EXCLUDED.target_size, created_at = EXCLUDED.created_at, loaded_at = NULL`
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO leads_stage (name, source, body, compressed, source_size, target_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) `+conflict,
		target, name, stored, opts.Compress, int64(len(body)), int64(len(stored)), p.now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: put stage %s", name)
	}

	status := PutStatusUploaded
	if tag.RowsAffected() == 0 {
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
func (p *Postgres) Read(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	var compressed bool
	err := p.pool.QueryRow(ctx,
		`SELECT body, compressed FROM leads_stage WHERE name = $1`, StageName(name),
	).Scan(&body, &compressed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrStageNotFound, "postgres: read stage %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read stage %s", name)
	}
	if compressed {
		return gunzipBytes(body)
	}
	return body, nil
}

// CopyInto loads one staged file into req.Table. A file already loaded is
// skipped with CopyStatusSkipped.
func (p *Postgres) CopyInto(ctx context.Context, req CopyRequest) (*CopyResult, error) {
	name := StageName(req.StagedName)
	table := req.Table
	if table == "" {
		table = RawTable
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin copy")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var body []byte
	var compressed bool
	var loadedAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT body, compressed, loaded_at FROM leads_stage WHERE name = $1 FOR UPDATE`, name,
	).Scan(&body, &compressed, &loadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrStageNotFound, "postgres: copy %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lock stage %s", name)
	}
	if loadedAt != nil {
		zap.L().Info("postgres: staged file already loaded",
			zap.String("file", name),
			zap.Time("loaded_at", *loadedAt),
		)
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

	n, err := db.CopyFrom(ctx, tx, table, []string{"filename", "data"}, rows)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: copy %s", name)
	}
	res.RowsLoaded = n
	res.Status = copyStatus(res)

	if _, err := tx.Exec(ctx,
		`UPDATE leads_stage SET loaded_at = $1 WHERE name = $2`, p.now().UTC(), name,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: mark stage %s loaded", name)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "postgres: commit copy %s", name)
	}
	return res, nil
}

// Columns lists the columns of table in ordinal order.
func (p *Postgres) Columns(ctx context.Context, table string) ([]Column, error) {
	schema := ""
	ident := db.Identifier(table)
	name := ident[len(ident)-1]
	if len(ident) == 2 {
		schema = ident[0]
	}

	rows, err := p.pool.Query(ctx,
		`SELECT column_name::text, ordinal_position::int
		FROM information_schema.columns
		WHERE table_name = $1 AND table_schema = COALESCE(NULLIF($2, ''), current_schema())
		ORDER BY ordinal_position`,
		name, schema,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: columns of %s", table)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Position); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan column of %s", table)
		}
		cols = append(cols, c)
	}
	return cols, eris.Wrapf(rows.Err(), "postgres: iterate columns of %s", table)
}

// QueryRows runs query and returns each row's values in select order.
func (p *Postgres) QueryRows(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query rows")
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "postgres: row values")
		}
		out = append(out, vals)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rows")
}

// RecordLoad appends a row to the load ledger.
func (p *Postgres) RecordLoad(ctx context.Context, res *model.LoadResult) error {
	if res == nil {
		return eris.New("postgres: record nil load result")
	}
	loadedAt := res.LoadedAt
	if loadedAt.IsZero() {
		loadedAt = p.now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO leads_loads (id, resolved_name, requested_name, trigger_kind, artifact_key,
			content_sha256, rows_parsed, rows_loaded, rows_skipped, first_error, loaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.NewString(), res.ResolvedName, res.RequestedName, string(res.Trigger.Kind),
		res.Trigger.ArtifactKey.String(), res.ContentSHA256,
		res.RowsParsed, res.RowsLoaded, res.RowsSkipped, nullable(res.FirstError), loadedAt,
	)
	return eris.Wrapf(err, "postgres: record load %s", res.ResolvedName)
}

// LoadStats aggregates ledger rows with loaded_at >= since.
func (p *Postgres) LoadStats(ctx context.Context, since time.Time) (*LoadStats, error) {
	var st LoadStats
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE rows_skipped > 0),
			COALESCE(SUM(rows_parsed), 0)::bigint,
			COALESCE(SUM(rows_loaded), 0)::bigint,
			COALESCE(SUM(rows_skipped), 0)::bigint
		FROM leads_loads WHERE loaded_at >= $1`, since.UTC(),
	).Scan(&st.Loads, &st.PartialLoads, &st.RowsParsed, &st.RowsLoaded, &st.RowsSkipped)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load stats")
	}
	return &st, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
