package warehouse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ingest/internal/model"
)

// newMockPostgres creates a Postgres warehouse backed by pgxmock.
func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Postgres{pool: mock, now: func() time.Time { return fixed }}, mock
}

func mustGzip(t *testing.T, s string) []byte {
	t.Helper()
	b, err := gzipBytes([]byte(s))
	require.NoError(t, err)
	return b
}

func TestPostgres_Migrate(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS leads_stage`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, w.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Put_CompressedUniqueName(t *testing.T) {
	w, mock := newMockPostgres(t)

	for range 2 {
		mock.ExpectExec(`ON CONFLICT \(name\) DO UPDATE`).
			WithArgs(pgxmock.AnyArg(), "leads_cleaned.json", pgxmock.AnyArg(), true,
				int64(11), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	ctx := context.Background()
	first, err := w.Put(ctx, "leads_cleaned.json", []byte(`{"a":"1"}` + "\n\n"), PutOptions{Compress: true, Overwrite: true})
	require.NoError(t, err)
	second, err := w.Put(ctx, "leads_cleaned.json", []byte(`{"a":"1"}` + "\n\n"), PutOptions{Compress: true, Overwrite: true})
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, "leads_cleaned.json", first[0].Source)
	assert.Equal(t, PutStatusUploaded, first[0].Status)
	assert.Contains(t, first[0].Target, StagePrefix+"leads_cleaned.json.gz_")
	assert.NotEqual(t, first[0].Target, second[0].Target)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Put_NoOverwriteConflict(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectExec(`ON CONFLICT \(name\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	res, err := w.Put(context.Background(), "x.json", []byte("{}"), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, PutStatusSkipped, res[0].Status)
	assert.NotContains(t, res[0].Target, ".gz_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Put_Error(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO leads_stage`).WillReturnError(fmt.Errorf("disk full"))

	_, err := w.Put(context.Background(), "x.json", []byte("{}"), PutOptions{Compress: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "put stage x.json")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Read(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT body, compressed FROM leads_stage WHERE name = \$1`).
		WithArgs("f.json.gz_abc").
		WillReturnRows(pgxmock.NewRows([]string{"body", "compressed"}).
			AddRow(mustGzip(t, "{\"a\":\"1\"}\n"), true))

	body, err := w.Read(context.Background(), StagePrefix+"f.json.gz_abc")
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":\"1\"}\n", string(body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Read_NotFound(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT body, compressed FROM leads_stage`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := w.Read(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CopyInto_ContinueOnError(t *testing.T) {
	w, mock := newMockPostgres(t)
	name := "f.json.gz_abc"
	payload := "{\"a\":\"1\"}\nnot json\n[1,2]\n{\"a\":\"2\"}\n"

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT body, compressed, loaded_at FROM leads_stage WHERE name = \$1 FOR UPDATE`).
		WithArgs(name).
		WillReturnRows(pgxmock.NewRows([]string{"body", "compressed", "loaded_at"}).
			AddRow(mustGzip(t, payload), true, (*time.Time)(nil)))
	mock.ExpectCopyFrom(pgx.Identifier{"leads_raw"}, []string{"filename", "data"}).WillReturnResult(2)
	mock.ExpectExec(`UPDATE leads_stage SET loaded_at = \$1 WHERE name = \$2`).
		WithArgs(pgxmock.AnyArg(), name).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := w.CopyInto(context.Background(), CopyRequest{
		Table:      RawTable,
		StagedName: StagePrefix + name,
		OnError:    OnErrorContinue,
	})
	require.NoError(t, err)
	assert.Equal(t, name, res.File)
	assert.Equal(t, int64(4), res.RowsParsed)
	assert.Equal(t, int64(2), res.RowsLoaded)
	assert.Equal(t, int64(2), res.ErrorsSeen)
	assert.Equal(t, int64(2), res.FirstErrorLine)
	assert.Equal(t, CopyStatusPartial, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CopyInto_SkipsNULRows(t *testing.T) {
	w, mock := newMockPostgres(t)
	name := "f.json.gz_nul"
	payload := `{"Name":"Ana"}` + "\n" + `{"Name":"Jo\u0000e"}` + "\n"

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(name).
		WillReturnRows(pgxmock.NewRows([]string{"body", "compressed", "loaded_at"}).
			AddRow(mustGzip(t, payload), true, (*time.Time)(nil)))
	mock.ExpectCopyFrom(pgx.Identifier{"leads_raw"}, []string{"filename", "data"}).WillReturnResult(1)
	mock.ExpectExec(`UPDATE leads_stage SET loaded_at`).
		WithArgs(pgxmock.AnyArg(), name).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := w.CopyInto(context.Background(), CopyRequest{StagedName: name, OnError: OnErrorContinue})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsParsed)
	assert.Equal(t, int64(1), res.RowsLoaded)
	assert.Equal(t, int64(1), res.ErrorsSeen)
	assert.Equal(t, int64(2), res.FirstErrorLine)
	assert.Equal(t, CopyStatusPartial, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CopyInto_AlreadyLoaded(t *testing.T) {
	w, mock := newMockPostgres(t)
	loaded := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("f.gz_1").
		WillReturnRows(pgxmock.NewRows([]string{"body", "compressed", "loaded_at"}).
			AddRow(mustGzip(t, "{}\n"), true, &loaded))

	res, err := w.CopyInto(context.Background(), CopyRequest{StagedName: "f.gz_1", OnError: OnErrorContinue})
	require.NoError(t, err)
	assert.Equal(t, CopyStatusSkipped, res.Status)
	assert.Zero(t, res.RowsLoaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CopyInto_Abort(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("f.gz_1").
		WillReturnRows(pgxmock.NewRows([]string{"body", "compressed", "loaded_at"}).
			AddRow([]byte("{}\nbroken\n"), false, (*time.Time)(nil)))

	_, err := w.CopyInto(context.Background(), CopyRequest{StagedName: "f.gz_1", OnError: OnErrorAbort})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted on line 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CopyInto_NotFound(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := w.CopyInto(context.Background(), CopyRequest{StagedName: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CopyInto_CopyFails(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("f.gz_1").
		WillReturnRows(pgxmock.NewRows([]string{"body", "compressed", "loaded_at"}).
			AddRow([]byte("{\"a\":1}\n"), false, (*time.Time)(nil)))
	mock.ExpectCopyFrom(pgx.Identifier{"leads_raw"}, []string{"filename", "data"}).
		WillReturnError(fmt.Errorf("permission denied"))

	_, err := w.CopyInto(context.Background(), CopyRequest{StagedName: "f.gz_1", OnError: OnErrorContinue})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: copy f.gz_1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Columns(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("leads_final", "").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "ordinal_position"}).
			AddRow("_source_file", 1).
			AddRow("_loaded_at", 2).
			AddRow("Lead_Number", 3))

	cols, err := w.Columns(context.Background(), FinalTable)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, Column{Name: "Lead_Number", Position: 3}, cols[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Columns_SchemaQualified(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("leads_final", "analytics").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "ordinal_position"}))

	cols, err := w.Columns(context.Background(), "analytics.leads_final")
	require.NoError(t, err)
	assert.Empty(t, cols)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryRows(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT "Lead_Number", "Lead_Stage" FROM leads_final LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"Lead_Number", "Lead_Stage"}).
			AddRow(int64(660737), "Interested").
			AddRow(int64(660728), nil))

	rows, err := w.QueryRows(context.Background(), `SELECT "Lead_Number", "Lead_Stage" FROM leads_final LIMIT $1`, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(660737), rows[0][0])
	assert.Nil(t, rows[1][1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryRows_Error(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT`).WillReturnError(fmt.Errorf("relation does not exist"))

	_, err := w.QueryRows(context.Background(), `SELECT 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: query rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordLoad(t *testing.T) {
	w, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO leads_loads`).
		WithArgs(pgxmock.AnyArg(), "f.json.gz_abc", "f_cleaned.json", "direct", "raw/f.csv", "deadbeef",
			int64(3), int64(2), int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := w.RecordLoad(context.Background(), &model.LoadResult{
		Trigger:       model.LoadTrigger{Kind: model.TriggerDirect, ArtifactKey: "raw/f.csv"},
		State:         model.LoadStateLoaded,
		RequestedName: "f_cleaned.json",
		ResolvedName:  "f.json.gz_abc",
		RowsParsed:    3,
		RowsLoaded:    2,
		RowsSkipped:   1,
		FirstError:    "invalid JSON object",
		ContentSHA256: "deadbeef",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordLoad_Nil(t *testing.T) {
	w, _ := newMockPostgres(t)
	assert.Error(t, w.RecordLoad(context.Background(), nil))
}

func TestPostgres_LoadStats(t *testing.T) {
	w, mock := newMockPostgres(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM leads_loads WHERE loaded_at >= \$1`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"count", "partial", "parsed", "loaded", "skipped"}).
			AddRow(int64(3), int64(1), int64(30), int64(28), int64(2)))

	st, err := w.LoadStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, LoadStats{Loads: 3, PartialLoads: 1, RowsParsed: 30, RowsLoaded: 28, RowsSkipped: 2}, *st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadStats_Error(t *testing.T) {
	w, mock := newMockPostgres(t)
	mock.ExpectQuery(`FROM leads_loads`).WithArgs(pgxmock.AnyArg()).WillReturnError(errors.New("timeout"))

	_, err := w.LoadStats(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: load stats")
}
