package query

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ingest/internal/warehouse"
)

type mockQuerier struct{ mock.Mock }

func (m *mockQuerier) Columns(ctx context.Context, table string) ([]warehouse.Column, error) {
	args := m.Called(ctx, table)
	if cols := args.Get(0); cols != nil {
		return cols.([]warehouse.Column), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQuerier) QueryRows(ctx context.Context, query string, args ...any) ([][]any, error) {
	a := m.Called(ctx, query)
	if rows := a.Get(0); rows != nil {
		return rows.([][]any), a.Error(1)
	}
	return nil, a.Error(1)
}

type fakeEngine struct {
	states   []string
	polls    int
	rows     [][]string
	startErr error
	query    string
}

func (e *fakeEngine) Start(_ context.Context, q string) (string, error) {
	e.query = q
	return "exec-1", e.startErr
}

func (e *fakeEngine) State(_ context.Context, _ string) (string, error) {
	e.polls++
	if len(e.states) == 0 {
		return "RUNNING", nil
	}
	s := e.states[0]
	e.states = e.states[1:]
	return s, nil
}

func (e *fakeEngine) Results(_ context.Context, _ string) ([][]string, error) {
	return e.rows, nil
}

type fakeInference struct {
	got any
	out json.RawMessage
	err error
}

func (f *fakeInference) Invoke(_ context.Context, payload any) (json.RawMessage, error) {
	f.got = payload
	return f.out, f.err
}

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond, MaxPolls: 5, Timeout: time.Second}
}

func TestLeads_DropsSystemColumnsByPosition(t *testing.T) {
	q := &mockQuerier{}
	q.On("Columns", mock.Anything, "leads_final").Return([]warehouse.Column{
		{Name: "_source_file", Position: 1},
		{Name: "_loaded_at", Position: 2},
		{Name: "Lead_Number", Position: 3},
		{Name: "Lead_Grade", Position: 4},
	}, nil)
	q.On("QueryRows", mock.Anything, `SELECT "Lead_Number", "Lead_Grade" FROM "leads_final" LIMIT 10`).
		Return([][]any{{int64(7), "A"}}, nil)

	f := New(q, nil, nil, fastConfig())
	leads, err := f.Leads(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"Lead_Number": int64(7), "Lead_Grade": "A"}}, leads)
	q.AssertExpectations(t)
}

func TestLeads_LimitCapped(t *testing.T) {
	q := &mockQuerier{}
	q.On("Columns", mock.Anything, "leads_final").Return([]warehouse.Column{
		{Name: "a"}, {Name: "b"}, {Name: "c"},
	}, nil)
	q.On("QueryRows", mock.Anything, `SELECT "c" FROM "leads_final" LIMIT 1000`).Return([][]any{}, nil)

	f := New(q, nil, nil, fastConfig())
	leads, err := f.Leads(context.Background(), 5000)
	require.NoError(t, err)
	assert.Empty(t, leads)
	q.AssertExpectations(t)
}

func TestLeads_OnlySystemColumns(t *testing.T) {
	q := &mockQuerier{}
	q.On("Columns", mock.Anything, "leads_final").Return([]warehouse.Column{{Name: "a"}, {Name: "b"}}, nil)

	f := New(q, nil, nil, fastConfig())
	leads, err := f.Leads(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, leads)
	q.AssertNotCalled(t, "QueryRows", mock.Anything, mock.Anything)
}

func TestLeads_ColumnsError(t *testing.T) {
	q := &mockQuerier{}
	q.On("Columns", mock.Anything, "leads_final").Return(nil, errors.New("no such table"))

	_, err := New(q, nil, nil, fastConfig()).Leads(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query: list columns")
}

func TestScoreAll_FiltersIncompleteRows(t *testing.T) {
	q := &mockQuerier{}
	q.On("QueryRows", mock.Anything, mock.AnythingOfType("string")).Return([][]any{
		{int64(1), 14.0, "B", "contacted", 13.2},
		{int64(2), nil, "A", "closed", nil},
		{int64(3), 10.0, "A"},
		{int64(4), 5.0, "C", "lost", -2.0},
	}, nil)

	leads, stats, err := New(q, nil, nil, fastConfig()).ScoreAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScoreStats{Returned: 2, Dropped: 2}, stats)
	require.Len(t, leads, 2)
	assert.Equal(t, ScoredLead{ID: 1, ActivityScore: 14, LeadGrade: "B", LeadStage: "contacted", Score: 13.2}, leads[0])
	assert.Equal(t, int64(4), leads[1].ID)
}

func TestScoreAll_SQLite(t *testing.T) {
	w, err := warehouse.NewSQLite(filepath.Join(t.TempDir(), "wh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, w.Migrate(ctx))

	_, err = w.DB().ExecContext(ctx, `INSERT INTO leads_final
		("Lead_Number", "Asymmetrique_Activity_Score", "Lead_Grade", "Lead_Stage")
		VALUES (1, 14, 'B', 'contacted'), (2, 10, NULL, 'closed'), (3, 20, 'A', 'closed')`)
	require.NoError(t, err)

	leads, stats, err := New(w, nil, nil, fastConfig()).ScoreAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dropped)
	require.Len(t, leads, 2)
	assert.InDelta(t, 13.2, leads[0].Score, 1e-9)
	assert.InDelta(t, 30.0, leads[1].Score, 1e-9)

	all, err := New(w, nil, nil, fastConfig()).Leads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.NotContains(t, all[0], "_source_file")
	assert.Contains(t, all[0], "Lead_Number")
}

func TestCount_Succeeded(t *testing.T) {
	e := &fakeEngine{
		states: []string{"QUEUED", "RUNNING", "SUCCEEDED"},
		rows:   [][]string{{"total"}, {"42"}},
	}
	n, err := New(nil, e, nil, fastConfig()).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, 3, e.polls)
	assert.Equal(t, "SELECT COUNT(*) AS total FROM leads_raw", e.query)
}

func TestCount_FailedIsSentinel(t *testing.T) {
	for _, state := range []string{"FAILED", "CANCELLED"} {
		t.Run(state, func(t *testing.T) {
			e := &fakeEngine{states: []string{state}}
			n, err := New(nil, e, nil, fastConfig()).Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(-1), n)
		})
	}
}

func TestCount_PollBoundExceeded(t *testing.T) {
	e := &fakeEngine{}
	n, err := New(nil, e, nil, fastConfig()).Count(context.Background())
	assert.Equal(t, int64(-1), n)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCountTimeout)
	assert.Equal(t, 5, e.polls)
}

func TestCount_NoWaitAfterLastPoll(t *testing.T) {
	e := &fakeEngine{}
	cfg := Config{PollInterval: time.Minute, MaxPolls: 1, Timeout: 2 * time.Minute}

	start := time.Now()
	n, err := New(nil, e, nil, cfg).Count(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int64(-1), n)
	assert.ErrorIs(t, err, ErrCountTimeout)
	assert.Equal(t, 1, e.polls)
}

func TestCount_StartError(t *testing.T) {
	e := &fakeEngine{startErr: errors.New("access denied")}
	n, err := New(nil, e, nil, fastConfig()).Count(context.Background())
	assert.Equal(t, int64(-1), n)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCountTimeout)
}

func TestCount_BadValue(t *testing.T) {
	e := &fakeEngine{states: []string{"SUCCEEDED"}, rows: [][]string{{"total"}}}
	n, err := New(nil, e, nil, fastConfig()).Count(context.Background())
	assert.Equal(t, int64(-1), n)
	assert.Error(t, err)
}

func TestScoreLead_PassThrough(t *testing.T) {
	inf := &fakeInference{out: json.RawMessage(`{"score":0.9}`)}
	payload := map[string]any{"TotalVisits": 3.0, "nested": map[string]any{"x": true}}

	out, err := New(nil, nil, inf, fastConfig()).ScoreLead(context.Background(), payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":0.9}`, string(out))
	assert.Equal(t, payload, inf.got)
}

func TestScoreLead_NotConfigured(t *testing.T) {
	_, err := New(nil, nil, nil, fastConfig()).ScoreLead(context.Background(), nil)
	assert.Error(t, err)
}
