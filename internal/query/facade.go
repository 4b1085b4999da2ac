// Package query serves the read side: lead listing, warehouse-side scoring,
// the interactive count and single-lead inference.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/db"
	"github.com/sells-group/lead-ingest/internal/warehouse"
)

const (
	// DefaultSystemColumns is how many leading columns of the final table
	// are bookkeeping columns. Selection is by ordinal position, so adding a
	// column ahead of them silently shifts the projection.
	DefaultSystemColumns = 2

	DefaultLimit = 10
	MaxLimit     = 1000

	scoreLimit = 100
	countQuery = "SELECT COUNT(*) AS total FROM leads_raw"
)

// Engine states that end polling.
const (
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
)

// ErrCountTimeout is returned when the count query does not reach a terminal
// state within the poll bound. It is distinct from a failed query.
var ErrCountTimeout = eris.New("query: count timed out")

// Engine is an interactive query service that runs queries asynchronously.
type Engine interface {
	Start(ctx context.Context, query string) (string, error)
	State(ctx context.Context, id string) (string, error)
	Results(ctx context.Context, id string) ([][]string, error)
}

// Inference scores an opaque lead payload.
type Inference interface {
	Invoke(ctx context.Context, payload any) (json.RawMessage, error)
}

// Config tunes the facade. Zero values take defaults.
type Config struct {
	FinalTable    string
	SystemColumns int
	PollInterval  time.Duration // default 1s
	MaxPolls      int           // default 30
	Timeout       time.Duration // default MaxPolls * PollInterval plus slack
}

func (c Config) withDefaults() Config {
	if c.FinalTable == "" {
		c.FinalTable = warehouse.FinalTable
	}
	if c.SystemColumns <= 0 {
		c.SystemColumns = DefaultSystemColumns
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = 30
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Duration(c.MaxPolls+5) * c.PollInterval
	}
	return c
}

// ScoredLead is one row of the scoring aggregation.
type ScoredLead struct {
	ID            int64   `json:"id"`
	ActivityScore float64 `json:"activity_score"`
	LeadGrade     string  `json:"lead_grade"`
	LeadStage     string  `json:"lead_stage"`
	Score         float64 `json:"score"`
}

// ScoreStats reports how many warehouse rows were filtered out as incomplete.
type ScoreStats struct {
	Returned int `json:"returned"`
	Dropped  int `json:"dropped"`
}

// Facade runs read queries. Any dependency may be nil; the operations that
// need it then return an error.
type Facade struct {
	querier   warehouse.Querier
	engine    Engine
	inference Inference
	cfg       Config
}

// New returns a Facade.
func New(q warehouse.Querier, engine Engine, inf Inference, cfg Config) *Facade {
	return &Facade{querier: q, engine: engine, inference: inf, cfg: cfg.withDefaults()}
}

// Leads returns up to limit rows of the final table, keyed by column name,
// without the leading system columns.
func (f *Facade) Leads(ctx context.Context, limit int) ([]map[string]any, error) {
	if f.querier == nil {
		return nil, eris.New("query: no warehouse configured")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	cols, err := f.querier.Columns(ctx, f.cfg.FinalTable)
	if err != nil {
		return nil, eris.Wrap(err, "query: list columns")
	}
	if len(cols) <= f.cfg.SystemColumns {
		return []map[string]any{}, nil
	}

	names := make([]string, 0, len(cols)-f.cfg.SystemColumns)
	for _, c := range cols[f.cfg.SystemColumns:] {
		names = append(names, c.Name)
	}

	table := db.SanitizeTable(f.cfg.FinalTable)
	stmt := fmt.Sprintf("SELECT %s FROM %s LIMIT %d", db.QuoteAndJoin(names), table, limit)
	rows, err := f.querier.QueryRows(ctx, stmt)
	if err != nil {
		return nil, eris.Wrap(err, "query: fetch leads")
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(names))
		for i, name := range names {
			if i < len(row) {
				m[name] = row[i]
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// ScoreAll scores up to 100 leads with the warehouse scoring function. Rows
// with a missing field are left out and counted in the returned stats.
func (f *Facade) ScoreAll(ctx context.Context) ([]ScoredLead, ScoreStats, error) {
	var stats ScoreStats
	if f.querier == nil {
		return nil, stats, eris.New("query: no warehouse configured")
	}

	stmt := fmt.Sprintf(`SELECT "Lead_Number", "Asymmetrique_Activity_Score", "Lead_Grade", "Lead_Stage",
	scoring_udf("Asymmetrique_Activity_Score", "Lead_Grade", "Lead_Stage") AS score
FROM %s LIMIT %d`, db.SanitizeTable(f.cfg.FinalTable), scoreLimit)

	rows, err := f.querier.QueryRows(ctx, stmt)
	if err != nil {
		return nil, stats, eris.Wrap(err, "query: score leads")
	}

	out := make([]ScoredLead, 0, len(rows))
	for _, row := range rows {
		lead, ok := scoredLead(row)
		if !ok {
			stats.Dropped++
			continue
		}
		out = append(out, lead)
	}
	stats.Returned = len(out)

	if stats.Dropped > 0 {
		zap.L().Warn("query: dropped incomplete scoring rows",
			zap.Int("dropped", stats.Dropped),
			zap.Int("returned", stats.Returned),
		)
	}
	return out, stats, nil
}

func scoredLead(row []any) (ScoredLead, bool) {
	if len(row) != 5 {
		return ScoredLead{}, false
	}
	for _, v := range row {
		if v == nil {
			return ScoredLead{}, false
		}
	}

	id, ok1 := asInt(row[0])
	activity, ok2 := asFloat(row[1])
	grade, ok3 := row[2].(string)
	stage, ok4 := row[3].(string)
	score, ok5 := asFloat(row[4])
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return ScoredLead{}, false
	}
	return ScoredLead{ID: id, ActivityScore: activity, LeadGrade: grade, LeadStage: stage, Score: score}, true
}

// Count runs the row count on the interactive engine and polls until the
// query finishes. A query that fails or is cancelled yields -1 and no error;
// running past the poll bound yields -1 and ErrCountTimeout.
func (f *Facade) Count(ctx context.Context) (int64, error) {
	if f.engine == nil {
		return -1, eris.New("query: no query engine configured")
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	id, err := f.engine.Start(ctx, countQuery)
	if err != nil {
		return -1, eris.Wrap(err, "query: start count")
	}

	state, err := f.poll(ctx, id)
	if err != nil {
		return -1, err
	}
	if state != StateSucceeded {
		zap.L().Warn("query: count did not succeed",
			zap.String("execution_id", id),
			zap.String("state", state),
		)
		return -1, nil
	}

	rows, err := f.engine.Results(ctx, id)
	if err != nil {
		return -1, eris.Wrap(err, "query: count results")
	}
	// Row 0 is the header.
	if len(rows) < 2 || len(rows[1]) == 0 {
		return -1, eris.Errorf("query: count %s returned no value", id)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rows[1][0]), 10, 64)
	if err != nil {
		return -1, eris.Wrapf(err, "query: parse count %q", rows[1][0])
	}
	return n, nil
}

func (f *Facade) poll(ctx context.Context, id string) (string, error) {
	for i := 0; i < f.cfg.MaxPolls; i++ {
		state, err := f.engine.State(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return "", eris.Wrapf(ErrCountTimeout, "query: execution %s", id)
			}
			return "", eris.Wrapf(err, "query: poll count %s", id)
		}

		switch strings.ToUpper(state) {
		case StateSucceeded, StateFailed, StateCancelled:
			return strings.ToUpper(state), nil
		}
		if i == f.cfg.MaxPolls-1 {
			break
		}

		select {
		case <-ctx.Done():
			return "", eris.Wrapf(ErrCountTimeout, "query: execution %s", id)
		case <-time.After(f.cfg.PollInterval):
		}
	}
	return "", eris.Wrapf(ErrCountTimeout, "query: execution %s after %d polls", id, f.cfg.MaxPolls)
}

// ScoreLead forwards payload to the inference endpoint unchanged.
func (f *Facade) ScoreLead(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	if f.inference == nil {
		return nil, eris.New("query: no inference endpoint configured")
	}
	out, err := f.inference.Invoke(ctx, payload)
	if err != nil {
		return nil, eris.Wrap(err, "query: score lead")
	}
	return out, nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		x, err := strconv.ParseFloat(n, 64)
		return x, err == nil
	}
	return 0, false
}
