package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/trigger"
	"github.com/sells-group/lead-ingest/internal/warehouse"
)

type fakeLedger struct {
	stats *warehouse.LoadStats
	err   error
	since time.Time
}

func (f *fakeLedger) LoadStats(_ context.Context, since time.Time) (*warehouse.LoadStats, error) {
	f.since = since
	if f.err != nil {
		return nil, f.err
	}
	if f.stats == nil {
		return &warehouse.LoadStats{}, nil
	}
	return f.stats, nil
}

type fakeConsumer struct {
	stats trigger.ConsumerStats
}

func (f fakeConsumer) Stats() trigger.ConsumerStats { return f.stats }

type fakeDead int

func (f fakeDead) Len() int { return int(f) }

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestCollector_EmptyLedger(t *testing.T) {
	ledger := &fakeLedger{}
	c := NewCollector(ledger, nil, nil)
	c.now = fixedNow

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.Loads)
	assert.Zero(t, snap.SkipRate)
	assert.Zero(t, snap.NotifyFailRate)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, fixedNow(), snap.CollectedAt)
	assert.Equal(t, fixedNow().Add(-24*time.Hour), ledger.since)
}

func TestCollector_LoadMetrics(t *testing.T) {
	ledger := &fakeLedger{stats: &warehouse.LoadStats{
		Loads: 4, PartialLoads: 1, RowsParsed: 200, RowsLoaded: 190, RowsSkipped: 10,
	}}
	c := NewCollector(ledger, nil, nil)

	snap, err := c.Collect(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Loads)
	assert.Equal(t, int64(1), snap.PartialLoads)
	assert.Equal(t, int64(190), snap.RowsLoaded)
	assert.InDelta(t, 0.05, snap.SkipRate, 1e-9)
}

func TestCollector_NotificationMetrics(t *testing.T) {
	c := NewCollector(&fakeLedger{},
		fakeConsumer{stats: trigger.ConsumerStats{Processed: 6, Duplicates: 3, Failed: 2}},
		fakeDead(2),
	)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.NotifyProcessed)
	assert.Equal(t, int64(3), snap.NotifyDuplicates)
	assert.Equal(t, int64(2), snap.NotifyFailed)
	assert.InDelta(t, 0.25, snap.NotifyFailRate, 1e-9)
	assert.Equal(t, 2, snap.DeadLetters)
}

func TestCollector_LedgerError(t *testing.T) {
	c := NewCollector(&fakeLedger{err: errors.New("db down")}, nil, nil)

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: load stats")
}

func TestCollector_SQLiteLedger(t *testing.T) {
	ctx := context.Background()
	w, err := warehouse.NewSQLite(filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() }) //nolint:errcheck
	require.NoError(t, w.Migrate(ctx))

	require.NoError(t, w.RecordLoad(ctx, &model.LoadResult{
		Trigger:      model.LoadTrigger{Kind: model.TriggerDirect},
		ResolvedName: "leads.json.gz_1",
		RowsParsed:   20,
		RowsLoaded:   18,
		RowsSkipped:  2,
		LoadedAt:     time.Now(),
	}))

	snap, err := NewCollector(w, nil, nil).Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Loads)
	assert.Equal(t, int64(1), snap.PartialLoads)
	assert.InDelta(t, 0.1, snap.SkipRate, 1e-9)
}
