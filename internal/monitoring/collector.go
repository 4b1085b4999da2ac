package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ingest/internal/trigger"
	"github.com/sells-group/lead-ingest/internal/warehouse"
)

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Load ledger metrics (within lookback window).
	Loads        int64   `json:"loads"`
	PartialLoads int64   `json:"partial_loads"`
	RowsParsed   int64   `json:"rows_parsed"`
	RowsLoaded   int64   `json:"rows_loaded"`
	RowsSkipped  int64   `json:"rows_skipped"`
	SkipRate     float64 `json:"skip_rate"`

	// Notification consumer metrics (since process start).
	NotifyProcessed  int64   `json:"notify_processed"`
	NotifyDuplicates int64   `json:"notify_duplicates"`
	NotifyFailed     int64   `json:"notify_failed"`
	NotifyFailRate   float64 `json:"notify_fail_rate"`

	DeadLetters int `json:"dead_letters"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ConsumerStatsSource abstracts the notification consumer's counters.
type ConsumerStatsSource interface {
	Stats() trigger.ConsumerStats
}

// DeadLetterCounter reports how many notifications are parked.
type DeadLetterCounter interface {
	Len() int
}

// Collector gathers metrics from the load ledger and the notification path.
// Consumer and dead-letter sources are optional.
type Collector struct {
	ledger   warehouse.LedgerReader
	consumer ConsumerStatsSource
	dead     DeadLetterCounter
	now      func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(ledger warehouse.LedgerReader, consumer ConsumerStatsSource, dead DeadLetterCounter) *Collector {
	return &Collector{
		ledger:   ledger,
		consumer: consumer,
		dead:     dead,
		now:      time.Now,
	}
}

// Collect gathers a snapshot of ingestion metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	st, err := c.ledger.LoadStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load stats")
	}

	snap.Loads = st.Loads
	snap.PartialLoads = st.PartialLoads
	snap.RowsParsed = st.RowsParsed
	snap.RowsLoaded = st.RowsLoaded
	snap.RowsSkipped = st.RowsSkipped
	if st.RowsParsed > 0 {
		snap.SkipRate = float64(st.RowsSkipped) / float64(st.RowsParsed)
	}

	if c.consumer != nil {
		cs := c.consumer.Stats()
		snap.NotifyProcessed = cs.Processed
		snap.NotifyDuplicates = cs.Duplicates
		snap.NotifyFailed = cs.Failed
		if handled := cs.Processed + cs.Failed; handled > 0 {
			snap.NotifyFailRate = float64(cs.Failed) / float64(handled)
		}
	}

	if c.dead != nil {
		snap.DeadLetters = c.dead.Len()
	}

	return snap, nil
}
