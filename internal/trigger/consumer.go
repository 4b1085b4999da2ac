package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/resilience"
)

// Handler processes one notification.
type Handler interface {
	Notification(ctx context.Context, payload NotificationPayload) (*model.LoadResult, error)
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Workers     int           // default 4
	MaxRetries  int           // retries of transient failures; default 0
	BaseBackoff time.Duration // default 100ms, doubled per retry
	Timeout     time.Duration // per-event deadline; default 5m
}

// ConsumerStats counts consumer outcomes.
type ConsumerStats struct {
	Processed  int64 `json:"processed"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
}

// Consumer drains a Bus with a fixed worker pool. Redeliveries of an event ID
// that is in flight or already loaded are dropped. A failed event is
// forgotten, so a later redelivery can load it.
type Consumer struct {
	bus     *Bus
	handler Handler
	dead    *resilience.DeadLetters
	cfg     ConsumerConfig

	seen sync.Map
	wg   sync.WaitGroup

	processed  atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// NewConsumer returns a stopped consumer. dead may be nil.
func NewConsumer(bus *Bus, handler Handler, dead *resilience.DeadLetters, cfg ConsumerConfig) *Consumer {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Consumer{bus: bus, handler: handler, dead: dead, cfg: cfg}
}

// Start launches the workers.
func (c *Consumer) Start() {
	for range c.cfg.Workers {
		c.wg.Add(1)
		go c.worker()
	}
}

// Stop closes the bus and waits for in-flight events or ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	c.bus.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Processed:  c.processed.Load(),
		Duplicates: c.duplicates.Load(),
		Failed:     c.failed.Load(),
	}
}

func (c *Consumer) worker() {
	defer c.wg.Done()
	for ev := range c.bus.Subscribe() {
		c.process(ev)
	}
}

func (c *Consumer) process(ev Event) {
	if ev.ID != "" {
		if _, loaded := c.seen.LoadOrStore(ev.ID, struct{}{}); loaded {
			c.duplicates.Add(1)
			zap.L().Info("trigger: skip duplicate notification",
				zap.String("event_id", ev.ID),
				zap.String("key", ev.Key),
			)
			return
		}
	}

	backoff := c.cfg.BaseBackoff
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		res, err := c.handler.Notification(ctx, NotificationPayload{S3Key: ev.Key})
		cancel()

		if err == nil {
			c.processed.Add(1)
			zap.L().Info("trigger: notification loaded",
				zap.String("event_id", ev.ID),
				zap.String("key", ev.Key),
				zap.String("resolved_name", res.ResolvedName),
				zap.Int64("rows_loaded", res.RowsLoaded),
			)
			return
		}

		if attempt >= c.cfg.MaxRetries || !resilience.IsTransient(err) {
			c.failed.Add(1)
			if ev.ID != "" {
				c.seen.Delete(ev.ID)
			}
			if c.dead != nil {
				c.dead.Push(ev.ID, ev.Key, err)
			}
			zap.L().Error("trigger: notification failed",
				zap.String("event_id", ev.ID),
				zap.String("key", ev.Key),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return
		}

		time.Sleep(backoff)
		backoff *= 2
	}
}
