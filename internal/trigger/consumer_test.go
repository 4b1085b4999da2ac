package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/resilience"
)

type handlerFunc func(ctx context.Context, p NotificationPayload) (*model.LoadResult, error)

func (h handlerFunc) Notification(ctx context.Context, p NotificationPayload) (*model.LoadResult, error) {
	return h(ctx, p)
}

func TestConsumer_DedupesRedeliveries(t *testing.T) {
	bus := NewBus(10)
	var mu sync.Mutex
	var keys []string
	c := NewConsumer(bus, handlerFunc(func(_ context.Context, p NotificationPayload) (*model.LoadResult, error) {
		mu.Lock()
		keys = append(keys, p.S3Key)
		mu.Unlock()
		return &model.LoadResult{ResolvedName: "a.gz_1", RowsLoaded: 1}, nil
	}), nil, ConsumerConfig{Workers: 2})
	c.Start()

	ev := Event{ID: "leads/raw/a.csv/001", Key: "raw/a.csv"}
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), Event{ID: "leads/raw/b.csv/002", Key: "raw/b.csv"}))
	require.NoError(t, c.Stop(context.Background()))

	assert.ElementsMatch(t, []string{"raw/a.csv", "raw/b.csv"}, keys)
	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Zero(t, stats.Failed)
}

func TestConsumer_RetriesTransient(t *testing.T) {
	bus := NewBus(1)
	var attempts atomic.Int32
	c := NewConsumer(bus, handlerFunc(func(context.Context, NotificationPayload) (*model.LoadResult, error) {
		if attempts.Add(1) < 3 {
			return nil, resilience.NewTransientError(errors.New("throttled"), 429)
		}
		return &model.LoadResult{}, nil
	}), nil, ConsumerConfig{Workers: 1, MaxRetries: 2, BaseBackoff: time.Millisecond})
	c.Start()

	require.NoError(t, bus.Publish(context.Background(), Event{ID: "e1", Key: "raw/a.csv"}))
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int64(1), c.Stats().Processed)
}

func TestConsumer_PermanentFailureDeadLettered(t *testing.T) {
	bus := NewBus(1)
	dead := resilience.NewDeadLetters(10)
	var attempts atomic.Int32
	c := NewConsumer(bus, handlerFunc(func(context.Context, NotificationPayload) (*model.LoadResult, error) {
		attempts.Add(1)
		return nil, &ArtifactNotFoundError{Key: "raw/gone.csv"}
	}), dead, ConsumerConfig{Workers: 1, MaxRetries: 3, BaseBackoff: time.Millisecond})
	c.Start()

	require.NoError(t, bus.Publish(context.Background(), Event{ID: "e1", Key: "raw/gone.csv"}))
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, int32(1), attempts.Load())
	require.Equal(t, 1, dead.Len())
	assert.Equal(t, "raw/gone.csv", dead.List()[0].Key)
	assert.Equal(t, "permanent", dead.List()[0].ErrorType)
	assert.Equal(t, int64(1), c.Stats().Failed)
}

func TestConsumer_RedeliveryAfterFailureLoads(t *testing.T) {
	bus := NewBus(2)
	var calls atomic.Int32
	c := NewConsumer(bus, handlerFunc(func(context.Context, NotificationPayload) (*model.LoadResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("warehouse unavailable")
		}
		return &model.LoadResult{ResolvedName: "a.gz_1", RowsLoaded: 1}, nil
	}), nil, ConsumerConfig{Workers: 1})
	c.Start()

	ev := Event{ID: "leads/raw/a.csv/001", Key: "raw/a.csv"}
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, ConsumerStats{Processed: 1, Duplicates: 1, Failed: 1}, c.Stats())
}

func TestBus_ClosedPublish(t *testing.T) {
	bus := NewBus(0)
	bus.Close()
	bus.Close()
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Key: "k"}), ErrBusClosed)
}

func TestBus_PublishHonorsContext(t *testing.T) {
	bus := NewBus(1)
	require.NoError(t, bus.Publish(context.Background(), Event{Key: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, Event{Key: "b"}), context.DeadlineExceeded)
}

func TestConsumer_StopTimeout(t *testing.T) {
	bus := NewBus(1)
	release := make(chan struct{})
	c := NewConsumer(bus, handlerFunc(func(context.Context, NotificationPayload) (*model.LoadResult, error) {
		<-release
		return &model.LoadResult{}, nil
	}), nil, ConsumerConfig{Workers: 1})
	c.Start()
	require.NoError(t, bus.Publish(context.Background(), Event{ID: "slow", Key: "raw/a.csv"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Stop(ctx), context.DeadlineExceeded)
	close(release)
}
