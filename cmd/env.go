package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/blob"
	"github.com/sells-group/lead-ingest/internal/config"
	"github.com/sells-group/lead-ingest/internal/fetcher"
	"github.com/sells-group/lead-ingest/internal/loader"
	"github.com/sells-group/lead-ingest/internal/normalize"
	"github.com/sells-group/lead-ingest/internal/query"
	"github.com/sells-group/lead-ingest/internal/resilience"
	"github.com/sells-group/lead-ingest/internal/trigger"
	"github.com/sells-group/lead-ingest/internal/warehouse"
	"github.com/sells-group/lead-ingest/pkg/athena"
	"github.com/sells-group/lead-ingest/pkg/inference"
)

// ingestEnv holds the warehouse, object store and load path used by the
// serve and load commands.
type ingestEnv struct {
	Warehouse warehouse.Warehouse
	Store     blob.Store
	Loader    *loader.Loader
	Trigger   *trigger.Trigger
}

// Close releases the warehouse connection.
func (e *ingestEnv) Close() {
	if e.Warehouse != nil {
		_ = e.Warehouse.Close()
	}
}

// initIngest opens and migrates the warehouse, prepares the object store and
// builds the trigger. Callers should defer env.Close().
func initIngest(ctx context.Context, c *config.Config) (*ingestEnv, error) {
	wh, err := initWarehouse(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := wh.Migrate(ctx); err != nil {
		_ = wh.Close()
		return nil, eris.Wrap(err, "migrate warehouse")
	}

	store, err := initBlob(ctx, c)
	if err != nil {
		_ = wh.Close()
		return nil, err
	}

	ld := loader.New(wh, wh, wh, c.Warehouse.RawTable)
	return &ingestEnv{
		Warehouse: wh,
		Store:     store,
		Loader:    ld,
		Trigger:   trigger.New(store, ld, normalizeOptions(c.Normalize)),
	}, nil
}

func initWarehouse(ctx context.Context, c *config.Config) (warehouse.Warehouse, error) {
	return warehouse.Open(ctx, c.Warehouse.Driver, c.Warehouse.DatabaseURL, &warehouse.PoolConfig{
		MaxConns: c.Warehouse.MaxConns,
		MinConns: c.Warehouse.MinConns,
	})
}

func initBlob(ctx context.Context, c *config.Config) (blob.Store, error) {
	switch c.Blob.Driver {
	case "memory":
		zap.L().Warn("using in-memory object store; uploads are lost on restart")
		return blob.NewMemory(c.Blob.Bucket, c.Blob.Compress), nil
	case "s3":
		store, err := blob.NewS3(ctx, blob.S3Config{
			Bucket:          c.Blob.Bucket,
			Region:          c.Blob.Region,
			Endpoint:        c.Blob.Endpoint,
			UsePathStyle:    c.Blob.UsePathStyle,
			AccessKeyID:     c.Blob.AccessKeyID,
			SecretAccessKey: c.Blob.SecretAccessKey,
			Compress:        c.Blob.Compress,
			Retry:           retryConfig(c.Retry, "s3"),
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureContainer(ctx); err != nil {
			return nil, eris.Wrap(err, "ensure bucket")
		}
		return store, nil
	default:
		return nil, eris.Errorf("unsupported blob driver: %s", c.Blob.Driver)
	}
}

// initQuery builds the read-side facade. The Athena and inference clients
// only load AWS configuration here; nothing is called until a request
// needs them.
func initQuery(ctx context.Context, c *config.Config, q warehouse.Querier) (*query.Facade, error) {
	engine, err := athena.NewClient(ctx, athena.Config{
		Region:         c.Athena.Region,
		Database:       c.Athena.Database,
		OutputLocation: c.Athena.OutputLocation,
		Workgroup:      c.Athena.Workgroup,
	})
	if err != nil {
		return nil, err
	}

	inf, err := inference.NewClient(ctx, c.Inference.Region, c.Inference.Endpoint,
		inference.WithRateLimit(c.Inference.RatePerSecond),
		inference.WithRetry(retryConfig(c.Retry, "sagemaker")),
	)
	if err != nil {
		return nil, err
	}

	return query.New(q, engine, inf, query.Config{
		FinalTable:    c.Warehouse.FinalTable,
		SystemColumns: c.Warehouse.SystemColumns,
		PollInterval:  c.Athena.PollInterval(),
		MaxPolls:      c.Athena.MaxPolls,
		Timeout:       c.Athena.Timeout(),
	}), nil
}

func normalizeOptions(c config.NormalizeConfig) normalize.Options {
	opts := normalize.DefaultOptions()
	opts.Delimiter = c.DelimiterRune()
	opts.BestEffort = c.BestEffort
	opts.TreatNullMarkers = c.TreatNullMarkers
	if c.FallbackEncoding != "" {
		opts.FallbackEncoding = c.FallbackEncoding
	}
	if c.MinConfidence > 0 {
		opts.MinConfidence = c.MinConfidence
	}
	return opts
}

func retryConfig(c config.RetryConfig, service string) resilience.RetryConfig {
	rc := resilience.NewRetryConfig(c.MaxAttempts,
		time.Duration(c.InitialBackoffMS)*time.Millisecond,
		time.Duration(c.MaxBackoffMS)*time.Millisecond,
	)
	rc.OnRetry = resilience.LogRetry(service, "request")
	return rc
}

func initFetcher(c *config.Config) *fetcher.Router {
	timeout := time.Duration(c.Fetch.TimeoutSecs) * time.Second
	return fetcher.New(fetcher.Options{
		HTTP: fetcher.HTTPOptions{
			UserAgent:     c.Fetch.UserAgent,
			Timeout:       timeout,
			RatePerSecond: c.Fetch.RatePerSecond,
			Retry:         retryConfig(c.Retry, "fetcher"),
		},
		FTP:      fetcher.FTPOptions{Timeout: timeout},
		MaxBytes: int64(c.Server.MaxUploadMB) << 20,
	})
}
