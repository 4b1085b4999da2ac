// Package inference invokes the lead-scoring model hosted on a SageMaker
// runtime endpoint.
package inference

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-ingest/internal/resilience"
)

// DefaultEndpoint is the endpoint name used when none is configured.
const DefaultEndpoint = "lead-scoring-endpoint"

const contentTypeJSON = "application/json"

// Client scores a single lead payload.
type Client interface {
	Invoke(ctx context.Context, payload any) (json.RawMessage, error)
}

// API is the subset of *sagemakerruntime.Client used here.
type API interface {
	InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// ClientOption configures the inference client.
type ClientOption func(*client)

// WithRateLimit caps invocations per second. Zero or less disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *client) { c.retry = cfg }
}

// WithBreaker routes calls through b.
func WithBreaker(b *resilience.Breaker) ClientOption {
	return func(c *client) { c.breaker = b }
}

type client struct {
	api      API
	endpoint string
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	breaker  *resilience.Breaker
}

// NewClient loads the default AWS config for region and returns a Client for
// endpoint. Calls are throttled to 10 req/s unless overridden.
func NewClient(ctx context.Context, region, endpoint string, opts ...ClientOption) (Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "inference: load aws config")
	}
	return NewFromAPI(sagemakerruntime.NewFromConfig(awsCfg), endpoint, opts...), nil
}

// NewFromAPI wraps an existing API implementation.
func NewFromAPI(api API, endpoint string, opts ...ClientOption) Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.LogRetry("sagemaker", "invoke_endpoint")
	c := &client{
		api:      api,
		endpoint: endpoint,
		limiter:  rate.NewLimiter(10, 10),
		retry:    retry,
		breaker:  resilience.NewBreaker("sagemaker", 0, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Invoke serializes payload as JSON, sends it to the endpoint and returns the
// endpoint's JSON response unchanged.
func (c *client) Invoke(ctx context.Context, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "inference: encode payload")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (json.RawMessage, error) {
		if err := c.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "inference: rate limit")
		}

		var out *sagemakerruntime.InvokeEndpointOutput
		call := func(ctx context.Context) error {
			var callErr error
			out, callErr = c.api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
				EndpointName: aws.String(c.endpoint),
				ContentType:  aws.String(contentTypeJSON),
				Accept:       aws.String(contentTypeJSON),
				Body:         body,
			})
			return callErr
		}
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call(ctx)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "inference: invoke %s", c.endpoint)
		}

		if !json.Valid(out.Body) {
			return nil, eris.Errorf("inference: endpoint %s returned invalid JSON", c.endpoint)
		}
		return json.RawMessage(out.Body), nil
	})
}
