// Package athena runs interactive queries on Amazon Athena.
package athena

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/rotisserie/eris"
)

// Query execution states.
const (
	StateQueued    = string(types.QueryExecutionStateQueued)
	StateRunning   = string(types.QueryExecutionStateRunning)
	StateSucceeded = string(types.QueryExecutionStateSucceeded)
	StateFailed    = string(types.QueryExecutionStateFailed)
	StateCancelled = string(types.QueryExecutionStateCancelled)
)

// API is the subset of *athena.Client used here.
type API interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

// Config selects the database, workgroup and result location.
type Config struct {
	Region         string
	Database       string
	OutputLocation string // s3:// URI for query results
	Workgroup      string
}

// Client submits queries and reads their state and results.
type Client struct {
	api API
	cfg Config
}

// NewClient loads the default AWS config and returns a Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "athena: load aws config")
	}
	return NewFromAPI(athena.NewFromConfig(awsCfg), cfg), nil
}

// NewFromAPI wraps an existing API implementation.
func NewFromAPI(api API, cfg Config) *Client {
	return &Client{api: api, cfg: cfg}
}

// Start submits query and returns its execution ID.
func (c *Client) Start(ctx context.Context, query string) (string, error) {
	in := &athena.StartQueryExecutionInput{QueryString: aws.String(query)}
	if c.cfg.Database != "" {
		in.QueryExecutionContext = &types.QueryExecutionContext{Database: aws.String(c.cfg.Database)}
	}
	if c.cfg.OutputLocation != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(c.cfg.OutputLocation)}
	}
	if c.cfg.Workgroup != "" {
		in.WorkGroup = aws.String(c.cfg.Workgroup)
	}

	out, err := c.api.StartQueryExecution(ctx, in)
	if err != nil {
		return "", eris.Wrap(err, "athena: start query")
	}
	id := aws.ToString(out.QueryExecutionId)
	if id == "" {
		return "", eris.New("athena: start query returned no execution id")
	}
	return id, nil
}

// State returns the execution state, e.g. StateRunning.
func (c *Client) State(ctx context.Context, id string) (string, error) {
	out, err := c.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
	if err != nil {
		return "", eris.Wrapf(err, "athena: get execution %s", id)
	}
	if out.QueryExecution == nil || out.QueryExecution.Status == nil {
		return "", eris.Errorf("athena: execution %s has no status", id)
	}
	return string(out.QueryExecution.Status.State), nil
}

// Results returns every result row as strings, header row first. NULL cells
// are empty strings.
func (c *Client) Results(ctx context.Context, id string) ([][]string, error) {
	var rows [][]string
	in := &athena.GetQueryResultsInput{QueryExecutionId: aws.String(id)}
	for {
		out, err := c.api.GetQueryResults(ctx, in)
		if err != nil {
			return nil, eris.Wrapf(err, "athena: get results %s", id)
		}
		if out.ResultSet != nil {
			for _, r := range out.ResultSet.Rows {
				cells := make([]string, len(r.Data))
				for i, d := range r.Data {
					cells[i] = aws.ToString(d.VarCharValue)
				}
				rows = append(rows, cells)
			}
		}
		if aws.ToString(out.NextToken) == "" {
			return rows, nil
		}
		in.NextToken = out.NextToken
	}
}
