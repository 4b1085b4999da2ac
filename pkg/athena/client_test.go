package athena

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	startIn  *athena.StartQueryExecutionInput
	startErr error
	state    types.QueryExecutionState
	pages    []*athena.GetQueryResultsOutput
	tokens   []string
}

func (f *fakeAPI) StartQueryExecution(_ context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.startIn = in
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("q-1")}, nil
}

func (f *fakeAPI) GetQueryExecution(_ context.Context, in *athena.GetQueryExecutionInput, _ ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	if aws.ToString(in.QueryExecutionId) != "q-1" {
		return nil, errors.New("unknown execution")
	}
	return &athena.GetQueryExecutionOutput{QueryExecution: &types.QueryExecution{
		Status: &types.QueryExecutionStatus{State: f.state},
	}}, nil
}

func (f *fakeAPI) GetQueryResults(_ context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	f.tokens = append(f.tokens, aws.ToString(in.NextToken))
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func row(vals ...*string) types.Row {
	r := types.Row{}
	for _, v := range vals {
		r.Data = append(r.Data, types.Datum{VarCharValue: v})
	}
	return r
}

func TestClient_Start(t *testing.T) {
	api := &fakeAPI{}
	c := NewFromAPI(api, Config{Database: "leads", OutputLocation: "s3://results/", Workgroup: "primary"})

	id, err := c.Start(context.Background(), "SELECT COUNT(*) AS total FROM leads_raw")
	require.NoError(t, err)
	assert.Equal(t, "q-1", id)
	assert.Equal(t, "leads", aws.ToString(api.startIn.QueryExecutionContext.Database))
	assert.Equal(t, "s3://results/", aws.ToString(api.startIn.ResultConfiguration.OutputLocation))
	assert.Equal(t, "primary", aws.ToString(api.startIn.WorkGroup))
}

func TestClient_Start_Error(t *testing.T) {
	c := NewFromAPI(&fakeAPI{startErr: errors.New("denied")}, Config{})
	_, err := c.Start(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "athena: start query")
}

func TestClient_State(t *testing.T) {
	c := NewFromAPI(&fakeAPI{state: types.QueryExecutionStateSucceeded}, Config{})
	state, err := c.State(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, state)

	_, err = c.State(context.Background(), "other")
	assert.Error(t, err)
}

func TestClient_Results_Paginates(t *testing.T) {
	api := &fakeAPI{pages: []*athena.GetQueryResultsOutput{
		{ResultSet: &types.ResultSet{Rows: []types.Row{row(aws.String("total"))}}, NextToken: aws.String("t2")},
		{ResultSet: &types.ResultSet{Rows: []types.Row{row(aws.String("42")), row(nil)}}},
	}}
	c := NewFromAPI(api, Config{})

	rows, err := c.Results(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"total"}, {"42"}, {""}}, rows)
	assert.Equal(t, []string{"", "t2"}, api.tokens)
}
