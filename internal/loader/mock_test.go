package loader

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-ingest/internal/model"
	"github.com/sells-group/lead-ingest/internal/warehouse"
)

type mockStage struct {
	mock.Mock
}

func (m *mockStage) Put(ctx context.Context, name string, body []byte, opts warehouse.PutOptions) ([]warehouse.PutResult, error) {
	args := m.Called(ctx, name, body, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]warehouse.PutResult), args.Error(1)
}

func (m *mockStage) Read(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type mockCopier struct {
	mock.Mock
}

func (m *mockCopier) CopyInto(ctx context.Context, req warehouse.CopyRequest) (*warehouse.CopyResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*warehouse.CopyResult), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) RecordLoad(ctx context.Context, res *model.LoadResult) error {
	return m.Called(ctx, res).Error(0)
}
