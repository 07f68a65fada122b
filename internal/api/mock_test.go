package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/model"
	"github.com/sells-group/dataland/internal/sourcing"
)

// --- Datasets ---

type mockDatasets struct {
	mock.Mock
}

func (m *mockDatasets) StoreDataset(ctx context.Context, dataset model.CompanyAssociatedData, dataType string, bypassQa bool, correlationID string, uploader *auth.Principal) (string, error) {
	args := m.Called(ctx, dataset, dataType, bypassQa, correlationID, uploader)
	return args.String(0), args.Error(1)
}

func (m *mockDatasets) GetDatasetData(ctx context.Context, datasetID, dataType string, viewer *auth.Principal) (*model.DatasetMeta, []byte, error) {
	args := m.Called(ctx, datasetID, dataType, viewer)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.DatasetMeta), args.Get(1).([]byte), args.Error(2)
}

func (m *mockDatasets) GetDatasetsByDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]model.DimensionalDataset, error) {
	args := m.Called(ctx, dims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DimensionalDataset), args.Error(1)
}

func (m *mockDatasets) GetLatestAvailable(ctx context.Context, companyIDs []string, dataType string) (map[string]string, error) {
	args := m.Called(ctx, companyIDs, dataType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// --- Data points ---

type mockDataPoints struct {
	mock.Mock
}

func (m *mockDataPoints) ProcessDataPoint(ctx context.Context, point model.UploadedDataPoint, uploader *auth.Principal, bypassQa bool, correlationID string) (*model.DataPointMeta, error) {
	args := m.Called(ctx, point, uploader, bypassQa, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DataPointMeta), args.Error(1)
}

func (m *mockDataPoints) RetrieveDataPoint(ctx context.Context, dataID string, viewer *auth.Principal) (*model.DataPoint, error) {
	args := m.Called(ctx, dataID, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DataPoint), args.Error(1)
}

func (m *mockDataPoints) RetrieveDataPoints(ctx context.Context, dataIDs []string, viewer *auth.Principal) (map[string]*model.DataPoint, error) {
	args := m.Called(ctx, dataIDs, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*model.DataPoint), args.Error(1)
}

// --- Requests ---

type mockRequests struct {
	mock.Mock
}

func (m *mockRequests) CreateRequest(ctx context.Context, in sourcing.NewRequest, user *auth.Principal) (string, bool, error) {
	args := m.Called(ctx, in, user)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockRequests) BulkCreate(ctx context.Context, in sourcing.BulkRequest, user *auth.Principal) (*sourcing.BulkResult, error) {
	args := m.Called(ctx, in, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sourcing.BulkResult), args.Error(1)
}

func (m *mockRequests) GetRequest(ctx context.Context, id string, viewer *auth.Principal) (*sourcing.StoredRequest, error) {
	args := m.Called(ctx, id, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sourcing.StoredRequest), args.Error(1)
}

func (m *mockRequests) ListUserRequests(ctx context.Context, userID string, limit, offset int) ([]sourcing.StoredRequest, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sourcing.StoredRequest), args.Error(1)
}

func (m *mockRequests) ListRequests(ctx context.Context, f sourcing.RequestFilter) ([]sourcing.StoredRequest, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sourcing.StoredRequest), args.Error(1)
}

func (m *mockRequests) PatchRequestState(ctx context.Context, id string, state model.RequestState, adminComment *string, correlationID string) (*model.Request, error) {
	args := m.Called(ctx, id, state, adminComment, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Request), args.Error(1)
}

func (m *mockRequests) PatchRequestPriority(ctx context.Context, id string, priority model.RequestPriority, adminComment *string) (*model.Request, error) {
	args := m.Called(ctx, id, priority, adminComment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Request), args.Error(1)
}

func (m *mockRequests) WithdrawRequest(ctx context.Context, id string, user *auth.Principal) (*model.Request, error) {
	args := m.Called(ctx, id, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Request), args.Error(1)
}

func (m *mockRequests) RequestHistory(ctx context.Context, id string, viewer *auth.Principal) ([]sourcing.HistoryEntry, error) {
	args := m.Called(ctx, id, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sourcing.HistoryEntry), args.Error(1)
}

func (m *mockRequests) DisplayedHistory(ctx context.Context, id string, viewer *auth.Principal) ([]sourcing.DisplayedStateEntry, error) {
	args := m.Called(ctx, id, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sourcing.DisplayedStateEntry), args.Error(1)
}

// --- Sourcing ---

type mockSourcing struct {
	mock.Mock
}

func (m *mockSourcing) GetSourcing(ctx context.Context, id string) (*model.DataSourcing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DataSourcing), args.Error(1)
}

func (m *mockSourcing) PatchState(ctx context.Context, id string, state model.DataSourcingState, correlationID string) (*model.DataSourcing, error) {
	args := m.Called(ctx, id, state, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DataSourcing), args.Error(1)
}

func (m *mockSourcing) PatchSourcing(ctx context.Context, id string, p sourcing.Patch, correlationID string) (*model.DataSourcing, error) {
	args := m.Called(ctx, id, p, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DataSourcing), args.Error(1)
}

func (m *mockSourcing) SourcingHistory(ctx context.Context, id string) ([]model.DataSourcingRevision, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DataSourcingRevision), args.Error(1)
}

func (m *mockSourcing) PrioritiesByDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]sourcing.DimensionPriority, error) {
	args := m.Called(ctx, dims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sourcing.DimensionPriority), args.Error(1)
}
