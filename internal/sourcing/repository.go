// Package sourcing coordinates data requests and the sourcing work items
// that answer them.
package sourcing

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/model"
)

// ErrDuplicateRequest is returned by InsertRequest when the user already
// has an Open or Processing request for the same dimension.
var ErrDuplicateRequest = errors.New("sourcing: duplicate open request")

// RequestFilter narrows request listings. Zero fields do not filter.
type RequestFilter struct {
	UserID          string
	CompanyID       string
	DataType        string
	ReportingPeriod string
	States          []model.RequestState
	Limit           int
	Offset          int
}

// Tx is the storage surface used by the coordinators. Inside InTx every
// call shares one transaction, including published events.
type Tx interface {
	// GetRequest returns nil when the request does not exist. forUpdate
	// locks the row until the transaction ends.
	GetRequest(ctx context.Context, id string, forUpdate bool) (*model.Request, error)
	FindActiveRequest(ctx context.Context, userID string, dim model.BasicDataDimension) (*model.Request, error)
	ExistingRequestDimensions(ctx context.Context, userID string, dims []model.BasicDataDimension) ([]model.BasicDataDimension, error)
	CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error)
	InsertRequest(ctx context.Context, r *model.Request) error
	UpdateRequest(ctx context.Context, r *model.Request) error
	ListRequests(ctx context.Context, f RequestFilter) ([]StoredRequest, error)
	RequestRevisions(ctx context.Context, id string) ([]model.RequestRevision, error)

	// LockDimension serializes sourcing changes for one dimension until
	// the transaction ends.
	LockDimension(ctx context.Context, dim model.BasicDataDimension) error
	GetSourcing(ctx context.Context, id string, forUpdate bool) (*model.DataSourcing, error)
	FindSourcing(ctx context.Context, dim model.BasicDataDimension) (*model.DataSourcing, error)
	FindSourcings(ctx context.Context, dims []model.BasicDataDimension) ([]model.DataSourcing, error)
	InsertSourcing(ctx context.Context, s *model.DataSourcing) error
	UpdateSourcing(ctx context.Context, s *model.DataSourcing) error
	SourcingRevisions(ctx context.Context, id string) ([]model.DataSourcingRevision, error)

	Publish(ctx context.Context, evs ...events.Event) error
}

// Repository is a Tx that can open transactions.
type Repository interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Migrate(ctx context.Context) error
}

// StoredRequest is a request together with the progress of its sourcing
// work item.
type StoredRequest struct {
	model.Request
	DataSourcingState *model.DataSourcingState `json:"dataSourcingState,omitempty"`
	DisplayedState    model.DisplayedState     `json:"displayedState"`
}

func newStoredRequest(r model.Request, state *model.DataSourcingState) StoredRequest {
	return StoredRequest{Request: r, DataSourcingState: state, DisplayedState: model.DisplayedStateOf(r.State, state)}
}
