// Package store persists data points and dataset records: content, metadata,
// QA status and the currently active flag per data point dimension.
package store

import (
	"context"
	"sort"
	"strings"

	"github.com/sells-group/dataland/internal/model"
)

// ActiveFilter selects currently active data points. Empty slices match
// everything.
type ActiveFilter struct {
	CompanyIDs       []string
	ReportingPeriods []string
	DataPointTypes   []string
}

// Store is the backing store of the data point and dataset coordinators.
// Lookups of unknown ids return nil, nil.
type Store interface {
	// Data points
	InsertDataPoint(ctx context.Context, dp *model.DataPoint) error
	GetDataPoint(ctx context.Context, dataID string) (*model.DataPoint, error)
	GetDataPoints(ctx context.Context, dataIDs []string) (map[string]*model.DataPoint, error)
	GetDataPointMeta(ctx context.Context, dataID string) (*model.DataPointMeta, error)
	// SetDataPointQaStatus changes the QA status unless it already equals
	// status. It reports whether a row changed.
	SetDataPointQaStatus(ctx context.Context, dataID string, status model.QaStatus) (bool, error)
	ActiveDataPoint(ctx context.Context, dim model.DataPointDimension) (string, error)
	ListActive(ctx context.Context, filter ActiveFilter) ([]model.DataPointMeta, error)
	// UpdateCurrentlyActive applies DecideActivation for dim atomically.
	UpdateCurrentlyActive(ctx context.Context, dim model.DataPointDimension, newActiveID string) (Activation, error)

	// Datasets
	InsertDataset(ctx context.Context, meta model.DatasetMeta, dataPoints map[string]string) error
	// WriteDataset persists a dataset upload in one transaction. Nothing
	// is written when it fails.
	WriteDataset(ctx context.Context, w DatasetWrite) ([]Activation, error)
	GetDatasetMeta(ctx context.Context, datasetID string) (*model.DatasetMeta, error)
	GetDatasetDataPoints(ctx context.Context, datasetID string) (map[string]string, error)
	SetDatasetQaStatus(ctx context.Context, datasetID string, status model.QaStatus) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// DatasetWrite is everything a dataset upload persists.
type DatasetWrite struct {
	Meta   model.DatasetMeta
	Points []*model.DataPoint
	// Mapping maps dataset paths to data point ids.
	Mapping map[string]string
	// Activate makes every point the active one of its dimension.
	Activate bool
	// ReplaceArrays lists array paths whose elements the upload replaces.
	// With Activate, active points of the company and reporting period
	// stored below one of them and not written by the upload are
	// deactivated.
	ReplaceArrays []string
}

// stale reports whether an active data point type is an element of a
// replaced array that the upload does not write.
func (w DatasetWrite) stale(dataPointType string, written map[string]bool) bool {
	if written[dataPointType] {
		return false
	}
	for _, p := range w.ReplaceArrays {
		if strings.HasPrefix(dataPointType, p+"[") {
			return true
		}
	}
	return false
}

func (w DatasetWrite) writtenTypes() map[string]bool {
	out := make(map[string]bool, len(w.Points))
	for _, dp := range w.Points {
		out[dp.DataPointType] = true
	}
	return out
}

// sortedPoints orders points by dimension so concurrent uploads lock
// dimensions in the same order.
func (w DatasetWrite) sortedPoints() []*model.DataPoint {
	out := append([]*model.DataPoint(nil), w.Points...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Dimension().String() < out[j].Dimension().String()
	})
	return out
}

// Activation is the outcome of an active pointer update.
type Activation struct {
	Deactivate string
	Activate   string
}

// NoOp reports whether nothing has to be written.
func (a Activation) NoOp() bool {
	return a.Deactivate == "" && a.Activate == ""
}

// DecideActivation compares the requested active id with the current one.
// An empty next deactivates the current data point, a different next swaps
// both, and an equal next changes nothing.
func DecideActivation(current, next string) Activation {
	switch {
	case next == "" && current != "":
		return Activation{Deactivate: current}
	case next != "" && next != current:
		return Activation{Deactivate: current, Activate: next}
	default:
		return Activation{}
	}
}
