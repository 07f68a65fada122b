// Package dataset splits framework datasets into data points and assembles
// data points back into datasets.
package dataset

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/datapoint"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/jsonspec"
	"github.com/sells-group/dataland/internal/model"
	"github.com/sells-group/dataland/internal/reports"
	"github.com/sells-group/dataland/internal/spec"
	"github.com/sells-group/dataland/internal/store"
)

// Templates resolves framework templates.
type Templates interface {
	Template(ctx context.Context, frameworkID string) (*spec.Template, error)
}

// Assembler converts between datasets and data points.
type Assembler struct {
	specs   Templates
	store   store.Store
	points  *datapoint.Manager
	checker datapoint.ContentChecker
	pub     events.Publisher
	ignored map[string]bool
	workers int
	now     func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithIgnoredFields names data point types that do not count as answered
// data, such as the fiscal year end every upload carries.
func WithIgnoredFields(types ...string) Option {
	return func(a *Assembler) {
		for _, t := range types {
			a.ignored[t] = true
		}
	}
}

// WithWorkers bounds concurrent data point writes per dataset.
func WithWorkers(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.workers = n
		}
	}
}

// NewAssembler creates an Assembler.
func NewAssembler(specs Templates, st store.Store, points *datapoint.Manager, checker datapoint.ContentChecker, pub events.Publisher, opts ...Option) *Assembler {
	a := &Assembler{
		specs:   specs,
		store:   st,
		points:  points,
		checker: checker,
		pub:     pub,
		ignored: map[string]bool{},
		workers: 8,
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SplitResult is a dehydrated dataset.
type SplitResult struct {
	// Leaves maps leaf paths to values. The referenced reports leaf is
	// not included.
	Leaves            map[string]jsonspec.Leaf
	ReferencedReports map[string]reports.ReferencedReport
	PublicationDates  map[string]string
	FileNames         map[string]string
}

// Split dehydrates raw with the template of dataType and extracts the
// referenced reports together with their lookup maps.
func (a *Assembler) Split(ctx context.Context, raw []byte, dataType string) (*SplitResult, error) {
	tpl, err := a.specs.Template(ctx, dataType)
	if err != nil {
		return nil, err
	}
	leaves, err := jsonspec.Dehydrate(tpl.Full, raw)
	if err != nil {
		return nil, apperr.Validation("Invalid input", "the dataset does not match the %s framework: %v", dataType, err)
	}

	res := &SplitResult{Leaves: leaves, ReferencedReports: map[string]reports.ReferencedReport{}}
	if path := tpl.Framework.ReferencedReportJSONPath; reports.SupportsReferencedReports(path) {
		if leaf, ok := leaves[path]; ok {
			delete(leaves, path)
			res.ReferencedReports, err = reports.ParseFromLeaf(leaf.Content)
			if err != nil {
				return nil, err
			}
		}
	}
	if err := reports.ValidateConsistency(res.ReferencedReports); err != nil {
		return nil, err
	}
	res.PublicationDates, res.FileNames = reports.LookupMaps(res.ReferencedReports)
	return res, nil
}

// StoreDataset splits and stores an uploaded dataset and returns its id.
// Fully null leaves are not stored. Content and report references are
// validated before anything is written, and the data points, the dataset
// record and, for bypassed uploads, the activations are written in one
// store transaction. Events are published after the write commits.
func (a *Assembler) StoreDataset(ctx context.Context, dataset model.CompanyAssociatedData, dataType string, bypassQa bool, correlationID string, uploader *auth.Principal) (string, error) {
	if bypassQa && !uploader.CanBypassQa(dataset.CompanyID) {
		return "", apperr.AccessDenied("Access denied",
			"you do not have the rights to bypass QA for company %s", dataset.CompanyID)
	}
	if !model.ValidReportingPeriod(dataset.ReportingPeriod) {
		return "", apperr.Validation("Invalid reporting period",
			"the reporting period %q must be a year or a quarter like 2023-Q2", dataset.ReportingPeriod)
	}
	tpl, err := a.specs.Template(ctx, dataType)
	if err != nil {
		return "", err
	}
	split, err := a.Split(ctx, dataset.Data, dataType)
	if err != nil {
		return "", err
	}

	contents := make(map[string]json.RawMessage, len(split.Leaves))
	for path, leaf := range split.Leaves {
		if jsonspec.IsFullyNull(leaf.Content) {
			continue
		}
		contents[path] = leaf.Content
	}
	if err := reports.Validate(contents, split.ReferencedReports, reports.DataSourceField); err != nil {
		return "", err
	}
	paths := make([]string, 0, len(contents))
	for path := range contents {
		paths = append(paths, path)
		if typ := split.Leaves[path].Type; typ != "" {
			if err := a.checker.Check(ctx, typ, contents[path], correlationID); err != nil {
				return "", eris.Wrapf(err, "dataset: field %s", path)
			}
		}
	}
	sort.Strings(paths)

	datasetID := uuid.New().String()
	log := zap.L().With(
		zap.String("dataset_id", datasetID),
		zap.String("data_type", dataType),
		zap.String("correlation_id", correlationID),
	)

	requests := make([]datapoint.StoreRequest, len(paths))
	points := make([]*model.DataPoint, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, path := range paths {
		g.Go(func() error {
			content, err := reports.UpdateDataSource(contents[path], split.PublicationDates, split.FileNames, reports.DataSourceField)
			if err != nil {
				return err
			}
			requests[i] = datapoint.StoreRequest{
				Point: model.UploadedDataPoint{
					DataPoint:       content,
					DataPointType:   split.Leaves[path].ID,
					CompanyID:       dataset.CompanyID,
					ReportingPeriod: dataset.ReportingPeriod,
				},
				UploaderID:    uploader.UserID,
				BypassQa:      bypassQa,
				DatasetID:     datasetID,
				CorrelationID: correlationID,
				Checked:       true,
			}
			dp, err := a.points.Prepare(gctx, requests[i])
			if err != nil {
				return eris.Wrapf(err, "dataset: prepare field %s", path)
			}
			points[i] = dp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	mapping := make(map[string]string, len(paths))
	for i, path := range paths {
		mapping[path] = points[i].DataPointID
	}
	status := model.QaPending
	if bypassQa {
		status = model.QaAccepted
	}
	acts, err := a.store.WriteDataset(ctx, store.DatasetWrite{
		Meta: model.DatasetMeta{
			DatasetID:       datasetID,
			CompanyID:       dataset.CompanyID,
			DataType:        dataType,
			ReportingPeriod: dataset.ReportingPeriod,
			UploaderUserID:  uploader.UserID,
			UploadTime:      a.now().UTC(),
			QaStatus:        status,
		},
		Points:        points,
		Mapping:       mapping,
		Activate:      bypassQa,
		ReplaceArrays: replacedArrays(tpl.Full, paths),
	})
	if err != nil {
		return "", err
	}
	for _, act := range acts {
		if act.Deactivate != "" && act.Activate == "" {
			log.Info("deactivated replaced array element", zap.String("data_id", act.Deactivate))
		}
	}

	for i, dp := range points {
		if err := a.points.Announce(ctx, dp, requests[i]); err != nil {
			return "", eris.Wrapf(err, "dataset: %s stored", datasetID)
		}
	}
	if !bypassQa {
		ev, err := events.New(events.DatasetQaRequired, correlationID, events.DatasetQaRequiredPayload{
			DatasetID:       datasetID,
			CompanyID:       dataset.CompanyID,
			DataType:        dataType,
			ReportingPeriod: dataset.ReportingPeriod,
			UploaderUserID:  uploader.UserID,
		})
		if err != nil {
			return "", err
		}
		if err := a.pub.Publish(ctx, ev); err != nil {
			return "", eris.Wrapf(err, "dataset: %s stored, publish qa request", datasetID)
		}
	}
	log.Info("stored dataset", zap.Int("data_points", len(mapping)), zap.Bool("bypass_qa", bypassQa))
	return datasetID, nil
}

// AssembleSingleDataset hydrates the template of dataType from data point
// contents keyed by the id they are stored under. The referenced reports
// are rebuilt from the data sources of the used points.
func (a *Assembler) AssembleSingleDataset(ctx context.Context, points map[string]json.RawMessage, dataType string) ([]byte, error) {
	tpl, err := a.specs.Template(ctx, dataType)
	if err != nil {
		return nil, err
	}
	doc, _, err := assemble(tpl, points)
	return doc, err
}

// GetDatasetData assembles a stored dataset. dataType may be empty; when
// given it must match the stored dataset.
func (a *Assembler) GetDatasetData(ctx context.Context, datasetID, dataType string, viewer *auth.Principal) (*model.DatasetMeta, []byte, error) {
	meta, err := a.store.GetDatasetMeta(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil || (dataType != "" && meta.DataType != dataType) {
		return nil, nil, apperr.NotFound("Dataset not found", "no %s dataset with id %s exists", dataType, datasetID)
	}
	if meta.QaStatus != model.QaAccepted && !viewer.CanViewUnaccepted(meta.CompanyID) {
		return nil, nil, apperr.AccessDenied("Access denied",
			"the dataset %s has QA status %s and you are not allowed to view it", datasetID, meta.QaStatus)
	}

	mapping, err := a.store.GetDatasetDataPoints(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(mapping))
	for _, id := range mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	dps, err := a.store.GetDataPoints(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	points := make(map[string]json.RawMessage, len(dps))
	for _, dp := range dps {
		points[dp.DataPointType] = dp.Content
	}
	doc, err := a.AssembleSingleDataset(ctx, points, meta.DataType)
	if err != nil {
		return nil, nil, err
	}
	return meta, doc, nil
}

// GetDatasetsByDimensions assembles the currently active data of each
// dimension. Dimensions holding nothing but ignored fields are left out.
// All active points are fetched with two store calls.
func (a *Assembler) GetDatasetsByDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]model.DimensionalDataset, error) {
	if len(dims) == 0 {
		return nil, nil
	}
	byCompanyPeriod, err := a.activeContents(ctx, dims)
	if err != nil {
		return nil, err
	}

	templates := map[string]*spec.Template{}
	var out []model.DimensionalDataset
	for _, dim := range dims {
		tpl, ok := templates[dim.DataType]
		if !ok {
			tpl, err = a.specs.Template(ctx, dim.DataType)
			if err != nil {
				return nil, err
			}
			templates[dim.DataType] = tpl
		}
		points := byCompanyPeriod[companyPeriod{dim.CompanyID, dim.ReportingPeriod}]
		doc, used, err := assemble(tpl, points)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: assemble %s", dim)
		}
		if !a.answered(used) {
			continue
		}
		out = append(out, model.DimensionalDataset{Dimension: dim, Data: doc})
	}
	return out, nil
}

// GetLatestAvailable returns, per company, the latest reporting period
// with answered active data of dataType.
func (a *Assembler) GetLatestAvailable(ctx context.Context, companyIDs []string, dataType string) (map[string]string, error) {
	tpl, err := a.specs.Template(ctx, dataType)
	if err != nil {
		return nil, err
	}
	metas, err := a.store.ListActive(ctx, store.ActiveFilter{CompanyIDs: companyIDs})
	if err != nil {
		return nil, err
	}
	member := templateMembership(tpl.Full)
	out := map[string]string{}
	for _, m := range metas {
		if a.ignored[m.DataPointType] || !member(m.DataPointType) {
			continue
		}
		if cur, ok := out[m.CompanyID]; !ok || m.ReportingPeriod > cur {
			out[m.CompanyID] = m.ReportingPeriod
		}
	}
	return out, nil
}

// ExistingDimensions returns the dimensions of dims that hold answered
// active data, in the order of dims.
func (a *Assembler) ExistingDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]model.BasicDataDimension, error) {
	if len(dims) == 0 {
		return nil, nil
	}
	companies := map[string]bool{}
	periods := map[string]bool{}
	members := map[string]func(string) bool{}
	for _, d := range dims {
		companies[d.CompanyID] = true
		periods[d.ReportingPeriod] = true
		if _, ok := members[d.DataType]; ok {
			continue
		}
		tpl, err := a.specs.Template(ctx, d.DataType)
		if err != nil {
			return nil, err
		}
		members[d.DataType] = templateMembership(tpl.Full)
	}
	metas, err := a.store.ListActive(ctx, store.ActiveFilter{
		CompanyIDs:       sortedSet(companies),
		ReportingPeriods: sortedSet(periods),
	})
	if err != nil {
		return nil, err
	}
	types := map[companyPeriod][]string{}
	for _, m := range metas {
		if a.ignored[m.DataPointType] {
			continue
		}
		key := companyPeriod{m.CompanyID, m.ReportingPeriod}
		types[key] = append(types[key], m.DataPointType)
	}

	var out []model.BasicDataDimension
	for _, d := range dims {
		member := members[d.DataType]
		for _, t := range types[companyPeriod{d.CompanyID, d.ReportingPeriod}] {
			if member(t) {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// HandleQaStatusChanged records dataset level QA verdicts.
func (a *Assembler) HandleQaStatusChanged(ctx context.Context, ev events.Event) error {
	p, err := events.Decode[events.QaStatusChangedPayload](ev)
	if err != nil {
		return err
	}
	if p.Dataset == nil {
		return nil
	}
	if !p.UpdatedQaStatus.Valid() {
		return eris.Wrapf(events.ErrMalformed, "unknown qa status %q", p.UpdatedQaStatus)
	}
	changed, err := a.store.SetDatasetQaStatus(ctx, p.DataID, p.UpdatedQaStatus)
	if err != nil {
		return err
	}
	if changed {
		zap.L().Info("updated dataset qa status",
			zap.String("dataset_id", p.DataID),
			zap.String("qa_status", string(p.UpdatedQaStatus)),
		)
	}
	if p.UpdatedQaStatus != model.QaAccepted {
		return nil
	}
	return a.retireReplacedElements(ctx, p.DataID)
}

// retireReplacedElements deactivates the active array elements an accepted
// dataset replaces without carrying them, the way bypassed uploads do
// when they are stored.
func (a *Assembler) retireReplacedElements(ctx context.Context, datasetID string) error {
	meta, err := a.store.GetDatasetMeta(ctx, datasetID)
	if err != nil {
		return err
	}
	if meta == nil {
		return eris.Wrapf(events.ErrMalformed, "unknown dataset %s", datasetID)
	}
	mapping, err := a.store.GetDatasetDataPoints(ctx, datasetID)
	if err != nil {
		return err
	}
	tpl, err := a.specs.Template(ctx, meta.DataType)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(mapping))
	for p := range mapping {
		paths = append(paths, p)
	}
	arrays := replacedArrays(tpl.Full, paths)
	if len(arrays) == 0 {
		return nil
	}

	metas, err := a.store.ListActive(ctx, store.ActiveFilter{
		CompanyIDs:       []string{meta.CompanyID},
		ReportingPeriods: []string{meta.ReportingPeriod},
	})
	if err != nil {
		return err
	}
	for _, m := range metas {
		if _, carried := mapping[m.DataPointType]; carried || !underAny(m.DataPointType, arrays) {
			continue
		}
		if _, err := a.points.UpdateCurrentlyActiveDataPoint(ctx, m.Dimension(), ""); err != nil {
			return err
		}
	}
	return nil
}

func underAny(dataPointType string, arrays []string) bool {
	for _, p := range arrays {
		if strings.HasPrefix(dataPointType, p+"[") {
			return true
		}
	}
	return false
}

type companyPeriod struct {
	companyID string
	period    string
}

func (a *Assembler) activeContents(ctx context.Context, dims []model.BasicDataDimension) (map[companyPeriod]map[string]json.RawMessage, error) {
	companies := map[string]bool{}
	periods := map[string]bool{}
	for _, d := range dims {
		companies[d.CompanyID] = true
		periods[d.ReportingPeriod] = true
	}
	metas, err := a.store.ListActive(ctx, store.ActiveFilter{
		CompanyIDs:       sortedSet(companies),
		ReportingPeriods: sortedSet(periods),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.DataPointID
	}
	dps, err := a.store.GetDataPoints(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := map[companyPeriod]map[string]json.RawMessage{}
	for _, dp := range dps {
		key := companyPeriod{dp.CompanyID, dp.ReportingPeriod}
		if out[key] == nil {
			out[key] = map[string]json.RawMessage{}
		}
		out[key][dp.DataPointType] = dp.Content
	}
	return out, nil
}

func (a *Assembler) answered(used []string) bool {
	for _, id := range used {
		if !a.ignored[id] {
			return true
		}
	}
	return false
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
