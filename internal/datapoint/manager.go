// Package datapoint stores, retrieves and activates individual data points.
package datapoint

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/model"
	"github.com/sells-group/dataland/internal/store"
)

// BypassComment is recorded on data points that skipped review.
const BypassComment = "Automatically QA approved."

// ContentChecker validates data point content against its type.
type ContentChecker interface {
	Check(ctx context.Context, dataPointType string, content json.RawMessage, correlationID string) error
}

// Companies tells whether a company id is known.
type Companies interface {
	Exists(ctx context.Context, companyID string) (bool, error)
}

// Manager coordinates data point persistence, QA state and activation.
type Manager struct {
	store     store.Store
	checker   ContentChecker
	pub       events.Publisher
	companies Companies
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCompanies makes uploads fail for unknown companies.
func WithCompanies(c Companies) Option {
	return func(m *Manager) { m.companies = c }
}

// WithClock overrides the upload time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(st store.Store, checker ContentChecker, pub events.Publisher, opts ...Option) *Manager {
	m := &Manager{store: st, checker: checker, pub: pub, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StoreRequest describes one data point to persist.
type StoreRequest struct {
	Point         model.UploadedDataPoint
	UploaderID    string
	BypassQa      bool
	DatasetID     string
	CorrelationID string
	// Checked skips content validation for callers that validated already.
	Checked bool
}

// ProcessDataPoint validates and stores a single uploaded data point. A QA
// bypass requires a qualifying role for the company; reviewed uploads
// additionally request QA.
func (m *Manager) ProcessDataPoint(ctx context.Context, point model.UploadedDataPoint, uploader *auth.Principal, bypassQa bool, correlationID string) (*model.DataPointMeta, error) {
	if bypassQa && !uploader.CanBypassQa(point.CompanyID) {
		return nil, apperr.AccessDenied("Access denied",
			"you do not have the rights to bypass QA for company %s", point.CompanyID)
	}
	meta, err := m.Store(ctx, StoreRequest{
		Point:         point,
		UploaderID:    uploader.UserID,
		BypassQa:      bypassQa,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	if bypassQa {
		return meta, nil
	}

	ev, err := events.New(events.DataPointQaRequested, correlationID, events.DataPointQaRequestedPayload{
		DataPointID:     meta.DataPointID,
		DataPointType:   meta.DataPointType,
		CompanyID:       meta.CompanyID,
		ReportingPeriod: meta.ReportingPeriod,
	})
	if err != nil {
		return nil, err
	}
	if err := m.pub.Publish(ctx, ev); err != nil {
		return nil, eris.Wrap(err, "datapoint: publish qa request")
	}
	return meta, nil
}

// Store validates and persists one data point and publishes its upload.
// Bypassed points start accepted and become the active point of their
// dimension, since the newest accepted point is the one shown.
func (m *Manager) Store(ctx context.Context, req StoreRequest) (*model.DataPointMeta, error) {
	dp, err := m.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := m.store.InsertDataPoint(ctx, dp); err != nil {
		return nil, err
	}
	if err := m.Announce(ctx, dp, req); err != nil {
		return nil, err
	}

	if req.BypassQa {
		if _, err := m.UpdateCurrentlyActiveDataPoint(ctx, dp.Dimension(), dp.DataPointID); err != nil {
			return nil, err
		}
		dp.CurrentlyActive = true
	}
	return &dp.DataPointMeta, nil
}

// Prepare validates one data point and builds the record to persist
// without writing it.
func (m *Manager) Prepare(ctx context.Context, req StoreRequest) (*model.DataPoint, error) {
	p := req.Point
	if !model.ValidReportingPeriod(p.ReportingPeriod) {
		return nil, apperr.Validation("Invalid reporting period",
			"the reporting period %q must be a year or a quarter like 2023-Q2", p.ReportingPeriod)
	}
	if m.companies != nil {
		ok, err := m.companies.Exists(ctx, p.CompanyID)
		if err != nil {
			return nil, eris.Wrap(err, "datapoint: check company")
		}
		if !ok {
			return nil, apperr.NotFound("Company not found", "no company with id %s exists", p.CompanyID)
		}
	}
	if !req.Checked {
		if err := m.checker.Check(ctx, p.DataPointType, p.DataPoint, req.CorrelationID); err != nil {
			return nil, err
		}
	}

	status := model.QaPending
	if req.BypassQa {
		status = model.QaAccepted
	}
	return &model.DataPoint{
		DataPointMeta: model.DataPointMeta{
			DataPointID:     uuid.New().String(),
			DataPointType:   p.DataPointType,
			CompanyID:       p.CompanyID,
			ReportingPeriod: p.ReportingPeriod,
			UploaderUserID:  req.UploaderID,
			UploadTime:      m.now().UTC(),
			QaStatus:        status,
		},
		Content: p.DataPoint,
	}, nil
}

// Announce publishes the upload of a persisted data point.
func (m *Manager) Announce(ctx context.Context, dp *model.DataPoint, req StoreRequest) error {
	comment := ""
	if req.BypassQa {
		comment = BypassComment
	}
	log := zap.L().With(
		zap.String("data_id", dp.DataPointID),
		zap.String("data_point_type", dp.DataPointType),
		zap.String("correlation_id", req.CorrelationID),
	)
	log.Info("stored data point", zap.String("qa_status", string(dp.QaStatus)))

	ev, err := events.New(events.DataPointUploaded, req.CorrelationID, events.DataPointUploadedPayload{
		DataPointID:     dp.DataPointID,
		DataPointType:   dp.DataPointType,
		CompanyID:       dp.CompanyID,
		ReportingPeriod: dp.ReportingPeriod,
		DatasetID:       req.DatasetID,
		BypassQa:        req.BypassQa,
		InitialQa:       dp.QaStatus,
		InitialComment:  comment,
	})
	if err != nil {
		return err
	}
	return eris.Wrap(m.pub.Publish(ctx, ev), "datapoint: publish upload")
}

// RetrieveDataPoint returns a data point. Points that are not accepted are
// only shown to viewers with rights on the company.
func (m *Manager) RetrieveDataPoint(ctx context.Context, dataID string, viewer *auth.Principal) (*model.DataPoint, error) {
	dp, err := m.store.GetDataPoint(ctx, dataID)
	if err != nil {
		return nil, err
	}
	if dp == nil {
		return nil, apperr.NotFound("Data point not found", "no data point with id %s exists", dataID)
	}
	if err := checkView(&dp.DataPointMeta, viewer); err != nil {
		return nil, err
	}
	return dp, nil
}

// RetrieveDataPoints fetches many data points in one store call. Unknown
// ids fail the whole call.
func (m *Manager) RetrieveDataPoints(ctx context.Context, dataIDs []string, viewer *auth.Principal) (map[string]*model.DataPoint, error) {
	got, err := m.store.GetDataPoints(ctx, dataIDs)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range dataIDs {
		dp, ok := got[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if err := checkView(&dp.DataPointMeta, viewer); err != nil {
			return nil, err
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apperr.NotFound("Data points not found", "no data points exist for ids %s", strings.Join(missing, ", "))
	}
	return got, nil
}

func checkView(meta *model.DataPointMeta, viewer *auth.Principal) error {
	if meta.QaStatus == model.QaAccepted || viewer.CanViewUnaccepted(meta.CompanyID) {
		return nil
	}
	return apperr.AccessDenied("Access denied",
		"the data point %s has QA status %s and you are not allowed to view it", meta.DataPointID, meta.QaStatus)
}

// UpdateCurrentlyActiveDataPoint points dim at newActiveID. An empty id
// deactivates the current point; repeating a call changes nothing.
func (m *Manager) UpdateCurrentlyActiveDataPoint(ctx context.Context, dim model.DataPointDimension, newActiveID string) (store.Activation, error) {
	act, err := m.store.UpdateCurrentlyActive(ctx, dim, newActiveID)
	if err != nil {
		return store.Activation{}, err
	}
	if !act.NoOp() {
		zap.L().Info("updated currently active data point",
			zap.String("dimension", dim.String()),
			zap.String("deactivated", act.Deactivate),
			zap.String("activated", act.Activate),
		)
	}
	return act, nil
}

// HandleQaStatusChanged applies a QA verdict on a data point and the active
// point selected with it. Dataset level verdicts are ignored. Replays are
// harmless since both writes compare with the stored state first.
func (m *Manager) HandleQaStatusChanged(ctx context.Context, ev events.Event) error {
	p, err := events.Decode[events.QaStatusChangedPayload](ev)
	if err != nil {
		return err
	}
	if p.DataPoint == nil {
		return nil
	}
	if !p.UpdatedQaStatus.Valid() {
		return eris.Wrapf(events.ErrMalformed, "unknown qa status %q", p.UpdatedQaStatus)
	}
	meta, err := m.store.GetDataPointMeta(ctx, p.DataID)
	if err != nil {
		return err
	}
	if meta == nil {
		return eris.Wrapf(events.ErrMalformed, "unknown data point %s", p.DataID)
	}

	changed, err := m.store.SetDataPointQaStatus(ctx, p.DataID, p.UpdatedQaStatus)
	if err != nil {
		return err
	}
	if changed {
		zap.L().Info("updated qa status",
			zap.String("data_id", p.DataID),
			zap.String("qa_status", string(p.UpdatedQaStatus)),
			zap.String("correlation_id", ev.CorrelationID),
		)
	}
	_, err = m.UpdateCurrentlyActiveDataPoint(ctx, meta.Dimension(), p.CurrentlyActiveDataID)
	return err
}
