package sourcing

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/model"
)

// DefaultSourcingPriority is the priority of newly created work items.
// Lower values are worked on first.
const DefaultSourcingPriority = 10

const dateLayout = "2006-01-02"

// SourcingManager coordinates sourcing work items.
type SourcingManager struct {
	repo Repository
	now  func() time.Time
}

// NewSourcingManager creates a SourcingManager.
func NewSourcingManager(repo Repository, now func() time.Time) *SourcingManager {
	if now == nil {
		now = time.Now
	}
	return &SourcingManager{repo: repo, now: now}
}

// UseExistingOrCreateAndAddRequest attaches req to the work item of its
// dimension inside tx. A missing item is created; a concluded one is
// reopened. The caller persists req.
func (m *SourcingManager) UseExistingOrCreateAndAddRequest(ctx context.Context, tx Tx, req *model.Request) (*model.DataSourcing, error) {
	dim := req.Dimension()
	if err := tx.LockDimension(ctx, dim); err != nil {
		return nil, err
	}
	s, err := tx.FindSourcing(ctx, dim)
	if err != nil {
		return nil, err
	}
	now := req.LastModifiedDate
	if now.IsZero() {
		now = m.now().UTC()
	}

	switch {
	case s == nil:
		s = &model.DataSourcing{
			ID:               uuid.New().String(),
			CompanyID:        dim.CompanyID,
			DataType:         dim.DataType,
			ReportingPeriod:  dim.ReportingPeriod,
			State:            model.SourcingInitialized,
			Priority:         DefaultSourcingPriority,
			LastModifiedDate: now,
		}
		if err := tx.InsertSourcing(ctx, s); err != nil {
			return nil, err
		}
		zap.L().Info("created data sourcing",
			zap.String("data_sourcing_id", s.ID),
			zap.String("dimension", dim.String()),
		)
	case s.State.Terminal():
		zap.L().Info("reopening data sourcing",
			zap.String("data_sourcing_id", s.ID),
			zap.String("previous_state", string(s.State)),
		)
		s.State = model.SourcingInitialized
		s.LastModifiedDate = now
		if err := tx.UpdateSourcing(ctx, s); err != nil {
			return nil, err
		}
	}

	req.DataSourcingID = s.ID
	if !slices.Contains(s.AssociatedRequestIDs, req.ID) {
		s.AssociatedRequestIDs = append(s.AssociatedRequestIDs, req.ID)
	}
	return s, nil
}

// Patch holds the work item fields to change. Nil fields are kept.
type Patch struct {
	State                             *model.DataSourcingState `json:"state,omitempty"`
	DocumentIDs                       []string                 `json:"documentIds,omitempty"`
	ExpectedPublicationDates          []string                 `json:"expectedPublicationDatesOfDocuments,omitempty"`
	DateOfNextDocumentSourcingAttempt *string                  `json:"dateOfNextDocumentSourcingAttempt,omitempty"`
	DocumentCollector                 *string                  `json:"documentCollector,omitempty"`
	DataExtractor                     *string                  `json:"dataExtractor,omitempty"`
	AdminComment                      *string                  `json:"adminComment,omitempty"`
	Priority                          *int                     `json:"priority,omitempty"`
}

func (p Patch) validate() error {
	if p.State != nil && !p.State.Valid() {
		return apperr.Validation("Invalid state", "%q is not a data sourcing state", *p.State)
	}
	dates := slices.Clone(p.ExpectedPublicationDates)
	if p.DateOfNextDocumentSourcingAttempt != nil && *p.DateOfNextDocumentSourcingAttempt != "" {
		dates = append(dates, *p.DateOfNextDocumentSourcingAttempt)
	}
	for _, d := range dates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return apperr.Validation("Invalid date", "%q is not a date of the form YYYY-MM-DD", d)
		}
	}
	if p.Priority != nil && *p.Priority < 0 {
		return apperr.Validation("Invalid priority", "the priority must not be negative, got %d", *p.Priority)
	}
	return nil
}

// PatchState changes the state of a work item. See PatchSourcing.
func (m *SourcingManager) PatchState(ctx context.Context, id string, state model.DataSourcingState, correlationID string) (*model.DataSourcing, error) {
	return m.PatchSourcing(ctx, id, Patch{State: &state}, correlationID)
}

// PatchSourcing applies p in one transaction. Moving into Done or
// NonSourceable marks every associated request that is not withdrawn as
// Processed. Entering NonSourceable publishes a NonSourceable event. A
// patch that changes nothing writes nothing.
func (m *SourcingManager) PatchSourcing(ctx context.Context, id string, p Patch, correlationID string) (*model.DataSourcing, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var out *model.DataSourcing
	err := m.repo.InTx(ctx, func(tx Tx) error {
		s, err := tx.GetSourcing(ctx, id, false)
		if err != nil {
			return err
		}
		if s == nil {
			return apperr.NotFound("Data sourcing not found", "no data sourcing with id %s exists", id)
		}
		// Request attachment holds the dimension lock while it reads and
		// reopens the item, so patches take it too and then reload.
		if err := tx.LockDimension(ctx, s.Dimension()); err != nil {
			return err
		}
		if s, err = tx.GetSourcing(ctx, id, true); err != nil {
			return err
		}
		if s == nil {
			return apperr.NotFound("Data sourcing not found", "no data sourcing with id %s exists", id)
		}
		out = s
		return m.apply(ctx, tx, s, p, correlationID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *SourcingManager) apply(ctx context.Context, tx Tx, s *model.DataSourcing, p Patch, correlationID string) error {
	now := m.now().UTC()
	changed := false

	if p.State != nil && *p.State != s.State {
		next := *p.State
		if next.Terminal() {
			if err := m.cascade(ctx, tx, s, now); err != nil {
				return err
			}
		}
		if next == model.SourcingNonSourceable {
			comment := s.AdminComment
			if p.AdminComment != nil {
				comment = *p.AdminComment
			}
			ev, err := events.New(events.NonSourceable, correlationID, events.NonSourceablePayload{
				DataSourcingID:  s.ID,
				CompanyID:       s.CompanyID,
				DataType:        s.DataType,
				ReportingPeriod: s.ReportingPeriod,
				Comment:         comment,
			})
			if err != nil {
				return err
			}
			if err := tx.Publish(ctx, ev); err != nil {
				return eris.Wrap(err, "sourcing: publish non-sourceable")
			}
		}
		zap.L().Info("patching data sourcing state",
			zap.String("data_sourcing_id", s.ID),
			zap.String("from", string(s.State)),
			zap.String("to", string(next)),
			zap.String("correlation_id", correlationID),
		)
		s.State = next
		changed = true
	}
	if p.DocumentIDs != nil && !slices.Equal(p.DocumentIDs, s.DocumentIDs) {
		s.DocumentIDs = slices.Clone(p.DocumentIDs)
		changed = true
	}
	if p.ExpectedPublicationDates != nil && !slices.Equal(p.ExpectedPublicationDates, s.ExpectedPublicationDates) {
		s.ExpectedPublicationDates = slices.Clone(p.ExpectedPublicationDates)
		changed = true
	}
	for _, f := range []struct {
		patch *string
		field *string
	}{
		{p.DateOfNextDocumentSourcingAttempt, &s.DateOfNextDocumentSourcingAttempt},
		{p.DocumentCollector, &s.DocumentCollector},
		{p.DataExtractor, &s.DataExtractor},
		{p.AdminComment, &s.AdminComment},
	} {
		if f.patch != nil && *f.patch != *f.field {
			*f.field = *f.patch
			changed = true
		}
	}
	if p.Priority != nil && *p.Priority != s.Priority {
		s.Priority = *p.Priority
		changed = true
	}

	if !changed {
		return nil
	}
	s.LastModifiedDate = now
	return tx.UpdateSourcing(ctx, s)
}

// cascade marks the open requests of s as Processed.
func (m *SourcingManager) cascade(ctx context.Context, tx Tx, s *model.DataSourcing, now time.Time) error {
	for _, id := range s.AssociatedRequestIDs {
		req, err := tx.GetRequest(ctx, id, true)
		if err != nil {
			return err
		}
		if req == nil || req.State == model.RequestWithdrawn || req.State == model.RequestProcessed {
			continue
		}
		req.State = model.RequestProcessed
		req.LastModifiedDate = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// GetSourcing returns a work item with its associated requests.
func (m *SourcingManager) GetSourcing(ctx context.Context, id string) (*model.DataSourcing, error) {
	s, err := m.repo.GetSourcing(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.NotFound("Data sourcing not found", "no data sourcing with id %s exists", id)
	}
	return s, nil
}

// SourcingHistory returns every revision of a work item, oldest first.
func (m *SourcingManager) SourcingHistory(ctx context.Context, id string) ([]model.DataSourcingRevision, error) {
	revs, err := m.repo.SourcingRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, apperr.NotFound("Data sourcing not found", "no data sourcing with id %s exists", id)
	}
	return revs, nil
}

// DimensionPriority is the priority of the work item of one dimension.
type DimensionPriority struct {
	model.BasicDataDimension
	Priority int `json:"priority"`
}

// PrioritiesByDimensions returns the priority of each dimension that has a
// work item, in the order of dims.
func (m *SourcingManager) PrioritiesByDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]DimensionPriority, error) {
	items, err := m.repo.FindSourcings(ctx, dims)
	if err != nil {
		return nil, err
	}
	byDim := make(map[model.BasicDataDimension]int, len(items))
	for _, s := range items {
		byDim[s.Dimension()] = s.Priority
	}
	out := make([]DimensionPriority, 0, len(items))
	seen := map[model.BasicDataDimension]bool{}
	for _, d := range dims {
		p, ok := byDim[d]
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, DimensionPriority{BasicDataDimension: d, Priority: p})
	}
	return out, nil
}

// HandleQaStatusChanged moves the work item of a reviewed dataset: an
// accepted dataset completes it, a dataset pending review puts it into
// verification unless it is already done.
func (m *SourcingManager) HandleQaStatusChanged(ctx context.Context, ev events.Event) error {
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
	if p.UpdatedQaStatus == model.QaRejected {
		return nil
	}

	return m.repo.InTx(ctx, func(tx Tx) error {
		if err := tx.LockDimension(ctx, *p.Dataset); err != nil {
			return err
		}
		s, err := tx.FindSourcing(ctx, *p.Dataset)
		if err != nil || s == nil {
			return err
		}
		target := model.SourcingDone
		if p.UpdatedQaStatus == model.QaPending {
			if s.State == model.SourcingDone {
				return nil
			}
			target = model.SourcingDataVerification
		}
		return m.apply(ctx, tx, s, Patch{State: &target}, ev.CorrelationID)
	})
}
