package sourcing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/model"
	"github.com/sells-group/dataland/internal/spec"
)

// Companies resolves user supplied company identifiers.
type Companies interface {
	// ValidateIdentifier returns the company id for an id, LEI, ISIN or
	// other registered identifier. Unknown identifiers fail with NotFound,
	// ambiguous ones with Validation.
	ValidateIdentifier(ctx context.Context, identifier string) (string, error)
}

// Frameworks tells which data types exist.
type Frameworks interface {
	Template(ctx context.Context, frameworkID string) (*spec.Template, error)
}

// ActiveData reports which dimensions already hold answered data.
type ActiveData interface {
	ExistingDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]model.BasicDataDimension, error)
}

// QuotaConfig limits requests of non-premium users per local day.
type QuotaConfig struct {
	MaxRequestsForUser int            `yaml:"max_requests_for_user" mapstructure:"max_requests_for_user"`
	Timezone           string         `yaml:"timezone" mapstructure:"timezone"`
	Location           *time.Location `yaml:"-" mapstructure:"-"`
}

// RequestManager coordinates the request lifecycle.
type RequestManager struct {
	repo       Repository
	sourcings  *SourcingManager
	companies  Companies
	frameworks Frameworks
	active     ActiveData
	quota      QuotaConfig
	workers    int
	now        func() time.Time
}

// RequestOption configures a RequestManager.
type RequestOption func(*RequestManager)

// WithFrameworks rejects requests for unknown data types.
func WithFrameworks(f Frameworks) RequestOption {
	return func(m *RequestManager) { m.frameworks = f }
}

// WithActiveData lets bulk requests skip dimensions that already hold data.
func WithActiveData(a ActiveData) RequestOption {
	return func(m *RequestManager) { m.active = a }
}

// WithQuota sets the daily request quota.
func WithQuota(q QuotaConfig) RequestOption {
	return func(m *RequestManager) { m.quota = q }
}

// WithRequestClock overrides the time source.
func WithRequestClock(now func() time.Time) RequestOption {
	return func(m *RequestManager) { m.now = now }
}

// NewRequestManager creates a RequestManager. The quota defaults to ten
// requests per day in Europe/Berlin.
func NewRequestManager(repo Repository, sourcings *SourcingManager, companies Companies, opts ...RequestOption) *RequestManager {
	m := &RequestManager{
		repo:      repo,
		sourcings: sourcings,
		companies: companies,
		quota:     QuotaConfig{MaxRequestsForUser: 10, Timezone: "Europe/Berlin"},
		workers:   8,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.quota.MaxRequestsForUser <= 0 {
		m.quota.MaxRequestsForUser = 10
	}
	if m.quota.Location == nil {
		tz := m.quota.Timezone
		if tz == "" {
			tz = "Europe/Berlin"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			zap.L().Warn("unknown quota timezone, using UTC", zap.String("timezone", tz), zap.Error(err))
			loc = time.UTC
		}
		m.quota.Location = loc
	}
	return m
}

// NewRequest is a user's ask for one dimension.
type NewRequest struct {
	CompanyIdentifier string `json:"companyIdentifier" validate:"required"`
	DataType          string `json:"dataType" validate:"required"`
	ReportingPeriod   string `json:"reportingPeriod" validate:"required"`
	MemberComment     string `json:"memberComment,omitempty" validate:"max=1000"`
}

// CreateRequest stores a request for the principal and returns its id.
// When the user already has an Open or Processing request for the same
// dimension that request's id is returned with created false. Non-premium
// users are limited per local day; the limit is checked before the insert
// and may be exceeded by concurrent submissions.
func (m *RequestManager) CreateRequest(ctx context.Context, in NewRequest, user *auth.Principal) (string, bool, error) {
	if user.Anonymous() {
		return "", false, apperr.AccessDenied("Access denied", "creating a request requires a signed in user")
	}
	companyID, err := m.resolveDimension(ctx, in.CompanyIdentifier, in.DataType, in.ReportingPeriod)
	if err != nil {
		return "", false, err
	}
	dim := model.BasicDataDimension{CompanyID: companyID, DataType: in.DataType, ReportingPeriod: in.ReportingPeriod}
	log := zap.L().With(zap.String("user_id", user.UserID), zap.String("dimension", dim.String()))

	existing, err := m.repo.FindActiveRequest(ctx, user.UserID, dim)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		log.Info("request already exists", zap.String("request_id", existing.ID), zap.String("state", string(existing.State)))
		return existing.ID, false, nil
	}

	if !user.IsPremium() {
		if err := m.checkQuota(ctx, user.UserID); err != nil {
			return "", false, err
		}
	}

	req := m.newRequest(user, dim, in.MemberComment)
	if err := m.repo.InsertRequest(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			existing, ferr := m.repo.FindActiveRequest(ctx, user.UserID, dim)
			if ferr != nil {
				return "", false, ferr
			}
			if existing != nil {
				return existing.ID, false, nil
			}
		}
		return "", false, err
	}
	log.Info("stored request", zap.String("request_id", req.ID), zap.String("priority", string(req.Priority)))
	return req.ID, true, nil
}

func (m *RequestManager) resolveDimension(ctx context.Context, identifier, dataType, period string) (string, error) {
	if strings.TrimSpace(identifier) == "" || dataType == "" {
		return "", apperr.Validation("Invalid input", "a company identifier and a data type are required")
	}
	if !model.ValidReportingPeriod(period) {
		return "", apperr.Validation("Invalid reporting period",
			"the reporting period %q must be a year or a quarter like 2023-Q2", period)
	}
	if m.frameworks != nil {
		if _, err := m.frameworks.Template(ctx, dataType); err != nil {
			return "", err
		}
	}
	return m.companies.ValidateIdentifier(ctx, strings.TrimSpace(identifier))
}

func (m *RequestManager) newRequest(user *auth.Principal, dim model.BasicDataDimension, comment string) *model.Request {
	now := m.now().UTC()
	priority := model.PriorityLow
	if user.IsPremium() {
		priority = model.PriorityHigh
	}
	return &model.Request{
		ID:               uuid.New().String(),
		UserID:           user.UserID,
		BilledCompanyID:  user.CompanyID,
		CompanyID:        dim.CompanyID,
		DataType:         dim.DataType,
		ReportingPeriod:  dim.ReportingPeriod,
		State:            model.RequestOpen,
		Priority:         priority,
		CreationTime:     now,
		LastModifiedDate: now,
		MemberComment:    comment,
	}
}

// startOfDay is local midnight of t in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, mo, d := local.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}

func (m *RequestManager) checkQuota(ctx context.Context, userID string) error {
	since := startOfDay(m.now(), m.quota.Location)
	n, err := m.repo.CountRequestsSince(ctx, userID, since.UTC())
	if err != nil {
		return err
	}
	if n >= m.quota.MaxRequestsForUser {
		return apperr.QuotaExceeded("Quota exceeded",
			"you have reached the maximum of %d requests per day; premium users are not limited", m.quota.MaxRequestsForUser)
	}
	return nil
}

// GetRequest returns a request with its displayed state. Users other than
// the requester need the admin role.
func (m *RequestManager) GetRequest(ctx context.Context, id string, viewer *auth.Principal) (*StoredRequest, error) {
	req, err := m.repo.GetRequest(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if req == nil || (req.UserID != viewer.UserID && !viewer.IsAdmin()) {
		return nil, apperr.NotFound("Request not found", "no request with id %s exists", id)
	}
	var state *model.DataSourcingState
	if req.DataSourcingID != "" {
		s, err := m.repo.GetSourcing(ctx, req.DataSourcingID, false)
		if err != nil {
			return nil, err
		}
		if s != nil {
			state = &s.State
		}
	}
	out := newStoredRequest(*req, state)
	return &out, nil
}

// ListUserRequests returns the requests of one user, newest first.
func (m *RequestManager) ListUserRequests(ctx context.Context, userID string, limit, offset int) ([]StoredRequest, error) {
	return m.repo.ListRequests(ctx, RequestFilter{UserID: userID, Limit: limit, Offset: offset})
}

// ListRequests returns requests matching f for administrators.
func (m *RequestManager) ListRequests(ctx context.Context, f RequestFilter) ([]StoredRequest, error) {
	return m.repo.ListRequests(ctx, f)
}

// PatchRequestState changes the state of a request. Entering Processing
// attaches the request to the work item of its dimension and publishes a
// RequestSetToProcessing event for billing, all in one transaction.
func (m *RequestManager) PatchRequestState(ctx context.Context, id string, state model.RequestState, adminComment *string, correlationID string) (*model.Request, error) {
	if !state.Valid() {
		return nil, apperr.Validation("Invalid state", "%q is not a request state", state)
	}
	return m.patch(ctx, id, func(tx Tx, req *model.Request) error {
		old := req.State
		req.State = state
		if adminComment != nil {
			req.AdminComment = *adminComment
		}
		if state != model.RequestProcessing {
			return nil
		}
		s, err := m.sourcings.UseExistingOrCreateAndAddRequest(ctx, tx, req)
		if err != nil {
			return err
		}
		if old == model.RequestProcessing {
			return nil
		}
		ev, err := events.New(events.RequestSetToProcessing, correlationID, events.RequestSetToProcessingPayload{
			RequestID:          req.ID,
			DataSourcingID:     s.ID,
			BilledCompanyID:    req.BilledCompanyID,
			UserID:             req.UserID,
			RequestedCompanyID: req.CompanyID,
			ReportingPeriod:    req.ReportingPeriod,
			DataType:           req.DataType,
		})
		if err != nil {
			return err
		}
		return eris.Wrap(tx.Publish(ctx, ev), "sourcing: publish request processing")
	})
}

// PatchRequestPriority changes the priority of a request.
func (m *RequestManager) PatchRequestPriority(ctx context.Context, id string, priority model.RequestPriority, adminComment *string) (*model.Request, error) {
	if !priority.Valid() {
		return nil, apperr.Validation("Invalid priority", "%q is not a request priority", priority)
	}
	return m.patch(ctx, id, func(_ Tx, req *model.Request) error {
		req.Priority = priority
		if adminComment != nil {
			req.AdminComment = *adminComment
		}
		return nil
	})
}

// WithdrawRequest lets a user take back an Open request of their own.
func (m *RequestManager) WithdrawRequest(ctx context.Context, id string, user *auth.Principal) (*model.Request, error) {
	return m.patch(ctx, id, func(_ Tx, req *model.Request) error {
		if req.UserID != user.UserID {
			return apperr.NotFound("Request not found", "no request with id %s exists", id)
		}
		if req.State != model.RequestOpen {
			return apperr.Conflict("Request cannot be withdrawn",
				"only Open requests can be withdrawn, request %s is %s", id, req.State)
		}
		req.State = model.RequestWithdrawn
		return nil
	})
}

// patch loads a request for update, applies fn and stores the result with
// a new revision.
func (m *RequestManager) patch(ctx context.Context, id string, fn func(tx Tx, req *model.Request) error) (*model.Request, error) {
	var out *model.Request
	err := m.repo.InTx(ctx, func(tx Tx) error {
		req, err := tx.GetRequest(ctx, id, true)
		if err != nil {
			return err
		}
		if req == nil {
			return apperr.NotFound("Request not found", "no request with id %s exists", id)
		}
		before := *req
		req.LastModifiedDate = m.now().UTC()
		if err := fn(tx, req); err != nil {
			return err
		}
		if req.State == before.State && req.Priority == before.Priority &&
			req.AdminComment == before.AdminComment && req.DataSourcingID == before.DataSourcingID {
			out = &before
			return nil
		}
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		zap.L().Info("patched request",
			zap.String("request_id", req.ID),
			zap.String("state", string(req.State)),
			zap.String("priority", string(req.Priority)),
		)
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
