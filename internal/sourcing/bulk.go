package sourcing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/model"
)

// BulkRequest asks for every combination of its lists.
type BulkRequest struct {
	CompanyIdentifiers []string `json:"companyIdentifiers" validate:"required,min=1"`
	DataTypes          []string `json:"dataTypes" validate:"required,min=1"`
	ReportingPeriods   []string `json:"reportingPeriods" validate:"required,min=1"`
	MemberComment      string   `json:"memberComment,omitempty" validate:"max=1000"`
}

// BulkResult sorts every requested dimension into one outcome. Invalid
// dimensions keep the identifier the user sent.
type BulkResult struct {
	Accepted         []model.BasicDataDimension `json:"acceptedDataRequests"`
	Invalid          []model.BasicDataDimension `json:"invalidDataRequests"`
	ExistingRequests []model.BasicDataDimension `json:"existingDataRequests"`
	ExistingDatasets []model.BasicDataDimension `json:"existingDataSets"`
}

// BulkCreate creates one request per combination of companies, data types
// and reporting periods. Combinations with an unknown company, data type
// or malformed period are reported invalid; combinations the user already
// requested or that already hold data are skipped. The quota does not
// apply.
func (m *RequestManager) BulkCreate(ctx context.Context, in BulkRequest, user *auth.Principal) (*BulkResult, error) {
	if user.Anonymous() {
		return nil, apperr.AccessDenied("Access denied", "creating requests requires a signed in user")
	}
	if len(in.CompanyIdentifiers) == 0 || len(in.DataTypes) == 0 || len(in.ReportingPeriods) == 0 {
		return nil, apperr.Validation("Invalid input", "No empty lists are allowed as input for bulk data request.")
	}

	res := &BulkResult{}
	valid, invalid, err := m.validateBulk(ctx, in)
	if err != nil {
		return nil, err
	}
	res.Invalid = invalid

	existing, err := m.repo.ExistingRequestDimensions(ctx, user.UserID, valid)
	if err != nil {
		return nil, err
	}
	res.ExistingRequests = existing
	remaining := without(valid, existing)

	if m.active != nil && len(remaining) > 0 {
		withData, err := m.active.ExistingDimensions(ctx, remaining)
		if err != nil {
			return nil, err
		}
		res.ExistingDatasets = withData
		remaining = without(remaining, withData)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, dim := range remaining {
		g.Go(func() error {
			err := m.repo.InsertRequest(gctx, m.newRequest(user, dim, in.MemberComment))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrDuplicateRequest):
				res.ExistingRequests = append(res.ExistingRequests, dim)
			case err != nil:
				return err
			default:
				res.Accepted = append(res.Accepted, dim)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, list := range [][]model.BasicDataDimension{res.Accepted, res.Invalid, res.ExistingRequests, res.ExistingDatasets} {
		sortDimensions(list)
	}
	zap.L().Info("processed bulk request",
		zap.String("user_id", user.UserID),
		zap.Int("accepted", len(res.Accepted)),
		zap.Int("invalid", len(res.Invalid)),
		zap.Int("existing_requests", len(res.ExistingRequests)),
		zap.Int("existing_datasets", len(res.ExistingDatasets)),
	)
	return res, nil
}

// validateBulk expands the cartesian product and resolves each company
// identifier once.
func (m *RequestManager) validateBulk(ctx context.Context, in BulkRequest) (valid, invalid []model.BasicDataDimension, err error) {
	companies := map[string]string{}
	for _, ident := range dedupe(in.CompanyIdentifiers) {
		id, err := m.companies.ValidateIdentifier(ctx, ident)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindValidation) {
				continue
			}
			return nil, nil, err
		}
		companies[ident] = id
	}
	knownTypes := map[string]bool{}
	for _, dt := range dedupe(in.DataTypes) {
		ok := dt != ""
		if ok && m.frameworks != nil {
			if _, err := m.frameworks.Template(ctx, dt); err != nil {
				if !apperr.Is(err, apperr.KindNotFound) {
					return nil, nil, err
				}
				ok = false
			}
		}
		knownTypes[dt] = ok
	}

	seen := map[model.BasicDataDimension]bool{}
	for _, ident := range dedupe(in.CompanyIdentifiers) {
		for _, dt := range dedupe(in.DataTypes) {
			for _, period := range dedupe(in.ReportingPeriods) {
				companyID, ok := companies[ident]
				if !ok || !knownTypes[dt] || !model.ValidReportingPeriod(period) {
					invalid = append(invalid, model.BasicDataDimension{CompanyID: ident, DataType: dt, ReportingPeriod: period})
					continue
				}
				dim := model.BasicDataDimension{CompanyID: companyID, DataType: dt, ReportingPeriod: period}
				if !seen[dim] {
					seen[dim] = true
					valid = append(valid, dim)
				}
			}
		}
	}
	return valid, invalid, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func without(dims, drop []model.BasicDataDimension) []model.BasicDataDimension {
	skip := make(map[model.BasicDataDimension]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	var out []model.BasicDataDimension
	for _, d := range dims {
		if !skip[d] {
			out = append(out, d)
		}
	}
	return out
}

func sortDimensions(dims []model.BasicDataDimension) {
	sort.Slice(dims, func(i, j int) bool { return dims[i].String() < dims[j].String() })
}
