package sourcing

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/model"
)

// memRepo is an in-memory Repository. Transactions are serialized and
// rolled back by restoring a snapshot.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	requests  map[string]model.Request
	reqRevs   map[string][]model.RequestRevision
	sourcings map[string]model.DataSourcing
	srcRevs   map[string][]model.DataSourcingRevision
	published []events.Event
	locked    []model.BasicDataDimension

	beforeInsert      func()
	failUpdateSourcing error
}

func newMemRepo() *memRepo {
	return &memRepo{
		requests:  map[string]model.Request{},
		reqRevs:   map[string][]model.RequestRevision{},
		sourcings: map[string]model.DataSourcing{},
		srcRevs:   map[string][]model.DataSourcingRevision{},
	}
}

type memSnapshot struct {
	requests  map[string]model.Request
	reqRevs   map[string][]model.RequestRevision
	sourcings map[string]model.DataSourcing
	srcRevs   map[string][]model.DataSourcingRevision
	published []events.Event
}

func (r *memRepo) snapshot() memSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memSnapshot{
		requests:  maps.Clone(r.requests),
		reqRevs:   maps.Clone(r.reqRevs),
		sourcings: maps.Clone(r.sourcings),
		srcRevs:   maps.Clone(r.srcRevs),
		published: slices.Clone(r.published),
	}
}

func (r *memRepo) restore(s memSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests, r.reqRevs, r.sourcings, r.srcRevs, r.published = s.requests, s.reqRevs, s.sourcings, s.srcRevs, s.published
}

func (r *memRepo) InTx(_ context.Context, fn func(tx Tx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	snap := r.snapshot()
	if err := fn(r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memRepo) Migrate(context.Context) error { return nil }

func (r *memRepo) Publish(_ context.Context, evs ...events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, evs...)
	return nil
}

func (r *memRepo) events(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.published {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memRepo) GetRequest(_ context.Context, id string, _ bool) (*model.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *memRepo) request(id string) model.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[id]
}

func (r *memRepo) findActiveLocked(userID string, dim model.BasicDataDimension) *model.Request {
	for _, req := range r.requests {
		if req.UserID == userID && req.Dimension() == dim && !req.State.Final() {
			return &req
		}
	}
	return nil
}

func (r *memRepo) FindActiveRequest(_ context.Context, userID string, dim model.BasicDataDimension) (*model.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findActiveLocked(userID, dim), nil
}

func (r *memRepo) ExistingRequestDimensions(_ context.Context, userID string, dims []model.BasicDataDimension) ([]model.BasicDataDimension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BasicDataDimension
	for _, d := range dims {
		if r.findActiveLocked(userID, d) != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRepo) CountRequestsSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.UserID == userID && !req.CreationTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) InsertRequest(_ context.Context, req *model.Request) error {
	if r.beforeInsert != nil {
		hook := r.beforeInsert
		r.beforeInsert = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findActiveLocked(req.UserID, req.Dimension()) != nil {
		return ErrDuplicateRequest
	}
	r.requests[req.ID] = *req
	r.appendRequestRevisionLocked(req)
	return nil
}

func (r *memRepo) appendRequestRevisionLocked(req *model.Request) {
	r.reqRevs[req.ID] = append(slices.Clone(r.reqRevs[req.ID]), model.RequestRevision{
		RequestID:      req.ID,
		State:          req.State,
		Priority:       req.Priority,
		AdminComment:   req.AdminComment,
		DataSourcingID: req.DataSourcingID,
		ModifiedAt:     req.LastModifiedDate,
	})
}

func (r *memRepo) UpdateRequest(_ context.Context, req *model.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.requests[req.ID]
	if !ok {
		return apperr.NotFound("Request not found", "no request with id %s exists", req.ID)
	}
	cur.State, cur.Priority, cur.LastModifiedDate = req.State, req.Priority, req.LastModifiedDate
	cur.AdminComment, cur.DataSourcingID = req.AdminComment, req.DataSourcingID
	r.requests[req.ID] = cur
	r.appendRequestRevisionLocked(&cur)
	return nil
}

func (r *memRepo) ListRequests(_ context.Context, f RequestFilter) ([]StoredRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StoredRequest
	for _, req := range r.requests {
		if f.UserID != "" && req.UserID != f.UserID {
			continue
		}
		if len(f.States) > 0 && !slices.Contains(f.States, req.State) {
			continue
		}
		var state *model.DataSourcingState
		if s, ok := r.sourcings[req.DataSourcingID]; ok {
			st := s.State
			state = &st
		}
		out = append(out, newStoredRequest(req, state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.After(out[j].CreationTime) })
	return out, nil
}

func (r *memRepo) RequestRevisions(_ context.Context, id string) ([]model.RequestRevision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reqRevs[id]), nil
}

func (r *memRepo) LockDimension(_ context.Context, dim model.BasicDataDimension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = append(r.locked, dim)
	return nil
}

func (r *memRepo) withRequestsLocked(s model.DataSourcing) *model.DataSourcing {
	var reqs []model.Request
	for _, req := range r.requests {
		if req.DataSourcingID == s.ID {
			reqs = append(reqs, req)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreationTime.Before(reqs[j].CreationTime) })
	s.AssociatedRequestIDs = nil
	for _, req := range reqs {
		s.AssociatedRequestIDs = append(s.AssociatedRequestIDs, req.ID)
	}
	return &s
}

func (r *memRepo) GetSourcing(_ context.Context, id string, _ bool) (*model.DataSourcing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sourcings[id]
	if !ok {
		return nil, nil
	}
	return r.withRequestsLocked(s), nil
}

func (r *memRepo) FindSourcing(_ context.Context, dim model.BasicDataDimension) (*model.DataSourcing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sourcings {
		if s.Dimension() == dim {
			return r.withRequestsLocked(s), nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindSourcings(_ context.Context, dims []model.BasicDataDimension) ([]model.DataSourcing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DataSourcing
	for _, s := range r.sourcings {
		if slices.Contains(dims, s.Dimension()) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) appendSourcingRevisionLocked(s *model.DataSourcing) {
	r.srcRevs[s.ID] = append(slices.Clone(r.srcRevs[s.ID]), model.DataSourcingRevision{
		DataSourcingID: s.ID,
		State:          s.State,
		AdminComment:   s.AdminComment,
		ModifiedAt:     s.LastModifiedDate,
	})
}

func (r *memRepo) InsertSourcing(_ context.Context, s *model.DataSourcing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.sourcings {
		if cur.Dimension() == s.Dimension() {
			return errors.New("duplicate data sourcing dimension")
		}
	}
	r.sourcings[s.ID] = *s
	r.appendSourcingRevisionLocked(s)
	return nil
}

func (r *memRepo) UpdateSourcing(_ context.Context, s *model.DataSourcing) error {
	if r.failUpdateSourcing != nil {
		return r.failUpdateSourcing
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sourcings[s.ID]; !ok {
		return apperr.NotFound("Data sourcing not found", "no data sourcing with id %s exists", s.ID)
	}
	r.sourcings[s.ID] = *s
	r.appendSourcingRevisionLocked(s)
	return nil
}

func (r *memRepo) sourcing(id string) model.DataSourcing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.withRequestsLocked(r.sourcings[id])
}

func (r *memRepo) SourcingRevisions(_ context.Context, id string) ([]model.DataSourcingRevision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.srcRevs[id]), nil
}

// stubCompanies resolves identifiers from a fixed table.
type stubCompanies map[string]string

func (c stubCompanies) ValidateIdentifier(_ context.Context, identifier string) (string, error) {
	if identifier == "ambiguous" {
		return "", apperr.Validation("Multiple companies found", "the identifier %s matches multiple companies", identifier)
	}
	id, ok := c[identifier]
	if !ok {
		return "", apperr.NotFound("Company not found", "no company matches the identifier %s", identifier)
	}
	return id, nil
}
