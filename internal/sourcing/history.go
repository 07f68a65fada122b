package sourcing

import (
	"context"
	"sort"
	"time"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/model"
)

// HistoryEntry is one step in the combined history of a request and its
// work item.
type HistoryEntry struct {
	ModifiedAt        time.Time                `json:"modificationDate"`
	RequestState      model.RequestState       `json:"requestState"`
	DataSourcingState *model.DataSourcingState `json:"dataSourcingState,omitempty"`
	DisplayedState    model.DisplayedState     `json:"displayedState"`
	AdminComment      string                   `json:"adminComment,omitempty"`
}

// DisplayedStateEntry is one step of the user facing history.
type DisplayedStateEntry struct {
	ModifiedAt     time.Time            `json:"modificationDate"`
	DisplayedState model.DisplayedState `json:"displayedState"`
}

type rawEntry struct {
	at           time.Time
	request      *model.RequestState
	sourcing     *model.DataSourcingState
	adminComment *string
}

// combineHistory interleaves both revision lists by time. Work item
// revisions older than the request are dropped; on equal timestamps the
// work item goes first. Missing states are carried forward.
func combineHistory(reqRevs []model.RequestRevision, srcRevs []model.DataSourcingRevision) []HistoryEntry {
	if len(reqRevs) == 0 {
		return nil
	}
	var raw []rawEntry
	start := reqRevs[0].ModifiedAt
	for _, r := range reqRevs {
		if r.ModifiedAt.Before(start) {
			start = r.ModifiedAt
		}
	}
	for _, r := range srcRevs {
		if r.ModifiedAt.Before(start) {
			continue
		}
		state := r.State
		raw = append(raw, rawEntry{at: r.ModifiedAt, sourcing: &state})
	}
	for _, r := range reqRevs {
		state, comment := r.State, r.AdminComment
		raw = append(raw, rawEntry{at: r.ModifiedAt, request: &state, adminComment: &comment})
	}
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].at.Before(raw[j].at) })

	out := make([]HistoryEntry, 0, len(raw))
	reqState := model.RequestOpen
	var srcState *model.DataSourcingState
	var comment string
	for _, e := range raw {
		if e.request != nil {
			reqState = *e.request
		}
		if e.sourcing != nil {
			srcState = e.sourcing
		}
		if e.adminComment != nil {
			comment = *e.adminComment
		}
		out = append(out, HistoryEntry{
			ModifiedAt:        e.at,
			RequestState:      reqState,
			DataSourcingState: srcState,
			DisplayedState:    model.DisplayedStateOf(reqState, srcState),
			AdminComment:      comment,
		})
	}
	return out
}

// displayedHistory drops transient combinations and repeated displayed
// states.
func displayedHistory(entries []HistoryEntry) []DisplayedStateEntry {
	var out []DisplayedStateEntry
	for _, e := range entries {
		if e.RequestState == model.RequestProcessing && e.DataSourcingState == nil {
			continue
		}
		if e.RequestState == model.RequestProcessed && e.DataSourcingState != nil &&
			*e.DataSourcingState == model.SourcingDataVerification {
			continue
		}
		if n := len(out); n > 0 && out[n-1].DisplayedState == e.DisplayedState {
			continue
		}
		out = append(out, DisplayedStateEntry{ModifiedAt: e.ModifiedAt, DisplayedState: e.DisplayedState})
	}
	return out
}

// RequestHistory returns the combined history of a request and its work
// item, oldest first.
func (m *RequestManager) RequestHistory(ctx context.Context, id string, viewer *auth.Principal) ([]HistoryEntry, error) {
	req, err := m.repo.GetRequest(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if req == nil || (req.UserID != viewer.UserID && !viewer.IsAdmin()) {
		return nil, apperr.NotFound("Request not found", "no request with id %s exists", id)
	}
	reqRevs, err := m.repo.RequestRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(reqRevs) == 0 {
		return nil, apperr.NotFound("Request not found", "request %s has no history", id)
	}
	var srcRevs []model.DataSourcingRevision
	if req.DataSourcingID != "" {
		srcRevs, err = m.repo.SourcingRevisions(ctx, req.DataSourcingID)
		if err != nil {
			return nil, err
		}
	}
	return combineHistory(reqRevs, srcRevs), nil
}

// DisplayedHistory returns the progress steps shown to the requester.
func (m *RequestManager) DisplayedHistory(ctx context.Context, id string, viewer *auth.Principal) ([]DisplayedStateEntry, error) {
	entries, err := m.RequestHistory(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	return displayedHistory(entries), nil
}
