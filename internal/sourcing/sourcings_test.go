package sourcing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/events"
	"github.com/sells-group/dataland/internal/model"
)

var c1Sfdr2023 = model.BasicDataDimension{CompanyID: "c1", DataType: "sfdr", ReportingPeriod: "2023"}

// processing creates a request for c1/sfdr/2023 and moves it into
// Processing, returning the request and work item ids.
func (f *fixture) processing(t *testing.T, user string) (string, string) {
	t.Helper()
	id := f.create(t, principalFor(user), "c1", "2023")
	req, err := f.requests.PatchRequestState(context.Background(), id, model.RequestProcessing, nil, "")
	require.NoError(t, err)
	return id, req.DataSourcingID
}

func principalFor(user string) *auth.Principal {
	return &auth.Principal{UserID: user, CompanyID: "billing-" + user}
}

func strPtr(s string) *string { return &s }

func TestPatchState_CascadesOnDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, sid := f.processing(t, "alice")
	second, _ := f.processing(t, "bob")
	withdrawn, _ := f.processing(t, "carol")
	_, err := f.requests.PatchRequestState(ctx, withdrawn, model.RequestWithdrawn, nil, "")
	require.NoError(t, err)

	// Intermediate states leave requests alone.
	_, err = f.sourcings.PatchState(ctx, sid, model.SourcingDataExtraction, "")
	require.NoError(t, err)
	assert.Equal(t, model.RequestProcessing, f.repo.request(first).State)

	f.tick()
	s, err := f.sourcings.PatchState(ctx, sid, model.SourcingDone, "corr")
	require.NoError(t, err)
	assert.Equal(t, model.SourcingDone, s.State)
	assert.Equal(t, f.now, s.LastModifiedDate)

	assert.Equal(t, model.RequestProcessed, f.repo.request(first).State)
	assert.Equal(t, model.RequestProcessed, f.repo.request(second).State)
	assert.Equal(t, f.now, f.repo.request(second).LastModifiedDate)
	assert.Equal(t, model.RequestWithdrawn, f.repo.request(withdrawn).State)
	assert.Empty(t, f.repo.events(events.NonSourceable))

	stored, err := f.requests.GetRequest(ctx, first, admin)
	require.NoError(t, err)
	assert.Equal(t, model.DisplayedDone, stored.DisplayedState)
}

func TestPatchState_LocksDimension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, sid := f.processing(t, "alice")
	f.repo.locked = nil

	_, err := f.sourcings.PatchState(ctx, sid, model.SourcingDone, "")
	require.NoError(t, err)
	assert.Equal(t, []model.BasicDataDimension{c1Sfdr2023}, f.repo.locked)

	// Attaching a new request afterwards reopens the item under the same lock.
	f.repo.locked = nil
	id, sid2 := f.processing(t, "bob")
	assert.Equal(t, sid, sid2)
	assert.Contains(t, f.repo.locked, c1Sfdr2023)
	assert.Equal(t, model.RequestProcessing, f.repo.request(id).State)
	assert.Equal(t, model.SourcingInitialized, f.repo.sourcing(sid).State)
}

func TestPatchState_NonSourceable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, sid := f.processing(t, "alice")

	_, err := f.sourcings.PatchSourcing(ctx, sid, Patch{
		State:        statePtr(model.SourcingNonSourceable),
		AdminComment: strPtr("no report published"),
	}, "corr-ns")
	require.NoError(t, err)
	assert.Equal(t, model.RequestProcessed, f.repo.request(first).State)

	evs := f.repo.events(events.NonSourceable)
	require.Len(t, evs, 1)
	assert.Equal(t, "corr-ns", evs[0].CorrelationID)
	p, err := events.Decode[events.NonSourceablePayload](evs[0])
	require.NoError(t, err)
	assert.Equal(t, events.NonSourceablePayload{
		DataSourcingID:  sid,
		CompanyID:       "c1",
		DataType:        "sfdr",
		ReportingPeriod: "2023",
		Comment:         "no report published",
	}, p)

	// Patching the same state again is a no-op.
	revs := len(f.repo.srcRevs[sid])
	_, err = f.sourcings.PatchState(ctx, sid, model.SourcingNonSourceable, "")
	require.NoError(t, err)
	assert.Len(t, f.repo.events(events.NonSourceable), 1)
	assert.Len(t, f.repo.srcRevs[sid], revs)

	stored, err := f.requests.GetRequest(ctx, first, admin)
	require.NoError(t, err)
	assert.Equal(t, model.DisplayedNonSourceable, stored.DisplayedState)
}

func TestPatchState_RollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, sid := f.processing(t, "alice")
	f.repo.failUpdateSourcing = errors.New("disk full")

	_, err := f.sourcings.PatchState(ctx, sid, model.SourcingNonSourceable, "")
	require.Error(t, err)
	assert.Equal(t, model.RequestProcessing, f.repo.request(first).State)
	assert.Equal(t, model.SourcingInitialized, f.repo.sourcing(sid).State)
	assert.Empty(t, f.repo.events(events.NonSourceable))
}

func TestPatchSourcing_Fields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, sid := f.processing(t, "alice")

	f.tick()
	s, err := f.sourcings.PatchSourcing(ctx, sid, Patch{
		DocumentIDs:                       []string{"doc-1", "doc-2"},
		ExpectedPublicationDates:          []string{"2024-06-30"},
		DateOfNextDocumentSourcingAttempt: strPtr("2024-07-01"),
		DocumentCollector:                 strPtr("collector"),
		DataExtractor:                     strPtr("extractor"),
		Priority:                          intPtr(3),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, model.SourcingInitialized, s.State)
	assert.Equal(t, []string{"doc-1", "doc-2"}, s.DocumentIDs)
	assert.Equal(t, "2024-07-01", s.DateOfNextDocumentSourcingAttempt)
	assert.Equal(t, "collector", s.DocumentCollector)
	assert.Equal(t, "extractor", s.DataExtractor)
	assert.Equal(t, 3, s.Priority)
	assert.Equal(t, f.now, s.LastModifiedDate)

	got, err := f.sourcings.GetSourcing(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-30"}, got.ExpectedPublicationDates)

	hist, err := f.sourcings.SourcingHistory(ctx, sid)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, model.SourcingInitialized, hist[1].State)
}

func TestPatchSourcing_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, sid := f.processing(t, "alice")

	tests := []struct {
		name string
		id   string
		p    Patch
		kind apperr.Kind
	}{
		{"unknown state", sid, Patch{State: statePtr("Paused")}, apperr.KindValidation},
		{"bad publication date", sid, Patch{ExpectedPublicationDates: []string{"30.06.2024"}}, apperr.KindValidation},
		{"bad attempt date", sid, Patch{DateOfNextDocumentSourcingAttempt: strPtr("soon")}, apperr.KindValidation},
		{"negative priority", sid, Patch{Priority: intPtr(-1)}, apperr.KindValidation},
		{"missing", "nope", Patch{State: statePtr(model.SourcingDone)}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sourcings.PatchSourcing(ctx, tt.id, tt.p, "")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
		})
	}

	_, err := f.sourcings.GetSourcing(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.sourcings.SourcingHistory(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func qaEvent(t *testing.T, status model.QaStatus, dim *model.BasicDataDimension) events.Event {
	t.Helper()
	ev, err := events.New(events.QaStatusChanged, "corr-qa", events.QaStatusChangedPayload{
		DataID:          "dataset-1",
		UpdatedQaStatus: status,
		Dataset:         dim,
	})
	require.NoError(t, err)
	return ev
}

func TestHandleQaStatusChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, sid := f.processing(t, "alice")
	dim := c1Sfdr2023

	require.NoError(t, f.sourcings.HandleQaStatusChanged(ctx, qaEvent(t, model.QaPending, &dim)))
	assert.Equal(t, model.SourcingDataVerification, f.repo.sourcing(sid).State)
	assert.Equal(t, model.RequestProcessing, f.repo.request(first).State)

	require.NoError(t, f.sourcings.HandleQaStatusChanged(ctx, qaEvent(t, model.QaRejected, &dim)))
	assert.Equal(t, model.SourcingDataVerification, f.repo.sourcing(sid).State)

	require.NoError(t, f.sourcings.HandleQaStatusChanged(ctx, qaEvent(t, model.QaAccepted, &dim)))
	assert.Equal(t, model.SourcingDone, f.repo.sourcing(sid).State)
	assert.Equal(t, model.RequestProcessed, f.repo.request(first).State)

	// A later upload pending review does not reopen a finished item.
	require.NoError(t, f.sourcings.HandleQaStatusChanged(ctx, qaEvent(t, model.QaPending, &dim)))
	assert.Equal(t, model.SourcingDone, f.repo.sourcing(sid).State)
}

func TestHandleQaStatusChanged_Ignores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := model.BasicDataDimension{CompanyID: "c9", DataType: "sfdr", ReportingPeriod: "2023"}
	require.NoError(t, f.sourcings.HandleQaStatusChanged(ctx, qaEvent(t, model.QaAccepted, &other)))
	require.NoError(t, f.sourcings.HandleQaStatusChanged(ctx, qaEvent(t, model.QaAccepted, nil)))
	assert.Empty(t, f.repo.sourcings)

	err := f.sourcings.HandleQaStatusChanged(ctx, qaEvent(t, model.QaStatus("Maybe"), &other))
	assert.ErrorIs(t, err, events.ErrMalformed)

	err = f.sourcings.HandleQaStatusChanged(ctx, events.Event{Type: events.QaStatusChanged, Payload: []byte(`[1]`)})
	assert.ErrorIs(t, err, events.ErrMalformed)
}

func TestPrioritiesByDimensions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, sid := f.processing(t, "alice")
	_, err := f.sourcings.PatchSourcing(ctx, sid, Patch{Priority: intPtr(3)}, "")
	require.NoError(t, err)

	missing := model.BasicDataDimension{CompanyID: "c2", DataType: "sfdr", ReportingPeriod: "2023"}
	got, err := f.sourcings.PrioritiesByDimensions(ctx, []model.BasicDataDimension{missing, c1Sfdr2023, c1Sfdr2023})
	require.NoError(t, err)
	assert.Equal(t, []DimensionPriority{{BasicDataDimension: c1Sfdr2023, Priority: 3}}, got)
}

func statePtr(s model.DataSourcingState) *model.DataSourcingState { return &s }

func intPtr(i int) *int { return &i }
