package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/model"
	"github.com/sells-group/dataland/internal/sourcing"
)

const defaultPageSize = 100

type requestCreated struct {
	DataRequestID string `json:"dataRequestId"`
	Created       bool   `json:"created"`
}

type requestStatePatch struct {
	State        model.RequestState `json:"requestState" validate:"required"`
	AdminComment *string            `json:"adminComment,omitempty" validate:"omitempty,max=1000"`
}

type requestPriorityPatch struct {
	Priority     model.RequestPriority `json:"requestPriority" validate:"required"`
	AdminComment *string               `json:"adminComment,omitempty" validate:"omitempty,max=1000"`
}

func createRequestHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in sourcing.NewRequest
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		id, created, err := svc.CreateRequest(r.Context(), in, auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, requestCreated{DataRequestID: id, Created: created})
	}
}

func bulkRequestHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in sourcing.BulkRequest
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.BulkCreate(r.Context(), in, auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	if limit, err = intParam(r, "limit", defaultPageSize); err != nil {
		return 0, 0, err
	}
	if offset, err = intParam(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func myRequestsHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out, err := svc.ListUserRequests(r.Context(), auth.FromContext(r.Context()).UserID, limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []sourcing.StoredRequest{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listRequestsHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		f := sourcing.RequestFilter{
			UserID:          q.Get("userId"),
			CompanyID:       q.Get("companyId"),
			DataType:        q.Get("dataType"),
			ReportingPeriod: q.Get("reportingPeriod"),
			Limit:           limit,
			Offset:          offset,
		}
		for _, s := range q["requestState"] {
			state := model.RequestState(s)
			if !state.Valid() {
				writeError(w, r, apperr.Validation("Invalid input", "%q is not a request state", s))
				return
			}
			f.States = append(f.States, state)
		}
		out, err := svc.ListRequests(r.Context(), f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []sourcing.StoredRequest{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getRequestHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := svc.GetRequest(r.Context(), chi.URLParam(r, "requestId"), auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// patchRequestStateHandler lets admins set any state. Other users may
// only withdraw their own requests.
func patchRequestStateHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in requestStatePatch
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		id := chi.URLParam(r, "requestId")
		p := auth.FromContext(r.Context())

		var (
			req *model.Request
			err error
		)
		switch {
		case p.IsAdmin():
			req, err = svc.PatchRequestState(r.Context(), id, in.State, in.AdminComment, CorrelationID(r.Context()))
		case in.State == model.RequestWithdrawn && in.AdminComment == nil:
			req, err = svc.WithdrawRequest(r.Context(), id, p)
		default:
			err = auth.Forbidden("change the state of this request")
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func patchRequestPriorityHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in requestPriorityPatch
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		req, err := svc.PatchRequestPriority(r.Context(), chi.URLParam(r, "requestId"), in.Priority, in.AdminComment)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func requestHistoryHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.RequestHistory(r.Context(), chi.URLParam(r, "requestId"), auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func displayedHistoryHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.DisplayedHistory(r.Context(), chi.URLParam(r, "requestId"), auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
