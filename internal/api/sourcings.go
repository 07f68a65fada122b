package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dataland/internal/model"
	"github.com/sells-group/dataland/internal/sourcing"
)

type sourcingStatePatch struct {
	State model.DataSourcingState `json:"state" validate:"required"`
}

func getSourcingHandler(svc SourcingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.GetSourcing(r.Context(), chi.URLParam(r, "dataSourcingId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func patchSourcingStateHandler(svc SourcingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in sourcingStatePatch
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		s, err := svc.PatchState(r.Context(), chi.URLParam(r, "dataSourcingId"), in.State, CorrelationID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func patchSourcingHandler(svc SourcingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in sourcing.Patch
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		s, err := svc.PatchSourcing(r.Context(), chi.URLParam(r, "dataSourcingId"), in, CorrelationID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func sourcingHistoryHandler(svc SourcingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.SourcingHistory(r.Context(), chi.URLParam(r, "dataSourcingId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func prioritiesHandler(svc SourcingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dims []model.BasicDataDimension
		if err := decode(r, &dims); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := svc.PrioritiesByDimensions(r.Context(), dims)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
