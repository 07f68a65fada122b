package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/model"
)

type dataPointIDs struct {
	DataPointIDs []string `json:"dataPointIds" validate:"required,min=1,max=1000,dive,required"`
}

func storeDataPointHandler(svc DataPointService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bypassQa, err := boolParam(r, "bypassQa")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var in model.UploadedDataPoint
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		p := auth.FromContext(r.Context())
		if !p.CanUpload(in.CompanyID) {
			writeError(w, r, auth.Forbidden("upload data for company "+in.CompanyID))
			return
		}
		meta, err := svc.ProcessDataPoint(r.Context(), in, p, bypassQa, CorrelationID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

func getDataPointHandler(svc DataPointService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dp, err := svc.RetrieveDataPoint(r.Context(), chi.URLParam(r, "dataPointId"), auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dp)
	}
}

func getDataPointsHandler(svc DataPointService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in dataPointIDs
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := svc.RetrieveDataPoints(r.Context(), in.DataPointIDs, auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
