package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/model"
)

type datasetReceipt struct {
	DataID          string `json:"dataId"`
	CompanyID       string `json:"companyId"`
	DataType        string `json:"dataType"`
	ReportingPeriod string `json:"reportingPeriod"`
}

type datasetResponse struct {
	model.DatasetMeta
	Data json.RawMessage `json:"data"`
}

func storeDatasetHandler(svc DatasetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dataType := chi.URLParam(r, "dataType")
		bypassQa, err := boolParam(r, "bypassQa")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var in model.CompanyAssociatedData
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		p := auth.FromContext(r.Context())
		if !p.CanUpload(in.CompanyID) {
			writeError(w, r, auth.Forbidden("upload data for company "+in.CompanyID))
			return
		}

		id, err := svc.StoreDataset(r.Context(), in, dataType, bypassQa, CorrelationID(r.Context()), p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, datasetReceipt{
			DataID:          id,
			CompanyID:       in.CompanyID,
			DataType:        dataType,
			ReportingPeriod: in.ReportingPeriod,
		})
	}
}

func getDatasetHandler(svc DatasetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta, doc, err := svc.GetDatasetData(r.Context(), chi.URLParam(r, "dataId"),
			chi.URLParam(r, "dataType"), auth.FromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, datasetResponse{DatasetMeta: *meta, Data: doc})
	}
}

func datasetsByDimensionsHandler(svc DatasetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dims []model.BasicDataDimension
		if err := decode(r, &dims); err != nil {
			writeError(w, r, err)
			return
		}
		out, err := svc.GetDatasetsByDimensions(r.Context(), dims)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []model.DimensionalDataset{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func latestAvailableHandler(svc DatasetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyIDs := r.URL.Query()["companyIds"]
		if len(companyIDs) == 0 {
			writeError(w, r, apperr.Validation("Invalid input", "at least one companyIds parameter is required"))
			return
		}
		out, err := svc.GetLatestAvailable(r.Context(), companyIDs, chi.URLParam(r, "dataType"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
