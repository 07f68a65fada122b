package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/dataland/internal/apperr"
	"github.com/sells-group/dataland/internal/company"
)

func searchCompaniesHandler(dir company.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("searchString")
		if query == "" {
			writeError(w, r, apperr.Validation("Invalid input", "the searchString parameter is required"))
			return
		}
		limit, err := intParam(r, "resultLimit", 20)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out, err := dir.Search(r.Context(), query, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			out = []company.SearchResult{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func validateIdentifierHandler(dir company.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := dir.ValidateIdentifier(r.Context(), r.URL.Query().Get("identifier"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"companyId": id})
	}
}

func getCompanyHandler(dir company.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := dir.GetCompany(r.Context(), chi.URLParam(r, "companyId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}
