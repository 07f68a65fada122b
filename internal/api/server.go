// Package api exposes the coordinators over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/company"
	"github.com/sells-group/dataland/internal/model"
	"github.com/sells-group/dataland/internal/sourcing"
)

// DatasetService stores and assembles framework datasets.
type DatasetService interface {
	StoreDataset(ctx context.Context, dataset model.CompanyAssociatedData, dataType string, bypassQa bool, correlationID string, uploader *auth.Principal) (string, error)
	GetDatasetData(ctx context.Context, datasetID, dataType string, viewer *auth.Principal) (*model.DatasetMeta, []byte, error)
	GetDatasetsByDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]model.DimensionalDataset, error)
	GetLatestAvailable(ctx context.Context, companyIDs []string, dataType string) (map[string]string, error)
}

// DataPointService stores and retrieves single data points.
type DataPointService interface {
	ProcessDataPoint(ctx context.Context, point model.UploadedDataPoint, uploader *auth.Principal, bypassQa bool, correlationID string) (*model.DataPointMeta, error)
	RetrieveDataPoint(ctx context.Context, dataID string, viewer *auth.Principal) (*model.DataPoint, error)
	RetrieveDataPoints(ctx context.Context, dataIDs []string, viewer *auth.Principal) (map[string]*model.DataPoint, error)
}

// RequestService manages data requests.
type RequestService interface {
	CreateRequest(ctx context.Context, in sourcing.NewRequest, user *auth.Principal) (string, bool, error)
	BulkCreate(ctx context.Context, in sourcing.BulkRequest, user *auth.Principal) (*sourcing.BulkResult, error)
	GetRequest(ctx context.Context, id string, viewer *auth.Principal) (*sourcing.StoredRequest, error)
	ListUserRequests(ctx context.Context, userID string, limit, offset int) ([]sourcing.StoredRequest, error)
	ListRequests(ctx context.Context, f sourcing.RequestFilter) ([]sourcing.StoredRequest, error)
	PatchRequestState(ctx context.Context, id string, state model.RequestState, adminComment *string, correlationID string) (*model.Request, error)
	PatchRequestPriority(ctx context.Context, id string, priority model.RequestPriority, adminComment *string) (*model.Request, error)
	WithdrawRequest(ctx context.Context, id string, user *auth.Principal) (*model.Request, error)
	RequestHistory(ctx context.Context, id string, viewer *auth.Principal) ([]sourcing.HistoryEntry, error)
	DisplayedHistory(ctx context.Context, id string, viewer *auth.Principal) ([]sourcing.DisplayedStateEntry, error)
}

// SourcingService manages sourcing work items.
type SourcingService interface {
	GetSourcing(ctx context.Context, id string) (*model.DataSourcing, error)
	PatchState(ctx context.Context, id string, state model.DataSourcingState, correlationID string) (*model.DataSourcing, error)
	PatchSourcing(ctx context.Context, id string, p sourcing.Patch, correlationID string) (*model.DataSourcing, error)
	SourcingHistory(ctx context.Context, id string) ([]model.DataSourcingRevision, error)
	PrioritiesByDimensions(ctx context.Context, dims []model.BasicDataDimension) ([]sourcing.DimensionPriority, error)
}

// Services are the handlers' collaborators. Routes of a nil service are not
// mounted. A nil Verifier serves every caller anonymously.
type Services struct {
	Datasets   DatasetService
	DataPoints DataPointService
	Requests   RequestService
	Sourcing   SourcingService
	Companies  company.Directory
	Verifier   *auth.Verifier
	// Ping reports backing store health for /health. Optional.
	Ping func(ctx context.Context) error
}

// Options tune the router.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP handler.
func NewRouter(svc Services, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(correlate)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", CorrelationHeader},
			ExposedHeaders: []string{CorrelationHeader},
			MaxAge:         300,
		}))
	}
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", healthHandler(svc.Ping))

	r.Route("/api", func(r chi.Router) {
		if svc.Verifier != nil {
			r.Use(svc.Verifier.Middleware)
		}

		if svc.Datasets != nil {
			r.Route("/data", func(r chi.Router) {
				r.Post("/dimensions", datasetsByDimensionsHandler(svc.Datasets))
				r.Get("/{dataType}/latest", latestAvailableHandler(svc.Datasets))
				r.Get("/{dataType}/{dataId}", getDatasetHandler(svc.Datasets))
				r.With(auth.RequireUser).Post("/{dataType}", storeDatasetHandler(svc.Datasets))
			})
		}

		if svc.DataPoints != nil {
			r.Route("/data-points", func(r chi.Router) {
				r.Post("/batch", getDataPointsHandler(svc.DataPoints))
				r.Get("/{dataPointId}", getDataPointHandler(svc.DataPoints))
				r.With(auth.RequireUser).Post("/", storeDataPointHandler(svc.DataPoints))
			})
		}

		if svc.Requests != nil {
			mountRequests(r, svc.Requests)
		}
		if svc.Sourcing != nil {
			mountSourcing(r, svc.Sourcing)
		}
		if svc.Companies != nil {
			r.Route("/companies", func(r chi.Router) {
				r.Get("/", searchCompaniesHandler(svc.Companies))
				r.Get("/validation", validateIdentifierHandler(svc.Companies))
				r.Get("/{companyId}", getCompanyHandler(svc.Companies))
			})
		}
	})
	return r
}

func mountRequests(r chi.Router, svc RequestService) {
	r.Route("/requests", func(r chi.Router) {
		r.Use(auth.RequireUser)
		r.Post("/", createRequestHandler(svc))
		r.Post("/bulk", bulkRequestHandler(svc))
		r.Get("/mine", myRequestsHandler(svc))
		r.With(auth.RequireAdmin).Get("/", listRequestsHandler(svc))
		r.Get("/{requestId}", getRequestHandler(svc))
		r.Patch("/{requestId}/state", patchRequestStateHandler(svc))
		r.With(auth.RequireAdmin).Patch("/{requestId}/priority", patchRequestPriorityHandler(svc))
		r.Get("/{requestId}/history", requestHistoryHandler(svc))
		r.Get("/{requestId}/history/displayed", displayedHistoryHandler(svc))
	})
}

// mountSourcing serves the work items. Everything but the priority lookup
// is for admins only.
func mountSourcing(r chi.Router, svc SourcingService) {
	r.Route("/data-sourcing", func(r chi.Router) {
		r.Use(auth.RequireUser)
		r.Post("/priorities", prioritiesHandler(svc))
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/{dataSourcingId}", getSourcingHandler(svc))
			r.Patch("/{dataSourcingId}", patchSourcingHandler(svc))
			r.Patch("/{dataSourcingId}/state", patchSourcingStateHandler(svc))
			r.Get("/{dataSourcingId}/history", sourcingHistoryHandler(svc))
		})
	})
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
