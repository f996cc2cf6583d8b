// Package api serves the MGCI operations over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/metrics"
	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/region"
	"github.com/sells-group/mgci/internal/store"
)

// Service is the subset of mgci.Service the API calls.
type Service interface {
	Compute(ctx context.Context, req mgci.ComputeRequest) (*mgci.ComputeResponse, error)
	Series(ctx context.Context, req mgci.SeriesRequest) (*mgci.SeriesResponse, error)
	Cluster(ctx context.Context, req mgci.ClusterRequest) (*mgci.ClusterResponse, error)
	Run(ctx context.Context, id string) (*model.Run, error)
	Runs(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	Regions() region.Provider
}

var _ Service = (*mgci.Service)(nil)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter returns the API handler.
func NewRouter(svc Service, opts Options) http.Handler {
	h := &handlers{svc: svc}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(instrument)

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		r.Get("/regions", h.listRegions)
		r.Post("/mgci", h.compute)
		r.Post("/series", h.series)
		r.Post("/cluster", h.cluster)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
	})
	return r
}

// instrument counts requests by route pattern and status code.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
