package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partsflow/partsflow/internal/catalog"
	"github.com/partsflow/partsflow/internal/issue"
	"github.com/partsflow/partsflow/internal/observability"
	"github.com/partsflow/partsflow/internal/procurement"
	"github.com/partsflow/partsflow/internal/stock"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Pool               *pgxpool.Pool
	CatalogHandler     *catalog.Handler
	StockHandler       *stock.Handler
	ProcurementHandler *procurement.Handler
	IssueHandler       *issue.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with partsflow defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/parts", params.CatalogHandler.MountRoutes)
	r.Route("/stock", params.StockHandler.MountRoutes)
	r.Route("/purchase-orders", params.ProcurementHandler.MountRoutes)
	r.Route("/issues", params.IssueHandler.MountRoutes)

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
