package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaban-gov/kaban/internal/budget"
	"github.com/kaban-gov/kaban/internal/platform/httpx"
	"github.com/kaban-gov/kaban/internal/voucher"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	BudgetHandler  *budget.Handler
	VoucherHandler *voucher.Handler
	Pool           *pgxpool.Pool
}

// NewRouter assembles the chi router with the standard middleware chain.
func NewRouter(params RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range BuildMiddlewares(MiddlewareConfig{Logger: params.Logger, Config: params.Config}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "database unreachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/budget", func(b chi.Router) {
			params.BudgetHandler.MountRoutes(b)
		})
		api.Route("/vouchers", func(v chi.Router) {
			params.VoucherHandler.MountRoutes(v)
		})
	})

	return r
}
