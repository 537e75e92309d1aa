package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"adstudio/internal/http/handlers"
	"adstudio/internal/middleware"
)

func NewRouter(app *handlers.App, lookup middleware.CountryLookup) http.Handler {
	cfg := app.Config
	logger := zerolog.Nop()
	if app.Logger != nil {
		logger = *app.Logger
	}
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSOrigins),
		middleware.I18N(cfg.DefaultLocale, lookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Get("/v1/templates", app.TemplatesList)
	r.Get("/v1/stats", app.StatsSummary)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		r.Post("/session", app.AuthSession)
		r.Post("/google", app.AuthGoogleVerify)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret, cfg.JWTIssuer))

		r.Get("/v1/me", app.Me)
		r.Get("/v1/state", app.State)
		r.Get("/v1/events", app.Events)
		r.Get("/v1/quota", app.QuotaStatus)

		r.Route("/v1/history", func(r chi.Router) {
			r.Get("/", app.HistoryList)
			r.Post("/current", app.HistoryCurrent)
			r.Post("/{run_id}/view", app.HistoryView)
		})

		r.Get("/v1/runs/{run_id}/archive", app.RunArchive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			r.Post("/v1/runs", app.RunsCreate)
			r.Post("/v1/runs/regenerate", app.RunsRegenerate)
			r.Post("/v1/templates/{template_id}/regenerate", app.TemplateRegenerate)
		})
	})

	return r
}
