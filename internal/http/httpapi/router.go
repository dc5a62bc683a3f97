package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"astrocredits/internal/http/handlers"
	appmw "astrocredits/internal/middleware"
)

// RouterOptions carries the router's collaborators beyond the handlers.
type RouterOptions struct {
	// Redis backs the shared IP rate limiter; nil falls back to the
	// in-process limiter.
	Redis           *redis.Client
	RateLimitPerMin int
	AllowedOrigins  []string
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(appmw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(appmw.Logger(app.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(appmw.CORS(opts.AllowedOrigins))
	}

	// Health stays outside identity and rate limiting.
	r.Get("/v1/healthz", app.Health)

	limit := opts.RateLimitPerMin
	if limit <= 0 {
		limit = 30
	}

	r.Group(func(r chi.Router) {
		r.Use(appmw.RateLimit(opts.Redis, limit, time.Minute))
		r.Use(appmw.WithLocale)
		r.Use(appmw.WithIdentity)

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", app.WalletBalance)
		})
		r.Route("/premium", func(r chi.Router) {
			r.Post("/claim", app.PremiumClaim)
		})
	})

	return r
}
