package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-watchlist/internal/config"
	"go-watchlist/internal/handler"
	"go-watchlist/internal/middleware"
	"go-watchlist/internal/model"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	User    *handler.UserHandler
	Audit   *handler.AuditHandler
	Health  *handler.HealthHandler
	Metrics http.Handler
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	handlers Handlers,
	proxies middleware.TrustedProxies,
	observer middleware.RequestObserver,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimit, cfg.AuthRateWindow)

	r.Use(middleware.Recovery)
	r.Use(middleware.RealIP(proxies))
	r.Use(middleware.Logging(observer))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", handlers.Health.Health)
	if handlers.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", handlers.Metrics)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", handlers.Auth.Register)
			auth.Post("/login", handlers.Auth.Login)

			// only these routes ever receive the refresh cookie
			auth.Route("/session", func(session chi.Router) {
				session.Post("/refresh", handlers.Auth.Refresh)
				session.Post("/logout", handlers.Auth.Logout)
			})

			auth.Group(func(private chi.Router) {
				private.Use(authMiddleware.RequireAuth)
				private.Get("/me", handlers.Auth.Me)
				private.Put("/profile", handlers.Auth.UpdateProfile)
				private.Put("/password", handlers.Auth.ChangePassword)
			})
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin))
			admin.Get("/users", handlers.User.List)
			admin.Get("/audit", handlers.Audit.List)
		})
	})

	return r
}
