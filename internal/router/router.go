package router

import (
	"github.com/anonto42/nano-midea/livefeed/internal/handlers"
	"github.com/anonto42/nano-midea/livefeed/internal/middleware"
	"github.com/anonto42/nano-midea/livefeed/internal/timeline"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Dependencies are the services the routes are built from
type Dependencies struct {
	Registry *timeline.Registry
	Timeline timeline.Deps
	// Verifier is nil when sign-in is not configured; timelines are then guest-only.
	Verifier middleware.Verifier
	Follows  handlers.FollowService
	// Accounts is nil when sign-in accounts are not managed here.
	Accounts handlers.AccountDeleter
	Logger   zerolog.Logger
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, deps Dependencies) {
	e.GET("/health", handlers.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")

	timelineHandler := handlers.NewTimelineHandler(deps.Registry, deps.Timeline, deps.Verifier, deps.Logger)
	timelineHandler.RegisterTimelineRoutes(api)
	deps.Logger.Info().Msg("Timeline routes configured.")

	if deps.Verifier == nil || deps.Follows == nil {
		deps.Logger.Warn().Msg("Sign-in is not configured, user routes disabled.")
		return
	}
	users := api.Group("/users", middleware.FirebaseAuthMiddleware(deps.Verifier))
	followHandler := handlers.NewFollowHandler(deps.Follows, deps.Accounts)
	followHandler.RegisterFollowRoutes(users)
	deps.Logger.Info().Msg("User routes configured.")
}
