package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soltixdb/gridcat/internal/catalog"
	"github.com/soltixdb/gridcat/internal/config"
	"github.com/soltixdb/gridcat/internal/handlers"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/metrics"
	"github.com/soltixdb/gridcat/internal/middleware"
	"github.com/soltixdb/gridcat/internal/queue"
)

// Deps are the services the routes are served from. Queue and Metrics may
// be nil.
type Deps struct {
	Logger  *logging.Logger
	Catalog *catalog.Catalog
	Queue   queue.Publisher
	Metrics *metrics.Metrics
	Version string
}

// Setup configures all routes and middlewares
func Setup(app *fiber.App, deps Deps, cfg config.Config) *handlers.Handler {
	logger := logging.OrGlobal(deps.Logger)
	subjects := queue.Subjects{Prefix: cfg.Queue.SubjectPrefix}
	h := handlers.New(logger, deps.Catalog, deps.Queue, subjects, deps.Version)

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddleware(logger, logging.DefaultMiddlewareConfig()))

	// Probes (no auth required)
	app.Get("/health", h.Health)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	// Read-only dataset API
	v1 := app.Group("/v1")
	v1.Get("/datasets", h.ListDatasets)
	v1.Get("/datasets/:id", h.GetDataset)
	v1.Get("/datasets/:id/layers", h.ListLayers)
	v1.Get("/datasets/:id/layers/:layer/times", h.GetTimes)
	v1.Get("/datasets/:id/layers/:layer/locate", h.Locate)

	// Admin Routes (protected by API key)
	admin := app.Group("/admin", middleware.APIKeyAuth(logger, cfg.Auth))
	admin.Get("/datasets", h.ListDatasetStatus)
	admin.Post("/datasets", h.CreateDataset)
	admin.Get("/datasets/:id", h.GetDatasetStatus)
	admin.Delete("/datasets/:id", h.DeleteDataset)
	admin.Put("/datasets/:id/id", h.RenameDataset)
	admin.Post("/datasets/:id/refresh", h.RefreshDataset)
	admin.Put("/datasets/:id/disabled", h.SetDisabled)
	admin.Put("/datasets/:id/location", h.SetLocation)
	admin.Put("/datasets/:id/interval", h.SetInterval)
	admin.Put("/datasets/:id/title", h.SetTitle)
	admin.Get("/datasets/:id/progress", h.GetProgress)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates a new Fiber app with configuration
func New(deps Deps, cfg config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "gridcat",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          middleware.ErrorHandler(deps.Logger),
	})

	Setup(app, deps, cfg)

	return app
}
