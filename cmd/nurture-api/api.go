// Package main provides the Nurture API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/services"
	"github.com/dukex/nurture/pkg/stats"
	"github.com/dukex/nurture/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	aggregator  *stats.Aggregator
	eventBus    eventbus.EventBus
	clock       clockwork.Clock
	validate    *validator.Validate
}

// NewAPI builds the HTTP API. eventBus may be nil.
func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	aggregator *stats.Aggregator,
	eventBus eventbus.EventBus,
	clock clockwork.Clock,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		aggregator:  aggregator,
		eventBus:    eventBus,
		clock:       clock,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlow(a.persistence, a.clock, a.logger)
	publishingService := services.NewPublishing(a.persistence, flowService, a.clock, a.logger)
	enrollmentService := services.NewEnrollment(a.persistence, a.eventBus, a.clock, a.logger)
	memberService := services.NewMember(a.persistence, a.validate, a.clock, a.logger)

	handlers := web.NewAPIHandlers(
		flowService,
		publishingService,
		enrollmentService,
		memberService,
		a.aggregator,
		a.eventBus,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Nurture API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
