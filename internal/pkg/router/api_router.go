package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/DanielKirsch/Faktura/app/controllers"
	"github.com/DanielKirsch/Faktura/internal/pkg/cache"
	"github.com/DanielKirsch/Faktura/internal/pkg/constants"
	"github.com/DanielKirsch/Faktura/internal/pkg/env"
	"github.com/DanielKirsch/Faktura/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Faktura API",
		})
	})

	// API v1 routes
	v1 := api.Group(constants.APIV1Route)
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "pong",
		})
	})

	// Everything below requires an API key
	v1.Use(middleware.APIKeyAuthMiddleware())

	v1.Get("/user/account", controllers.HandleGetUserAccount)

	v1.Get("/billing", controllers.HandleGetBillingOverview)
	v1.Post("/billing/resync", controllers.HandleBillingResync)
	v1.Get("/billing/webhook-stats", controllers.HandleWebhookStats)

	v1.Get("/clients", controllers.HandleListClients)
	v1.Post("/clients", controllers.HandleCreateClient)

	v1.Get("/invoices/recurring", controllers.HandleListRecurringInvoices)
	v1.Post("/invoices/recurring", controllers.HandleCreateRecurringInvoice)
}

// newLimiterStorage backs the rate limiter with Redis so limits hold
// across instances. Uses database 1 (cache uses DB 0).
func newLimiterStorage() *redisstorage.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
