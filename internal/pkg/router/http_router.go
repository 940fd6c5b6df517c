package router

import (
	"github.com/DanielKirsch/Faktura/app/controllers"
	"github.com/DanielKirsch/Faktura/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Billing provider webhooks (no auth middleware, signature-verified in
	// the controller; any state change requires a valid signature first)
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
	// The provider only ever POSTs; anything else is a misdirected client.
	app.All(constants.StripeWebhookRoute, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusMethodNotAllowed)
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
