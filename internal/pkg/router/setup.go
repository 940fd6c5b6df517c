package router

import (
	"github.com/gofiber/fiber/v2"
)

func InstallRouter(app *fiber.App) {
	// HttpRouter first: it registers the public webhook endpoint. API routes
	// attach the API key middleware themselves.
	setup(app, NewHttpRouter(), NewApiRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

// Router is installed into the fiber app at startup.
type Router interface {
	InstallRouter(app *fiber.App)
}
