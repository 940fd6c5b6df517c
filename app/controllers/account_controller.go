package controllers

import (
	"errors"
	"time"

	"github.com/DanielKirsch/Faktura/app/models"
	"github.com/DanielKirsch/Faktura/app/repository"
	"github.com/DanielKirsch/Faktura/internal/pkg/database"
	"github.com/DanielKirsch/Faktura/internal/pkg/entitlements"
	"github.com/DanielKirsch/Faktura/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HandleGetUserAccount returns account information for the authenticated user (API key).
// Security is enforced via the API key middleware attached in the router.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings"})
	}

	decision, err := entitlements.EvaluateForUser(entitlements.NewSource(db), userCtx.UserID, time.Now())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to evaluate entitlement"})
	}

	clientCount, err := repository.GetGlobalFactory().GetClientRepository().CountByUserID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load statistics"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":           account.ID,
		"name":         account.Name,
		"email":        account.Email,
		"company_name": account.CompanyName,
		"plan":         settings.Plan,
		"entitled":     decision.Entitled,
		"reason":       decision.Reason,
		"client_count": clientCount,
	})
}
