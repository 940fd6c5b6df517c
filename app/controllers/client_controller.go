package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/DanielKirsch/Faktura/app/models"
	"github.com/DanielKirsch/Faktura/app/repository"
	"github.com/DanielKirsch/Faktura/internal/pkg/database"
	"github.com/DanielKirsch/Faktura/internal/pkg/entitlements"
	"github.com/DanielKirsch/Faktura/internal/pkg/env"
	"github.com/DanielKirsch/Faktura/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type createClientRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	Address   string `json:"address"`
	VATNumber string `json:"vat_number"`
	Notes     string `json:"notes"`
}

// enforcementGuard builds the guard with limits from the environment.
func enforcementGuard() *entitlements.Guard {
	var limit int64
	if raw := env.GetEnv("FREE_CLIENT_LIMIT", ""); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			limit = v
		}
	}
	return entitlements.NewGuard(entitlements.GuardConfig{FreeClientLimit: limit})
}

// HandleCreateClient creates a client for the authenticated account. The
// quantity guard runs inside the insert's transaction, so the free-tier count
// check and the new row commit atomically even when a webhook upgrades the
// account mid-request.
func HandleCreateClient(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req createClientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	client := &models.Client{
		UserID:    userCtx.UserID,
		Name:      req.Name,
		Email:     req.Email,
		Company:   req.Company,
		Address:   req.Address,
		VATNumber: req.VATNumber,
		Notes:     req.Notes,
	}
	if err := client.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	guard := enforcementGuard()
	clientRepo := repository.GetGlobalFactory().GetClientRepository()

	err := database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := guard.CheckClientQuota(entitlements.NewSource(tx), userCtx.UserID, time.Now()); err != nil {
			return err
		}
		return clientRepo.CreateTx(tx, client)
	})
	if err != nil {
		if errors.Is(err, entitlements.ErrUpgradeRequired) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":   "upgrade_required",
				"message": "Free accounts are limited to a fixed number of clients. Upgrade to add more.",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "client_create_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(client)
}

// HandleListClients returns the authenticated account's clients.
func HandleListClients(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	clients, err := repository.GetGlobalFactory().GetClientRepository().GetByUserID(userCtx.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "client_list_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"clients": clients})
}
