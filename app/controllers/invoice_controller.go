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

type createRecurringInvoiceRequest struct {
	ClientUUID  string `json:"client_uuid"`
	Title       string `json:"title"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Recurrence  string `json:"recurrence"`
}

// HandleCreateRecurringInvoice creates a recurring invoice template. The
// feature guard runs inside the insert's transaction: recurring invoices are
// premium-only, checked against live subscription state at write time.
func HandleCreateRecurringInvoice(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req createRecurringInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}
	if req.Recurrence == "" {
		req.Recurrence = models.RecurrenceMonthly
	}

	invoice := &models.RecurringInvoice{
		UserID:      userCtx.UserID,
		Title:       req.Title,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Recurrence:  req.Recurrence,
	}
	if err := invoice.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	guard := enforcementGuard()
	invoiceRepo := repository.GetGlobalFactory().GetRecurringInvoiceRepository()

	err := database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := guard.CheckRecurringInvoices(entitlements.NewSource(tx), userCtx.UserID, time.Now()); err != nil {
			return err
		}

		// Resolve the client inside the transaction so ownership holds at
		// commit time.
		var client models.Client
		if err := tx.Where("uuid = ? AND user_id = ?", req.ClientUUID, userCtx.UserID).First(&client).Error; err != nil {
			return err
		}
		invoice.ClientID = client.ID

		return invoiceRepo.CreateTx(tx, invoice)
	})
	if err != nil {
		if errors.Is(err, entitlements.ErrUpgradeRequired) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":   "upgrade_required",
				"message": "Recurring invoices are a premium feature. Upgrade to continue.",
			})
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Client not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "recurring_invoice_create_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(invoice)
}

// HandleListRecurringInvoices returns the authenticated account's recurring invoices.
func HandleListRecurringInvoices(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	invoices, err := repository.GetGlobalFactory().GetRecurringInvoiceRepository().GetByUserID(userCtx.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "recurring_invoice_list_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"invoices": invoices})
}
