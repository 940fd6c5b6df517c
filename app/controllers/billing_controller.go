package controllers

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/DanielKirsch/Faktura/internal/pkg/billing"
	"github.com/DanielKirsch/Faktura/internal/pkg/database"
	"github.com/DanielKirsch/Faktura/internal/pkg/env"
	"github.com/DanielKirsch/Faktura/internal/pkg/metrics/counter"
	"github.com/DanielKirsch/Faktura/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

// webhookSignatureConfig assembles the injected verifier configuration from
// the environment once per delivery.
func webhookSignatureConfig() billing.SignatureConfig {
	tolerance := billing.DefaultSignatureTolerance
	if raw := env.GetEnv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", ""); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			tolerance = time.Duration(secs) * time.Second
		}
	}
	return billing.SignatureConfig{
		Secret:    env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		Tolerance: tolerance,
	}
}

// HandleStripeWebhook ingests the payment provider's event stream. Order is
// deliberate: signature first (an invalid delivery must not touch any state),
// then normalization, then the idempotent record + reduce. Every acknowledged
// case answers 200 so the provider stops retrying; only transient store
// failures answer 500 to request a retry.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	receivedAt := time.Now()

	if err := billing.VerifyWebhookSignature(rawBody, c.Get("Stripe-Signature"), webhookSignatureConfig(), receivedAt); err != nil {
		var sigErr *billing.SignatureError
		if errors.As(err, &sigErr) {
			// Distinguishes a misconfigured secret (mismatch on every
			// delivery) from replayed captures (stale) in the logs.
			log.Printf("stripe webhook rejected: signature %s", sigErr.Reason)
		}
		_ = counter.AddWebhookOutcome("rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ev, err := billing.NormalizeEvent(rawBody, receivedAt)
	if err != nil {
		// Parse failures usually mean a deployment mismatch, not a broken
		// event; denying the ack lets the provider redeliver later.
		log.Printf("stripe webhook rejected: %v", err)
		_ = counter.AddWebhookOutcome("rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, ev)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		// A nil stored row means the Redis fast path answered, which only
		// holds fully processed events. A durable duplicate whose previous
		// run died mid-transaction is the provider's retry of a 500 and must
		// be reduced again; idempotency makes the re-run safe.
		if stored == nil || stored.IsProcessed() {
			_ = counter.AddWebhookOutcome(string(billing.OutcomeDuplicate))
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
		}
	}

	outcome, processErr := svc.ProcessEvent(ctx, ev)
	if stored != nil {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, ev.EventID, processErr)
	}
	if processErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}

	_ = counter.AddWebhookOutcome(string(outcome))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": outcome})
}

// HandleGetBillingOverview serves the account-scoped billing projection.
func HandleGetBillingOverview(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	overview, err := svc.GetOverview(ctx, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "billing_overview_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(overview)
}

// HandleBillingResync recomputes the reconciled plan for the authenticated
// account from the stored subscription record.
func HandleBillingResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	plan, err := svc.ReconcileUserPlan(ctx, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "plan_resync_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "plan": plan})
}

// HandleWebhookStats exposes the accumulated webhook outcome counters to
// admin accounts.
func HandleWebhookStats(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	}

	totals, err := counter.WebhookOutcomeTotals()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"outcomes": totals})
}
