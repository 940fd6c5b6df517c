package controllers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielKirsch/Faktura/internal/pkg/billing"
)

func TestWebhookSignatureConfig(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", "120")

	cfg := webhookSignatureConfig()
	assert.Equal(t, "whsec_test", cfg.Secret)
	assert.Equal(t, 2*time.Minute, cfg.Tolerance)
}

func TestWebhookSignatureConfigDefaults(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STRIPE_SIGNATURE_TOLERANCE_SECONDS", "not-a-number")

	cfg := webhookSignatureConfig()
	assert.Equal(t, billing.DefaultSignatureTolerance, cfg.Tolerance)
}

// The webhook endpoint must reject deliveries before touching any state, so
// these paths are testable without a database.
func TestHandleStripeWebhookRejectsBadSignature(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	app := fiber.New()
	app.Post("/webhooks/stripe", HandleStripeWebhook)

	body := `{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"customer":"cus_1"}}}`

	// No signature header at all.
	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(body))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Signature computed with the wrong secret.
	header := billing.SignWebhookPayload([]byte(body), "whsec_wrong", time.Now())
	req = httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", header)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Valid secret but a replayed, expired timestamp.
	header = billing.SignWebhookPayload([]byte(body), "whsec_test", time.Now().Add(-time.Hour))
	req = httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", header)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleStripeWebhookRejectsUnparsablePayload(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	app := fiber.New()
	app.Post("/webhooks/stripe", HandleStripeWebhook)

	body := `{"type":"customer.subscription.updated"`
	header := billing.SignWebhookPayload([]byte(body), "whsec_test", time.Now())

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", header)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
