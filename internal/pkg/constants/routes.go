package constants

// Static route constants
const (
	StripeWebhookRoute = "/webhooks/stripe"
	APIRoute           = "/api"
	APIV1Route         = "/v1"
)
