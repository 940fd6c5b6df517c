package billing

import "time"

// EventKind is the normalized discriminant for provider webhook events.
type EventKind string

const (
	KindSubscriptionCreated EventKind = "customer.subscription.created"
	KindSubscriptionUpdated EventKind = "customer.subscription.updated"
	KindSubscriptionDeleted EventKind = "customer.subscription.deleted"
	KindCheckoutCompleted   EventKind = "checkout.session.completed"
	KindInvoicePaid         EventKind = "invoice.payment_succeeded"
	// KindUnrecognized tags events the reducer acknowledges but ignores.
	KindUnrecognized EventKind = "unrecognized"
)

// Action is what the reducer does with a normalized event.
type Action int

const (
	ActionIgnore Action = iota
	ActionUpsertSubscription
	ActionMarkDeleted
)

// NormalizedEvent is the provider-agnostic projection of a verified webhook
// payload. Optional fields are pointers: the reducer only touches record
// columns the event actually carries, which keeps partial events (checkout
// completion, invoice payment) from clobbering fresher subscription data.
type NormalizedEvent struct {
	EventID                string
	Kind                   EventKind
	RawType                string
	ExternalCustomerID     string
	ExternalSubscriptionID string
	Status                 *string
	PlanID                 *string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      *bool
	// AccountID is a local user id embedded in provider metadata
	// (checkout client_reference_id or subscription metadata). Zero when the
	// payload carries none; the reducer then requires an existing mapping.
	AccountID  uint
	EventAt    time.Time
	ReceivedAt time.Time
	RawPayload []byte
}

// Action maps the event kind to its reducer action.
func (e *NormalizedEvent) Action() Action {
	switch e.Kind {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindCheckoutCompleted, KindInvoicePaid:
		return ActionUpsertSubscription
	case KindSubscriptionDeleted:
		return ActionMarkDeleted
	default:
		return ActionIgnore
	}
}

// OrderedAt returns the ordering signal for the freshness predicate: the
// provider-side creation time when present, receipt time otherwise.
func (e *NormalizedEvent) OrderedAt() time.Time {
	if !e.EventAt.IsZero() {
		return e.EventAt
	}
	return e.ReceivedAt
}
