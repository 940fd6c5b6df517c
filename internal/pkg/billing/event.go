package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload marks a payload that failed normalization hard enough
// that the delivery must not be acknowledged (the provider should retry).
var ErrInvalidPayload = errors.New("invalid webhook payload")

// eventEnvelope is the provider's outer webhook shape.
type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// objectRef accepts either a bare id string or an expanded object.
type objectRef string

func (r *objectRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = objectRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = objectRef(obj.ID)
	return nil
}

type subscriptionObject struct {
	ID                 string    `json:"id"`
	Customer           objectRef `json:"customer"`
	Status             string    `json:"status"`
	CurrentPeriodStart int64     `json:"current_period_start"`
	CurrentPeriodEnd   int64     `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          objectRef         `json:"customer"`
	Subscription      objectRef         `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type invoiceObject struct {
	ID           string    `json:"id"`
	Customer     objectRef `json:"customer"`
	Subscription objectRef `json:"subscription"`
	PeriodStart  int64     `json:"period_start"`
	PeriodEnd    int64     `json:"period_end"`
}

// NormalizeEvent parses a verified raw payload into a NormalizedEvent.
// Unknown event types come back tagged KindUnrecognized (callers acknowledge
// those without acting); malformed JSON or a recognized type missing its
// identifying fields returns an error wrapping ErrInvalidPayload.
func NormalizeEvent(raw []byte, receivedAt time.Time) (*NormalizedEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}

	ev := &NormalizedEvent{
		EventID:    env.ID,
		RawType:    env.Type,
		ReceivedAt: receivedAt,
		RawPayload: raw,
	}
	if env.Created > 0 {
		ev.EventAt = time.Unix(env.Created, 0)
	}

	switch EventKind(env.Type) {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		ev.Kind = EventKind(env.Type)
		if err := normalizeSubscription(ev, env.Data.Object); err != nil {
			return nil, err
		}
	case KindCheckoutCompleted:
		if err := normalizeCheckoutSession(ev, env.Data.Object); err != nil {
			return nil, err
		}
	case KindInvoicePaid:
		ev.Kind = KindInvoicePaid
		if err := normalizeInvoice(ev, env.Data.Object); err != nil {
			return nil, err
		}
	default:
		ev.Kind = KindUnrecognized
	}

	return ev, nil
}

func normalizeSubscription(ev *NormalizedEvent, raw json.RawMessage) error {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription object: %v", ErrInvalidPayload, err)
	}
	if sub.Customer == "" {
		return fmt.Errorf("%w: subscription event without customer", ErrInvalidPayload)
	}

	ev.ExternalCustomerID = string(sub.Customer)
	ev.ExternalSubscriptionID = sub.ID
	if sub.Status != "" {
		status := strings.ToLower(sub.Status)
		ev.Status = &status
	}
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price.ID != "" {
		plan := sub.Items.Data[0].Price.ID
		ev.PlanID = &plan
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0)
		ev.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0)
		ev.CurrentPeriodEnd = &t
	}
	cancel := sub.CancelAtPeriodEnd
	ev.CancelAtPeriodEnd = &cancel
	ev.AccountID = accountIDFromMetadata(sub.Metadata)
	return nil
}

func normalizeCheckoutSession(ev *NormalizedEvent, raw json.RawMessage) error {
	var cs checkoutSessionObject
	if err := json.Unmarshal(raw, &cs); err != nil {
		return fmt.Errorf("%w: checkout session object: %v", ErrInvalidPayload, err)
	}
	// Payment-mode checkouts have no subscription to sync; treat them like
	// any other kind we do not act on.
	if !strings.EqualFold(cs.Mode, "subscription") {
		ev.Kind = KindUnrecognized
		return nil
	}
	if cs.Customer == "" {
		return fmt.Errorf("%w: checkout session without customer", ErrInvalidPayload)
	}

	ev.Kind = KindCheckoutCompleted
	ev.ExternalCustomerID = string(cs.Customer)
	ev.ExternalSubscriptionID = string(cs.Subscription)
	if ev.AccountID = accountIDFromMetadata(cs.Metadata); ev.AccountID == 0 {
		ev.AccountID = parseAccountID(cs.ClientReferenceID)
	}
	// No status/plan/period fields on purpose: the session's embedded
	// snapshot may be staler than a concurrently delivered subscription
	// event, so those columns are left to customer.subscription.* events.
	return nil
}

func normalizeInvoice(ev *NormalizedEvent, raw json.RawMessage) error {
	var inv invoiceObject
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("%w: invoice object: %v", ErrInvalidPayload, err)
	}
	if inv.Customer == "" {
		return fmt.Errorf("%w: invoice event without customer", ErrInvalidPayload)
	}

	ev.ExternalCustomerID = string(inv.Customer)
	ev.ExternalSubscriptionID = string(inv.Subscription)
	// A settled invoice proves the subscription is paid up.
	status := "active"
	ev.Status = &status
	if inv.PeriodStart > 0 {
		t := time.Unix(inv.PeriodStart, 0)
		ev.CurrentPeriodStart = &t
	}
	if inv.PeriodEnd > 0 {
		t := time.Unix(inv.PeriodEnd, 0)
		ev.CurrentPeriodEnd = &t
	}
	return nil
}

func accountIDFromMetadata(metadata map[string]string) uint {
	for _, key := range []string{"user_id", "account_id"} {
		if id := parseAccountID(metadata[key]); id != 0 {
			return id
		}
	}
	return 0
}

func parseAccountID(raw string) uint {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}
