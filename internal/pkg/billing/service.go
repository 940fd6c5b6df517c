package billing

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/DanielKirsch/Faktura/app/models"
	"github.com/DanielKirsch/Faktura/internal/pkg/entitlements"
	"gorm.io/gorm"
)

// Outcome classifies what the reducer did with an event. Every outcome except
// a returned error is acknowledged to the provider with a 2xx.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeOrphaned  Outcome = "orphaned"
	OutcomeDuplicate Outcome = "duplicate"
)

// Service reduces normalized provider events into local subscription state
// and serves the account-scoped billing projection.
type Service struct {
	repo Repository
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// RecordWebhookEvent persists the delivery idempotently. The Redis dedup
// window answers retries of fully processed events cheaply; the unique
// event-id index is the durable guarantee behind it. Returns created=false
// for a replayed event, with the stored row (when the durable path answered)
// so the caller can tell a completed replay from a retry of a delivery that
// died mid-processing.
func (s *Service) RecordWebhookEvent(ctx context.Context, ev *NormalizedEvent) (bool, *models.BillingWebhookEvent, error) {
	if strings.TrimSpace(ev.EventID) == "" {
		return false, nil, errors.New("event id is required")
	}

	if eventSeen(ctx, ev.EventID) {
		return false, nil, nil
	}

	var eventAt *time.Time
	if !ev.EventAt.IsZero() {
		t := ev.EventAt
		eventAt = &t
	}
	stored := &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.EventID,
		EventType:       ev.RawType,
		EventCreatedAt:  eventAt,
		PayloadJSON:     string(ev.RawPayload),
	}
	return s.repo.CreateWebhookEventIfNotExists(stored)
}

// MarkWebhookProcessed marks an event as processed and stores an optional
// error. Only a clean run enters the Redis dedup window; a failed one leaves
// the stored row visible for the provider's retry to reprocess.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, providerEventID string, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(webhookEventID, errMsg); err != nil {
		return err
	}
	if processingErr == nil {
		rememberEvent(ctx, providerEventID)
	}
	return nil
}

// ProcessEvent applies a normalized event to the subscription record store.
// Customer-mapping bootstrap, when the payload embeds a local account id,
// happens in the same transaction as the record upsert so the record can
// never exist orphaned from an account. Events for unmapped customers with
// no embedded account id are acknowledged as logged no-ops; failing them
// would only provoke useless provider retries.
func (s *Service) ProcessEvent(ctx context.Context, ev *NormalizedEvent) (Outcome, error) {
	_ = ctx
	if ev.Action() == ActionIgnore {
		return OutcomeIgnored, nil
	}

	outcome := OutcomeOrphaned
	var userID uint
	err := s.repo.Transaction(func(tx Repository) error {
		mapping, err := tx.GetCustomerMapping(models.BillingProviderStripe, ev.ExternalCustomerID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if ev.AccountID == 0 {
				log.Printf("billing: event %s references unmapped customer %s with no account metadata, ignoring",
					ev.EventID, ev.ExternalCustomerID)
				return nil
			}
			mapping = &models.CustomerMapping{
				UserID:             ev.AccountID,
				Provider:           models.BillingProviderStripe,
				ExternalCustomerID: ev.ExternalCustomerID,
			}
			if err := tx.CreateCustomerMappingIfNotExists(mapping); err != nil {
				return err
			}
		}
		userID = mapping.UserID

		applied, err := tx.ApplySubscriptionPatch(buildSubscriptionPatch(ev))
		if err != nil {
			return err
		}
		if applied {
			outcome = OutcomeApplied
		} else {
			outcome = OutcomeStale
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeApplied && userID != 0 {
		if _, err := s.ReconcileUserPlan(ctx, userID); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// buildSubscriptionPatch translates an event into the guarded write against
// the customer's record. Only columns the event carries are assigned, so
// applying the same event twice lands on the same state.
func buildSubscriptionPatch(ev *NormalizedEvent) SubscriptionPatch {
	orderedAt := ev.OrderedAt()
	assignments := map[string]interface{}{
		"last_event_at": orderedAt,
	}
	insert := models.SubscriptionRecord{
		Provider:           models.BillingProviderStripe,
		ExternalCustomerID: ev.ExternalCustomerID,
		Status:             models.SubStatusIncomplete,
		LastEventAt:        &orderedAt,
	}

	if ev.ExternalSubscriptionID != "" {
		assignments["external_subscription_id"] = ev.ExternalSubscriptionID
		insert.ExternalSubscriptionID = ev.ExternalSubscriptionID
	}

	if ev.Action() == ActionMarkDeleted {
		assignments["status"] = models.SubStatusCanceled
		assignments["removed_at"] = orderedAt
		insert.Status = models.SubStatusCanceled
		insert.RemovedAt = &orderedAt
		return SubscriptionPatch{
			Provider:           models.BillingProviderStripe,
			ExternalCustomerID: ev.ExternalCustomerID,
			OrderedAt:          orderedAt,
			Assignments:        assignments,
			Insert:             insert,
		}
	}

	if ev.Status != nil {
		assignments["status"] = *ev.Status
		insert.Status = *ev.Status
	}
	if ev.PlanID != nil {
		assignments["plan_id"] = *ev.PlanID
		insert.PlanID = *ev.PlanID
	}
	if ev.CurrentPeriodStart != nil {
		assignments["current_period_start"] = *ev.CurrentPeriodStart
		insert.CurrentPeriodStart = ev.CurrentPeriodStart
	}
	if ev.CurrentPeriodEnd != nil {
		assignments["current_period_end"] = *ev.CurrentPeriodEnd
		insert.CurrentPeriodEnd = ev.CurrentPeriodEnd
	}
	if ev.CancelAtPeriodEnd != nil {
		assignments["cancel_at_period_end"] = *ev.CancelAtPeriodEnd
		insert.CancelAtPeriodEnd = *ev.CancelAtPeriodEnd
	}
	// A full subscription event restarts the cycle on a customer whose
	// previous subscription was removed.
	if ev.Kind == KindSubscriptionCreated || ev.Kind == KindSubscriptionUpdated {
		assignments["removed_at"] = nil
	}

	return SubscriptionPatch{
		Provider:           models.BillingProviderStripe,
		ExternalCustomerID: ev.ExternalCustomerID,
		OrderedAt:          orderedAt,
		Assignments:        assignments,
		Insert:             insert,
	}
}

// ReconcileUserPlan recomputes the reconciled plan string on the user's
// settings from the current subscription record. The plan column is a
// display convenience; guards always evaluate live.
func (s *Service) ReconcileUserPlan(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	if userID == 0 {
		return "", errors.New("user_id is required")
	}

	record, err := s.recordForUser(userID)
	if err != nil {
		return "", err
	}
	plan := string(entitlements.Evaluate(record, time.Now()).Plan())

	us, err := s.repo.GetOrCreateUserSettings(userID)
	if err != nil {
		return "", err
	}
	if us.Plan == plan {
		return plan, nil
	}
	us.Plan = plan
	if err := s.repo.SaveUserSettings(us); err != nil {
		return "", err
	}
	return plan, nil
}

// Overview is the denormalized, account-scoped billing view served to the
// dashboard. Rebuilt from the mapping and record stores on every read; it has
// no storage of its own to go stale.
type Overview struct {
	Plan                   string     `json:"plan"`
	Entitled               bool       `json:"entitled"`
	Reason                 string     `json:"reason"`
	Status                 string     `json:"status,omitempty"`
	PlanID                 string     `json:"plan_id,omitempty"`
	ExternalCustomerID     string     `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string     `json:"external_subscription_id,omitempty"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end"`
}

// GetOverview assembles the billing projection for one account.
func (s *Service) GetOverview(ctx context.Context, userID uint) (*Overview, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}

	record, err := s.recordForUser(userID)
	if err != nil {
		return nil, err
	}

	decision := entitlements.Evaluate(record, time.Now())
	overview := &Overview{
		Plan:     string(decision.Plan()),
		Entitled: decision.Entitled,
		Reason:   string(decision.Reason),
	}
	if record != nil {
		overview.Status = record.Status
		overview.PlanID = record.PlanID
		overview.ExternalCustomerID = record.ExternalCustomerID
		overview.ExternalSubscriptionID = record.ExternalSubscriptionID
		overview.CurrentPeriodStart = record.CurrentPeriodStart
		overview.CurrentPeriodEnd = record.CurrentPeriodEnd
		overview.CancelAtPeriodEnd = record.CancelAtPeriodEnd
	}
	return overview, nil
}

// recordForUser resolves user -> mapping -> record, treating any missing link
// as "no subscription" rather than an error.
func (s *Service) recordForUser(userID uint) (*models.SubscriptionRecord, error) {
	mapping, err := s.repo.GetCustomerMappingByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	record, err := s.repo.GetSubscriptionRecord(mapping.Provider, mapping.ExternalCustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}
