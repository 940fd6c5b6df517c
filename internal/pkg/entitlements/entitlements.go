package entitlements

import (
	"time"

	"github.com/DanielKirsch/Faktura/app/models"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Reason explains an entitlement decision.
type Reason string

const (
	ReasonNone     Reason = "none"
	ReasonActive   Reason = "active"
	ReasonTrialing Reason = "trialing"
	ReasonGrace    Reason = "grace"
)

// Decision is the computed entitlement outcome. Never persisted; recomputed
// at every enforcement point.
type Decision struct {
	Entitled bool   `json:"entitled"`
	Reason   Reason `json:"reason"`
}

// Plan maps the decision to the internal plan string stored on UserSettings.
func (d Decision) Plan() Plan {
	if d.Entitled {
		return PlanPremium
	}
	return PlanFree
}

// Evaluate computes the entitlement decision for a cached subscription record
// at the given instant. Total and deterministic: a nil record, a removed
// subscription or any unknown status means not entitled. A past_due
// subscription keeps access until the already-paid period has elapsed.
func Evaluate(record *models.SubscriptionRecord, now time.Time) Decision {
	if record == nil || record.IsRemoved() {
		return Decision{Entitled: false, Reason: ReasonNone}
	}

	switch record.Status {
	case models.SubStatusActive:
		return Decision{Entitled: true, Reason: ReasonActive}
	case models.SubStatusTrialing:
		return Decision{Entitled: true, Reason: ReasonTrialing}
	case models.SubStatusPastDue:
		if record.CurrentPeriodEnd != nil && record.CurrentPeriodEnd.After(now) {
			return Decision{Entitled: true, Reason: ReasonGrace}
		}
	}
	return Decision{Entitled: false, Reason: ReasonNone}
}
