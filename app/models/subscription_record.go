package models

import "time"

// Subscription status values as reported by the payment provider.
const (
	SubStatusIncomplete        = "incomplete"
	SubStatusIncompleteExpired = "incomplete_expired"
	SubStatusTrialing          = "trialing"
	SubStatusActive            = "active"
	SubStatusPastDue           = "past_due"
	SubStatusCanceled          = "canceled"
	SubStatusUnpaid            = "unpaid"
	SubStatusPaused            = "paused"
)

// SubscriptionRecord caches the latest known provider subscription state per
// customer. One record per ExternalCustomerID; a fresh subscription on the
// same customer reuses the row.
//
// LastEventAt is the ordering signal: the reducer only applies an event whose
// provider-side creation time is not older than this value, which keeps the
// column monotonically non-decreasing and makes delayed duplicates harmless.
type SubscriptionRecord struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	Provider               string         `gorm:"type:varchar(20);not null;default:'stripe';index:ux_subscription_records_customer,unique,priority:1" json:"provider"`
	ExternalCustomerID     string         `gorm:"type:varchar(191);not null;index:ux_subscription_records_customer,unique,priority:2" json:"external_customer_id"`
	ExternalSubscriptionID string         `gorm:"type:varchar(191);not null;default:'';index" json:"external_subscription_id"`
	PlanID                 string         `gorm:"type:varchar(191);not null;default:''" json:"plan_id"`
	Status                 string         `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodStart     *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool           `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventAt            *time.Time     `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	// RemovedAt marks provider-side removal of the subscription object.
	// A plain nullable column rather than gorm.DeletedAt: the row must stay
	// visible to the reducer so a fresh subscription on the same customer can
	// restart the cycle through the same unique key.
	RemovedAt *time.Time `gorm:"type:timestamp;default:null" json:"removed_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRemoved reports whether the provider permanently removed the subscription
// (as opposed to a mere cancellation, which only flips Status).
func (r *SubscriptionRecord) IsRemoved() bool {
	return r.RemovedAt != nil
}
