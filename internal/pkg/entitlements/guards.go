package entitlements

import (
	"errors"
	"time"

	"github.com/DanielKirsch/Faktura/app/models"
	"gorm.io/gorm"
)

// ErrUpgradeRequired is the domain error returned when a protected write is
// blocked by the account's current tier. Callers surface it as an upgrade
// prompt, not as a failure.
var ErrUpgradeRequired = errors.New("plan upgrade required")

// DefaultFreeClientLimit is how many clients a free-tier account may keep.
const DefaultFreeClientLimit = 5

// Source answers the lookups a guard needs. The production implementation
// wraps the transaction of the write being guarded.
type Source interface {
	CustomerMappingByUser(userID uint) (*models.CustomerMapping, error)
	SubscriptionRecord(provider, externalCustomerID string) (*models.SubscriptionRecord, error)
	CountClientsByUser(userID uint) (int64, error)
}

// GuardConfig carries the tier limits enforced by the guards.
type GuardConfig struct {
	FreeClientLimit int64
}

// Guard enforces entitlement at the moment of a protected write. Every check
// runs against the transaction of the write it protects and re-evaluates
// entitlement from the stored subscription record, so a webhook landing a
// moment earlier is honored and a dashboard rendered before an upgrade is not
// trusted.
type Guard struct {
	cfg GuardConfig
}

// NewGuard creates a guard with the given limits; zero limits fall back to
// the defaults.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.FreeClientLimit <= 0 {
		cfg.FreeClientLimit = DefaultFreeClientLimit
	}
	return &Guard{cfg: cfg}
}

// CheckClientQuota is the quantity guard for client creation: entitled
// accounts create without limit, free-tier accounts are capped. Must be
// called with a source bound to the transaction that inserts the client row.
func (g *Guard) CheckClientQuota(src Source, userID uint, now time.Time) error {
	decision, err := EvaluateForUser(src, userID, now)
	if err != nil {
		return err
	}
	if decision.Entitled {
		return nil
	}

	count, err := src.CountClientsByUser(userID)
	if err != nil {
		return err
	}
	if count >= g.cfg.FreeClientLimit {
		return ErrUpgradeRequired
	}
	return nil
}

// CheckRecurringInvoices is the feature guard for recurring invoice creation:
// the feature is premium-only regardless of how many rows exist.
func (g *Guard) CheckRecurringInvoices(src Source, userID uint, now time.Time) error {
	decision, err := EvaluateForUser(src, userID, now)
	if err != nil {
		return err
	}
	if !decision.Entitled {
		return ErrUpgradeRequired
	}
	return nil
}

// EvaluateForUser resolves the user's customer mapping and subscription
// record and evaluates entitlement. Missing mapping or record simply means
// free tier, never an error.
func EvaluateForUser(src Source, userID uint, now time.Time) (Decision, error) {
	mapping, err := src.CustomerMappingByUser(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Evaluate(nil, now), nil
		}
		return Decision{}, err
	}

	record, err := src.SubscriptionRecord(mapping.Provider, mapping.ExternalCustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Evaluate(nil, now), nil
		}
		return Decision{}, err
	}
	return Evaluate(record, now), nil
}

// gormSource is the production Source, bound to a live transaction.
type gormSource struct {
	tx *gorm.DB
}

// NewSource wraps a transaction as a guard source.
func NewSource(tx *gorm.DB) Source {
	return gormSource{tx: tx}
}

func (s gormSource) CustomerMappingByUser(userID uint) (*models.CustomerMapping, error) {
	var mapping models.CustomerMapping
	if err := s.tx.Where("user_id = ?", userID).First(&mapping).Error; err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s gormSource) SubscriptionRecord(provider, externalCustomerID string) (*models.SubscriptionRecord, error) {
	var record models.SubscriptionRecord
	if err := s.tx.Where("provider = ? AND external_customer_id = ?", provider, externalCustomerID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s gormSource) CountClientsByUser(userID uint) (int64, error) {
	var count int64
	err := s.tx.Model(&models.Client{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
