package billing

import (
	"time"

	"github.com/DanielKirsch/Faktura/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	Transaction(fn func(Repository) error) error
	GetCustomerMapping(provider, externalCustomerID string) (*models.CustomerMapping, error)
	GetCustomerMappingByUser(userID uint) (*models.CustomerMapping, error)
	CreateCustomerMappingIfNotExists(mapping *models.CustomerMapping) error
	GetSubscriptionRecord(provider, externalCustomerID string) (*models.SubscriptionRecord, error)
	ApplySubscriptionPatch(patch SubscriptionPatch) (bool, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	GetOrCreateUserSettings(userID uint) (*models.UserSettings, error)
	SaveUserSettings(us *models.UserSettings) error
}

// SubscriptionPatch is one freshness-guarded write against a customer's
// subscription record. Assignments holds only the columns the originating
// event carries; Insert is the full row used when no record exists yet.
type SubscriptionPatch struct {
	Provider           string
	ExternalCustomerID string
	OrderedAt          time.Time
	Assignments        map[string]interface{}
	Insert             models.SubscriptionRecord
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetCustomerMapping(provider, externalCustomerID string) (*models.CustomerMapping, error) {
	var m models.CustomerMapping
	err := r.db.Where("provider = ? AND external_customer_id = ?", provider, externalCustomerID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) GetCustomerMappingByUser(userID uint) (*models.CustomerMapping, error) {
	var m models.CustomerMapping
	err := r.db.Where("user_id = ?", userID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) CreateCustomerMappingIfNotExists(mapping *models.CustomerMapping) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_customer_id"},
		},
		DoNothing: true,
	}).Create(mapping).Error; err != nil {
		return err
	}

	// Ensure ID and owning user are populated after a lost insert race.
	return r.db.Where("provider = ? AND external_customer_id = ?", mapping.Provider, mapping.ExternalCustomerID).
		First(mapping).Error
}

func (r *gormRepository) GetSubscriptionRecord(provider, externalCustomerID string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := r.db.Where("provider = ? AND external_customer_id = ?", provider, externalCustomerID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ApplySubscriptionPatch performs the reducer's atomic read-compare-write as
// a single guarded UPDATE (update wins only when the stored last_event_at is
// not newer), falling back to an insert-on-conflict-do-nothing when no record
// exists. Returns whether the patch was applied; false means the incoming
// event was stale and the record is untouched.
func (r *gormRepository) ApplySubscriptionPatch(patch SubscriptionPatch) (bool, error) {
	res := r.db.Model(&models.SubscriptionRecord{}).
		Where("provider = ? AND external_customer_id = ? AND (last_event_at IS NULL OR last_event_at <= ?)",
			patch.Provider, patch.ExternalCustomerID, patch.OrderedAt).
		Updates(patch.Assignments)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	insert := patch.Insert
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_customer_id"},
		},
		DoNothing: true,
	}).Create(&insert)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	// A row exists but the guarded update matched nothing: either the stored
	// state is fresher (stale event, correct no-op) or a concurrent insert
	// won the race after our update ran. Retry the update once to cover the
	// latter; a second zero-row result is a genuine stale event.
	res = r.db.Model(&models.SubscriptionRecord{}).
		Where("provider = ? AND external_customer_id = ? AND (last_event_at IS NULL OR last_event_at <= ?)",
			patch.Provider, patch.ExternalCustomerID, patch.OrderedAt).
		Updates(patch.Assignments)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

func (r *gormRepository) SaveUserSettings(us *models.UserSettings) error {
	return r.db.Save(us).Error
}
