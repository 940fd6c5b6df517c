package repository

import (
	"github.com/DanielKirsch/Faktura/app/models"
	"gorm.io/gorm"
)

// recurringInvoiceRepository implements the RecurringInvoiceRepository interface
type recurringInvoiceRepository struct {
	db *gorm.DB
}

// NewRecurringInvoiceRepository creates a new recurring invoice repository instance
func NewRecurringInvoiceRepository(db *gorm.DB) RecurringInvoiceRepository {
	return &recurringInvoiceRepository{db: db}
}

// Create creates a new recurring invoice in the database
func (r *recurringInvoiceRepository) Create(invoice *models.RecurringInvoice) error {
	return r.db.Create(invoice).Error
}

// CreateTx creates a recurring invoice inside an existing transaction so the
// feature guard and the insert share one commit.
func (r *recurringInvoiceRepository) CreateTx(tx *gorm.DB, invoice *models.RecurringInvoice) error {
	return tx.Create(invoice).Error
}

// GetByID retrieves a recurring invoice by its ID
func (r *recurringInvoiceRepository) GetByID(id uint) (*models.RecurringInvoice, error) {
	var invoice models.RecurringInvoice
	err := r.db.First(&invoice, id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetByUUID retrieves a recurring invoice by its public UUID
func (r *recurringInvoiceRepository) GetByUUID(uuid string) (*models.RecurringInvoice, error) {
	var invoice models.RecurringInvoice
	err := r.db.Where("uuid = ?", uuid).First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetByUserID retrieves the recurring invoices owned by a user, paginated
func (r *recurringInvoiceRepository) GetByUserID(userID uint, offset, limit int) ([]models.RecurringInvoice, error) {
	var invoices []models.RecurringInvoice
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Offset(offset).Limit(limit).Find(&invoices).Error
	return invoices, err
}

// Update saves changes to an existing recurring invoice
func (r *recurringInvoiceRepository) Update(invoice *models.RecurringInvoice) error {
	return r.db.Save(invoice).Error
}

// Delete soft-deletes a recurring invoice by ID
func (r *recurringInvoiceRepository) Delete(id uint) error {
	return r.db.Delete(&models.RecurringInvoice{}, id).Error
}

// CountByUserID returns how many recurring invoices a user owns
func (r *recurringInvoiceRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.RecurringInvoice{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
