package repository

import (
	"github.com/DanielKirsch/Faktura/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	Update(user *models.User) error
	Delete(id uint) error
	Count() (int64, error)
}

// ClientRepository defines the interface for client-related database operations
type ClientRepository interface {
	Create(client *models.Client) error
	CreateTx(tx *gorm.DB, client *models.Client) error
	GetByID(id uint) (*models.Client, error)
	GetByUUID(uuid string) (*models.Client, error)
	GetByUserID(userID uint, offset, limit int) ([]models.Client, error)
	Update(client *models.Client) error
	Delete(id uint) error
	CountByUserID(userID uint) (int64, error)
}

// RecurringInvoiceRepository defines the interface for recurring invoice operations
type RecurringInvoiceRepository interface {
	Create(invoice *models.RecurringInvoice) error
	CreateTx(tx *gorm.DB, invoice *models.RecurringInvoice) error
	GetByID(id uint) (*models.RecurringInvoice, error)
	GetByUUID(uuid string) (*models.RecurringInvoice, error)
	GetByUserID(userID uint, offset, limit int) ([]models.RecurringInvoice, error)
	Update(invoice *models.RecurringInvoice) error
	Delete(id uint) error
	CountByUserID(userID uint) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User             UserRepository
	Client           ClientRepository
	RecurringInvoice RecurringInvoiceRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:             NewUserRepository(db),
		Client:           NewClientRepository(db),
		RecurringInvoice: NewRecurringInvoiceRepository(db),
	}
}
