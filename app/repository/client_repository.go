package repository

import (
	"github.com/DanielKirsch/Faktura/app/models"
	"gorm.io/gorm"
)

// clientRepository implements the ClientRepository interface
type clientRepository struct {
	db *gorm.DB
}

// NewClientRepository creates a new client repository instance
func NewClientRepository(db *gorm.DB) ClientRepository {
	return &clientRepository{db: db}
}

// Create creates a new client in the database
func (r *clientRepository) Create(client *models.Client) error {
	return r.db.Create(client).Error
}

// CreateTx creates a client inside an existing transaction. Used by the
// guarded write path so quota check and insert commit or roll back together.
func (r *clientRepository) CreateTx(tx *gorm.DB, client *models.Client) error {
	return tx.Create(client).Error
}

// GetByID retrieves a client by its ID
func (r *clientRepository) GetByID(id uint) (*models.Client, error) {
	var client models.Client
	err := r.db.First(&client, id).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetByUUID retrieves a client by its public UUID
func (r *clientRepository) GetByUUID(uuid string) (*models.Client, error) {
	var client models.Client
	err := r.db.Where("uuid = ?", uuid).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetByUserID retrieves the clients owned by a user, paginated
func (r *clientRepository) GetByUserID(userID uint, offset, limit int) ([]models.Client, error) {
	var clients []models.Client
	err := r.db.Where("user_id = ?", userID).Order("name ASC").Offset(offset).Limit(limit).Find(&clients).Error
	return clients, err
}

// Update saves changes to an existing client
func (r *clientRepository) Update(client *models.Client) error {
	return r.db.Save(client).Error
}

// Delete soft-deletes a client by ID
func (r *clientRepository) Delete(id uint) error {
	return r.db.Delete(&models.Client{}, id).Error
}

// CountByUserID returns how many active clients a user owns
func (r *clientRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Client{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
