package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client is a billable customer of a Faktura user. Client creation is gated
// by the free-tier quantity guard; only rows with DeletedAt null count toward
// the limit.
type Client struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UUID      string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	User      User           `gorm:"foreignKey:UserID" json:"user,omitempty" validate:"-"`
	Name      string         `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=2,max=200"`
	Email     string         `gorm:"type:varchar(200);default:''" json:"email" validate:"omitempty,email,max=200"`
	Company   string         `gorm:"type:varchar(200);default:''" json:"company" validate:"max=200"`
	Address   string         `gorm:"type:text" json:"address"`
	VATNumber string         `gorm:"type:varchar(50);default:''" json:"vat_number" validate:"max=50"`
	Notes     string         `gorm:"type:text" json:"notes"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (c *Client) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == "" {
		c.UUID = uuid.New().String()
	}
	return nil
}
