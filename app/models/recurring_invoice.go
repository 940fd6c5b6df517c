package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recurrence intervals supported for recurring invoices.
const (
	RecurrenceWeekly    = "weekly"
	RecurrenceMonthly   = "monthly"
	RecurrenceQuarterly = "quarterly"
	RecurrenceYearly    = "yearly"
)

// RecurringInvoice is a premium-only invoice template that is materialized
// into real invoices on a schedule. Creation passes through the feature guard.
type RecurringInvoice struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UUID        string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	User        User           `gorm:"foreignKey:UserID" json:"user,omitempty" validate:"-"`
	ClientID    uint           `gorm:"not null;index" json:"client_id"`
	Client      Client         `gorm:"foreignKey:ClientID" json:"client,omitempty" validate:"-"`
	Title       string         `gorm:"type:varchar(255);not null" json:"title" validate:"required,min=3,max=255"`
	AmountCents int64          `gorm:"not null;default:0" json:"amount_cents" validate:"min=0"`
	Currency    string         `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency" validate:"len=3"`
	Recurrence  string         `gorm:"type:varchar(20);not null;default:'monthly'" json:"recurrence" validate:"oneof=weekly monthly quarterly yearly"`
	NextRunAt   *time.Time     `gorm:"type:timestamp;default:null" json:"next_run_at,omitempty"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ri *RecurringInvoice) Validate() error {
	v := validator.New()

	return v.Struct(ri)
}

func (ri *RecurringInvoice) BeforeCreate(tx *gorm.DB) error {
	if ri.UUID == "" {
		ri.UUID = uuid.New().String()
	}
	return nil
}
