package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditBalance is an owner's SMS quota. Remaining is always Total-Used.
// Reserved holds credits for sends that are in flight and not yet settled.
type CreditBalance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OwnerID   uint      `gorm:"not null;uniqueIndex:uk_credit_balances_owner_id" json:"owner_id"`
	Total     int64     `gorm:"not null;default:0;check:chk_credit_balances_total,total >= 0" json:"total"`
	Used      int64     `gorm:"not null;default:0;check:chk_credit_balances_used,used >= 0 AND used <= total" json:"used"`
	Reserved  int64     `gorm:"not null;default:0;check:chk_credit_balances_reserved,reserved >= 0" json:"reserved"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "credit_balances"
}

// Remaining is the unspent quota
func (b *CreditBalance) Remaining() int64 {
	return b.Total - b.Used
}

// Available is the quota that may still be reserved
func (b *CreditBalance) Available() int64 {
	return b.Total - b.Used - b.Reserved
}

// CreditPurchase is one top-up in the credit ledger
type CreditPurchase struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UUID             uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_credit_purchases_uuid" json:"uuid"`
	OwnerID          uint      `gorm:"not null;index:idx_credit_purchases_owner_id" json:"owner_id"`
	Amount           int64     `gorm:"not null" json:"amount"`
	PaymentReference *string   `gorm:"size:255" json:"payment_reference,omitempty"`
	TotalAfter       int64     `gorm:"not null" json:"total_after"`
	CreatedAt        time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_credit_purchases_created_at" json:"created_at"`
}

func (CreditPurchase) TableName() string {
	return "credit_purchases"
}

func (p *CreditPurchase) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	return nil
}

// CreditPurchaseFilter represents filter criteria for the credit ledger
type CreditPurchaseFilter struct {
	OwnerID       *uint
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
