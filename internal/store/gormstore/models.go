package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the coin_accounts table.
type Account struct {
	AccountID     string     `gorm:"type:uuid;primaryKey"`
	UserID        string     `gorm:"not null;index:uniq_coin_accounts_user,unique"`
	DisplayName   string     `gorm:"not null"`
	Balance       int64      `gorm:"not null"`
	TotalEarned   int64      `gorm:"not null;index:idx_coin_accounts_total_earned"`
	CurrentStreak int        `gorm:"not null"`
	LastPaymentAt *time.Time `gorm:""`
	Version       int64      `gorm:"not null"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

func (Account) TableName() string { return "coin_accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// CoinBatch mirrors the coin_batches table.
type CoinBatch struct {
	BatchID          string    `gorm:"type:uuid;primaryKey"`
	AccountID        string    `gorm:"type:uuid;not null;index:idx_coin_batches_account_created,priority:1"`
	Amount           int64     `gorm:"not null"`
	RemainingBalance int64     `gorm:"not null"`
	ExpiresAt        time.Time `gorm:"not null;index:idx_coin_batches_expires"`
	CreatedAt        time.Time `gorm:"not null;index:idx_coin_batches_account_created,priority:2"`
}

func (CoinBatch) TableName() string { return "coin_batches" }

func (batch *CoinBatch) BeforeCreate(tx *gorm.DB) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.NewString()
	}
	return nil
}

// CoinTransaction mirrors the append-only coin_transactions table. The
// reference document is part of a unique index so the same platform event can
// only ever be booked once per account and source.
type CoinTransaction struct {
	TransactionID string          `gorm:"type:uuid;primaryKey"`
	AccountID     string          `gorm:"type:uuid;not null;index:idx_coin_txns_account_created,priority:1;index:uniq_coin_txns_reference,unique,priority:1"`
	Direction     string          `gorm:"not null"`
	Amount        int64           `gorm:"not null"`
	Source        string          `gorm:"not null;index:uniq_coin_txns_reference,unique,priority:2"`
	Reference     *datatypes.JSON `gorm:"type:jsonb;index:uniq_coin_txns_reference,unique,priority:3"`
	Description   string          `gorm:"not null"`
	BalanceAfter  int64           `gorm:"not null"`
	CreatedAt     time.Time       `gorm:"not null;index:idx_coin_txns_account_created,priority:2"`
}

func (CoinTransaction) TableName() string { return "coin_transactions" }

func (entry *CoinTransaction) BeforeCreate(tx *gorm.DB) error {
	if entry.TransactionID == "" {
		entry.TransactionID = uuid.NewString()
	}
	return nil
}

// ExpiryNotice mirrors the coin_expiry_notices dedupe table. One row per
// account, calendar year and warning threshold.
type ExpiryNotice struct {
	AccountID     string    `gorm:"type:uuid;primaryKey"`
	Year          int       `gorm:"primaryKey"`
	ThresholdDays int       `gorm:"primaryKey"`
	SentAt        time.Time `gorm:"not null"`
}

func (ExpiryNotice) TableName() string { return "coin_expiry_notices" }
