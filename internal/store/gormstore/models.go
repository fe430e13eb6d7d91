package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet mirrors the wallets table. Balance and EscrowBalance are the
// compare-and-swap columns.
type Wallet struct {
	UserID        string    `gorm:"primaryKey"`
	Balance       int64     `gorm:"not null;default:0;check:chk_wallets_balance,balance >= 0"`
	EscrowBalance int64     `gorm:"not null;default:0;check:chk_wallets_escrow,escrow_balance >= 0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// Transaction mirrors the transactions table.
type Transaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	UserID        string         `gorm:"not null;index:idx_transactions_user_created,priority:1"`
	AmountMinor   int64          `gorm:"not null;default:0"`
	Coins         int64          `gorm:"not null"`
	Type          string         `gorm:"not null"`
	Status        string         `gorm:"not null"`
	Description   string         `gorm:"not null;default:''"`
	Reference     *string        `gorm:"uniqueIndex:uniq_transactions_reference"`
	ReferenceID   string         `gorm:"not null;default:''"`
	Provider      string         `gorm:"not null;default:''"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_transactions_user_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Booking mirrors the bookings table.
type Booking struct {
	BookingID  string    `gorm:"type:uuid;primaryKey"`
	ClientID   string    `gorm:"not null;index"`
	TalentID   string    `gorm:"not null;index"`
	TotalPrice int64     `gorm:"not null"`
	Status     string    `gorm:"not null;index:idx_bookings_status_created,priority:1"`
	Notes      string    `gorm:"not null;default:''"`
	CreatedAt  time.Time `gorm:"not null;index:idx_bookings_status_created,priority:2"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	return nil
}

// Verification mirrors the identity_verifications table.
type Verification struct {
	VerificationID string    `gorm:"type:uuid;primaryKey"`
	BookingID      string    `gorm:"not null;index:idx_verifications_booking_created,priority:1"`
	ClientID       string    `gorm:"not null"`
	Status         string    `gorm:"not null"`
	AdminNotes     string    `gorm:"not null;default:''"`
	CreatedAt      time.Time `gorm:"not null;index:idx_verifications_booking_created,priority:2"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Verification) TableName() string { return "identity_verifications" }

func (verification *Verification) BeforeCreate(tx *gorm.DB) error {
	if verification.VerificationID == "" {
		verification.VerificationID = uuid.NewString()
	}
	return nil
}

// Withdrawal mirrors the withdrawal_requests table.
type Withdrawal struct {
	WithdrawalID string     `gorm:"type:uuid;primaryKey"`
	TalentID     string     `gorm:"not null;index"`
	Amount       int64      `gorm:"not null"`
	Status       string     `gorm:"not null"`
	AdminNotes   string     `gorm:"not null;default:''"`
	ProcessedAt  *time.Time `gorm:""`
	CreatedAt    time.Time  `gorm:"not null"`
}

func (Withdrawal) TableName() string { return "withdrawal_requests" }

func (withdrawal *Withdrawal) BeforeCreate(tx *gorm.DB) error {
	if withdrawal.WithdrawalID == "" {
		withdrawal.WithdrawalID = uuid.NewString()
	}
	return nil
}

// DepositRequest mirrors the deposit_requests table.
type DepositRequest struct {
	DepositRequestID string     `gorm:"type:uuid;primaryKey"`
	UserID           string     `gorm:"not null;index"`
	AmountMinor      int64      `gorm:"not null;check:chk_deposit_requests_amount,amount_minor > 0"`
	ProofURL         string     `gorm:"not null"`
	Reference        string     `gorm:"not null;default:''"`
	Status           string     `gorm:"not null;index:idx_deposit_requests_status_created,priority:1"`
	AdminNotes       string     `gorm:"not null;default:''"`
	ProcessedAt      *time.Time `gorm:""`
	CreatedAt        time.Time  `gorm:"not null;index:idx_deposit_requests_status_created,priority:2"`
}

func (DepositRequest) TableName() string { return "deposit_requests" }

func (request *DepositRequest) BeforeCreate(tx *gorm.DB) error {
	if request.DepositRequestID == "" {
		request.DepositRequestID = uuid.NewString()
	}
	return nil
}

// Gift mirrors the gifts table.
type Gift struct {
	GiftID         string    `gorm:"type:uuid;primaryKey"`
	SenderID       string    `gorm:"not null;index"`
	RecipientID    string    `gorm:"not null;index"`
	Amount         int64     `gorm:"not null"`
	Message        string    `gorm:"not null;default:''"`
	IdempotencyKey *string   `gorm:"uniqueIndex:uniq_gifts_idempotency_key"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (Gift) TableName() string { return "gifts" }

func (gift *Gift) BeforeCreate(tx *gorm.DB) error {
	if gift.GiftID == "" {
		gift.GiftID = uuid.NewString()
	}
	return nil
}

// Notification mirrors the notifications table read by the notification consumer.
type Notification struct {
	NotificationID string         `gorm:"type:uuid;primaryKey"`
	UserID         string         `gorm:"not null;index:idx_notifications_user_created,priority:1"`
	Type           string         `gorm:"not null"`
	Title          string         `gorm:"not null"`
	Message        string         `gorm:"not null"`
	Data           datatypes.JSON `gorm:"type:jsonb;not null"`
	Read           bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_notifications_user_created,priority:2"`
}

func (Notification) TableName() string { return "notifications" }

func (notification *Notification) BeforeCreate(tx *gorm.DB) error {
	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Wallet{}, &Transaction{}, &Booking{}, &Verification{}, &Withdrawal{}, &DepositRequest{}, &Gift{}, &Notification{}}
}
