package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Coins is a non-negative coin count.
type Coins int64

// PositiveCoins is a strictly positive coin count.
type PositiveCoins int64

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// VerificationID identifies an identity verification attached to a booking.
type VerificationID struct {
	value string
}

// WithdrawalID identifies a withdrawal request.
type WithdrawalID struct {
	value string
}

// DepositRequestID identifies a manual bank-transfer deposit request.
type DepositRequestID struct {
	value string
}

// PaymentReference identifies one external payment attempt.
type PaymentReference struct {
	value string
}

// IdempotencyKey scopes duplicate detection for client-initiated operations.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// Short returns the first eight characters, used in ledger descriptions.
func (id BookingID) Short() string {
	if len(id.value) <= 8 {
		return id.value
	}
	return id.value[:8]
}

// NewVerificationID validates and normalizes a verification id.
func NewVerificationID(raw string) (VerificationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return VerificationID{}, fmt.Errorf("%w: empty value", ErrInvalidVerificationID)
	}
	return VerificationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id VerificationID) String() string {
	return id.value
}

// NewWithdrawalID validates and normalizes a withdrawal id.
func NewWithdrawalID(raw string) (WithdrawalID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WithdrawalID{}, fmt.Errorf("%w: empty value", ErrInvalidWithdrawalID)
	}
	return WithdrawalID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id WithdrawalID) String() string {
	return id.value
}

// NewDepositRequestID validates and normalizes a deposit request id.
func NewDepositRequestID(raw string) (DepositRequestID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DepositRequestID{}, fmt.Errorf("%w: empty value", ErrInvalidDepositRequestID)
	}
	return DepositRequestID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id DepositRequestID) String() string {
	return id.value
}

// NewPaymentReference validates and normalizes a payment reference.
func NewPaymentReference(raw string) (PaymentReference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentReference{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentReference)
	}
	return PaymentReference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference PaymentReference) String() string {
	return reference.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether no key was supplied.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewCoins validates a coin count and ensures it is not negative.
func NewCoins(raw int64) (Coins, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCoins)
	}
	return Coins(raw), nil
}

// Int64 exposes the raw coin count.
func (coins Coins) Int64() int64 {
	return int64(coins)
}

// NewPositiveCoins validates a coin amount and ensures it is strictly positive.
func NewPositiveCoins(raw int64) (PositiveCoins, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCoins)
	}
	return PositiveCoins(raw), nil
}

// Int64 exposes the raw coin count.
func (coins PositiveCoins) Int64() int64 {
	return int64(coins)
}

// Coins widens the amount to a Coins value.
func (coins PositiveCoins) Coins() Coins {
	return Coins(coins)
}

// Wallet is the authoritative balance pair for one user.
type Wallet struct {
	UserID        UserID
	Balance       Coins
	EscrowBalance Coins
}

// Total returns spendable plus escrowed coins.
func (wallet Wallet) Total() Coins {
	return wallet.Balance + wallet.EscrowBalance
}

// Apply returns the wallet after the deltas, refusing to produce a negative field.
func (wallet Wallet) Apply(balanceDelta int64, escrowDelta int64) (Wallet, error) {
	nextBalance := wallet.Balance.Int64() + balanceDelta
	if nextBalance < 0 {
		return Wallet{}, fmt.Errorf("%w: balance %d cannot cover %d", ErrInsufficientFunds, wallet.Balance, -balanceDelta)
	}
	nextEscrow := wallet.EscrowBalance.Int64() + escrowDelta
	if nextEscrow < 0 {
		return Wallet{}, fmt.Errorf("%w: escrow %d cannot cover %d", ErrInsufficientFunds, wallet.EscrowBalance, -escrowDelta)
	}
	return Wallet{UserID: wallet.UserID, Balance: Coins(nextBalance), EscrowBalance: Coins(nextEscrow)}, nil
}

// TransactionType enumerates ledger row kinds.
type TransactionType string

const (
	TransactionDeposit      TransactionType = "deposit"
	TransactionRefund       TransactionType = "refund"
	TransactionBooking      TransactionType = "booking"
	TransactionPayout       TransactionType = "payout"
	TransactionGiftSent     TransactionType = "gift_sent"
	TransactionGiftReceived TransactionType = "gift_received"
)

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionDeposit, TransactionRefund, TransactionBooking, TransactionPayout, TransactionGiftSent, TransactionGiftReceived:
		return TransactionType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// TransactionStatus defines the ledger row lifecycle.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// ParseTransactionStatus validates a stored transaction status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionPending, TransactionCompleted, TransactionFailed:
		return TransactionStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
	}
}

// Transaction is one append-only ledger row. AmountMinor is informational and
// expressed in minor currency units.
type Transaction struct {
	ID             string
	UserID         UserID
	AmountMinor    int64
	Coins          Coins
	Type           TransactionType
	Status         TransactionStatus
	Description    string
	Reference      string
	ReferenceID    string
	Provider       string
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// BookingStatus is the booking lifecycle as seen by the ledger.
type BookingStatus string

const (
	BookingPending             BookingStatus = "pending"
	BookingPaymentPending      BookingStatus = "payment_pending"
	BookingVerificationPending BookingStatus = "verification_pending"
	BookingConfirmed           BookingStatus = "confirmed"
	BookingCompleted           BookingStatus = "completed"
	BookingCancelled           BookingStatus = "cancelled"
	BookingExpired             BookingStatus = "expired"
)

// ParseBookingStatus validates a stored booking status.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(raw) {
	case BookingPending, BookingPaymentPending, BookingVerificationPending, BookingConfirmed, BookingCompleted, BookingCancelled, BookingExpired:
		return BookingStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
	}
}

// Terminal reports whether no further transition is allowed.
func (status BookingStatus) Terminal() bool {
	return status == BookingCompleted || status == BookingCancelled || status == BookingExpired
}

// Booking is the external booking record consumed by the escrow controller.
type Booking struct {
	ID             BookingID
	ClientID       UserID
	TalentID       UserID
	TotalPrice     PositiveCoins
	Status         BookingStatus
	Notes          string
	CreatedUnixUTC int64
}

// VerificationStatus is the admin review lifecycle.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

// ParseVerificationStatus validates a stored verification status.
func ParseVerificationStatus(raw string) (VerificationStatus, error) {
	switch VerificationStatus(raw) {
	case VerificationPending, VerificationApproved, VerificationRejected:
		return VerificationStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVerificationStatus, raw)
	}
}

// Verification is an identity check the admin approves or rejects for a booking.
type Verification struct {
	ID         VerificationID
	BookingID  BookingID
	ClientID   UserID
	Status     VerificationStatus
	AdminNotes string
}

// WithdrawalStatus is the payout request lifecycle.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// ParseWithdrawalStatus validates a stored withdrawal status.
func ParseWithdrawalStatus(raw string) (WithdrawalStatus, error) {
	switch WithdrawalStatus(raw) {
	case WithdrawalPending, WithdrawalApproved, WithdrawalRejected:
		return WithdrawalStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWithdrawalStatus, raw)
	}
}

// Withdrawal is a talent's request to cash out coins.
type Withdrawal struct {
	ID               WithdrawalID
	TalentID         UserID
	Amount           PositiveCoins
	Status           WithdrawalStatus
	AdminNotes       string
	ProcessedUnixUTC int64
}

// DepositRequestStatus is the manual deposit review lifecycle.
type DepositRequestStatus string

const (
	DepositRequestPending  DepositRequestStatus = "pending"
	DepositRequestApproved DepositRequestStatus = "approved"
	DepositRequestRejected DepositRequestStatus = "rejected"
)

// ParseDepositRequestStatus validates a stored deposit request status.
func ParseDepositRequestStatus(raw string) (DepositRequestStatus, error) {
	switch DepositRequestStatus(raw) {
	case DepositRequestPending, DepositRequestApproved, DepositRequestRejected:
		return DepositRequestStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDepositRequestStatus, raw)
	}
}

// DepositRequest is a bank transfer a user reports with proof of payment.
// An admin confirms the transfer before any coins are credited.
type DepositRequest struct {
	ID               DepositRequestID
	UserID           UserID
	AmountMinor      int64
	ProofURL         string
	Reference        string
	Status           DepositRequestStatus
	AdminNotes       string
	ProcessedUnixUTC int64
	CreatedUnixUTC   int64
}

// Coins converts the transferred amount at the fixed coin price, rounding down.
func (request DepositRequest) Coins() Coins {
	return Coins(request.AmountMinor / MinorUnitsPerCoin)
}

// Gift is a completed peer-to-peer transfer.
type Gift struct {
	ID             string
	SenderID       UserID
	RecipientID    UserID
	Amount         PositiveCoins
	Message        string
	IdempotencyKey string
	CreatedUnixUTC int64
}

// NotificationType names a user-facing notification.
type NotificationType string

const (
	NotificationPurchaseSuccess    NotificationType = "purchase_success"
	NotificationPurchaseFailed     NotificationType = "purchase_failed"
	NotificationLowBalance         NotificationType = "low_balance"
	NotificationGiftSent           NotificationType = "gift_sent"
	NotificationGiftReceived       NotificationType = "gift_received"
	NotificationBookingCancelled   NotificationType = "booking_cancelled"
	NotificationBookingCompleted   NotificationType = "booking_completed"
	NotificationBookingExpired     NotificationType = "booking_expired"
	NotificationWithdrawalApproved NotificationType = "withdrawal_approved"
	NotificationWithdrawalRejected NotificationType = "withdrawal_rejected"
)

// Notification is a write-only message for a user.
type Notification struct {
	UserID  UserID
	Type    NotificationType
	Title   string
	Message string
	Data    map[string]any
}
