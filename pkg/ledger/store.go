package ledger

import "context"

// Store is the persistence contract used by Service. Implementations live in
// internal/store (gormstore, pgstore).
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// GetWallet returns ErrUnknownWallet when the user has no wallet row.
	GetWallet(ctx context.Context, userID UserID) (Wallet, error)
	// CreateWallet returns ErrWalletExists when a row already exists.
	CreateWallet(ctx context.Context, wallet Wallet) error
	// CompareAndSwapWallet writes next only if the row still holds expected; otherwise ErrConflict.
	CompareAndSwapWallet(ctx context.Context, expected Wallet, next Wallet) error

	InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
	// GetTransactionByReference returns ErrUnknownTransaction for unknown references.
	GetTransactionByReference(ctx context.Context, reference PaymentReference) (Transaction, error)
	// UpdateTransactionStatus returns ErrTransactionClaimed when the row is no longer in from.
	UpdateTransactionStatus(ctx context.Context, reference PaymentReference, from, to TransactionStatus) error
	ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error)

	CreateBooking(ctx context.Context, booking Booking) (Booking, error)
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	// UpdateBookingStatus returns ErrBookingState when the row is no longer in from.
	UpdateBookingStatus(ctx context.Context, bookingID BookingID, from, to BookingStatus, notes string) error
	ListBookingsCreatedBefore(ctx context.Context, status BookingStatus, createdBeforeUnixUTC int64, limit int) ([]Booking, error)

	CreateVerification(ctx context.Context, verification Verification) (Verification, error)
	GetVerification(ctx context.Context, verificationID VerificationID) (Verification, error)
	// LatestVerification returns ErrUnknownVerification when the booking has none.
	LatestVerification(ctx context.Context, bookingID BookingID) (Verification, error)
	// UpdateVerificationStatus returns ErrVerificationState when the row is no longer in from.
	UpdateVerificationStatus(ctx context.Context, verificationID VerificationID, from, to VerificationStatus, notes string) error

	CreateWithdrawal(ctx context.Context, withdrawal Withdrawal) (Withdrawal, error)
	GetWithdrawal(ctx context.Context, withdrawalID WithdrawalID) (Withdrawal, error)
	// UpdateWithdrawalStatus returns ErrWithdrawalState when the row is no longer in from.
	UpdateWithdrawalStatus(ctx context.Context, withdrawalID WithdrawalID, from, to WithdrawalStatus, notes string, processedUnixUTC int64) error

	CreateDepositRequest(ctx context.Context, request DepositRequest) (DepositRequest, error)
	// GetDepositRequest returns ErrUnknownDepositRequest for unknown ids.
	GetDepositRequest(ctx context.Context, requestID DepositRequestID) (DepositRequest, error)
	// UpdateDepositRequestStatus returns ErrDepositRequestState when the row is no longer in from.
	UpdateDepositRequestStatus(ctx context.Context, requestID DepositRequestID, from, to DepositRequestStatus, notes string, processedUnixUTC int64) error

	// InsertGift returns ErrDuplicateIdempotencyKey when the key was already used.
	InsertGift(ctx context.Context, gift Gift) (Gift, error)
	GetGiftByIdempotencyKey(ctx context.Context, key IdempotencyKey) (Gift, error)
}
