package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionReference = "uniq_transactions_reference"
	constraintGiftIdempotencyKey   = "uniq_gifts_idempotency_key"
	defaultMetadataJSON            = "{}"
	pgUniqueViolationCode          = "23505"
	pgSerializationFailureCode     = "40001"
	pgDeadlockDetectedCode         = "40P01"
	sqliteBusyCode                 = 5
	sqliteLockedCode               = 6
	sqliteConstraintUniqueCode     = 2067
	sqliteConstraintPrimaryKeyCode = 1555
	errorOperationStore            = "store"
	errorSubjectWallet             = "wallet"
	errorSubjectTransaction        = "transaction"
	errorSubjectBooking            = "booking"
	errorSubjectVerification       = "verification"
	errorSubjectWithdrawal         = "withdrawal"
	errorSubjectGift               = "gift"
	errorSubjectNotification       = "notification"
	errorSubjectUnitOfWork         = "unit_of_work"
	errorSubjectDepositRequest     = "deposit_request"
	errorCodeCommit                = "commit"
	errorCodeCompareAndSwap        = "compare_and_swap"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeUpdateStatus          = "update_status"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
	if err != nil && !errors.Is(err, ledger.ErrConflict) && isTransientConflict(err) {
		return wrapStoreError(errorSubjectUnitOfWork, errorCodeCommit, err)
	}
	return err
}

func (store *Store) GetWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, ledger.ErrUnknownWallet)
		}
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	wallet, err := mapWallet(model)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return wallet, nil
}

func (store *Store) CreateWallet(ctx context.Context, wallet ledger.Wallet) error {
	now := time.Now().UTC()
	model := Wallet{
		UserID:        wallet.UserID.String(),
		Balance:       wallet.Balance.Int64(),
		EscrowBalance: wallet.EscrowBalance.Int64(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeCreate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeDuplicate, ledger.ErrWalletExists)
	}
	return nil
}

// CompareAndSwapWallet is the only wallet write path: the update is
// conditioned on both columns still holding the values read by the caller.
func (store *Store) CompareAndSwapWallet(ctx context.Context, expected ledger.Wallet, next ledger.Wallet) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("user_id = ? AND balance = ? AND escrow_balance = ?", expected.UserID.String(), expected.Balance.Int64(), expected.EscrowBalance.Int64()).
		Updates(map[string]any{
			"balance":        next.Balance.Int64(),
			"escrow_balance": next.EscrowBalance.Int64(),
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeCompareAndSwap, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeCompareAndSwap, ledger.ErrConflict)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) (ledger.Transaction, error) {
	model := Transaction{
		UserID:      transaction.UserID.String(),
		AmountMinor: transaction.AmountMinor,
		Coins:       transaction.Coins.Int64(),
		Type:        string(transaction.Type),
		Status:      string(transaction.Status),
		Description: transaction.Description,
		Reference:   optionalString(transaction.Reference),
		ReferenceID: transaction.ReferenceID,
		Provider:    transaction.Provider,
		Metadata:    datatypesJSON(transaction.Metadata.String()),
		CreatedAt:   unixOrNow(transaction.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintTransactionReference) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateEvent)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction.ID = model.TransactionID
	transaction.CreatedUnixUTC = model.CreatedAt.Unix()
	return transaction, nil
}

func (store *Store) GetTransactionByReference(ctx context.Context, reference ledger.PaymentReference) (ledger.Transaction, error) {
	var model Transaction
	err := store.db.WithContext(ctx).Where("reference = ?", reference.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrUnknownTransaction)
		}
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapTransaction(model)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) UpdateTransactionStatus(ctx context.Context, reference ledger.PaymentReference, from, to ledger.TransactionStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("reference = ? AND status = ?", reference.String(), string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, ledger.ErrTransactionClaimed)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) CreateBooking(ctx context.Context, booking ledger.Booking) (ledger.Booking, error) {
	createdAt := unixOrNow(booking.CreatedUnixUTC)
	model := Booking{
		BookingID:  booking.ID.String(),
		ClientID:   booking.ClientID.String(),
		TalentID:   booking.TalentID.String(),
		TotalPrice: booking.TotalPrice.Int64(),
		Status:     string(booking.Status),
		Notes:      booking.Notes,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	created, err := mapBooking(model)
	if err != nil {
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID ledger.BookingID) (ledger.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ?", bookingID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, ledger.ErrUnknownBooking)
		}
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	booking, err := mapBooking(model)
	if err != nil {
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return booking, nil
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID ledger.BookingID, from, to ledger.BookingStatus, notes string) error {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if notes != "" {
		updates["notes"] = notes
	}
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND status = ?", bookingID.String(), string(from)).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, ledger.ErrBookingState)
	}
	return nil
}

func (store *Store) ListBookingsCreatedBefore(ctx context.Context, status ledger.BookingStatus, createdBeforeUnixUTC int64, limit int) ([]ledger.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(status), time.Unix(createdBeforeUnixUTC, 0).UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]ledger.Booking, 0, len(rows))
	for _, row := range rows {
		booking, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

func (store *Store) CreateVerification(ctx context.Context, verification ledger.Verification) (ledger.Verification, error) {
	now := time.Now().UTC()
	model := Verification{
		BookingID:  verification.BookingID.String(),
		ClientID:   verification.ClientID.String(),
		Status:     string(verification.Status),
		AdminNotes: verification.AdminNotes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeCreate, err)
	}
	created, err := mapVerification(model)
	if err != nil {
		return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetVerification(ctx context.Context, verificationID ledger.VerificationID) (ledger.Verification, error) {
	return store.findVerification(ctx, store.db.WithContext(ctx).Where("verification_id = ?", verificationID.String()))
}

func (store *Store) LatestVerification(ctx context.Context, bookingID ledger.BookingID) (ledger.Verification, error) {
	return store.findVerification(ctx, store.db.WithContext(ctx).Where("booking_id = ?", bookingID.String()).Order("created_at DESC"))
}

func (store *Store) findVerification(_ context.Context, query *gorm.DB) (ledger.Verification, error) {
	var model Verification
	if err := query.Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeGet, ledger.ErrUnknownVerification)
		}
		return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeGet, err)
	}
	verification, err := mapVerification(model)
	if err != nil {
		return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeInvalid, err)
	}
	return verification, nil
}

func (store *Store) UpdateVerificationStatus(ctx context.Context, verificationID ledger.VerificationID, from, to ledger.VerificationStatus, notes string) error {
	result := store.db.WithContext(ctx).
		Model(&Verification{}).
		Where("verification_id = ? AND status = ?", verificationID.String(), string(from)).
		Updates(map[string]any{
			"status":      string(to),
			"admin_notes": notes,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectVerification, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectVerification, errorCodeUpdateStatus, ledger.ErrVerificationState)
	}
	return nil
}

func (store *Store) CreateWithdrawal(ctx context.Context, withdrawal ledger.Withdrawal) (ledger.Withdrawal, error) {
	model := Withdrawal{
		TalentID:   withdrawal.TalentID.String(),
		Amount:     withdrawal.Amount.Int64(),
		Status:     string(withdrawal.Status),
		AdminNotes: withdrawal.AdminNotes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeCreate, err)
	}
	created, err := mapWithdrawal(model)
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetWithdrawal(ctx context.Context, withdrawalID ledger.WithdrawalID) (ledger.Withdrawal, error) {
	var model Withdrawal
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("withdrawal_id = ?", withdrawalID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, ledger.ErrUnknownWithdrawal)
		}
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, err)
	}
	withdrawal, err := mapWithdrawal(model)
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeInvalid, err)
	}
	return withdrawal, nil
}

func (store *Store) UpdateWithdrawalStatus(ctx context.Context, withdrawalID ledger.WithdrawalID, from, to ledger.WithdrawalStatus, notes string, processedUnixUTC int64) error {
	processedAt := unixOrNow(processedUnixUTC)
	result := store.db.WithContext(ctx).
		Model(&Withdrawal{}).
		Where("withdrawal_id = ? AND status = ?", withdrawalID.String(), string(from)).
		Updates(map[string]any{
			"status":       string(to),
			"admin_notes":  notes,
			"processed_at": processedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, ledger.ErrWithdrawalState)
	}
	return nil
}

func (store *Store) CreateDepositRequest(ctx context.Context, request ledger.DepositRequest) (ledger.DepositRequest, error) {
	model := DepositRequest{
		UserID:      request.UserID.String(),
		AmountMinor: request.AmountMinor,
		ProofURL:    request.ProofURL,
		Reference:   request.Reference,
		Status:      string(request.Status),
		AdminNotes:  request.AdminNotes,
		CreatedAt:   unixOrNow(request.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeCreate, err)
	}
	created, err := mapDepositRequest(model)
	if err != nil {
		return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetDepositRequest(ctx context.Context, requestID ledger.DepositRequestID) (ledger.DepositRequest, error) {
	var model DepositRequest
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("deposit_request_id = ?", requestID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeGet, ledger.ErrUnknownDepositRequest)
		}
		return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeGet, err)
	}
	request, err := mapDepositRequest(model)
	if err != nil {
		return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeInvalid, err)
	}
	return request, nil
}

func (store *Store) UpdateDepositRequestStatus(ctx context.Context, requestID ledger.DepositRequestID, from, to ledger.DepositRequestStatus, notes string, processedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&DepositRequest{}).
		Where("deposit_request_id = ? AND status = ?", requestID.String(), string(from)).
		Updates(map[string]any{
			"status":       string(to),
			"admin_notes":  notes,
			"processed_at": unixOrNow(processedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDepositRequest, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDepositRequest, errorCodeUpdateStatus, ledger.ErrDepositRequestState)
	}
	return nil
}

func (store *Store) InsertGift(ctx context.Context, gift ledger.Gift) (ledger.Gift, error) {
	model := Gift{
		SenderID:       gift.SenderID.String(),
		RecipientID:    gift.RecipientID.String(),
		Amount:         gift.Amount.Int64(),
		Message:        gift.Message,
		IdempotencyKey: optionalString(gift.IdempotencyKey),
		CreatedAt:      unixOrNow(gift.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintGiftIdempotencyKey) {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeInsert, err)
	}
	gift.ID = model.GiftID
	gift.CreatedUnixUTC = model.CreatedAt.Unix()
	return gift, nil
}

func (store *Store) GetGiftByIdempotencyKey(ctx context.Context, key ledger.IdempotencyKey) (ledger.Gift, error) {
	var model Gift
	err := store.db.WithContext(ctx).Where("idempotency_key = ?", key.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeGet, ledger.ErrUnknownGift)
		}
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeGet, err)
	}
	gift, err := mapGift(model)
	if err != nil {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeInvalid, err)
	}
	return gift, nil
}

// InsertNotification persists one notification row for the notification consumer.
func (store *Store) InsertNotification(ctx context.Context, notification ledger.Notification) error {
	data, err := json.Marshal(notification.Data)
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
	}
	if notification.Data == nil {
		data = []byte(defaultMetadataJSON)
	}
	model := Notification{
		UserID:    notification.UserID.String(),
		Type:      string(notification.Type),
		Title:     notification.Title,
		Message:   notification.Message,
		Data:      datatypes.JSON(data),
		CreatedAt: time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	return nil
}

// ListNotifications returns the user's newest notifications.
func (store *Store) ListNotifications(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Notification, error) {
	var rows []Notification
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	notifications := make([]ledger.Notification, 0, len(rows))
	for _, row := range rows {
		var data map[string]any
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return nil, wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
		}
		notifications = append(notifications, ledger.Notification{
			UserID:  userID,
			Type:    ledger.NotificationType(row.Type),
			Title:   row.Title,
			Message: row.Message,
			Data:    data,
		})
	}
	return notifications, nil
}

func wrapStoreError(subject string, code string, err error) error {
	if isTransientConflict(err) {
		err = fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	}
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapWallet(row Wallet) (ledger.Wallet, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Wallet{}, err
	}
	balance, err := ledger.NewCoins(row.Balance)
	if err != nil {
		return ledger.Wallet{}, err
	}
	escrow, err := ledger.NewCoins(row.EscrowBalance)
	if err != nil {
		return ledger.Wallet{}, err
	}
	return ledger.Wallet{UserID: userID, Balance: balance, EscrowBalance: escrow}, nil
}

func mapTransaction(row Transaction) (ledger.Transaction, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	coins, err := ledger.NewCoins(row.Coins)
	if err != nil {
		return ledger.Transaction{}, err
	}
	transactionType, err := ledger.ParseTransactionType(row.Type)
	if err != nil {
		return ledger.Transaction{}, err
	}
	status, err := ledger.ParseTransactionStatus(row.Status)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	reference := ""
	if row.Reference != nil {
		reference = *row.Reference
	}
	return ledger.Transaction{
		ID:             row.TransactionID,
		UserID:         userID,
		AmountMinor:    row.AmountMinor,
		Coins:          coins,
		Type:           transactionType,
		Status:         status,
		Description:    row.Description,
		Reference:      reference,
		ReferenceID:    row.ReferenceID,
		Provider:       row.Provider,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapBooking(row Booking) (ledger.Booking, error) {
	bookingID, err := ledger.NewBookingID(row.BookingID)
	if err != nil {
		return ledger.Booking{}, err
	}
	clientID, err := ledger.NewUserID(row.ClientID)
	if err != nil {
		return ledger.Booking{}, err
	}
	talentID, err := ledger.NewUserID(row.TalentID)
	if err != nil {
		return ledger.Booking{}, err
	}
	totalPrice, err := ledger.NewPositiveCoins(row.TotalPrice)
	if err != nil {
		return ledger.Booking{}, err
	}
	status, err := ledger.ParseBookingStatus(row.Status)
	if err != nil {
		return ledger.Booking{}, err
	}
	return ledger.Booking{
		ID:             bookingID,
		ClientID:       clientID,
		TalentID:       talentID,
		TotalPrice:     totalPrice,
		Status:         status,
		Notes:          row.Notes,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapVerification(row Verification) (ledger.Verification, error) {
	verificationID, err := ledger.NewVerificationID(row.VerificationID)
	if err != nil {
		return ledger.Verification{}, err
	}
	bookingID, err := ledger.NewBookingID(row.BookingID)
	if err != nil {
		return ledger.Verification{}, err
	}
	clientID, err := ledger.NewUserID(row.ClientID)
	if err != nil {
		return ledger.Verification{}, err
	}
	status, err := ledger.ParseVerificationStatus(row.Status)
	if err != nil {
		return ledger.Verification{}, err
	}
	return ledger.Verification{
		ID:         verificationID,
		BookingID:  bookingID,
		ClientID:   clientID,
		Status:     status,
		AdminNotes: row.AdminNotes,
	}, nil
}

func mapWithdrawal(row Withdrawal) (ledger.Withdrawal, error) {
	withdrawalID, err := ledger.NewWithdrawalID(row.WithdrawalID)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	talentID, err := ledger.NewUserID(row.TalentID)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	amount, err := ledger.NewPositiveCoins(row.Amount)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	status, err := ledger.ParseWithdrawalStatus(row.Status)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	return ledger.Withdrawal{
		ID:               withdrawalID,
		TalentID:         talentID,
		Amount:           amount,
		Status:           status,
		AdminNotes:       row.AdminNotes,
		ProcessedUnixUTC: timeOrZero(row.ProcessedAt),
	}, nil
}

func mapDepositRequest(row DepositRequest) (ledger.DepositRequest, error) {
	requestID, err := ledger.NewDepositRequestID(row.DepositRequestID)
	if err != nil {
		return ledger.DepositRequest{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.DepositRequest{}, err
	}
	status, err := ledger.ParseDepositRequestStatus(row.Status)
	if err != nil {
		return ledger.DepositRequest{}, err
	}
	return ledger.DepositRequest{
		ID:               requestID,
		UserID:           userID,
		AmountMinor:      row.AmountMinor,
		ProofURL:         row.ProofURL,
		Reference:        row.Reference,
		Status:           status,
		AdminNotes:       row.AdminNotes,
		ProcessedUnixUTC: timeOrZero(row.ProcessedAt),
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func mapGift(row Gift) (ledger.Gift, error) {
	senderID, err := ledger.NewUserID(row.SenderID)
	if err != nil {
		return ledger.Gift{}, err
	}
	recipientID, err := ledger.NewUserID(row.RecipientID)
	if err != nil {
		return ledger.Gift{}, err
	}
	amount, err := ledger.NewPositiveCoins(row.Amount)
	if err != nil {
		return ledger.Gift{}, err
	}
	idempotencyKey := ""
	if row.IdempotencyKey != nil {
		idempotencyKey = *row.IdempotencyKey
	}
	return ledger.Gift{
		ID:             row.GiftID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Amount:         amount,
		Message:        row.Message,
		IdempotencyKey: idempotencyKey,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func unixOrNow(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation reports whether err is a unique-constraint failure. On
// Postgres the constraint name must match; SQLite does not report it.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintUniqueCode || sqliteErr.Code() == sqliteConstraintPrimaryKeyCode
	}
	return false
}

// isTransientConflict reports lock contention that aborted the unit of work:
// Postgres deadlocks and serialization failures, SQLite busy and locked.
func isTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgDeadlockDetectedCode || pgErr.Code == pgSerializationFailureCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		primary := sqliteErr.Code() & 0xFF
		return primary == sqliteBusyCode || primary == sqliteLockedCode
	}
	return false
}
