package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintTransactionReference = "uniq_transactions_reference"
	constraintGiftIdempotencyKey   = "uniq_gifts_idempotency_key"
	pgUniqueViolationCode          = "23505"
	pgSerializationFailureCode     = "40001"
	pgDeadlockDetectedCode         = "40P01"
	errorOperationStore            = "store"
	errorSubjectWallet             = "wallet"
	errorSubjectTransaction        = "transaction"
	errorSubjectBooking            = "booking"
	errorSubjectVerification       = "verification"
	errorSubjectWithdrawal         = "withdrawal"
	errorSubjectDepositRequest     = "deposit_request"
	errorSubjectGift               = "gift"
	errorSubjectNotification       = "notification"
	errorSubjectUnitOfWork         = "unit_of_work"
	errorCodeBegin                 = "begin"
	errorCodeCommit                = "commit"
	errorCodeCompareAndSwap        = "compare_and_swap"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeUpdateStatus          = "update_status"

	sqlSelectWallet = `
		select user_id, balance, escrow_balance from wallets where user_id = $1
	`

	sqlInsertWallet = `
		insert into wallets(user_id, balance, escrow_balance) values($1, $2, $3)
		on conflict (user_id) do nothing
	`

	sqlCompareAndSwapWallet = `
		update wallets
		set   balance = $4, escrow_balance = $5, updated_at = now()
		where user_id = $1 and balance = $2 and escrow_balance = $3
	`

	sqlInsertTransaction = `
		insert into transactions(
			user_id, amount_minor, coins, type, status, description, reference, reference_id, provider, metadata, created_at
		)
		values(
			$1, $2, $3, $4, $5, $6, nullif($7,''), $8, $9,
			coalesce(nullif($10,''),'{}')::jsonb,
			coalesce(to_timestamp(nullif($11,0)), now())
		)
		returning transaction_id::text, extract(epoch from created_at)::bigint
	`

	sqlTransactionColumns = `
		transaction_id::text, user_id, amount_minor, coins, type, status, description,
		coalesce(reference,''), reference_id, provider, metadata::text, extract(epoch from created_at)::bigint
	`

	sqlSelectTransactionByReference = `select ` + sqlTransactionColumns + ` from transactions where reference = $1`

	sqlUpdateTransactionStatus = `
		update transactions set status = $3 where reference = $1 and status = $2
	`

	sqlListTransactions = `select ` + sqlTransactionColumns + `
		from transactions
		where user_id = $1
		order by created_at desc
		limit $2
	`

	sqlBookingColumns = `
		booking_id::text, client_id, talent_id, total_price, status, notes, extract(epoch from created_at)::bigint
	`

	sqlInsertBooking = `
		insert into bookings(client_id, talent_id, total_price, status, notes, created_at, updated_at)
		values($1, $2, $3, $4, $5, coalesce(to_timestamp(nullif($6,0)), now()), now())
		returning ` + sqlBookingColumns

	sqlSelectBooking = `select ` + sqlBookingColumns + ` from bookings where booking_id = $1 for update`

	sqlUpdateBookingStatus = `
		update bookings
		set status = $3, notes = coalesce(nullif($4,''), notes), updated_at = now()
		where booking_id = $1 and status = $2
	`

	sqlListBookingsCreatedBefore = `select ` + sqlBookingColumns + `
		from bookings
		where status = $1 and created_at < to_timestamp($2)
		order by created_at asc
		limit $3
	`

	sqlVerificationColumns = `
		verification_id::text, booking_id::text, client_id, status, admin_notes
	`

	sqlInsertVerification = `
		insert into identity_verifications(booking_id, client_id, status, admin_notes)
		values($1, $2, $3, $4)
		returning ` + sqlVerificationColumns

	sqlSelectVerification = `select ` + sqlVerificationColumns + ` from identity_verifications where verification_id = $1`

	sqlSelectLatestVerification = `select ` + sqlVerificationColumns + `
		from identity_verifications
		where booking_id = $1
		order by created_at desc
		limit 1
	`

	sqlUpdateVerificationStatus = `
		update identity_verifications
		set status = $3, admin_notes = $4, updated_at = now()
		where verification_id = $1 and status = $2
	`

	sqlWithdrawalColumns = `
		withdrawal_id::text, talent_id, amount, status, admin_notes, coalesce(extract(epoch from processed_at)::bigint, 0)
	`

	sqlInsertWithdrawal = `
		insert into withdrawal_requests(talent_id, amount, status, admin_notes)
		values($1, $2, $3, $4)
		returning ` + sqlWithdrawalColumns

	sqlSelectWithdrawal = `select ` + sqlWithdrawalColumns + ` from withdrawal_requests where withdrawal_id = $1 for update`

	sqlUpdateWithdrawalStatus = `
		update withdrawal_requests
		set status = $3, admin_notes = $4, processed_at = coalesce(to_timestamp(nullif($5,0)), now())
		where withdrawal_id = $1 and status = $2
	`

	sqlDepositRequestColumns = `
		deposit_request_id::text, user_id, amount_minor, proof_url, reference, status, admin_notes,
		coalesce(extract(epoch from processed_at)::bigint, 0), extract(epoch from created_at)::bigint
	`

	sqlInsertDepositRequest = `
		insert into deposit_requests(user_id, amount_minor, proof_url, reference, status, admin_notes, created_at)
		values($1, $2, $3, $4, $5, $6, coalesce(to_timestamp(nullif($7,0)), now()))
		returning ` + sqlDepositRequestColumns

	sqlSelectDepositRequest = `select ` + sqlDepositRequestColumns + ` from deposit_requests where deposit_request_id = $1 for update`

	sqlUpdateDepositRequestStatus = `
		update deposit_requests
		set status = $3, admin_notes = $4, processed_at = coalesce(to_timestamp(nullif($5,0)), now())
		where deposit_request_id = $1 and status = $2
	`

	sqlInsertGift = `
		insert into gifts(sender_id, recipient_id, amount, message, idempotency_key, created_at)
		values($1, $2, $3, $4, nullif($5,''), coalesce(to_timestamp(nullif($6,0)), now()))
		returning gift_id::text, extract(epoch from created_at)::bigint
	`

	sqlSelectGiftByIdempotencyKey = `
		select gift_id::text, sender_id, recipient_id, amount, message, coalesce(idempotency_key,''), extract(epoch from created_at)::bigint
		from gifts
		where idempotency_key = $1
	`

	sqlInsertNotification = `
		insert into notifications(user_id, type, title, message, data)
		values($1, $2, $3, $4, $5::jsonb)
	`

	sqlListNotifications = `
		select type, title, message, data::text from notifications
		where user_id = $1
		order by created_at desc
		limit $2
	`
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store implements ledger.Store using a pgx connection pool. Inside WithTx the
// same type runs against the open transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectUnitOfWork, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectUnitOfWork, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	var (
		userValue string
		balance   int64
		escrow    int64
	)
	err := store.db.QueryRow(ctx, sqlSelectWallet, userID.String()).Scan(&userValue, &balance, &escrow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, ledger.ErrUnknownWallet)
		}
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	parsedUserID, err := ledger.NewUserID(userValue)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	parsedBalance, err := ledger.NewCoins(balance)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	parsedEscrow, err := ledger.NewCoins(escrow)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return ledger.Wallet{UserID: parsedUserID, Balance: parsedBalance, EscrowBalance: parsedEscrow}, nil
}

func (store *Store) CreateWallet(ctx context.Context, wallet ledger.Wallet) error {
	tag, err := store.db.Exec(ctx, sqlInsertWallet, wallet.UserID.String(), wallet.Balance.Int64(), wallet.EscrowBalance.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeDuplicate, ledger.ErrWalletExists)
	}
	return nil
}

func (store *Store) CompareAndSwapWallet(ctx context.Context, expected ledger.Wallet, next ledger.Wallet) error {
	tag, err := store.db.Exec(ctx, sqlCompareAndSwapWallet,
		expected.UserID.String(),
		expected.Balance.Int64(),
		expected.EscrowBalance.Int64(),
		next.Balance.Int64(),
		next.EscrowBalance.Int64(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeCompareAndSwap, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeCompareAndSwap, ledger.ErrConflict)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) (ledger.Transaction, error) {
	err := store.db.QueryRow(ctx, sqlInsertTransaction,
		transaction.UserID.String(),
		transaction.AmountMinor,
		transaction.Coins.Int64(),
		string(transaction.Type),
		string(transaction.Status),
		transaction.Description,
		transaction.Reference,
		transaction.ReferenceID,
		transaction.Provider,
		transaction.Metadata.String(),
		transaction.CreatedUnixUTC,
	).Scan(&transaction.ID, &transaction.CreatedUnixUTC)
	if isUniqueViolation(err, constraintTransactionReference) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateEvent)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return transaction, nil
}

func (store *Store) GetTransactionByReference(ctx context.Context, reference ledger.PaymentReference) (ledger.Transaction, error) {
	transaction, err := scanTransaction(store.db.QueryRow(ctx, sqlSelectTransactionByReference, reference.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrUnknownTransaction)
		}
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return transaction, nil
}

func (store *Store) UpdateTransactionStatus(ctx context.Context, reference ledger.PaymentReference, from, to ledger.TransactionStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdateTransactionStatus, reference.String(), string(from), string(to))
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, ledger.ErrTransactionClaimed)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactions, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	var transactions []ledger.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (store *Store) CreateBooking(ctx context.Context, booking ledger.Booking) (ledger.Booking, error) {
	created, err := scanBooking(store.db.QueryRow(ctx, sqlInsertBooking,
		booking.ClientID.String(),
		booking.TalentID.String(),
		booking.TotalPrice.Int64(),
		string(booking.Status),
		booking.Notes,
		booking.CreatedUnixUTC,
	))
	if err != nil {
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return created, nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID ledger.BookingID) (ledger.Booking, error) {
	booking, err := scanBooking(store.db.QueryRow(ctx, sqlSelectBooking, bookingID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, ledger.ErrUnknownBooking)
		}
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return booking, nil
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID ledger.BookingID, from, to ledger.BookingStatus, notes string) error {
	tag, err := store.db.Exec(ctx, sqlUpdateBookingStatus, bookingID.String(), string(from), string(to), notes)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, ledger.ErrBookingState)
	}
	return nil
}

func (store *Store) ListBookingsCreatedBefore(ctx context.Context, status ledger.BookingStatus, createdBeforeUnixUTC int64, limit int) ([]ledger.Booking, error) {
	rows, err := store.db.Query(ctx, sqlListBookingsCreatedBefore, string(status), createdBeforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	defer rows.Close()
	var bookings []ledger.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return bookings, nil
}

func (store *Store) CreateVerification(ctx context.Context, verification ledger.Verification) (ledger.Verification, error) {
	created, err := scanVerification(store.db.QueryRow(ctx, sqlInsertVerification,
		verification.BookingID.String(),
		verification.ClientID.String(),
		string(verification.Status),
		verification.AdminNotes,
	))
	if err != nil {
		return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeCreate, err)
	}
	return created, nil
}

func (store *Store) GetVerification(ctx context.Context, verificationID ledger.VerificationID) (ledger.Verification, error) {
	return store.selectVerification(ctx, sqlSelectVerification, verificationID.String())
}

func (store *Store) LatestVerification(ctx context.Context, bookingID ledger.BookingID) (ledger.Verification, error) {
	return store.selectVerification(ctx, sqlSelectLatestVerification, bookingID.String())
}

func (store *Store) selectVerification(ctx context.Context, query string, key string) (ledger.Verification, error) {
	verification, err := scanVerification(store.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeGet, ledger.ErrUnknownVerification)
		}
		return ledger.Verification{}, wrapStoreError(errorSubjectVerification, errorCodeGet, err)
	}
	return verification, nil
}

func (store *Store) UpdateVerificationStatus(ctx context.Context, verificationID ledger.VerificationID, from, to ledger.VerificationStatus, notes string) error {
	tag, err := store.db.Exec(ctx, sqlUpdateVerificationStatus, verificationID.String(), string(from), string(to), notes)
	if err != nil {
		return wrapStoreError(errorSubjectVerification, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectVerification, errorCodeUpdateStatus, ledger.ErrVerificationState)
	}
	return nil
}

func (store *Store) CreateWithdrawal(ctx context.Context, withdrawal ledger.Withdrawal) (ledger.Withdrawal, error) {
	created, err := scanWithdrawal(store.db.QueryRow(ctx, sqlInsertWithdrawal,
		withdrawal.TalentID.String(),
		withdrawal.Amount.Int64(),
		string(withdrawal.Status),
		withdrawal.AdminNotes,
	))
	if err != nil {
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeCreate, err)
	}
	return created, nil
}

func (store *Store) GetWithdrawal(ctx context.Context, withdrawalID ledger.WithdrawalID) (ledger.Withdrawal, error) {
	withdrawal, err := scanWithdrawal(store.db.QueryRow(ctx, sqlSelectWithdrawal, withdrawalID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, ledger.ErrUnknownWithdrawal)
		}
		return ledger.Withdrawal{}, wrapStoreError(errorSubjectWithdrawal, errorCodeGet, err)
	}
	return withdrawal, nil
}

func (store *Store) UpdateWithdrawalStatus(ctx context.Context, withdrawalID ledger.WithdrawalID, from, to ledger.WithdrawalStatus, notes string, processedUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateWithdrawalStatus, withdrawalID.String(), string(from), string(to), notes, processedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectWithdrawal, errorCodeUpdateStatus, ledger.ErrWithdrawalState)
	}
	return nil
}

func (store *Store) CreateDepositRequest(ctx context.Context, request ledger.DepositRequest) (ledger.DepositRequest, error) {
	created, err := scanDepositRequest(store.db.QueryRow(ctx, sqlInsertDepositRequest,
		request.UserID.String(),
		request.AmountMinor,
		request.ProofURL,
		request.Reference,
		string(request.Status),
		request.AdminNotes,
		request.CreatedUnixUTC,
	))
	if err != nil {
		return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeCreate, err)
	}
	return created, nil
}

func (store *Store) GetDepositRequest(ctx context.Context, requestID ledger.DepositRequestID) (ledger.DepositRequest, error) {
	request, err := scanDepositRequest(store.db.QueryRow(ctx, sqlSelectDepositRequest, requestID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeGet, ledger.ErrUnknownDepositRequest)
		}
		return ledger.DepositRequest{}, wrapStoreError(errorSubjectDepositRequest, errorCodeGet, err)
	}
	return request, nil
}

func (store *Store) UpdateDepositRequestStatus(ctx context.Context, requestID ledger.DepositRequestID, from, to ledger.DepositRequestStatus, notes string, processedUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateDepositRequestStatus, requestID.String(), string(from), string(to), notes, processedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectDepositRequest, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectDepositRequest, errorCodeUpdateStatus, ledger.ErrDepositRequestState)
	}
	return nil
}

func (store *Store) InsertGift(ctx context.Context, gift ledger.Gift) (ledger.Gift, error) {
	err := store.db.QueryRow(ctx, sqlInsertGift,
		gift.SenderID.String(),
		gift.RecipientID.String(),
		gift.Amount.Int64(),
		gift.Message,
		gift.IdempotencyKey,
		gift.CreatedUnixUTC,
	).Scan(&gift.ID, &gift.CreatedUnixUTC)
	if isUniqueViolation(err, constraintGiftIdempotencyKey) {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeInsert, err)
	}
	return gift, nil
}

func (store *Store) GetGiftByIdempotencyKey(ctx context.Context, key ledger.IdempotencyKey) (ledger.Gift, error) {
	var (
		gift           ledger.Gift
		senderValue    string
		recipientValue string
		amountValue    int64
	)
	err := store.db.QueryRow(ctx, sqlSelectGiftByIdempotencyKey, key.String()).Scan(
		&gift.ID,
		&senderValue,
		&recipientValue,
		&amountValue,
		&gift.Message,
		&gift.IdempotencyKey,
		&gift.CreatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeGet, ledger.ErrUnknownGift)
		}
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeGet, err)
	}
	if gift.SenderID, err = ledger.NewUserID(senderValue); err != nil {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeInvalid, err)
	}
	if gift.RecipientID, err = ledger.NewUserID(recipientValue); err != nil {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeInvalid, err)
	}
	if gift.Amount, err = ledger.NewPositiveCoins(amountValue); err != nil {
		return ledger.Gift{}, wrapStoreError(errorSubjectGift, errorCodeInvalid, err)
	}
	return gift, nil
}

// InsertNotification persists one notification row for the notification consumer.
func (store *Store) InsertNotification(ctx context.Context, notification ledger.Notification) error {
	data := []byte("{}")
	if notification.Data != nil {
		encoded, err := json.Marshal(notification.Data)
		if err != nil {
			return wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
		}
		data = encoded
	}
	_, err := store.db.Exec(ctx, sqlInsertNotification,
		notification.UserID.String(),
		string(notification.Type),
		notification.Title,
		notification.Message,
		string(data),
	)
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	return nil
}

// ListNotifications returns the user's newest notifications.
func (store *Store) ListNotifications(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Notification, error) {
	rows, err := store.db.Query(ctx, sqlListNotifications, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	defer rows.Close()
	var notifications []ledger.Notification
	for rows.Next() {
		var (
			notificationType string
			data             string
			notification = ledger.Notification{UserID: userID}
		)
		if err := rows.Scan(&notificationType, &notification.Title, &notification.Message, &data); err != nil {
			return nil, wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
		}
		if err := json.Unmarshal([]byte(data), &notification.Data); err != nil {
			return nil, wrapStoreError(errorSubjectNotification, errorCodeInvalid, err)
		}
		notification.Type = ledger.NotificationType(notificationType)
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	return notifications, nil
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var (
		transaction ledger.Transaction
		userValue   string
		coinsValue  int64
		typeValue   string
		statusValue string
		metadata    string
	)
	err := row.Scan(
		&transaction.ID,
		&userValue,
		&transaction.AmountMinor,
		&coinsValue,
		&typeValue,
		&statusValue,
		&transaction.Description,
		&transaction.Reference,
		&transaction.ReferenceID,
		&transaction.Provider,
		&metadata,
		&transaction.CreatedUnixUTC,
	)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.UserID, err = ledger.NewUserID(userValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Coins, err = ledger.NewCoins(coinsValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Type, err = ledger.ParseTransactionType(typeValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Status, err = ledger.ParseTransactionStatus(statusValue); err != nil {
		return ledger.Transaction{}, err
	}
	if transaction.Metadata, err = ledger.NewMetadataJSON(metadata); err != nil {
		return ledger.Transaction{}, err
	}
	return transaction, nil
}

func scanBooking(row rowScanner) (ledger.Booking, error) {
	var (
		booking     ledger.Booking
		bookingID   string
		clientID    string
		talentID    string
		totalPrice  int64
		statusValue string
	)
	err := row.Scan(&bookingID, &clientID, &talentID, &totalPrice, &statusValue, &booking.Notes, &booking.CreatedUnixUTC)
	if err != nil {
		return ledger.Booking{}, err
	}
	if booking.ID, err = ledger.NewBookingID(bookingID); err != nil {
		return ledger.Booking{}, err
	}
	if booking.ClientID, err = ledger.NewUserID(clientID); err != nil {
		return ledger.Booking{}, err
	}
	if booking.TalentID, err = ledger.NewUserID(talentID); err != nil {
		return ledger.Booking{}, err
	}
	if booking.TotalPrice, err = ledger.NewPositiveCoins(totalPrice); err != nil {
		return ledger.Booking{}, err
	}
	if booking.Status, err = ledger.ParseBookingStatus(statusValue); err != nil {
		return ledger.Booking{}, err
	}
	return booking, nil
}

func scanVerification(row rowScanner) (ledger.Verification, error) {
	var (
		verification   ledger.Verification
		verificationID string
		bookingID      string
		clientID       string
		statusValue    string
	)
	err := row.Scan(&verificationID, &bookingID, &clientID, &statusValue, &verification.AdminNotes)
	if err != nil {
		return ledger.Verification{}, err
	}
	if verification.ID, err = ledger.NewVerificationID(verificationID); err != nil {
		return ledger.Verification{}, err
	}
	if verification.BookingID, err = ledger.NewBookingID(bookingID); err != nil {
		return ledger.Verification{}, err
	}
	if verification.ClientID, err = ledger.NewUserID(clientID); err != nil {
		return ledger.Verification{}, err
	}
	if verification.Status, err = ledger.ParseVerificationStatus(statusValue); err != nil {
		return ledger.Verification{}, err
	}
	return verification, nil
}

func scanDepositRequest(row rowScanner) (ledger.DepositRequest, error) {
	var (
		request     ledger.DepositRequest
		requestID   string
		userID      string
		statusValue string
	)
	err := row.Scan(&requestID, &userID, &request.AmountMinor, &request.ProofURL, &request.Reference, &statusValue,
		&request.AdminNotes, &request.ProcessedUnixUTC, &request.CreatedUnixUTC)
	if err != nil {
		return ledger.DepositRequest{}, err
	}
	if request.ID, err = ledger.NewDepositRequestID(requestID); err != nil {
		return ledger.DepositRequest{}, err
	}
	if request.UserID, err = ledger.NewUserID(userID); err != nil {
		return ledger.DepositRequest{}, err
	}
	if request.Status, err = ledger.ParseDepositRequestStatus(statusValue); err != nil {
		return ledger.DepositRequest{}, err
	}
	return request, nil
}

func scanWithdrawal(row rowScanner) (ledger.Withdrawal, error) {
	var (
		withdrawal   ledger.Withdrawal
		withdrawalID string
		talentID     string
		amount       int64
		statusValue  string
	)
	err := row.Scan(&withdrawalID, &talentID, &amount, &statusValue, &withdrawal.AdminNotes, &withdrawal.ProcessedUnixUTC)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	if withdrawal.ID, err = ledger.NewWithdrawalID(withdrawalID); err != nil {
		return ledger.Withdrawal{}, err
	}
	if withdrawal.TalentID, err = ledger.NewUserID(talentID); err != nil {
		return ledger.Withdrawal{}, err
	}
	if withdrawal.Amount, err = ledger.NewPositiveCoins(amount); err != nil {
		return ledger.Withdrawal{}, err
	}
	if withdrawal.Status, err = ledger.ParseWithdrawalStatus(statusValue); err != nil {
		return ledger.Withdrawal{}, err
	}
	return withdrawal, nil
}

// wrapStoreError tags the failure with its operation code. Deadlocks and
// serialization failures abort the unit of work and surface as ErrConflict
// so the service retries them.
func wrapStoreError(subject string, code string, err error) error {
	if isTransientConflict(err) {
		err = fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	}
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgDeadlockDetectedCode || pgErr.Code == pgSerializationFailureCode
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
}
