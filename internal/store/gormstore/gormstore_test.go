package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/ledger.db"), &gorm.Config{})
	require.NoError(test, err)
	require.NoError(test, db.AutoMigrate(Models()...))
	return New(db)
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	require.NoError(test, err)
	return userID
}

func mustReference(test *testing.T, raw string) ledger.PaymentReference {
	test.Helper()
	reference, err := ledger.NewPaymentReference(raw)
	require.NoError(test, err)
	return reference
}

func TestWalletCompareAndSwap(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "user-1")

	_, err := store.GetWallet(ctx, userID)
	require.ErrorIs(test, err, ledger.ErrUnknownWallet)

	initial := ledger.Wallet{UserID: userID, Balance: 100}
	require.NoError(test, store.CreateWallet(ctx, initial))
	require.ErrorIs(test, store.CreateWallet(ctx, initial), ledger.ErrWalletExists)

	held := ledger.Wallet{UserID: userID, Balance: 40, EscrowBalance: 60}
	require.NoError(test, store.CompareAndSwapWallet(ctx, initial, held))

	stale := ledger.Wallet{UserID: userID, Balance: 0, EscrowBalance: 100}
	err = store.CompareAndSwapWallet(ctx, initial, stale)
	require.ErrorIs(test, err, ledger.ErrConflict)

	stored, err := store.GetWallet(ctx, userID)
	require.NoError(test, err)
	require.Equal(test, held, stored)
}

func TestTransactionClaimIsConditional(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "buyer")
	reference := mustReference(test, "paystack_1_abc")

	inserted, err := store.InsertTransaction(ctx, ledger.Transaction{
		UserID:      userID,
		AmountMinor: 1_000_000,
		Coins:       1000,
		Type:        ledger.TransactionDeposit,
		Status:      ledger.TransactionPending,
		Reference:   reference.String(),
		Provider:    "paystack",
	})
	require.NoError(test, err)
	require.NotEmpty(test, inserted.ID)

	_, err = store.InsertTransaction(ctx, ledger.Transaction{
		UserID:    userID,
		Coins:     1000,
		Type:      ledger.TransactionDeposit,
		Status:    ledger.TransactionPending,
		Reference: reference.String(),
	})
	require.ErrorIs(test, err, ledger.ErrDuplicateEvent)

	require.NoError(test, store.UpdateTransactionStatus(ctx, reference, ledger.TransactionPending, ledger.TransactionCompleted))
	err = store.UpdateTransactionStatus(ctx, reference, ledger.TransactionPending, ledger.TransactionCompleted)
	require.ErrorIs(test, err, ledger.ErrTransactionClaimed)

	stored, err := store.GetTransactionByReference(ctx, reference)
	require.NoError(test, err)
	require.Equal(test, ledger.TransactionCompleted, stored.Status)
	require.Equal(test, "{}", stored.Metadata.String())

	_, err = store.GetTransactionByReference(ctx, mustReference(test, "missing"))
	require.ErrorIs(test, err, ledger.ErrUnknownTransaction)
}

func TestInternalTransactionsShareEmptyReference(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "talent")
	for index := 0; index < 2; index++ {
		_, err := store.InsertTransaction(ctx, ledger.Transaction{
			UserID: userID,
			Coins:  50,
			Type:   ledger.TransactionBooking,
			Status: ledger.TransactionCompleted,
		})
		require.NoError(test, err)
	}
	transactions, err := store.ListTransactions(ctx, userID, 10)
	require.NoError(test, err)
	require.Len(test, transactions, 2)
}

func TestBookingAndVerificationTransitions(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	client := mustUserID(test, "client")
	talent := mustUserID(test, "talent")

	booking, err := store.CreateBooking(ctx, ledger.Booking{
		ClientID:   client,
		TalentID:   talent,
		TotalPrice: 500,
		Status:     ledger.BookingPaymentPending,
	})
	require.NoError(test, err)
	require.NotEmpty(test, booking.ID.String())

	require.NoError(test, store.UpdateBookingStatus(ctx, booking.ID, ledger.BookingPaymentPending, ledger.BookingVerificationPending, ""))
	err = store.UpdateBookingStatus(ctx, booking.ID, ledger.BookingPaymentPending, ledger.BookingVerificationPending, "")
	require.ErrorIs(test, err, ledger.ErrBookingState)

	first, err := store.CreateVerification(ctx, ledger.Verification{BookingID: booking.ID, ClientID: client, Status: ledger.VerificationPending})
	require.NoError(test, err)
	require.NoError(test, store.UpdateVerificationStatus(ctx, first.ID, ledger.VerificationPending, ledger.VerificationRejected, "blurry"))
	time.Sleep(time.Millisecond)
	second, err := store.CreateVerification(ctx, ledger.Verification{BookingID: booking.ID, ClientID: client, Status: ledger.VerificationPending})
	require.NoError(test, err)

	latest, err := store.LatestVerification(ctx, booking.ID)
	require.NoError(test, err)
	require.Equal(test, second.ID, latest.ID)

	rejected, err := store.GetVerification(ctx, first.ID)
	require.NoError(test, err)
	require.Equal(test, ledger.VerificationRejected, rejected.Status)
	require.Equal(test, "blurry", rejected.AdminNotes)

	err = store.UpdateVerificationStatus(ctx, first.ID, ledger.VerificationPending, ledger.VerificationApproved, "")
	require.ErrorIs(test, err, ledger.ErrVerificationState)

	unknownBooking, err := ledger.NewBookingID("00000000-0000-0000-0000-000000000000")
	require.NoError(test, err)
	_, err = store.GetBooking(ctx, unknownBooking)
	require.ErrorIs(test, err, ledger.ErrUnknownBooking)
	_, err = store.LatestVerification(ctx, unknownBooking)
	require.ErrorIs(test, err, ledger.ErrUnknownVerification)
}

func TestWithdrawalTransitionRecordsProcessedTime(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	withdrawal, err := store.CreateWithdrawal(ctx, ledger.Withdrawal{
		TalentID: mustUserID(test, "talent"),
		Amount:   300,
		Status:   ledger.WithdrawalPending,
	})
	require.NoError(test, err)
	require.Zero(test, withdrawal.ProcessedUnixUTC)

	require.NoError(test, store.UpdateWithdrawalStatus(ctx, withdrawal.ID, ledger.WithdrawalPending, ledger.WithdrawalApproved, "", 1_700_000_000))
	err = store.UpdateWithdrawalStatus(ctx, withdrawal.ID, ledger.WithdrawalPending, ledger.WithdrawalRejected, "late", 1_700_000_100)
	require.ErrorIs(test, err, ledger.ErrWithdrawalState)

	stored, err := store.GetWithdrawal(ctx, withdrawal.ID)
	require.NoError(test, err)
	require.Equal(test, ledger.WithdrawalApproved, stored.Status)
	require.Equal(test, int64(1_700_000_000), stored.ProcessedUnixUTC)
}

func TestGiftIdempotencyKeyIsUnique(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	gift := ledger.Gift{
		SenderID:       mustUserID(test, "alice"),
		RecipientID:    mustUserID(test, "bob"),
		Amount:         150,
		IdempotencyKey: "alice:key-1",
	}
	inserted, err := store.InsertGift(ctx, gift)
	require.NoError(test, err)
	require.NotEmpty(test, inserted.ID)

	_, err = store.InsertGift(ctx, gift)
	require.ErrorIs(test, err, ledger.ErrDuplicateIdempotencyKey)

	key, err := ledger.NewIdempotencyKey("alice:key-1")
	require.NoError(test, err)
	found, err := store.GetGiftByIdempotencyKey(ctx, key)
	require.NoError(test, err)
	require.Equal(test, inserted.ID, found.ID)

	unkeyed := gift
	unkeyed.IdempotencyKey = ""
	for index := 0; index < 2; index++ {
		_, err := store.InsertGift(ctx, unkeyed)
		require.NoError(test, err)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "rollback")
	failure := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		if err := txStore.CreateWallet(ctx, ledger.Wallet{UserID: userID, Balance: 10}); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(test, err, failure)

	_, err = store.GetWallet(ctx, userID)
	require.ErrorIs(test, err, ledger.ErrUnknownWallet)
}

func TestNotificationsRoundTrip(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "reader")

	require.NoError(test, store.InsertNotification(ctx, ledger.Notification{
		UserID:  userID,
		Type:    ledger.NotificationLowBalance,
		Title:   "Low Balance",
		Message: "Top up",
		Data:    map[string]any{"current_balance": 20},
	}))
	require.NoError(test, store.InsertNotification(ctx, ledger.Notification{
		UserID: userID,
		Type:   ledger.NotificationGiftReceived,
		Title:  "Gift Received",
	}))

	notifications, err := store.ListNotifications(ctx, userID, 10)
	require.NoError(test, err)
	require.Len(test, notifications, 2)
	var lowBalance ledger.Notification
	for _, notification := range notifications {
		if notification.Type == ledger.NotificationLowBalance {
			lowBalance = notification
		}
	}
	require.Equal(test, float64(20), lowBalance.Data["current_balance"])
}

func TestServiceHoldAndReleaseOnSQLite(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	service, err := ledger.NewService(store, func() int64 { return time.Now().UTC().Unix() })
	require.NoError(test, err)
	client := mustUserID(test, "client")
	talent := mustUserID(test, "talent")
	_, err = service.ApplyDelta(ctx, client, 1000, 0)
	require.NoError(test, err)

	booking, err := service.CreateBooking(ctx, client, talent, 500)
	require.NoError(test, err)
	held, err := service.Hold(ctx, booking.ID)
	require.NoError(test, err)
	require.Equal(test, ledger.Coins(500), held.ClientWallet.Balance)
	require.Equal(test, ledger.Coins(500), held.ClientWallet.EscrowBalance)

	verification, err := service.SubmitVerification(ctx, booking.ID, client)
	require.NoError(test, err)
	admin := mustUserID(test, "admin")
	_, err = service.ApproveVerification(ctx, verification.ID, admin)
	require.NoError(test, err)
	_, err = service.AcceptBooking(ctx, booking.ID, talent)
	require.NoError(test, err)

	released, err := service.Release(ctx, booking.ID, talent)
	require.NoError(test, err)
	require.False(test, released.AlreadyApplied)
	replay, err := service.Release(ctx, booking.ID, talent)
	require.NoError(test, err)
	require.True(test, replay.AlreadyApplied)

	clientWallet, err := store.GetWallet(ctx, client)
	require.NoError(test, err)
	require.Equal(test, ledger.Wallet{UserID: client, Balance: 500}, clientWallet)
	talentWallet, err := store.GetWallet(ctx, talent)
	require.NoError(test, err)
	require.Equal(test, ledger.Wallet{UserID: talent, Balance: 500}, talentWallet)
}

func TestDepositRequestTransitionIsConditional(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	created, err := store.CreateDepositRequest(ctx, ledger.DepositRequest{
		UserID:         mustUserID(test, "buyer"),
		AmountMinor:    500_000,
		ProofURL:       "https://cdn.example.com/receipt.png",
		Reference:      "TRF-1",
		Status:         ledger.DepositRequestPending,
		CreatedUnixUTC: 1_700_000_000,
	})
	require.NoError(test, err)
	require.NotEmpty(test, created.ID.String())
	require.Equal(test, int64(1_700_000_000), created.CreatedUnixUTC)
	require.Equal(test, ledger.Coins(500), created.Coins())

	require.NoError(test, store.UpdateDepositRequestStatus(ctx, created.ID, ledger.DepositRequestPending, ledger.DepositRequestApproved, "Approved by admin", 1_700_000_100))
	err = store.UpdateDepositRequestStatus(ctx, created.ID, ledger.DepositRequestPending, ledger.DepositRequestRejected, "late", 1_700_000_200)
	require.ErrorIs(test, err, ledger.ErrDepositRequestState)

	stored, err := store.GetDepositRequest(ctx, created.ID)
	require.NoError(test, err)
	require.Equal(test, ledger.DepositRequestApproved, stored.Status)
	require.Equal(test, int64(1_700_000_100), stored.ProcessedUnixUTC)
	require.Equal(test, "TRF-1", stored.Reference)

	unknown, err := ledger.NewDepositRequestID("00000000-0000-0000-0000-000000000000")
	require.NoError(test, err)
	_, err = store.GetDepositRequest(ctx, unknown)
	require.ErrorIs(test, err, ledger.ErrUnknownDepositRequest)
}

func TestUniqueViolationIgnoresOtherConstraints(test *testing.T) {
	store := newTestStore(test)
	now := time.Now().UTC()
	insertWallet := func(userID string, balance int64) error {
		return store.db.Exec(
			"INSERT INTO wallets (user_id, balance, escrow_balance, created_at, updated_at) VALUES (?, ?, 0, ?, ?)",
			userID, balance, now, now,
		).Error
	}

	require.NoError(test, insertWallet("alice", 10))
	duplicate := insertWallet("alice", 10)
	require.Error(test, duplicate)
	require.True(test, isUniqueViolation(duplicate, constraintTransactionReference))

	negative := insertWallet("bob", -1)
	require.Error(test, negative)
	require.False(test, isUniqueViolation(negative, constraintTransactionReference))
}

func TestTransientErrorsAreConflicts(test *testing.T) {
	for _, code := range []string{pgDeadlockDetectedCode, pgSerializationFailureCode} {
		err := wrapStoreError(errorSubjectWallet, errorCodeCompareAndSwap, &pgconn.PgError{Code: code})
		require.ErrorIs(test, err, ledger.ErrConflict, code)
	}
	err := wrapStoreError(errorSubjectWallet, errorCodeCompareAndSwap, &pgconn.PgError{Code: pgUniqueViolationCode})
	require.NotErrorIs(test, err, ledger.ErrConflict)
	require.NotErrorIs(test, wrapStoreError(errorSubjectWallet, errorCodeGet, errors.New("boom")), ledger.ErrConflict)
}
