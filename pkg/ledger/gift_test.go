package ledger

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
)

func TestTransferGiftMovesCoinsAndWritesBothRows(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	sender := mustUserID(test, "sender")
	recipient := mustUserID(test, "recipient")
	fixture.store.seedWallet(test, sender, 1000, 50)
	fixture.store.seedWallet(test, recipient, 0, 0)

	result, err := fixture.service.TransferGift(context.Background(), GiftRequest{
		SenderID:      sender,
		RecipientID:   recipient,
		Amount:        400,
		Message:       "thanks!",
		SenderName:    "Ada",
		RecipientName: "Grace",
	})
	if err != nil {
		test.Fatalf("transfer gift: %v", err)
	}
	if result.SenderWallet.Balance != 600 || result.SenderWallet.EscrowBalance != 50 {
		test.Fatalf("unexpected sender wallet %+v", result.SenderWallet)
	}
	if result.RecipientWallet.Balance != 400 {
		test.Fatalf("expected recipient wallet credited with 400, got %+v", result.RecipientWallet)
	}
	sent := fixture.store.transactionsOfType(TransactionGiftSent)
	received := fixture.store.transactionsOfType(TransactionGiftReceived)
	if len(sent) != 1 || sent[0].Description != "Gift to Grace" || sent[0].ReferenceID != result.Gift.ID {
		test.Fatalf("unexpected gift_sent rows %+v", sent)
	}
	if len(received) != 1 || received[0].Description != "Gift from Ada" || received[0].UserID != recipient {
		test.Fatalf("unexpected gift_received rows %+v", received)
	}
	if total := fixture.store.totalCoins(); total != 1050 {
		test.Fatalf("gift changed total coins: %d", total)
	}
	if len(fixture.notifier.ofType(NotificationGiftSent)) != 1 || len(fixture.notifier.ofType(NotificationGiftReceived)) != 1 {
		test.Fatalf("expected sent and received notifications")
	}
	if len(fixture.notifier.ofType(NotificationLowBalance)) != 0 {
		test.Fatalf("unexpected low balance notification")
	}
}

func TestTransferGiftInsufficientBalanceLeavesWalletsUnchanged(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	sender := mustUserID(test, "sender")
	recipient := mustUserID(test, "recipient")
	fixture.store.seedWallet(test, sender, 50, 0)
	fixture.store.seedWallet(test, recipient, 10, 0)

	_, err := fixture.service.TransferGift(context.Background(), GiftRequest{SenderID: sender, RecipientID: recipient, Amount: 100})
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected insufficient funds, got %v", err)
	}
	var fieldError FieldError
	if !errors.As(err, &fieldError) || fieldError.Field != "amount" {
		test.Fatalf("expected amount field error, got %v", err)
	}
	if wallet := fixture.store.mustWallet(test, sender); wallet.Balance != 50 {
		test.Fatalf("sender changed: %+v", wallet)
	}
	if wallet := fixture.store.mustWallet(test, recipient); wallet.Balance != 10 {
		test.Fatalf("recipient changed: %+v", wallet)
	}
	if len(fixture.store.transactionsOfType(TransactionGiftSent)) != 0 {
		test.Fatalf("ledger row written for failed gift")
	}
	if len(fixture.notifier.ofType(NotificationLowBalance)) != 1 {
		test.Fatalf("expected low balance notification for failed gift")
	}
}

func TestTransferGiftRollsBackWhenLedgerWriteFails(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	sender := mustUserID(test, "sender")
	recipient := mustUserID(test, "recipient")
	fixture.store.seedWallet(test, sender, 500, 0)
	fixture.store.seedWallet(test, recipient, 20, 0)
	fixture.store.failWith("InsertTransaction", errors.New("connection reset"))

	if _, err := fixture.service.TransferGift(context.Background(), GiftRequest{SenderID: sender, RecipientID: recipient, Amount: 200}); err == nil {
		test.Fatalf("expected failure")
	}
	if wallet := fixture.store.mustWallet(test, sender); wallet.Balance != 500 {
		test.Fatalf("sender debited despite rollback: %+v", wallet)
	}
	if wallet := fixture.store.mustWallet(test, recipient); wallet.Balance != 20 {
		test.Fatalf("recipient credited despite rollback: %+v", wallet)
	}
	if fixture.notifier.count() != 0 {
		test.Fatalf("notifications sent for rolled back gift")
	}
}

func TestTransferGiftValidation(test *testing.T) {
	test.Parallel()
	sender := mustUserID(test, "sender")
	recipient := mustUserID(test, "recipient")
	testCases := []struct {
		name      string
		request   GiftRequest
		wantErr   error
		wantField string
	}{
		{name: "blank recipient", request: GiftRequest{SenderID: sender, Amount: 200}, wantErr: ErrInvalidUserID, wantField: "recipient_id"},
		{name: "malformed recipient", request: GiftRequest{SenderID: sender, RecipientID: UserID{value: "not a participant!!"}, Amount: 200}, wantErr: ErrInvalidUserID, wantField: "recipient_id"},
		{name: "oversized recipient", request: GiftRequest{SenderID: sender, RecipientID: UserID{value: strings.Repeat("r", MaxParticipantIDLength+1)}, Amount: 200}, wantErr: ErrInvalidUserID, wantField: "recipient_id"},
		{name: "unknown recipient", request: GiftRequest{SenderID: sender, RecipientID: mustUserID(test, "stranger"), Amount: 200}, wantErr: ErrUnknownRecipient, wantField: "recipient_id"},
		{name: "self", request: GiftRequest{SenderID: sender, RecipientID: sender, Amount: 200}, wantErr: ErrSelfGift, wantField: "recipient_id"},
		{name: "below minimum", request: GiftRequest{SenderID: sender, RecipientID: recipient, Amount: MinGiftCoins - 1}, wantErr: ErrInvalidGiftAmount, wantField: "amount"},
		{name: "negative", request: GiftRequest{SenderID: sender, RecipientID: recipient, Amount: -100}, wantErr: ErrInvalidGiftAmount, wantField: "amount"},
		{name: "above maximum", request: GiftRequest{SenderID: sender, RecipientID: recipient, Amount: MaxGiftCoins + 1}, wantErr: ErrInvalidGiftAmount, wantField: "amount"},
		{name: "long message", request: GiftRequest{SenderID: sender, RecipientID: recipient, Amount: 200, Message: strings.Repeat("x", MaxGiftMessageLength+1)}, wantErr: ErrInvalidGiftMessage, wantField: "message"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newServiceFixture(test)
			fixture.store.seedWallet(test, sender, 10_000_000, 0)
			fixture.store.seedWallet(test, recipient, 0, 0)
			_, err := fixture.service.TransferGift(context.Background(), testCase.request)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			var fieldError FieldError
			if !errors.As(err, &fieldError) || fieldError.Field != testCase.wantField {
				test.Fatalf("expected field %q, got %v", testCase.wantField, err)
			}
			if wallet := fixture.store.mustWallet(test, sender); wallet.Balance != 10_000_000 {
				test.Fatalf("wallet moved on invalid request")
			}
			if _, err := fixture.store.GetWallet(context.Background(), mustUserID(test, "stranger")); !errors.Is(err, ErrUnknownWallet) {
				test.Fatalf("wallet opened for unknown recipient: %v", err)
			}
		})
	}
}

func TestTransferGiftIdempotencyKeyReplaysOriginal(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	sender := mustUserID(test, "sender")
	recipient := mustUserID(test, "recipient")
	fixture.store.seedWallet(test, sender, 1000, 0)
	fixture.store.seedWallet(test, recipient, 0, 0)
	request := GiftRequest{SenderID: sender, RecipientID: recipient, Amount: 300, IdempotencyKey: mustIdempotencyKey(test, "gift-1")}

	first, err := fixture.service.TransferGift(context.Background(), request)
	if err != nil {
		test.Fatalf("first gift: %v", err)
	}
	second, err := fixture.service.TransferGift(context.Background(), request)
	if err != nil {
		test.Fatalf("replayed gift: %v", err)
	}
	if !second.AlreadyApplied || second.Gift.ID != first.Gift.ID {
		test.Fatalf("expected replay of %s, got %+v", first.Gift.ID, second)
	}
	if wallet := fixture.store.mustWallet(test, sender); wallet.Balance != 700 {
		test.Fatalf("expected single debit, got %+v", wallet)
	}
	if first.Gift.IdempotencyKey != "sender:gift-1" {
		test.Fatalf("expected key scoped by sender, got %q", first.Gift.IdempotencyKey)
	}
}

func TestTransferGiftLowBalanceNotification(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	sender := mustUserID(test, "sender")
	recipient := mustUserID(test, "recipient")
	fixture.store.seedWallet(test, sender, 150, 0)
	fixture.store.seedWallet(test, recipient, 0, 0)

	if _, err := fixture.service.TransferGift(context.Background(), GiftRequest{SenderID: sender, RecipientID: recipient, Amount: 100}); err != nil {
		test.Fatalf("gift: %v", err)
	}
	lowBalance := fixture.notifier.ofType(NotificationLowBalance)
	if len(lowBalance) != 1 || lowBalance[0].UserID != sender {
		test.Fatalf("expected low balance notification for sender, got %+v", lowBalance)
	}
	if lowBalance[0].Data["current_balance"] != int64(50) {
		test.Fatalf("unexpected low balance data %+v", lowBalance[0].Data)
	}
}

func TestConcurrentGiftsConserveCoins(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")
	fixture.store.seedWallet(test, alice, 1000, 0)
	fixture.store.seedWallet(test, bob, 1000, 0)

	var waitGroup sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		sender, recipient := alice, bob
		if worker%2 == 1 {
			sender, recipient = bob, alice
		}
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, _ = fixture.service.TransferGift(context.Background(), GiftRequest{SenderID: sender, RecipientID: recipient, Amount: 150})
		}()
	}
	waitGroup.Wait()

	if total := fixture.store.totalCoins(); total != 2000 {
		test.Fatalf("expected total 2000, got %d", total)
	}
	sent := len(fixture.store.transactionsOfType(TransactionGiftSent))
	received := len(fixture.store.transactionsOfType(TransactionGiftReceived))
	if sent != received {
		test.Fatalf("unbalanced gift rows: sent=%d received=%d", sent, received)
	}
}

func TestTransferGiftLocksWalletsInUserIDOrder(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	alice := mustUserID(test, "alice")
	bob := mustUserID(test, "bob")
	fixture.store.seedWallet(test, alice, 1000, 0)
	fixture.store.seedWallet(test, bob, 1000, 0)

	if _, err := fixture.service.TransferGift(context.Background(), GiftRequest{SenderID: bob, RecipientID: alice, Amount: 150}); err != nil {
		test.Fatalf("bob to alice: %v", err)
	}
	if _, err := fixture.service.TransferGift(context.Background(), GiftRequest{SenderID: alice, RecipientID: bob, Amount: 150}); err != nil {
		test.Fatalf("alice to bob: %v", err)
	}
	expected := []UserID{alice, bob, alice, bob}
	if order := fixture.store.walletWriteOrder(); !slices.Equal(order, expected) {
		test.Fatalf("expected wallet writes %v, got %v", expected, order)
	}
}

func TestTransferGiftRetriesTransientConflict(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	sender := mustUserID(test, "sender")
	recipient := mustUserID(test, "recipient")
	fixture.store.seedWallet(test, sender, 1000, 0)
	fixture.store.seedWallet(test, recipient, 0, 0)
	fixture.store.casConflicts = 2

	result, err := fixture.service.TransferGift(context.Background(), GiftRequest{SenderID: sender, RecipientID: recipient, Amount: 200})
	if err != nil {
		test.Fatalf("expected conflicts to be retried, got %v", err)
	}
	if result.SenderWallet.Balance != 800 || result.RecipientWallet.Balance != 200 {
		test.Fatalf("unexpected wallets %+v / %+v", result.SenderWallet, result.RecipientWallet)
	}
	if sent := fixture.store.transactionsOfType(TransactionGiftSent); len(sent) != 1 {
		test.Fatalf("expected one gift_sent row, got %d", len(sent))
	}
}

type staticDirectory map[string]bool

func (directory staticDirectory) IsParticipant(_ context.Context, userID UserID) (bool, error) {
	return directory[userID.String()], nil
}

func TestTransferGiftConsultsParticipantDirectory(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	WithParticipantDirectory(staticDirectory{"registered": true})(fixture.service)
	sender := mustUserID(test, "sender")
	fixture.store.seedWallet(test, sender, 1000, 0)
	ctx := context.Background()

	result, err := fixture.service.TransferGift(ctx, GiftRequest{SenderID: sender, RecipientID: mustUserID(test, "registered"), Amount: 100})
	if err != nil {
		test.Fatalf("gift to registered participant: %v", err)
	}
	if result.RecipientWallet.Balance != 100 {
		test.Fatalf("expected recipient wallet opened with 100, got %+v", result.RecipientWallet)
	}

	stranger := mustUserID(test, "stranger")
	if _, err := fixture.service.TransferGift(ctx, GiftRequest{SenderID: sender, RecipientID: stranger, Amount: 100}); !errors.Is(err, ErrUnknownRecipient) {
		test.Fatalf("expected unknown recipient, got %v", err)
	}
	if _, err := fixture.store.GetWallet(ctx, stranger); !errors.Is(err, ErrUnknownWallet) {
		test.Fatalf("gift opened a wallet for an unregistered id: %v", err)
	}
	if wallet := fixture.store.mustWallet(test, sender); wallet.Balance != 900 {
		test.Fatalf("expected only one debit, got %+v", wallet)
	}
}
