package ledger

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// GiftRequest describes a coin transfer from one user to another.
type GiftRequest struct {
	SenderID       UserID
	RecipientID    UserID
	Amount         int64
	Message        string
	IdempotencyKey IdempotencyKey
	SenderName     string
	RecipientName  string
}

// GiftResult reports the recorded gift and both wallets after the transfer.
type GiftResult struct {
	Gift            Gift
	SenderWallet    Wallet
	RecipientWallet Wallet
	AlreadyApplied  bool
}

func (request GiftRequest) validate() (PositiveCoins, error) {
	if !validParticipantID(request.RecipientID) {
		return 0, newFieldError("recipient_id", ErrInvalidUserID, "Invalid recipient")
	}
	if request.SenderID == request.RecipientID {
		return 0, newFieldError("recipient_id", ErrSelfGift, "You cannot send a gift to yourself")
	}
	if request.Amount < MinGiftCoins {
		return 0, newFieldError("amount", ErrInvalidGiftAmount, "Minimum gift amount is %d coins", MinGiftCoins)
	}
	if request.Amount > MaxGiftCoins {
		return 0, newFieldError("amount", ErrInvalidGiftAmount, "Maximum gift amount is %d coins", MaxGiftCoins)
	}
	if utf8.RuneCountInString(request.Message) > MaxGiftMessageLength {
		return 0, newFieldError("message", ErrInvalidGiftMessage, "Message must be %d characters or fewer", MaxGiftMessageLength)
	}
	return NewPositiveCoins(request.Amount)
}

// scopedKey namespaces the client-supplied idempotency key by sender so two
// users cannot collide on the same key.
func (request GiftRequest) scopedKey() IdempotencyKey {
	if request.IdempotencyKey.IsZero() {
		return IdempotencyKey{}
	}
	return IdempotencyKey{value: request.SenderID.String() + ":" + request.IdempotencyKey.String()}
}

// TransferGift debits the sender and credits the recipient in one unit of work.
// The recipient must be a registered participant; a registered recipient
// without a wallet gets one opened.
// Either both wallets move and both ledger rows are written, or nothing is.
// Replaying an idempotency key returns the original gift without moving funds.
func (service *Service) TransferGift(ctx context.Context, request GiftRequest) (GiftResult, error) {
	var result GiftResult
	var amount PositiveCoins
	senderName := defaultIfBlank(request.SenderName, "Someone")
	recipientName := defaultIfBlank(request.RecipientName, "a user")
	operationError := func() error {
		validated, err := request.validate()
		if err != nil {
			return err
		}
		amount = validated
		scopedKey := request.scopedKey()
		if !scopedKey.IsZero() {
			existing, lookupErr := service.store.GetGiftByIdempotencyKey(ctx, scopedKey)
			if lookupErr == nil {
				result = GiftResult{Gift: existing, AlreadyApplied: true}
				return nil
			}
			if !errors.Is(lookupErr, ErrUnknownGift) {
				return lookupErr
			}
		}
		return service.retryConflicts(ctx, func() error {
			result = GiftResult{}
			return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
				if err := service.checkRecipient(ctx, transactionStore, request.RecipientID); err != nil {
					return err
				}
				wallets, err := mutateWallets(ctx, transactionStore,
					walletDelta{userID: request.SenderID, balanceDelta: -amount.Int64()},
					walletDelta{userID: request.RecipientID, balanceDelta: amount.Int64()},
				)
				if err != nil {
					return err
				}
				senderWallet, recipientWallet := wallets[0], wallets[1]
				gift, err := transactionStore.InsertGift(ctx, Gift{
					SenderID:       request.SenderID,
					RecipientID:    request.RecipientID,
					Amount:         amount,
					Message:        strings.TrimSpace(request.Message),
					IdempotencyKey: scopedKey.String(),
					CreatedUnixUTC: service.nowFn(),
				})
				if err != nil {
					return err
				}
				if _, err := transactionStore.InsertTransaction(ctx, Transaction{
					UserID:         request.SenderID,
					Coins:          amount.Coins(),
					Type:           TransactionGiftSent,
					Status:         TransactionCompleted,
					Description:    "Gift to " + recipientName,
					ReferenceID:    gift.ID,
					CreatedUnixUTC: gift.CreatedUnixUTC,
				}); err != nil {
					return err
				}
				if _, err := transactionStore.InsertTransaction(ctx, Transaction{
					UserID:         request.RecipientID,
					Coins:          amount.Coins(),
					Type:           TransactionGiftReceived,
					Status:         TransactionCompleted,
					Description:    "Gift from " + senderName,
					ReferenceID:    gift.ID,
					CreatedUnixUTC: gift.CreatedUnixUTC,
				}); err != nil {
					return err
				}
				result = GiftResult{Gift: gift, SenderWallet: senderWallet, RecipientWallet: recipientWallet}
				return nil
			})
		})
	}()
	// A replayed key that raced the first insert resolves to the stored gift.
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) && !request.IdempotencyKey.IsZero() {
		if existing, err := service.store.GetGiftByIdempotencyKey(ctx, request.scopedKey()); err == nil {
			result = GiftResult{Gift: existing, AlreadyApplied: true}
			operationError = nil
		}
	}
	logEntry := OperationLog{
		Operation:      operationGift,
		UserID:         request.SenderID,
		CounterpartyID: request.RecipientID,
		Reference:      request.IdempotencyKey.String(),
		Coins:          amount.Coins(),
		Error:          operationError,
	}
	switch {
	case operationError == nil && result.AlreadyApplied:
		logEntry.Status = operationStatusNoop
	case operationError == nil:
		service.walletsChanged(ctx, result.SenderWallet, result.RecipientWallet)
		notifications := []Notification{
			newGiftSentNotification(result.Gift, recipientName, result.SenderWallet),
			newGiftReceivedNotification(result.Gift, senderName),
		}
		if lowBalance, ok := service.lowBalanceNotification(result.SenderWallet); ok {
			notifications = append(notifications, lowBalance)
		}
		service.notify(ctx, notifications...)
	case errors.Is(operationError, ErrInsufficientFunds):
		if wallet, err := service.store.GetWallet(ctx, request.SenderID); err == nil {
			service.notify(ctx, newLowBalanceNotification(wallet))
		} else {
			service.notify(ctx, newLowBalanceNotification(Wallet{UserID: request.SenderID}))
		}
		operationError = newFieldError("amount", operationError, "Insufficient balance")
		logEntry.Error = operationError
	}
	service.logOperation(ctx, logEntry)
	return result, operationError
}

// checkRecipient consults the participant directory when one is wired and
// otherwise accepts only users who already hold a wallet.
func (service *Service) checkRecipient(ctx context.Context, transactionStore Store, recipientID UserID) error {
	if service.participants != nil {
		registered, err := service.participants.IsParticipant(ctx, recipientID)
		if err != nil {
			return err
		}
		if !registered {
			return newFieldError("recipient_id", ErrUnknownRecipient, "Recipient not found")
		}
		return nil
	}
	if _, err := transactionStore.GetWallet(ctx, recipientID); err != nil {
		if errors.Is(err, ErrUnknownWallet) {
			return newFieldError("recipient_id", ErrUnknownRecipient, "Recipient not found")
		}
		return err
	}
	return nil
}

// validParticipantID rejects ids no account could carry: empty, oversized,
// or containing whitespace or control characters.
func validParticipantID(userID UserID) bool {
	value := userID.String()
	if value == "" || len(value) > MaxParticipantIDLength {
		return false
	}
	return !strings.ContainsFunc(value, func(character rune) bool {
		return unicode.IsSpace(character) || unicode.IsControl(character)
	})
}

func defaultIfBlank(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
