package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PaymentProvider names an external payment processor.
type PaymentProvider string

const (
	ProviderPaystack    PaymentProvider = "paystack"
	ProviderNOWPayments PaymentProvider = "nowpayments"
)

// ParsePaymentProvider validates a provider name.
func ParsePaymentProvider(raw string) (PaymentProvider, error) {
	switch provider := PaymentProvider(strings.ToLower(strings.TrimSpace(raw))); provider {
	case ProviderPaystack, ProviderNOWPayments:
		return provider, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, raw)
	}
}

func (provider PaymentProvider) String() string {
	return string(provider)
}

// CoinPackage is a purchasable bundle of coins.
type CoinPackage struct {
	ID          string
	Coins       PositiveCoins
	PriceMinor  int64
	DisplayName string
}

// One coin costs ten naira; prices are kept in kobo.
var coinPackages = []CoinPackage{
	{ID: "coins-1000", Coins: 1000, PriceMinor: 1_000_000, DisplayName: "1,000 Coins"},
	{ID: "coins-5000", Coins: 5000, PriceMinor: 5_000_000, DisplayName: "5,000 Coins"},
	{ID: "coins-10000", Coins: 10000, PriceMinor: 10_000_000, DisplayName: "10,000 Coins"},
	{ID: "coins-15000", Coins: 15000, PriceMinor: 15_000_000, DisplayName: "15,000 Coins"},
	{ID: "coins-25000", Coins: 25000, PriceMinor: 25_000_000, DisplayName: "25,000 Coins"},
	{ID: "coins-50000", Coins: 50000, PriceMinor: 50_000_000, DisplayName: "50,000 Coins"},
}

// CoinPackages returns the purchasable catalog.
func CoinPackages() []CoinPackage {
	return append([]CoinPackage(nil), coinPackages...)
}

// LookupCoinPackage resolves a package by id.
func LookupCoinPackage(id string) (CoinPackage, error) {
	for _, coinPackage := range coinPackages {
		if coinPackage.ID == id {
			return coinPackage, nil
		}
	}
	return CoinPackage{}, fmt.Errorf("%w: %q", ErrUnknownCoinPackage, id)
}

// SettlementEvent is a normalized confirmation from a payment processor.
// UserID is set when the caller is scoped to a user (client-polled verification).
type SettlementEvent struct {
	Reference   PaymentReference
	AmountMinor int64
	Provider    PaymentProvider
	UserID      UserID
}

// SettlementStatus classifies how a settlement event was handled.
type SettlementStatus string

const (
	SettlementProcessed        SettlementStatus = "processed"
	SettlementAlreadyProcessed SettlementStatus = "already_processed"
	SettlementIgnored          SettlementStatus = "ignored"
)

// SettlementOutcome reports the result of SettleDeposit.
type SettlementOutcome struct {
	Status      SettlementStatus
	Transaction Transaction
	Wallet      Wallet
}

// CreateDeposit records a pending deposit for a coin package and returns the
// transaction whose reference the processor will echo back.
func (service *Service) CreateDeposit(ctx context.Context, userID UserID, packageID string, provider PaymentProvider) (Transaction, error) {
	var transaction Transaction
	operationError := func() error {
		coinPackage, err := LookupCoinPackage(packageID)
		if err != nil {
			return newFieldError("package_id", err, "Invalid coin package")
		}
		if _, err := ParsePaymentProvider(provider.String()); err != nil {
			return newFieldError("provider", err, "Invalid provider")
		}
		nowUnixUTC := service.nowFn()
		metadata, err := NewMetadataJSON(fmt.Sprintf(`{"package_id":%q,"currency":"NGN"}`, coinPackage.ID))
		if err != nil {
			return err
		}
		created, err := service.store.InsertTransaction(ctx, Transaction{
			UserID:         userID,
			AmountMinor:    coinPackage.PriceMinor,
			Coins:          coinPackage.Coins.Coins(),
			Type:           TransactionDeposit,
			Status:         TransactionPending,
			Description:    "Purchase of " + coinPackage.DisplayName,
			Reference:      fmt.Sprintf("%s_%d_%s", provider, nowUnixUTC, service.referenceFn()),
			Provider:       provider.String(),
			Metadata:       metadata,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		transaction = created
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateDeposit,
		UserID:    userID,
		Reference: transaction.Reference,
		Coins:     transaction.Coins,
		Error:     operationError,
	})
	return transaction, operationError
}

// SettleDeposit applies a processor confirmation to its pending deposit.
//
// The pending -> completed claim is the exactly-once guard: of any number of
// concurrent or replayed deliveries only the claimant credits the wallet.
// The claim is committed before the credit, so a credit that still fails
// after retries is surfaced as ErrPostClaimCreditFailure for reconciliation.
func (service *Service) SettleDeposit(ctx context.Context, event SettlementEvent) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	var alert string
	operationError := func() error {
		transaction, err := service.store.GetTransactionByReference(ctx, event.Reference)
		if errors.Is(err, ErrUnknownTransaction) {
			outcome.Status = SettlementIgnored
			return nil
		}
		if err != nil {
			return err
		}
		outcome.Transaction = transaction
		if transaction.Type != TransactionDeposit {
			outcome.Status = SettlementIgnored
			return nil
		}
		if !event.UserID.IsZero() && event.UserID != transaction.UserID {
			outcome.Status = SettlementIgnored
			return nil
		}
		if event.Provider != "" && transaction.Provider != "" && event.Provider.String() != transaction.Provider {
			outcome.Status = SettlementIgnored
			return nil
		}
		// A completed row was claimed by an earlier delivery or the polling path.
		if transaction.Status != TransactionPending {
			outcome.Status = SettlementIgnored
			return nil
		}
		if event.AmountMinor != transaction.AmountMinor {
			return fmt.Errorf("%w: expected %d, received %d", ErrAmountMismatch, transaction.AmountMinor, event.AmountMinor)
		}
		if err := service.store.UpdateTransactionStatus(ctx, event.Reference, TransactionPending, TransactionCompleted); err != nil {
			if errors.Is(err, ErrTransactionClaimed) {
				outcome.Status = SettlementAlreadyProcessed
				return nil
			}
			return err
		}
		transaction.Status = TransactionCompleted
		outcome.Transaction = transaction
		var wallet Wallet
		creditErr := service.retryConflicts(ctx, func() error {
			updated, err := mutateWallet(ctx, service.store, transaction.UserID, transaction.Coins.Int64(), 0)
			if err != nil {
				return err
			}
			wallet = updated
			return nil
		})
		if creditErr != nil {
			alert = alertPostClaimCreditFailure
			return fmt.Errorf("%w: %w", ErrPostClaimCreditFailure, creditErr)
		}
		outcome.Status = SettlementProcessed
		outcome.Wallet = wallet
		return nil
	}()
	logEntry := OperationLog{
		Operation: operationSettle,
		UserID:    outcome.Transaction.UserID,
		Reference: event.Reference.String(),
		Coins:     outcome.Transaction.Coins,
		Alert:     alert,
		Error:     operationError,
	}
	switch {
	case errors.Is(operationError, ErrPostClaimCreditFailure):
		service.notify(ctx, newPurchaseFailedNotification(outcome.Transaction))
	case operationError != nil:
	case outcome.Status == SettlementProcessed:
		service.walletsChanged(ctx, outcome.Wallet)
		notifications := []Notification{newPurchaseSuccessNotification(outcome.Transaction, outcome.Wallet)}
		if lowBalance, ok := service.lowBalanceNotification(outcome.Wallet); ok {
			notifications = append(notifications, lowBalance)
		}
		service.notify(ctx, notifications...)
	case outcome.Status == SettlementAlreadyProcessed:
		logEntry.Status = operationStatusNoop
	default:
		logEntry.Status = operationStatusIgnored
	}
	service.logOperation(ctx, logEntry)
	return outcome, operationError
}
