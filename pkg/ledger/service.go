package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/internal/retry"
	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
type Service struct {
	store             Store
	nowFn             func() int64
	logger            OperationLogger
	notifier          Notifier
	observer          WalletObserver
	participants      ParticipantDirectory
	referenceFn       func() string
	conflictAttempts  int
	conflictBaseDelay time.Duration
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:             store,
		nowFn:             now,
		referenceFn:       randomReferenceSuffix,
		conflictAttempts:  defaultConflictAttempts,
		conflictBaseDelay: defaultConflictBaseDelay,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Wallet returns the user's wallet, creating an empty one on first access.
func (service *Service) Wallet(ctx context.Context, userID UserID) (Wallet, error) {
	var wallet Wallet
	err := service.retryConflicts(ctx, func() error {
		found, err := service.store.GetWallet(ctx, userID)
		if err == nil {
			wallet = found
			return nil
		}
		if !errors.Is(err, ErrUnknownWallet) {
			return err
		}
		created := Wallet{UserID: userID}
		if err := service.store.CreateWallet(ctx, created); err != nil {
			if errors.Is(err, ErrWalletExists) {
				return fmt.Errorf("%w: wallet created concurrently", ErrConflict)
			}
			return err
		}
		wallet = created
		return nil
	})
	return wallet, err
}

// ApplyDelta moves the user's balance and escrow by the given deltas using a
// compare-and-swap against the last read state, retrying lost races.
func (service *Service) ApplyDelta(ctx context.Context, userID UserID, balanceDelta int64, escrowDelta int64) (Wallet, error) {
	var wallet Wallet
	operationError := service.retryConflicts(ctx, func() error {
		updated, err := mutateWallet(ctx, service.store, userID, balanceDelta, escrowDelta)
		if err != nil {
			return err
		}
		wallet = updated
		return nil
	})
	if operationError == nil {
		service.walletsChanged(ctx, wallet)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationApplyDelta,
		UserID:    userID,
		Coins:     Coins(absInt64(balanceDelta) + absInt64(escrowDelta)),
		Error:     operationError,
	})
	return wallet, operationError
}

// Transactions lists the user's most recent ledger rows, newest first.
func (service *Service) Transactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	return service.store.ListTransactions(ctx, userID, limit)
}

// mutateWallet reads the wallet and writes the new state conditioned on the
// read. A missing wallet is created when the deltas are credits.
func mutateWallet(ctx context.Context, store Store, userID UserID, balanceDelta int64, escrowDelta int64) (Wallet, error) {
	current, err := store.GetWallet(ctx, userID)
	if errors.Is(err, ErrUnknownWallet) {
		if balanceDelta < 0 || escrowDelta < 0 {
			return Wallet{}, fmt.Errorf("%w: %w", ErrUnknownWallet, ErrInsufficientFunds)
		}
		created, applyErr := Wallet{UserID: userID}.Apply(balanceDelta, escrowDelta)
		if applyErr != nil {
			return Wallet{}, applyErr
		}
		if err := store.CreateWallet(ctx, created); err != nil {
			if errors.Is(err, ErrWalletExists) {
				return Wallet{}, fmt.Errorf("%w: wallet created concurrently", ErrConflict)
			}
			return Wallet{}, err
		}
		return created, nil
	}
	if err != nil {
		return Wallet{}, err
	}
	next, err := current.Apply(balanceDelta, escrowDelta)
	if err != nil {
		return Wallet{}, err
	}
	if err := store.CompareAndSwapWallet(ctx, current, next); err != nil {
		return Wallet{}, err
	}
	return next, nil
}

// walletDelta is one wallet mutation inside a multi-wallet unit of work.
type walletDelta struct {
	userID       UserID
	balanceDelta int64
	escrowDelta  int64
}

// mutateWallets applies the deltas in user id order so units of work touching
// the same wallets lock rows in the same sequence. Results follow the order
// of deltas.
func mutateWallets(ctx context.Context, store Store, deltas ...walletDelta) ([]Wallet, error) {
	order := make([]int, len(deltas))
	for index := range order {
		order[index] = index
	}
	slices.SortStableFunc(order, func(left, right int) int {
		return strings.Compare(deltas[left].userID.String(), deltas[right].userID.String())
	})
	wallets := make([]Wallet, len(deltas))
	for _, index := range order {
		delta := deltas[index]
		wallet, err := mutateWallet(ctx, store, delta.userID, delta.balanceDelta, delta.escrowDelta)
		if err != nil {
			return nil, err
		}
		wallets[index] = wallet
	}
	return wallets, nil
}

func (service *Service) retryConflicts(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, service.conflictAttempts, service.conflictBaseDelay, retry.OnlyRetry(fn, ErrConflict))
}

// lostRace turns a failed conditional status transition into a retryable conflict.
func lostRace(err error, stateErr error) error {
	if errors.Is(err, stateErr) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func (service *Service) notify(ctx context.Context, notifications ...Notification) {
	if service.notifier == nil {
		return
	}
	for _, notification := range notifications {
		service.notifier.Notify(ctx, notification)
	}
}

func (service *Service) walletsChanged(ctx context.Context, wallets ...Wallet) {
	if service.observer == nil {
		return
	}
	for _, wallet := range wallets {
		if wallet.UserID.IsZero() {
			continue
		}
		service.observer.WalletChanged(ctx, wallet)
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) lowBalanceNotification(wallet Wallet) (Notification, bool) {
	if wallet.Balance >= LowBalanceThreshold {
		return Notification{}, false
	}
	return newLowBalanceNotification(wallet), true
}

func randomReferenceSuffix() string {
	return uuid.NewString()[:8]
}

func absInt64(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}
