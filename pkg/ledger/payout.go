package ledger

import (
	"context"
	"fmt"
)

// PayoutResult reports an approved withdrawal and the debited wallet.
type PayoutResult struct {
	Withdrawal     Withdrawal
	Wallet         Wallet
	Transaction    Transaction
	AlreadyApplied bool
}

// RequestWithdrawal records a talent's request to cash out coins. Funds stay
// in the wallet until an admin approves the payout.
func (service *Service) RequestWithdrawal(ctx context.Context, talentID UserID, amount PositiveCoins) (Withdrawal, error) {
	var withdrawal Withdrawal
	operationError := func() error {
		wallet, err := service.Wallet(ctx, talentID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount.Coins() {
			return newFieldError("amount", ErrInsufficientFunds, "Insufficient balance")
		}
		created, err := service.store.CreateWithdrawal(ctx, Withdrawal{
			TalentID: talentID,
			Amount:   amount,
			Status:   WithdrawalPending,
		})
		if err != nil {
			return err
		}
		withdrawal = created
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationRequestWithdrawal,
		UserID:    talentID,
		Reference: withdrawal.ID.String(),
		Coins:     amount.Coins(),
		Error:     operationError,
	})
	return withdrawal, operationError
}

// ApproveWithdrawal debits the talent's balance and records the payout.
func (service *Service) ApproveWithdrawal(ctx context.Context, withdrawalID WithdrawalID, adminID UserID) (PayoutResult, error) {
	var result PayoutResult
	operationError := service.retryConflicts(ctx, func() error {
		result = PayoutResult{}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			withdrawal, err := transactionStore.GetWithdrawal(ctx, withdrawalID)
			if err != nil {
				return err
			}
			result.Withdrawal = withdrawal
			switch withdrawal.Status {
			case WithdrawalPending:
			case WithdrawalApproved:
				result.AlreadyApplied = true
				return nil
			default:
				return fmt.Errorf("%w: withdrawal is %s", ErrWithdrawalState, withdrawal.Status)
			}
			nowUnixUTC := service.nowFn()
			if err := transactionStore.UpdateWithdrawalStatus(ctx, withdrawalID, WithdrawalPending, WithdrawalApproved, "", nowUnixUTC); err != nil {
				return lostRace(err, ErrWithdrawalState)
			}
			wallet, err := mutateWallet(ctx, transactionStore, withdrawal.TalentID, -withdrawal.Amount.Int64(), 0)
			if err != nil {
				return err
			}
			transaction, err := transactionStore.InsertTransaction(ctx, Transaction{
				UserID:         withdrawal.TalentID,
				Coins:          withdrawal.Amount.Coins(),
				Type:           TransactionPayout,
				Status:         TransactionCompleted,
				Description:    fmt.Sprintf("Withdrawal payout - %d coins", withdrawal.Amount),
				ReferenceID:    withdrawalID.String(),
				CreatedUnixUTC: nowUnixUTC,
			})
			if err != nil {
				return err
			}
			withdrawal.Status = WithdrawalApproved
			withdrawal.ProcessedUnixUTC = nowUnixUTC
			result.Withdrawal = withdrawal
			result.Wallet = wallet
			result.Transaction = transaction
			return nil
		})
	})
	logEntry := OperationLog{
		Operation:      operationApproveWithdrawal,
		UserID:         result.Withdrawal.TalentID,
		CounterpartyID: adminID,
		Reference:      withdrawalID.String(),
		Coins:          result.Withdrawal.Amount.Coins(),
		Error:          operationError,
	}
	if operationError == nil {
		if result.AlreadyApplied {
			logEntry.Status = operationStatusNoop
		} else {
			service.walletsChanged(ctx, result.Wallet)
			service.notify(ctx, newWithdrawalApprovedNotification(result.Withdrawal, result.Wallet))
		}
	}
	service.logOperation(ctx, logEntry)
	return result, operationError
}

// RejectWithdrawal declines a pending withdrawal. No coins move.
func (service *Service) RejectWithdrawal(ctx context.Context, withdrawalID WithdrawalID, adminID UserID, reason string) (Withdrawal, error) {
	reason = defaultIfBlank(reason, defaultWithdrawalRejectReason)
	var withdrawal Withdrawal
	alreadyApplied := false
	operationError := service.retryConflicts(ctx, func() error {
		found, err := service.store.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		withdrawal = found
		switch found.Status {
		case WithdrawalPending:
		case WithdrawalRejected:
			alreadyApplied = true
			return nil
		default:
			return fmt.Errorf("%w: withdrawal is %s", ErrWithdrawalState, found.Status)
		}
		nowUnixUTC := service.nowFn()
		if err := service.store.UpdateWithdrawalStatus(ctx, withdrawalID, WithdrawalPending, WithdrawalRejected, reason, nowUnixUTC); err != nil {
			return lostRace(err, ErrWithdrawalState)
		}
		withdrawal.Status = WithdrawalRejected
		withdrawal.AdminNotes = reason
		withdrawal.ProcessedUnixUTC = nowUnixUTC
		return nil
	})
	logEntry := OperationLog{
		Operation:      operationRejectWithdrawal,
		UserID:         withdrawal.TalentID,
		CounterpartyID: adminID,
		Reference:      withdrawalID.String(),
		Coins:          withdrawal.Amount.Coins(),
		Error:          operationError,
	}
	if operationError == nil {
		if alreadyApplied {
			logEntry.Status = operationStatusNoop
		} else {
			service.notify(ctx, newWithdrawalRejectedNotification(withdrawal, reason))
		}
	}
	service.logOperation(ctx, logEntry)
	return withdrawal, operationError
}
