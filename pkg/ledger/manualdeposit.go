package ledger

import (
	"context"
	"fmt"
	"strings"
)

// ManualDepositRequest is a user's report of a bank transfer.
type ManualDepositRequest struct {
	UserID      UserID
	AmountMinor int64
	ProofURL    string
	Reference   string
}

// ManualDepositResult reports an approved deposit request and the credited wallet.
type ManualDepositResult struct {
	Request        DepositRequest
	Wallet         Wallet
	Transaction    Transaction
	AlreadyApplied bool
}

func (request ManualDepositRequest) validate() error {
	if request.AmountMinor < MinorUnitsPerCoin {
		return newFieldError("amount", ErrInvalidDepositAmount, "Amount must cover at least one coin")
	}
	if request.AmountMinor > MaxManualDepositMinor {
		return newFieldError("amount", ErrInvalidDepositAmount, "Amount exceeds the manual deposit limit")
	}
	if strings.TrimSpace(request.ProofURL) == "" {
		return newFieldError("proof_url", ErrMissingDepositProof, "Amount and proof are required")
	}
	return nil
}

// RequestManualDeposit records a pending bank-transfer deposit. Nothing is
// credited until an admin approves it.
func (service *Service) RequestManualDeposit(ctx context.Context, request ManualDepositRequest) (DepositRequest, error) {
	var created DepositRequest
	operationError := func() error {
		if err := request.validate(); err != nil {
			return err
		}
		stored, err := service.store.CreateDepositRequest(ctx, DepositRequest{
			UserID:         request.UserID,
			AmountMinor:    request.AmountMinor,
			ProofURL:       strings.TrimSpace(request.ProofURL),
			Reference:      strings.TrimSpace(request.Reference),
			Status:         DepositRequestPending,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		created = stored
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationRequestManualDeposit,
		UserID:    request.UserID,
		Reference: created.ID.String(),
		Coins:     created.Coins(),
		Error:     operationError,
	})
	return created, operationError
}

// ApproveManualDeposit credits the user for a confirmed bank transfer. The
// pending -> approved transition and the credit commit together, so a
// replayed approval is a no-op.
func (service *Service) ApproveManualDeposit(ctx context.Context, requestID DepositRequestID, adminID UserID) (ManualDepositResult, error) {
	var result ManualDepositResult
	operationError := service.retryConflicts(ctx, func() error {
		result = ManualDepositResult{}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			request, err := transactionStore.GetDepositRequest(ctx, requestID)
			if err != nil {
				return err
			}
			result.Request = request
			switch request.Status {
			case DepositRequestPending:
			case DepositRequestApproved:
				result.AlreadyApplied = true
				return nil
			default:
				return fmt.Errorf("%w: deposit request is %s", ErrDepositRequestState, request.Status)
			}
			coins := request.Coins()
			if coins <= 0 {
				return newFieldError("amount", ErrInvalidDepositAmount, "Amount must cover at least one coin")
			}
			nowUnixUTC := service.nowFn()
			if err := transactionStore.UpdateDepositRequestStatus(ctx, requestID, DepositRequestPending, DepositRequestApproved, defaultDepositApproveNote, nowUnixUTC); err != nil {
				return lostRace(err, ErrDepositRequestState)
			}
			wallet, err := mutateWallet(ctx, transactionStore, request.UserID, coins.Int64(), 0)
			if err != nil {
				return err
			}
			metadata, err := NewMetadataJSON(fmt.Sprintf(`{"deposit_request_id":%q,"currency":"NGN"}`, requestID.String()))
			if err != nil {
				return err
			}
			transaction, err := transactionStore.InsertTransaction(ctx, Transaction{
				UserID:         request.UserID,
				AmountMinor:    request.AmountMinor,
				Coins:          coins,
				Type:           TransactionDeposit,
				Status:         TransactionCompleted,
				Description:    "Manual Deposit: " + defaultIfBlank(request.Reference, "Bank Transfer"),
				ReferenceID:    requestID.String(),
				Provider:       manualDepositProvider,
				Metadata:       metadata,
				CreatedUnixUTC: nowUnixUTC,
			})
			if err != nil {
				return err
			}
			request.Status = DepositRequestApproved
			request.AdminNotes = defaultDepositApproveNote
			request.ProcessedUnixUTC = nowUnixUTC
			result.Request = request
			result.Wallet = wallet
			result.Transaction = transaction
			return nil
		})
	})
	logEntry := OperationLog{
		Operation:      operationApproveManualDeposit,
		UserID:         result.Request.UserID,
		CounterpartyID: adminID,
		Reference:      requestID.String(),
		Coins:          result.Request.Coins(),
		Error:          operationError,
	}
	if operationError == nil {
		if result.AlreadyApplied {
			logEntry.Status = operationStatusNoop
		} else {
			service.walletsChanged(ctx, result.Wallet)
			service.notify(ctx, newManualDepositApprovedNotification(result.Request, result.Wallet))
		}
	}
	service.logOperation(ctx, logEntry)
	return result, operationError
}

// RejectManualDeposit declines a pending deposit request. No coins move.
func (service *Service) RejectManualDeposit(ctx context.Context, requestID DepositRequestID, adminID UserID, reason string) (DepositRequest, error) {
	reason = defaultIfBlank(reason, defaultDepositRejectReason)
	var request DepositRequest
	alreadyApplied := false
	operationError := service.retryConflicts(ctx, func() error {
		found, err := service.store.GetDepositRequest(ctx, requestID)
		if err != nil {
			return err
		}
		request = found
		switch found.Status {
		case DepositRequestPending:
		case DepositRequestRejected:
			alreadyApplied = true
			return nil
		default:
			return fmt.Errorf("%w: deposit request is %s", ErrDepositRequestState, found.Status)
		}
		nowUnixUTC := service.nowFn()
		if err := service.store.UpdateDepositRequestStatus(ctx, requestID, DepositRequestPending, DepositRequestRejected, reason, nowUnixUTC); err != nil {
			return lostRace(err, ErrDepositRequestState)
		}
		request.Status = DepositRequestRejected
		request.AdminNotes = reason
		request.ProcessedUnixUTC = nowUnixUTC
		return nil
	})
	logEntry := OperationLog{
		Operation:      operationRejectManualDeposit,
		UserID:         request.UserID,
		CounterpartyID: adminID,
		Reference:      requestID.String(),
		Coins:          request.Coins(),
		Error:          operationError,
	}
	if operationError == nil {
		if alreadyApplied {
			logEntry.Status = operationStatusNoop
		} else {
			service.notify(ctx, newManualDepositRejectedNotification(request, reason))
		}
	}
	service.logOperation(ctx, logEntry)
	return request, operationError
}
