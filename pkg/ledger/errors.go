package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrConflict                    = errors.New("concurrent update conflict")
	ErrDuplicateEvent              = errors.New("duplicate event")
	ErrSignatureInvalid            = errors.New("signature invalid")
	ErrAmountMismatch              = errors.New("amount mismatch")
	ErrPostClaimCreditFailure      = errors.New("post-claim credit failure")
	ErrForbidden                   = errors.New("forbidden")
	ErrBookingState                = errors.New("booking not in required state")
	ErrVerificationState           = errors.New("verification not in required state")
	ErrWithdrawalState             = errors.New("withdrawal not in required state")
	ErrDepositRequestState         = errors.New("deposit request not in required state")
	ErrTransactionClaimed          = errors.New("transaction already claimed")
	ErrWalletExists                = errors.New("wallet already exists")
	ErrDuplicateIdempotencyKey     = errors.New("duplicate idempotency key")
	ErrUnknownWallet               = errors.New("unknown wallet")
	ErrUnknownBooking              = errors.New("unknown booking")
	ErrUnknownVerification         = errors.New("unknown verification")
	ErrUnknownWithdrawal           = errors.New("unknown withdrawal")
	ErrUnknownTransaction          = errors.New("unknown transaction")
	ErrUnknownGift                 = errors.New("unknown gift")
	ErrUnknownCoinPackage          = errors.New("unknown coin package")
	ErrUnknownDepositRequest       = errors.New("unknown deposit request")
	ErrUnknownRecipient            = errors.New("unknown recipient")
	ErrInvalidUserID               = errors.New("invalid user id")
	ErrInvalidBookingID            = errors.New("invalid booking id")
	ErrInvalidVerificationID       = errors.New("invalid verification id")
	ErrInvalidWithdrawalID         = errors.New("invalid withdrawal id")
	ErrInvalidDepositRequestID     = errors.New("invalid deposit request id")
	ErrInvalidPaymentReference     = errors.New("invalid payment reference")
	ErrInvalidIdempotencyKey       = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON         = errors.New("invalid metadata json")
	ErrInvalidCoins                = errors.New("invalid coins")
	ErrInvalidGiftAmount           = errors.New("invalid gift amount")
	ErrInvalidGiftMessage          = errors.New("invalid gift message")
	ErrSelfGift                    = errors.New("cannot gift yourself")
	ErrInvalidDepositAmount        = errors.New("invalid deposit amount")
	ErrMissingDepositProof         = errors.New("deposit proof required")
	ErrInvalidProvider             = errors.New("invalid payment provider")
	ErrMissingAdminNotes           = errors.New("admin notes required")
	ErrInvalidTransactionType      = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus    = errors.New("invalid transaction status")
	ErrInvalidBookingStatus        = errors.New("invalid booking status")
	ErrInvalidVerificationStatus   = errors.New("invalid verification status")
	ErrInvalidWithdrawalStatus     = errors.New("invalid withdrawal status")
	ErrInvalidDepositRequestStatus = errors.New("invalid deposit request status")
	ErrInvalidServiceConfig        = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// FieldError attaches the offending request field to a validation failure.
type FieldError struct {
	Field   string
	Message string
	err     error
}

// Error returns the user-facing message.
func (fieldError FieldError) Error() string {
	return fieldError.Message
}

// Unwrap returns the underlying sentinel.
func (fieldError FieldError) Unwrap() error {
	return fieldError.err
}

func newFieldError(field string, err error, format string, args ...any) error {
	return FieldError{Field: field, Message: fmt.Sprintf(format, args...), err: err}
}
