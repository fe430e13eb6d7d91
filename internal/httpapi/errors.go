package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/coinledger/internal/intake"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest    = "invalid_request"
	codeInsufficientFunds = "insufficient_funds"
	codeForbidden         = "forbidden"
	codeNotFound          = "not_found"
	codeInvalidState      = "invalid_state"
	codeConflict          = "conflict"
	codeInvalidSignature  = "invalid_signature"
	codeAmountMismatch    = "amount_mismatch"
	codePaymentFailed     = "payment_not_successful"
	codeProviderError     = "provider_unavailable"
	codePostClaimFailure  = "payment_received"
	codeInternal          = "ledger_error"
	messagePostClaim      = "payment received, contact support"
	messageInternal       = "internal error"
	fieldAmount           = "amount"
)

var (
	validationErrors = []error{
		ledger.ErrInvalidUserID,
		ledger.ErrInvalidBookingID,
		ledger.ErrInvalidVerificationID,
		ledger.ErrInvalidWithdrawalID,
		ledger.ErrInvalidDepositRequestID,
		ledger.ErrInvalidPaymentReference,
		ledger.ErrInvalidIdempotencyKey,
		ledger.ErrInvalidMetadataJSON,
		ledger.ErrInvalidCoins,
		ledger.ErrInvalidGiftAmount,
		ledger.ErrInvalidGiftMessage,
		ledger.ErrSelfGift,
		ledger.ErrUnknownRecipient,
		ledger.ErrInvalidDepositAmount,
		ledger.ErrMissingDepositProof,
		ledger.ErrInvalidProvider,
		ledger.ErrMissingAdminNotes,
		ledger.ErrUnknownCoinPackage,
		intake.ErrMalformedPayload,
	}
	notFoundErrors = []error{
		ledger.ErrUnknownWallet,
		ledger.ErrUnknownBooking,
		ledger.ErrUnknownVerification,
		ledger.ErrUnknownWithdrawal,
		ledger.ErrUnknownTransaction,
		ledger.ErrUnknownGift,
		ledger.ErrUnknownDepositRequest,
	}
	stateErrors = []error{
		ledger.ErrBookingState,
		ledger.ErrVerificationState,
		ledger.ErrWithdrawalState,
		ledger.ErrDepositRequestState,
		ledger.ErrTransactionClaimed,
	}
)

// classifyError maps a ledger or intake failure to an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrPostClaimCreditFailure):
		return http.StatusAccepted, codePostClaimFailure
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, codeInsufficientFunds
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, ledger.ErrSignatureInvalid):
		return http.StatusUnauthorized, codeInvalidSignature
	case errors.Is(err, ledger.ErrAmountMismatch):
		return http.StatusBadRequest, codeAmountMismatch
	case errors.Is(err, intake.ErrPaymentNotSuccessful):
		return http.StatusBadRequest, codePaymentFailed
	case errors.Is(err, intake.ErrProviderUnavailable):
		return http.StatusBadGateway, codeProviderError
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, codeConflict
	case isAny(err, stateErrors):
		return http.StatusConflict, codeInvalidState
	case isAny(err, notFoundErrors):
		return http.StatusNotFound, codeNotFound
	case isAny(err, validationErrors):
		return http.StatusBadRequest, codeInvalidRequest
	}
	var fieldError ledger.FieldError
	if errors.As(err, &fieldError) {
		return http.StatusBadRequest, codeInvalidRequest
	}
	var bindingErrors validator.ValidationErrors
	if errors.As(err, &bindingErrors) {
		return http.StatusBadRequest, codeInvalidRequest
	}
	return http.StatusInternalServerError, codeInternal
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorField names the request field responsible for err, if any.
func errorField(err error) string {
	var fieldError ledger.FieldError
	if errors.As(err, &fieldError) {
		return fieldError.Field
	}
	var bindingErrors validator.ValidationErrors
	if errors.As(err, &bindingErrors) && len(bindingErrors) > 0 {
		return bindingErrors[0].Field()
	}
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return fieldAmount
	}
	return ""
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	message := err.Error()
	switch {
	case status == http.StatusAccepted:
		handler.logger.Error("payment claimed but not credited", zap.Error(err))
		message = messagePostClaim
	case status >= http.StatusInternalServerError:
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		message = messageInternal
	}
	body := gin.H{"code": code, "message": message}
	if field := errorField(err); field != "" {
		body["field"] = field
	}
	ctx.JSON(status, gin.H{"error": body})
}

// respondBindingError reports a malformed or invalid request body.
func (handler *httpHandler) respondBindingError(ctx *gin.Context, err error) {
	var bindingErrors validator.ValidationErrors
	if errors.As(err, &bindingErrors) {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
}
