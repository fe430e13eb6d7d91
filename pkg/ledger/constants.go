package ledger

import "time"

const (
	operationWallet               = "wallet"
	operationApplyDelta           = "apply_delta"
	operationCreateBooking        = "create_booking"
	operationHold                 = "hold"
	operationSubmitVerification   = "submit_verification"
	operationApproveVerification  = "approve_verification"
	operationAcceptBooking        = "accept_booking"
	operationRelease              = "release"
	operationRefund               = "refund"
	operationExpire               = "expire"
	operationGift                 = "gift"
	operationCreateDeposit        = "create_deposit"
	operationSettle               = "settle"
	operationRequestWithdrawal    = "request_withdrawal"
	operationApproveWithdrawal    = "approve_withdrawal"
	operationRejectWithdrawal     = "reject_withdrawal"
	operationRequestManualDeposit = "request_manual_deposit"
	operationApproveManualDeposit = "approve_manual_deposit"
	operationRejectManualDeposit  = "reject_manual_deposit"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusNoop    = "noop"
	operationStatusIgnored = "ignored"

	alertPostClaimCreditFailure = "post_claim_credit_failure"
	alertPartialEscrowRefund    = "partial_escrow_refund"

	// LowBalanceThreshold is the balance below which users get a low_balance advisory.
	LowBalanceThreshold Coins = 100

	// MinGiftCoins and MaxGiftCoins bound a single gift.
	MinGiftCoins int64 = 100
	MaxGiftCoins int64 = 1_000_000
	// MaxGiftMessageLength caps the gift note in characters.
	MaxGiftMessageLength = 500

	defaultConflictAttempts  = 5
	defaultConflictBaseDelay = 5 * time.Millisecond
	defaultTransactionLimit  = 50
	maxTransactionLimit      = 200
	staleBookingBatchSize    = 100

	paymentPendingMaxAge = time.Hour
	pendingMaxAge        = 24 * time.Hour

	defaultWithdrawalRejectReason = "Rejected by admin"
	defaultDepositApproveNote     = "Approved by admin"
	defaultDepositRejectReason    = "Rejected by admin"
	manualDepositProvider         = "bank_transfer"

	// MinorUnitsPerCoin is the coin price in kobo (ten naira).
	MinorUnitsPerCoin int64 = 1000
	// MaxManualDepositMinor caps a single reported bank transfer.
	MaxManualDepositMinor int64 = 10_000_000_000
	// MaxParticipantIDLength bounds identifiers accepted as gift recipients.
	MaxParticipantIDLength = 128
)
