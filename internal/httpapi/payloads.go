package httpapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
)

type depositRequest struct {
	PackageID string `json:"package_id" binding:"required"`
	Provider  string `json:"provider" binding:"required"`
}

// manualDepositRequest carries the transferred amount in whole naira.
type manualDepositRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0,lte=100000000"`
	ProofURL  string `json:"proof_url" binding:"required,url"`
	Reference string `json:"reference" binding:"max=128"`
}

type verifyDepositRequest struct {
	Reference string `json:"reference" binding:"required"`
}

type giftRequest struct {
	RecipientID    string `json:"recipient_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Message        string `json:"message" binding:"max=500"`
	IdempotencyKey string `json:"idempotency_key"`
	SenderName     string `json:"sender_name"`
	RecipientName  string `json:"recipient_name"`
}

type bookingRequest struct {
	TalentID   string `json:"talent_id" binding:"required"`
	TotalPrice int64  `json:"total_price" binding:"required,gt=0"`
}

type withdrawalRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

type walletPayload struct {
	UserID        string `json:"user_id"`
	Balance       int64  `json:"balance"`
	EscrowBalance int64  `json:"escrow_balance"`
	Total         int64  `json:"total"`
}

type transactionPayload struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	AmountMinor    int64           `json:"amount_minor"`
	Coins          int64           `json:"coins"`
	Description    string          `json:"description"`
	Reference      string          `json:"reference,omitempty"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type bookingPayload struct {
	ID             string `json:"id"`
	ClientID       string `json:"client_id"`
	TalentID       string `json:"talent_id"`
	TotalPrice     int64  `json:"total_price"`
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type verificationPayload struct {
	ID         string `json:"id"`
	BookingID  string `json:"booking_id"`
	ClientID   string `json:"client_id"`
	Status     string `json:"status"`
	AdminNotes string `json:"admin_notes,omitempty"`
}

type withdrawalPayload struct {
	ID               string `json:"id"`
	TalentID         string `json:"talent_id"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	AdminNotes       string `json:"admin_notes,omitempty"`
	ProcessedUnixUTC int64  `json:"processed_unix_utc,omitempty"`
}

type depositRequestPayload struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	AmountMinor      int64  `json:"amount_minor"`
	Coins            int64  `json:"coins"`
	ProofURL         string `json:"proof_url"`
	Reference        string `json:"reference,omitempty"`
	Status           string `json:"status"`
	AdminNotes       string `json:"admin_notes,omitempty"`
	ProcessedUnixUTC int64  `json:"processed_unix_utc,omitempty"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
}

type giftPayload struct {
	ID             string `json:"id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	Amount         int64  `json:"amount"`
	Message        string `json:"message,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type notificationPayload struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type packagePayload struct {
	ID          string `json:"id"`
	Coins       int64  `json:"coins"`
	PriceMinor  int64  `json:"price_minor"`
	DisplayName string `json:"display_name"`
}

func newWalletPayload(wallet ledger.Wallet) walletPayload {
	return walletPayload{
		UserID:        wallet.UserID.String(),
		Balance:       wallet.Balance.Int64(),
		EscrowBalance: wallet.EscrowBalance.Int64(),
		Total:         wallet.Total().Int64(),
	}
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		ID:             transaction.ID,
		Type:           string(transaction.Type),
		Status:         string(transaction.Status),
		AmountMinor:    transaction.AmountMinor,
		Coins:          transaction.Coins.Int64(),
		Description:    transaction.Description,
		Reference:      transaction.Reference,
		ReferenceID:    transaction.ReferenceID,
		Provider:       transaction.Provider,
		Metadata:       json.RawMessage(transaction.Metadata.String()),
		CreatedUnixUTC: transaction.CreatedUnixUTC,
	}
}

func newBookingPayload(booking ledger.Booking) bookingPayload {
	return bookingPayload{
		ID:             booking.ID.String(),
		ClientID:       booking.ClientID.String(),
		TalentID:       booking.TalentID.String(),
		TotalPrice:     booking.TotalPrice.Int64(),
		Status:         string(booking.Status),
		Notes:          booking.Notes,
		CreatedUnixUTC: booking.CreatedUnixUTC,
	}
}

func newVerificationPayload(verification ledger.Verification) verificationPayload {
	return verificationPayload{
		ID:         verification.ID.String(),
		BookingID:  verification.BookingID.String(),
		ClientID:   verification.ClientID.String(),
		Status:     string(verification.Status),
		AdminNotes: verification.AdminNotes,
	}
}

func newDepositRequestPayload(request ledger.DepositRequest) depositRequestPayload {
	return depositRequestPayload{
		ID:               request.ID.String(),
		UserID:           request.UserID.String(),
		AmountMinor:      request.AmountMinor,
		Coins:            request.Coins().Int64(),
		ProofURL:         request.ProofURL,
		Reference:        request.Reference,
		Status:           string(request.Status),
		AdminNotes:       request.AdminNotes,
		ProcessedUnixUTC: request.ProcessedUnixUTC,
		CreatedUnixUTC:   request.CreatedUnixUTC,
	}
}

func newWithdrawalPayload(withdrawal ledger.Withdrawal) withdrawalPayload {
	return withdrawalPayload{
		ID:               withdrawal.ID.String(),
		TalentID:         withdrawal.TalentID.String(),
		Amount:           withdrawal.Amount.Int64(),
		Status:           string(withdrawal.Status),
		AdminNotes:       withdrawal.AdminNotes,
		ProcessedUnixUTC: withdrawal.ProcessedUnixUTC,
	}
}

func newGiftPayload(gift ledger.Gift) giftPayload {
	return giftPayload{
		ID:             gift.ID,
		SenderID:       gift.SenderID.String(),
		RecipientID:    gift.RecipientID.String(),
		Amount:         gift.Amount.Int64(),
		Message:        gift.Message,
		CreatedUnixUTC: gift.CreatedUnixUTC,
	}
}
