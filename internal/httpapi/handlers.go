package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/coinledger/internal/intake"
	"github.com/MarkoPoloResearchLab/coinledger/internal/traces"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const idempotencyKeyHeader = "Idempotency-Key"

type httpHandler struct {
	cfg           Config
	logger        *zap.Logger
	ledger        *ledger.Service
	wallets       WalletReader
	notifications NotificationLister
	verifier      PaymentVerifier
	webhooks      map[ledger.PaymentProvider]intake.WebhookParser
}

func newHTTPHandler(cfg Config, deps Dependencies) *httpHandler {
	handler := &httpHandler{
		cfg:           cfg,
		logger:        deps.Logger,
		ledger:        deps.Ledger,
		wallets:       deps.Wallets,
		notifications: deps.Notifications,
		verifier:      deps.Verifier,
		webhooks:      make(map[ledger.PaymentProvider]intake.WebhookParser, len(deps.Webhooks)),
	}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}
	if handler.wallets == nil {
		handler.wallets = deps.Ledger
	}
	for _, parser := range deps.Webhooks {
		if parser != nil {
			handler.webhooks[parser.Provider()] = parser
		}
	}
	return handler
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// caller resolves the session user or answers 401.
func (handler *httpHandler) caller(ctx *gin.Context) (ledger.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.wallets.Wallet(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(wallet)})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	limit := handler.cfg.HistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": codeInvalidRequest, "message": "limit must be a positive integer", "field": "limit"}})
			return
		}
		limit = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transactions, err := handler.ledger.Transactions(requestCtx, userID, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, newTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payloads})
}

func (handler *httpHandler) handleNotifications(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	if handler.notifications == nil {
		ctx.JSON(http.StatusOK, gin.H{"notifications": []notificationPayload{}})
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	notifications, err := handler.notifications.ListNotifications(requestCtx, userID, handler.cfg.HistoryLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]notificationPayload, 0, len(notifications))
	for _, notification := range notifications {
		payloads = append(payloads, notificationPayload{
			Type:    string(notification.Type),
			Title:   notification.Title,
			Message: notification.Message,
			Data:    notification.Data,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"notifications": payloads})
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	packages := ledger.CoinPackages()
	payloads := make([]packagePayload, 0, len(packages))
	for _, coinPackage := range packages {
		payloads = append(payloads, packagePayload{
			ID:          coinPackage.ID,
			Coins:       coinPackage.Coins.Int64(),
			PriceMinor:  coinPackage.PriceMinor,
			DisplayName: coinPackage.DisplayName,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": payloads})
}

func (handler *httpHandler) handleCreateDeposit(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request depositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindingError(ctx, err)
		return
	}
	provider, err := ledger.ParsePaymentProvider(request.Provider)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.ledger.CreateDeposit(requestCtx, userID, request.PackageID, provider)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"reference":   transaction.Reference,
		"transaction": newTransactionPayload(transaction),
	})
}

func (handler *httpHandler) handleVerifyDeposit(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request verifyDepositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindingError(ctx, err)
		return
	}
	if handler.verifier == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse(codeProviderError, "payment verification is not configured"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	spanCtx, span := traces.StartSpan(requestCtx, "deposit.verify", traces.UserID(userID.String()), traces.Reference(request.Reference))
	outcome, err := handler.verifyAndSettle(spanCtx, userID, strings.TrimSpace(request.Reference))
	traces.EndSpan(span, err)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status": string(outcome.Status),
		"wallet": newWalletPayload(outcome.Wallet),
	})
}

func (handler *httpHandler) verifyAndSettle(ctx context.Context, userID ledger.UserID, reference string) (ledger.SettlementOutcome, error) {
	event, err := handler.verifier.Verify(ctx, reference)
	if err != nil {
		return ledger.SettlementOutcome{}, err
	}
	settlement, err := event.Settlement(userID)
	if err != nil {
		return ledger.SettlementOutcome{}, err
	}
	outcome, err := handler.ledger.SettleDeposit(ctx, settlement)
	if err != nil {
		return ledger.SettlementOutcome{}, err
	}
	if outcome.Status != ledger.SettlementProcessed {
		wallet, walletErr := handler.ledger.Wallet(ctx, userID)
		if walletErr != nil {
			return ledger.SettlementOutcome{}, walletErr
		}
		outcome.Wallet = wallet
	}
	return outcome, nil
}

func (handler *httpHandler) handleGift(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request giftRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindingError(ctx, err)
		return
	}
	recipientID, err := ledger.NewUserID(request.RecipientID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	idempotencyKey := request.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = ctx.GetHeader(idempotencyKeyHeader)
	}
	senderName := request.SenderName
	if senderName == "" {
		if claims := getClaims(ctx); claims != nil {
			senderName = claims.GetUserDisplayName()
		}
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.TransferGift(requestCtx, ledger.GiftRequest{
		SenderID:       userID,
		RecipientID:    recipientID,
		Amount:         request.Amount,
		Message:        request.Message,
		IdempotencyKey: idempotencyKey,
		SenderName:     senderName,
		RecipientName:  request.RecipientName,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyApplied {
		status = http.StatusOK
	}
	ctx.JSON(status, gin.H{
		"gift":            newGiftPayload(result.Gift),
		"wallet":          newWalletPayload(result.SenderWallet),
		"already_applied": result.AlreadyApplied,
	})
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request bookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindingError(ctx, err)
		return
	}
	talentID, err := ledger.NewUserID(request.TalentID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	price, err := ledger.NewPositiveCoins(request.TotalPrice)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.ledger.CreateBooking(requestCtx, userID, talentID, price)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"booking": newBookingPayload(booking)})
}

func (handler *httpHandler) handleHold(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := ledger.NewBookingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.ledger.Booking(requestCtx, bookingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if booking.ClientID != userID {
		ctx.JSON(http.StatusForbidden, errorResponse(codeForbidden, "only the booking client can pay"))
		return
	}
	spanCtx, span := traces.StartSpan(requestCtx, "escrow.hold", traces.UserID(userID.String()), traces.BookingID(bookingID.String()), traces.Coins(booking.TotalPrice.Int64()))
	result, err := handler.ledger.Hold(spanCtx, bookingID)
	traces.EndSpan(span, err)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"booking":         newBookingPayload(result.Booking),
		"wallet":          newWalletPayload(result.ClientWallet),
		"already_applied": result.AlreadyApplied,
	})
}

func (handler *httpHandler) handleSubmitVerification(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := ledger.NewBookingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	verification, err := handler.ledger.SubmitVerification(requestCtx, bookingID, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"verification": newVerificationPayload(verification)})
}

func (handler *httpHandler) handleAcceptBooking(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := ledger.NewBookingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.ledger.AcceptBooking(requestCtx, bookingID, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(booking)})
}

func (handler *httpHandler) handleCompleteBooking(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	bookingID, err := ledger.NewBookingID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	spanCtx, span := traces.StartSpan(requestCtx, "escrow.release", traces.UserID(userID.String()), traces.BookingID(bookingID.String()))
	result, err := handler.ledger.Release(spanCtx, bookingID, userID)
	traces.EndSpan(span, err)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"booking":         newBookingPayload(result.Booking),
		"wallet":          newWalletPayload(result.TalentWallet),
		"already_applied": result.AlreadyApplied,
	})
}

func (handler *httpHandler) handleRequestWithdrawal(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request withdrawalRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindingError(ctx, err)
		return
	}
	amount, err := ledger.NewPositiveCoins(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	withdrawal, err := handler.ledger.RequestWithdrawal(requestCtx, userID, amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"withdrawal": newWithdrawalPayload(withdrawal)})
}

func (handler *httpHandler) handleRequestManualDeposit(ctx *gin.Context) {
	userID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	var request manualDepositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindingError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deposit, err := handler.ledger.RequestManualDeposit(requestCtx, ledger.ManualDepositRequest{
		UserID:      userID,
		AmountMinor: request.Amount * nairaMinorUnits,
		ProofURL:    request.ProofURL,
		Reference:   request.Reference,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"deposit_request": newDepositRequestPayload(deposit)})
}
