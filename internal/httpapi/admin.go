package httpapi

import (
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

func (handler *httpHandler) requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		if !slices.Contains(claims.GetUserRoles(), role) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(codeForbidden, "admin role required"))
			return
		}
		ctx.Next()
	}
}

// bindReview decodes the optional review body; an empty body means no notes.
func (handler *httpHandler) bindReview(ctx *gin.Context) (reviewRequest, bool) {
	var request reviewRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		handler.respondBindingError(ctx, err)
		return reviewRequest{}, false
	}
	return request, true
}

func (handler *httpHandler) handleApproveVerification(ctx *gin.Context) {
	adminID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	verificationID, err := ledger.NewVerificationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	verification, err := handler.ledger.ApproveVerification(requestCtx, verificationID, adminID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"verification": newVerificationPayload(verification)})
}

func (handler *httpHandler) handleRejectVerification(ctx *gin.Context) {
	adminID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	verificationID, err := ledger.NewVerificationID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	request, ok := handler.bindReview(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.RejectVerification(requestCtx, verificationID, adminID, request.Notes)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"verification":    newVerificationPayload(result.Verification),
		"booking":         newBookingPayload(result.Booking),
		"refunded":        result.Refunded.Int64(),
		"already_applied": result.AlreadyApplied,
	})
}

func (handler *httpHandler) handleApproveWithdrawal(ctx *gin.Context) {
	adminID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	withdrawalID, err := ledger.NewWithdrawalID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.ApproveWithdrawal(requestCtx, withdrawalID, adminID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"withdrawal":      newWithdrawalPayload(result.Withdrawal),
		"wallet":          newWalletPayload(result.Wallet),
		"already_applied": result.AlreadyApplied,
	})
}

func (handler *httpHandler) handleRejectWithdrawal(ctx *gin.Context) {
	adminID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	withdrawalID, err := ledger.NewWithdrawalID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	request, ok := handler.bindReview(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	withdrawal, err := handler.ledger.RejectWithdrawal(requestCtx, withdrawalID, adminID, request.Notes)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"withdrawal": newWithdrawalPayload(withdrawal)})
}

func (handler *httpHandler) handleApproveManualDeposit(ctx *gin.Context) {
	adminID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	requestID, err := ledger.NewDepositRequestID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.ApproveManualDeposit(requestCtx, requestID, adminID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"deposit_request": newDepositRequestPayload(result.Request),
		"wallet":          newWalletPayload(result.Wallet),
		"already_applied": result.AlreadyApplied,
	})
}

func (handler *httpHandler) handleRejectManualDeposit(ctx *gin.Context) {
	adminID, ok := handler.caller(ctx)
	if !ok {
		return
	}
	requestID, err := ledger.NewDepositRequestID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	request, ok := handler.bindReview(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	deposit, err := handler.ledger.RejectManualDeposit(requestCtx, requestID, adminID, request.Notes)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deposit_request": newDepositRequestPayload(deposit)})
}
