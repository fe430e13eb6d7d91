package httpapi

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/coinledger/internal/intake"
	"github.com/MarkoPoloResearchLab/coinledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinledger/internal/traces"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	settlementOutcomeRejected = "rejected"
	bearerPrefix              = "Bearer "
)

// handleWebhook authenticates a processor callback and settles the deposit it
// names. Ignored events and redeliveries answer 200 so the processor stops retrying.
func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	provider, err := ledger.ParsePaymentProvider(ctx.Param("provider"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, errorResponse(codeNotFound, "unknown payment provider"))
		return
	}
	parser, ok := handler.webhooks[provider]
	if !ok {
		ctx.JSON(http.StatusNotFound, errorResponse(codeNotFound, "payment provider not configured"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	spanCtx, span := traces.StartSpan(requestCtx, "webhook.settle", traces.Provider(provider.String()))
	outcome, err := handler.settleWebhook(spanCtx, parser, ctx.Request.Header, body)
	traces.EndSpan(span, err)
	if err != nil {
		metrics.RecordSettlement(provider.String(), settlementOutcomeRejected)
		handler.logger.Warn("webhook rejected", zap.String("provider", provider.String()), zap.Error(err))
		handler.respondError(ctx, err)
		return
	}
	metrics.RecordSettlement(provider.String(), string(outcome.Status))
	ctx.JSON(http.StatusOK, gin.H{"status": string(outcome.Status)})
}

func (handler *httpHandler) settleWebhook(ctx context.Context, parser intake.WebhookParser, header http.Header, body []byte) (ledger.SettlementOutcome, error) {
	event, err := parser.Parse(header, body)
	if err != nil {
		return ledger.SettlementOutcome{}, err
	}
	if !event.Actionable {
		return ledger.SettlementOutcome{Status: ledger.SettlementIgnored}, nil
	}
	settlement, err := event.Settlement(ledger.UserID{})
	if err != nil {
		return ledger.SettlementOutcome{}, err
	}
	return handler.ledger.SettleDeposit(ctx, settlement)
}

func (handler *httpHandler) requireCronSecret(ctx *gin.Context) {
	if handler.cfg.CronSecret == "" {
		ctx.Next()
		return
	}
	authorization := ctx.GetHeader("Authorization")
	presented, hasBearer := strings.CutPrefix(authorization, bearerPrefix)
	if !hasBearer || subtle.ConstantTimeCompare([]byte(presented), []byte(handler.cfg.CronSecret)) != 1 {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid cron secret"))
		return
	}
	ctx.Next()
}

func (handler *httpHandler) handleExpireBookings(ctx *gin.Context) {
	report, err := handler.ledger.ExpireStaleBookings(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"expired":  report.Expired,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
		"notified": report.Notified,
	})
}
