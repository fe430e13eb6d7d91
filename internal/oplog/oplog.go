// Package oplog writes ledger operation records to zap and prometheus.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/coinledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"go.uber.org/zap"
)

const logMessage = "ledger operation"

// Logger implements ledger.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger; a nil zap logger discards output but still counts metrics.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

func (operationLogger *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	metrics.RecordOperation(entry.Operation, entry.Status)
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.UserID.IsZero() {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if !entry.CounterpartyID.IsZero() {
		fields = append(fields, zap.String("counterparty_id", entry.CounterpartyID.String()))
	}
	if bookingID := entry.BookingID.String(); bookingID != "" {
		fields = append(fields, zap.String("booking_id", bookingID))
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	if entry.Coins != 0 {
		fields = append(fields, zap.Int64("coins", entry.Coins.Int64()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	if entry.Alert != "" {
		metrics.RecordAlert(entry.Alert)
		operationLogger.logger.Error(logMessage, append(fields, zap.String("alert", entry.Alert))...)
		return
	}
	if entry.Error != nil {
		operationLogger.logger.Error(logMessage, fields...)
		return
	}
	operationLogger.logger.Info(logMessage, fields...)
}
