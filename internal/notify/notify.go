// Package notify persists user notifications on a best-effort basis.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 3 * time.Second
	resultSent     = "sent"
	resultFailed   = "failed"
)

// Sink stores a notification for the notification consumer.
type Sink interface {
	InsertNotification(ctx context.Context, notification ledger.Notification) error
}

// Emitter implements ledger.Notifier. Delivery failures are logged and dropped.
type Emitter struct {
	sink    Sink
	logger  *zap.Logger
	timeout time.Duration
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithTimeout bounds each sink write.
func WithTimeout(timeout time.Duration) Option {
	return func(emitter *Emitter) {
		if timeout > 0 {
			emitter.timeout = timeout
		}
	}
}

// NewEmitter returns an Emitter writing to sink.
func NewEmitter(sink Sink, logger *zap.Logger, options ...Option) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := &Emitter{sink: sink, logger: logger, timeout: defaultTimeout}
	for _, option := range options {
		option(emitter)
	}
	return emitter
}

// Notify writes the notification. It detaches from the caller's cancellation so
// a finished request does not drop a notification for committed money.
func (emitter *Emitter) Notify(ctx context.Context, notification ledger.Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitter.timeout)
	defer cancel()
	if err := emitter.insert(ctx, notification); err != nil {
		metrics.RecordNotification(string(notification.Type), resultFailed)
		emitter.logger.Warn("notification dropped",
			zap.String("user_id", notification.UserID.String()),
			zap.String("type", string(notification.Type)),
			zap.Error(err),
		)
		return
	}
	metrics.RecordNotification(string(notification.Type), resultSent)
}

func (emitter *Emitter) insert(ctx context.Context, notification ledger.Notification) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("notification sink panic: %v", recovered)
		}
	}()
	if emitter.sink == nil {
		return fmt.Errorf("notification sink is nil")
	}
	return emitter.sink.InsertNotification(ctx, notification)
}
