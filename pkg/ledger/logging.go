package ledger

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// Notifier delivers best-effort user notifications. Implementations must not block
// the caller on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// WalletObserver receives wallet states after they are durably committed.
type WalletObserver interface {
	WalletChanged(ctx context.Context, wallet Wallet)
}

// ParticipantDirectory reports whether a user id belongs to a registered
// marketplace account.
type ParticipantDirectory interface {
	IsParticipant(ctx context.Context, userID UserID) (bool, error)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	UserID         UserID
	CounterpartyID UserID
	BookingID      BookingID
	Reference      string
	Coins          Coins
	Status         string
	Alert          string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithNotifier wires the notification emitter.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithWalletObserver wires a consumer of committed wallet states (e.g. a cache).
func WithWalletObserver(observer WalletObserver) ServiceOption {
	return func(service *Service) {
		service.observer = observer
	}
}

// WithParticipantDirectory wires the account registry consulted before a gift
// credits a recipient. Without one, only users already holding a wallet can
// receive gifts.
func WithParticipantDirectory(directory ParticipantDirectory) ServiceOption {
	return func(service *Service) {
		service.participants = directory
	}
}

// WithConflictRetry bounds how often a lost compare-and-swap is retried.
func WithConflictRetry(attempts int, baseDelay time.Duration) ServiceOption {
	return func(service *Service) {
		if attempts > 0 {
			service.conflictAttempts = attempts
		}
		if baseDelay >= 0 {
			service.conflictBaseDelay = baseDelay
		}
	}
}

// WithReferenceGenerator overrides the random suffix used in payment references.
func WithReferenceGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.referenceFn = generate
		}
	}
}
