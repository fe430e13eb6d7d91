package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
)

type stubState struct {
	sequence      int
	wallets       map[UserID]Wallet
	transactions  []Transaction
	bookings      map[BookingID]Booking
	verifications []Verification
	withdrawals   map[WithdrawalID]Withdrawal
	deposits      map[DepositRequestID]DepositRequest
	gifts         []Gift
	walletWrites  []UserID
}

func (state *stubState) clone() *stubState {
	cloned := &stubState{
		sequence:      state.sequence,
		wallets:       make(map[UserID]Wallet, len(state.wallets)),
		transactions:  append([]Transaction(nil), state.transactions...),
		bookings:      make(map[BookingID]Booking, len(state.bookings)),
		verifications: append([]Verification(nil), state.verifications...),
		withdrawals:   make(map[WithdrawalID]Withdrawal, len(state.withdrawals)),
		deposits:      make(map[DepositRequestID]DepositRequest, len(state.deposits)),
		gifts:         append([]Gift(nil), state.gifts...),
		walletWrites:  append([]UserID(nil), state.walletWrites...),
	}
	for key, value := range state.wallets {
		cloned.wallets[key] = value
	}
	for key, value := range state.bookings {
		cloned.bookings[key] = value
	}
	for key, value := range state.withdrawals {
		cloned.withdrawals[key] = value
	}
	for key, value := range state.deposits {
		cloned.deposits[key] = value
	}
	return cloned
}

func (state *stubState) nextID(prefix string) string {
	state.sequence++
	return fmt.Sprintf("%s-%08d", prefix, state.sequence)
}

// stubStore is an in-memory Store. WithTx runs against a snapshot and commits
// it only when fn succeeds, holding the store lock for the whole unit of work.
type stubStore struct {
	mutex *sync.Mutex
	state *stubState
	inTx  bool

	failures     map[string]error
	casConflicts int
	beforeCAS    func()
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		mutex: &sync.Mutex{},
		state: &stubState{
			wallets:     make(map[UserID]Wallet),
			bookings:    make(map[BookingID]Booking),
			withdrawals: make(map[WithdrawalID]Withdrawal),
			deposits:    make(map[DepositRequestID]DepositRequest),
		},
		failures: make(map[string]error),
	}
}

func (store *stubStore) lock() func() {
	if store.inTx {
		return func() {}
	}
	store.mutex.Lock()
	return store.mutex.Unlock
}

func (store *stubStore) failure(method string) error {
	return store.failures[method]
}

func (store *stubStore) failWith(method string, err error) {
	unlock := store.lock()
	defer unlock()
	store.failures[method] = err
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := store.failure("WithTx"); err != nil {
		return err
	}
	transactionStore := &stubStore{
		mutex:        store.mutex,
		state:        store.state.clone(),
		inTx:         true,
		failures:     store.failures,
		casConflicts: store.casConflicts,
	}
	if err := fn(ctx, transactionStore); err != nil {
		store.casConflicts = transactionStore.casConflicts
		return err
	}
	store.state = transactionStore.state
	store.casConflicts = transactionStore.casConflicts
	return nil
}

func (store *stubStore) GetWallet(ctx context.Context, userID UserID) (Wallet, error) {
	unlock := store.lock()
	defer unlock()
	if err := store.failure("GetWallet"); err != nil {
		return Wallet{}, err
	}
	wallet, ok := store.state.wallets[userID]
	if !ok {
		return Wallet{}, ErrUnknownWallet
	}
	return wallet, nil
}

func (store *stubStore) CreateWallet(ctx context.Context, wallet Wallet) error {
	unlock := store.lock()
	defer unlock()
	if err := store.failure("CreateWallet"); err != nil {
		return err
	}
	if _, exists := store.state.wallets[wallet.UserID]; exists {
		return ErrWalletExists
	}
	store.state.wallets[wallet.UserID] = wallet
	store.state.walletWrites = append(store.state.walletWrites, wallet.UserID)
	return nil
}

func (store *stubStore) CompareAndSwapWallet(ctx context.Context, expected Wallet, next Wallet) error {
	if store.beforeCAS != nil {
		store.beforeCAS()
	}
	unlock := store.lock()
	defer unlock()
	if err := store.failure("CompareAndSwapWallet"); err != nil {
		return err
	}
	if store.casConflicts > 0 {
		store.casConflicts--
		return ErrConflict
	}
	current, ok := store.state.wallets[expected.UserID]
	if !ok || current != expected {
		return ErrConflict
	}
	store.state.wallets[expected.UserID] = next
	store.state.walletWrites = append(store.state.walletWrites, expected.UserID)
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error) {
	unlock := store.lock()
	defer unlock()
	if err := store.failure("InsertTransaction"); err != nil {
		return Transaction{}, err
	}
	transaction.ID = store.state.nextID("txn")
	store.state.transactions = append(store.state.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) GetTransactionByReference(ctx context.Context, reference PaymentReference) (Transaction, error) {
	unlock := store.lock()
	defer unlock()
	for _, transaction := range store.state.transactions {
		if transaction.Reference != "" && transaction.Reference == reference.String() {
			return transaction, nil
		}
	}
	return Transaction{}, ErrUnknownTransaction
}

func (store *stubStore) UpdateTransactionStatus(ctx context.Context, reference PaymentReference, from, to TransactionStatus) error {
	unlock := store.lock()
	defer unlock()
	for index, transaction := range store.state.transactions {
		if transaction.Reference != reference.String() {
			continue
		}
		if transaction.Status != from {
			return ErrTransactionClaimed
		}
		store.state.transactions[index].Status = to
		return nil
	}
	return ErrTransactionClaimed
}

func (store *stubStore) ListTransactions(ctx context.Context, userID UserID, limit int) ([]Transaction, error) {
	unlock := store.lock()
	defer unlock()
	var result []Transaction
	for index := len(store.state.transactions) - 1; index >= 0; index-- {
		transaction := store.state.transactions[index]
		if transaction.UserID != userID {
			continue
		}
		result = append(result, transaction)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (store *stubStore) CreateBooking(ctx context.Context, booking Booking) (Booking, error) {
	unlock := store.lock()
	defer unlock()
	if booking.ID.value == "" {
		booking.ID = BookingID{value: store.state.nextID("booking")}
	}
	store.state.bookings[booking.ID] = booking
	return booking, nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	unlock := store.lock()
	defer unlock()
	booking, ok := store.state.bookings[bookingID]
	if !ok {
		return Booking{}, ErrUnknownBooking
	}
	return booking, nil
}

func (store *stubStore) UpdateBookingStatus(ctx context.Context, bookingID BookingID, from, to BookingStatus, notes string) error {
	unlock := store.lock()
	defer unlock()
	if err := store.failure("UpdateBookingStatus"); err != nil {
		return err
	}
	booking, ok := store.state.bookings[bookingID]
	if !ok || booking.Status != from {
		return ErrBookingState
	}
	booking.Status = to
	if notes != "" {
		booking.Notes = notes
	}
	store.state.bookings[bookingID] = booking
	return nil
}

func (store *stubStore) ListBookingsCreatedBefore(ctx context.Context, status BookingStatus, createdBeforeUnixUTC int64, limit int) ([]Booking, error) {
	unlock := store.lock()
	defer unlock()
	var result []Booking
	for _, booking := range store.state.bookings {
		if booking.Status == status && booking.CreatedUnixUTC < createdBeforeUnixUTC {
			result = append(result, booking)
		}
	}
	sort.Slice(result, func(left, right int) bool {
		return result[left].CreatedUnixUTC < result[right].CreatedUnixUTC
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (store *stubStore) CreateVerification(ctx context.Context, verification Verification) (Verification, error) {
	unlock := store.lock()
	defer unlock()
	verification.ID = VerificationID{value: store.state.nextID("verification")}
	store.state.verifications = append(store.state.verifications, verification)
	return verification, nil
}

func (store *stubStore) GetVerification(ctx context.Context, verificationID VerificationID) (Verification, error) {
	unlock := store.lock()
	defer unlock()
	for _, verification := range store.state.verifications {
		if verification.ID == verificationID {
			return verification, nil
		}
	}
	return Verification{}, ErrUnknownVerification
}

func (store *stubStore) LatestVerification(ctx context.Context, bookingID BookingID) (Verification, error) {
	unlock := store.lock()
	defer unlock()
	for index := len(store.state.verifications) - 1; index >= 0; index-- {
		if store.state.verifications[index].BookingID == bookingID {
			return store.state.verifications[index], nil
		}
	}
	return Verification{}, ErrUnknownVerification
}

func (store *stubStore) UpdateVerificationStatus(ctx context.Context, verificationID VerificationID, from, to VerificationStatus, notes string) error {
	unlock := store.lock()
	defer unlock()
	for index, verification := range store.state.verifications {
		if verification.ID != verificationID {
			continue
		}
		if verification.Status != from {
			return ErrVerificationState
		}
		store.state.verifications[index].Status = to
		store.state.verifications[index].AdminNotes = notes
		return nil
	}
	return ErrVerificationState
}

func (store *stubStore) CreateWithdrawal(ctx context.Context, withdrawal Withdrawal) (Withdrawal, error) {
	unlock := store.lock()
	defer unlock()
	withdrawal.ID = WithdrawalID{value: store.state.nextID("withdrawal")}
	store.state.withdrawals[withdrawal.ID] = withdrawal
	return withdrawal, nil
}

func (store *stubStore) GetWithdrawal(ctx context.Context, withdrawalID WithdrawalID) (Withdrawal, error) {
	unlock := store.lock()
	defer unlock()
	withdrawal, ok := store.state.withdrawals[withdrawalID]
	if !ok {
		return Withdrawal{}, ErrUnknownWithdrawal
	}
	return withdrawal, nil
}

func (store *stubStore) UpdateWithdrawalStatus(ctx context.Context, withdrawalID WithdrawalID, from, to WithdrawalStatus, notes string, processedUnixUTC int64) error {
	unlock := store.lock()
	defer unlock()
	withdrawal, ok := store.state.withdrawals[withdrawalID]
	if !ok || withdrawal.Status != from {
		return ErrWithdrawalState
	}
	withdrawal.Status = to
	withdrawal.AdminNotes = notes
	withdrawal.ProcessedUnixUTC = processedUnixUTC
	store.state.withdrawals[withdrawalID] = withdrawal
	return nil
}

func (store *stubStore) CreateDepositRequest(ctx context.Context, request DepositRequest) (DepositRequest, error) {
	unlock := store.lock()
	defer unlock()
	if err := store.failure("CreateDepositRequest"); err != nil {
		return DepositRequest{}, err
	}
	request.ID = DepositRequestID{value: store.state.nextID("deposit")}
	store.state.deposits[request.ID] = request
	return request, nil
}

func (store *stubStore) GetDepositRequest(ctx context.Context, requestID DepositRequestID) (DepositRequest, error) {
	unlock := store.lock()
	defer unlock()
	request, ok := store.state.deposits[requestID]
	if !ok {
		return DepositRequest{}, ErrUnknownDepositRequest
	}
	return request, nil
}

func (store *stubStore) UpdateDepositRequestStatus(ctx context.Context, requestID DepositRequestID, from, to DepositRequestStatus, notes string, processedUnixUTC int64) error {
	unlock := store.lock()
	defer unlock()
	request, ok := store.state.deposits[requestID]
	if !ok || request.Status != from {
		return ErrDepositRequestState
	}
	request.Status = to
	request.AdminNotes = notes
	request.ProcessedUnixUTC = processedUnixUTC
	store.state.deposits[requestID] = request
	return nil
}

func (store *stubStore) InsertGift(ctx context.Context, gift Gift) (Gift, error) {
	unlock := store.lock()
	defer unlock()
	if gift.IdempotencyKey != "" {
		for _, existing := range store.state.gifts {
			if existing.IdempotencyKey == gift.IdempotencyKey {
				return Gift{}, ErrDuplicateIdempotencyKey
			}
		}
	}
	gift.ID = store.state.nextID("gift")
	store.state.gifts = append(store.state.gifts, gift)
	return gift, nil
}

func (store *stubStore) GetGiftByIdempotencyKey(ctx context.Context, key IdempotencyKey) (Gift, error) {
	unlock := store.lock()
	defer unlock()
	for _, gift := range store.state.gifts {
		if gift.IdempotencyKey == key.String() {
			return gift, nil
		}
	}
	return Gift{}, ErrUnknownGift
}

// seedWallet writes a wallet directly, bypassing the service.
func (store *stubStore) seedWallet(test *testing.T, userID UserID, balance int64, escrow int64) {
	test.Helper()
	unlock := store.lock()
	defer unlock()
	store.state.wallets[userID] = Wallet{UserID: userID, Balance: Coins(balance), EscrowBalance: Coins(escrow)}
}

func (store *stubStore) mustWallet(test *testing.T, userID UserID) Wallet {
	test.Helper()
	unlock := store.lock()
	defer unlock()
	wallet, ok := store.state.wallets[userID]
	if !ok {
		test.Fatalf("wallet %s not found", userID)
	}
	return wallet
}

func (store *stubStore) walletWriteOrder() []UserID {
	unlock := store.lock()
	defer unlock()
	return append([]UserID(nil), store.state.walletWrites...)
}

func (store *stubStore) totalCoins() Coins {
	unlock := store.lock()
	defer unlock()
	var total Coins
	for _, wallet := range store.state.wallets {
		total += wallet.Total()
	}
	return total
}

func (store *stubStore) transactionsOfType(transactionType TransactionType) []Transaction {
	unlock := store.lock()
	defer unlock()
	var result []Transaction
	for _, transaction := range store.state.transactions {
		if transaction.Type == transactionType {
			result = append(result, transaction)
		}
	}
	return result
}

func (store *stubStore) mustBooking(test *testing.T, bookingID BookingID) Booking {
	test.Helper()
	booking, err := store.GetBooking(context.Background(), bookingID)
	if err != nil {
		test.Fatalf("booking %s: %v", bookingID, err)
	}
	return booking
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) last(test *testing.T) OperationLog {
	test.Helper()
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	if len(logger.entries) == 0 {
		test.Fatalf("expected a log entry")
	}
	return logger.entries[len(logger.entries)-1]
}

type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []Notification
}

func (notifier *recordingNotifier) Notify(_ context.Context, notification Notification) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.notifications = append(notifier.notifications, notification)
}

func (notifier *recordingNotifier) ofType(notificationType NotificationType) []Notification {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	var result []Notification
	for _, notification := range notifier.notifications {
		if notification.Type == notificationType {
			result = append(result, notification)
		}
	}
	return result
}

func (notifier *recordingNotifier) count() int {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	return len(notifier.notifications)
}

type recordingObserver struct {
	mutex   sync.Mutex
	wallets []Wallet
}

func (observer *recordingObserver) WalletChanged(_ context.Context, wallet Wallet) {
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	observer.wallets = append(observer.wallets, wallet)
}

type serviceFixture struct {
	store    *stubStore
	service  *Service
	logger   *recorderLogger
	notifier *recordingNotifier
	observer *recordingObserver
	now      int64
}

const fixtureNowUnixUTC int64 = 1_700_000_000

func newServiceFixture(test *testing.T) *serviceFixture {
	test.Helper()
	fixture := &serviceFixture{
		store:    newStubStore(test),
		logger:   &recorderLogger{},
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
		now:      fixtureNowUnixUTC,
	}
	service, err := NewService(
		fixture.store,
		func() int64 { return fixture.now },
		WithOperationLogger(fixture.logger),
		WithNotifier(fixture.notifier),
		WithWalletObserver(fixture.observer),
		WithConflictRetry(5, 0),
		WithReferenceGenerator(func() string { return "abc123" }),
	)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	fixture.service = service
	return fixture
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustPositiveCoins(test *testing.T, raw int64) PositiveCoins {
	test.Helper()
	value, err := NewPositiveCoins(raw)
	if err != nil {
		test.Fatalf("positive coins: %v", err)
	}
	return value
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	value, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return value
}

func mustPaymentReference(test *testing.T, raw string) PaymentReference {
	test.Helper()
	value, err := NewPaymentReference(raw)
	if err != nil {
		test.Fatalf("payment reference: %v", err)
	}
	return value
}
