package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// HoldResult reports the booking and client wallet after a hold.
type HoldResult struct {
	Booking        Booking
	ClientWallet   Wallet
	AlreadyApplied bool
}

// ReleaseResult reports the wallets after escrow is paid out to the talent.
type ReleaseResult struct {
	Booking        Booking
	ClientWallet   Wallet
	TalentWallet   Wallet
	Transaction    Transaction
	AlreadyApplied bool
}

// RefundResult reports the outcome of a rejected verification.
type RefundResult struct {
	Booking        Booking
	Verification   Verification
	ClientWallet   Wallet
	Refunded       Coins
	Transaction    Transaction
	AlreadyApplied bool
}

// ExpiryReport summarizes one stale-booking sweep.
type ExpiryReport struct {
	Expired  int
	Skipped  int
	Failed   int
	Notified int
}

// CreateBooking records a new booking awaiting payment.
func (service *Service) CreateBooking(ctx context.Context, clientID UserID, talentID UserID, totalPrice PositiveCoins) (Booking, error) {
	var booking Booking
	operationError := func() error {
		if clientID == talentID {
			return newFieldError("talent_id", ErrForbidden, "You cannot book yourself")
		}
		created, err := service.store.CreateBooking(ctx, Booking{
			ClientID:       clientID,
			TalentID:       talentID,
			TotalPrice:     totalPrice,
			Status:         BookingPaymentPending,
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		booking = created
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation:      operationCreateBooking,
		UserID:         clientID,
		CounterpartyID: talentID,
		BookingID:      booking.ID,
		Coins:          totalPrice.Coins(),
		Error:          operationError,
	})
	return booking, operationError
}

// Booking returns the stored booking.
func (service *Service) Booking(ctx context.Context, bookingID BookingID) (Booking, error) {
	return service.store.GetBooking(ctx, bookingID)
}

// Hold moves the booking price from the client's balance into escrow and marks
// the booking paid. Holding an already-paid booking is a no-op.
func (service *Service) Hold(ctx context.Context, bookingID BookingID) (HoldResult, error) {
	var result HoldResult
	operationError := service.retryConflicts(ctx, func() error {
		result = HoldResult{}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			booking, err := transactionStore.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			result.Booking = booking
			switch booking.Status {
			case BookingPaymentPending:
			case BookingVerificationPending, BookingConfirmed, BookingCompleted:
				wallet, err := transactionStore.GetWallet(ctx, booking.ClientID)
				if err != nil {
					return err
				}
				result.ClientWallet = wallet
				result.AlreadyApplied = true
				return nil
			default:
				return fmt.Errorf("%w: booking is %s", ErrBookingState, booking.Status)
			}
			if err := transactionStore.UpdateBookingStatus(ctx, bookingID, BookingPaymentPending, BookingVerificationPending, ""); err != nil {
				return lostRace(err, ErrBookingState)
			}
			price := booking.TotalPrice.Int64()
			wallet, err := mutateWallet(ctx, transactionStore, booking.ClientID, -price, price)
			if err != nil {
				return err
			}
			booking.Status = BookingVerificationPending
			result.Booking = booking
			result.ClientWallet = wallet
			return nil
		})
	})
	service.finishEscrowOperation(ctx, operationHold, result.Booking, result.Booking.ClientID, result.AlreadyApplied, operationError, result.ClientWallet)
	return result, operationError
}

// SubmitVerification opens an identity verification for a paid booking.
func (service *Service) SubmitVerification(ctx context.Context, bookingID BookingID, clientID UserID) (Verification, error) {
	var verification Verification
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.ClientID != clientID {
			return fmt.Errorf("%w: only the client may submit verification", ErrForbidden)
		}
		if booking.Status != BookingVerificationPending {
			return fmt.Errorf("%w: booking is %s", ErrBookingState, booking.Status)
		}
		latest, err := transactionStore.LatestVerification(ctx, bookingID)
		if err == nil && latest.Status != VerificationRejected {
			verification = latest
			return nil
		}
		if err != nil && !errors.Is(err, ErrUnknownVerification) {
			return err
		}
		created, err := transactionStore.CreateVerification(ctx, Verification{
			BookingID: bookingID,
			ClientID:  clientID,
			Status:    VerificationPending,
		})
		if err != nil {
			return err
		}
		verification = created
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSubmitVerification,
		UserID:    clientID,
		BookingID: bookingID,
		Error:     operationError,
	})
	return verification, operationError
}

// ApproveVerification marks a pending verification approved.
func (service *Service) ApproveVerification(ctx context.Context, verificationID VerificationID, adminID UserID) (Verification, error) {
	var verification Verification
	operationError := service.retryConflicts(ctx, func() error {
		found, err := service.store.GetVerification(ctx, verificationID)
		if err != nil {
			return err
		}
		verification = found
		switch found.Status {
		case VerificationApproved:
			return nil
		case VerificationPending:
		default:
			return fmt.Errorf("%w: verification is %s", ErrVerificationState, found.Status)
		}
		if err := service.store.UpdateVerificationStatus(ctx, verificationID, VerificationPending, VerificationApproved, ""); err != nil {
			return lostRace(err, ErrVerificationState)
		}
		verification.Status = VerificationApproved
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationApproveVerification,
		UserID:    adminID,
		BookingID: verification.BookingID,
		Error:     operationError,
	})
	return verification, operationError
}

// AcceptBooking lets the talent confirm a paid booking once its verification is approved.
func (service *Service) AcceptBooking(ctx context.Context, bookingID BookingID, talentID UserID) (Booking, error) {
	var booking Booking
	operationError := service.retryConflicts(ctx, func() error {
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			found, err := transactionStore.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			booking = found
			if found.TalentID != talentID {
				return fmt.Errorf("%w: only the assigned talent may accept", ErrForbidden)
			}
			if found.Status == BookingConfirmed {
				return nil
			}
			if found.Status != BookingVerificationPending {
				return fmt.Errorf("%w: booking is %s", ErrBookingState, found.Status)
			}
			verification, err := transactionStore.LatestVerification(ctx, bookingID)
			if err != nil {
				if errors.Is(err, ErrUnknownVerification) {
					return fmt.Errorf("%w: verification has not been submitted", ErrVerificationState)
				}
				return err
			}
			if verification.Status != VerificationApproved {
				return fmt.Errorf("%w: verification is %s", ErrVerificationState, verification.Status)
			}
			if err := transactionStore.UpdateBookingStatus(ctx, bookingID, BookingVerificationPending, BookingConfirmed, ""); err != nil {
				return lostRace(err, ErrBookingState)
			}
			booking.Status = BookingConfirmed
			return nil
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationAcceptBooking,
		UserID:         talentID,
		CounterpartyID: booking.ClientID,
		BookingID:      bookingID,
		Error:          operationError,
	})
	return booking, operationError
}

// Release pays a confirmed booking's escrow to the talent and completes the
// booking. The confirmed -> completed transition is the idempotency guard:
// a completed booking is a no-op, every other status fails closed.
func (service *Service) Release(ctx context.Context, bookingID BookingID, talentID UserID) (ReleaseResult, error) {
	var result ReleaseResult
	operationError := service.retryConflicts(ctx, func() error {
		result = ReleaseResult{}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			booking, err := transactionStore.GetBooking(ctx, bookingID)
			if err != nil {
				return err
			}
			result.Booking = booking
			if booking.TalentID != talentID {
				return fmt.Errorf("%w: only the assigned talent may complete", ErrForbidden)
			}
			switch booking.Status {
			case BookingConfirmed:
			case BookingCompleted:
				result.AlreadyApplied = true
				return nil
			default:
				return fmt.Errorf("%w: booking is %s", ErrBookingState, booking.Status)
			}
			if err := transactionStore.UpdateBookingStatus(ctx, bookingID, BookingConfirmed, BookingCompleted, ""); err != nil {
				return lostRace(err, ErrBookingState)
			}
			price := booking.TotalPrice.Int64()
			wallets, err := mutateWallets(ctx, transactionStore,
				walletDelta{userID: booking.ClientID, escrowDelta: -price},
				walletDelta{userID: booking.TalentID, balanceDelta: price},
			)
			if err != nil {
				return err
			}
			clientWallet, talentWallet := wallets[0], wallets[1]
			transaction, err := transactionStore.InsertTransaction(ctx, Transaction{
				UserID:         booking.TalentID,
				Coins:          booking.TotalPrice.Coins(),
				Type:           TransactionBooking,
				Status:         TransactionCompleted,
				Description:    fmt.Sprintf("Earnings from completed booking #%s", bookingID.Short()),
				ReferenceID:    bookingID.String(),
				CreatedUnixUTC: service.nowFn(),
			})
			if err != nil {
				return err
			}
			booking.Status = BookingCompleted
			result.Booking = booking
			result.ClientWallet = clientWallet
			result.TalentWallet = talentWallet
			result.Transaction = transaction
			return nil
		})
	})
	service.finishEscrowOperation(ctx, operationRelease, result.Booking, talentID, result.AlreadyApplied, operationError, result.ClientWallet, result.TalentWallet)
	if operationError == nil && !result.AlreadyApplied {
		service.notify(ctx, newBookingCompletedNotification(result.Booking))
	}
	return result, operationError
}

// RejectVerification is the admin refund path: the verification is rejected,
// the booking cancelled, and the held escrow returned to the client's balance.
func (service *Service) RejectVerification(ctx context.Context, verificationID VerificationID, adminID UserID, notes string) (RefundResult, error) {
	trimmedNotes := strings.TrimSpace(notes)
	var result RefundResult
	var alert string
	operationError := func() error {
		if trimmedNotes == "" {
			return newFieldError("notes", ErrMissingAdminNotes, "Admin notes are required when rejecting a verification")
		}
		return service.retryConflicts(ctx, func() error {
			result = RefundResult{}
			alert = ""
			return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
				verification, err := transactionStore.GetVerification(ctx, verificationID)
				if err != nil {
					return err
				}
				result.Verification = verification
				booking, err := transactionStore.GetBooking(ctx, verification.BookingID)
				if err != nil {
					return err
				}
				result.Booking = booking
				switch verification.Status {
				case VerificationPending:
				case VerificationRejected:
					result.AlreadyApplied = true
					return nil
				default:
					return fmt.Errorf("%w: verification is %s", ErrVerificationState, verification.Status)
				}
				if err := transactionStore.UpdateVerificationStatus(ctx, verificationID, VerificationPending, VerificationRejected, trimmedNotes); err != nil {
					return lostRace(err, ErrVerificationState)
				}
				if booking.Status.Terminal() {
					return fmt.Errorf("%w: booking is %s", ErrBookingState, booking.Status)
				}
				fundsHeld := booking.Status == BookingVerificationPending || booking.Status == BookingConfirmed
				cancelNotes := "Cancelled by admin: " + trimmedNotes
				if err := transactionStore.UpdateBookingStatus(ctx, booking.ID, booking.Status, BookingCancelled, cancelNotes); err != nil {
					return lostRace(err, ErrBookingState)
				}
				booking.Status = BookingCancelled
				booking.Notes = cancelNotes
				verification.Status = VerificationRejected
				verification.AdminNotes = trimmedNotes
				result.Booking = booking
				result.Verification = verification
				if !fundsHeld {
					return nil
				}
				clientWallet, err := transactionStore.GetWallet(ctx, booking.ClientID)
				if err != nil {
					return err
				}
				refund := booking.TotalPrice.Coins()
				if clientWallet.EscrowBalance < refund {
					refund = clientWallet.EscrowBalance
					alert = alertPartialEscrowRefund
				}
				result.ClientWallet = clientWallet
				if refund == 0 {
					return nil
				}
				clientWallet, err = mutateWallet(ctx, transactionStore, booking.ClientID, refund.Int64(), -refund.Int64())
				if err != nil {
					return err
				}
				transaction, err := transactionStore.InsertTransaction(ctx, Transaction{
					UserID:         booking.ClientID,
					Coins:          refund,
					Type:           TransactionRefund,
					Status:         TransactionCompleted,
					Description:    fmt.Sprintf("Refund for rejected verification - Booking #%s", booking.ID.Short()),
					ReferenceID:    booking.ID.String(),
					CreatedUnixUTC: service.nowFn(),
				})
				if err != nil {
					return err
				}
				result.ClientWallet = clientWallet
				result.Refunded = refund
				result.Transaction = transaction
				return nil
			})
		})
	}()
	logEntry := OperationLog{
		Operation:      operationRefund,
		UserID:         result.Booking.ClientID,
		CounterpartyID: adminID,
		BookingID:      result.Booking.ID,
		Coins:          result.Refunded,
		Error:          operationError,
	}
	if operationError == nil {
		logEntry.Alert = alert
		if result.AlreadyApplied {
			logEntry.Status = operationStatusNoop
		} else {
			service.walletsChanged(ctx, result.ClientWallet)
			service.notify(ctx, newBookingCancelledNotifications(result.Booking, trimmedNotes, result.Refunded)...)
		}
	}
	service.logOperation(ctx, logEntry)
	return result, operationError
}

// ExpireStaleBookings expires bookings left unpaid past their deadline:
// payment_pending after one hour, pending after a day.
func (service *Service) ExpireStaleBookings(ctx context.Context) (ExpiryReport, error) {
	nowUnixUTC := service.nowFn()
	rules := []struct {
		status BookingStatus
		maxAge time.Duration
	}{
		{status: BookingPaymentPending, maxAge: paymentPendingMaxAge},
		{status: BookingPending, maxAge: pendingMaxAge},
	}
	var report ExpiryReport
	var listErrors []error
	for _, rule := range rules {
		cutoff := nowUnixUTC - int64(rule.maxAge/time.Second)
		bookings, err := service.store.ListBookingsCreatedBefore(ctx, rule.status, cutoff, staleBookingBatchSize)
		if err != nil {
			listErrors = append(listErrors, err)
			continue
		}
		for _, booking := range bookings {
			err := service.store.UpdateBookingStatus(ctx, booking.ID, rule.status, BookingExpired, "")
			if errors.Is(err, ErrBookingState) {
				report.Skipped++
				continue
			}
			service.logOperation(ctx, OperationLog{
				Operation: operationExpire,
				UserID:    booking.ClientID,
				BookingID: booking.ID,
				Error:     err,
			})
			if err != nil {
				report.Failed++
				continue
			}
			report.Expired++
			booking.Status = BookingExpired
			service.notify(ctx, newBookingExpiredNotification(booking))
			report.Notified++
		}
	}
	return report, errors.Join(listErrors...)
}

func (service *Service) finishEscrowOperation(ctx context.Context, operation string, booking Booking, userID UserID, alreadyApplied bool, operationError error, wallets ...Wallet) {
	logEntry := OperationLog{
		Operation: operation,
		UserID:    userID,
		BookingID: booking.ID,
		Coins:     booking.TotalPrice.Coins(),
		Error:     operationError,
	}
	if operationError == nil {
		if alreadyApplied {
			logEntry.Status = operationStatusNoop
		} else {
			service.walletsChanged(ctx, wallets...)
		}
	}
	service.logOperation(ctx, logEntry)
}
