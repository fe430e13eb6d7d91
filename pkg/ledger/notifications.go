package ledger

import "fmt"

func newLowBalanceNotification(wallet Wallet) Notification {
	return Notification{
		UserID:  wallet.UserID,
		Type:    NotificationLowBalance,
		Title:   "Low Balance",
		Message: fmt.Sprintf("Your balance is %d coins. Top up to keep booking and gifting.", wallet.Balance),
		Data: map[string]any{
			"current_balance": wallet.Balance.Int64(),
			"threshold":       LowBalanceThreshold.Int64(),
		},
	}
}

func newPurchaseSuccessNotification(transaction Transaction, wallet Wallet) Notification {
	return Notification{
		UserID:  transaction.UserID,
		Type:    NotificationPurchaseSuccess,
		Title:   "Coins Added",
		Message: fmt.Sprintf("%d coins have been added to your wallet.", transaction.Coins),
		Data: map[string]any{
			"transaction_id": transaction.ID,
			"coins":          transaction.Coins.Int64(),
			"amount":         transaction.AmountMinor,
			"new_balance":    wallet.Balance.Int64(),
			"reference":      transaction.Reference,
			"provider":       transaction.Provider,
		},
	}
}

func newPurchaseFailedNotification(transaction Transaction) Notification {
	return Notification{
		UserID:  transaction.UserID,
		Type:    NotificationPurchaseFailed,
		Title:   "Payment Processing Issue",
		Message: fmt.Sprintf("Your payment was received but we could not credit your wallet. Please contact support. Reference: %s", transaction.Reference),
		Data: map[string]any{
			"transaction_id": transaction.ID,
			"coins":          transaction.Coins.Int64(),
			"reference":      transaction.Reference,
			"provider":       transaction.Provider,
		},
	}
}

func newGiftSentNotification(gift Gift, recipientName string, sender Wallet) Notification {
	return Notification{
		UserID:  gift.SenderID,
		Type:    NotificationGiftSent,
		Title:   "Gift Sent",
		Message: fmt.Sprintf("You sent %d coins to %s.", gift.Amount, recipientName),
		Data: map[string]any{
			"gift_id":        gift.ID,
			"recipient_id":   gift.RecipientID.String(),
			"recipient_name": recipientName,
			"amount":         gift.Amount.Int64(),
			"new_balance":    sender.Balance.Int64(),
		},
	}
}

func newGiftReceivedNotification(gift Gift, senderName string) Notification {
	return Notification{
		UserID:  gift.RecipientID,
		Type:    NotificationGiftReceived,
		Title:   "Gift Received",
		Message: fmt.Sprintf("%s sent you %d coins.", senderName, gift.Amount),
		Data: map[string]any{
			"gift_id":     gift.ID,
			"sender_id":   gift.SenderID.String(),
			"sender_name": senderName,
			"amount":      gift.Amount.Int64(),
			"message":     gift.Message,
		},
	}
}

func newBookingCompletedNotification(booking Booking) Notification {
	return Notification{
		UserID:  booking.TalentID,
		Type:    NotificationBookingCompleted,
		Title:   "Booking Completed",
		Message: fmt.Sprintf("You earned %d coins from booking #%s.", booking.TotalPrice, booking.ID.Short()),
		Data: map[string]any{
			"booking_id": booking.ID.String(),
			"coins":      booking.TotalPrice.Int64(),
		},
	}
}

func newBookingCancelledNotifications(booking Booking, notes string, refunded Coins) []Notification {
	data := map[string]any{
		"booking_id": booking.ID.String(),
		"reason":     notes,
		"refunded":   refunded.Int64(),
	}
	return []Notification{
		{
			UserID:  booking.ClientID,
			Type:    NotificationBookingCancelled,
			Title:   "Booking Cancelled",
			Message: fmt.Sprintf("Your booking was cancelled after verification review. %d coins were returned to your wallet.", refunded),
			Data:    data,
		},
		{
			UserID:  booking.TalentID,
			Type:    NotificationBookingCancelled,
			Title:   "Booking Cancelled",
			Message: fmt.Sprintf("Booking #%s was cancelled by an admin.", booking.ID.Short()),
			Data:    data,
		},
	}
}

func newBookingExpiredNotification(booking Booking) Notification {
	return Notification{
		UserID:  booking.ClientID,
		Type:    NotificationBookingExpired,
		Title:   "Booking Expired",
		Message: "Your booking has expired due to inactivity.",
		Data:    map[string]any{"booking_id": booking.ID.String()},
	}
}

func newWithdrawalApprovedNotification(withdrawal Withdrawal, wallet Wallet) Notification {
	return Notification{
		UserID:  withdrawal.TalentID,
		Type:    NotificationWithdrawalApproved,
		Title:   "Withdrawal Approved",
		Message: fmt.Sprintf("Your withdrawal of %d coins has been approved.", withdrawal.Amount),
		Data: map[string]any{
			"withdrawal_id": withdrawal.ID.String(),
			"amount":        withdrawal.Amount.Int64(),
			"new_balance":   wallet.Balance.Int64(),
		},
	}
}

func newWithdrawalRejectedNotification(withdrawal Withdrawal, reason string) Notification {
	return Notification{
		UserID:  withdrawal.TalentID,
		Type:    NotificationWithdrawalRejected,
		Title:   "Withdrawal Declined",
		Message: reason,
		Data:    map[string]any{"withdrawal_id": withdrawal.ID.String()},
	}
}

func newManualDepositApprovedNotification(request DepositRequest, wallet Wallet) Notification {
	return Notification{
		UserID:  request.UserID,
		Type:    NotificationPurchaseSuccess,
		Title:   "Deposit Approved",
		Message: fmt.Sprintf("Your bank transfer has been approved. %d coins added.", request.Coins()),
		Data: map[string]any{
			"request_id":  request.ID.String(),
			"amount":      request.Coins().Int64(),
			"new_balance": wallet.Balance.Int64(),
		},
	}
}

func newManualDepositRejectedNotification(request DepositRequest, reason string) Notification {
	return Notification{
		UserID:  request.UserID,
		Type:    NotificationPurchaseFailed,
		Title:   "Deposit Rejected",
		Message: fmt.Sprintf("Your bank transfer was rejected. Reason: %s.", reason),
		Data: map[string]any{
			"request_id": request.ID.String(),
			"reason":     reason,
		},
	}
}
