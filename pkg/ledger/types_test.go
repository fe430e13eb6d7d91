package ledger

import (
	"errors"
	"testing"
)

func TestNewUserID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestIdentifierConstructorsRejectBlank(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		build   func(string) error
		wantErr error
	}{
		{name: "booking", build: func(raw string) error { _, err := NewBookingID(raw); return err }, wantErr: ErrInvalidBookingID},
		{name: "verification", build: func(raw string) error { _, err := NewVerificationID(raw); return err }, wantErr: ErrInvalidVerificationID},
		{name: "withdrawal", build: func(raw string) error { _, err := NewWithdrawalID(raw); return err }, wantErr: ErrInvalidWithdrawalID},
		{name: "reference", build: func(raw string) error { _, err := NewPaymentReference(raw); return err }, wantErr: ErrInvalidPaymentReference},
		{name: "idempotency", build: func(raw string) error { _, err := NewIdempotencyKey(raw); return err }, wantErr: ErrInvalidIdempotencyKey},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.build(" \t"); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if err := tc.build("abc"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBookingIDShort(t *testing.T) {
	t.Parallel()
	long, err := NewBookingID("0123456789abcdef")
	if err != nil {
		t.Fatalf("booking id: %v", err)
	}
	if long.Short() != "01234567" {
		t.Fatalf("expected 8 char prefix, got %q", long.Short())
	}
	short, err := NewBookingID("abc")
	if err != nil {
		t.Fatalf("booking id: %v", err)
	}
	if short.Short() != "abc" {
		t.Fatalf("expected short id unchanged, got %q", short.Short())
	}
}

func TestCoinsConstructors(t *testing.T) {
	t.Parallel()
	if _, err := NewCoins(-1); !errors.Is(err, ErrInvalidCoins) {
		t.Fatalf("expected invalid coins for negative, got %v", err)
	}
	if coins, err := NewCoins(0); err != nil || coins != 0 {
		t.Fatalf("expected zero coins to be valid, got %d %v", coins, err)
	}
	if _, err := NewPositiveCoins(0); !errors.Is(err, ErrInvalidCoins) {
		t.Fatalf("expected invalid positive coins for zero, got %v", err)
	}
}

func TestWalletApply(t *testing.T) {
	t.Parallel()
	wallet := Wallet{UserID: UserID{value: "u"}, Balance: 100, EscrowBalance: 40}
	cases := []struct {
		name         string
		balanceDelta int64
		escrowDelta  int64
		want         Wallet
		wantErr      error
	}{
		{name: "hold", balanceDelta: -60, escrowDelta: 60, want: Wallet{UserID: wallet.UserID, Balance: 40, EscrowBalance: 100}},
		{name: "release", escrowDelta: -40, want: Wallet{UserID: wallet.UserID, Balance: 100}},
		{name: "drain", balanceDelta: -100, escrowDelta: -40, want: Wallet{UserID: wallet.UserID}},
		{name: "overdraw balance", balanceDelta: -101, wantErr: ErrInsufficientFunds},
		{name: "overdraw escrow", escrowDelta: -41, wantErr: ErrInsufficientFunds},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next, err := wallet.Apply(tc.balanceDelta, tc.escrowDelta)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if next != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, next)
			}
			if next.Total()-wallet.Total() != Coins(tc.balanceDelta+tc.escrowDelta) {
				t.Fatalf("total moved by an unexpected amount")
			}
		})
	}
}

func TestNewMetadataJSON(t *testing.T) {
	t.Parallel()
	empty, err := NewMetadataJSON("  ")
	if err != nil || empty.String() != "{}" {
		t.Fatalf("expected empty metadata to default to {}, got %q %v", empty.String(), err)
	}
	if _, err := NewMetadataJSON("{broken"); !errors.Is(err, ErrInvalidMetadataJSON) {
		t.Fatalf("expected invalid metadata, got %v", err)
	}
}

func TestStatusParsers(t *testing.T) {
	t.Parallel()
	if status, err := ParseBookingStatus("confirmed"); err != nil || status != BookingConfirmed {
		t.Fatalf("parse booking status: %v %v", status, err)
	}
	if _, err := ParseBookingStatus("paid"); !errors.Is(err, ErrInvalidBookingStatus) {
		t.Fatalf("expected invalid booking status, got %v", err)
	}
	if _, err := ParseTransactionType("bonus"); !errors.Is(err, ErrInvalidTransactionType) {
		t.Fatalf("expected invalid transaction type, got %v", err)
	}
	if _, err := ParseTransactionStatus("refunded"); !errors.Is(err, ErrInvalidTransactionStatus) {
		t.Fatalf("expected invalid transaction status, got %v", err)
	}
	if _, err := ParseVerificationStatus("maybe"); !errors.Is(err, ErrInvalidVerificationStatus) {
		t.Fatalf("expected invalid verification status, got %v", err)
	}
	if _, err := ParseWithdrawalStatus("paid"); !errors.Is(err, ErrInvalidWithdrawalStatus) {
		t.Fatalf("expected invalid withdrawal status, got %v", err)
	}
	if provider, err := ParsePaymentProvider(" NOWPayments "); err != nil || provider != ProviderNOWPayments {
		t.Fatalf("parse provider: %v %v", provider, err)
	}
	for _, status := range []BookingStatus{BookingCompleted, BookingCancelled, BookingExpired} {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	if BookingConfirmed.Terminal() {
		t.Fatalf("confirmed must not be terminal")
	}
}
