// Package intake turns signed payment-provider callbacks into settlement events.
package intake

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
)

var (
	ErrMalformedPayload     = errors.New("malformed payment payload")
	ErrPaymentNotSuccessful = errors.New("payment not successful")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrMissingSecret        = errors.New("webhook secret not configured")
)

// Event is a verified provider callback. Only actionable events settle deposits;
// the rest are acknowledged and ignored.
type Event struct {
	Provider    ledger.PaymentProvider
	Kind        string
	Reference   string
	AmountMinor int64
	Actionable  bool
}

// Settlement converts the event into a ledger settlement scoped to userID (zero for webhooks).
func (event Event) Settlement(userID ledger.UserID) (ledger.SettlementEvent, error) {
	reference, err := ledger.NewPaymentReference(event.Reference)
	if err != nil {
		return ledger.SettlementEvent{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return ledger.SettlementEvent{
		Reference:   reference,
		AmountMinor: event.AmountMinor,
		Provider:    event.Provider,
		UserID:      userID,
	}, nil
}

// WebhookParser authenticates and decodes one provider's callback.
type WebhookParser interface {
	Provider() ledger.PaymentProvider
	Parse(header http.Header, body []byte) (Event, error)
}

func signatureFromHeader(header http.Header, name string) (string, error) {
	signature := strings.TrimSpace(header.Get(name))
	if signature == "" {
		return "", fmt.Errorf("%w: missing %s header", ledger.ErrSignatureInvalid, name)
	}
	return strings.ToLower(signature), nil
}

func hmacSHA512Hex(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureMatches(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(hmacSHA512Hex(secret, payload)), []byte(signature))
}
