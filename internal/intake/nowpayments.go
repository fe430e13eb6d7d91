package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
)

const (
	NOWPaymentsSignatureHeader = "x-nowpayments-sig"
	nowPaymentsStatusFinished  = "finished"
	minorUnitsPerMajor         = 100
)

type nowPaymentsPayload struct {
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PriceAmount   json.Number `json:"price_amount"`
}

// NOWPaymentsWebhook verifies x-nowpayments-sig. The signature is checked over
// the raw body first and then over the sorted-key serialization the provider signs.
type NOWPaymentsWebhook struct {
	secret string
}

func NewNOWPaymentsWebhook(secret string) *NOWPaymentsWebhook {
	return &NOWPaymentsWebhook{secret: secret}
}

func (webhook *NOWPaymentsWebhook) Provider() ledger.PaymentProvider {
	return ledger.ProviderNOWPayments
}

func (webhook *NOWPaymentsWebhook) Parse(header http.Header, body []byte) (Event, error) {
	if webhook.secret == "" {
		return Event{}, ErrMissingSecret
	}
	signature, err := signatureFromHeader(header, NOWPaymentsSignatureHeader)
	if err != nil {
		return Event{}, err
	}
	if !signatureMatches(webhook.secret, body, signature) {
		canonical, err := canonicalJSON(body)
		if err != nil || !signatureMatches(webhook.secret, canonical, signature) {
			return Event{}, ledger.ErrSignatureInvalid
		}
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload nowPaymentsPayload
	if err := decoder.Decode(&payload); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	event := Event{Provider: ledger.ProviderNOWPayments, Kind: payload.PaymentStatus}
	if payload.PaymentStatus != nowPaymentsStatusFinished {
		return event, nil
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return Event{}, fmt.Errorf("%w: missing order_id", ErrMalformedPayload)
	}
	amountMinor, err := majorToMinor(payload.PriceAmount.String())
	if err != nil {
		return Event{}, err
	}
	event.Reference = payload.OrderID
	event.AmountMinor = amountMinor
	event.Actionable = true
	return event, nil
}

// canonicalJSON re-encodes body with object keys sorted at every depth and
// without HTML escaping, matching JSON.stringify on a key-sorted object.
func canonicalJSON(body []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}

// majorToMinor converts a decimal major-unit amount ("5000", "5000.5") to
// minor units without floating point.
func majorToMinor(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "-") {
		return 0, fmt.Errorf("%w: price_amount %q", ErrMalformedPayload, raw)
	}
	whole, fraction, _ := strings.Cut(trimmed, ".")
	if len(fraction) > 2 {
		if strings.Trim(fraction[2:], "0") != "" {
			return 0, fmt.Errorf("%w: price_amount %q has sub-minor precision", ErrMalformedPayload, raw)
		}
		fraction = fraction[:2]
	}
	for len(fraction) < 2 {
		fraction += "0"
	}
	if whole == "" {
		whole = "0"
	}
	wholeValue, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || wholeValue > math.MaxInt64/minorUnitsPerMajor-1 {
		return 0, fmt.Errorf("%w: price_amount %q", ErrMalformedPayload, raw)
	}
	fractionValue, err := strconv.ParseInt(fraction, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: price_amount %q", ErrMalformedPayload, raw)
	}
	return wholeValue*minorUnitsPerMajor + fractionValue, nil
}
