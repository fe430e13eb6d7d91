package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	PaystackSignatureHeader = "x-paystack-signature"
	paystackChargeSuccess   = "charge.success"
	paystackStatusSuccess   = "success"
	DefaultPaystackBaseURL  = "https://api.paystack.co"
	defaultVerifyTimeout    = 10 * time.Second
)

type paystackPayload struct {
	Event string `json:"event"`
	Data  *struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// PaystackWebhook verifies x-paystack-signature (HMAC-SHA512 over the raw body).
type PaystackWebhook struct {
	secret string
}

func NewPaystackWebhook(secret string) *PaystackWebhook {
	return &PaystackWebhook{secret: secret}
}

func (webhook *PaystackWebhook) Provider() ledger.PaymentProvider {
	return ledger.ProviderPaystack
}

// Parse authenticates body and decodes it. Amounts are reported in kobo.
func (webhook *PaystackWebhook) Parse(header http.Header, body []byte) (Event, error) {
	if webhook.secret == "" {
		return Event{}, ErrMissingSecret
	}
	signature, err := signatureFromHeader(header, PaystackSignatureHeader)
	if err != nil {
		return Event{}, err
	}
	if !signatureMatches(webhook.secret, body, signature) {
		return Event{}, ledger.ErrSignatureInvalid
	}
	var payload paystackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	event := Event{Provider: ledger.ProviderPaystack, Kind: payload.Event}
	if payload.Event != paystackChargeSuccess || payload.Data == nil {
		return event, nil
	}
	if strings.TrimSpace(payload.Data.Reference) == "" {
		return Event{}, fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}
	event.Reference = payload.Data.Reference
	event.AmountMinor = payload.Data.Amount
	event.Actionable = true
	return event, nil
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

// PaystackClient queries the transaction verify API for client-polled confirmation.
type PaystackClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewPaystackClient returns a client; an empty baseURL uses the public API.
func NewPaystackClient(baseURL string, secret string, httpClient *http.Client) *PaystackClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultPaystackBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultVerifyTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &PaystackClient{baseURL: strings.TrimRight(baseURL, "/"), secret: secret, httpClient: httpClient}
}

// Verify returns an actionable event only when Paystack reports the charge successful.
func (client *PaystackClient) Verify(ctx context.Context, reference string) (Event, error) {
	if client.secret == "" {
		return Event{}, ErrMissingSecret
	}
	endpoint := client.baseURL + "/transaction/verify/" + url.PathEscape(reference)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Event{}, err
	}
	request.Header.Set("Authorization", "Bearer "+client.secret)
	request.Header.Set("Content-Type", "application/json")
	response, err := client.httpClient.Do(request)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer response.Body.Close()
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if response.StatusCode >= http.StatusInternalServerError {
		return Event{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, response.StatusCode)
	}
	var payload paystackVerifyResponse
	if err := json.Unmarshal(buffer.Bytes(), &payload); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if response.StatusCode != http.StatusOK || !payload.Status || payload.Data == nil {
		return Event{}, fmt.Errorf("%w: %s", ErrPaymentNotSuccessful, payload.Message)
	}
	if payload.Data.Status != paystackStatusSuccess {
		return Event{}, fmt.Errorf("%w: status %s", ErrPaymentNotSuccessful, payload.Data.Status)
	}
	return Event{
		Provider:    ledger.ProviderPaystack,
		Kind:        payload.Data.Status,
		Reference:   payload.Data.Reference,
		AmountMinor: payload.Data.Amount,
		Actionable:  true,
	}, nil
}
