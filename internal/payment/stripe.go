package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeProcessor talks to the Stripe charges API over HTTPS.
type StripeProcessor struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewStripeProcessor creates a processor using the given secret key.
func NewStripeProcessor(secretKey string) *StripeProcessor {
	return &StripeProcessor{
		secretKey: secretKey,
		baseURL:   "https://api.stripe.com/v1",
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type stripeCharge struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *StripeProcessor) CreateCharge(ctx context.Context, token string, amountCents int64, capture bool, description string) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "cad")
	form.Set("customer", token)
	form.Set("capture", strconv.FormatBool(capture))
	form.Set("description", description)
	return p.post(ctx, "/charges", form)
}

func (p *StripeProcessor) CaptureCharge(ctx context.Context, chargeID string, amountCents int64) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	return p.post(ctx, "/charges/"+chargeID+"/capture", form)
}

func (p *StripeProcessor) RefundCharge(ctx context.Context, chargeID string) error {
	form := url.Values{}
	form.Set("charge", chargeID)
	_, err := p.post(ctx, "/refunds", form)
	return err
}

func (p *StripeProcessor) post(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	var charge stripeCharge
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return "", fmt.Errorf("failed to decode stripe response: %w", err)
	}
	if resp.StatusCode >= 400 {
		reason := "unknown error"
		if charge.Error != nil {
			reason = charge.Error.Message
		}
		return "", fmt.Errorf("stripe %s: %s", resp.Status, reason)
	}
	return charge.ID, nil
}
