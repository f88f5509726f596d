package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// PayPalProcessor talks to the PayPal authorization/capture API.
type PayPalProcessor struct {
	clientID string
	secret   string
	baseURL  string
	client   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalProcessor creates a processor for the given REST credentials.
func NewPayPalProcessor(clientID, secret, baseURL string) *PayPalProcessor {
	return &PayPalProcessor{
		clientID: clientID,
		secret:   secret,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p *PayPalProcessor) CreateAuthorization(ctx context.Context, token string, amountCents int64, description string) (string, error) {
	body := map[string]interface{}{
		"intent": "AUTHORIZE",
		"purchase_units": []map[string]interface{}{{
			"amount":      centsToAmount(amountCents),
			"description": description,
			"custom_id":   token,
		}},
	}
	resp, err := p.post(ctx, "/v2/checkout/orders", body)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ProceedCharge captures amountCents against the authorization, or
// voids it when amountCents is nil.
func (p *PayPalProcessor) ProceedCharge(ctx context.Context, ref string, amountCents *int64) (string, error) {
	if amountCents == nil {
		if _, err := p.post(ctx, "/v2/payments/authorizations/"+ref+"/void", nil); err != nil {
			return "", err
		}
		return ref, nil
	}
	body := map[string]interface{}{
		"amount":        centsToAmount(*amountCents),
		"final_capture": true,
	}
	resp, err := p.post(ctx, "/v2/payments/authorizations/"+ref+"/capture", body)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (p *PayPalProcessor) post(ctx context.Context, path string, body interface{}) (*paypalResponse, error) {
	access, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	var out paypalResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to decode paypal response: %w", err)
		}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("paypal %s: %s", resp.Status, out.Message)
	}
	return &out, nil
}

func (p *PayPalProcessor) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/oauth2/token", bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request failed: %w", err)
	}
	defer resp.Body.Close()

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode paypal token: %w", err)
	}
	if resp.StatusCode >= 400 || tok.AccessToken == "" {
		return "", fmt.Errorf("paypal auth failed: %s", resp.Status)
	}

	p.accessToken = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)
	return p.accessToken, nil
}

func centsToAmount(cents int64) paypalAmount {
	return paypalAmount{
		CurrencyCode: "CAD",
		Value:        fmt.Sprintf("%d.%02d", cents/100, cents%100),
	}
}
