package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IntentClient is the slice of the payment provider the bridge uses.
type IntentClient interface {
	CreateIntent(ctx context.Context, amountCents int64, appointmentID uuid.UUID) (*Intent, error)
	Refund(ctx context.Context, intentID, reason string) error
}

// Intent is the provider-side handle handed back to the booking client.
type Intent struct {
	ID           string
	ClientSecret string
}

// StripeClient talks to the Stripe Payment Intents API directly over
// HTTP. In dry-run mode it fabricates intents without calling out, for
// local development and tests.
type StripeClient struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	dryRun     bool
	log        zerolog.Logger
}

func NewStripeClient(secretKey string, dryRun bool, log zerolog.Logger) *StripeClient {
	return &StripeClient{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dryRun:     dryRun,
		log:        log,
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (c *StripeClient) WithBaseURL(baseURL string) *StripeClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

func (c *StripeClient) CreateIntent(ctx context.Context, amountCents int64, appointmentID uuid.UUID) (*Intent, error) {
	if c.dryRun {
		id := "pi_dryrun_" + uuid.NewString()
		return &Intent{ID: id, ClientSecret: id + "_secret"}, nil
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "usd")
	form.Set("metadata[appointment_id]", appointmentID.String())
	form.Set("automatic_payment_methods[enabled]", "true")

	body, err := c.post(ctx, "/v1/payment_intents", form, "appt-"+appointmentID.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("payment: parse intent response: %w", err)
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("payment: intent response missing id")
	}

	return &Intent{ID: parsed.ID, ClientSecret: parsed.ClientSecret}, nil
}

func (c *StripeClient) Refund(ctx context.Context, intentID, reason string) error {
	if c.dryRun {
		c.log.Info().Str("intent_id", intentID).Str("reason", reason).Msg("dry-run refund")
		return nil
	}

	form := url.Values{}
	form.Set("payment_intent", intentID)
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	_, err := c.post(ctx, "/v1/refunds", form, "refund-"+intentID)
	return err
}

func (c *StripeClient) post(ctx context.Context, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("payment: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", c.apiVersion)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment: stripe http: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		c.log.Error().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", string(body)).
			Msg("stripe call failed")
		return nil, fmt.Errorf("payment: stripe api status %d", resp.StatusCode)
	}

	return body, nil
}
