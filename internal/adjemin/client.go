package adjemin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/adjemin-bridge/internal/obs"
	"github.com/noah-isme/adjemin-bridge/internal/resilience"
)

// DefaultBaseURL is the production AdjeminPay API host.
const DefaultBaseURL = "https://api.adjeminpay.com"

// StatusFailed is the sentinel returned by PaymentStatus whenever the
// authoritative status cannot be determined. Provider unavailability must
// never read as a successful payment.
const StatusFailed = "FAILED"

// Client calls the AdjeminPay merchant API. All calls are single-attempt
// with a bounded timeout; retrying is left to the caller (the provider
// itself redelivers notifications on non-OK responses).
type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTP         *http.Client
	// Breaker short-circuits outbound calls while the provider is failing.
	// Status queries then resolve to StatusFailed without waiting out the
	// timeout.
	Breaker *resilience.Breaker
	Logger  zerolog.Logger
}

// NewClient builds a client with an instrumented transport and the given
// per-call timeout.
func NewClient(baseURL, clientID, clientSecret string, timeout time.Duration, logger zerolog.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker: resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("adjeminpay"),
		Logger:  logger,
	}
}

// Token exchanges client credentials for a bearer token. The response is
// accepted when it carries a non-empty access_token; any other shape fails
// with an AuthError carrying the provider's message when one is present.
func (c *Client) Token(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(ctx, req, "oauth_token")
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &AuthError{}
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return "", &AuthError{Message: strings.TrimSpace(parsed.Message)}
	}
	return parsed.AccessToken, nil
}

// CreateCheckout opens a hosted checkout session and returns the redirect
// URL the customer should be sent to.
func (c *Client) CreateCheckout(ctx context.Context, token string, payload CheckoutRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", &CheckoutError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v3/merchants/create_checkout", bytes.NewReader(encoded))
	if err != nil {
		return "", &CheckoutError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	body, err := c.do(ctx, req, "create_checkout")
	if err != nil {
		return "", &CheckoutError{Err: err}
	}

	var parsed struct {
		Data struct {
			ServicePaymentURL string `json:"service_payment_url"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &CheckoutError{Message: "Error when getting payment URL", Err: err}
	}
	if strings.TrimSpace(parsed.Data.ServicePaymentURL) == "" {
		msg := strings.TrimSpace(parsed.Message)
		if msg == "" {
			msg = "Error when getting payment URL"
		}
		return "", &CheckoutError{Message: msg}
	}
	return parsed.Data.ServicePaymentURL, nil
}

// PaymentStatus queries the authoritative status for a merchant transaction
// id. It fails closed: any transport error, timeout or malformed response
// resolves to StatusFailed instead of an error.
func (c *Client) PaymentStatus(ctx context.Context, token, merchantTransID string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v3/merchants/payment/"+url.PathEscape(merchantTransID), nil)
	if err != nil {
		return StatusFailed
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	body, err := c.do(ctx, req, "payment_status")
	if err != nil {
		c.Logger.Warn().Err(err).Str("merchant_trans_id", merchantTransID).Msg("status query failed, resolving to FAILED")
		return StatusFailed
	}

	var parsed struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return StatusFailed
	}
	if strings.TrimSpace(parsed.Data.Status) == "" {
		return StatusFailed
	}
	return parsed.Data.Status
}

func (c *Client) do(ctx context.Context, req *http.Request, call string) ([]byte, error) {
	tracer := otel.Tracer("adjemin.Client")
	ctx, span := tracer.Start(ctx, "adjemin."+call)
	defer span.End()

	wrapped := resilience.HTTPClient{
		Client:      c.httpClient(),
		Breaker:     c.Breaker,
		MaxAttempts: 1,
	}

	start := time.Now()
	resp, err := wrapped.Do(ctx, req)
	c.observe(call, start, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	span.SetAttributes(
		attribute.String("adjemin.call", call),
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Float64("adjemin.duration_ms", float64(time.Since(start))/float64(time.Millisecond)),
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (c *Client) observe(call string, start time.Time, err error) {
	if obs.ProviderCallDuration == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.ProviderCallDuration.WithLabelValues(call, result).
		Observe(float64(time.Since(start)) / float64(time.Millisecond))
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
