package fiatgateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meridian-exchange/exchange_service/internal/infrastructure/config"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/retry"
)

var _ Gateway = (*Client)(nil)

// Client implements Gateway against the provider REST API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	apiSecret     string
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker
	retryConfig   retry.RetryConfig
	logger        *logger.Logger
}

func NewClient(cfg config.FiatGatewayConfig, log *logger.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fiat-gateway",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Fiat gateway circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	retryConfig := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryConfig.MaxAttempts = cfg.MaxRetries
	}

	return &Client{
		httpClient:    &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		apiSecret:     cfg.APISecret,
		webhookSecret: cfg.WebhookSecret,
		breaker:       breaker,
		retryConfig:   retryConfig,
		logger:        log,
	}
}

type createOrderRequest struct {
	Reference string            `json:"reference"`
	Amount    string            `json:"amount"`
	Currency  string            `json:"currency"`
	Kind      string            `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type orderResponse struct {
	Reference   string `json:"reference"`
	Status      int    `json:"status"`
	PaymentURL  string `json:"paymentUrl"`
	CompletedAt string `json:"completedAt"`
}

type apiErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fiat gateway API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryableError reports whether err should be retried.
func IsRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return true
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body := createOrderRequest{
		Reference: req.Reference,
		Amount:    req.Amount.String(),
		Currency:  req.Currency,
		Kind:      req.Kind,
		Metadata:  req.Metadata,
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	if resp.Reference == "" {
		return nil, fmt.Errorf("gateway returned empty order reference")
	}

	return &Order{ProviderRef: resp.Reference, Status: resp.Status, PaymentURL: resp.PaymentURL}, nil
}

func (c *Client) QueryStatus(ctx context.Context, providerRef string) (*OrderStatus, error) {
	var resp orderResponse
	endpoint := fmt.Sprintf("/orders/%s", url.PathEscape(providerRef))
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to query order status: %w", err)
	}

	return &OrderStatus{ProviderRef: resp.Reference, Status: resp.Status, CompletedAt: resp.CompletedAt}, nil
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw payload.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	operation := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.execute(ctx, method, path, body, result)
		})
		return err
	}

	return retry.WithExponentialBackoff(ctx, c.retryConfig, operation, IsRetryableError)
}

func (c *Client) execute(ctx context.Context, method, path string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message, Code: apiErr.Code}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
