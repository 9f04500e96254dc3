package voucher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridian-exchange/exchange_service/internal/infrastructure/config"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

var _ Provider = (*Client)(nil)

// Client implements Provider against the fulfillment REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logger.Logger
}

func NewClient(cfg config.VoucherConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     log,
	}
}

type purchaseRequest struct {
	Reference string `json:"reference"`
	ProductID string `json:"productId"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Recipient string `json:"recipient,omitempty"`
}

type purchaseResponse struct {
	Reference string `json:"reference"`
	Code      string `json:"code"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (c *Client) Purchase(ctx context.Context, req PurchaseRequest) (*Voucher, error) {
	body := purchaseRequest{
		Reference: req.Reference,
		ProductID: req.ProductID,
		Amount:    req.Amount.String(),
		Currency:  req.Currency,
		Recipient: req.Recipient,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vouchers", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("purchase request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded purchaseResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("voucher API error %d: %s", resp.StatusCode, decoded.Message)
	}

	return &Voucher{Reference: decoded.Reference, Code: decoded.Code, Status: decoded.Status}, nil
}
