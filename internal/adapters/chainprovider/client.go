package chainprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/config"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/retry"
)

var _ Provider = (*Client)(nil)

// chainPaths maps chain groups to the gateway's path segments.
var chainPaths = map[entities.ChainGroup]string{
	entities.ChainGroupETH:   "ethereum",
	entities.ChainGroupBSC:   "bsc",
	entities.ChainGroupTRON:  "tron",
	entities.ChainGroupMATIC: "polygon",
	entities.ChainGroupBTC:   "bitcoin",
	entities.ChainGroupLTC:   "litecoin",
	entities.ChainGroupSOL:   "solana",
}

// Client implements Provider against the gateway REST API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	webhookURL  string
	breaker     *gobreaker.CircuitBreaker
	retryConfig retry.RetryConfig
	logger      *logger.Logger
}

func NewClient(cfg config.ChainProviderConfig, log *logger.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chain-provider",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Chain provider circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	retryConfig := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryConfig.MaxAttempts = cfg.MaxRetries
	}

	return &Client{
		httpClient:  &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		webhookURL:  cfg.WebhookURL,
		breaker:     breaker,
		retryConfig: retryConfig,
		logger:      log,
	}
}

func chainPath(group entities.ChainGroup) (string, error) {
	path, ok := chainPaths[group]
	if !ok {
		return "", fmt.Errorf("unsupported chain group: %s", group)
	}
	return path, nil
}

func (c *Client) CreateWallet(ctx context.Context, group entities.ChainGroup) (*Wallet, error) {
	path, err := chainPath(group)
	if err != nil {
		return nil, err
	}

	var resp walletResponse
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/%s/wallet", path), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to create %s wallet: %w", group, err)
	}
	if resp.Mnemonic == "" || resp.XPub == "" {
		return nil, fmt.Errorf("gateway returned incomplete wallet for %s", group)
	}

	return &Wallet{Mnemonic: resp.Mnemonic, XPub: resp.XPub}, nil
}

func (c *Client) DeriveAddress(ctx context.Context, group entities.ChainGroup, xpub string, index int) (string, error) {
	path, err := chainPath(group)
	if err != nil {
		return "", err
	}

	var resp addressResponse
	endpoint := fmt.Sprintf("/%s/address/%s/%d", path, url.PathEscape(xpub), index)
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to derive %s address: %w", group, err)
	}
	if resp.Address == "" {
		return "", fmt.Errorf("gateway returned empty address for %s", group)
	}

	return resp.Address, nil
}

func (c *Client) DerivePrivateKey(ctx context.Context, group entities.ChainGroup, mnemonic string, index int) (string, error) {
	path, err := chainPath(group)
	if err != nil {
		return "", err
	}

	var resp privateKeyResponse
	body := privateKeyRequest{Mnemonic: mnemonic, Index: index}
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/%s/wallet/priv", path), body, &resp); err != nil {
		return "", fmt.Errorf("failed to derive %s private key: %w", group, err)
	}
	if resp.Key == "" {
		return "", fmt.Errorf("gateway returned empty private key for %s", group)
	}

	return resp.Key, nil
}

func (c *Client) GetBalance(ctx context.Context, group entities.ChainGroup, address string, tokenContracts map[string]string) (*Balance, error) {
	path, err := chainPath(group)
	if err != nil {
		return nil, err
	}

	var native balanceResponse
	endpoint := fmt.Sprintf("/%s/account/balance/%s", path, url.PathEscape(address))
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &native); err != nil {
		return nil, fmt.Errorf("failed to get %s balance: %w", group, err)
	}

	nativeAmount, err := decimal.NewFromString(native.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid native balance %q: %w", native.Balance, err)
	}

	balance := &Balance{Native: nativeAmount, Tokens: make(map[string]decimal.Decimal, len(tokenContracts))}

	// Token enumeration is restricted to the configured allow-list; the
	// gateway would otherwise return every airdropped junk token.
	for currency, contract := range tokenContracts {
		var token tokenBalanceResponse
		endpoint := fmt.Sprintf("/blockchain/token/balance/%s/%s/%s", path, url.PathEscape(contract), url.PathEscape(address))
		if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &token); err != nil {
			return nil, fmt.Errorf("failed to get %s token balance for %s: %w", group, currency, err)
		}
		amount, err := decimal.NewFromString(token.Balance)
		if err != nil {
			return nil, fmt.Errorf("invalid %s token balance %q: %w", currency, token.Balance, err)
		}
		balance.Tokens[currency] = amount
	}

	return balance, nil
}

func (c *Client) EstimateGas(ctx context.Context, req EstimateGasRequest) (*GasEstimate, error) {
	path, err := chainPath(req.Group)
	if err != nil {
		return nil, err
	}

	body := estimateGasRequest{
		From:            req.From,
		To:              req.To,
		Amount:          req.Amount.String(),
		ContractAddress: req.ContractAddress,
	}

	var resp estimateGasResponse
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/%s/gas", path), body, &resp); err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	gasLimit, err := decimal.NewFromString(resp.GasLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid gas limit %q: %w", resp.GasLimit, err)
	}
	gasPrice, err := decimal.NewFromString(resp.GasPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid gas price %q: %w", resp.GasPrice, err)
	}

	return &GasEstimate{
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Fee:      gasLimit.Mul(gasPrice),
	}, nil
}

func (c *Client) BroadcastTransfer(ctx context.Context, req TransferRequest) (string, error) {
	path, err := chainPath(req.Group)
	if err != nil {
		return "", err
	}

	body := transferRequest{
		From:            req.From,
		To:              req.To,
		Amount:          req.Amount.String(),
		ContractAddress: req.ContractAddress,
		FromPrivateKey:  req.PrivateKey,
	}
	if req.FeeLimit != nil {
		body.FeeLimit = req.FeeLimit.String()
	}

	endpoint := fmt.Sprintf("/%s/transaction", path)
	if req.ContractAddress != "" {
		endpoint = fmt.Sprintf("/blockchain/token/transaction/%s", path)
	}

	var resp transferResponse
	if err := c.doRequest(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", fmt.Errorf("failed to broadcast transfer: %w", err)
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("gateway returned empty transaction hash")
	}

	return resp.TxID, nil
}

func (c *Client) SubscribeAddress(ctx context.Context, group entities.ChainGroup, address string) (string, error) {
	path, err := chainPath(group)
	if err != nil {
		return "", err
	}

	body := subscriptionRequest{
		Type: "ADDRESS_TRANSACTION",
		Attr: subscriptionAttr{
			Address: address,
			Chain:   path,
			URL:     c.webhookURL,
		},
	}

	var resp subscriptionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/subscription", body, &resp); err != nil {
		return "", fmt.Errorf("failed to subscribe address %s: %w", address, err)
	}

	return resp.ID, nil
}

// doRequest performs one gateway call through the circuit breaker with
// retries on retryable failures.
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
	req.Header.Set("x-api-key", c.apiKey)
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
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiErr.Message,
			ErrorCode:  apiErr.ErrorCode,
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
