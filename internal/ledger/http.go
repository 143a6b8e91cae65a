package ledger

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
)

// HTTPClient is a Ledger backed by the ledger service's JSON API.
type HTTPClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type transferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *HTTPClient) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() || from == "" || to == "" {
		return fmt.Errorf("%w: %s -> %s amount %s", ErrInvalidTransfer, from, to, amount)
	}

	var resp transferResponse
	if err := c.do(ctx, http.MethodPost, "/transfers", transferRequest{From: from, To: to, Amount: amount}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error == "" {
			return ErrTransferRejected
		}
		return fmt.Errorf("%w: %s", ErrTransferRejected, resp.Error)
	}
	return nil
}

func (c *HTTPClient) CreateAccount(ctx context.Context) (string, error) {
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.do(ctx, http.MethodPost, "/accounts", struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("ledger returned an empty account address")
	}
	return resp.Address, nil
}

func (c *HTTPClient) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	path := "/accounts/" + url.PathEscape(address) + "/balance"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrAccountNotFound
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrInsufficientFunds
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrLedgerUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrTransferRejected, resp.StatusCode, bytes.TrimSpace(msg))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return nil
}
