package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Transfer statuses reported by the server.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusProcessed = "processed"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

var statusRank = map[string]int{
	StatusPending:   0,
	StatusSubmitted: 1,
	StatusProcessed: 2,
	StatusConfirmed: 3,
	StatusFinalized: 4,
}

// IsTerminal reports whether a transfer in status will never change again.
func IsTerminal(status string) bool {
	return status == StatusFinalized || status == StatusFailed || status == StatusExpired
}

// Transfer is a transfer as reported by the server.
type Transfer struct {
	ID                     string    `json:"id"`
	IdempotencyKey         *string   `json:"idempotency_key,omitempty"`
	Sender                 *string   `json:"sender,omitempty"`
	Receiver               string    `json:"receiver"`
	Mint                   string    `json:"mint"`
	Amount                 string    `json:"amount"`
	BaseUnits              uint64    `json:"base_units"`
	Decimals               uint8     `json:"decimals"`
	Memo                   *string   `json:"memo,omitempty"`
	Status                 string    `json:"status"`
	Signature              *string   `json:"signature,omitempty"`
	CreationSignature      *string   `json:"creation_signature,omitempty"`
	ReceiverAccountCreated bool      `json:"receiver_account_created"`
	LastValidBlockHeight   *uint64   `json:"last_valid_block_height,omitempty"`
	Slot                   *uint64   `json:"slot,omitempty"`
	Error                  *string   `json:"error,omitempty"`
	ErrorKind              *string   `json:"error_kind,omitempty"`
	WorkflowID             string    `json:"workflow_id"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// CreateTransferRequest asks the server to send tokens. Mint and Decimals
// default to the server's configured mint.
type CreateTransferRequest struct {
	Receiver       string `json:"receiver"`
	Amount         string `json:"amount"`
	Mint           string `json:"mint,omitempty"`
	Decimals       *uint8 `json:"decimals,omitempty"`
	Memo           string `json:"memo,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ListOptions filters ListTransfers. Zero values are omitted.
type ListOptions struct {
	Sender   string
	Receiver string
	Status   string
	Limit    int
	Offset   int
}

// Balance is an owner's holding of one mint.
type Balance struct {
	Owner        string `json:"owner"`
	Mint         string `json:"mint"`
	TokenAccount string `json:"token_account"`
	Exists       bool   `json:"exists"`
	BaseUnits    uint64 `json:"base_units"`
	Decimals     uint8  `json:"decimals"`
	Amount       string `json:"amount"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the transfer service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new transfer service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateTransfer submits a transfer. A replayed idempotency key returns the
// original transfer instead of creating a new one.
func (c *Client) CreateTransfer(ctx context.Context, in CreateTransferRequest) (*Transfer, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var t Transfer
	if err := c.do(req, &t, http.StatusAccepted, http.StatusOK); err != nil {
		return nil, err
	}

	c.logger.Debug("transfer created", "transfer_id", t.ID, "status", t.Status)
	return &t, nil
}

// GetTransfer retrieves a transfer by id.
func (c *Client) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	u := fmt.Sprintf("%s/api/v1/transfers/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var t Transfer
	if err := c.do(req, &t, http.StatusOK); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransfers retrieves transfers newest first.
func (c *Client) ListTransfers(ctx context.Context, opts ListOptions) ([]*Transfer, error) {
	q := url.Values{}
	if opts.Sender != "" {
		q.Set("sender", opts.Sender)
	}
	if opts.Receiver != "" {
		q.Set("receiver", opts.Receiver)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/api/v1/transfers"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var response struct {
		Transfers []*Transfer `json:"transfers"`
	}
	if err := c.do(req, &response, http.StatusOK); err != nil {
		return nil, err
	}
	return response.Transfers, nil
}

// Await polls a transfer until it is terminal or has reached target, whichever
// comes first. An empty target waits for a terminal status. On error the last
// observed transfer, if any, is returned alongside it.
func (c *Client) Await(ctx context.Context, id, target string, interval time.Duration) (*Transfer, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	want, ok := statusRank[target]
	if target != "" && !ok {
		return nil, fmt.Errorf("cannot await status %q", target)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Transfer
	for {
		t, err := c.GetTransfer(ctx, id)
		if err != nil {
			return last, err
		}
		last = t
		if IsTerminal(t.Status) {
			return t, nil
		}
		if target != "" && statusRank[t.Status] >= want {
			return t, nil
		}

		c.logger.Debug("waiting for transfer", "transfer_id", id, "status", t.Status, "target", target)

		select {
		case <-ctx.Done():
			return t, fmt.Errorf("transfer %s still %s: %w", id, t.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Balance reports owner's balance of mint. An empty mint uses the server's default.
func (c *Client) Balance(ctx context.Context, owner, mint string) (*Balance, error) {
	u := fmt.Sprintf("%s/api/v1/balances/%s", c.baseURL, url.PathEscape(owner))
	if mint != "" {
		u += "?mint=" + url.QueryEscape(mint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var b Balance
	if err := c.do(req, &b, http.StatusOK); err != nil {
		return nil, err
	}
	return &b, nil
}

// Health returns nil when the server and its database are reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return nil
}

func (c *Client) do(req *http.Request, out interface{}, okStatuses ...int) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, s := range okStatuses {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
