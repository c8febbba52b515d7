package solana

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/remit/service/metrics"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultCreationTimeout = 60 * time.Second
)

// Options tunes how the Client talks to the node. The zero value is usable.
type Options struct {
	// Commitment used for reads, preflight and the blockhash. Defaults to confirmed.
	Commitment rpc.CommitmentType

	// AccountCreation defaults to AccountCreationAtomic.
	AccountCreation AccountCreationMode

	// PollInterval between signature status checks. Defaults to 2s.
	PollInterval time.Duration

	// CreationTimeout bounds the wait for a separately submitted account creation
	// to confirm. Defaults to 60s.
	CreationTimeout time.Duration

	// SkipPreflight submits without node-side simulation.
	SkipPreflight bool
}

// Client provides token transfer operations against a Solana RPC node.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc      RPCClient
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, opts Options, m *metrics.Metrics, logger *slog.Logger) *Client {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.AccountCreation == "" {
		opts.AccountCreation = AccountCreationAtomic
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.CreationTimeout <= 0 {
		opts.CreationTimeout = defaultCreationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:      rpcClient,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// Options returns the effective options after defaults were applied.
func (c *Client) Options() Options {
	return c.opts
}

// observeRPC records duration and status of a single RPC call.
// rpc.ErrNotFound is an answer, not a failure.
func (c *Client) observeRPC(ctx context.Context, method string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil && !errors.Is(err, rpc.ErrNotFound) {
		status = "error"
		c.logger.WarnContext(ctx, "solana rpc call failed",
			"method", method,
			"endpoint", c.endpoint,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
	}
}
