package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// AwaitFinality polls the signature status until it reaches params.Target, fails
// on chain, or its blockhash expires without it landing. RPC errors while polling
// are logged and polling continues; the wait ends early only when ctx is done.
func (c *Client) AwaitFinality(ctx context.Context, params AwaitFinalityParams) (*FinalityResult, error) {
	start := time.Now()
	result, err := c.awaitFinality(ctx, params)
	if err == nil && c.metrics != nil {
		c.metrics.RecordFinality(string(result.Status), time.Since(start).Seconds())
	}
	return result, err
}

func (c *Client) awaitFinality(ctx context.Context, params AwaitFinalityParams) (*FinalityResult, error) {
	target := params.Target
	if target == "" {
		target = rpc.ConfirmationStatusFinalized
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = c.opts.PollInterval
	}

	result := &FinalityResult{
		Signature: params.Signature,
		Status:    FinalityPending,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := c.pollFinality(ctx, params, target, result)
		if err != nil {
			c.logger.WarnContext(ctx, "finality poll failed, will retry",
				"signature", params.Signature.String(),
				"error", err,
			)
		}
		if done {
			c.logger.InfoContext(ctx, "transaction reached terminal status",
				"signature", params.Signature.String(),
				"status", string(result.Status),
				"slot", result.Slot,
			)
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("stopped waiting for %s at status %s: %w", params.Signature, result.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

// pollFinality performs one status check and updates result in place.
// It reports true once the wait is over.
func (c *Client) pollFinality(ctx context.Context, params AwaitFinalityParams, target rpc.ConfirmationStatusType, result *FinalityResult) (bool, error) {
	status, err := c.signatureStatus(ctx, params.Signature, false)
	if err != nil {
		return false, err
	}

	if status == nil {
		if params.LastValidBlockHeight == 0 {
			return false, nil
		}
		expired, err := c.blockhashExpired(ctx, params.LastValidBlockHeight)
		if err != nil || !expired {
			return false, err
		}
		// The transaction may have landed between the two calls.
		status, err = c.signatureStatus(ctx, params.Signature, true)
		if err != nil {
			return false, err
		}
		if status == nil {
			result.Status = FinalityExpired
			return true, nil
		}
	}

	result.Slot = status.Slot
	if status.Err != nil {
		msg := fmt.Sprintf("transaction failed: %v", status.Err)
		result.Status = FinalityFailed
		result.Err = &msg
		return true, nil
	}

	result.Status = finalityFromConfirmation(status.ConfirmationStatus)
	return confirmationRank(status.ConfirmationStatus) >= confirmationRank(target), nil
}

// SignatureStatus reports the current status of sig without waiting.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*FinalityResult, error) {
	status, err := c.signatureStatus(ctx, sig, true)
	if err != nil {
		return nil, err
	}
	result := &FinalityResult{Signature: sig, Status: FinalityPending}
	if status == nil {
		return result, nil
	}
	result.Slot = status.Slot
	if status.Err != nil {
		msg := fmt.Sprintf("transaction failed: %v", status.Err)
		result.Status = FinalityFailed
		result.Err = &msg
		return result, nil
	}
	result.Status = finalityFromConfirmation(status.ConfirmationStatus)
	return result, nil
}

func (c *Client) signatureStatus(ctx context.Context, sig solana.Signature, searchHistory bool) (*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, searchHistory, sig)
	c.observeRPC(ctx, "GetSignatureStatuses", start, err)
	if err != nil {
		return nil, networkError("get signature statuses", err)
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

func (c *Client) blockhashExpired(ctx context.Context, lastValidBlockHeight uint64) (bool, error) {
	start := time.Now()
	height, err := c.rpc.GetBlockHeight(ctx, c.opts.Commitment)
	c.observeRPC(ctx, "GetBlockHeight", start, err)
	if err != nil {
		return false, networkError("get block height", err)
	}
	return height > lastValidBlockHeight, nil
}

func confirmationRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func finalityFromConfirmation(s rpc.ConfirmationStatusType) FinalityStatus {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return FinalityProcessed
	case rpc.ConfirmationStatusConfirmed:
		return FinalityConfirmed
	case rpc.ConfirmationStatusFinalized:
		return FinalityFinalized
	default:
		return FinalityPending
	}
}

// confirmationFor maps a read commitment to the status that satisfies it.
func confirmationFor(commitment rpc.CommitmentType) rpc.ConfirmationStatusType {
	switch commitment {
	case rpc.CommitmentProcessed:
		return rpc.ConfirmationStatusProcessed
	case rpc.CommitmentFinalized:
		return rpc.ConfirmationStatusFinalized
	default:
		return rpc.ConfirmationStatusConfirmed
	}
}

// ParseConfirmationStatus validates a commitment name from configuration or flags.
func ParseConfirmationStatus(s string) (rpc.ConfirmationStatusType, error) {
	status := rpc.ConfirmationStatusType(s)
	if confirmationRank(status) == 0 {
		return "", fmt.Errorf("unknown commitment %q (expected processed, confirmed or finalized)", s)
	}
	return status, nil
}
