package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.temporal.io/sdk/activity"
	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/remit/service/db"
	"github.com/brojonat/remit/service/metrics"
	natspkg "github.com/brojonat/remit/service/nats"
	"github.com/brojonat/remit/service/solana"
)

const (
	// ErrTypeTransferFailed marks a SubmitTransfer error for a transfer the
	// orchestrator refused or the network rejected. Its detail is the error kind.
	ErrTypeTransferFailed = "TransferFailed"

	// ErrorKindFinalityUnknown is stored when the transfer was submitted but no
	// outcome was observed before the finality timeout.
	ErrorKindFinalityUnknown = "finality_unknown"

	// ErrorKindSubmitUnknown is stored when SubmitTransfer ended without a
	// verdict, so a transaction may or may not be on the wire.
	ErrorKindSubmitUnknown = "submit_unknown"

	// ErrorKindNotPending refuses a record another path already moved on.
	ErrorKindNotPending = "not_pending"

	// ErrorKindLedgerUnavailable is used when the record could not be loaded.
	ErrorKindLedgerUnavailable = "ledger_unavailable"

	heartbeatInterval = 10 * time.Second
)

// TransferWorkflowInput contains the input parameters for TransferWorkflow.
type TransferWorkflowInput struct {
	TransferID      string        `json:"transfer_id"`
	Receiver        string        `json:"receiver"`
	Mint            string        `json:"mint"`
	Amount          string        `json:"amount"` // display amount, e.g. "1.5"
	Decimals        uint8         `json:"decimals"`
	Memo            string        `json:"memo,omitempty"`
	FinalityTimeout time.Duration `json:"finality_timeout,omitempty"`
}

// TransferWorkflowResult contains the result of TransferWorkflow.
type TransferWorkflowResult struct {
	TransferID             string  `json:"transfer_id"`
	Status                 string  `json:"status"`
	Signature              string  `json:"signature,omitempty"`
	Sender                 string  `json:"sender,omitempty"`
	ReceiverAccountCreated bool    `json:"receiver_account_created"`
	Slot                   *uint64 `json:"slot,omitempty"`
	Error                  *string `json:"error,omitempty"`
	ErrorKind              *string `json:"error_kind,omitempty"`
}

// SubmitTransferInput contains parameters for the SubmitTransfer activity.
type SubmitTransferInput struct {
	TransferID string `json:"transfer_id"`
	Receiver   string `json:"receiver"`
	Mint       string `json:"mint"`
	Amount     string `json:"amount"`
	Decimals   uint8  `json:"decimals"`
	Memo       string `json:"memo,omitempty"`
}

// SubmitTransferResult contains the result of the SubmitTransfer activity.
type SubmitTransferResult struct {
	Signature              string  `json:"signature"`
	Sender                 string  `json:"sender"`
	BaseUnits              uint64  `json:"base_units"`
	ReceiverAccountCreated bool    `json:"receiver_account_created"`
	CreationSignature      *string `json:"creation_signature,omitempty"`
	LastValidBlockHeight   uint64  `json:"last_valid_block_height"`
}

// AwaitFinalityInput contains parameters for the AwaitFinality activity.
type AwaitFinalityInput struct {
	TransferID           string `json:"transfer_id"`
	Signature            string `json:"signature"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// AwaitFinalityResult contains the result of the AwaitFinality activity.
type AwaitFinalityResult struct {
	Status string  `json:"status"`
	Slot   *uint64 `json:"slot,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// RecordOutcomeInput contains parameters for the RecordOutcome activity.
type RecordOutcomeInput struct {
	TransferID string    `json:"transfer_id"`
	Status     string    `json:"status"`
	Slot       *uint64   `json:"slot,omitempty"`
	Error      *string   `json:"error,omitempty"`
	ErrorKind  *string   `json:"error_kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// RecordOutcomeResult contains the result of the RecordOutcome activity.
type RecordOutcomeResult struct {
	Status string `json:"status"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	GetTransfer(context.Context, string) (*db.Transfer, error)
	MarkTransferSubmitted(context.Context, db.MarkTransferSubmittedParams) (*db.Transfer, error)
	UpdateTransferStatus(context.Context, db.UpdateTransferStatusParams) (*db.Transfer, error)
}

// SolanaClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type SolanaClientInterface interface {
	Transfer(ctx context.Context, params solana.TransferParams) (*solana.TransferResult, error)
	AwaitFinality(ctx context.Context, params solana.AwaitFinalityParams) (*solana.FinalityResult, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishTransfer(ctx context.Context, event *natspkg.TransferEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store          StoreInterface
	solanaClient   SolanaClientInterface
	publisher      PublisherInterface
	signer         solanago.PrivateKey
	finalityTarget rpc.ConfirmationStatusType
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. publisher may be nil.
func NewActivities(
	store StoreInterface,
	solanaClient SolanaClientInterface,
	publisher PublisherInterface,
	signer solanago.PrivateKey,
	finalityTarget rpc.ConfirmationStatusType,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if finalityTarget == "" {
		finalityTarget = rpc.ConfirmationStatusFinalized
	}
	return &Activities{
		store:          store,
		solanaClient:   solanaClient,
		publisher:      publisher,
		signer:         signer,
		finalityTarget: finalityTarget,
		metrics:        m,
		logger:         logger,
	}
}

// SubmitTransfer signs and submits the transfer, then marks the record submitted.
// A transfer the orchestrator refuses is recorded as failed and returned as a
// non-retryable ErrTypeTransferFailed error carrying the error kind.
func (a *Activities) SubmitTransfer(ctx context.Context, input SubmitTransferInput) (result *SubmitTransferResult, err error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("SubmitTransfer", time.Since(start).Seconds(), err)
		}
	}()

	a.logger.DebugContext(ctx, "submitting transfer",
		"transfer_id", input.TransferID,
		"receiver", input.Receiver,
		"mint", input.Mint,
		"amount", input.Amount,
	)

	// Only a pending record may pay out. Anything else was already decided
	// elsewhere, e.g. marked failed when the workflow start looked unsuccessful.
	record, err := a.store.GetTransfer(ctx, input.TransferID)
	if err != nil {
		return nil, a.failSubmission(ctx, input.TransferID, ErrorKindLedgerUnavailable,
			fmt.Errorf("failed to load transfer: %w", err))
	}
	if record.Status != db.StatusPending {
		a.logger.WarnContext(ctx, "refusing to submit transfer that is not pending",
			"transfer_id", input.TransferID,
			"status", record.Status,
		)
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("transfer %s is %s, not pending", input.TransferID, record.Status),
			ErrTypeTransferFailed, nil, ErrorKindNotPending)
	}

	amount, err := solana.ParseAmount(input.Amount)
	if err != nil {
		return nil, a.failSubmission(ctx, input.TransferID, solana.TransferOutcome(err), err)
	}

	transfer, err := a.solanaClient.Transfer(ctx, solana.TransferParams{
		Sender:   a.signer,
		Receiver: input.Receiver,
		Mint:     input.Mint,
		Amount:   amount,
		Decimals: input.Decimals,
		Memo:     input.Memo,
	})
	if err != nil {
		return nil, a.failSubmission(ctx, input.TransferID, solana.TransferOutcome(err), err)
	}

	result = &SubmitTransferResult{
		Signature:              transfer.Signature.String(),
		Sender:                 transfer.Sender.String(),
		BaseUnits:              transfer.BaseUnits,
		ReceiverAccountCreated: transfer.ReceiverAccountCreated,
		LastValidBlockHeight:   transfer.LastValidBlockHeight,
	}
	if transfer.CreationSignature != nil {
		sig := transfer.CreationSignature.String()
		result.CreationSignature = &sig
	}

	a.logger.InfoContext(ctx, "transfer submitted",
		"transfer_id", input.TransferID,
		"signature", result.Signature,
		"base_units", result.BaseUnits,
		"receiver_account_created", result.ReceiverAccountCreated,
	)

	// The transaction is already in flight, so a bookkeeping failure must not fail the activity.
	record, markErr := a.store.MarkTransferSubmitted(ctx, db.MarkTransferSubmittedParams{
		ID:                     input.TransferID,
		Sender:                 result.Sender,
		Signature:              result.Signature,
		CreationSignature:      result.CreationSignature,
		ReceiverAccountCreated: result.ReceiverAccountCreated,
		LastValidBlockHeight:   result.LastValidBlockHeight,
	})
	if markErr != nil {
		a.logger.ErrorContext(ctx, "failed to mark transfer submitted",
			"transfer_id", input.TransferID,
			"signature", result.Signature,
			"error", markErr,
		)
		return result, nil
	}

	a.publish(ctx, record, natspkg.EventSubmitted)
	return result, nil
}

// failSubmission records a refused transfer and builds the workflow-facing error.
func (a *Activities) failSubmission(ctx context.Context, transferID, kind string, cause error) error {
	errMsg := cause.Error()

	a.logger.WarnContext(ctx, "transfer not submitted",
		"transfer_id", transferID,
		"kind", kind,
		"error", cause,
	)

	record, err := a.store.UpdateTransferStatus(ctx, db.UpdateTransferStatusParams{
		ID:        transferID,
		Status:    db.StatusFailed,
		Error:     &errMsg,
		ErrorKind: &kind,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record transfer failure",
			"transfer_id", transferID,
			"error", err,
		)
	} else {
		a.publish(ctx, record, natspkg.EventFailed)
	}

	return temporalsdk.NewNonRetryableApplicationError(errMsg, ErrTypeTransferFailed, nil, kind)
}

// AwaitFinality waits for the submitted signature to reach the configured
// commitment, fail on chain, or expire. It heartbeats while waiting.
func (a *Activities) AwaitFinality(ctx context.Context, input AwaitFinalityInput) (result *AwaitFinalityResult, err error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("AwaitFinality", time.Since(start).Seconds(), err)
		}
	}()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid signature %q", input.Signature), "InvalidSignature", err)
	}

	a.logger.DebugContext(ctx, "awaiting finality",
		"transfer_id", input.TransferID,
		"signature", input.Signature,
		"target", a.finalityTarget,
	)

	heartbeatCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, input.Signature)
			}
		}
	}()

	finality, err := a.solanaClient.AwaitFinality(ctx, solana.AwaitFinalityParams{
		Signature:            sig,
		LastValidBlockHeight: input.LastValidBlockHeight,
		Target:               a.finalityTarget,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to await finality",
			"transfer_id", input.TransferID,
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to await finality: %w", err)
	}

	result = &AwaitFinalityResult{
		Status: string(finality.Status),
		Error:  finality.Err,
	}
	if finality.Slot > 0 {
		slot := finality.Slot
		result.Slot = &slot
	}

	a.logger.InfoContext(ctx, "finality reached",
		"transfer_id", input.TransferID,
		"signature", input.Signature,
		"status", result.Status,
	)

	return result, nil
}

// RecordOutcome persists the observed status and publishes an event for outcomes.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordOutcomeInput) (result *RecordOutcomeResult, err error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("RecordOutcome", time.Since(start).Seconds(), err)
		}
	}()

	record, err := a.store.UpdateTransferStatus(ctx, db.UpdateTransferStatusParams{
		ID:        input.TransferID,
		Status:    input.Status,
		Slot:      input.Slot,
		Error:     input.Error,
		ErrorKind: input.ErrorKind,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to update transfer status",
			"transfer_id", input.TransferID,
			"status", input.Status,
			"error", err,
		)
		return nil, fmt.Errorf("failed to update transfer status: %w", err)
	}

	if record.Status != db.StatusSubmitted {
		a.publish(ctx, record, natspkg.EventTypeForStatus(record.Status))
	}

	if a.metrics != nil && !input.StartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(record.Status, time.Since(input.StartedAt).Seconds())
	}

	a.logger.InfoContext(ctx, "recorded transfer outcome",
		"transfer_id", input.TransferID,
		"status", record.Status,
	)

	return &RecordOutcomeResult{Status: record.Status}, nil
}

// publish sends a lifecycle event. Failures are logged and never fail an activity.
func (a *Activities) publish(ctx context.Context, record *db.Transfer, eventType string) {
	if a.publisher == nil || record == nil {
		return
	}

	event := natspkg.FromDBTransfer(record, eventType)
	if event.Sender == "" && len(a.signer) > 0 {
		event.Sender = a.signer.PublicKey().String()
	}

	if err := a.publisher.PublishTransfer(ctx, event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transfer event",
			"transfer_id", record.ID,
			"type", eventType,
			"error", err,
		)
	}
}
