package temporal

import (
	"errors"
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/brojonat/remit/service/db"
)

var a *Activities // for type-safe activity invocation

// DefaultFinalityTimeout bounds the AwaitFinality activity when the input does not set one.
const DefaultFinalityTimeout = 2 * time.Minute

// TransferWorkflow drives one recorded transfer to a terminal status.
//
// The workflow performs these steps:
// 1. Sign and submit the transfer (SubmitTransfer activity, never retried)
// 2. Wait for the finality commitment (AwaitFinality activity)
// 3. Persist the outcome and publish the terminal event (RecordOutcome activity)
//
// A transfer the network refused is a completed workflow with status failed;
// the workflow only errors when the outcome could not be determined or recorded.
func TransferWorkflow(ctx workflow.Context, input TransferWorkflowInput) (*TransferWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("TransferWorkflow started", "transfer_id", input.TransferID, "receiver", input.Receiver)

	startedAt := workflow.GetInfo(ctx).WorkflowStartTime
	result := &TransferWorkflowResult{
		TransferID: input.TransferID,
		Status:     db.StatusPending,
	}

	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	// Step 1: submit. A retry could pay twice, so a single attempt only.
	submitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var submitted *SubmitTransferResult
	err := workflow.ExecuteActivity(submitCtx, a.SubmitTransfer, SubmitTransferInput{
		TransferID: input.TransferID,
		Receiver:   input.Receiver,
		Mint:       input.Mint,
		Amount:     input.Amount,
		Decimals:   input.Decimals,
		Memo:       input.Memo,
	}).Get(ctx, &submitted)
	if err != nil {
		var appErr *temporalsdk.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == ErrTypeTransferFailed {
			// SubmitTransfer already recorded the failure and published it.
			var kind string
			if detailsErr := appErr.Details(&kind); detailsErr != nil {
				kind = "error"
			}
			logger.Warn("transfer was not submitted", "transfer_id", input.TransferID, "kind", kind, "error", err)
			errMsg := appErr.Error()
			result.Status = db.StatusFailed
			result.Error = &errMsg
			result.ErrorKind = &kind
			return result, nil
		}
		logger.Error("submit activity failed", "transfer_id", input.TransferID, "error", err)
		errMsg := fmt.Sprintf("submission outcome unknown: %v", err)
		kind := ErrorKindSubmitUnknown

		// The activity never reported back; a transaction may be on the wire.
		recordErr := workflow.ExecuteActivity(recordCtx, a.RecordOutcome, RecordOutcomeInput{
			TransferID: input.TransferID,
			Status:     db.StatusFailed,
			Error:      &errMsg,
			ErrorKind:  &kind,
			StartedAt:  startedAt,
		}).Get(ctx, nil)
		if recordErr != nil {
			logger.Error("failed to record outcome", "transfer_id", input.TransferID, "error", recordErr)
		}

		result.Status = db.StatusFailed
		result.Error = &errMsg
		result.ErrorKind = &kind
		return result, fmt.Errorf("failed to submit transfer: %w", err)
	}

	result.Status = db.StatusSubmitted
	result.Signature = submitted.Signature
	result.Sender = submitted.Sender
	result.ReceiverAccountCreated = submitted.ReceiverAccountCreated

	logger.Info("transfer submitted",
		"transfer_id", input.TransferID,
		"signature", submitted.Signature,
		"receiver_account_created", submitted.ReceiverAccountCreated,
	)

	// Step 2: wait for finality. Polling is read-only so retries are safe.
	finalityTimeout := input.FinalityTimeout
	if finalityTimeout <= 0 {
		finalityTimeout = DefaultFinalityTimeout
	}
	awaitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: finalityTimeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var finality *AwaitFinalityResult
	err = workflow.ExecuteActivity(awaitCtx, a.AwaitFinality, AwaitFinalityInput{
		TransferID:           input.TransferID,
		Signature:            submitted.Signature,
		LastValidBlockHeight: submitted.LastValidBlockHeight,
	}).Get(ctx, &finality)
	if err != nil {
		logger.Error("finality was not observed", "transfer_id", input.TransferID, "error", err)
		errMsg := fmt.Sprintf("finality not observed: %v", err)
		kind := ErrorKindFinalityUnknown

		// The transaction may still land; leave the record submitted with the reason.
		recordErr := workflow.ExecuteActivity(recordCtx, a.RecordOutcome, RecordOutcomeInput{
			TransferID: input.TransferID,
			Status:     db.StatusSubmitted,
			Error:      &errMsg,
			ErrorKind:  &kind,
			StartedAt:  startedAt,
		}).Get(ctx, nil)
		if recordErr != nil {
			logger.Error("failed to record outcome", "transfer_id", input.TransferID, "error", recordErr)
		}

		result.Error = &errMsg
		result.ErrorKind = &kind
		return result, fmt.Errorf("failed to await finality: %w", err)
	}

	// Step 3: record.
	outcome := RecordOutcomeInput{
		TransferID: input.TransferID,
		Status:     finality.Status,
		Slot:       finality.Slot,
		Error:      finality.Error,
		StartedAt:  startedAt,
	}
	if finality.Status == db.StatusFailed || finality.Status == db.StatusExpired {
		kind := finality.Status
		outcome.ErrorKind = &kind
	}

	var recorded *RecordOutcomeResult
	err = workflow.ExecuteActivity(recordCtx, a.RecordOutcome, outcome).Get(ctx, &recorded)
	if err != nil {
		logger.Error("failed to record outcome", "transfer_id", input.TransferID, "error", err)
		return result, fmt.Errorf("failed to record outcome: %w", err)
	}

	result.Status = recorded.Status
	result.Slot = finality.Slot
	result.Error = finality.Error
	result.ErrorKind = outcome.ErrorKind

	logger.Info("TransferWorkflow completed",
		"transfer_id", input.TransferID,
		"status", result.Status,
		"signature", result.Signature,
	)

	return result, nil
}
