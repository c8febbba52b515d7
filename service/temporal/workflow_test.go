package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/brojonat/remit/service/db"
)

func workflowInput() TransferWorkflowInput {
	return TransferWorkflowInput{
		TransferID: "t-1",
		Receiver:   testReceiver,
		Mint:       testMint,
		Amount:     "1",
		Decimals:   6,
	}
}

func newWorkflowEnv() (*testsuite.TestWorkflowEnvironment, *Activities) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register activities first (before mocking)
	activities := &Activities{}
	env.RegisterActivity(activities.SubmitTransfer)
	env.RegisterActivity(activities.AwaitFinality)
	env.RegisterActivity(activities.RecordOutcome)
	return env, activities
}

func TestTransferWorkflow(t *testing.T) {
	slot := uint64(1000)
	onChainErr := `{"InstructionError":[1,"InsufficientFunds"]}`

	tests := []struct {
		name           string
		mockActivities func(env *testsuite.TestWorkflowEnvironment, acts *Activities)
		expectedError  bool
		validateResult func(*testing.T, *TransferWorkflowResult)
	}{
		{
			name: "finalized",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).Return(&SubmitTransferResult{
					Signature:              "sig1",
					Sender:                 "sender1",
					BaseUnits:              1_000_000,
					ReceiverAccountCreated: true,
					LastValidBlockHeight:   500,
				}, nil)
				env.OnActivity(acts.AwaitFinality, mock.Anything, AwaitFinalityInput{
					TransferID:           "t-1",
					Signature:            "sig1",
					LastValidBlockHeight: 500,
				}).Return(&AwaitFinalityResult{Status: db.StatusFinalized, Slot: &slot}, nil)
				env.OnActivity(acts.RecordOutcome, mock.Anything, mock.MatchedBy(func(in RecordOutcomeInput) bool {
					return in.TransferID == "t-1" && in.Status == db.StatusFinalized && in.ErrorKind == nil
				})).Return(&RecordOutcomeResult{Status: db.StatusFinalized}, nil)
			},
			validateResult: func(t *testing.T, result *TransferWorkflowResult) {
				assert.Equal(t, "t-1", result.TransferID)
				assert.Equal(t, db.StatusFinalized, result.Status)
				assert.Equal(t, "sig1", result.Signature)
				assert.Equal(t, "sender1", result.Sender)
				assert.True(t, result.ReceiverAccountCreated)
				require.NotNil(t, result.Slot)
				assert.Equal(t, slot, *result.Slot)
				assert.Nil(t, result.Error)
			},
		},
		{
			name: "failed on chain",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
					Return(&SubmitTransferResult{Signature: "sig2", LastValidBlockHeight: 10}, nil)
				env.OnActivity(acts.AwaitFinality, mock.Anything, mock.Anything).
					Return(&AwaitFinalityResult{Status: db.StatusFailed, Slot: &slot, Error: &onChainErr}, nil)
				env.OnActivity(acts.RecordOutcome, mock.Anything, mock.MatchedBy(func(in RecordOutcomeInput) bool {
					return in.Status == db.StatusFailed && in.ErrorKind != nil && *in.ErrorKind == db.StatusFailed &&
						in.Error != nil && *in.Error == onChainErr
				})).Return(&RecordOutcomeResult{Status: db.StatusFailed}, nil)
			},
			validateResult: func(t *testing.T, result *TransferWorkflowResult) {
				assert.Equal(t, db.StatusFailed, result.Status)
				require.NotNil(t, result.Error)
				assert.Equal(t, onChainErr, *result.Error)
			},
		},
		{
			name: "blockhash expired",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
					Return(&SubmitTransferResult{Signature: "sig3", LastValidBlockHeight: 10}, nil)
				env.OnActivity(acts.AwaitFinality, mock.Anything, mock.Anything).
					Return(&AwaitFinalityResult{Status: db.StatusExpired}, nil)
				env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
					Return(&RecordOutcomeResult{Status: db.StatusExpired}, nil)
			},
			validateResult: func(t *testing.T, result *TransferWorkflowResult) {
				assert.Equal(t, db.StatusExpired, result.Status)
				require.NotNil(t, result.ErrorKind)
				assert.Equal(t, db.StatusExpired, *result.ErrorKind)
			},
		},
		{
			name: "rejected at submission completes as failed",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).Return(nil,
					temporalsdk.NewNonRetryableApplicationError("transaction rejected: insufficient funds", ErrTypeTransferFailed, nil, "rejected"))
			},
			validateResult: func(t *testing.T, result *TransferWorkflowResult) {
				assert.Equal(t, db.StatusFailed, result.Status)
				assert.Empty(t, result.Signature)
				require.NotNil(t, result.ErrorKind)
				assert.Equal(t, "rejected", *result.ErrorKind)
				require.NotNil(t, result.Error)
				assert.Contains(t, *result.Error, "insufficient funds")
			},
		},
		{
			name: "submit activity crashes",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).Return(nil, errors.New("worker lost"))
				env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
					Return(&RecordOutcomeResult{Status: db.StatusFailed}, nil)
			},
			expectedError: true,
		},
		{
			name: "record outcome fails",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
					Return(&SubmitTransferResult{Signature: "sig4"}, nil)
				env.OnActivity(acts.AwaitFinality, mock.Anything, mock.Anything).
					Return(&AwaitFinalityResult{Status: db.StatusFinalized}, nil)
				env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
					Return(nil, temporalsdk.NewNonRetryableApplicationError("db down", "DB", nil))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, acts := newWorkflowEnv()
			tt.mockActivities(env, acts)

			env.ExecuteWorkflow(TransferWorkflow, workflowInput())
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			require.NoError(t, env.GetWorkflowError())
			var result TransferWorkflowResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}

func TestTransferWorkflow_SubmitIsNeverRetried(t *testing.T) {
	env, acts := newWorkflowEnv()

	calls := 0
	env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, in SubmitTransferInput) (*SubmitTransferResult, error) {
			calls++
			return nil, errors.New("connection reset")
		})
	env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
		Return(&RecordOutcomeResult{Status: db.StatusFailed}, nil)

	env.ExecuteWorkflow(TransferWorkflow, workflowInput())

	assert.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, calls)
}

func TestTransferWorkflow_SubmitWithoutVerdictRecordsFailure(t *testing.T) {
	env, acts := newWorkflowEnv()

	env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
		Return(nil, errors.New("activity StartToClose timeout"))

	var recorded RecordOutcomeInput
	recordCalls := 0
	env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, in RecordOutcomeInput) (*RecordOutcomeResult, error) {
			recordCalls++
			recorded = in
			return &RecordOutcomeResult{Status: in.Status}, nil
		})

	env.ExecuteWorkflow(TransferWorkflow, workflowInput())

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, recordCalls)
	assert.Equal(t, "t-1", recorded.TransferID)
	assert.Equal(t, db.StatusFailed, recorded.Status)
	require.NotNil(t, recorded.ErrorKind)
	assert.Equal(t, ErrorKindSubmitUnknown, *recorded.ErrorKind)
	require.NotNil(t, recorded.Error)
	assert.Contains(t, *recorded.Error, "StartToClose timeout")
}

func TestTransferWorkflow_FinalityRetries(t *testing.T) {
	env, acts := newWorkflowEnv()

	env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
		Return(&SubmitTransferResult{Signature: "sig1", LastValidBlockHeight: 50}, nil)

	calls := 0
	env.OnActivity(acts.AwaitFinality, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, in AwaitFinalityInput) (*AwaitFinalityResult, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("rpc timeout")
			}
			return &AwaitFinalityResult{Status: db.StatusFinalized}, nil
		})
	env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
		Return(&RecordOutcomeResult{Status: db.StatusFinalized}, nil)

	env.ExecuteWorkflow(TransferWorkflow, workflowInput())

	require.NoError(t, env.GetWorkflowError())
	var result TransferWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, db.StatusFinalized, result.Status)
	assert.Equal(t, 3, calls)
}

func TestTransferWorkflow_FinalityUnknownLeavesRecordSubmitted(t *testing.T) {
	env, acts := newWorkflowEnv()

	env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
		Return(&SubmitTransferResult{Signature: "sig1", LastValidBlockHeight: 50}, nil)
	env.OnActivity(acts.AwaitFinality, mock.Anything, mock.Anything).
		Return(nil, errors.New("rpc timeout"))

	var recorded RecordOutcomeInput
	env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, in RecordOutcomeInput) (*RecordOutcomeResult, error) {
			recorded = in
			return &RecordOutcomeResult{Status: in.Status}, nil
		})

	env.ExecuteWorkflow(TransferWorkflow, workflowInput())

	require.Error(t, env.GetWorkflowError())
	assert.Equal(t, db.StatusSubmitted, recorded.Status)
	require.NotNil(t, recorded.ErrorKind)
	assert.Equal(t, ErrorKindFinalityUnknown, *recorded.ErrorKind)
}

func TestTransferWorkflow_FinalityTimeout(t *testing.T) {
	env, acts := newWorkflowEnv()

	env.OnActivity(acts.SubmitTransfer, mock.Anything, mock.Anything).
		Return(&SubmitTransferResult{Signature: "sig1"}, nil)
	env.OnActivity(acts.AwaitFinality, mock.Anything, mock.Anything).
		Return(&AwaitFinalityResult{Status: db.StatusFinalized}, nil)
	env.OnActivity(acts.RecordOutcome, mock.Anything, mock.Anything).
		Return(&RecordOutcomeResult{Status: db.StatusFinalized}, nil)

	startTime := env.Now()
	input := workflowInput()
	input.FinalityTimeout = 45 * time.Second
	env.ExecuteWorkflow(TransferWorkflow, input)

	assert.NoError(t, env.GetWorkflowError())
	assert.Less(t, env.Now().Sub(startTime), 45*time.Second)
}
