package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/remit/service/db"
)

// ErrWorkflowAlreadyStarted is returned by StartTransfer when the transfer already has a workflow.
var ErrWorkflowAlreadyStarted = errors.New("transfer workflow already started")

// Client starts and inspects transfer workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// StartTransfer starts TransferWorkflow for a recorded transfer. The workflow id is
// derived from the transfer id, so a transfer can only ever be started once.
func (c *Client) StartTransfer(ctx context.Context, input TransferWorkflowInput) (string, error) {
	workflowID := db.WorkflowIDForTransfer(input.TransferID)

	c.logger.DebugContext(ctx, "starting transfer workflow",
		"transfer_id", input.TransferID,
		"workflow_id", workflowID,
		"receiver", input.Receiver,
		"amount", input.Amount,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo: map[string]interface{}{
			"transfer_id": input.TransferID,
			"created_by":  "remit",
		},
	}, TransferWorkflow, input)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return "", fmt.Errorf("%w: %s", ErrWorkflowAlreadyStarted, workflowID)
		}
		c.logger.ErrorContext(ctx, "failed to start transfer workflow",
			"transfer_id", input.TransferID,
			"workflow_id", workflowID,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", workflowID, err)
	}

	c.logger.InfoContext(ctx, "transfer workflow started",
		"transfer_id", input.TransferID,
		"workflow_id", workflowID,
		"run_id", run.GetRunID(),
	)

	return run.GetRunID(), nil
}

// TransferResult blocks until the transfer's workflow completes and returns its result.
func (c *Client) TransferResult(ctx context.Context, transferID string) (*TransferWorkflowResult, error) {
	var result TransferWorkflowResult
	run := c.client.GetWorkflow(ctx, db.WorkflowIDForTransfer(transferID), "")
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get workflow result: %w", err)
	}
	return &result, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
