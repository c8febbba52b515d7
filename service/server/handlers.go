package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"

	"github.com/brojonat/remit/service/config"
	"github.com/brojonat/remit/service/db"
	"github.com/brojonat/remit/service/solana"
	"github.com/brojonat/remit/service/temporal"
)

const (
	maxRequestBodySize   = 1 << 20 // 1MB - plenty for a transfer request
	maxAddressLength     = 100     // Solana addresses are 44 chars, give buffer
	maxIdempotencyKeyLen = 255
	defaultListLimit     = 50
	maxListLimit         = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	validStatuses = map[string]bool{
		db.StatusPending:   true,
		db.StatusSubmitted: true,
		db.StatusProcessed: true,
		db.StatusConfirmed: true,
		db.StatusFinalized: true,
		db.StatusFailed:    true,
		db.StatusExpired:   true,
	}
)

type createTransferRequest struct {
	Receiver       string      `json:"receiver"`
	Amount         json.Number `json:"amount"`
	Mint           string      `json:"mint,omitempty"`
	Decimals       *uint8      `json:"decimals,omitempty"`
	Memo           string      `json:"memo,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

// validatedTransfer is a create request that passed every local check.
type validatedTransfer struct {
	Receiver  string
	Mint      string
	Amount    string
	BaseUnits uint64
	Decimals  uint8
	Memo      string
}

// handleCreateTransfer returns a handler that records a transfer and starts its workflow.
// POST /api/v1/transfers
func handleCreateTransfer(store TransferStore, starter TransferStarter, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.DebugContext(ctx, "failed to decode transfer request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}
		if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
			writeError(w, fmt.Sprintf("idempotency_key too long: maximum length is %d characters", maxIdempotencyKeyLen), http.StatusBadRequest)
			return
		}

		transfer, err := validateTransferRequest(req, cfg)
		if err != nil {
			logger.DebugContext(ctx, "invalid transfer request", "receiver", req.Receiver, "error", err)
			writeError(w, err.Error(), statusForError(err))
			return
		}

		var idempotencyKey *string
		if req.IdempotencyKey != "" {
			idempotencyKey = &req.IdempotencyKey

			existing, err := store.GetTransferByIdempotencyKey(ctx, req.IdempotencyKey)
			if err == nil {
				logger.InfoContext(ctx, "idempotent transfer replay", "transfer_id", existing.ID, "idempotency_key", req.IdempotencyKey)
				writeJSON(w, transferToResponse(existing), http.StatusOK)
				return
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				logger.ErrorContext(ctx, "failed to look up idempotency key", "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		var memo *string
		if transfer.Memo != "" {
			memo = &transfer.Memo
		}

		record, err := store.CreateTransfer(ctx, db.CreateTransferParams{
			IdempotencyKey: idempotencyKey,
			Receiver:       transfer.Receiver,
			Mint:           transfer.Mint,
			Amount:         transfer.Amount,
			BaseUnits:      transfer.BaseUnits,
			Decimals:       transfer.Decimals,
			Memo:           memo,
		})
		if errors.Is(err, db.ErrDuplicateIdempotencyKey) {
			// Lost a race with a concurrent request using the same key.
			existing, getErr := store.GetTransferByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				logger.ErrorContext(ctx, "failed to load transfer for duplicate key", "error", getErr)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, transferToResponse(existing), http.StatusOK)
			return
		}
		if err != nil {
			logger.ErrorContext(ctx, "failed to record transfer", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		_, err = starter.StartTransfer(ctx, temporal.TransferWorkflowInput{
			TransferID:      record.ID,
			Receiver:        record.Receiver,
			Mint:            record.Mint,
			Amount:          record.Amount,
			Decimals:        record.Decimals,
			Memo:            transfer.Memo,
			FinalityTimeout: cfg.FinalityTimeout,
		})
		if err != nil && !errors.Is(err, temporal.ErrWorkflowAlreadyStarted) {
			logger.ErrorContext(ctx, "failed to start transfer workflow", "transfer_id", record.ID, "error", err)

			errMsg := fmt.Sprintf("failed to start transfer workflow: %v", err)
			kind := "workflow_start_failed"
			if _, updateErr := store.UpdateTransferStatus(ctx, db.UpdateTransferStatusParams{
				ID:        record.ID,
				Status:    db.StatusFailed,
				Error:     &errMsg,
				ErrorKind: &kind,
			}); updateErr != nil {
				logger.ErrorContext(ctx, "failed to mark transfer failed", "transfer_id", record.ID, "error", updateErr)
			}

			writeError(w, "transfer could not be scheduled, try again later", http.StatusServiceUnavailable)
			return
		}

		logger.InfoContext(ctx, "transfer accepted",
			"transfer_id", record.ID,
			"receiver", record.Receiver,
			"mint", record.Mint,
			"amount", record.Amount,
			"base_units", record.BaseUnits,
		)

		writeJSON(w, transferToResponse(record), http.StatusAccepted)
	})
}

// handleGetTransfer returns a handler that retrieves one transfer.
// GET /api/v1/transfers/{id}
func handleGetTransfer(store TransferStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, "transfer id is required", http.StatusBadRequest)
			return
		}

		transfer, err := store.GetTransfer(r.Context(), id)
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, "transfer not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get transfer", "transfer_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, transferToResponse(transfer), http.StatusOK)
	})
}

// handleListTransfers returns a handler that lists transfers newest first.
// GET /api/v1/transfers?sender=&receiver=&status=&limit=N&offset=N
func handleListTransfers(store TransferStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := db.ListTransfersParams{
			Sender:   query.Get("sender"),
			Receiver: query.Get("receiver"),
			Status:   query.Get("status"),
			Limit:    defaultListLimit,
		}

		if params.Sender != "" {
			if err := validateAddress(params.Sender); err != nil {
				writeError(w, "sender: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if params.Receiver != "" {
			if err := validateAddress(params.Receiver); err != nil {
				writeError(w, "receiver: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if params.Status != "" && !validStatuses[params.Status] {
			writeError(w, fmt.Sprintf("invalid status %q", params.Status), http.StatusBadRequest)
			return
		}

		if limitStr := query.Get("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if limit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if limit > maxListLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
				return
			}
			params.Limit = int32(limit)
		}

		if offsetStr := query.Get("offset"); offsetStr != "" {
			offset, err := strconv.Atoi(offsetStr)
			if err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if offset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			params.Offset = int32(offset)
		}

		transfers, err := store.ListTransfers(r.Context(), params)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list transfers", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "transfers listed", "count", len(transfers))

		resp := make([]transferResponse, len(transfers))
		for i := range transfers {
			resp[i] = transferToResponse(transfers[i])
		}

		writeJSON(w, map[string]interface{}{
			"transfers": resp,
			"count":     len(resp),
			"limit":     params.Limit,
			"offset":    params.Offset,
		}, http.StatusOK)
	})
}

// handleGetBalance returns a handler that reports an owner's token balance.
// GET /api/v1/balances/{owner}?mint=
func handleGetBalance(balances BalanceReader, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("owner")
		if err := validateAddress(owner); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		mint := r.URL.Query().Get("mint")
		if mint == "" {
			mint = cfg.TokenMintAddress
		}

		balance, err := balances.TokenBalance(r.Context(), owner, mint)
		if err != nil {
			logger.WarnContext(r.Context(), "failed to read balance", "owner", owner, "mint", mint, "error", err)
			writeError(w, err.Error(), statusForError(err))
			return
		}

		writeJSON(w, balanceResponse{
			Owner:        balance.Owner.String(),
			Mint:         balance.Mint.String(),
			TokenAccount: balance.TokenAccount.String(),
			Exists:       balance.Exists,
			BaseUnits:    balance.BaseUnits,
			Decimals:     balance.Decimals,
			Amount:       balance.Amount(),
		}, http.StatusOK)
	})
}

// handleHealth reports whether the ledger database is reachable.
func handleHealth(store TransferStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.WarnContext(r.Context(), "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// validateTransferRequest applies every check that does not need the network.
func validateTransferRequest(req createTransferRequest, cfg *config.Config) (*validatedTransfer, error) {
	if err := validateAddress(req.Receiver); err != nil {
		return nil, fmt.Errorf("%w: receiver: %v", solana.ErrInvalidAddress, err)
	}
	if _, err := solana.ParseAddress(req.Receiver); err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}

	mint := cfg.TokenMintAddress
	decimals := cfg.TokenDecimals
	if req.Mint != "" && req.Mint != cfg.TokenMintAddress {
		if _, err := solana.ParseAddress(req.Mint); err != nil {
			return nil, fmt.Errorf("mint: %w", err)
		}
		if req.Decimals == nil {
			return nil, errorf("decimals is required when mint is not %s", cfg.TokenMintAddress)
		}
		mint = req.Mint
		decimals = *req.Decimals
	} else if req.Decimals != nil && *req.Decimals != cfg.TokenDecimals {
		return nil, errorf("decimals %d does not match %s, which has %d", *req.Decimals, cfg.TokenMintAddress, cfg.TokenDecimals)
	}

	if req.Amount == "" {
		return nil, errorf("amount is required")
	}
	amount, err := solana.ParseAmount(req.Amount.String())
	if err != nil {
		return nil, err
	}
	baseUnits, err := solana.ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	if baseUnits == 0 {
		return nil, fmt.Errorf("%w: %s is less than one base unit", solana.ErrInvalidAmount, req.Amount)
	}

	if err := solana.ValidateMemo(req.Memo); err != nil {
		return nil, err
	}

	return &validatedTransfer{
		Receiver:  req.Receiver,
		Mint:      mint,
		Amount:    amount.String(),
		BaseUnits: baseUnits,
		Decimals:  decimals,
		Memo:      req.Memo,
	}, nil
}

// statusForError maps the transfer error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	var vErr *validationError
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, solana.ErrInvalidAmount),
		errors.Is(err, solana.ErrInvalidAddress),
		errors.Is(err, solana.ErrInvalidKey),
		errors.Is(err, solana.ErrInvalidMemo):
		return http.StatusBadRequest
	case errors.Is(err, solana.ErrTransactionRejected),
		errors.Is(err, solana.ErrReceiverAccountCreationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, solana.ErrNetworkUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pgx.ErrNoRows):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// transferResponse is the JSON response format for a transfer.
type transferResponse struct {
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

// transferToResponse converts a domain Transfer to a response format.
func transferToResponse(t *db.Transfer) transferResponse {
	return transferResponse{
		ID:                     t.ID,
		IdempotencyKey:         t.IdempotencyKey,
		Sender:                 t.Sender,
		Receiver:               t.Receiver,
		Mint:                   t.Mint,
		Amount:                 t.Amount,
		BaseUnits:              t.BaseUnits,
		Decimals:               t.Decimals,
		Memo:                   t.Memo,
		Status:                 t.Status,
		Signature:              t.Signature,
		CreationSignature:      t.CreationSignature,
		ReceiverAccountCreated: t.ReceiverAccountCreated,
		LastValidBlockHeight:   t.LastValidBlockHeight,
		Slot:                   t.Slot,
		Error:                  t.Error,
		ErrorKind:              t.ErrorKind,
		WorkflowID:             t.WorkflowID,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
	}
}

type balanceResponse struct {
	Owner        string `json:"owner"`
	Mint         string `json:"mint"`
	TokenAccount string `json:"token_account"`
	Exists       bool   `json:"exists"`
	BaseUnits    uint64 `json:"base_units"`
	Decimals     uint8  `json:"decimals"`
	Amount       string `json:"amount"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
