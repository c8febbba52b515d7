package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/remit/service/metrics"
)

//go:embed schema.sql
var schemaSQL string

const transfersTable = "transfers"

// Transfer statuses. A record starts pending, becomes submitted once the node
// accepts the transaction, and ends in one of the terminal statuses.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusProcessed = "processed"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// IsTerminalStatus reports whether status is final for a transfer record.
func IsTerminalStatus(status string) bool {
	return status == StatusFinalized || status == StatusFailed || status == StatusExpired
}

// ErrDuplicateIdempotencyKey is returned by CreateTransfer when the key was already used.
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Transfer is a requested token transfer and everything learned about it since.
type Transfer struct {
	ID                     string
	IdempotencyKey         *string
	Sender                 *string // set once the transfer is submitted
	Receiver               string
	Mint                   string
	Amount                 string // display amount as requested
	BaseUnits              uint64
	Decimals               uint8
	Memo                   *string
	Status                 string
	Signature              *string
	CreationSignature      *string
	ReceiverAccountCreated bool
	LastValidBlockHeight   *uint64
	Slot                   *uint64
	Error                  *string
	ErrorKind              *string
	WorkflowID             string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// CreateTransferParams contains the parameters for recording a new transfer.
type CreateTransferParams struct {
	ID             string // generated when empty
	IdempotencyKey *string
	Receiver       string
	Mint           string
	Amount         string
	BaseUnits      uint64
	Decimals       uint8
	Memo           *string
}

// ListTransfersParams filters and paginates ListTransfers. Empty strings match everything.
type ListTransfersParams struct {
	Sender   string
	Receiver string
	Status   string
	Limit    int32
	Offset   int32
}

// MarkTransferSubmittedParams records node acceptance of a transfer.
type MarkTransferSubmittedParams struct {
	ID                     string
	Sender                 string
	Signature              string
	CreationSignature      *string
	ReceiverAccountCreated bool
	LastValidBlockHeight   uint64
}

// UpdateTransferStatusParams moves a transfer to a new status.
type UpdateTransferStatusParams struct {
	ID        string
	Status    string
	Slot      *uint64
	Error     *string
	ErrorKind *string
}

// WorkflowIDForTransfer returns the workflow id that drives the transfer with id.
func WorkflowIDForTransfer(id string) string {
	return "transfer-" + id
}

const transferColumns = `id, idempotency_key, sender, receiver, mint, amount, base_units::text, decimals,
	memo, status, signature, creation_signature, receiver_account_created,
	last_valid_block_height, slot, error, error_kind, workflow_id, created_at, updated_at`

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schemaSQL)
	s.observe("migrate", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateTransfer records a pending transfer.
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	query := `INSERT INTO transfers (id, idempotency_key, receiver, mint, amount, base_units, decimals, memo, status, workflow_id)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
		RETURNING ` + transferColumns

	start := time.Now()
	row := s.pool.QueryRow(ctx, query,
		id,
		pgtextFromStringPtr(params.IdempotencyKey),
		params.Receiver,
		params.Mint,
		params.Amount,
		strconv.FormatUint(params.BaseUnits, 10),
		int16(params.Decimals),
		pgtextFromStringPtr(params.Memo),
		StatusPending,
		WorkflowIDForTransfer(id),
	)
	transfer, err := scanTransfer(row)
	s.observe("create_transfer", start, err)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_transfers_idempotency_key" {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, *params.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// GetTransfer retrieves a transfer by id. Returns pgx.ErrNoRows when absent.
func (s *Store) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	transfer, err := scanTransfer(row)
	s.observe("get_transfer", start, err)
	return transfer, err
}

// GetTransferByIdempotencyKey retrieves the transfer created with key.
func (s *Store) GetTransferByIdempotencyKey(ctx context.Context, key string) (*Transfer, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1`, key)
	transfer, err := scanTransfer(row)
	s.observe("get_transfer_by_idempotency_key", start, err)
	return transfer, err
}

// ListTransfers returns transfers newest first.
func (s *Store) ListTransfers(ctx context.Context, params ListTransfersParams) ([]*Transfer, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE ($1 = '' OR sender = $1)
		  AND ($2 = '' OR receiver = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, params.Sender, params.Receiver, params.Status, limit, params.Offset)
	if err != nil {
		s.observe("list_transfers", start, err)
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			s.observe("list_transfers", start, err)
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	err = rows.Err()
	s.observe("list_transfers", start, err)
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// MarkTransferSubmitted stores the signature of an accepted transfer. Only a
// pending record is updated; otherwise pgx.ErrNoRows is returned.
func (s *Store) MarkTransferSubmitted(ctx context.Context, params MarkTransferSubmittedParams) (*Transfer, error) {
	query := `UPDATE transfers SET
			status = $2,
			sender = $3,
			signature = $4,
			creation_signature = $5,
			receiver_account_created = $6,
			last_valid_block_height = $7,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + transferColumns

	start := time.Now()
	row := s.pool.QueryRow(ctx, query,
		params.ID,
		StatusSubmitted,
		params.Sender,
		params.Signature,
		pgtextFromStringPtr(params.CreationSignature),
		params.ReceiverAccountCreated,
		int64(params.LastValidBlockHeight),
	)
	transfer, err := scanTransfer(row)
	s.observe("mark_transfer_submitted", start, err)
	return transfer, err
}

// UpdateTransferStatus sets the status, and the slot and error when known.
// A terminal status is never overwritten.
func (s *Store) UpdateTransferStatus(ctx context.Context, params UpdateTransferStatusParams) (*Transfer, error) {
	query := `UPDATE transfers SET
			status = $2,
			slot = COALESCE($3, slot),
			error = COALESCE($4, error),
			error_kind = COALESCE($5, error_kind),
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('finalized', 'failed', 'expired')
		RETURNING ` + transferColumns

	start := time.Now()
	row := s.pool.QueryRow(ctx, query,
		params.ID,
		params.Status,
		pgint8FromUint64Ptr(params.Slot),
		pgtextFromStringPtr(params.Error),
		pgtextFromStringPtr(params.ErrorKind),
	)
	transfer, err := scanTransfer(row)
	s.observe("update_transfer_status", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the id is unknown or the record is already terminal.
		return s.GetTransfer(ctx, params.ID)
	}
	return transfer, err
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, transfersTable, time.Since(start).Seconds(), err)
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var (
		t                            Transfer
		idempotencyKey, sender, memo pgtype.Text
		signature, creationSignature pgtype.Text
		errText, errKind             pgtype.Text
		baseUnits                    string
		decimals                     int16
		lastValidBlockHeight, slot   pgtype.Int8
		createdAt, updatedAt         pgtype.Timestamptz
	)

	err := row.Scan(
		&t.ID,
		&idempotencyKey,
		&sender,
		&t.Receiver,
		&t.Mint,
		&t.Amount,
		&baseUnits,
		&decimals,
		&memo,
		&t.Status,
		&signature,
		&creationSignature,
		&t.ReceiverAccountCreated,
		&lastValidBlockHeight,
		&slot,
		&errText,
		&errKind,
		&t.WorkflowID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	units, err := strconv.ParseUint(baseUnits, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base_units %q: %w", baseUnits, err)
	}

	t.IdempotencyKey = stringPtrFromPgtext(idempotencyKey)
	t.Sender = stringPtrFromPgtext(sender)
	t.BaseUnits = units
	t.Decimals = uint8(decimals)
	t.Memo = stringPtrFromPgtext(memo)
	t.Signature = stringPtrFromPgtext(signature)
	t.CreationSignature = stringPtrFromPgtext(creationSignature)
	t.LastValidBlockHeight = uint64PtrFromPgint8(lastValidBlockHeight)
	t.Slot = uint64PtrFromPgint8(slot)
	t.Error = stringPtrFromPgtext(errText)
	t.ErrorKind = stringPtrFromPgtext(errKind)
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	return &t, nil
}

// Helper functions to convert between pgtype values and domain types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromUint64Ptr(v *uint64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: int64(*v), Valid: true}
}

func uint64PtrFromPgint8(i pgtype.Int8) *uint64 {
	if !i.Valid {
		return nil
	}
	v := uint64(i.Int64)
	return &v
}
