package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/remit/service/config"
	"github.com/brojonat/remit/service/db"
	"github.com/brojonat/remit/service/solana"
	"github.com/brojonat/remit/service/temporal"
)

const (
	testReceiver = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testOwner    = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

// memStore is an in-memory TransferStore.
type memStore struct {
	mu        sync.Mutex
	transfers map[string]*db.Transfer
	byKey     map[string]string
	nextID    int
	createErr error
	pingErr   error
	updates   []db.UpdateTransferStatusParams
	lastList  db.ListTransfersParams
}

func newMemStore() *memStore {
	return &memStore{
		transfers: make(map[string]*db.Transfer),
		byKey:     make(map[string]string),
	}
}

func (s *memStore) CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	if params.IdempotencyKey != nil {
		if _, ok := s.byKey[*params.IdempotencyKey]; ok {
			return nil, db.ErrDuplicateIdempotencyKey
		}
	}
	s.nextID++
	id := fmt.Sprintf("t-%d", s.nextID)
	now := time.Now()
	t := &db.Transfer{
		ID:             id,
		IdempotencyKey: params.IdempotencyKey,
		Receiver:       params.Receiver,
		Mint:           params.Mint,
		Amount:         params.Amount,
		BaseUnits:      params.BaseUnits,
		Decimals:       params.Decimals,
		Memo:           params.Memo,
		Status:         db.StatusPending,
		WorkflowID:     db.WorkflowIDForTransfer(id),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.transfers[id] = t
	if params.IdempotencyKey != nil {
		s.byKey[*params.IdempotencyKey] = id
	}
	return t, nil
}

func (s *memStore) GetTransfer(ctx context.Context, id string) (*db.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return t, nil
}

func (s *memStore) GetTransferByIdempotencyKey(ctx context.Context, key string) (*db.Transfer, error) {
	s.mu.Lock()
	id, ok := s.byKey[key]
	s.mu.Unlock()
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s.GetTransfer(ctx, id)
}

func (s *memStore) ListTransfers(ctx context.Context, params db.ListTransfersParams) ([]*db.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList = params
	var out []*db.Transfer
	for _, t := range s.transfers {
		if params.Status != "" && t.Status != params.Status {
			continue
		}
		if params.Receiver != "" && t.Receiver != params.Receiver {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *memStore) UpdateTransferStatus(ctx context.Context, params db.UpdateTransferStatusParams) (*db.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, params)
	t, ok := s.transfers[params.ID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	t.Status = params.Status
	t.Error = params.Error
	t.ErrorKind = params.ErrorKind
	return t, nil
}

func (s *memStore) Ping(ctx context.Context) error {
	return s.pingErr
}

type fakeStarter struct {
	mu     sync.Mutex
	inputs []temporal.TransferWorkflowInput
	err    error
}

func (f *fakeStarter) StartTransfer(ctx context.Context, input temporal.TransferWorkflowInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return "", f.err
	}
	return "run-" + input.TransferID, nil
}

type fakeBalances struct {
	balance *solana.TokenBalance
	err     error
}

func (f *fakeBalances) TokenBalance(ctx context.Context, owner, mint string) (*solana.TokenBalance, error) {
	return f.balance, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		SolanaNetwork:    "mainnet",
		TokenMintAddress: solana.USDCMainnetMint,
		TokenDecimals:    solana.USDCDecimals,
		FinalityTimeout:  2 * time.Minute,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postTransfer(t *testing.T, h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateTransfer_PathologicalInput(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		errorContains string
	}{
		{
			name:          "extremely large request body",
			body:          `{"receiver":"` + strings.Repeat("A", 2*1024*1024) + `","amount":"1"}`,
			errorContains: "request body too large",
		},
		{
			name:          "malformed JSON",
			body:          `{"receiver":"abc","amount":`,
			errorContains: "invalid request body",
		},
		{
			name:          "empty JSON object",
			body:          `{}`,
			errorContains: "address is required",
		},
		{
			name:          "receiver too long",
			body:          `{"receiver":"` + strings.Repeat("A", 500) + `","amount":"1"}`,
			errorContains: "address too long",
		},
		{
			name:          "receiver with null bytes",
			body:          `{"receiver":"wallet\u0000123","amount":"1"}`,
			errorContains: "invalid characters",
		},
		{
			name:          "receiver with SQL injection attempt",
			body:          `{"receiver":"wallet'; DROP TABLE transfers; --","amount":"1"}`,
			errorContains: "invalid address format",
		},
		{
			name:          "receiver not a public key",
			body:          `{"receiver":"abc","amount":"1"}`,
			errorContains: "invalid address",
		},
		{
			name:          "missing amount",
			body:          `{"receiver":"` + testReceiver + `"}`,
			errorContains: "amount is required",
		},
		{
			name:          "negative amount",
			body:          `{"receiver":"` + testReceiver + `","amount":-1}`,
			errorContains: "negative",
		},
		{
			name:          "amount below one base unit",
			body:          `{"receiver":"` + testReceiver + `","amount":"0.0000001"}`,
			errorContains: "less than one base unit",
		},
		{
			name:          "zero amount",
			body:          `{"receiver":"` + testReceiver + `","amount":0}`,
			errorContains: "invalid amount",
		},
		{
			name:          "amount overflows base units",
			body:          `{"receiver":"` + testReceiver + `","amount":"99999999999999999999999"}`,
			errorContains: "overflows",
		},
		{
			name:          "memo too long",
			body:          `{"receiver":"` + testReceiver + `","amount":"1","memo":"` + strings.Repeat("m", 257) + `"}`,
			errorContains: "invalid memo",
		},
		{
			name:          "foreign mint without decimals",
			body:          `{"receiver":"` + testReceiver + `","amount":"1","mint":"` + solana.USDCDevnetMint + `"}`,
			errorContains: "decimals is required",
		},
		{
			name:          "default mint with mismatched decimals",
			body:          `{"receiver":"` + testReceiver + `","amount":"1","decimals":9}`,
			errorContains: "does not match",
		},
		{
			name:          "explicit default mint with mismatched decimals",
			body:          `{"receiver":"` + testReceiver + `","amount":"1","mint":"` + solana.USDCMainnetMint + `","decimals":0}`,
			errorContains: "does not match",
		},
		{
			name:          "idempotency key too long",
			body:          `{"receiver":"` + testReceiver + `","amount":"1","idempotency_key":"` + strings.Repeat("k", 300) + `"}`,
			errorContains: "idempotency_key too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			starter := &fakeStarter{}
			h := handleCreateTransfer(store, starter, testConfig(), testLogger())

			w := postTransfer(t, h, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.errorContains)
			assert.Empty(t, store.transfers, "nothing is recorded for a rejected request")
			assert.Empty(t, starter.inputs, "no workflow is started for a rejected request")
		})
	}
}

func TestCreateTransfer_Accepted(t *testing.T) {
	store := newMemStore()
	starter := &fakeStarter{}
	cfg := testConfig()
	h := handleCreateTransfer(store, starter, cfg, testLogger())

	w := postTransfer(t, h, `{"receiver":"`+testReceiver+`","amount":"12.5","memo":"invoice 42"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp transferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testReceiver, resp.Receiver)
	assert.Equal(t, solana.USDCMainnetMint, resp.Mint)
	assert.Equal(t, "12.5", resp.Amount)
	assert.Equal(t, uint64(12_500_000), resp.BaseUnits)
	assert.Equal(t, uint8(6), resp.Decimals)
	assert.Equal(t, db.StatusPending, resp.Status)
	assert.Equal(t, db.WorkflowIDForTransfer(resp.ID), resp.WorkflowID)

	require.Len(t, starter.inputs, 1)
	in := starter.inputs[0]
	assert.Equal(t, resp.ID, in.TransferID)
	assert.Equal(t, testReceiver, in.Receiver)
	assert.Equal(t, "12.5", in.Amount)
	assert.Equal(t, "invoice 42", in.Memo)
	assert.Equal(t, cfg.FinalityTimeout, in.FinalityTimeout)
}

func TestCreateTransfer_ExplicitMintAndDecimals(t *testing.T) {
	store := newMemStore()
	starter := &fakeStarter{}
	h := handleCreateTransfer(store, starter, testConfig(), testLogger())

	body := `{"receiver":"` + testReceiver + `","amount":"0.5","mint":"` + solana.USDCDevnetMint + `","decimals":9}`
	w := postTransfer(t, h, body, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp transferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, solana.USDCDevnetMint, resp.Mint)
	assert.Equal(t, uint8(9), resp.Decimals)
	assert.Equal(t, uint64(500_000_000), resp.BaseUnits)
}

func TestCreateTransfer_DefaultMintMatchingDecimals(t *testing.T) {
	store := newMemStore()
	starter := &fakeStarter{}
	h := handleCreateTransfer(store, starter, testConfig(), testLogger())

	w := postTransfer(t, h, `{"receiver":"`+testReceiver+`","amount":"2","decimals":6}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp transferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(2_000_000), resp.BaseUnits)
	assert.Equal(t, uint8(6), resp.Decimals)
}

func TestCreateTransfer_Idempotency(t *testing.T) {
	t.Run("body key replays the first transfer", func(t *testing.T) {
		store := newMemStore()
		starter := &fakeStarter{}
		h := handleCreateTransfer(store, starter, testConfig(), testLogger())
		body := `{"receiver":"` + testReceiver + `","amount":"1","idempotency_key":"order-1"}`

		first := postTransfer(t, h, body, nil)
		require.Equal(t, http.StatusAccepted, first.Code)
		second := postTransfer(t, h, body, nil)
		require.Equal(t, http.StatusOK, second.Code)

		var a, b transferResponse
		require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
		assert.Equal(t, a.ID, b.ID)
		assert.Len(t, starter.inputs, 1)
		assert.Len(t, store.transfers, 1)
	})

	t.Run("header key", func(t *testing.T) {
		store := newMemStore()
		starter := &fakeStarter{}
		h := handleCreateTransfer(store, starter, testConfig(), testLogger())
		body := `{"receiver":"` + testReceiver + `","amount":"1"}`
		header := map[string]string{"Idempotency-Key": "order-2"}

		require.Equal(t, http.StatusAccepted, postTransfer(t, h, body, header).Code)
		require.Equal(t, http.StatusOK, postTransfer(t, h, body, header).Code)
		assert.Len(t, starter.inputs, 1)

		var resp transferResponse
		w := postTransfer(t, h, body, header)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.IdempotencyKey)
		assert.Equal(t, "order-2", *resp.IdempotencyKey)
	})

	t.Run("no key creates distinct transfers", func(t *testing.T) {
		store := newMemStore()
		starter := &fakeStarter{}
		h := handleCreateTransfer(store, starter, testConfig(), testLogger())
		body := `{"receiver":"` + testReceiver + `","amount":"1"}`

		require.Equal(t, http.StatusAccepted, postTransfer(t, h, body, nil).Code)
		require.Equal(t, http.StatusAccepted, postTransfer(t, h, body, nil).Code)
		assert.Len(t, starter.inputs, 2)
	})
}

func TestCreateTransfer_WorkflowStart(t *testing.T) {
	t.Run("already started is accepted", func(t *testing.T) {
		store := newMemStore()
		starter := &fakeStarter{err: temporal.ErrWorkflowAlreadyStarted}
		h := handleCreateTransfer(store, starter, testConfig(), testLogger())

		w := postTransfer(t, h, `{"receiver":"`+testReceiver+`","amount":"1"}`, nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, store.updates)
	})

	t.Run("start failure marks the transfer failed", func(t *testing.T) {
		store := newMemStore()
		starter := &fakeStarter{err: errors.New("temporal unavailable")}
		h := handleCreateTransfer(store, starter, testConfig(), testLogger())

		w := postTransfer(t, h, `{"receiver":"`+testReceiver+`","amount":"1"}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		require.Len(t, store.updates, 1)
		update := store.updates[0]
		assert.Equal(t, db.StatusFailed, update.Status)
		require.NotNil(t, update.ErrorKind)
		assert.Equal(t, "workflow_start_failed", *update.ErrorKind)
		require.NotNil(t, update.Error)
		assert.Contains(t, *update.Error, "temporal unavailable")
	})

	t.Run("store failure", func(t *testing.T) {
		store := newMemStore()
		store.createErr = errors.New("connection refused")
		starter := &fakeStarter{}
		h := handleCreateTransfer(store, starter, testConfig(), testLogger())

		w := postTransfer(t, h, `{"receiver":"`+testReceiver+`","amount":"1"}`, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
		assert.Empty(t, starter.inputs)
	})
}

func TestGetTransfer(t *testing.T) {
	store := newMemStore()
	created, err := store.CreateTransfer(context.Background(), db.CreateTransferParams{
		Receiver:  testReceiver,
		Mint:      solana.USDCMainnetMint,
		Amount:    "1",
		BaseUnits: 1_000_000,
		Decimals:  6,
	})
	require.NoError(t, err)

	srv := New(":0", testConfig(), store, &fakeStarter{}, nil, testLogger())
	h := srv.Handler()

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers/"+created.ID, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp transferResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, created.ID, resp.ID)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers/missing", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "transfer not found")
	})
}

func TestListTransfers(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedLimit  int32
		expectedOffset int32
	}{
		{name: "defaults", query: "", expectedStatus: http.StatusOK, expectedLimit: defaultListLimit},
		{name: "limit and offset", query: "?limit=10&offset=20", expectedStatus: http.StatusOK, expectedLimit: 10, expectedOffset: 20},
		{name: "status filter", query: "?status=finalized", expectedStatus: http.StatusOK, expectedLimit: defaultListLimit},
		{name: "receiver filter", query: "?receiver=" + testReceiver, expectedStatus: http.StatusOK, expectedLimit: defaultListLimit},
		{name: "limit not a number", query: "?limit=abc", expectedStatus: http.StatusBadRequest},
		{name: "limit zero", query: "?limit=0", expectedStatus: http.StatusBadRequest},
		{name: "limit too large", query: "?limit=5000", expectedStatus: http.StatusBadRequest},
		{name: "negative offset", query: "?offset=-1", expectedStatus: http.StatusBadRequest},
		{name: "unknown status", query: "?status=lost", expectedStatus: http.StatusBadRequest},
		{name: "bad sender", query: "?sender=" + url.QueryEscape("x;--"), expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			h := handleListTransfers(store, testLogger())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/transfers"+tt.query, nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.expectedLimit, store.lastList.Limit)
			assert.Equal(t, tt.expectedOffset, store.lastList.Offset)

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp, "transfers")
			assert.EqualValues(t, 0, resp["count"])
		})
	}
}

func TestGetBalance(t *testing.T) {
	owner := solanago.MustPublicKeyFromBase58(testOwner)
	mint := solanago.MustPublicKeyFromBase58(solana.USDCMainnetMint)

	tests := []struct {
		name           string
		path           string
		balances       *fakeBalances
		expectedStatus int
		check          func(t *testing.T, body []byte)
	}{
		{
			name: "existing account",
			path: "/api/v1/balances/" + testOwner,
			balances: &fakeBalances{balance: &solana.TokenBalance{
				Owner:        owner,
				Mint:         mint,
				TokenAccount: solanago.MustPublicKeyFromBase58(testReceiver),
				Exists:       true,
				BaseUnits:    2_500_000,
				Decimals:     6,
			}},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var resp balanceResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.True(t, resp.Exists)
				assert.Equal(t, "2.500000", resp.Amount)
				assert.Equal(t, uint64(2_500_000), resp.BaseUnits)
				assert.Equal(t, testOwner, resp.Owner)
			},
		},
		{
			name:           "network unavailable",
			path:           "/api/v1/balances/" + testOwner,
			balances:       &fakeBalances{err: fmt.Errorf("%w: get account info: timeout", solana.ErrNetworkUnavailable)},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "invalid owner",
			path:           "/api/v1/balances/not-base58!",
			balances:       &fakeBalances{},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handleGetBalance(tt.balances, testConfig(), testLogger())
			mux := http.NewServeMux()
			mux.Handle("GET /api/v1/balances/{owner}", h)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.check != nil {
				tt.check(t, w.Body.Bytes())
			}
		})
	}
}

func TestBalanceRouteRequiresReader(t *testing.T) {
	srv := New(":0", testConfig(), newMemStore(), &fakeStarter{}, nil, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/balances/"+testOwner, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	store := newMemStore()
	h := handleHealth(store, testLogger())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	store.pingErr = errors.New("down")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{fmt.Errorf("x: %w", solana.ErrInvalidAmount), http.StatusBadRequest},
		{fmt.Errorf("x: %w", solana.ErrInvalidAddress), http.StatusBadRequest},
		{fmt.Errorf("x: %w", solana.ErrInvalidMemo), http.StatusBadRequest},
		{errorf("amount is required"), http.StatusBadRequest},
		{fmt.Errorf("x: %w", solana.ErrTransactionRejected), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", solana.ErrReceiverAccountCreationFailed), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", solana.ErrNetworkUnavailable), http.StatusServiceUnavailable},
		{pgx.ErrNoRows, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.expected, statusForError(tt.err))
		})
	}
}

func TestPaymentRequest(t *testing.T) {
	h := handlePaymentRequest(testConfig(), testLogger())

	t.Run("full request", func(t *testing.T) {
		q := url.Values{}
		q.Set("receiver", testReceiver)
		q.Set("amount", "12.50")
		q.Set("memo", "invoice 42")
		q.Set("label", "Acme")
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payment-requests?"+q.Encode(), nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp PaymentRequest
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, testReceiver, resp.Receiver)
		assert.Equal(t, "12.5", resp.Amount)
		assert.Equal(t, "invoice 42", resp.Memo)
		assert.NotEmpty(t, resp.Reference)

		u, err := url.Parse(resp.PaymentURL)
		require.NoError(t, err)
		assert.Equal(t, "solana", u.Scheme)
		assert.Equal(t, testReceiver, u.Opaque)
		assert.Equal(t, "12.5", u.Query().Get("amount"))
		assert.Equal(t, solana.USDCMainnetMint, u.Query().Get("spl-token"))
		assert.Equal(t, "Acme", u.Query().Get("label"))

		png, err := base64.StdEncoding.DecodeString(resp.QRCodeData)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(png), "\x89PNG"))
	})

	t.Run("memo defaults to reference", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payment-requests?receiver="+testReceiver, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp PaymentRequest
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, resp.Reference, resp.Memo)
		assert.Empty(t, resp.Amount)
	})

	t.Run("invalid input", func(t *testing.T) {
		for _, query := range []string{
			"",
			"?receiver=abc",
			"?receiver=" + testReceiver + "&amount=lots",
			"?receiver=" + testReceiver + "&amount=-3",
		} {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payment-requests"+query, nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, query)
		}
	})
}
