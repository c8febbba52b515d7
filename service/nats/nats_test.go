package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/remit/service/db"
)

func strPtr(s string) *string { return &s }

func TestFromDBTransfer(t *testing.T) {
	slot := uint64(777)
	transfer := &db.Transfer{
		ID:                     "abc",
		Sender:                 strPtr("SenderAddr"),
		Receiver:               "ReceiverAddr",
		Mint:                   "MintAddr",
		Amount:                 "2.5",
		BaseUnits:              2_500_000,
		Decimals:               6,
		Memo:                   strPtr("inv-1"),
		Status:                 db.StatusFinalized,
		Signature:              strPtr("sig"),
		ReceiverAccountCreated: true,
		Slot:                   &slot,
	}

	event := FromDBTransfer(transfer, EventFinalized)

	assert.Equal(t, EventFinalized, event.Type)
	assert.Equal(t, "abc", event.TransferID)
	assert.Equal(t, db.StatusFinalized, event.Status)
	assert.Equal(t, "SenderAddr", event.Sender)
	assert.Equal(t, "ReceiverAddr", event.Receiver)
	assert.Equal(t, "2.5", event.Amount)
	assert.Equal(t, uint64(2_500_000), event.BaseUnits)
	assert.Equal(t, "inv-1", event.Memo)
	assert.Equal(t, "sig", event.Signature)
	assert.Equal(t, slot, event.Slot)
	assert.True(t, event.ReceiverAccountCreated)
	assert.Empty(t, event.Error)
	assert.WithinDuration(t, time.Now(), event.PublishedAt, time.Second)
}

func TestFromDBTransfer_OptionalFieldsOmitted(t *testing.T) {
	event := FromDBTransfer(&db.Transfer{ID: "x", Status: db.StatusPending}, EventFailed)

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "memo")
	assert.NotContains(t, raw, "signature")
	assert.NotContains(t, raw, "error")
	assert.Equal(t, "", raw["sender"])
}

func TestEventTypeForStatus(t *testing.T) {
	assert.Equal(t, EventFinalized, EventTypeForStatus(db.StatusFinalized))
	assert.Equal(t, EventFinalized, EventTypeForStatus(db.StatusConfirmed))
	assert.Equal(t, EventExpired, EventTypeForStatus(db.StatusExpired))
	assert.Equal(t, EventFailed, EventTypeForStatus(db.StatusFailed))
}

func TestSubjectForSender(t *testing.T) {
	assert.Equal(t, "transfers.SenderAddr", SubjectForSender("SenderAddr"))
}

func TestStreamConfig(t *testing.T) {
	cfg := StreamConfig()
	assert.Equal(t, StreamName, cfg.Name)
	assert.Equal(t, []string{"transfers.*"}, cfg.Subjects)
	assert.Equal(t, 30*24*time.Hour, cfg.MaxAge)
	assert.Equal(t, jetstream.LimitsPolicy, cfg.Retention)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishTransfer(ctx, &TransferEvent{TransferID: "a", Sender: "s"}))
	require.NoError(t, m.PublishTransfer(ctx, &TransferEvent{TransferID: "b", Sender: "s"}))
	require.NoError(t, m.PublishTransfer(ctx, &TransferEvent{TransferID: "a", Sender: "s"}))

	assert.Equal(t, 3, m.GetPublishedEventCount())
	assert.Len(t, m.GetPublishedEventsForTransfer("a"), 2)

	err := m.PublishTransfer(ctx, &TransferEvent{TransferID: "c"})
	assert.ErrorIs(t, err, ErrMissingSender)

	boom := errors.New("boom")
	m.SetPublishError(boom)
	assert.ErrorIs(t, m.PublishTransfer(ctx, &TransferEvent{Sender: "s"}), boom)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())

	m.Reset()
	assert.Zero(t, m.GetPublishedEventCount())
	assert.False(t, m.IsClosed())
}
