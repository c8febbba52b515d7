package nats

import (
	"time"

	"github.com/brojonat/remit/service/db"
)

// Event types carried in TransferEvent.Type.
const (
	EventSubmitted = "submitted"
	EventFinalized = "finalized"
	EventFailed    = "failed"
	EventExpired   = "expired"
)

// TransferEvent is a transfer lifecycle event published to NATS.
// It is published to the subject "transfers.{sender}" in JetStream.
type TransferEvent struct {
	Type       string `json:"type"`
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`

	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Mint     string `json:"mint"`

	Amount    string `json:"amount"`
	BaseUnits uint64 `json:"base_units"`
	Decimals  uint8  `json:"decimals"`
	Memo      string `json:"memo,omitempty"`

	Signature              string `json:"signature,omitempty"`
	ReceiverAccountCreated bool   `json:"receiver_account_created"`
	Slot                   uint64 `json:"slot,omitempty"`
	Error                  string `json:"error,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromDBTransfer converts a transfer record into an event of the given type.
func FromDBTransfer(t *db.Transfer, eventType string) *TransferEvent {
	event := &TransferEvent{
		Type:                   eventType,
		TransferID:             t.ID,
		Status:                 t.Status,
		Receiver:               t.Receiver,
		Mint:                   t.Mint,
		Amount:                 t.Amount,
		BaseUnits:              t.BaseUnits,
		Decimals:               t.Decimals,
		ReceiverAccountCreated: t.ReceiverAccountCreated,
		PublishedAt:            time.Now().UTC(),
	}

	if t.Sender != nil {
		event.Sender = *t.Sender
	}
	if t.Memo != nil {
		event.Memo = *t.Memo
	}
	if t.Signature != nil {
		event.Signature = *t.Signature
	}
	if t.Slot != nil {
		event.Slot = *t.Slot
	}
	if t.Error != nil {
		event.Error = *t.Error
	}

	return event
}

// EventTypeForStatus maps a terminal transfer status to its event type.
func EventTypeForStatus(status string) string {
	switch status {
	case db.StatusFinalized, db.StatusConfirmed, db.StatusProcessed:
		return EventFinalized
	case db.StatusExpired:
		return EventExpired
	default:
		return EventFailed
	}
}

// SubjectForSender returns the subject transfer events from sender are published to.
func SubjectForSender(sender string) string {
	return SubjectPrefix + sender
}
