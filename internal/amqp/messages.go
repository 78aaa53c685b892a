package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message kinds carried in the payload's "kind" field. Both message types
// share one queue; consumers dispatch on this field.
const (
	KindTransactionRecorded = "transaction.recorded"
	KindCarryOverApplied    = "carryover.applied"
)

// MessageKind reads the kind discriminator from a raw payload. Returns ""
// when the payload is not JSON or carries no kind.
func MessageKind(data []byte) string {
	var envelope struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	return envelope.Kind
}

// TransactionRecordedMessage tells the export worker a ledger transaction was
// written. It carries only the id; the worker fetches the full row from the
// database so it never exports stale data.
type TransactionRecordedMessage struct {
	Kind          string    `json:"kind"`
	MessageID     string    `json:"message_id"`
	TransactionID int64     `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionRecordedMessage(transactionID int64) *TransactionRecordedMessage {
	return &TransactionRecordedMessage{
		Kind:          KindTransactionRecorded,
		MessageID:     uuid.NewString(),
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *TransactionRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionRecordedMessageFromJSON(data []byte) (*TransactionRecordedMessage, error) {
	var msg TransactionRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CarryOverAppliedMessage announces that a month's unspent budget was rolled
// into savings. Informational; consumers that only care about ledger rows can
// ignore it since the savings transaction also gets a recorded message.
type CarryOverAppliedMessage struct {
	Kind       string    `json:"kind"`
	MessageID  string    `json:"message_id"`
	FromYear   int       `json:"from_year"`
	FromMonth  int       `json:"from_month"`
	TotalCents int64     `json:"total_cents"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewCarryOverAppliedMessage(year, month int, totalCents int64) *CarryOverAppliedMessage {
	return &CarryOverAppliedMessage{
		Kind:       KindCarryOverApplied,
		MessageID:  uuid.NewString(),
		FromYear:   year,
		FromMonth:  month,
		TotalCents: totalCents,
		Timestamp:  time.Now().UTC(),
	}
}

func (m *CarryOverAppliedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CarryOverAppliedMessageFromJSON(data []byte) (*CarryOverAppliedMessage, error) {
	var msg CarryOverAppliedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
