package ops

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound on-chain message kinds, distinguished by the message's `id`
// field. The `<prefix>` (v4vapp / v4vapp_dev) is prepended by the caller
// that knows whether dev mode is active.
const (
	TransferMessageID     = "transfer"
	NotificationMessageID = "notification"
)

// TransferEnvelope carries an outbound on-chain custom-message transfer:
// user->server, user->user, and server->user value flows.
type TransferEnvelope struct {
	FromAccount     string  `json:"from_account"`
	ToAccount       string  `json:"to_account,omitempty"`
	Memo            string  `json:"memo"`
	Sats            *int64  `json:"sats,omitempty"`
	Msats           *int64  `json:"msats,omitempty"`
	Hive            *string `json:"hive,omitempty"`
	HBD             *string `json:"hbd,omitempty"`
	InvoiceMessage  *string `json:"invoice_message,omitempty"`
}

// ToJSON serializes the TransferEnvelope to JSON bytes.
func (m *TransferEnvelope) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer envelope: %w", err)
	}
	return data, nil
}

// TransferEnvelopeFromJSON deserializes and validates a TransferEnvelope.
func TransferEnvelopeFromJSON(data []byte) (*TransferEnvelope, error) {
	msg := &TransferEnvelope{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfer envelope: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks required fields are present.
func (m *TransferEnvelope) Validate() error {
	if m.FromAccount == "" {
		return errors.New("from_account is required")
	}
	if m.Memo == "" {
		return errors.New("memo is required")
	}
	return nil
}

// NotificationEnvelope carries an informational on-chain message; it is
// never acted on by the receiving side, only displayed/logged.
type NotificationEnvelope struct {
	FromAccount   string `json:"from_account"`
	ToAccount     string `json:"to_account"`
	Memo          string `json:"memo"`
	Msats         int64  `json:"msats"`
	ParentGroupID string `json:"parent_group_id"`
	Notification  bool   `json:"notification"`
}

// ToJSON serializes the NotificationEnvelope to JSON bytes.
func (m *NotificationEnvelope) ToJSON() ([]byte, error) {
	m.Notification = true
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification envelope: %w", err)
	}
	return data, nil
}

// NotificationEnvelopeFromJSON deserializes and validates a NotificationEnvelope.
func NotificationEnvelopeFromJSON(data []byte) (*NotificationEnvelope, error) {
	msg := &NotificationEnvelope{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification envelope: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks required fields are present.
func (m *NotificationEnvelope) Validate() error {
	if m.FromAccount == "" {
		return errors.New("from_account is required")
	}
	if m.ToAccount == "" {
		return errors.New("to_account is required")
	}
	if m.ParentGroupID == "" {
		return errors.New("parent_group_id is required")
	}
	return nil
}

// MessageID returns the full <prefix>_transfer or <prefix>_notification
// message id used to tag an outbound custom message.
func MessageID(prefix, kind string) string {
	return prefix + "_" + kind
}
