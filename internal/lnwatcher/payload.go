package lnwatcher

import (
	"encoding/json"

	"github.com/hiveln-bridge/bridge/internal/lnd"
)

// InvoicePayload is the opaque TrackedOp payload for an invoice stream
// event. AddIndex/SettleIndex let a restart rebuild its resume cursor from
// the journal, the same way hivewatcher derives block height from its
// payload.
type InvoicePayload struct {
	AddIndex    uint64 `json:"add_index"`
	SettleIndex uint64 `json:"settle_index"`
	PaymentHash string `json:"payment_hash"`
	State       string `json:"state"`
	ValueSat    int64  `json:"value_sat"`
	Memo        string `json:"memo"`
}

// PaymentPayload is the opaque TrackedOp payload for a payment stream event.
type PaymentPayload struct {
	PaymentHash    string `json:"payment_hash"`
	Status         string `json:"status"`
	FeeSat         int64  `json:"fee_sat"`
	CreationTimeNs int64  `json:"creation_time_ns"`
}

// ForwardPayload is the opaque TrackedOp payload for a settled HTLC
// forward.
type ForwardPayload struct {
	IncomingChannelID uint64 `json:"incoming_channel_id"`
	OutgoingChannelID uint64 `json:"outgoing_channel_id"`
	IncomingHtlcID    uint64 `json:"incoming_htlc_id"`
	OutgoingHtlcID    uint64 `json:"outgoing_htlc_id"`
	AmtInMsat         uint64 `json:"amt_in_msat"`
	AmtOutMsat        uint64 `json:"amt_out_msat"`
	FeeMsat           uint64 `json:"fee_msat"`
}

func invoicePayload(e lnd.InvoiceEvent) []byte {
	b, _ := json.Marshal(InvoicePayload{
		AddIndex:    e.AddIndex,
		SettleIndex: e.SettleIndex,
		PaymentHash: e.PaymentHash,
		State:       e.State.String(),
		ValueSat:    e.ValueSat,
		Memo:        e.Memo,
	})
	return b
}

func paymentPayload(e lnd.PaymentEvent) []byte {
	b, _ := json.Marshal(PaymentPayload{
		PaymentHash:    e.PaymentHash,
		Status:         e.Status.String(),
		FeeSat:         e.FeeSat,
		CreationTimeNs: e.CreationTimeNs,
	})
	return b
}

func forwardPayload(e lnd.ForwardEvent) []byte {
	b, _ := json.Marshal(ForwardPayload{
		IncomingChannelID: e.IncomingChannelID,
		OutgoingChannelID: e.OutgoingChannelID,
		IncomingHtlcID:    e.IncomingHtlcID,
		OutgoingHtlcID:    e.OutgoingHtlcID,
		AmtInMsat:         e.AmtInMsat,
		AmtOutMsat:        e.AmtOutMsat,
		FeeMsat:           e.FeeMsat,
	})
	return b
}

func unmarshalInvoicePayload(raw []byte) (InvoicePayload, error) {
	var p InvoicePayload
	err := json.Unmarshal(raw, &p)
	return p, err
}

func unmarshalPaymentPayload(raw []byte) (PaymentPayload, error) {
	var p PaymentPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}
