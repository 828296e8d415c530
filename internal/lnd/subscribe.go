package lnd

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
)

// InvoiceEvent is a single state change on an invoice the node generated,
// consumed by C3's invoice stream. AddIndex/SettleIndex are the node's
// monotonic cursors, persisted so a reconnect resumes from the right point.
type InvoiceEvent struct {
	AddIndex    uint64
	SettleIndex uint64
	PaymentHash string
	State       lnrpc.Invoice_InvoiceState
	ValueSat    int64
	Memo        string
}

// PaymentEvent is a state change on a payment this node originated,
// consumed by C3's payment stream.
type PaymentEvent struct {
	PaymentHash   string
	Status        lnrpc.Payment_PaymentStatus
	FeeSat        int64
	CreationTimeNs int64
}

// ForwardEvent is a settled HTLC forward through this node, consumed by C3's
// forward stream for routing-fee revenue accounting.
type ForwardEvent struct {
	IncomingChannelID uint64
	OutgoingChannelID uint64
	IncomingHtlcID    uint64
	OutgoingHtlcID    uint64
	AmtInMsat         uint64
	AmtOutMsat        uint64
	FeeMsat           uint64
}

// SubscribeInvoices opens the invoice-update stream starting after the given
// add/settle indices and translates each update onto a channel. The channel
// closes, with the error delivered on errc, when the stream ends for any
// reason — the caller (lnwatcher) is responsible for reconnecting with its
// own backoff and the last index it actually observed.
func (c *Client) SubscribeInvoices(ctx context.Context, addIndex, settleIndex uint64) (<-chan InvoiceEvent, <-chan error) {
	events := make(chan InvoiceEvent)
	errc := make(chan error, 1)

	stream, err := c.lnClient.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{
		AddIndex:    addIndex,
		SettleIndex: settleIndex,
	})
	if err != nil {
		errc <- fmt.Errorf("subscribe invoices: %w", err)
		close(events)
		return events, errc
	}

	go func() {
		defer close(events)
		for {
			inv, err := stream.Recv()
			if err != nil {
				errc <- fmt.Errorf("invoice stream: %w", err)
				return
			}
			select {
			case events <- InvoiceEvent{
				AddIndex:    inv.AddIndex,
				SettleIndex: inv.SettleIndex,
				PaymentHash: fmt.Sprintf("%x", inv.RHash),
				State:       inv.State,
				ValueSat:    inv.Value,
				Memo:        inv.Memo,
			}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return events, errc
}

// TrackPayments opens the node-wide payment-tracking stream, reporting every
// payment's lifecycle. It takes no resume point, and lnwatcher's payment
// loop reconnects without one, so updates emitted while the stream is down
// are not replayed.
func (c *Client) TrackPayments(ctx context.Context) (<-chan PaymentEvent, <-chan error) {
	events := make(chan PaymentEvent)
	errc := make(chan error, 1)

	stream, err := c.routerClient.TrackPayments(ctx, &routerrpc.TrackPaymentsRequest{NoInflightUpdates: true})
	if err != nil {
		errc <- fmt.Errorf("track payments: %w", err)
		close(events)
		return events, errc
	}

	go func() {
		defer close(events)
		for {
			p, err := stream.Recv()
			if err != nil {
				errc <- fmt.Errorf("payment stream: %w", err)
				return
			}
			select {
			case events <- PaymentEvent{PaymentHash: p.PaymentHash, Status: p.Status, FeeSat: p.FeeSat, CreationTimeNs: p.CreationTimeNs}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, errc
}

// SubscribeHtlcForwards opens the node-wide HTLC event stream and surfaces
// only settled forwards (the revenue-relevant case); link failures and
// forward failures are dropped at this layer.
func (c *Client) SubscribeHtlcForwards(ctx context.Context) (<-chan ForwardEvent, <-chan error) {
	events := make(chan ForwardEvent)
	errc := make(chan error, 1)

	stream, err := c.routerClient.SubscribeHtlcEvents(ctx, &routerrpc.SubscribeHtlcEventsRequest{})
	if err != nil {
		errc <- fmt.Errorf("subscribe htlc events: %w", err)
		close(events)
		return events, errc
	}

	go func() {
		defer close(events)
		for {
			evt, err := stream.Recv()
			if err != nil {
				errc <- fmt.Errorf("htlc event stream: %w", err)
				return
			}
			_, settled := evt.Event.(*routerrpc.HtlcEvent_SettleEvent)
			if !settled || evt.EventType != routerrpc.HtlcEvent_FORWARD || evt.Info == nil {
				continue
			}
			var feeMsat uint64
			if evt.Info.IncomingAmtMsat > evt.Info.OutgoingAmtMsat {
				feeMsat = evt.Info.IncomingAmtMsat - evt.Info.OutgoingAmtMsat
			}
			select {
			case events <- ForwardEvent{
				IncomingChannelID: evt.IncomingChannelId,
				OutgoingChannelID: evt.OutgoingChannelId,
				IncomingHtlcID:    evt.IncomingHtlcId,
				OutgoingHtlcID:    evt.OutgoingHtlcId,
				AmtInMsat:         evt.Info.IncomingAmtMsat,
				AmtOutMsat:        evt.Info.OutgoingAmtMsat,
				FeeMsat:           feeMsat,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, errc
}
