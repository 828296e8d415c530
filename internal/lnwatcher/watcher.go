// Package lnwatcher implements C3: three independent Lightning event
// streams (invoice, payment, HTLC forward) multiplexed into the same
// journal the Hive watcher writes to, each with its own backoff-reconnect
// loop. Only the invoice stream resumes from a persisted index (the
// AddIndex/SettleIndex recorded in its payloads); the payment and forward
// streams reconnect without a resume point and do not replay events missed
// while disconnected.
package lnwatcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/lnd"
	"github.com/hiveln-bridge/bridge/internal/ops"
	"github.com/hiveln-bridge/bridge/pkg/backoff"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// LightningClient is the subset of *lnd.Client the watcher needs — kept as
// an interface so tests can supply a fake without a real gRPC connection.
type LightningClient interface {
	SubscribeInvoices(ctx context.Context, addIndex, settleIndex uint64) (<-chan lnd.InvoiceEvent, <-chan error)
	TrackPayments(ctx context.Context) (<-chan lnd.PaymentEvent, <-chan error)
	SubscribeHtlcForwards(ctx context.Context) (<-chan lnd.ForwardEvent, <-chan error)
}

// Publisher is the narrow slice of pkg/queue.StreamQueue the watcher needs
// to wake the router (C4) as soon as a new op lands. The journal write via
// repo.Create already happened and remains the durable source of truth, so
// a nil Publisher or a failed publish just means the router's periodic
// recovery sweep picks the op up instead.
type Publisher interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// TrackedOpsStream is the Redis stream the watchers publish group ids onto
// and the router consumes from.
const TrackedOpsStream = "tracked_ops"

// Watcher runs the three C3 streams concurrently.
type Watcher struct {
	client    LightningClient
	repo      *database.TrackedOpRepository
	publisher Publisher
}

func New(client LightningClient, repo *database.TrackedOpRepository) *Watcher {
	return &Watcher{client: client, repo: repo}
}

// WithPublisher wires a stream publisher for router wakeups. Optional: a
// nil publisher leaves the watcher journal-only.
func (w *Watcher) WithPublisher(pub Publisher) *Watcher {
	w.publisher = pub
	return w
}

func (w *Watcher) notifyRouter(ctx context.Context, groupID string) {
	if w.publisher == nil {
		return
	}
	if _, err := w.publisher.Publish(ctx, TrackedOpsStream, []byte(groupID)); err != nil {
		logger.Warn("lnwatcher: failed to publish router wakeup, recovery sweep will catch it",
			zap.String("group_id", groupID), zap.Error(err))
	}
}

// Run blocks until ctx is cancelled. Each of the three streams reconnects
// independently on failure; one stream's outage never stalls the others.
func (w *Watcher) Run(ctx context.Context) error {
	addIdx, settleIdx := w.resumeInvoiceIndices(ctx)

	logger.Info("lnwatcher: starting up", logger.Notify(), logger.Component("lnwatcher"),
		zap.Uint64("add_index", addIdx), zap.Uint64("settle_index", settleIdx))

	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); w.runInvoices(ctx, addIdx, settleIdx) }()
	go func() { defer wg.Done(); w.runPayments(ctx) }()
	go func() { defer wg.Done(); w.runForwards(ctx) }()

	wg.Wait()
	return ctx.Err()
}

func (w *Watcher) resumeInvoiceIndices(ctx context.Context) (uint64, uint64) {
	ok, row, err := w.repo.HighestSourceTimestampForKind(ctx, ops.LNInvoice.String())
	if err != nil || !ok {
		return 0, 0
	}
	p, err := unmarshalInvoicePayload(row.Payload)
	if err != nil {
		return 0, 0
	}
	return p.AddIndex, p.SettleIndex
}

func (w *Watcher) runInvoices(ctx context.Context, addIdx, settleIdx uint64) {
	bo := backoff.DefaultConfig()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		events, errc := w.client.SubscribeInvoices(ctx, addIdx, settleIdx)
		for e := range events {
			if !isTerminalInvoiceState(e.State.String()) {
				continue
			}
			groupID := ops.DerivedGroupID("ln_invoice", e.PaymentHash)
			op := ops.New(groupID, ops.LNInvoice, time.Time{}, invoicePayload(e))
			if err := w.repo.Create(ctx, database.TrackedOpRowFrom(op)); err != nil {
				logger.Warn("lnwatcher: failed to persist invoice event", zap.Error(err))
				continue
			}
			w.notifyRouter(ctx, groupID)
			addIdx, settleIdx = e.AddIndex, e.SettleIndex
			attempt = 0
		}
		if err := waitErr(errc); err != nil && ctx.Err() == nil {
			logger.Warn("lnwatcher: invoice stream disconnected, reconnecting", zap.Error(err))
			if !sleep(ctx, backoff.NextDelay(bo, attempt)) {
				return
			}
			attempt++
		}
	}
}

func (w *Watcher) runPayments(ctx context.Context) {
	bo := backoff.DefaultConfig()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		events, errc := w.client.TrackPayments(ctx)
		for e := range events {
			if !isTerminalPaymentStatus(e.Status.String()) {
				continue
			}
			groupID := ops.DerivedGroupID("ln_payment", e.PaymentHash)
			op := ops.New(groupID, ops.LNPayment, time.Time{}, paymentPayload(e))
			if err := w.repo.Create(ctx, database.TrackedOpRowFrom(op)); err != nil {
				logger.Warn("lnwatcher: failed to persist payment event", zap.Error(err))
				continue
			}
			w.notifyRouter(ctx, groupID)
			attempt = 0
		}
		if err := waitErr(errc); err != nil && ctx.Err() == nil {
			logger.Warn("lnwatcher: payment stream disconnected, reconnecting", zap.Error(err))
			if !sleep(ctx, backoff.NextDelay(bo, attempt)) {
				return
			}
			attempt++
		}
	}
}

func (w *Watcher) runForwards(ctx context.Context) {
	bo := backoff.DefaultConfig()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		events, errc := w.client.SubscribeHtlcForwards(ctx)
		for e := range events {
			groupID := ops.DerivedGroupID("ln_forward",
				strconv.FormatUint(e.IncomingChannelID, 10), strconv.FormatUint(e.IncomingHtlcID, 10),
				strconv.FormatUint(e.OutgoingChannelID, 10), strconv.FormatUint(e.OutgoingHtlcID, 10))
			op := ops.New(groupID, ops.LNForward, time.Time{}, forwardPayload(e))
			if err := w.repo.Create(ctx, database.TrackedOpRowFrom(op)); err != nil {
				logger.Warn("lnwatcher: failed to persist forward event", zap.Error(err))
				continue
			}
			w.notifyRouter(ctx, groupID)
			attempt = 0
		}
		if err := waitErr(errc); err != nil && ctx.Err() == nil {
			logger.Warn("lnwatcher: htlc forward stream disconnected, reconnecting", zap.Error(err))
			if !sleep(ctx, backoff.NextDelay(bo, attempt)) {
				return
			}
			attempt++
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isTerminalInvoiceState(state string) bool {
	return state == "SETTLED" || state == "CANCELED"
}

func isTerminalPaymentStatus(status string) bool {
	return status == "SUCCEEDED" || status == "FAILED"
}

func waitErr(errc <-chan error) error {
	return <-errc
}
