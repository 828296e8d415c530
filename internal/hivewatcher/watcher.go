// Package hivewatcher implements C2: a single ordered stream of Hive
// blocks turned into TrackedOps, with exponential-backoff reconnect and a
// catch-up/streaming mode switch driven by how far the persisted cursor
// trails the chain head.
package hivewatcher

import (
	"context"
	"errors"
	"time"

	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/hiveapi"
	"github.com/hiveln-bridge/bridge/internal/ops"
	"github.com/hiveln-bridge/bridge/pkg/backoff"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// Config tunes the watcher's catch-up/streaming behavior.
type Config struct {
	Accounts           []string
	TrackedCustomIDs   []string
	WatchedWitness     string
	StartHeight        uint64
	CatchUpLag         time.Duration
	CatchUpBatchBlocks int
}

// Publisher is the narrow slice of pkg/queue.StreamQueue the watcher needs
// to wake the router (C4) as soon as a new op lands. It is a low-latency
// signal only: the journal write via repo.Create already happened and
// remains the durable source of truth, so a nil Publisher or a failed
// publish just means the router's periodic recovery sweep picks it up.
type Publisher interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// TrackedOpsStream is the Redis stream the watchers publish group ids onto
// and the router consumes from.
const TrackedOpsStream = "tracked_ops"

// Watcher advances a Hive block cursor and emits TrackedOps into the
// journal. It does not deliver events in memory — the router (C4) reads
// them back out of the journal in Ingested state, woken either by the
// stream publish below or by its own recovery sweep.
type Watcher struct {
	client    hiveapi.Client
	repo      *database.TrackedOpRepository
	cfg       Config
	filters   interestSet
	publisher Publisher
}

func New(client hiveapi.Client, repo *database.TrackedOpRepository, cfg Config) *Watcher {
	return &Watcher{
		client:  client,
		repo:    repo,
		cfg:     cfg,
		filters: newInterestSet(cfg.Accounts, cfg.TrackedCustomIDs, cfg.WatchedWitness),
	}
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
		logger.Warn("hivewatcher: failed to publish router wakeup, recovery sweep will catch it",
			zap.String("group_id", groupID), zap.Error(err))
	}
}

// Run blocks until ctx is cancelled, advancing one block at a time and
// reconnecting with capped exponential backoff on source-client failure.
// The source is the source of truth: no events are fabricated, and a
// missing block at the tip is tolerated (wait and retry) while a missing
// block inside the stream is reported and retried from the same height —
// never skipped.
func (w *Watcher) Run(ctx context.Context) error {
	height, err := w.resumeHeight(ctx)
	if err != nil {
		return err
	}

	bo := backoff.DefaultConfig()
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		head, err := w.client.HeadHeight(ctx)
		if err != nil {
			logger.Warn("hivewatcher: failed to fetch head height", zap.Error(err))
			if !sleep(ctx, backoff.NextDelay(bo, attempt)) {
				return ctx.Err()
			}
			attempt++
			continue
		}

		catchingUp := head > height && time.Duration(head-height)*blockInterval > w.cfg.CatchUpLag
		batch := 1
		if catchingUp {
			batch = w.cfg.CatchUpBatchBlocks
			if batch < 1 {
				batch = 1
			}
		}

		advanced := false
		for i := 0; i < batch && height < head; i++ {
			next := height + 1
			if err := w.processBlock(ctx, next, catchingUp); err != nil {
				if errors.Is(err, hiveapi.ErrBlockNotFound) {
					// Missing at the tip: wait and retry, not fatal.
					break
				}
				logger.Error("hivewatcher: block processing failed, will retry same height",
					zap.Uint64("height", next), zap.Error(err))
				if !sleep(ctx, backoff.NextDelay(bo, attempt)) {
					return ctx.Err()
				}
				attempt++
				break
			}
			height = next
			advanced = true
			attempt = 0
		}

		if !advanced {
			if !sleep(ctx, blockInterval) {
				return ctx.Err()
			}
		}
	}
}

// blockInterval is Hive's nominal block production cadence, used only to
// convert a height lag into a wall-clock lag for the catch-up threshold.
const blockInterval = 3 * time.Second

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

func (w *Watcher) resumeHeight(ctx context.Context) (uint64, error) {
	kinds := []ops.SourceKind{ops.HiveTransfer, ops.HiveCustomMessage, ops.HiveWitnessReward, ops.HiveLimitOrder}
	var best uint64
	found := false
	for _, k := range kinds {
		ok, row, err := w.repo.HighestSourceTimestampForKind(ctx, k.String())
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		var payload EventPayload
		if err := unmarshalPayload(row.Payload, &payload); err != nil {
			continue
		}
		if !found || payload.BlockHeight > best {
			best = payload.BlockHeight
			found = true
		}
	}
	if found {
		return best, nil
	}
	return w.cfg.StartHeight, nil
}

func (w *Watcher) processBlock(ctx context.Context, height uint64, catchingUp bool) error {
	block, err := w.client.GetBlock(ctx, height)
	if err != nil {
		return err
	}

	for _, op := range block.Operations {
		kind, matched := w.filters.match(op)
		if !matched {
			continue
		}

		groupID := ops.DerivedGroupID(naturalKey(height, op)...)
		payload := EventPayload{BlockHeight: height, Operation: op}
		trackedOp := ops.New(groupID, kind, block.Timestamp, payload.marshal())
		row := database.TrackedOpRowFrom(trackedOp)

		if err := w.repo.Create(ctx, row); err != nil {
			if errors.Is(err, database.ErrDuplicateTrackedOp) {
				continue // already ingested; re-scan of a block we've seen before
			}
			return err
		}
		w.notifyRouter(ctx, groupID)

		if !catchingUp {
			logger.Info("hivewatcher: ingested op",
				zap.Uint64("height", height), zap.String("source_kind", kind.String()),
				zap.String("group_id", groupID))
		}
	}

	if catchingUp && height%uint64(w.cfg.CatchUpBatchBlocks+1) == 0 {
		logger.Info("hivewatcher: catch-up progress", zap.Uint64("height", height))
	}

	return nil
}
