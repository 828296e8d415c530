// Package router implements C4: it claims Ingested TrackedOps one group id
// at a time, routes each to the conversion engine (C5), and persists the
// terminal state. The journal in internal/database is the single source of
// truth; the Redis stream the watchers publish to is only a low-latency
// wakeup, and a periodic sweep of the journal recovers anything whose
// publish never arrived or whose consumer died mid-flight.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/hiveln-bridge/bridge/internal/convert"
	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/ops"
	"github.com/hiveln-bridge/bridge/pkg/cache"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"github.com/hiveln-bridge/bridge/pkg/queue"
	"go.uber.org/zap"
)

const (
	// TrackedOpsStream mirrors hivewatcher.TrackedOpsStream and
	// lnwatcher.TrackedOpsStream; all three name the same Redis stream.
	TrackedOpsStream = "tracked_ops"
	consumerGroup    = "router"

	groupLockPrefix = "groupid:lock:"
	groupLockTTL    = 30 * time.Second

	sweepInterval = 30 * time.Second
	sweepBatch    = 100
	sweepMinAge   = 10 * time.Second
)

// Engine is the subset of *convert.Engine the router drives.
type Engine interface {
	Handle(ctx context.Context, op *ops.TrackedOp) convert.Outcome
}

// Router claims Ingested TrackedOps out of the journal and drives them to a
// terminal state via Engine.
type Router struct {
	repo   *database.TrackedOpRepository
	engine Engine
	queue  *queue.StreamQueue
}

func New(repo *database.TrackedOpRepository, engine Engine, streamQueue *queue.StreamQueue) *Router {
	return &Router{repo: repo, engine: engine, queue: streamQueue}
}

// Run declares the consumer group, starts the periodic recovery sweep, and
// blocks consuming the stream until ctx is cancelled.
func (r *Router) Run(ctx context.Context, consumerName string) error {
	if err := r.queue.DeclareStream(ctx, TrackedOpsStream, consumerGroup); err != nil {
		return fmt.Errorf("router: declaring consumer group: %w", err)
	}

	go r.sweepLoop(ctx)

	return r.queue.Consume(ctx, TrackedOpsStream, consumerGroup, consumerName, func(_ string, data []byte) error {
		r.handleGroupID(ctx, string(data))
		return nil
	})
}

// sweepLoop periodically republishes any journal row still Ingested past
// sweepMinAge, for the case where the watcher's publish was lost (Redis
// hiccup, publisher left nil, etc). A row younger than sweepMinAge is left
// alone; it's within normal dispatch latency, not stuck.
func (r *Router) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Router) sweepOnce(ctx context.Context) {
	rows, err := r.repo.ListIngestedBySourceTimestamp(ctx, sweepBatch)
	if err != nil {
		logger.Warn("router: recovery sweep failed to list ingested ops", zap.Error(err))
		return
	}
	for _, row := range rows {
		if time.Since(row.IngestedTimestamp) < sweepMinAge {
			continue
		}
		if _, err := r.queue.Publish(ctx, TrackedOpsStream, []byte(row.GroupID)); err != nil {
			logger.Warn("router: recovery sweep failed to republish",
				zap.String("group_id", row.GroupID), zap.Error(err))
		}
	}
}

// handleGroupID claims a single group id under a per-op lock, advances it
// to Routed, runs it through the engine, and persists the terminal state.
// A group id already past Ingested (another consumer got there first, or
// this is a redelivery of a signal for an op already finished) is a no-op.
func (r *Router) handleGroupID(ctx context.Context, groupID string) {
	row, err := r.repo.GetByGroupID(ctx, groupID)
	if err != nil {
		logger.Warn("router: could not load tracked op for dispatch",
			zap.String("group_id", groupID), zap.Error(err))
		return
	}
	if row.State != ops.Ingested {
		return
	}

	lockKey := groupLockPrefix + groupID
	acquired, err := cache.SetNX(ctx, lockKey, "locked", groupLockTTL)
	if err != nil {
		logger.Warn("router: lock acquisition failed", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer cache.Delete(ctx, lockKey)

	op := row.ToTrackedOp()
	if err := op.Advance(ops.Routed); err != nil {
		logger.Error("router: invalid state transition", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	if err := r.repo.UpdateState(ctx, op.GroupID, op.State.String(), nil, nil); err != nil {
		logger.Error("router: failed to persist routed state", zap.String("group_id", groupID), zap.Error(err))
		return
	}

	start := time.Now()
	outcome := r.engine.Handle(ctx, op)
	r.finalize(ctx, op, outcome, time.Since(start))
}

// applyOutcome maps a convert.Outcome onto a terminal ops.State transition
// on op. Refunded counts as Processed: the engine already made the op whole
// by reversing it, so the router sees a successfully handled terminal op,
// not a failure needing operator attention.
func applyOutcome(op *ops.TrackedOp, outcome convert.Outcome, elapsed time.Duration) error {
	switch outcome.Kind {
	case convert.Processed, convert.Refunded:
		return op.MarkProcessed(elapsed)
	case convert.Skipped:
		return op.MarkSkipped(outcome.Reason)
	case convert.Failed:
		cause := outcome.Err
		if cause == nil {
			cause = fmt.Errorf("router: failed outcome with no error: %s", outcome.Reason)
		}
		return op.MarkFailed(cause)
	default:
		return op.MarkFailed(fmt.Errorf("router: unrecognized outcome kind %q", outcome.Kind))
	}
}

// finalize applies outcome to op and persists the resulting terminal state.
func (r *Router) finalize(ctx context.Context, op *ops.TrackedOp, outcome convert.Outcome, elapsed time.Duration) {
	if err := applyOutcome(op, outcome, elapsed); err != nil {
		logger.Error("router: invalid terminal transition",
			zap.String("group_id", op.GroupID), zap.Error(err), logger.Notify())
		return
	}

	var processTimeMS *int64
	if op.ProcessTime != nil {
		ms := op.ProcessTime.Milliseconds()
		processTimeMS = &ms
	}
	if err := r.repo.UpdateState(ctx, op.GroupID, op.State.String(), processTimeMS, op.LastError); err != nil {
		logger.Error("router: failed to persist terminal state",
			zap.String("group_id", op.GroupID), zap.Error(err), logger.Notify())
		return
	}

	logger.Info("router: op reached terminal state",
		zap.String("group_id", op.GroupID), zap.String("source_kind", op.SourceKind.String()),
		zap.String("outcome", string(outcome.Kind)), zap.Duration("elapsed", elapsed))
}
