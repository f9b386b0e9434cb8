package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/micohasanen/hexagon-api/internal/queue"
)

type expiryPayload struct {
	ID uint64 `json:"id"`
}

// ExpiryScheduler enqueues one delayed expiry job per order. Jobs are
// keyed by order id, so re-scheduling the same order replaces the
// earlier job instead of stacking a second one.
type ExpiryScheduler struct {
	Queue  queue.Queue
	Logger *zap.Logger

	// Surplus is added on top of the time until expiry so the engine
	// never declares an order expired before the chain would.
	Surplus time.Duration

	now func() time.Time
}

func (s *ExpiryScheduler) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func (s *ExpiryScheduler) delayUntil(expiry int64) time.Duration {
	until := time.Unix(expiry, 0).Sub(s.clock())
	if until < 0 {
		until = 0
	}
	return until + s.Surplus
}

func (s *ExpiryScheduler) schedule(ctx context.Context, queueName string, id uint64, expiry int64) error {
	if s == nil || s.Queue == nil {
		return nil
	}
	payload, err := json.Marshal(expiryPayload{ID: id})
	if err != nil {
		return err
	}
	job := queue.Job{
		Key:     strconv.FormatUint(id, 10),
		Payload: payload,
		Delay:   s.delayUntil(expiry),
	}
	if err := s.Queue.Enqueue(ctx, queueName, job); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Debug("expiry scheduled",
			zap.String("queue", queueName),
			zap.Uint64("id", id),
			zap.Duration("delay", job.Delay),
		)
	}
	return nil
}

func (s *ExpiryScheduler) unschedule(ctx context.Context, queueName string, id uint64) error {
	if s == nil || s.Queue == nil {
		return nil
	}
	return s.Queue.Remove(ctx, queueName, strconv.FormatUint(id, 10))
}

func (s *ExpiryScheduler) ScheduleListing(ctx context.Context, id uint64, expiry int64) error {
	return s.schedule(ctx, queue.QueueExpiryListings, id, expiry)
}

func (s *ExpiryScheduler) ScheduleBid(ctx context.Context, id uint64, expiry int64) error {
	return s.schedule(ctx, queue.QueueExpiryBids, id, expiry)
}

func (s *ExpiryScheduler) ScheduleAuction(ctx context.Context, id uint64, expiry int64) error {
	return s.schedule(ctx, queue.QueueExpiryAuctions, id, expiry)
}

func (s *ExpiryScheduler) UnscheduleListing(ctx context.Context, id uint64) error {
	return s.unschedule(ctx, queue.QueueExpiryListings, id)
}

func (s *ExpiryScheduler) UnscheduleBid(ctx context.Context, id uint64) error {
	return s.unschedule(ctx, queue.QueueExpiryBids, id)
}

func (s *ExpiryScheduler) UnscheduleAuction(ctx context.Context, id uint64) error {
	return s.unschedule(ctx, queue.QueueExpiryAuctions, id)
}
