package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/micohasanen/hexagon-api/internal/repository"
)

// ExpirySweeper is the safety net behind the delayed queue. The queue
// loses jobs across a redis flush; the sweeper re-enqueues every order
// that is past expiry but not yet marked, so nothing stays live forever.
type ExpirySweeper struct {
	Repo      repository.Repository
	Scheduler *ExpiryScheduler
	Logger    *zap.Logger
	Batch     int
}

func (s *ExpirySweeper) Sweep(ctx context.Context) error {
	if s == nil || s.Repo == nil || s.Scheduler == nil {
		return nil
	}
	now := time.Now().UTC().Unix()

	listings, err := s.Repo.ListOverdueListings(ctx, now, s.Batch)
	if err != nil {
		return err
	}
	for i := range listings {
		if err := s.Scheduler.ScheduleListing(ctx, listings[i].ID, listings[i].Expiry); err != nil {
			return err
		}
	}

	bids, err := s.Repo.ListOverdueBids(ctx, now, s.Batch)
	if err != nil {
		return err
	}
	for i := range bids {
		if err := s.Scheduler.ScheduleBid(ctx, bids[i].ID, bids[i].Expiry); err != nil {
			return err
		}
	}

	auctions, err := s.Repo.ListOverdueAuctions(ctx, now, s.Batch)
	if err != nil {
		return err
	}
	for i := range auctions {
		if err := s.Scheduler.ScheduleAuction(ctx, auctions[i].ID, auctions[i].Expiry); err != nil {
			return err
		}
	}

	if s.Logger != nil && len(listings)+len(bids)+len(auctions) > 0 {
		s.Logger.Info("expiry sweep re-enqueued overdue orders",
			zap.Int("listings", len(listings)),
			zap.Int("bids", len(bids)),
			zap.Int("auctions", len(auctions)),
		)
	}
	return nil
}
