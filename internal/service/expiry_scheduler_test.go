package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/queue"
)

func TestExpirySchedulerClampsPastExpiry(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	// An expiry already in the past still gets the surplus so the job
	// fires shortly after, never immediately at enqueue time.
	past := f.now.Add(-time.Hour).Unix()
	if err := f.expiry.ScheduleListing(ctx, 7, past); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	job := f.queue.jobs[queue.QueueExpiryListings]["7"]
	if job.Delay != 30*time.Second {
		t.Fatalf("delay=%s want=30s", job.Delay)
	}
}

func TestExpirySchedulerReplacesJob(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	if err := f.expiry.ScheduleBid(ctx, 7, f.now.Add(time.Hour).Unix()); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := f.expiry.ScheduleBid(ctx, 7, f.now.Add(2*time.Hour).Unix()); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if n := len(f.queue.jobs[queue.QueueExpiryBids]); n != 1 {
		t.Fatalf("jobs=%d want=1", n)
	}
	job := f.queue.jobs[queue.QueueExpiryBids]["7"]
	if job.Delay != 2*time.Hour+30*time.Second {
		t.Fatalf("delay=%s, reschedule should win", job.Delay)
	}
}

func TestExpirySweeperReenqueues(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	listing, err := f.listings.Create(ctx, f.listingInput(alice, 5, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bid, err := f.bids.Create(ctx, f.bidInput(bob, 3, 1))
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}

	// Simulate a redis flush: the scheduled jobs are gone but the rows
	// are still live past their expiry.
	f.queue.jobs = map[string]map[string]queue.Job{}
	f.now = f.now.Add(2 * time.Hour)

	sweeper := &ExpirySweeper{Repo: f.repo, Scheduler: f.expiry, Batch: 100}
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !f.queue.has(queue.QueueExpiryListings, strconv.FormatUint(listing.ID, 10)) {
		t.Fatal("listing not re-enqueued")
	}
	if !f.queue.has(queue.QueueExpiryBids, strconv.FormatUint(bid.ID, 10)) {
		t.Fatal("bid not re-enqueued")
	}
}
