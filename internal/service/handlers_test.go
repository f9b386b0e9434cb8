package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/queue"
)

func TestExpiryHandlerDropsNotFound(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	h := expiryHandler(f.listings.Expire)

	// A job for a row that no longer exists must not loop through the
	// retry path forever.
	if err := h(context.Background(), []byte(`{"id":999}`)); err != nil {
		t.Fatalf("want nil, got %v", err)
	}
	if err := h(context.Background(), []byte(`{broken`)); err == nil {
		t.Fatal("malformed payload should error")
	}
}

func TestCollectionRefreshHandler(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	if _, err := f.listings.Create(ctx, f.listingInput(alice, 5, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	job, ok := f.queue.jobs[queue.QueueCollectionPrices][collAddr]
	if !ok {
		t.Fatal("refresh job not enqueued")
	}
	if err := f.prices.HandleCollectionRefresh(ctx, job.Payload); err != nil {
		t.Fatalf("handle: %v", err)
	}

	coll := f.repo.collections[collAddr]
	five := decimal.NewFromInt(5)
	if !coll.FloorPrice.Equal(five) || !coll.AveragePrice.Equal(five) || !coll.HighestPrice.Equal(five) {
		t.Fatalf("collection prices wrong: %+v", coll)
	}
}

func TestCollectionRefreshClearsWhenEmpty(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	f.repo.collections[collAddr] = models.Collection{
		Address:    collAddr,
		FloorPrice: decimal.NewFromInt(9),
	}
	if err := f.prices.RefreshCollection(ctx, collAddr); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if coll := f.repo.collections[collAddr]; !coll.FloorPrice.IsZero() {
		t.Fatalf("floor should be cleared, got %s", coll.FloorPrice)
	}
}
