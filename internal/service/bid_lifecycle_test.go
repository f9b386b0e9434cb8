package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/notify"
	"github.com/micohasanen/hexagon-api/internal/queue"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

func TestBidCreate(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	bid, err := f.bids.Create(ctx, f.bidInput(bob, 3, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if bid.ID == 0 || !bid.Active {
		t.Fatalf("bid not active: %+v", bid)
	}

	tok := f.token(t)
	if !tok.HighestBid.Equal(decimal.NewFromInt(3)) || tok.HighestBidder != bob {
		t.Fatalf("bid cache wrong: high=%s bidder=%s", tok.HighestBid, tok.HighestBidder)
	}
	if !f.queue.has(queue.QueueExpiryBids, strconv.FormatUint(bid.ID, 10)) {
		t.Fatal("expiry job not scheduled")
	}

	// The token owner is told about the new offer.
	if len(f.notifier.sent) != 1 {
		t.Fatalf("notifications=%d want=1", len(f.notifier.sent))
	}
	n := f.notifier.sent[0]
	if n.Kind != notify.KindBid || n.Receiver != alice || n.Sender != bob {
		t.Fatalf("notification wrong: %+v", n)
	}
}

func TestBidCreateDuplicateConflict(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	if _, err := f.bids.Create(ctx, f.bidInput(bob, 3, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.bids.Create(ctx, f.bidInput(bob, 4, 2)); !IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
	// A different bidder is fine.
	if _, err := f.bids.Create(ctx, f.bidInput(carol, 4, 1)); err != nil {
		t.Fatalf("carol create: %v", err)
	}
}

func TestBidAcceptCancelsSellerListings(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	listing, err := f.listings.Create(ctx, f.listingInput(alice, 5, 1))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	bid, err := f.bids.Create(ctx, f.bidInput(bob, 3, 1))
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}

	settled, sale, err := f.bids.Accept(ctx, AcceptBidInput{
		Key: repository.OrderKey{
			CollectionAddress: collAddr, TokenID: 1, UserAddress: bob, Nonce: 1,
		},
		Seller:          alice,
		BlockNumber:     101,
		TransactionHash: "0xdef",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if sale.SaleType != models.SaleTypeBid || sale.Seller != alice || sale.Buyer != bob {
		t.Fatalf("sale wrong: %+v", sale)
	}
	if !sale.Value.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("sale value=%s want=3", sale.Value)
	}
	if settled == nil || settled.ID != bid.ID || !settled.Accepted || settled.Active {
		t.Fatalf("settled bid not returned: %+v", settled)
	}

	if got := f.repo.bids[bid.ID]; !got.Accepted || got.Active || got.SigR != models.SignatureScrubbed {
		t.Fatalf("bid not settled: %+v", got)
	}

	// The seller's listing cannot outlive the ownership change.
	if got := f.repo.listings[listing.ID]; !got.Canceled || got.Active {
		t.Fatalf("seller listing not canceled: %+v", got)
	}
	if f.queue.has(queue.QueueExpiryListings, strconv.FormatUint(listing.ID, 10)) {
		t.Fatal("canceled listing expiry job should be removed")
	}

	tok := f.token(t)
	if tok.Owner != bob {
		t.Fatalf("token owner=%s want=%s", tok.Owner, bob)
	}
	if !tok.HighestBid.IsZero() || !tok.HighestPrice.IsZero() {
		t.Fatalf("caches should be cleared: bid=%s price=%s", tok.HighestBid, tok.HighestPrice)
	}

	coll := f.repo.collections[collAddr]
	if !coll.VolumeTotal.Equal(decimal.NewFromInt(3)) || coll.SalesTotal != 1 {
		t.Fatalf("collection counters wrong: vol=%s sales=%d", coll.VolumeTotal, coll.SalesTotal)
	}
}

func TestBidAcceptTwiceFails(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	if _, err := f.bids.Create(ctx, f.bidInput(bob, 3, 1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	in := AcceptBidInput{
		Key:    repository.OrderKey{CollectionAddress: collAddr, TokenID: 1, UserAddress: bob, Nonce: 1},
		Seller: alice,
	}
	if _, _, err := f.bids.Accept(ctx, in); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, _, err := f.bids.Accept(ctx, in); !IsNotFound(err) {
		t.Fatalf("second accept: want not-found, got %v", err)
	}
}

func TestBidCancelIdempotent(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	bid, err := f.bids.Create(ctx, f.bidInput(bob, 3, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key := repository.OrderKey{CollectionAddress: collAddr, TokenID: 1, UserAddress: bob, Nonce: 1}

	if _, err := f.bids.Cancel(ctx, key); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.repo.bids[bid.ID]; !got.Canceled || got.Active {
		t.Fatalf("not canceled: %+v", got)
	}
	if tok := f.token(t); !tok.HighestBid.IsZero() || tok.HighestBidder != "" {
		t.Fatalf("bid cache should be cleared: %+v", tok)
	}
	replayed, err := f.bids.Cancel(ctx, key)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if replayed == nil || !replayed.Canceled {
		t.Fatalf("replayed cancel should return the record: %+v", replayed)
	}
}

func TestBidExpire(t *testing.T) {
	f := newFixture(t, models.ContractTypeERC721)
	ctx := context.Background()

	bid, err := f.bids.Create(ctx, f.bidInput(bob, 3, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.bids.Expire(ctx, bid.ID); err != nil {
		t.Fatalf("early expire: %v", err)
	}
	if got := f.repo.bids[bid.ID]; got.Expired {
		t.Fatalf("early expire mutated state: %+v", got)
	}

	f.now = f.now.Add(2 * time.Hour)
	if err := f.bids.Expire(ctx, bid.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got := f.repo.bids[bid.ID]
	if !got.Expired || got.Active || got.SigR != models.SignatureScrubbed {
		t.Fatalf("not expired: %+v", got)
	}
	if tok := f.token(t); !tok.HighestBid.IsZero() {
		t.Fatalf("bid cache should be cleared, got %s", tok.HighestBid)
	}
}
