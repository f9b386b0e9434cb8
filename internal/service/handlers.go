package service

import (
	"context"
	"encoding/json"

	"github.com/micohasanen/hexagon-api/internal/queue"
)

// Registry is the handler-binding side of the queue, implemented by
// queue.Redis.
type Registry interface {
	Handle(queue string, h queue.Handler)
}

// Handlers wires every queue to its consumer. Expiry handlers swallow
// NotFound: the order was hard-deleted or belongs to a wiped
// environment, and retrying would never succeed.
type Handlers struct {
	Listings  *ListingService
	Bids      *BidService
	Auctions  *AuctionService
	Rarity    *RarityService
	Prices    *PriceAggregator
	Transfers *TransferService
}

func (h Handlers) Register(r Registry) {
	r.Handle(queue.QueueExpiryListings, expiryHandler(h.Listings.Expire))
	r.Handle(queue.QueueExpiryBids, expiryHandler(h.Bids.Expire))
	r.Handle(queue.QueueExpiryAuctions, expiryHandler(h.Auctions.Expire))
	r.Handle(queue.QueueRarity, dropNotFound(h.Rarity.HandleGenerate))
	r.Handle(queue.QueueCollectionPrices, h.Prices.HandleCollectionRefresh)
	r.Handle(queue.QueueTransfers, h.Transfers.HandleTransfer)
}

func expiryHandler(expire func(ctx context.Context, id uint64) error) queue.Handler {
	return func(ctx context.Context, payload []byte) error {
		var msg expiryPayload
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		if err := expire(ctx, msg.ID); err != nil && !IsNotFound(err) {
			return err
		}
		return nil
	}
}

func dropNotFound(h queue.Handler) queue.Handler {
	return func(ctx context.Context, payload []byte) error {
		if err := h(ctx, payload); err != nil && !IsNotFound(err) {
			return err
		}
		return nil
	}
}
