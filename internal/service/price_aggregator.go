package service

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/micohasanen/hexagon-api/internal/queue"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

type collectionPayload struct {
	Collection string `json:"collection"`
}

// PriceAggregator recomputes the denormalized price caches on tokens and
// collections from the set of currently-active orders. Every refresh is
// a full recomputation, so a missed refresh is healed by the next one.
type PriceAggregator struct {
	Repo   repository.Repository
	Queue  queue.Queue
	Logger *zap.Logger
}

// RefreshTokenListings rewrites the token's listing price cache. With no
// active listings both bounds go back to zero.
func (p *PriceAggregator) RefreshTokenListings(ctx context.Context, collection string, tokenID uint64) error {
	if p == nil || p.Repo == nil {
		return nil
	}
	stats, err := p.Repo.TokenListingStats(ctx, collection, tokenID)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"highest_price": stats.Highest,
		"lowest_price":  stats.Lowest,
	}
	if stats.Count == 0 {
		fields["highest_price"] = decimal.Zero
		fields["lowest_price"] = decimal.Zero
	}
	return p.Repo.UpdateTokenFields(ctx, collection, tokenID, fields)
}

// RefreshTokenBids rewrites the token's bid cache. The highest bidder is
// cleared when no bid remains active.
func (p *PriceAggregator) RefreshTokenBids(ctx context.Context, collection string, tokenID uint64) error {
	if p == nil || p.Repo == nil {
		return nil
	}
	stats, err := p.Repo.TokenBidStats(ctx, collection, tokenID)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"highest_bid":    stats.Highest,
		"lowest_bid":     stats.Lowest,
		"highest_bidder": stats.HighestBidder,
	}
	if stats.Count == 0 {
		fields["highest_bid"] = decimal.Zero
		fields["lowest_bid"] = decimal.Zero
		fields["highest_bidder"] = ""
	}
	return p.Repo.UpdateTokenFields(ctx, collection, tokenID, fields)
}

func (p *PriceAggregator) RefreshToken(ctx context.Context, collection string, tokenID uint64) error {
	if err := p.RefreshTokenListings(ctx, collection, tokenID); err != nil {
		return err
	}
	return p.RefreshTokenBids(ctx, collection, tokenID)
}

// RefreshCollection recomputes floor, average and highest over the
// collection's active listings.
func (p *PriceAggregator) RefreshCollection(ctx context.Context, collection string) error {
	if p == nil || p.Repo == nil {
		return nil
	}
	stats, err := p.Repo.CollectionListingStats(ctx, collection)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"floor_price":   stats.Floor,
		"average_price": stats.Average,
		"highest_price": stats.Highest,
	}
	if stats.Count == 0 {
		fields["floor_price"] = decimal.Zero
		fields["average_price"] = decimal.Zero
		fields["highest_price"] = decimal.Zero
	}
	return p.Repo.UpdateCollectionFields(ctx, collection, fields)
}

// RefreshCollectionAsync defers the collection-wide recompute to the
// queue. Jobs are keyed by address, so a burst of sales within one
// collection collapses into a single refresh.
func (p *PriceAggregator) RefreshCollectionAsync(ctx context.Context, collection string) error {
	if p == nil || p.Queue == nil {
		return nil
	}
	payload, err := json.Marshal(collectionPayload{Collection: collection})
	if err != nil {
		return err
	}
	return p.Queue.Enqueue(ctx, queue.QueueCollectionPrices, queue.Job{
		Key:     collection,
		Payload: payload,
	})
}

func (p *PriceAggregator) HandleCollectionRefresh(ctx context.Context, payload []byte) error {
	var msg collectionPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if p != nil && p.Logger != nil {
		p.Logger.Debug("refreshing collection prices", zap.String("collection", msg.Collection))
	}
	return p.RefreshCollection(ctx, msg.Collection)
}
