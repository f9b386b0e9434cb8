package service

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/notify"
	"github.com/micohasanen/hexagon-api/internal/queue"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

// stubRepo is a test-only in-memory implementation of
// repository.Repository. Field-map updates interpret the column names
// the services actually write.
type stubRepo struct {
	nextID      uint64
	listings    map[uint64]models.Listing
	bids        map[uint64]models.Bid
	auctions    map[uint64]models.Auction
	sales       []models.Sale
	tokens      map[string]models.Token
	collections map[string]models.Collection

	// beforeGuardedUpdate runs right before a guarded state flip, where
	// a concurrently committing settlement would land.
	beforeGuardedUpdate func()
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		listings:    make(map[uint64]models.Listing),
		bids:        make(map[uint64]models.Bid),
		auctions:    make(map[uint64]models.Auction),
		tokens:      make(map[string]models.Token),
		collections: make(map[string]models.Collection),
	}
}

func tokenKey(collection string, tokenID uint64) string {
	return collection + "/" + strconv.FormatUint(tokenID, 10)
}

func (s *stubRepo) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) InsertListing(ctx context.Context, item *models.Listing) error {
	item.ID = s.id()
	s.listings[item.ID] = *item
	return nil
}

func (s *stubRepo) GetListingByID(ctx context.Context, id uint64) (*models.Listing, error) {
	if item, ok := s.listings[id]; ok {
		out := item
		return &out, nil
	}
	return nil, nil
}

func matchOrderKey(collection string, tokenID uint64, owner string, nonce uint64, key repository.OrderKey) bool {
	return collection == key.CollectionAddress && tokenID == key.TokenID &&
		owner == key.UserAddress && nonce == key.Nonce
}

func (s *stubRepo) GetListingByKey(ctx context.Context, key repository.OrderKey) (*models.Listing, error) {
	for _, item := range s.listings {
		if matchOrderKey(item.CollectionAddress, item.TokenID, item.Owner, item.Nonce, key) {
			out := item
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetActiveListingByKeyTx(ctx context.Context, tx *gorm.DB, key repository.OrderKey) (*models.Listing, error) {
	item, err := s.GetListingByKey(ctx, key)
	if err != nil || item == nil || !item.Active {
		return nil, err
	}
	return item, nil
}

func (s *stubRepo) CountActiveListings(ctx context.Context, collection string, tokenID uint64, owner string) (int64, error) {
	var n int64
	for _, item := range s.listings {
		if item.Active && item.CollectionAddress == collection && item.TokenID == tokenID && item.Owner == owner {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) ListActiveListingsByOwnerTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, owner string) ([]models.Listing, error) {
	var out []models.Listing
	for _, item := range s.listings {
		if item.Active && item.CollectionAddress == collection && item.TokenID == tokenID && item.Owner == owner {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateListing(ctx context.Context, item *models.Listing) error {
	s.listings[item.ID] = *item
	return nil
}

func (s *stubRepo) UpdateListingTx(ctx context.Context, tx *gorm.DB, item *models.Listing) error {
	return s.UpdateListing(ctx, item)
}

func (s *stubRepo) UpdateListingIfActive(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	if s.beforeGuardedUpdate != nil {
		s.beforeGuardedUpdate()
	}
	item, ok := s.listings[id]
	if !ok || !item.Active {
		return false, nil
	}
	for name, value := range fields {
		switch name {
		case "active":
			item.Active = value.(bool)
		case "canceled":
			item.Canceled = value.(bool)
		case "expired":
			item.Expired = value.(bool)
		case "sig_r":
			item.SigR = value.(string)
		case "sig_s":
			item.SigS = value.(string)
		case "sig_v":
			item.SigV = value.(int)
		}
	}
	s.listings[id] = item
	return true, nil
}

func (s *stubRepo) ListOverdueListings(ctx context.Context, now int64, limit int) ([]models.Listing, error) {
	var out []models.Listing
	for _, item := range s.listings {
		if item.Active && item.Expiry <= now {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) TokenListingStats(ctx context.Context, collection string, tokenID uint64) (repository.PriceStats, error) {
	var stats repository.PriceStats
	for _, item := range s.listings {
		if !item.Active || item.CollectionAddress != collection || item.TokenID != tokenID {
			continue
		}
		if stats.Count == 0 || item.PricePerItem.LessThan(stats.Lowest) {
			stats.Lowest = item.PricePerItem
		}
		if stats.Count == 0 || item.PricePerItem.GreaterThan(stats.Highest) {
			stats.Highest = item.PricePerItem
		}
		stats.Count++
	}
	return stats, nil
}

func (s *stubRepo) CollectionListingStats(ctx context.Context, collection string) (repository.CollectionPriceStats, error) {
	var stats repository.CollectionPriceStats
	sum := decimal.Zero
	for _, item := range s.listings {
		if !item.Active || item.CollectionAddress != collection {
			continue
		}
		if stats.Count == 0 || item.PricePerItem.LessThan(stats.Floor) {
			stats.Floor = item.PricePerItem
		}
		if stats.Count == 0 || item.PricePerItem.GreaterThan(stats.Highest) {
			stats.Highest = item.PricePerItem
		}
		sum = sum.Add(item.PricePerItem)
		stats.Count++
	}
	if stats.Count > 0 {
		stats.Average = sum.Div(decimal.NewFromInt(stats.Count))
	}
	return stats, nil
}

func (s *stubRepo) InsertBid(ctx context.Context, item *models.Bid) error {
	item.ID = s.id()
	s.bids[item.ID] = *item
	return nil
}

func (s *stubRepo) GetBidByID(ctx context.Context, id uint64) (*models.Bid, error) {
	if item, ok := s.bids[id]; ok {
		out := item
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetBidByKey(ctx context.Context, key repository.OrderKey) (*models.Bid, error) {
	for _, item := range s.bids {
		if matchOrderKey(item.CollectionAddress, item.TokenID, item.Owner, item.Nonce, key) {
			out := item
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetActiveBidByKeyTx(ctx context.Context, tx *gorm.DB, key repository.OrderKey) (*models.Bid, error) {
	item, err := s.GetBidByKey(ctx, key)
	if err != nil || item == nil || !item.Active {
		return nil, err
	}
	return item, nil
}

func (s *stubRepo) HasActiveBid(ctx context.Context, collection string, tokenID uint64, owner string) (bool, error) {
	for _, item := range s.bids {
		if item.Active && item.CollectionAddress == collection && item.TokenID == tokenID && item.Owner == owner {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRepo) ListActiveBidsByOwnerTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, owner string) ([]models.Bid, error) {
	var out []models.Bid
	for _, item := range s.bids {
		if item.Active && item.CollectionAddress == collection && item.TokenID == tokenID && item.Owner == owner {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateBid(ctx context.Context, item *models.Bid) error {
	s.bids[item.ID] = *item
	return nil
}

func (s *stubRepo) UpdateBidTx(ctx context.Context, tx *gorm.DB, item *models.Bid) error {
	return s.UpdateBid(ctx, item)
}

func (s *stubRepo) UpdateBidIfActive(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	if s.beforeGuardedUpdate != nil {
		s.beforeGuardedUpdate()
	}
	item, ok := s.bids[id]
	if !ok || !item.Active {
		return false, nil
	}
	for name, value := range fields {
		switch name {
		case "active":
			item.Active = value.(bool)
		case "canceled":
			item.Canceled = value.(bool)
		case "expired":
			item.Expired = value.(bool)
		case "sig_r":
			item.SigR = value.(string)
		case "sig_s":
			item.SigS = value.(string)
		case "sig_v":
			item.SigV = value.(int)
		}
	}
	s.bids[id] = item
	return true, nil
}

func (s *stubRepo) ListOverdueBids(ctx context.Context, now int64, limit int) ([]models.Bid, error) {
	var out []models.Bid
	for _, item := range s.bids {
		if item.Active && item.Expiry <= now {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) TokenBidStats(ctx context.Context, collection string, tokenID uint64) (repository.BidStats, error) {
	var stats repository.BidStats
	for _, item := range s.bids {
		if !item.Active || item.CollectionAddress != collection || item.TokenID != tokenID {
			continue
		}
		if stats.Count == 0 || item.PricePerItem.LessThan(stats.Lowest) {
			stats.Lowest = item.PricePerItem
		}
		if stats.Count == 0 || item.PricePerItem.GreaterThan(stats.Highest) {
			stats.Highest = item.PricePerItem
			stats.HighestBidder = item.Owner
		}
		stats.Count++
	}
	return stats, nil
}

func (s *stubRepo) InsertAuction(ctx context.Context, item *models.Auction) error {
	item.ID = s.id()
	s.auctions[item.ID] = *item
	return nil
}

func (s *stubRepo) GetAuctionByID(ctx context.Context, id uint64) (*models.Auction, error) {
	if item, ok := s.auctions[id]; ok {
		out := item
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetAuctionByKey(ctx context.Context, key repository.AuctionKey) (*models.Auction, error) {
	var found *models.Auction
	for _, item := range s.auctions {
		if item.CollectionAddress == key.CollectionAddress && item.TokenID == key.TokenID && item.Owner == key.Owner {
			if found == nil || item.ID > found.ID {
				out := item
				found = &out
			}
		}
	}
	return found, nil
}

func (s *stubRepo) GetAuctionByKeyTx(ctx context.Context, tx *gorm.DB, key repository.AuctionKey) (*models.Auction, error) {
	return s.GetAuctionByKey(ctx, key)
}

func (s *stubRepo) UpdateAuction(ctx context.Context, item *models.Auction) error {
	s.auctions[item.ID] = *item
	return nil
}

func (s *stubRepo) UpdateAuctionTx(ctx context.Context, tx *gorm.DB, item *models.Auction) error {
	return s.UpdateAuction(ctx, item)
}

func (s *stubRepo) UpdateAuctionIfOpen(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	if s.beforeGuardedUpdate != nil {
		s.beforeGuardedUpdate()
	}
	item, ok := s.auctions[id]
	if !ok || item.Ended {
		return false, nil
	}
	for name, value := range fields {
		switch name {
		case "ended":
			item.Ended = value.(bool)
		case "active":
			item.Active = value.(bool)
		}
	}
	s.auctions[id] = item
	return true, nil
}

func (s *stubRepo) ListOverdueAuctions(ctx context.Context, now int64, limit int) ([]models.Auction, error) {
	var out []models.Auction
	for _, item := range s.auctions {
		if item.Active && !item.Ended && item.Expiry <= now {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) InsertSaleTx(ctx context.Context, tx *gorm.DB, item *models.Sale) error {
	item.ID = s.id()
	s.sales = append(s.sales, *item)
	return nil
}

func (s *stubRepo) GetToken(ctx context.Context, collection string, tokenID uint64) (*models.Token, error) {
	if item, ok := s.tokens[tokenKey(collection, tokenID)]; ok {
		out := item
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) SaveToken(ctx context.Context, item *models.Token) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.tokens[tokenKey(item.CollectionAddress, item.TokenID)] = *item
	return nil
}

func (s *stubRepo) UpdateTokenFields(ctx context.Context, collection string, tokenID uint64, fields map[string]any) error {
	return s.UpdateTokenFieldsTx(ctx, nil, collection, tokenID, fields)
}

func (s *stubRepo) UpdateTokenFieldsTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, fields map[string]any) error {
	key := tokenKey(collection, tokenID)
	item, ok := s.tokens[key]
	if !ok {
		return nil
	}
	for name, value := range fields {
		switch name {
		case "owner":
			item.Owner = value.(string)
		case "highest_price":
			item.HighestPrice = value.(decimal.Decimal)
		case "lowest_price":
			item.LowestPrice = value.(decimal.Decimal)
		case "highest_bid":
			item.HighestBid = value.(decimal.Decimal)
		case "lowest_bid":
			item.LowestBid = value.(decimal.Decimal)
		case "highest_bidder":
			item.HighestBidder = value.(string)
		case "last_sold_at":
			at := value.(time.Time)
			item.LastSoldAt = &at
		case "last_sale_price":
			item.LastSalePrice = value.(decimal.Decimal)
		case "auctions":
			item.Auctions = value.(datatypes.JSON)
		case "traits":
			item.Traits = value.(datatypes.JSON)
		case "rarity":
			item.Rarity = value.(float64)
		case "rarity_rank":
			item.RarityRank = value.(int)
		}
	}
	s.tokens[key] = item
	return nil
}

func (s *stubRepo) ListTokensByCollection(ctx context.Context, collection string) ([]models.Token, error) {
	var out []models.Token
	for _, item := range s.tokens {
		if item.CollectionAddress == collection {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubRepo) GetCollection(ctx context.Context, address string) (*models.Collection, error) {
	if item, ok := s.collections[address]; ok {
		out := item
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) UpdateCollectionFields(ctx context.Context, address string, fields map[string]any) error {
	item, ok := s.collections[address]
	if !ok {
		return nil
	}
	for name, value := range fields {
		switch name {
		case "floor_price":
			item.FloorPrice = value.(decimal.Decimal)
		case "average_price":
			item.AveragePrice = value.(decimal.Decimal)
		case "highest_price":
			item.HighestPrice = value.(decimal.Decimal)
		case "traits":
			item.Traits = value.(datatypes.JSON)
		case "rarity_highest":
			item.RarityHighest = value.(float64)
		case "rarity_lowest":
			item.RarityLowest = value.(float64)
		}
	}
	s.collections[address] = item
	return nil
}

func (s *stubRepo) BumpCollectionSaleTx(ctx context.Context, tx *gorm.DB, address string, value decimal.Decimal) error {
	item, ok := s.collections[address]
	if !ok {
		return nil
	}
	item.VolumeTotal = item.VolumeTotal.Add(value)
	item.SalesTotal++
	s.collections[address] = item
	return nil
}

// stubQueue records enqueued jobs per queue, keyed like the redis
// implementation so dedupe-by-key behavior is observable.
type stubQueue struct {
	jobs map[string]map[string]queue.Job
}

func newStubQueue() *stubQueue {
	return &stubQueue{jobs: make(map[string]map[string]queue.Job)}
}

func (q *stubQueue) Enqueue(ctx context.Context, name string, job queue.Job) error {
	if q.jobs[name] == nil {
		q.jobs[name] = make(map[string]queue.Job)
	}
	q.jobs[name][job.Key] = job
	return nil
}

func (q *stubQueue) Remove(ctx context.Context, name string, key string) error {
	delete(q.jobs[name], key)
	return nil
}

func (q *stubQueue) has(name, key string) bool {
	_, ok := q.jobs[name][key]
	return ok
}

type stubNotifier struct {
	sent []notify.Notification
}

func (n *stubNotifier) Notify(ctx context.Context, msg notify.Notification) error {
	n.sent = append(n.sent, msg)
	return nil
}
