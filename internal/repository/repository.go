package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/micohasanen/hexagon-api/internal/models"
)

// OrderKey locates a Listing or Bid from an on-chain event, which carries
// no database id. Addresses must be lowercased before lookup.
type OrderKey struct {
	CollectionAddress string
	TokenID           uint64
	UserAddress       string
	Nonce             uint64
}

// AuctionKey locates an auction; the marketplace contract allows one
// auction per (collection, token, owner).
type AuctionKey struct {
	CollectionAddress string
	TokenID           uint64
	Owner             string
}

// PriceStats aggregates currently-active listings for one token.
type PriceStats struct {
	Count   int64
	Lowest  decimal.Decimal
	Highest decimal.Decimal
}

// BidStats aggregates currently-active bids for one token.
type BidStats struct {
	Count         int64
	Lowest        decimal.Decimal
	Highest       decimal.Decimal
	HighestBidder string
}

// CollectionPriceStats is the grouped min/avg/max over active listings
// across a collection.
type CollectionPriceStats struct {
	Count   int64
	Floor   decimal.Decimal
	Average decimal.Decimal
	Highest decimal.Decimal
}

// Repository is the storage contract of the lifecycle engine. InTx is the
// multi-document transaction primitive; every *Tx method participates in
// the transaction it is handed and must only be called from inside InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Listings.
	InsertListing(ctx context.Context, item *models.Listing) error
	GetListingByID(ctx context.Context, id uint64) (*models.Listing, error)
	GetListingByKey(ctx context.Context, key OrderKey) (*models.Listing, error)
	GetActiveListingByKeyTx(ctx context.Context, tx *gorm.DB, key OrderKey) (*models.Listing, error)
	CountActiveListings(ctx context.Context, collection string, tokenID uint64, owner string) (int64, error)
	ListActiveListingsByOwnerTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, owner string) ([]models.Listing, error)
	UpdateListing(ctx context.Context, item *models.Listing) error
	UpdateListingTx(ctx context.Context, tx *gorm.DB, item *models.Listing) error
	// UpdateListingIfActive applies fields only while the row is still
	// active and reports whether a row changed; a job firing after a
	// concurrent settlement changes nothing.
	UpdateListingIfActive(ctx context.Context, id uint64, fields map[string]any) (bool, error)
	ListOverdueListings(ctx context.Context, now int64, limit int) ([]models.Listing, error)
	TokenListingStats(ctx context.Context, collection string, tokenID uint64) (PriceStats, error)
	CollectionListingStats(ctx context.Context, collection string) (CollectionPriceStats, error)

	// Bids.
	InsertBid(ctx context.Context, item *models.Bid) error
	GetBidByID(ctx context.Context, id uint64) (*models.Bid, error)
	GetBidByKey(ctx context.Context, key OrderKey) (*models.Bid, error)
	GetActiveBidByKeyTx(ctx context.Context, tx *gorm.DB, key OrderKey) (*models.Bid, error)
	HasActiveBid(ctx context.Context, collection string, tokenID uint64, owner string) (bool, error)
	ListActiveBidsByOwnerTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, owner string) ([]models.Bid, error)
	UpdateBid(ctx context.Context, item *models.Bid) error
	UpdateBidTx(ctx context.Context, tx *gorm.DB, item *models.Bid) error
	UpdateBidIfActive(ctx context.Context, id uint64, fields map[string]any) (bool, error)
	ListOverdueBids(ctx context.Context, now int64, limit int) ([]models.Bid, error)
	TokenBidStats(ctx context.Context, collection string, tokenID uint64) (BidStats, error)

	// Auctions.
	InsertAuction(ctx context.Context, item *models.Auction) error
	GetAuctionByID(ctx context.Context, id uint64) (*models.Auction, error)
	GetAuctionByKey(ctx context.Context, key AuctionKey) (*models.Auction, error)
	GetAuctionByKeyTx(ctx context.Context, tx *gorm.DB, key AuctionKey) (*models.Auction, error)
	UpdateAuction(ctx context.Context, item *models.Auction) error
	UpdateAuctionTx(ctx context.Context, tx *gorm.DB, item *models.Auction) error
	// UpdateAuctionIfOpen applies fields only while the auction has not
	// ended, reporting whether a row changed.
	UpdateAuctionIfOpen(ctx context.Context, id uint64, fields map[string]any) (bool, error)
	ListOverdueAuctions(ctx context.Context, now int64, limit int) ([]models.Auction, error)

	// Sales.
	InsertSaleTx(ctx context.Context, tx *gorm.DB, item *models.Sale) error

	// Tokens.
	GetToken(ctx context.Context, collection string, tokenID uint64) (*models.Token, error)
	SaveToken(ctx context.Context, item *models.Token) error
	UpdateTokenFields(ctx context.Context, collection string, tokenID uint64, fields map[string]any) error
	UpdateTokenFieldsTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, fields map[string]any) error
	ListTokensByCollection(ctx context.Context, collection string) ([]models.Token, error)

	// Collections.
	GetCollection(ctx context.Context, address string) (*models.Collection, error)
	UpdateCollectionFields(ctx context.Context, address string, fields map[string]any) error
	BumpCollectionSaleTx(ctx context.Context, tx *gorm.DB, address string, value decimal.Decimal) error
}
