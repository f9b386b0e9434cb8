package gormrepository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// session returns the transaction when one is supplied, otherwise a
// context-bound handle on the root connection.
func (s *Store) session(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// --- Listings ---------------------------------------------------------------

func (s *Store) InsertListing(ctx context.Context, item *models.Listing) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetListingByID(ctx context.Context, id uint64) (*models.Listing, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Listing
	err := s.db.WithContext(ctx).First(&item, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetListingByKey(ctx context.Context, key repository.OrderKey) (*models.Listing, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Listing
	err := s.db.WithContext(ctx).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND nonce = ?",
			key.CollectionAddress, key.TokenID, key.UserAddress, key.Nonce).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetActiveListingByKeyTx takes a row lock so concurrent accepts against
// the same order serialize; the loser re-reads a terminal row.
func (s *Store) GetActiveListingByKeyTx(ctx context.Context, tx *gorm.DB, key repository.OrderKey) (*models.Listing, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Listing
	err := s.session(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND nonce = ? AND active = ?",
			key.CollectionAddress, key.TokenID, key.UserAddress, key.Nonce, true).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) CountActiveListings(ctx context.Context, collection string, tokenID uint64, owner string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND active = ?", collection, tokenID, owner, true).
		Count(&count).Error
	return count, err
}

func (s *Store) ListActiveListingsByOwnerTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, owner string) ([]models.Listing, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Listing
	err := s.session(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND active = ?", collection, tokenID, owner, true).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateListing(ctx context.Context, item *models.Listing) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) UpdateListingTx(ctx context.Context, tx *gorm.DB, item *models.Listing) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Save(item).Error
}

func (s *Store) UpdateListingIfActive(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	if s == nil || s.db == nil || len(fields) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND active = ?", id, true).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListOverdueListings(ctx context.Context, now int64, limit int) ([]models.Listing, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Listing
	err := s.db.WithContext(ctx).
		Where("active = ? AND expiry <= ?", true, now).
		Order("expiry asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

type priceStatsRow struct {
	Count   int64
	Lowest  decimal.Decimal
	Highest decimal.Decimal
}

func (s *Store) TokenListingStats(ctx context.Context, collection string, tokenID uint64) (repository.PriceStats, error) {
	if s == nil || s.db == nil {
		return repository.PriceStats{}, nil
	}
	var row priceStatsRow
	err := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Select("COUNT(*) AS count, COALESCE(MIN(price_per_item), 0) AS lowest, COALESCE(MAX(price_per_item), 0) AS highest").
		Where("collection_address = ? AND token_id = ? AND active = ?", collection, tokenID, true).
		Scan(&row).Error
	if err != nil {
		return repository.PriceStats{}, err
	}
	return repository.PriceStats{Count: row.Count, Lowest: row.Lowest, Highest: row.Highest}, nil
}

func (s *Store) CollectionListingStats(ctx context.Context, collection string) (repository.CollectionPriceStats, error) {
	if s == nil || s.db == nil {
		return repository.CollectionPriceStats{}, nil
	}
	var row struct {
		Count   int64
		Floor   decimal.Decimal
		Average decimal.Decimal
		Highest decimal.Decimal
	}
	err := s.db.WithContext(ctx).
		Model(&models.Listing{}).
		Select("COUNT(*) AS count, COALESCE(MIN(price_per_item), 0) AS floor, COALESCE(AVG(price_per_item), 0) AS average, COALESCE(MAX(price_per_item), 0) AS highest").
		Where("collection_address = ? AND active = ?", collection, true).
		Scan(&row).Error
	if err != nil {
		return repository.CollectionPriceStats{}, err
	}
	return repository.CollectionPriceStats{
		Count:   row.Count,
		Floor:   row.Floor,
		Average: row.Average,
		Highest: row.Highest,
	}, nil
}

// --- Bids -------------------------------------------------------------------

func (s *Store) InsertBid(ctx context.Context, item *models.Bid) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetBidByID(ctx context.Context, id uint64) (*models.Bid, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Bid
	err := s.db.WithContext(ctx).First(&item, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetBidByKey(ctx context.Context, key repository.OrderKey) (*models.Bid, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Bid
	err := s.db.WithContext(ctx).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND nonce = ?",
			key.CollectionAddress, key.TokenID, key.UserAddress, key.Nonce).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetActiveBidByKeyTx(ctx context.Context, tx *gorm.DB, key repository.OrderKey) (*models.Bid, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Bid
	err := s.session(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND nonce = ? AND active = ?",
			key.CollectionAddress, key.TokenID, key.UserAddress, key.Nonce, true).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) HasActiveBid(ctx context.Context, collection string, tokenID uint64, owner string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Bid{}).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND active = ?", collection, tokenID, owner, true).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) ListActiveBidsByOwnerTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, owner string) ([]models.Bid, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Bid
	err := s.session(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection_address = ? AND token_id = ? AND owner = ? AND active = ?", collection, tokenID, owner, true).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateBid(ctx context.Context, item *models.Bid) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) UpdateBidTx(ctx context.Context, tx *gorm.DB, item *models.Bid) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Save(item).Error
}

func (s *Store) UpdateBidIfActive(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	if s == nil || s.db == nil || len(fields) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Bid{}).
		Where("id = ? AND active = ?", id, true).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListOverdueBids(ctx context.Context, now int64, limit int) ([]models.Bid, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Bid
	err := s.db.WithContext(ctx).
		Where("active = ? AND expiry <= ?", true, now).
		Order("expiry asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TokenBidStats(ctx context.Context, collection string, tokenID uint64) (repository.BidStats, error) {
	if s == nil || s.db == nil {
		return repository.BidStats{}, nil
	}
	var row priceStatsRow
	err := s.db.WithContext(ctx).
		Model(&models.Bid{}).
		Select("COUNT(*) AS count, COALESCE(MIN(price_per_item), 0) AS lowest, COALESCE(MAX(price_per_item), 0) AS highest").
		Where("collection_address = ? AND token_id = ? AND active = ?", collection, tokenID, true).
		Scan(&row).Error
	if err != nil {
		return repository.BidStats{}, err
	}
	stats := repository.BidStats{Count: row.Count, Lowest: row.Lowest, Highest: row.Highest}
	if row.Count == 0 {
		return stats, nil
	}
	var top models.Bid
	err = s.db.WithContext(ctx).
		Where("collection_address = ? AND token_id = ? AND active = ?", collection, tokenID, true).
		Order("price_per_item desc, created_at asc").
		First(&top).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return repository.BidStats{}, err
	}
	stats.HighestBidder = top.Owner
	return stats, nil
}

// --- Auctions ---------------------------------------------------------------

func (s *Store) InsertAuction(ctx context.Context, item *models.Auction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetAuctionByID(ctx context.Context, id uint64) (*models.Auction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Auction
	err := s.db.WithContext(ctx).First(&item, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetAuctionByKey(ctx context.Context, key repository.AuctionKey) (*models.Auction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Auction
	err := s.db.WithContext(ctx).
		Where("collection_address = ? AND token_id = ? AND owner = ?", key.CollectionAddress, key.TokenID, key.Owner).
		Order("created_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetAuctionByKeyTx(ctx context.Context, tx *gorm.DB, key repository.AuctionKey) (*models.Auction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Auction
	err := s.session(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection_address = ? AND token_id = ? AND owner = ?", key.CollectionAddress, key.TokenID, key.Owner).
		Order("created_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateAuction(ctx context.Context, item *models.Auction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) UpdateAuctionTx(ctx context.Context, tx *gorm.DB, item *models.Auction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Save(item).Error
}

func (s *Store) UpdateAuctionIfOpen(ctx context.Context, id uint64, fields map[string]any) (bool, error) {
	if s == nil || s.db == nil || len(fields) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Auction{}).
		Where("id = ? AND ended = ?", id, false).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListOverdueAuctions(ctx context.Context, now int64, limit int) ([]models.Auction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Auction
	err := s.db.WithContext(ctx).
		Where("active = ? AND ended = ? AND expiry <= ?", true, false, now).
		Order("expiry asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Sales ------------------------------------------------------------------

func (s *Store) InsertSaleTx(ctx context.Context, tx *gorm.DB, item *models.Sale) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Create(item).Error
}

// --- Tokens -----------------------------------------------------------------

func (s *Store) GetToken(ctx context.Context, collection string, tokenID uint64) (*models.Token, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Token
	err := s.db.WithContext(ctx).
		Where("collection_address = ? AND token_id = ?", collection, tokenID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveToken(ctx context.Context, item *models.Token) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) UpdateTokenFields(ctx context.Context, collection string, tokenID uint64, fields map[string]any) error {
	return s.UpdateTokenFieldsTx(ctx, nil, collection, tokenID, fields)
}

func (s *Store) UpdateTokenFieldsTx(ctx context.Context, tx *gorm.DB, collection string, tokenID uint64, fields map[string]any) error {
	if s == nil || s.db == nil || len(fields) == 0 {
		return nil
	}
	return s.session(ctx, tx).
		Model(&models.Token{}).
		Where("collection_address = ? AND token_id = ?", collection, tokenID).
		Updates(fields).Error
}

func (s *Store) ListTokensByCollection(ctx context.Context, collection string) ([]models.Token, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Token
	err := s.db.WithContext(ctx).
		Where("collection_address = ?", collection).
		Order("token_id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Collections ------------------------------------------------------------

func (s *Store) GetCollection(ctx context.Context, address string) (*models.Collection, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Collection
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateCollectionFields(ctx context.Context, address string, fields map[string]any) error {
	if s == nil || s.db == nil || len(fields) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Collection{}).
		Where("address = ?", address).
		Updates(fields).Error
}

func (s *Store) BumpCollectionSaleTx(ctx context.Context, tx *gorm.DB, address string, value decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.session(ctx, tx).
		Model(&models.Collection{}).
		Where("address = ?", address).
		Updates(map[string]any{
			"volume_total": gorm.Expr("volume_total + ?", value),
			"sales_total":  gorm.Expr("sales_total + 1"),
		}).Error
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
