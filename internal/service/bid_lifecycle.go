package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/notify"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

// BidService drives the bid state machine. Bids carry no balance check
// at creation; the chain rejects an underfunded acceptance, and the
// engine only mirrors what the chain confirms.
type BidService struct {
	Repo   repository.Repository
	Prices *PriceAggregator
	Expiry *ExpiryScheduler
	Notify notify.Notifier
	Logger *zap.Logger

	DefaultChain string

	now func() time.Time
}

func (s *BidService) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Create validates and persists a new bid. A bidder may hold at most one
// active bid per token; placing a second is a conflict, not a replace.
func (s *BidService) Create(ctx context.Context, in CreateBidInput) (*models.Bid, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	collection, err := NormalizeAddress(in.CollectionAddress)
	if err != nil {
		return nil, err
	}
	bidder, err := NormalizeAddress(in.UserAddress)
	if err != nil {
		return nil, err
	}
	if in.Quantity == 0 {
		return nil, validationf("quantity", "must be at least 1")
	}
	if !in.PricePerItem.IsPositive() {
		return nil, validationf("pricePerItem", "must be positive")
	}
	if in.Nonce == 0 {
		return nil, validationf("nonce", "must be positive")
	}
	if in.Expiry <= s.clock().Unix() {
		return nil, validationf("expiry", "already passed")
	}
	if in.SigR == "" || in.SigS == "" {
		return nil, validationf("signature", "missing")
	}

	exists, err := s.Repo.HasActiveBid(ctx, collection, in.TokenID, bidder)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &ConflictError{Reason: "an active bid for this token already exists"}
	}

	bid := &models.Bid{
		CollectionAddress: collection,
		TokenID:           in.TokenID,
		Owner:             bidder,
		Nonce:             in.Nonce,
		Quantity:          in.Quantity,
		PricePerItem:      in.PricePerItem,
		Expiry:            in.Expiry,
		Chain:             s.DefaultChain,
		SigR:              in.SigR,
		SigS:              in.SigS,
		SigV:              in.SigV,
		Active:            true,
	}
	if err := s.Repo.InsertBid(ctx, bid); err != nil {
		return nil, err
	}

	if err := s.Prices.RefreshTokenBids(ctx, collection, in.TokenID); err != nil {
		return nil, err
	}
	if err := s.Expiry.ScheduleBid(ctx, bid.ID, bid.Expiry); err != nil {
		return nil, err
	}

	if s.Notify != nil {
		token, err := s.Repo.GetToken(ctx, collection, in.TokenID)
		if err == nil && token != nil && token.Owner != "" {
			if err := s.Notify.Notify(ctx, notify.Notification{
				Kind:     notify.KindBid,
				Receiver: token.Owner,
				Sender:   bidder,
				Value:    in.PricePerItem,
				Info:     collection,
			}); err != nil && s.Logger != nil {
				s.Logger.Warn("bid notification failed", zap.Error(err))
			}
		}
	}

	if s.Logger != nil {
		s.Logger.Info("bid created",
			zap.Uint64("id", bid.ID),
			zap.String("collection", collection),
			zap.Uint64("token", in.TokenID),
			zap.String("price", in.PricePerItem.String()),
		)
	}
	return bid, nil
}

// Cancel deactivates a bid and returns the current record. Missing or
// already-terminal bids are a no-op.
func (s *BidService) Cancel(ctx context.Context, key repository.OrderKey) (*models.Bid, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key, err := normalizeOrderKey(key)
	if err != nil {
		return nil, err
	}
	bid, err := s.Repo.GetBidByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if bid == nil || bid.Terminal() {
		return bid, nil
	}

	changed, err := s.Repo.UpdateBidIfActive(ctx, bid.ID, terminalUpdate("canceled"))
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost to a concurrent settlement; hand back whatever won.
		return s.Repo.GetBidByKey(ctx, key)
	}
	bid.Active = false
	bid.Canceled = true
	bid.ScrubSignature()

	if err := s.Expiry.UnscheduleBid(ctx, bid.ID); err != nil {
		return nil, err
	}
	if err := s.Prices.RefreshTokenBids(ctx, key.CollectionAddress, key.TokenID); err != nil {
		return nil, err
	}
	return bid, nil
}

// Accept settles a bid against a confirmed on-chain acceptance and
// returns the settled bid together with the sale it produced. The
// seller is the token owner accepting the offer; their own remaining
// listings on the token are canceled in the same transaction because
// the ownership change invalidates their signatures.
func (s *BidService) Accept(ctx context.Context, in AcceptBidInput) (*models.Bid, *models.Sale, error) {
	if s == nil || s.Repo == nil {
		return nil, nil, nil
	}
	key, err := normalizeOrderKey(in.Key)
	if err != nil {
		return nil, nil, err
	}
	seller, err := NormalizeAddress(in.Seller)
	if err != nil {
		return nil, nil, err
	}

	coll, err := s.Repo.GetCollection(ctx, key.CollectionAddress)
	if err != nil {
		return nil, nil, err
	}

	var settled *models.Bid
	var sale *models.Sale
	var canceledListings []models.Listing
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		bid, err := s.Repo.GetActiveBidByKeyTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if bid == nil {
			return &NotFoundError{Entity: "Bid"}
		}
		if seller == bid.Owner {
			return &ConflictError{Reason: "bidder cannot accept their own bid"}
		}

		bid.Active = false
		bid.Accepted = true
		bid.ScrubSignature()
		if err := s.Repo.UpdateBidTx(ctx, tx, bid); err != nil {
			return err
		}
		settled = bid

		listings, err := s.Repo.ListActiveListingsByOwnerTx(ctx, tx, key.CollectionAddress, key.TokenID, seller)
		if err != nil {
			return err
		}
		for i := range listings {
			listings[i].Active = false
			listings[i].Canceled = true
			listings[i].ScrubSignature()
			if err := s.Repo.UpdateListingTx(ctx, tx, &listings[i]); err != nil {
				return err
			}
		}
		canceledListings = listings

		now := s.clock()
		value := bid.PricePerItem.Mul(decimal.NewFromUint64(bid.Quantity))
		sale = &models.Sale{
			CollectionAddress: key.CollectionAddress,
			TokenID:           key.TokenID,
			SaleType:          models.SaleTypeBid,
			Seller:            seller,
			Buyer:             bid.Owner,
			Value:             value,
			MarketplaceFee:    in.MarketplaceFee,
			CreatorFee:        in.CreatorFee,
			OwnerRevenue:      in.OwnerRevenue,
			Timestamp:         now,
			BlockNumber:       in.BlockNumber,
			TransactionHash:   in.TransactionHash,
		}
		if err := s.Repo.InsertSaleTx(ctx, tx, sale); err != nil {
			return err
		}

		fields := map[string]any{
			"last_sold_at":    now,
			"last_sale_price": bid.PricePerItem,
		}
		if coll == nil || coll.ContractType != models.ContractTypeERC1155 {
			fields["owner"] = bid.Owner
		}
		if err := s.Repo.UpdateTokenFieldsTx(ctx, tx, key.CollectionAddress, key.TokenID, fields); err != nil {
			return err
		}

		return s.Repo.BumpCollectionSaleTx(ctx, tx, key.CollectionAddress, value)
	})
	if err != nil {
		return nil, nil, err
	}

	for i := range canceledListings {
		if err := s.Expiry.UnscheduleListing(ctx, canceledListings[i].ID); err != nil {
			return nil, nil, err
		}
	}
	if err := s.Prices.RefreshToken(ctx, key.CollectionAddress, key.TokenID); err != nil {
		return nil, nil, err
	}
	if err := s.Prices.RefreshCollectionAsync(ctx, key.CollectionAddress); err != nil {
		return nil, nil, err
	}
	if s.Notify != nil {
		if err := s.Notify.Notify(ctx, notify.Notification{
			Kind:     notify.KindSale,
			Receiver: sale.Seller,
			Sender:   sale.Buyer,
			Value:    sale.Value,
			Info:     sale.CollectionAddress,
		}); err != nil && s.Logger != nil {
			s.Logger.Warn("sale notification failed", zap.Error(err))
		}
	}

	if s.Logger != nil {
		s.Logger.Info("bid accepted",
			zap.String("collection", key.CollectionAddress),
			zap.Uint64("token", key.TokenID),
			zap.String("seller", sale.Seller),
			zap.String("buyer", sale.Buyer),
			zap.String("value", sale.Value.String()),
		)
	}
	return settled, sale, nil
}

// Expire marks a bid expired once its deadline has truly passed.
func (s *BidService) Expire(ctx context.Context, id uint64) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	bid, err := s.Repo.GetBidByID(ctx, id)
	if err != nil {
		return err
	}
	if bid == nil {
		return &NotFoundError{Entity: "Bid"}
	}
	if bid.Terminal() || bid.Deleted {
		return nil
	}
	if bid.Expiry > s.clock().Unix() {
		return s.Expiry.ScheduleBid(ctx, bid.ID, bid.Expiry)
	}

	changed, err := s.Repo.UpdateBidIfActive(ctx, bid.ID, terminalUpdate("expired"))
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	return s.Prices.RefreshTokenBids(ctx, bid.CollectionAddress, bid.TokenID)
}

// SoftDelete hides a bid without erasing the row.
func (s *BidService) SoftDelete(ctx context.Context, key repository.OrderKey) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key, err := normalizeOrderKey(key)
	if err != nil {
		return err
	}
	bid, err := s.Repo.GetBidByKey(ctx, key)
	if err != nil {
		return err
	}
	if bid == nil {
		return &NotFoundError{Entity: "Bid"}
	}
	if bid.Deleted {
		return nil
	}

	bid.Deleted = true
	bid.Active = false
	bid.ScrubSignature()
	if err := s.Repo.UpdateBid(ctx, bid); err != nil {
		return err
	}

	if err := s.Expiry.UnscheduleBid(ctx, bid.ID); err != nil {
		return err
	}
	return s.Prices.RefreshTokenBids(ctx, key.CollectionAddress, key.TokenID)
}
