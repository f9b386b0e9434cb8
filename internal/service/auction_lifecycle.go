package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/notify"
	"github.com/micohasanen/hexagon-api/internal/ownership"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

// AuctionService drives the auction state machine: pending on create,
// active once the chain confirms the start, ended by settlement or
// expiry. Auction bids are off-chain escrowless amounts kept as an
// append-only history on the auction row.
type AuctionService struct {
	Repo   repository.Repository
	Prices *PriceAggregator
	Expiry *ExpiryScheduler
	Owners ownership.Oracle
	Notify notify.Notifier
	Logger *zap.Logger

	DefaultChain string

	now func() time.Time
}

func (s *AuctionService) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Create persists a pending auction. It stays invisible to bidders until
// Start confirms it on-chain.
func (s *AuctionService) Create(ctx context.Context, in CreateAuctionInput) (*models.Auction, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	collection, err := NormalizeAddress(in.CollectionAddress)
	if err != nil {
		return nil, err
	}
	owner, err := NormalizeAddress(in.Owner)
	if err != nil {
		return nil, err
	}
	if in.Quantity == 0 {
		return nil, validationf("quantity", "must be at least 1")
	}
	if !in.MinBid.IsPositive() {
		return nil, validationf("minBid", "must be positive")
	}
	if in.PercentIncrement < 0 {
		return nil, validationf("percentIncrement", "must not be negative")
	}
	if in.Expiry <= s.clock().Unix() {
		return nil, validationf("expiry", "already passed")
	}

	if s.Owners == nil {
		return nil, fmt.Errorf("ownership check: no oracle configured")
	}
	res, err := s.Owners.IsOwnerOfToken(ctx, collection, owner, in.TokenID, in.Quantity)
	if err != nil {
		return nil, err
	}
	if !res.Status {
		return nil, validationf("owner", "user does not own this token")
	}

	existing, err := s.Repo.GetAuctionByKey(ctx, repository.AuctionKey{
		CollectionAddress: collection,
		TokenID:           in.TokenID,
		Owner:             owner,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Ended {
		return nil, &ConflictError{Reason: "an open auction for this token already exists"}
	}

	auction := &models.Auction{
		CollectionAddress: collection,
		TokenID:           in.TokenID,
		Owner:             owner,
		Quantity:          in.Quantity,
		MinBid:            in.MinBid,
		PercentIncrement:  in.PercentIncrement,
		Expiry:            in.Expiry,
		Chain:             s.DefaultChain,
		HighestBidder:     models.ZeroAddress,
	}
	if err := s.Repo.InsertAuction(ctx, auction); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("auction created",
			zap.Uint64("id", auction.ID),
			zap.String("collection", collection),
			zap.Uint64("token", in.TokenID),
			zap.String("minBid", in.MinBid.String()),
		)
	}
	return auction, nil
}

// Start activates a pending auction after the chain confirms it,
// records the confirming block, links the auction on its token and
// schedules expiry. Replayed start events are a no-op.
func (s *AuctionService) Start(ctx context.Context, in StartAuctionInput) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key, err := normalizeAuctionKey(in.Key)
	if err != nil {
		return err
	}
	auction, err := s.Repo.GetAuctionByKey(ctx, key)
	if err != nil {
		return err
	}
	if auction == nil {
		return &NotFoundError{Entity: "Auction"}
	}
	if auction.Ended {
		return &ConflictError{Reason: "auction has already ended"}
	}
	if auction.Active {
		return nil
	}

	auction.Active = true
	auction.BlockNumber = in.BlockNumber
	auction.TransactionHash = in.TransactionHash
	if err := s.Repo.UpdateAuction(ctx, auction); err != nil {
		return err
	}

	if err := s.linkTokenAuction(ctx, key.CollectionAddress, key.TokenID, auction.ID, true); err != nil {
		return err
	}
	if err := s.Expiry.ScheduleAuction(ctx, auction.ID, auction.Expiry); err != nil {
		return err
	}

	if s.Logger != nil {
		s.Logger.Info("auction started",
			zap.Uint64("id", auction.ID),
			zap.Uint64("block", in.BlockNumber),
		)
	}
	return nil
}

// PlaceBid appends a bid to the auction history and raises the highest
// bid. The first bid must reach MinBid; later bids must beat the
// current highest by at least PercentIncrement.
func (s *AuctionService) PlaceBid(ctx context.Context, in PlaceAuctionBidInput) (*models.Auction, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key, err := normalizeAuctionKey(in.Key)
	if err != nil {
		return nil, err
	}
	bidder, err := NormalizeAddress(in.Bidder)
	if err != nil {
		return nil, err
	}

	auction, err := s.Repo.GetAuctionByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, &NotFoundError{Entity: "Auction"}
	}
	if !auction.Active || auction.Ended {
		return nil, &ConflictError{Reason: "auction is not active"}
	}
	if auction.Expiry <= s.clock().Unix() {
		return nil, &ConflictError{Reason: "auction has expired"}
	}
	if bidder == auction.Owner {
		return nil, &ConflictError{Reason: "owner cannot bid on their own auction"}
	}
	if !in.Amount.IsPositive() {
		return nil, validationf("amount", "must be positive")
	}

	if !auction.HasBids() {
		if in.Amount.LessThan(auction.MinBid) {
			return nil, validationf("amount", "below the minimum bid of %s", auction.MinBid.String())
		}
	} else {
		factor := decimal.NewFromFloat(1 + auction.PercentIncrement/100)
		threshold := auction.HighestBid.Mul(factor)
		if in.Amount.LessThan(threshold) {
			return nil, validationf("amount", "must be at least %s", threshold.String())
		}
	}

	history, err := unmarshalAuctionBids(auction.Bids)
	if err != nil {
		return nil, err
	}
	history = append(history, models.AuctionBid{
		Bidder:    bidder,
		Value:     in.Amount,
		Timestamp: s.clock().Unix(),
	})
	raw, err := models.MarshalJSON(history)
	if err != nil {
		return nil, err
	}
	auction.Bids = raw
	if in.Amount.GreaterThan(auction.HighestBid) {
		auction.HighestBid = in.Amount
		auction.HighestBidder = bidder
	}
	if err := s.Repo.UpdateAuction(ctx, auction); err != nil {
		return nil, err
	}

	if s.Notify != nil {
		if err := s.Notify.Notify(ctx, notify.Notification{
			Kind:     notify.KindBid,
			Receiver: auction.Owner,
			Sender:   bidder,
			Value:    in.Amount,
			Info:     key.CollectionAddress,
		}); err != nil && s.Logger != nil {
			s.Logger.Warn("bid notification failed", zap.Error(err))
		}
	}

	if s.Logger != nil {
		s.Logger.Info("auction bid placed",
			zap.Uint64("id", auction.ID),
			zap.String("bidder", bidder),
			zap.String("amount", in.Amount.String()),
		)
	}
	return auction, nil
}

// End settles an auction against a confirmed on-chain settlement event.
// With bids it produces a sale and transfers the token to the highest
// bidder; without bids it just closes. Replays are a no-op.
func (s *AuctionService) End(ctx context.Context, in EndAuctionInput) (*models.Sale, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key, err := normalizeAuctionKey(in.Key)
	if err != nil {
		return nil, err
	}

	coll, err := s.Repo.GetCollection(ctx, key.CollectionAddress)
	if err != nil {
		return nil, err
	}

	var sale *models.Sale
	var auctionID uint64
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		auction, err := s.Repo.GetAuctionByKeyTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if auction == nil {
			return &NotFoundError{Entity: "Auction"}
		}
		auctionID = auction.ID
		if auction.Ended && !auction.Active {
			return nil
		}

		auction.Ended = true
		auction.Active = false
		auction.BlockNumber = in.BlockNumber
		auction.TransactionHash = in.TransactionHash
		if err := s.Repo.UpdateAuctionTx(ctx, tx, auction); err != nil {
			return err
		}
		if !auction.HasBids() {
			return nil
		}

		now := s.clock()
		sale = &models.Sale{
			CollectionAddress: key.CollectionAddress,
			TokenID:           key.TokenID,
			SaleType:          models.SaleTypeAuction,
			Seller:            auction.Owner,
			Buyer:             auction.HighestBidder,
			Value:             auction.HighestBid,
			Timestamp:         now,
			BlockNumber:       in.BlockNumber,
			TransactionHash:   in.TransactionHash,
		}
		if err := s.Repo.InsertSaleTx(ctx, tx, sale); err != nil {
			return err
		}

		fields := map[string]any{
			"last_sold_at":    now,
			"last_sale_price": auction.HighestBid,
		}
		if coll == nil || coll.ContractType != models.ContractTypeERC1155 {
			fields["owner"] = auction.HighestBidder
		}
		if err := s.Repo.UpdateTokenFieldsTx(ctx, tx, key.CollectionAddress, key.TokenID, fields); err != nil {
			return err
		}

		return s.Repo.BumpCollectionSaleTx(ctx, tx, key.CollectionAddress, auction.HighestBid)
	})
	if err != nil {
		return nil, err
	}

	if err := s.Expiry.UnscheduleAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	if err := s.linkTokenAuction(ctx, key.CollectionAddress, key.TokenID, auctionID, false); err != nil {
		return nil, err
	}

	if sale != nil {
		if err := s.Prices.RefreshToken(ctx, key.CollectionAddress, key.TokenID); err != nil {
			return nil, err
		}
		if err := s.Prices.RefreshCollectionAsync(ctx, key.CollectionAddress); err != nil {
			return nil, err
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
			s.Logger.Info("auction settled",
				zap.Uint64("id", auctionID),
				zap.String("buyer", sale.Buyer),
				zap.String("value", sale.Value.String()),
			)
		}
	}
	return sale, nil
}

// Expire closes an auction whose deadline passed without a settlement
// event. An auction with bids stays flagged ended until the settlement
// arrives; one without bids is fully deactivated and unlinked from its
// token.
func (s *AuctionService) Expire(ctx context.Context, id uint64) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	auction, err := s.Repo.GetAuctionByID(ctx, id)
	if err != nil {
		return err
	}
	if auction == nil {
		return &NotFoundError{Entity: "Auction"}
	}
	if auction.Ended {
		return nil
	}
	if auction.Expiry > s.clock().Unix() {
		return s.Expiry.ScheduleAuction(ctx, auction.ID, auction.Expiry)
	}

	fields := map[string]any{"ended": true}
	if !auction.HasBids() {
		fields["active"] = false
	}
	changed, err := s.Repo.UpdateAuctionIfOpen(ctx, auction.ID, fields)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if !auction.HasBids() {
		if err := s.linkTokenAuction(ctx, auction.CollectionAddress, auction.TokenID, auction.ID, false); err != nil {
			return err
		}
	}

	if s.Logger != nil {
		s.Logger.Info("auction expired",
			zap.Uint64("id", auction.ID),
			zap.Bool("awaitingSettlement", auction.HasBids()),
		)
	}
	return nil
}

// linkTokenAuction keeps the token's list of open auction ids in step
// with auction activations and closures.
func (s *AuctionService) linkTokenAuction(ctx context.Context, collection string, tokenID, auctionID uint64, add bool) error {
	token, err := s.Repo.GetToken(ctx, collection, tokenID)
	if err != nil || token == nil {
		return err
	}
	var ids []uint64
	if len(token.Auctions) > 0 {
		if err := json.Unmarshal(token.Auctions, &ids); err != nil {
			return err
		}
	}
	out := ids[:0]
	for _, id := range ids {
		if id != auctionID {
			out = append(out, id)
		}
	}
	if add {
		out = append(out, auctionID)
	}
	raw, err := models.MarshalJSON(out)
	if err != nil {
		return err
	}
	return s.Repo.UpdateTokenFields(ctx, collection, tokenID, map[string]any{"auctions": raw})
}

func unmarshalAuctionBids(raw []byte) ([]models.AuctionBid, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var bids []models.AuctionBid
	if err := json.Unmarshal(raw, &bids); err != nil {
		return nil, err
	}
	return bids, nil
}
