package service

import (
	"context"
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

// ListingService drives the listing state machine: create, cancel,
// accept, expire, soft-delete. Accept is the only multi-row transition
// and runs inside a single database transaction.
type ListingService struct {
	Repo   repository.Repository
	Prices *PriceAggregator
	Expiry *ExpiryScheduler
	Owners ownership.Oracle
	Notify notify.Notifier
	Logger *zap.Logger

	DefaultChain string

	now func() time.Time
}

func (s *ListingService) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Create validates and persists a new listing, then refreshes the token
// price cache and schedules the expiry job.
func (s *ListingService) Create(ctx context.Context, in CreateListingInput) (*models.Listing, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	collection, err := NormalizeAddress(in.CollectionAddress)
	if err != nil {
		return nil, err
	}
	owner, err := NormalizeAddress(in.UserAddress)
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

	res, err := s.checkOwner(ctx, collection, owner, in.TokenID, in.Quantity)
	if err != nil {
		return nil, err
	}
	contractType := res.ContractType
	if contractType == "" {
		coll, err := s.Repo.GetCollection(ctx, collection)
		if err != nil {
			return nil, err
		}
		if coll != nil {
			contractType = coll.ContractType
		}
	}
	if contractType != models.ContractTypeERC1155 {
		count, err := s.Repo.CountActiveListings(ctx, collection, in.TokenID, owner)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, &ConflictError{Reason: "an active listing for this token already exists"}
		}
		if in.Quantity != 1 {
			return nil, validationf("quantity", "must be 1 for ERC721 tokens")
		}
	}

	listing := &models.Listing{
		CollectionAddress: collection,
		TokenID:           in.TokenID,
		Owner:             owner,
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
	if err := s.Repo.InsertListing(ctx, listing); err != nil {
		return nil, err
	}

	if err := s.Prices.RefreshTokenListings(ctx, collection, in.TokenID); err != nil {
		return nil, err
	}
	if err := s.Expiry.ScheduleListing(ctx, listing.ID, listing.Expiry); err != nil {
		return nil, err
	}
	if err := s.Prices.RefreshCollectionAsync(ctx, collection); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("listing created",
			zap.Uint64("id", listing.ID),
			zap.String("collection", collection),
			zap.Uint64("token", in.TokenID),
			zap.String("price", in.PricePerItem.String()),
		)
	}
	return listing, nil
}

func (s *ListingService) checkOwner(ctx context.Context, collection, user string, tokenID, quantity uint64) (ownership.Result, error) {
	if s.Owners == nil {
		return ownership.Result{}, fmt.Errorf("ownership check: no oracle configured")
	}
	res, err := s.Owners.IsOwnerOfToken(ctx, collection, user, tokenID, quantity)
	if err != nil {
		return ownership.Result{}, fmt.Errorf("ownership check: %w", err)
	}
	if !res.Status {
		return ownership.Result{}, validationf("owner", "user does not own this token")
	}
	return res, nil
}

// Cancel deactivates a listing and returns the current record. Canceling
// an already-terminal or missing listing is a no-op; cancellation events
// replay during chain reorgs.
func (s *ListingService) Cancel(ctx context.Context, key repository.OrderKey) (*models.Listing, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key, err := normalizeOrderKey(key)
	if err != nil {
		return nil, err
	}
	listing, err := s.Repo.GetListingByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if listing == nil || listing.Terminal() {
		return listing, nil
	}

	changed, err := s.Repo.UpdateListingIfActive(ctx, listing.ID, terminalUpdate("canceled"))
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost to a concurrent settlement; hand back whatever won.
		return s.Repo.GetListingByKey(ctx, key)
	}
	listing.Active = false
	listing.Canceled = true
	listing.ScrubSignature()

	if err := s.Expiry.UnscheduleListing(ctx, listing.ID); err != nil {
		return nil, err
	}
	if err := s.Prices.RefreshTokenListings(ctx, key.CollectionAddress, key.TokenID); err != nil {
		return nil, err
	}
	if err := s.Prices.RefreshCollectionAsync(ctx, key.CollectionAddress); err != nil {
		return nil, err
	}
	return listing, nil
}

// terminalUpdate is the guarded column set that moves an order into a
// terminal state and scrubs its signature.
func terminalUpdate(state string) map[string]any {
	return map[string]any{
		"active": false,
		state:    true,
		"sig_r":  models.SignatureScrubbed,
		"sig_s":  models.SignatureScrubbed,
		"sig_v":  0,
	}
}

// Accept settles a listing against a confirmed on-chain purchase and
// returns the settled listing together with the sale it produced. In one
// transaction it marks the listing accepted, cancels the former owner's
// remaining bids on the token (their signatures die with the ownership
// change), records the sale, flips the token owner for ERC721 and bumps
// the collection counters.
func (s *ListingService) Accept(ctx context.Context, in AcceptListingInput) (*models.Listing, *models.Sale, error) {
	if s == nil || s.Repo == nil {
		return nil, nil, nil
	}
	key, err := normalizeOrderKey(in.Key)
	if err != nil {
		return nil, nil, err
	}
	buyer, err := NormalizeAddress(in.Buyer)
	if err != nil {
		return nil, nil, err
	}

	coll, err := s.Repo.GetCollection(ctx, key.CollectionAddress)
	if err != nil {
		return nil, nil, err
	}

	var settled *models.Listing
	var sale *models.Sale
	var canceledBids []models.Bid
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		listing, err := s.Repo.GetActiveListingByKeyTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if listing == nil {
			return &NotFoundError{Entity: "Listing"}
		}
		if buyer == listing.Owner {
			return &ConflictError{Reason: "owner cannot accept their own listing"}
		}

		listing.Active = false
		listing.Accepted = true
		listing.ScrubSignature()
		if err := s.Repo.UpdateListingTx(ctx, tx, listing); err != nil {
			return err
		}
		settled = listing

		bids, err := s.Repo.ListActiveBidsByOwnerTx(ctx, tx, key.CollectionAddress, key.TokenID, listing.Owner)
		if err != nil {
			return err
		}
		for i := range bids {
			bids[i].Active = false
			bids[i].Canceled = true
			bids[i].ScrubSignature()
			if err := s.Repo.UpdateBidTx(ctx, tx, &bids[i]); err != nil {
				return err
			}
		}
		canceledBids = bids

		now := s.clock()
		value := listing.PricePerItem.Mul(decimal.NewFromUint64(listing.Quantity))
		sale = &models.Sale{
			CollectionAddress: key.CollectionAddress,
			TokenID:           key.TokenID,
			SaleType:          models.SaleTypeListing,
			Seller:            listing.Owner,
			Buyer:             buyer,
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
			"last_sale_price": listing.PricePerItem,
		}
		if coll == nil || coll.ContractType != models.ContractTypeERC1155 {
			fields["owner"] = buyer
		}
		if err := s.Repo.UpdateTokenFieldsTx(ctx, tx, key.CollectionAddress, key.TokenID, fields); err != nil {
			return err
		}

		return s.Repo.BumpCollectionSaleTx(ctx, tx, key.CollectionAddress, value)
	})
	if err != nil {
		return nil, nil, err
	}

	if err := s.afterSettlement(ctx, key, canceledBids, sale); err != nil {
		return nil, nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("listing accepted",
			zap.String("collection", key.CollectionAddress),
			zap.Uint64("token", key.TokenID),
			zap.String("seller", sale.Seller),
			zap.String("buyer", sale.Buyer),
			zap.String("value", sale.Value.String()),
		)
	}
	return settled, sale, nil
}

// afterSettlement runs the cache and notification work that follows any
// committed sale. None of it is transactional; every piece is either
// idempotent or recomputable.
func (s *ListingService) afterSettlement(ctx context.Context, key repository.OrderKey, canceledBids []models.Bid, sale *models.Sale) error {
	for i := range canceledBids {
		if err := s.Expiry.UnscheduleBid(ctx, canceledBids[i].ID); err != nil {
			return err
		}
	}
	if err := s.Prices.RefreshToken(ctx, key.CollectionAddress, key.TokenID); err != nil {
		return err
	}
	if err := s.Prices.RefreshCollectionAsync(ctx, key.CollectionAddress); err != nil {
		return err
	}
	if s.Notify != nil && sale != nil {
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
	return nil
}

// Expire marks a listing expired once its deadline has truly passed.
// Jobs that fire early, for a terminal listing, or after a re-schedule
// are dropped or pushed back instead of mutating state.
func (s *ListingService) Expire(ctx context.Context, id uint64) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	listing, err := s.Repo.GetListingByID(ctx, id)
	if err != nil {
		return err
	}
	if listing == nil {
		return &NotFoundError{Entity: "Listing"}
	}
	if listing.Terminal() || listing.Deleted {
		return nil
	}
	if listing.Expiry > s.clock().Unix() {
		return s.Expiry.ScheduleListing(ctx, listing.ID, listing.Expiry)
	}

	changed, err := s.Repo.UpdateListingIfActive(ctx, listing.ID, terminalUpdate("expired"))
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := s.Prices.RefreshTokenListings(ctx, listing.CollectionAddress, listing.TokenID); err != nil {
		return err
	}
	return s.Prices.RefreshCollectionAsync(ctx, listing.CollectionAddress)
}

// SoftDelete hides a listing from the marketplace without erasing the
// row. Used by moderation; the listing keeps its history.
func (s *ListingService) SoftDelete(ctx context.Context, key repository.OrderKey) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key, err := normalizeOrderKey(key)
	if err != nil {
		return err
	}
	listing, err := s.Repo.GetListingByKey(ctx, key)
	if err != nil {
		return err
	}
	if listing == nil {
		return &NotFoundError{Entity: "Listing"}
	}
	if listing.Deleted {
		return nil
	}

	listing.Deleted = true
	listing.Active = false
	listing.ScrubSignature()
	if err := s.Repo.UpdateListing(ctx, listing); err != nil {
		return err
	}

	if err := s.Expiry.UnscheduleListing(ctx, listing.ID); err != nil {
		return err
	}
	if err := s.Prices.RefreshTokenListings(ctx, key.CollectionAddress, key.TokenID); err != nil {
		return err
	}
	return s.Prices.RefreshCollectionAsync(ctx, key.CollectionAddress)
}
