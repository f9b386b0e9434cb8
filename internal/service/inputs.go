package service

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/micohasanen/hexagon-api/internal/repository"
)

// Canonical input structs, one per operation. The API and listener
// layers map their payload variants into these once at the boundary;
// nothing below this package ever sniffs alternative field names.

type CreateListingInput struct {
	CollectionAddress string
	TokenID           uint64
	UserAddress       string
	Quantity          uint64
	PricePerItem      decimal.Decimal
	Expiry            int64
	Nonce             uint64
	SigR              string
	SigS              string
	SigV              int
}

type CreateBidInput struct {
	CollectionAddress string
	TokenID           uint64
	UserAddress       string
	Quantity          uint64
	PricePerItem      decimal.Decimal
	Expiry            int64
	Nonce             uint64
	SigR              string
	SigS              string
	SigV              int
}

type CreateAuctionInput struct {
	CollectionAddress string
	TokenID           uint64
	Owner             string
	Quantity          uint64
	MinBid            decimal.Decimal
	PercentIncrement  float64
	Expiry            int64
}

type AcceptListingInput struct {
	Key             repository.OrderKey
	Buyer           string
	BlockNumber     uint64
	TransactionHash string
	MarketplaceFee  decimal.Decimal
	CreatorFee      decimal.Decimal
	OwnerRevenue    decimal.Decimal
}

type AcceptBidInput struct {
	Key             repository.OrderKey
	Seller          string
	BlockNumber     uint64
	TransactionHash string
	MarketplaceFee  decimal.Decimal
	CreatorFee      decimal.Decimal
	OwnerRevenue    decimal.Decimal
}

type StartAuctionInput struct {
	Key             repository.AuctionKey
	BlockNumber     uint64
	TransactionHash string
}

type PlaceAuctionBidInput struct {
	Key    repository.AuctionKey
	Bidder string
	Amount decimal.Decimal
}

type EndAuctionInput struct {
	Key             repository.AuctionKey
	BlockNumber     uint64
	TransactionHash string
}

// NormalizeAddress lowercases a hex address after validating it. Every
// address is normalized once here, on write and on lookup, so key
// matching never depends on caller casing.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", validationf("address", "%q is not a hex address", addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

func normalizeOrderKey(key repository.OrderKey) (repository.OrderKey, error) {
	collection, err := NormalizeAddress(key.CollectionAddress)
	if err != nil {
		return repository.OrderKey{}, err
	}
	user, err := NormalizeAddress(key.UserAddress)
	if err != nil {
		return repository.OrderKey{}, err
	}
	key.CollectionAddress = collection
	key.UserAddress = user
	return key, nil
}

func normalizeAuctionKey(key repository.AuctionKey) (repository.AuctionKey, error) {
	collection, err := NormalizeAddress(key.CollectionAddress)
	if err != nil {
		return repository.AuctionKey{}, err
	}
	owner, err := NormalizeAddress(key.Owner)
	if err != nil {
		return repository.AuctionKey{}, err
	}
	key.CollectionAddress = collection
	key.Owner = owner
	return key, nil
}
