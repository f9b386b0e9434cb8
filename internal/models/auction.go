package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ZeroAddress is the default highest bidder before any bid arrives.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// AuctionBid is one entry of the append-only bid history kept on the
// auction row.
type AuctionBid struct {
	Bidder    string          `json:"bidder"`
	Value     decimal.Decimal `json:"value"`
	Timestamp int64           `json:"timestamp"`
}

// Auction starts pending (inactive), becomes active once confirmed
// on-chain, and ends either by an explicit settlement call or by expiry.
// Ended is distinct from Active: an expired auction with bids stays
// ended-but-unsettled until a settlement event arrives.
type Auction struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	CollectionAddress string `gorm:"type:varchar(64);not null;index:idx_auctions_key"`
	TokenID           uint64 `gorm:"not null;index:idx_auctions_key"`
	Owner             string `gorm:"type:varchar(64);not null;index:idx_auctions_key"`

	Quantity         uint64          `gorm:"not null;default:1"`
	MinBid           decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	PercentIncrement float64         `gorm:"not null;default:0"`
	Expiry           int64           `gorm:"not null;index"`
	Chain            string          `gorm:"type:varchar(20)"`

	HighestBid    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	HighestBidder string          `gorm:"type:varchar(64);not null;default:'0x0000000000000000000000000000000000000000'"`
	Bids          datatypes.JSON  `gorm:"type:jsonb"`

	Active bool `gorm:"not null;index;default:false"`
	Ended  bool `gorm:"not null;default:false"`

	BlockNumber     uint64
	TransactionHash string `gorm:"type:varchar(80)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Auction) TableName() string {
	return "auctions"
}

// Pending reports whether the auction was created but not yet confirmed
// on-chain.
func (a *Auction) Pending() bool {
	return !a.Active && !a.Ended
}

func (a *Auction) HasBids() bool {
	return a.HighestBid.IsPositive()
}
