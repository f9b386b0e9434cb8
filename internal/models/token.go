package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TokenTransfer is one observed on-chain transfer, deduplicated by
// transaction hash.
type TokenTransfer struct {
	From            string `json:"from"`
	To              string `json:"to"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	Timestamp       int64  `json:"timestamp"`
}

// Token carries the denormalized price/bid caches owned by the lifecycle
// manager and price aggregator. Cache fields are always derivable by
// recomputing over currently-active orders; they are never hand-edited.
type Token struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	CollectionAddress string `gorm:"type:varchar(64);not null;uniqueIndex:idx_tokens_key"`
	TokenID           uint64 `gorm:"not null;uniqueIndex:idx_tokens_key"`
	Owner             string `gorm:"type:varchar(64);index"`

	Traits     datatypes.JSON `gorm:"type:jsonb"`
	Rarity     float64        `gorm:"not null;default:0"`
	RarityRank int            `gorm:"not null;default:0;index"`

	HighestPrice decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	LowestPrice  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	HighestBid    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	LowestBid     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	HighestBidder string          `gorm:"type:varchar(64);not null;default:''"`

	LastSoldAt    *time.Time      `gorm:"type:timestamptz"`
	LastSalePrice decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	// Auctions holds the ids of active auctions referencing this token.
	Auctions  datatypes.JSON `gorm:"type:jsonb"`
	Transfers datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Token) TableName() string {
	return "tokens"
}
