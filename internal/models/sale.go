package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleTypeListing = "listing"
	SaleTypeBid     = "bid"
	SaleTypeAuction = "auction"
)

// Sale is the immutable settlement record produced when any order is
// accepted. Rows are never updated after insert.
type Sale struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	CollectionAddress string `gorm:"type:varchar(64);not null;index"`
	TokenID           uint64 `gorm:"not null;index"`

	SaleType string          `gorm:"type:varchar(10);not null"`
	Seller   string          `gorm:"type:varchar(64);not null;index"`
	Buyer    string          `gorm:"type:varchar(64);not null;index"`
	Value    decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	MarketplaceFee decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	CreatorFee     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	OwnerRevenue   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	Timestamp       time.Time `gorm:"type:timestamptz;not null"`
	BlockNumber     uint64
	TransactionHash string `gorm:"type:varchar(80)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Sale) TableName() string {
	return "sales"
}
