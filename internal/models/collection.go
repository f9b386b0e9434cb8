package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ContractTypeERC721  = "ERC721"
	ContractTypeERC1155 = "ERC1155"
)

type Collection struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Address string `gorm:"type:varchar(64);not null;uniqueIndex"`
	Name    string `gorm:"type:varchar(200);not null"`
	Chain   string `gorm:"type:varchar(20);not null"`

	ContractType     string `gorm:"type:varchar(10)"`
	CurrencyContract string `gorm:"type:varchar(64)"`
	TotalSupply      uint64 `gorm:"not null;default:0"`

	// Traits is the per-collection rarity table written by the rarity
	// engine; ExcludeFromRarity lists trait types counted for display
	// but excluded from scoring.
	Traits            datatypes.JSON `gorm:"type:jsonb"`
	ExcludeFromRarity datatypes.JSON `gorm:"type:jsonb"`
	RarityHighest     float64        `gorm:"not null;default:0"`
	RarityLowest      float64        `gorm:"not null;default:0"`

	FloorPrice   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	AveragePrice decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	HighestPrice decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	VolumeTotal decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	SalesTotal  int64           `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Collection) TableName() string {
	return "collections"
}
