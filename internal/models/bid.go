package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignatureScrubbed is the sentinel written over signature parts once an
// order is terminal.
const SignatureScrubbed = "null"

// Bid is a signed buy offer. Owner is the bidder. Unique per
// (collection_address, token_id, owner, nonce); only one row per
// (collection_address, token_id, owner) may be active at a time.
type Bid struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	CollectionAddress string `gorm:"type:varchar(64);not null;index:idx_bids_key"`
	TokenID           uint64 `gorm:"not null;index:idx_bids_key"`
	Owner             string `gorm:"type:varchar(64);not null;index:idx_bids_key"`
	Nonce             uint64 `gorm:"not null;index:idx_bids_key"`

	Quantity     uint64          `gorm:"not null;default:1"`
	PricePerItem decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Expiry       int64           `gorm:"not null;index"`
	Chain        string          `gorm:"type:varchar(20)"`

	SigR string `gorm:"type:varchar(80)"`
	SigS string `gorm:"type:varchar(80)"`
	SigV int

	Active   bool `gorm:"not null;index;default:true"`
	Canceled bool `gorm:"not null;default:false"`
	Accepted bool `gorm:"not null;default:false"`
	Expired  bool `gorm:"not null;default:false"`
	Deleted  bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Bid) TableName() string {
	return "bids"
}

func (b *Bid) Terminal() bool {
	return b.Canceled || b.Accepted || b.Expired
}

func (b *Bid) ScrubSignature() {
	b.SigR = SignatureScrubbed
	b.SigS = SignatureScrubbed
	b.SigV = 0
}
