package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is a signed sell order for a fixed price. Addresses are stored
// lowercase; (collection_address, token_id, owner, nonce) is the key an
// on-chain event uses to locate the row.
type Listing struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	CollectionAddress string `gorm:"type:varchar(64);not null;index:idx_listings_key"`
	TokenID           uint64 `gorm:"not null;index:idx_listings_key"`
	Owner             string `gorm:"type:varchar(64);not null;index:idx_listings_key"`
	Nonce             uint64 `gorm:"not null;index:idx_listings_key"`

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

func (Listing) TableName() string {
	return "listings"
}

// Terminal reports whether the listing reached a state no further
// transition may leave.
func (l *Listing) Terminal() bool {
	return l.Canceled || l.Accepted || l.Expired
}

// ScrubSignature replaces the signature parts with the sentinel so a
// no-longer-actionable order cannot be replayed.
func (l *Listing) ScrubSignature() {
	l.SigR = SignatureScrubbed
	l.SigS = SignatureScrubbed
	l.SigV = 0
}
