package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
)

// Auction represents an auction row joined with its catalog reference data.
type Auction struct {
	ID            int64           `json:"auction_id"`
	ProductID     int64           `json:"product_id"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MinIncrement  decimal.Decimal `json:"min_increment"`
	Quantity      int             `json:"quantity"`
	Status        AuctionStatus   `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	WinnerID      *int64          `json:"winner_id,omitempty"`

	// Read-only catalog data
	ProductName string `json:"product_name"`
	StoreID     int64  `json:"store_id"`
	StoreName   string `json:"store_name,omitempty"`
	SellerID    int64  `json:"seller_id"`
}

// MinimumBid is the smallest amount the next bid may offer.
func (a *Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.MinIncrement)
}

// IsActive reports whether the auction accepts bids.
func (a *Auction) IsActive() bool {
	return a.Status == AuctionStatusActive
}

// ActiveAuction is the recovery view of an active auction.
type ActiveAuction struct {
	ID        int64      `json:"auction_id"`
	StartTime time.Time  `json:"start_time"`
	LastBidAt *time.Time `json:"last_bid_at,omitempty"`
}

// LastActivity is the reference point for the auction countdown.
func (a ActiveAuction) LastActivity() time.Time {
	if a.LastBidAt != nil {
		return *a.LastBidAt
	}
	return a.StartTime
}
