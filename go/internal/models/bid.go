package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an append-only ledger entry.
type Bid struct {
	ID         int64           `json:"bid_id"`
	AuctionID  int64           `json:"auction_id"`
	BidderID   int64           `json:"bidder_id"`
	BidderName string          `json:"bidder_name,omitempty"`
	Amount     decimal.Decimal `json:"bid_amount"`
	BidTime    time.Time       `json:"bid_time"`
}

// Outranks reports whether b ranks ahead of other: higher amount first,
// earlier bid on equal amounts.
func (b Bid) Outranks(other Bid) bool {
	if c := b.Amount.Cmp(other.Amount); c != 0 {
		return c > 0
	}
	if !b.BidTime.Equal(other.BidTime) {
		return b.BidTime.Before(other.BidTime)
	}
	return b.ID < other.ID
}
