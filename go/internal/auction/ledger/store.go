// Package ledger provides typed transactional access to auction, bid and
// balance records.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
)

// ErrUnknownUser is returned when a balance row is missing. It is a storage
// fault, never a client error.
var ErrUnknownUser = errors.New("user row not found")

// Tx is the set of reads and writes available inside one atomic transaction.
// Lock* methods take row-level locks held until the transaction ends.
type Tx interface {
	LockAuction(ctx context.Context, auctionID int64) (*models.Auction, error)
	LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	LeadingBid(ctx context.Context, auctionID int64) (*models.Bid, error)
	CountBids(ctx context.Context, auctionID int64) (int, error)
	CountBidders(ctx context.Context, auctionID int64) (int, error)
	InsertBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*models.Bid, error)
	UpdateCurrentPrice(ctx context.Context, auctionID int64, price decimal.Decimal) error
	AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) error
	MarkEnded(ctx context.Context, auctionID int64, winnerID *int64) (time.Time, error)
	CreateOrder(ctx context.Context, order models.Order, item models.OrderItem) (int64, error)
}

// Store is the ledger accessor consumed by the engine components.
type Store interface {
	// WithTx runs fn in a transaction, rolling back when fn returns an error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetAuction(ctx context.Context, auctionID int64) (*models.Auction, error)
	RecentBids(ctx context.Context, auctionID int64, limit int) ([]models.Bid, error)
	LeadingBid(ctx context.Context, auctionID int64) (*models.Bid, error)
	Bidders(ctx context.Context, auctionID int64) ([]int64, error)
	CountBidders(ctx context.Context, auctionID int64) (int, error)
	ActiveAuctions(ctx context.Context) ([]models.ActiveAuction, error)
	ActivateScheduled(ctx context.Context, now time.Time) ([]models.Auction, error)
}
