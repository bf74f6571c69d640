// Package settlement closes auctions and creates the winner's order.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/mcdev12/bidhouse/go/internal/auction/lease"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/notify"
	"github.com/rs/zerolog/log"
)

// DefaultLeaseTTL bounds how long one instance may hold the settlement lease.
const DefaultLeaseTTL = 30 * time.Second

// Result describes a closed auction.
type Result struct {
	AuctionID int64
	Winner    *models.Bid
	OrderID   *int64
	EndTime   time.Time
	// AlreadyEnded is set when the auction was closed before this call; no
	// writes were made.
	AlreadyEnded bool
	// Stopped is set when the seller closed the auction manually.
	Stopped bool
}

// App handles auction settlement
type App struct {
	store    ledger.Store
	notifier notify.Notifier
	locker   lease.Locker
	leaseTTL time.Duration
}

// NewApp creates a new settlement App. A nil locker settles with an
// in-process lease only.
func NewApp(store ledger.Store, notifier notify.Notifier, locker lease.Locker) *App {
	if notifier == nil {
		notifier = notify.Discard
	}
	if locker == nil {
		locker = lease.NewLocal(clockwork.NewRealClock())
	}
	return &App{store: store, notifier: notifier, locker: locker, leaseTTL: DefaultLeaseTTL}
}

// EndAuction closes an active auction, picks the highest-ranked bid as the
// winner and creates its order. Calling it on an ended auction is a no-op.
func (a *App) EndAuction(ctx context.Context, auctionID int64) (*Result, error) {
	var (
		res     *Result
		product string
	)
	err := a.store.WithTx(ctx, func(tx ledger.Tx) error {
		auction, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("lock auction: %w", err)
		}
		product = auction.ProductName

		switch auction.Status {
		case models.AuctionStatusEnded:
			res = &Result{AuctionID: auctionID, AlreadyEnded: true}
			if auction.EndTime != nil {
				res.EndTime = *auction.EndTime
			}
			return nil
		case models.AuctionStatusScheduled:
			return auctionerr.New(auctionerr.ErrInvalidAuctionState, "Auction %d has not started", auctionID)
		}

		winner, err := tx.LeadingBid(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("read winning bid: %w", err)
		}

		var winnerID *int64
		if winner != nil {
			winnerID = &winner.BidderID
		}
		endTime, err := tx.MarkEnded(ctx, auctionID, winnerID)
		if err != nil {
			return fmt.Errorf("mark ended: %w", err)
		}
		res = &Result{AuctionID: auctionID, Winner: winner, EndTime: endTime}

		if winner == nil {
			return nil
		}
		orderID, err := tx.CreateOrder(ctx, models.Order{
			BuyerID:         winner.BidderID,
			StoreID:         auction.StoreID,
			TotalPrice:      winner.Amount,
			ShippingAddress: models.AuctionShippingPlaceholder,
			Status:          models.OrderStatusApproved,
		}, models.OrderItem{
			ProductID:    auction.ProductID,
			Quantity:     auction.Quantity,
			PriceAtOrder: winner.Amount,
			Subtotal:     winner.Amount,
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		res.OrderID = &orderID
		return nil
	})
	if err != nil {
		return nil, auctionerr.System("end auction", err)
	}

	if res.AlreadyEnded {
		log.Debug().Int64("auction_id", auctionID).Msg("Auction already ended, skipping settlement")
		return res, nil
	}

	if res.Winner != nil {
		log.Info().
			Int64("auction_id", auctionID).
			Int64("winner_id", res.Winner.BidderID).
			Int64("order_id", *res.OrderID).
			Str("amount", res.Winner.Amount.String()).
			Msg("Auction settled")
		a.notifier.Notify(res.Winner.BidderID, notify.Won(*res.OrderID, product, res.Winner.Amount), notify.CategoryOrder)
	} else {
		log.Info().Int64("auction_id", auctionID).Msg("Auction ended without bids")
	}
	return res, nil
}

// StopAuction lets the seller close an active auction that has no bids yet.
func (a *App) StopAuction(ctx context.Context, auctionID, requesterID int64) (*Result, error) {
	var res *Result
	err := a.store.WithTx(ctx, func(tx ledger.Tx) error {
		auction, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("lock auction: %w", err)
		}
		if auction.SellerID != requesterID {
			return auctionerr.New(auctionerr.ErrForbidden, "Only the seller of this auction can stop it")
		}
		if !auction.IsActive() {
			return auctionerr.New(auctionerr.ErrInvalidAuctionState, "Auction is %s", auction.Status)
		}

		bids, err := tx.CountBids(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("count bids: %w", err)
		}
		if bids > 0 {
			return auctionerr.ErrCannotStopWithBids
		}

		endTime, err := tx.MarkEnded(ctx, auctionID, nil)
		if err != nil {
			return fmt.Errorf("mark ended: %w", err)
		}
		res = &Result{AuctionID: auctionID, EndTime: endTime, Stopped: true}
		return nil
	})
	if err != nil {
		return nil, auctionerr.System("stop auction", err)
	}

	log.Info().Int64("auction_id", auctionID).Int64("seller_id", requesterID).Msg("Auction stopped by seller")
	return res, nil
}

// SettleExpired is the countdown expiry path. It returns a nil result when
// the auction is no longer active or another instance holds the lease.
func (a *App) SettleExpired(ctx context.Context, auctionID int64) (*Result, error) {
	auction, err := a.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, auctionerr.System("get auction", err)
	}
	if !auction.IsActive() {
		log.Info().Int64("auction_id", auctionID).Str("status", string(auction.Status)).Msg("Expired auction no longer active, skipping settlement")
		return nil, nil
	}

	release, err := a.locker.Acquire(ctx, fmt.Sprintf("settle:%d", auctionID), a.leaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		log.Info().Int64("auction_id", auctionID).Msg("Settlement lease held elsewhere, skipping")
		return nil, nil
	}
	if err != nil {
		return nil, auctionerr.System("acquire settlement lease", err)
	}
	defer release()

	res, err := a.EndAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if res.AlreadyEnded {
		return nil, nil
	}
	return res, nil
}
