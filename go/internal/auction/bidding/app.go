// Package bidding commits bids against the ledger.
package bidding

import (
	"context"
	"fmt"

	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/notify"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Result describes a committed bid.
type Result struct {
	Bid *models.Bid
	// Auction is the locked row with current_price already updated.
	Auction *models.Auction
	// PreviousLeader is set when another user lost the lead to this bid.
	PreviousLeader *models.Bid
	FirstBid       bool
	BidderCount    int
	// Charged is what was debited from the bidder by this call.
	Charged decimal.Decimal
}

// App handles bid placement
type App struct {
	store    ledger.Store
	notifier notify.Notifier
}

// NewApp creates a new bidding App
func NewApp(store ledger.Store, notifier notify.Notifier) *App {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &App{store: store, notifier: notifier}
}

// PlaceBid validates and commits one bid. Preconditions are checked against
// an unlocked read first so obviously bad bids never take a lock, then
// re-checked under the auction row lock.
func (a *App) PlaceBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*Result, error) {
	if !amount.IsPositive() {
		return nil, auctionerr.New(auctionerr.ErrValidation, "bid_amount must be a positive number")
	}

	auction, err := a.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, auctionerr.System("get auction", err)
	}
	if err := checkBid(auction, amount); err != nil {
		return nil, err
	}

	var res *Result
	err = a.store.WithTx(ctx, func(tx ledger.Tx) error {
		r, err := placeBidTx(ctx, tx, auctionID, bidderID, amount)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, auctionerr.System("place bid", err)
	}

	log.Info().
		Int64("auction_id", auctionID).
		Int64("bidder_id", bidderID).
		Str("amount", amount.String()).
		Str("charged", res.Charged.String()).
		Bool("first_bid", res.FirstBid).
		Msg("Bid placed")

	if res.PreviousLeader != nil {
		a.notifier.Notify(res.PreviousLeader.BidderID, notify.Outbid(auctionID, res.Auction.ProductName), notify.CategoryAuction)
	}
	return res, nil
}

func placeBidTx(ctx context.Context, tx ledger.Tx, auctionID, bidderID int64, amount decimal.Decimal) (*Result, error) {
	auction, err := tx.LockAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("lock auction: %w", err)
	}
	if err := checkBid(auction, amount); err != nil {
		return nil, err
	}

	balance, err := tx.LockBalance(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	leader, err := tx.LeadingBid(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("read leading bid: %w", err)
	}

	// A leader already has leader.Amount at risk, so only the raise is charged.
	charge := amount
	if leader != nil && leader.BidderID == bidderID {
		charge = amount.Sub(leader.Amount)
	}
	if balance.LessThan(charge) {
		return nil, auctionerr.New(auctionerr.ErrInsufficientBalance, "Insufficient balance. Required: %s, Available: %s", charge.String(), balance.String())
	}

	if err := tx.AdjustBalance(ctx, bidderID, charge.Neg()); err != nil {
		return nil, fmt.Errorf("debit bidder: %w", err)
	}
	bid, err := tx.InsertBid(ctx, auctionID, bidderID, amount)
	if err != nil {
		return nil, fmt.Errorf("insert bid: %w", err)
	}
	if err := tx.UpdateCurrentPrice(ctx, auctionID, amount); err != nil {
		return nil, fmt.Errorf("update current price: %w", err)
	}

	var outbid *models.Bid
	if leader != nil && leader.BidderID != bidderID {
		if err := tx.AdjustBalance(ctx, leader.BidderID, leader.Amount); err != nil {
			return nil, fmt.Errorf("refund previous leader: %w", err)
		}
		outbid = leader
	}

	bidders, err := tx.CountBidders(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("count bidders: %w", err)
	}

	auction.CurrentPrice = amount
	return &Result{
		Bid:            bid,
		Auction:        auction,
		PreviousLeader: outbid,
		FirstBid:       leader == nil,
		BidderCount:    bidders,
		Charged:        charge,
	}, nil
}

func checkBid(auction *models.Auction, amount decimal.Decimal) error {
	if !auction.IsActive() {
		return auctionerr.New(auctionerr.ErrInvalidAuctionState, "Auction is %s", auction.Status)
	}
	if minBid := auction.MinimumBid(); amount.LessThan(minBid) {
		return auctionerr.New(auctionerr.ErrBidTooLow, "Bid must be at least %s (current: %s + increment: %s)",
			minBid.String(), auction.CurrentPrice.String(), auction.MinIncrement.String())
	}
	return nil
}

// NotifyEndingSoon tells every bidder who is not leading that the auction is
// about to close. Failures are logged only.
func (a *App) NotifyEndingSoon(ctx context.Context, auctionID int64) {
	auction, err := a.store.GetAuction(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Int64("auction_id", auctionID).Msg("ending soon: failed to load auction")
		return
	}
	if !auction.IsActive() {
		log.Debug().Int64("auction_id", auctionID).Str("status", string(auction.Status)).Msg("ending soon: auction no longer active")
		return
	}
	leader, err := a.store.LeadingBid(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Int64("auction_id", auctionID).Msg("ending soon: failed to load leader")
		return
	}
	bidders, err := a.store.Bidders(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Int64("auction_id", auctionID).Msg("ending soon: failed to load bidders")
		return
	}

	payload := notify.EndingSoon(auctionID, auction.ProductName)
	sent := 0
	for _, id := range bidders {
		if leader != nil && id == leader.BidderID {
			continue
		}
		a.notifier.Notify(id, payload, notify.CategoryAuction)
		sent++
	}
	log.Debug().Int64("auction_id", auctionID).Int("recipients", sent).Msg("Ending soon notifications enqueued")
}
