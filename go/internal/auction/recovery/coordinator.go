// Package recovery rebuilds auction countdowns after a restart.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/settlement"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// AuctionLister lists auctions that are still active.
type AuctionLister interface {
	ActiveAuctions(ctx context.Context) ([]models.ActiveAuction, error)
}

// TimerStarter starts a countdown.
type TimerStarter interface {
	Start(auctionID int64, d time.Duration) time.Time
}

// Settler closes an auction whose countdown lapsed while the process was down.
type Settler interface {
	SettleExpired(ctx context.Context, auctionID int64) (*settlement.Result, error)
}

// Summary reports what Recover did.
type Summary struct {
	Restored []int64
	Settled  []int64
	Failed   []int64
}

// Coordinator restores one countdown per active auction.
type Coordinator struct {
	auctions AuctionLister
	timers   TimerStarter
	settler  Settler
	clock    clockwork.Clock
	window   time.Duration

	// OnSettled is called for auctions settled during recovery.
	OnSettled func(res *settlement.Result)
}

// NewCoordinator creates a Coordinator. window is the countdown that follows
// the last activity on an auction.
func NewCoordinator(auctions AuctionLister, timers TimerStarter, settler Settler, clock clockwork.Clock, window time.Duration) *Coordinator {
	return &Coordinator{
		auctions: auctions,
		timers:   timers,
		settler:  settler,
		clock:    clock,
		window:   window,
	}
}

// Recover starts a countdown for every active auction with time left and
// settles the rest immediately.
func (c *Coordinator) Recover(ctx context.Context) (Summary, error) {
	var sum Summary

	active, err := c.auctions.ActiveAuctions(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list active auctions: %w", err)
	}

	now := c.clock.Now()
	for _, a := range active {
		remaining := c.window - now.Sub(a.LastActivity())
		if remaining > 0 {
			c.timers.Start(a.ID, remaining)
			sum.Restored = append(sum.Restored, a.ID)
			log.Info().Int64("auction_id", a.ID).Dur("remaining", remaining).Msg("Restored auction timer")
			continue
		}

		res, err := c.settler.SettleExpired(ctx, a.ID)
		if err != nil {
			sum.Failed = append(sum.Failed, a.ID)
			log.Error().Err(err).Int64("auction_id", a.ID).Msg("failed to settle lapsed auction")
			continue
		}
		sum.Settled = append(sum.Settled, a.ID)
		if res != nil && c.OnSettled != nil {
			c.OnSettled(res)
		}
	}

	log.Info().
		Int("restored", len(sum.Restored)).
		Int("settled", len(sum.Settled)).
		Int("failed", len(sum.Failed)).
		Msg("Auction recovery complete")
	return sum, nil
}
