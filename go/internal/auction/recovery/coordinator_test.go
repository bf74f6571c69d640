package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/lease"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger/ledgertest"
	"github.com/mcdev12/bidhouse/go/internal/auction/settlement"
	"github.com/mcdev12/bidhouse/go/internal/auction/timer"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestRecover(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	now := clock.Now()
	store := ledgertest.NewStore(clock)
	store.AddUser(1, "Alice", d(3700))
	store.AddUser(2, "Bob", d(5000))

	base := models.Auction{StartingPrice: d(1000), MinIncrement: d(100), Status: models.AuctionStatusActive, StoreID: 7, ProductID: 100}

	// last bid 20s ago: lapsed while down
	lapsed := base
	lapsed.ID = 1
	lapsed.CurrentPrice = d(1300)
	lapsed.StartTime = now.Add(-time.Minute)
	store.AddAuction(lapsed)
	store.AddBid(models.Bid{AuctionID: 1, BidderID: 2, Amount: d(1100), BidTime: now.Add(-25 * time.Second)})
	store.AddBid(models.Bid{AuctionID: 1, BidderID: 1, Amount: d(1300), BidTime: now.Add(-20 * time.Second)})

	// last bid 5s ago: 10s left
	recent := base
	recent.ID = 2
	recent.StartTime = now.Add(-time.Minute)
	store.AddAuction(recent)
	store.AddBid(models.Bid{AuctionID: 2, BidderID: 2, Amount: d(1100), BidTime: now.Add(-5 * time.Second)})

	// no bids, started 3s ago
	fresh := base
	fresh.ID = 3
	fresh.StartTime = now.Add(-3 * time.Second)
	store.AddAuction(fresh)

	ended := base
	ended.ID = 4
	ended.Status = models.AuctionStatusEnded
	store.AddAuction(ended)

	sched := timer.NewScheduler(clock, timer.DefaultConfig(), timer.Hooks{})
	t.Cleanup(sched.Shutdown)
	settler := settlement.NewApp(store, notify.Discard, lease.NewLocal(clock))

	var announced []*settlement.Result
	c := NewCoordinator(store, sched, settler, clock, 15*time.Second)
	c.OnSettled = func(res *settlement.Result) { announced = append(announced, res) }

	sum, err := c.Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, sum.Settled)
	assert.ElementsMatch(t, []int64{2, 3}, sum.Restored)
	assert.Empty(t, sum.Failed)

	settled := store.Auction(1)
	assert.Equal(t, models.AuctionStatusEnded, settled.Status)
	require.NotNil(t, settled.WinnerID)
	assert.Equal(t, int64(1), *settled.WinnerID)
	require.Len(t, store.Orders(), 1)
	assert.True(t, d(1300).Equal(store.Orders()[0].TotalPrice))
	require.Len(t, announced, 1)
	assert.Equal(t, int64(1), announced[0].AuctionID)

	assert.Equal(t, 10*time.Second, sched.Remaining(2))
	assert.Equal(t, 12*time.Second, sched.Remaining(3))
	_, ok := sched.EndTime(1)
	assert.False(t, ok)
	_, ok = sched.EndTime(4)
	assert.False(t, ok)
}

type failingLister struct{}

func (failingLister) ActiveAuctions(context.Context) ([]models.ActiveAuction, error) {
	return nil, errors.New("db down")
}

func TestRecover_ListFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCoordinator(failingLister{}, nil, nil, clock, 15*time.Second)
	_, err := c.Recover(context.Background())
	assert.ErrorContains(t, err, "db down")
}
