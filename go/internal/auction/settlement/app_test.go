package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/mcdev12/bidhouse/go/internal/auction/bidding"
	"github.com/mcdev12/bidhouse/go/internal/auction/lease"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger/ledgertest"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	users    []int64
	payloads []notify.Payload
}

func (r *recorder) Notify(userID int64, payload notify.Payload, _ notify.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	r.payloads = append(r.payloads, payload)
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

const (
	alice  int64 = 1
	bob    int64 = 2
	seller int64 = 70
)

type fixture struct {
	store    *ledgertest.Store
	clock    *clockwork.FakeClock
	bids     *bidding.App
	app      *App
	locker   *lease.Local
	notified *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := ledgertest.NewStore(clock)
	store.AddUser(alice, "Alice", d(5000))
	store.AddUser(bob, "Bob", d(5000))
	store.AddAuction(models.Auction{
		ID:            10,
		ProductID:     100,
		ProductName:   "Vintage Camera",
		StartingPrice: d(1000),
		MinIncrement:  d(100),
		Quantity:      1,
		Status:        models.AuctionStatusActive,
		StoreID:       7,
		SellerID:      seller,
	})
	rec := &recorder{}
	locker := lease.NewLocal(clock)
	return &fixture{
		store:    store,
		clock:    clock,
		bids:     bidding.NewApp(store, notify.Discard),
		app:      NewApp(store, rec, locker),
		locker:   locker,
		notified: rec,
	}
}

func TestEndAuction_WinnerGetsOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.bids.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)
	_, err = f.bids.PlaceBid(ctx, 10, bob, d(1300))
	require.NoError(t, err)

	res, err := f.app.EndAuction(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, res.Winner)
	require.NotNil(t, res.OrderID)
	assert.Equal(t, bob, res.Winner.BidderID)
	assert.False(t, res.AlreadyEnded)

	auction := f.store.Auction(10)
	assert.Equal(t, models.AuctionStatusEnded, auction.Status)
	require.NotNil(t, auction.WinnerID)
	assert.Equal(t, bob, *auction.WinnerID)
	require.NotNil(t, auction.EndTime)
	assert.Equal(t, f.clock.Now(), *auction.EndTime)

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, bob, orders[0].BuyerID)
	assert.Equal(t, int64(7), orders[0].StoreID)
	assert.True(t, d(1300).Equal(orders[0].TotalPrice))
	assert.Equal(t, models.OrderStatusApproved, orders[0].Status)
	assert.Equal(t, models.AuctionShippingPlaceholder, orders[0].ShippingAddress)

	items := f.store.OrderItems()
	require.Len(t, items, 1)
	assert.Equal(t, int64(100), items[0].ProductID)
	assert.Equal(t, 1, items[0].Quantity)
	assert.True(t, d(1300).Equal(items[0].PriceAtOrder))
	assert.True(t, d(1300).Equal(items[0].Subtotal))

	assert.True(t, d(5000).Equal(f.store.Balance(alice)))
	assert.True(t, d(3700).Equal(f.store.Balance(bob)))

	assert.Equal(t, []int64{bob}, f.notified.users)
	assert.Equal(t, "You won an auction!", f.notified.payloads[0].Title)
}

func TestEndAuction_NoBids(t *testing.T) {
	f := setup(t)

	res, err := f.app.EndAuction(context.Background(), 10)
	require.NoError(t, err)
	assert.Nil(t, res.Winner)
	assert.Nil(t, res.OrderID)
	assert.Equal(t, models.AuctionStatusEnded, f.store.Auction(10).Status)
	assert.Nil(t, f.store.Auction(10).WinnerID)
	assert.Empty(t, f.store.Orders())
	assert.Empty(t, f.notified.users)
}

func TestEndAuction_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.bids.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)

	_, err = f.app.EndAuction(ctx, 10)
	require.NoError(t, err)
	again, err := f.app.EndAuction(ctx, 10)
	require.NoError(t, err)

	assert.True(t, again.AlreadyEnded)
	assert.Len(t, f.store.Orders(), 1)
	assert.Len(t, f.notified.users, 1)
}

func TestEndAuction_ScheduledIsInvalid(t *testing.T) {
	f := setup(t)
	f.store.AddAuction(models.Auction{ID: 11, StartingPrice: d(10), MinIncrement: d(1), Status: models.AuctionStatusScheduled})

	_, err := f.app.EndAuction(context.Background(), 11)
	assert.ErrorIs(t, err, auctionerr.ErrInvalidAuctionState)
	assert.Equal(t, models.AuctionStatusScheduled, f.store.Auction(11).Status)

	_, err = f.app.EndAuction(context.Background(), 404)
	assert.ErrorIs(t, err, auctionerr.ErrNotFound)
}

func TestEndAuction_OrderFailureRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.bids.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)

	f.store.FailOn("CreateOrder", errors.New("deadlock detected"))
	_, err = f.app.EndAuction(ctx, 10)
	assert.ErrorIs(t, err, auctionerr.ErrSystem)
	assert.Equal(t, models.AuctionStatusActive, f.store.Auction(10).Status)
	assert.Empty(t, f.store.Orders())
	assert.Empty(t, f.notified.users)
}

func TestEndAuction_RaceWithFinalBid(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := setup(t)
		ctx := context.Background()
		_, err := f.bids.PlaceBid(ctx, 10, alice, d(1100))
		require.NoError(t, err)

		var (
			wg     sync.WaitGroup
			bidErr error
			res    *Result
			endErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, bidErr = f.bids.PlaceBid(ctx, 10, bob, d(1500))
		}()
		go func() {
			defer wg.Done()
			res, endErr = f.app.EndAuction(ctx, 10)
		}()
		wg.Wait()

		require.NoError(t, endErr)
		require.NotNil(t, res.Winner)
		if bidErr == nil {
			assert.Equal(t, bob, res.Winner.BidderID)
			assert.True(t, d(3500).Equal(f.store.Balance(bob)))
		} else {
			assert.ErrorIs(t, bidErr, auctionerr.ErrInvalidAuctionState)
			assert.Equal(t, alice, res.Winner.BidderID)
			assert.True(t, d(5000).Equal(f.store.Balance(bob)))
		}
		assert.Len(t, f.store.Orders(), 1)
	}
}

func TestStopAuction(t *testing.T) {
	t.Run("seller stops auction without bids", func(t *testing.T) {
		f := setup(t)
		res, err := f.app.StopAuction(context.Background(), 10, seller)
		require.NoError(t, err)
		assert.True(t, res.Stopped)
		assert.Equal(t, models.AuctionStatusEnded, f.store.Auction(10).Status)
		assert.Nil(t, f.store.Auction(10).WinnerID)
		assert.Empty(t, f.store.Orders())
	})

	t.Run("other user is forbidden", func(t *testing.T) {
		f := setup(t)
		_, err := f.app.StopAuction(context.Background(), 10, alice)
		assert.ErrorIs(t, err, auctionerr.ErrForbidden)
		assert.Equal(t, models.AuctionStatusActive, f.store.Auction(10).Status)
	})

	t.Run("auction with bids cannot be stopped", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		_, err := f.bids.PlaceBid(ctx, 10, alice, d(1100))
		require.NoError(t, err)

		_, err = f.app.StopAuction(ctx, 10, seller)
		assert.ErrorIs(t, err, auctionerr.ErrCannotStopWithBids)
		assert.ErrorIs(t, err, auctionerr.ErrInvalidAuctionState)
		assert.Equal(t, "CannotStopWithBids", auctionerr.Kind(err))

		assert.Equal(t, models.AuctionStatusActive, f.store.Auction(10).Status)
		assert.True(t, d(3900).Equal(f.store.Balance(alice)))
	})

	t.Run("ended auction is invalid", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		_, err := f.app.EndAuction(ctx, 10)
		require.NoError(t, err)
		_, err = f.app.StopAuction(ctx, 10, seller)
		assert.ErrorIs(t, err, auctionerr.ErrInvalidAuctionState)
	})

	t.Run("unknown auction", func(t *testing.T) {
		f := setup(t)
		_, err := f.app.StopAuction(context.Background(), 99, seller)
		assert.ErrorIs(t, err, auctionerr.ErrNotFound)
	})
}

func TestSettleExpired(t *testing.T) {
	t.Run("settles active auction", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		_, err := f.bids.PlaceBid(ctx, 10, alice, d(1100))
		require.NoError(t, err)

		res, err := f.app.SettleExpired(ctx, 10)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, alice, res.Winner.BidderID)

		// lease is released afterwards
		release, err := f.locker.Acquire(ctx, "settle:10", time.Second)
		require.NoError(t, err)
		release()
	})

	t.Run("skips stopped auction", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		_, err := f.app.StopAuction(ctx, 10, seller)
		require.NoError(t, err)

		res, err := f.app.SettleExpired(ctx, 10)
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("skips when lease is held elsewhere", func(t *testing.T) {
		f := setup(t)
		ctx := context.Background()
		release, err := f.locker.Acquire(ctx, "settle:10", time.Minute)
		require.NoError(t, err)
		defer release()

		res, err := f.app.SettleExpired(ctx, 10)
		require.NoError(t, err)
		assert.Nil(t, res)
		assert.Equal(t, models.AuctionStatusActive, f.store.Auction(10).Status)
	})
}
