package bidding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger/ledgertest"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	userID  int64
	payload notify.Payload
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Notify(userID int64, payload notify.Payload, _ notify.Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{userID: userID, payload: payload})
}

func (r *recorder) recipients() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, s := range r.sent {
		ids = append(ids, s.userID)
	}
	return ids
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

const (
	alice int64 = 1
	bob   int64 = 2
	carol int64 = 3
)

func setup(t *testing.T) (*App, *ledgertest.Store, *recorder) {
	t.Helper()
	store := ledgertest.NewStore(clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))
	store.AddUser(alice, "Alice", d(5000))
	store.AddUser(bob, "Bob", d(5000))
	store.AddUser(carol, "Carol", d(5000))
	store.AddAuction(models.Auction{
		ID:            10,
		ProductID:     100,
		ProductName:   "Vintage Camera",
		StartingPrice: d(1000),
		MinIncrement:  d(100),
		Status:        models.AuctionStatusActive,
		StoreID:       7,
		SellerID:      70,
	})
	rec := &recorder{}
	return NewApp(store, rec), store, rec
}

func TestPlaceBid_Scenario(t *testing.T) {
	app, store, rec := setup(t)
	ctx := context.Background()

	res, err := app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)
	assert.True(t, res.FirstBid)
	assert.Nil(t, res.PreviousLeader)
	assert.Equal(t, 1, res.BidderCount)
	assert.True(t, d(3900).Equal(store.Balance(alice)))

	res, err = app.PlaceBid(ctx, 10, bob, d(1300))
	require.NoError(t, err)
	assert.False(t, res.FirstBid)
	require.NotNil(t, res.PreviousLeader)
	assert.Equal(t, alice, res.PreviousLeader.BidderID)
	assert.Equal(t, 2, res.BidderCount)

	assert.True(t, d(3700).Equal(store.Balance(bob)))
	assert.True(t, d(5000).Equal(store.Balance(alice)))
	assert.True(t, d(1300).Equal(store.Auction(10).CurrentPrice))
	assert.Equal(t, []int64{alice}, rec.recipients())
	assert.Equal(t, "/app/auctions/10", rec.sent[0].payload.URL)
}

func TestPlaceBid_TooLowLeavesNoTrace(t *testing.T) {
	app, store, rec := setup(t)
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, 10, alice, d(1099))
	require.Error(t, err)
	assert.ErrorIs(t, err, auctionerr.ErrBidTooLow)
	assert.ErrorIs(t, err, auctionerr.ErrValidation)
	assert.Equal(t, "Bid must be at least 1100 (current: 1000 + increment: 100)", auctionerr.Message(err, ""))

	assert.Zero(t, store.TxCount())
	assert.True(t, d(5000).Equal(store.Balance(alice)))
	assert.Empty(t, store.Bids(10))
	assert.Empty(t, rec.recipients())

	_, err = app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)
	_, err = app.PlaceBid(ctx, 10, bob, d(1150))
	assert.ErrorIs(t, err, auctionerr.ErrBidTooLow)
	assert.True(t, d(5000).Equal(store.Balance(bob)))
}

func TestPlaceBid_RepeatLeaderChargedDelta(t *testing.T) {
	app, store, rec := setup(t)
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)
	res, err := app.PlaceBid(ctx, 10, alice, d(1400))
	require.NoError(t, err)

	assert.True(t, d(300).Equal(res.Charged))
	assert.Nil(t, res.PreviousLeader)
	assert.True(t, d(3600).Equal(store.Balance(alice)))
	assert.Empty(t, rec.recipients())
}

func TestPlaceBid_ReturningBidderPaysFullAmount(t *testing.T) {
	app, store, _ := setup(t)
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)
	_, err = app.PlaceBid(ctx, 10, bob, d(1300))
	require.NoError(t, err)

	// Alice was refunded when outbid, so nothing of hers is at risk any more.
	res, err := app.PlaceBid(ctx, 10, alice, d(1500))
	require.NoError(t, err)
	assert.True(t, d(1500).Equal(res.Charged))

	assert.True(t, d(3500).Equal(store.Balance(alice)))
	assert.True(t, d(5000).Equal(store.Balance(bob)))
}

func TestPlaceBid_InsufficientBalanceRollsBack(t *testing.T) {
	app, store, _ := setup(t)
	ctx := context.Background()
	store.AddUser(4, "Dan", d(1000))

	_, err := app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)

	_, err = app.PlaceBid(ctx, 10, 4, d(1200))
	assert.ErrorIs(t, err, auctionerr.ErrInsufficientBalance)
	assert.Equal(t, "Insufficient balance. Required: 1200, Available: 1000", auctionerr.Message(err, ""))
	assert.False(t, errors.Is(err, auctionerr.ErrSystem))

	assert.True(t, d(1000).Equal(store.Balance(4)))
	assert.True(t, d(3900).Equal(store.Balance(alice)))
	assert.True(t, d(1100).Equal(store.Auction(10).CurrentPrice))
	assert.Len(t, store.Bids(10), 1)
}

func TestPlaceBid_AuctionState(t *testing.T) {
	app, store, _ := setup(t)
	ctx := context.Background()
	store.AddAuction(models.Auction{ID: 11, StartingPrice: d(10), MinIncrement: d(1), Status: models.AuctionStatusScheduled})
	store.AddAuction(models.Auction{ID: 12, StartingPrice: d(10), MinIncrement: d(1), Status: models.AuctionStatusEnded})

	_, err := app.PlaceBid(ctx, 11, alice, d(20))
	assert.ErrorIs(t, err, auctionerr.ErrInvalidAuctionState)
	_, err = app.PlaceBid(ctx, 12, alice, d(20))
	assert.ErrorIs(t, err, auctionerr.ErrInvalidAuctionState)
	_, err = app.PlaceBid(ctx, 99, alice, d(20))
	assert.ErrorIs(t, err, auctionerr.ErrNotFound)
	_, err = app.PlaceBid(ctx, 10, alice, d(0))
	assert.ErrorIs(t, err, auctionerr.ErrValidation)

	assert.True(t, d(5000).Equal(store.Balance(alice)))
}

func TestPlaceBid_StorageFailureIsSystemError(t *testing.T) {
	app, store, rec := setup(t)
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)

	store.FailOn("AdjustBalance", errors.New("connection reset"))
	_, err = app.PlaceBid(ctx, 10, bob, d(1200))
	require.Error(t, err)
	assert.ErrorIs(t, err, auctionerr.ErrSystem)
	assert.Equal(t, "SystemError", auctionerr.Kind(err))

	assert.True(t, d(5000).Equal(store.Balance(bob)))
	assert.True(t, d(3900).Equal(store.Balance(alice)))
	assert.Len(t, store.Bids(10), 1)
	assert.Empty(t, rec.recipients())
}

func TestPlaceBid_ConcurrentBidsKeepOneLeaderAtRisk(t *testing.T) {
	app, store, _ := setup(t)
	ctx := context.Background()

	users := []int64{alice, bob, carol}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []decimal.Decimal
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := d(1100 + int64(i%10)*100 + int64(i/10)*10)
			if _, err := app.PlaceBid(ctx, 10, users[i%3], amount); err == nil {
				mu.Lock()
				accepted = append(accepted, amount)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, accepted)
	highest := decimal.Max(accepted[0], accepted...)
	assert.True(t, highest.Equal(store.Auction(10).CurrentPrice))

	leader, err := store.LeadingBid(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, leader)
	assert.True(t, highest.Equal(leader.Amount))

	for _, u := range users {
		want := d(5000)
		if u == leader.BidderID {
			want = want.Sub(highest)
		}
		assert.True(t, want.Equal(store.Balance(u)), "user %d balance %s", u, store.Balance(u))
	}
}

func TestNotifyEndingSoon_SkipsLeader(t *testing.T) {
	app, _, rec := setup(t)
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)
	_, err = app.PlaceBid(ctx, 10, bob, d(1200))
	require.NoError(t, err)
	_, err = app.PlaceBid(ctx, 10, carol, d(1300))
	require.NoError(t, err)

	rec.sent = nil
	app.NotifyEndingSoon(ctx, 10)

	assert.ElementsMatch(t, []int64{alice, bob}, rec.recipients())
	assert.Equal(t, `Auction for "Vintage Camera" is ending soon!`, rec.sent[0].payload.Title)
}

func TestNotifyEndingSoon_SkipsEndedAuction(t *testing.T) {
	app, store, rec := setup(t)
	ctx := context.Background()

	_, err := app.PlaceBid(ctx, 10, alice, d(1100))
	require.NoError(t, err)
	_, err = app.PlaceBid(ctx, 10, bob, d(1200))
	require.NoError(t, err)

	ended := store.Auction(10)
	ended.Status = models.AuctionStatusEnded
	store.AddAuction(ended)

	rec.sent = nil
	app.NotifyEndingSoon(ctx, 10)

	assert.Empty(t, rec.recipients())
}

func TestPlaceBid_MissingRefundTargetIsSystemError(t *testing.T) {
	app, store, _ := setup(t)
	ctx := context.Background()

	store.AddBid(models.Bid{ID: 1, AuctionID: 10, BidderID: 99, Amount: d(1100)})
	seeded := store.Auction(10)
	seeded.CurrentPrice = d(1100)
	store.AddAuction(seeded)

	_, err := app.PlaceBid(ctx, 10, bob, d(1200))
	require.Error(t, err)
	assert.ErrorIs(t, err, auctionerr.ErrSystem)
	assert.ErrorIs(t, err, ledger.ErrUnknownUser)
	assert.False(t, auctionerr.IsBusiness(err))
	assert.Equal(t, "Failed to place bid", auctionerr.Message(err, "Failed to place bid"))

	assert.True(t, d(5000).Equal(store.Balance(bob)), "rolled back")
	assert.Len(t, store.Bids(10), 1)
}
