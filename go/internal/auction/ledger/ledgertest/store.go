// Package ledgertest provides an in-memory ledger.Store for tests. Every
// transaction runs under one store-wide lock against a copy of the data and
// is discarded when the callback fails, which mirrors row locking plus
// rollback closely enough for the engine's invariants to be exercised.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/mcdev12/bidhouse/go/internal/auction/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
)

type user struct {
	name    string
	balance decimal.Decimal
}

type state struct {
	users      map[int64]user
	auctions   map[int64]models.Auction
	bids       []models.Bid
	orders     []models.Order
	orderItems []models.OrderItem
	nextBidID  int64
	nextOrder  int64
}

func (s *state) clone() *state {
	c := &state{
		users:      make(map[int64]user, len(s.users)),
		auctions:   make(map[int64]models.Auction, len(s.auctions)),
		bids:       append([]models.Bid(nil), s.bids...),
		orders:     append([]models.Order(nil), s.orders...),
		orderItems: append([]models.OrderItem(nil), s.orderItems...),
		nextBidID:  s.nextBidID,
		nextOrder:  s.nextOrder,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.auctions {
		c.auctions[k] = v
	}
	return c
}

// Store is an in-memory ledger.Store.
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	data     *state
	failures map[string]error
	txCount  int
}

var _ ledger.Store = (*Store)(nil)

// NewStore creates an empty store that stamps rows with clock.
func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock: clock,
		data: &state{
			users:     make(map[int64]user),
			auctions:  make(map[int64]models.Auction),
			nextBidID: 1,
			nextOrder: 1,
		},
		failures: make(map[string]error),
	}
}

// AddUser seeds a user with a balance.
func (s *Store) AddUser(id int64, name string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[id] = user{name: name, balance: balance}
}

// AddAuction seeds an auction. CurrentPrice defaults to StartingPrice.
func (s *Store) AddAuction(a models.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CurrentPrice.IsZero() {
		a.CurrentPrice = a.StartingPrice
	}
	if a.Quantity == 0 {
		a.Quantity = 1
	}
	s.data.auctions[a.ID] = a
}

// AddBid seeds a historical bid without touching balances or prices.
func (s *Store) AddBid(b models.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.data.nextBidID
	}
	if b.ID >= s.data.nextBidID {
		s.data.nextBidID = b.ID + 1
	}
	s.data.bids = append(s.data.bids, b)
}

// FailOn makes the next call of the named Tx method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// Balance returns the committed balance of a user.
func (s *Store) Balance(userID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.users[userID].balance
}

// Auction returns the committed auction row.
func (s *Store) Auction(id int64) models.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.auctions[id]
}

// Bids returns the committed bids of an auction in insertion order.
func (s *Store) Bids(auctionID int64) []models.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Bid
	for _, b := range s.data.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out
}

// Orders returns every committed order.
func (s *Store) Orders() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Order(nil), s.data.orders...)
}

// OrderItems returns every committed order item.
func (s *Store) OrderItems() []models.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderItem(nil), s.data.orderItems...)
}

// TxCount returns how many transactions were started.
func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	work := s.data.clone()
	if err := fn(&tx{store: s, data: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getAuction(s.data, auctionID)
}

func (s *Store) RecentBids(ctx context.Context, auctionID int64, limit int) ([]models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Bid
	for _, b := range s.data.bids {
		if b.AuctionID == auctionID {
			b.BidderName = s.data.users[b.BidderID].name
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].BidTime.Equal(out[j].BidTime) {
			return out[i].BidTime.After(out[j].BidTime)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LeadingBid(ctx context.Context, auctionID int64) (*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return leadingBid(s.data, auctionID), nil
}

func (s *Store) Bidders(ctx context.Context, auctionID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bidders(s.data, auctionID), nil
}

func (s *Store) CountBidders(ctx context.Context, auctionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(bidders(s.data, auctionID)), nil
}

func (s *Store) ActiveAuctions(ctx context.Context) ([]models.ActiveAuction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ActiveAuction
	for _, a := range s.data.auctions {
		if a.Status != models.AuctionStatusActive {
			continue
		}
		active := models.ActiveAuction{ID: a.ID, StartTime: a.StartTime}
		for _, b := range s.data.bids {
			if b.AuctionID != a.ID {
				continue
			}
			if active.LastBidAt == nil || b.BidTime.After(*active.LastBidAt) {
				t := b.BidTime
				active.LastBidAt = &t
			}
		}
		out = append(out, active)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ActivateScheduled(ctx context.Context, now time.Time) ([]models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Auction
	for id, a := range s.data.auctions {
		if a.Status == models.AuctionStatusScheduled && !a.StartTime.After(now) {
			a.Status = models.AuctionStatusActive
			s.data.auctions[id] = a
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type tx struct {
	store *Store
	data  *state
}

// fail is called with store.mu held by WithTx.
func (t *tx) fail(method string) error {
	if err, ok := t.store.failures[method]; ok {
		delete(t.store.failures, method)
		return err
	}
	return nil
}

func (t *tx) LockAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	if err := t.fail("LockAuction"); err != nil {
		return nil, err
	}
	return getAuction(t.data, auctionID)
}

func (t *tx) LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if err := t.fail("LockBalance"); err != nil {
		return decimal.Zero, err
	}
	return t.data.users[userID].balance, nil
}

func (t *tx) LeadingBid(ctx context.Context, auctionID int64) (*models.Bid, error) {
	if err := t.fail("LeadingBid"); err != nil {
		return nil, err
	}
	return leadingBid(t.data, auctionID), nil
}

func (t *tx) CountBids(ctx context.Context, auctionID int64) (int, error) {
	if err := t.fail("CountBids"); err != nil {
		return 0, err
	}
	n := 0
	for _, b := range t.data.bids {
		if b.AuctionID == auctionID {
			n++
		}
	}
	return n, nil
}

func (t *tx) CountBidders(ctx context.Context, auctionID int64) (int, error) {
	if err := t.fail("CountBidders"); err != nil {
		return 0, err
	}
	return len(bidders(t.data, auctionID)), nil
}

func (t *tx) InsertBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*models.Bid, error) {
	if err := t.fail("InsertBid"); err != nil {
		return nil, err
	}
	b := models.Bid{
		ID:        t.data.nextBidID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		BidTime:   t.store.clock.Now(),
	}
	t.data.nextBidID++
	t.data.bids = append(t.data.bids, b)
	return &b, nil
}

func (t *tx) UpdateCurrentPrice(ctx context.Context, auctionID int64, price decimal.Decimal) error {
	if err := t.fail("UpdateCurrentPrice"); err != nil {
		return err
	}
	a, ok := t.data.auctions[auctionID]
	if !ok {
		return auctionerr.ErrNotFound
	}
	a.CurrentPrice = price
	t.data.auctions[auctionID] = a
	return nil
}

func (t *tx) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	if err := t.fail("AdjustBalance"); err != nil {
		return err
	}
	u, ok := t.data.users[userID]
	if !ok {
		return fmt.Errorf("adjust balance of user %d: %w", userID, ledger.ErrUnknownUser)
	}
	u.balance = u.balance.Add(delta)
	t.data.users[userID] = u
	return nil
}

func (t *tx) MarkEnded(ctx context.Context, auctionID int64, winnerID *int64) (time.Time, error) {
	if err := t.fail("MarkEnded"); err != nil {
		return time.Time{}, err
	}
	a, ok := t.data.auctions[auctionID]
	if !ok || a.Status != models.AuctionStatusActive {
		return time.Time{}, fmt.Errorf("auction %d is not active: %w", auctionID, auctionerr.ErrInvalidAuctionState)
	}
	now := t.store.clock.Now()
	a.Status = models.AuctionStatusEnded
	a.EndTime = &now
	a.WinnerID = winnerID
	t.data.auctions[auctionID] = a
	return now, nil
}

func (t *tx) CreateOrder(ctx context.Context, order models.Order, item models.OrderItem) (int64, error) {
	if err := t.fail("CreateOrder"); err != nil {
		return 0, err
	}
	order.ID = t.data.nextOrder
	order.CreatedAt = t.store.clock.Now()
	t.data.nextOrder++
	item.OrderID = order.ID
	t.data.orders = append(t.data.orders, order)
	t.data.orderItems = append(t.data.orderItems, item)
	return order.ID, nil
}

func getAuction(data *state, id int64) (*models.Auction, error) {
	a, ok := data.auctions[id]
	if !ok {
		return nil, auctionerr.New(auctionerr.ErrNotFound, "Auction not found")
	}
	return &a, nil
}

func leadingBid(data *state, auctionID int64) *models.Bid {
	var lead *models.Bid
	for i := range data.bids {
		b := data.bids[i]
		if b.AuctionID != auctionID {
			continue
		}
		if lead == nil || b.Outranks(*lead) {
			lead = &b
		}
	}
	return lead
}

func bidders(data *state, auctionID int64) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, b := range data.bids {
		if b.AuctionID == auctionID && !seen[b.BidderID] {
			seen[b.BidderID] = true
			out = append(out, b.BidderID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
