package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/bidhouse/go/internal/auction/auctionerr"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/sqlutil"
	"github.com/shopspring/decimal"
)

// DBTX is the query surface shared by a pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the Postgres implementation of Store.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository creates a ledger repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:    pool,
		queries: queries{db: pool},
	}
}

var _ Store = (*Repository)(nil)

// WithTx runs fn inside a database transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&txQueries{queries: queries{db: tx}})
	})
}

// ActiveAuctions lists every active auction with the time of its latest bid.
func (r *Repository) ActiveAuctions(ctx context.Context) ([]models.ActiveAuction, error) {
	rows, err := r.db.Query(ctx, sqlActiveAuctions)
	if err != nil {
		return nil, fmt.Errorf("failed to query active auctions: %w", err)
	}
	defer rows.Close()

	var out []models.ActiveAuction
	for rows.Next() {
		var (
			a       models.ActiveAuction
			lastBid pgtype.Timestamptz
		)
		if err := rows.Scan(&a.ID, &a.StartTime, &lastBid); err != nil {
			return nil, fmt.Errorf("failed to scan active auction: %w", err)
		}
		a.LastBidAt = sqlutil.FromNullTime(lastBid)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActivateScheduled promotes scheduled auctions whose start time has passed.
func (r *Repository) ActivateScheduled(ctx context.Context, now time.Time) ([]models.Auction, error) {
	rows, err := r.db.Query(ctx, sqlActivateScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to activate scheduled auctions: %w", err)
	}
	defer rows.Close()

	var out []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// queries holds the reads usable both inside and outside a transaction.
type queries struct {
	db DBTX
}

func (q queries) GetAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	a, err := scanAuction(q.db.QueryRow(ctx, sqlGetAuction, auctionID))
	if err != nil {
		return nil, fmt.Errorf("auction %d: %w", auctionID, err)
	}
	return a, nil
}

func (q queries) RecentBids(ctx context.Context, auctionID int64, limit int) ([]models.Bid, error) {
	rows, err := q.db.Query(ctx, sqlRecentBids, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var (
			b    models.Bid
			name pgtype.Text
		)
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &name, &b.Amount, &b.BidTime); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		b.BidderName = sqlutil.FromNullText(name, "")
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (q queries) LeadingBid(ctx context.Context, auctionID int64) (*models.Bid, error) {
	var b models.Bid
	err := q.db.QueryRow(ctx, sqlLeadingBid, auctionID).Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.BidTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leading bid: %w", err)
	}
	return &b, nil
}

func (q queries) Bidders(ctx context.Context, auctionID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, sqlBidders, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bidders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to collect bidders: %w", err)
	}
	return ids, nil
}

func (q queries) CountBidders(ctx context.Context, auctionID int64) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, sqlCountBidders, auctionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bidders: %w", err)
	}
	return n, nil
}

// txQueries adds the locking reads and writes only valid inside a transaction.
type txQueries struct {
	queries
}

func (q *txQueries) LockAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	a, err := scanAuction(q.db.QueryRow(ctx, sqlLockAuction, auctionID))
	if err != nil {
		return nil, fmt.Errorf("lock auction %d: %w", auctionID, err)
	}
	return a, nil
}

func (q *txQueries) LockBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.NullDecimal
	err := q.db.QueryRow(ctx, sqlLockBalance, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock balance: %w", err)
	}
	if !balance.Valid {
		return decimal.Zero, nil
	}
	return balance.Decimal, nil
}

func (q *txQueries) CountBids(ctx context.Context, auctionID int64) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, sqlCountBids, auctionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return n, nil
}

func (q *txQueries) InsertBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*models.Bid, error) {
	var b models.Bid
	err := q.db.QueryRow(ctx, sqlInsertBid, auctionID, bidderID, amount).
		Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.BidTime)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}
	return &b, nil
}

func (q *txQueries) UpdateCurrentPrice(ctx context.Context, auctionID int64, price decimal.Decimal) error {
	if _, err := q.db.Exec(ctx, sqlUpdatePrice, price, auctionID); err != nil {
		return fmt.Errorf("failed to update current price: %w", err)
	}
	return nil
}

func (q *txQueries) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, sqlAdjustBalance, delta, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust balance: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("adjust balance of user %d: %w", userID, ErrUnknownUser)
	}
	return nil
}

func (q *txQueries) MarkEnded(ctx context.Context, auctionID int64, winnerID *int64) (time.Time, error) {
	var endedAt time.Time
	err := q.db.QueryRow(ctx, sqlMarkEnded, sqlutil.ToNullInt8(winnerID), auctionID).Scan(&endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("auction %d is not active: %w", auctionID, auctionerr.ErrInvalidAuctionState)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to end auction: %w", err)
	}
	return endedAt, nil
}

func (q *txQueries) CreateOrder(ctx context.Context, order models.Order, item models.OrderItem) (int64, error) {
	var orderID int64
	err := q.db.QueryRow(ctx, sqlCreateOrder,
		order.BuyerID, order.StoreID, order.TotalPrice, order.ShippingAddress, string(order.Status),
	).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	_, err = q.db.Exec(ctx, sqlCreateOrderItem,
		orderID, item.ProductID, item.Quantity, item.PriceAtOrder, item.Subtotal,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create order item: %w", err)
	}
	return orderID, nil
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var (
		a       models.Auction
		status  string
		endTime pgtype.Timestamptz
		winner  pgtype.Int8
		store   pgtype.Text
	)
	err := row.Scan(
		&a.ID, &a.ProductID, &a.StartingPrice, &a.CurrentPrice, &a.MinIncrement,
		&a.Quantity, &status, &a.StartTime, &endTime, &winner,
		&a.ProductName, &a.StoreID, &store, &a.SellerID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auctionerr.New(auctionerr.ErrNotFound, "Auction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan auction: %w", err)
	}
	a.Status = models.AuctionStatus(status)
	a.EndTime = sqlutil.FromNullTime(endTime)
	a.WinnerID = sqlutil.FromNullInt8(winner)
	a.StoreName = sqlutil.FromNullText(store, "")
	return &a, nil
}
