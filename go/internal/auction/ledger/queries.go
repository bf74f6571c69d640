package ledger

const auctionColumns = `
	a.auction_id, a.product_id, a.starting_price, a.current_price, a.min_increment,
	a.quantity, a.status, a.start_time, a.end_time, a.winner_id,
	p.product_name, s.store_id, s.store_name, s.user_id`

const (
	sqlGetAuction = `
		SELECT` + auctionColumns + `
		FROM auctions a
		JOIN products p ON a.product_id = p.product_id
		JOIN stores s ON p.store_id = s.store_id
		WHERE a.auction_id = $1`

	sqlLockAuction = sqlGetAuction + `
		FOR UPDATE OF a`

	sqlRecentBids = `
		SELECT ab.bid_id, ab.auction_id, ab.bidder_id, u.name, ab.bid_amount, ab.bid_time
		FROM auction_bids ab
		JOIN users u ON ab.bidder_id = u.user_id
		WHERE ab.auction_id = $1
		ORDER BY ab.bid_time DESC, ab.bid_id DESC
		LIMIT $2`

	sqlLeadingBid = `
		SELECT bid_id, auction_id, bidder_id, bid_amount, bid_time
		FROM auction_bids
		WHERE auction_id = $1
		ORDER BY bid_amount DESC, bid_time ASC, bid_id ASC
		LIMIT 1`

	sqlBidders = `
		SELECT DISTINCT bidder_id
		FROM auction_bids
		WHERE auction_id = $1
		ORDER BY bidder_id`

	sqlCountBidders = `SELECT COUNT(DISTINCT bidder_id) FROM auction_bids WHERE auction_id = $1`

	sqlCountBids = `SELECT COUNT(*) FROM auction_bids WHERE auction_id = $1`

	sqlInsertBid = `
		INSERT INTO auction_bids (auction_id, bidder_id, bid_amount, bid_time)
		VALUES ($1, $2, $3, NOW())
		RETURNING bid_id, auction_id, bidder_id, bid_amount, bid_time`

	sqlUpdatePrice = `UPDATE auctions SET current_price = $1 WHERE auction_id = $2`

	sqlLockBalance = `SELECT balance FROM users WHERE user_id = $1 FOR UPDATE`

	sqlAdjustBalance = `UPDATE users SET balance = balance + $1 WHERE user_id = $2`

	sqlMarkEnded = `
		UPDATE auctions
		SET status = 'ended', end_time = NOW(), winner_id = $1
		WHERE auction_id = $2 AND status = 'active'
		RETURNING end_time`

	sqlCreateOrder = `
		INSERT INTO orders (buyer_id, store_id, total_price, shipping_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING order_id`

	sqlCreateOrderItem = `
		INSERT INTO order_items (order_id, product_id, quantity, price_at_order, subtotal)
		VALUES ($1, $2, $3, $4, $5)`

	sqlActiveAuctions = `
		SELECT a.auction_id, a.start_time,
		       (SELECT MAX(bid_time) FROM auction_bids WHERE auction_id = a.auction_id) AS last_bid_at
		FROM auctions a
		WHERE a.status = 'active'
		ORDER BY a.auction_id`

	sqlActivateScheduled = `
		WITH started AS (
			UPDATE auctions
			SET status = 'active'
			WHERE status = 'scheduled' AND start_time <= $1
			RETURNING *
		)
		SELECT` + auctionColumns + `
		FROM started a
		JOIN products p ON a.product_id = p.product_id
		JOIN stores s ON p.store_id = s.store_id
		ORDER BY a.auction_id`
)
