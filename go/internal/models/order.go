package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus defines the status of an order.
type OrderStatus string

const (
	OrderStatusApproved OrderStatus = "approved"
)

// AuctionShippingPlaceholder is stored until the winner fills in an address.
const AuctionShippingPlaceholder = "Auction Winner - TBD"

// Order is created by settlement for the winner of an auction.
type Order struct {
	ID              int64           `json:"order_id"`
	BuyerID         int64           `json:"buyer_id"`
	StoreID         int64           `json:"store_id"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	ShippingAddress string          `json:"shipping_address"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// OrderItem is the single line of an auction order.
type OrderItem struct {
	OrderID      int64           `json:"order_id"`
	ProductID    int64           `json:"product_id"`
	Quantity     int             `json:"quantity"`
	PriceAtOrder decimal.Decimal `json:"price_at_order"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}
